package main

import (
	"log"

	"somnoalert/internal/app"
)

func main() {
	application, err := app.NewApp()
	if err != nil {
		log.Fatalf("Failed to configure server: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("Server stopped with error: %v", err)
	}
}
