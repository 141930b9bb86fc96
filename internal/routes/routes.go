package routes

import (
	"fmt"
	"net/http"

	"somnoalert/internal/config"
	"somnoalert/internal/handlers"
	"somnoalert/internal/logger"
	"somnoalert/internal/middleware"
	"somnoalert/internal/services"
)

func bannerHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "somnoalert drowsiness backend: metrics and events on /ws, configuration on /config")
}

// SetupRoutes registers the HTTP endpoints and wraps the mux with the
// authentication middleware. saver may be nil when storage is disabled.
func SetupRoutes(manager *services.Manager, cfg *config.Config, saver handlers.ConfigSaver, log *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("/ws", handlers.ViewWebsocketHandler(manager.GetWebsocketService(), log))
	mux.HandleFunc("/config", handlers.ConfigHandler(manager.GetStore(), saver, log))
	mux.HandleFunc("/api/health", handlers.HealthHandler(manager.GetMetrics(), log))

	// Log endpoints
	for level, file := range map[string]string{
		"info":    logger.InfoFile,
		"warning": logger.WarningFile,
		"error":   logger.ErrorFile,
	} {
		mux.HandleFunc("/logs/"+level, handlers.ShowLogsHandler(log, file))
		mux.HandleFunc("/logs/"+level+"/clear", handlers.ClearLogsHandler(log, file))
	}

	// Auth endpoints
	mux.HandleFunc("/auth/login", handlers.LoginHandler(cfg, log))
	mux.HandleFunc("/auth/logout", handlers.LogoutHandler)

	mux.HandleFunc("/", bannerHandler)

	return middleware.AuthMiddleware(cfg.Password, mux)
}
