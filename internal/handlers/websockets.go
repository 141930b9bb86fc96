package handlers

import (
	"net/http"
	"time"

	"somnoalert/internal/logger"
	hub "somnoalert/internal/services/websocket"

	"github.com/gorilla/websocket"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 50 * time.Second
	writeTimeout = 2 * time.Second
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ViewWebsocketHandler subscribes a viewer to the metrics and event stream.
// Anything the viewer sends is ignored; the read loop only keeps the
// connection alive and notices when it closes.
func ViewWebsocketHandler(h *hub.HubService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)
		connection.SetReadDeadline(time.Now().Add(pongWait))
		connection.SetPongHandler(func(appData string) error {
			connection.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		client := hub.NewConnSubscriber(connection, writeTimeout)
		if err := h.Register(client); err != nil {
			logger.Warning("Viewer rejected: %v", err)
			client.Close()
			return
		}
		defer h.Unregister(client)

		done := make(chan struct{})
		defer close(done)
		go keepAlive(client, done)

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warning("Viewer %s disconnected: %v", client.ID(), err)
				}
				return
			}
		}
	}
}

func keepAlive(client *hub.ConnSubscriber, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := client.Ping(); err != nil {
				return
			}
		}
	}
}
