// Package websocket fans metrics and events out to connected viewers.
package websocket

import (
	"errors"
	"sync"
	"time"

	"somnoalert/internal/logger"
	"somnoalert/internal/services/stats"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// ErrHubClosed is returned by Register after Close.
var ErrHubClosed = errors.New("websocket: hub closed")

// Subscriber is one viewer. Send must not block indefinitely.
type Subscriber interface {
	ID() string
	Send(msg []byte) error
	Close() error
}

// HubService keeps the subscriber set. Broadcast delivers each message to
// every subscriber in turn and drops those whose send fails.
type HubService struct {
	clients map[string]Subscriber
	mutex   sync.RWMutex
	closed  bool
	logger  *logger.Logger
	metrics *stats.Metrics
}

func NewHubService(logger *logger.Logger, metrics *stats.Metrics) *HubService {
	return &HubService{
		clients: make(map[string]Subscriber),
		logger:  logger,
		metrics: metrics,
	}
}

func (h *HubService) Register(client Subscriber) error {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		return ErrHubClosed
	}
	h.clients[client.ID()] = client
	total := len(h.clients)
	h.mutex.Unlock()

	h.setCount(total)
	h.logger.Info("Client %s connected. Total: %d", client.ID(), total)
	return nil
}

// Unregister removes and closes the subscriber. Unknown ids are ignored.
func (h *HubService) Unregister(client Subscriber) {
	if h.remove(client.ID()) {
		h.logger.Info("Client %s disconnected. Total: %d", client.ID(), h.Count())
	}
}

func (h *HubService) remove(id string) bool {
	h.mutex.Lock()
	client, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	total := len(h.clients)
	h.mutex.Unlock()

	if ok {
		client.Close()
		h.setCount(total)
	}
	return ok
}

// Broadcast sends message to a snapshot of the current subscribers and
// returns how many received it. Failing subscribers are removed. It never
// returns an error.
func (h *HubService) Broadcast(message []byte) int {
	h.mutex.RLock()
	snapshot := make([]Subscriber, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mutex.RUnlock()

	delivered := 0
	for _, client := range snapshot {
		if err := client.Send(message); err != nil {
			h.logger.Warning("Error sending message to %s: %v", client.ID(), err)
			if h.remove(client.ID()) && h.metrics != nil {
				h.metrics.IncrementDropped()
			}
			continue
		}
		delivered++
	}
	return delivered
}

func (h *HubService) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Close disconnects everyone and rejects later registrations.
func (h *HubService) Close() {
	h.mutex.Lock()
	clients := h.clients
	h.clients = make(map[string]Subscriber)
	h.closed = true
	h.mutex.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.setCount(0)
}

func (h *HubService) setCount(n int) {
	if h.metrics != nil {
		h.metrics.SetSubscribers(n)
	}
}

// ConnSubscriber adapts a gorilla connection to Subscriber.
type ConnSubscriber struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// NewConnSubscriber wraps conn. Every send gets writeTimeout as deadline.
func NewConnSubscriber(conn *websocket.Conn, writeTimeout time.Duration) *ConnSubscriber {
	return &ConnSubscriber{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: writeTimeout,
	}
}

func (c *ConnSubscriber) ID() string { return c.id }

func (c *ConnSubscriber) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Ping writes a ping control frame.
func (c *ConnSubscriber) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeTimeout))
}

func (c *ConnSubscriber) Close() error {
	return c.conn.Close()
}
