// Package api provides the read-only dashboard HTTP surface and event
// websocket stream described in SPEC_FULL.md §9.
package api

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSMessage is a broadcast-only websocket event envelope.
type WSMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// client is one connected websocket reader.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans engine event-bus activity out to connected websocket clients,
// grounded on the teacher's register/unregister/broadcast channel hub.
type Hub struct {
	logger     *zap.Logger
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
}

// NewHub constructs a Hub. Call Run in a goroutine to start it.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:     logger.Named("api-hub"),
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives the hub's register/unregister/broadcast loop. It has no stop
// path and runs until process exit; Server.Stop shuts down the HTTP server
// but does not close connected websocket clients.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
		}
	}
}

// Publish broadcasts one typed event to every connected client.
func (h *Hub) Publish(eventType string, data interface{}) {
	payload, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("marshal event payload failed", zap.Error(err))
		return
	}
	msg := WSMessage{Type: eventType, Data: payload, Timestamp: time.Now().UnixMilli()}
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal websocket message failed", zap.Error(err))
		return
	}
	select {
	case h.broadcast <- raw:
	default:
		h.logger.Warn("broadcast channel full, dropping event", zap.String("type", eventType))
	}
}
