package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Hub maintains the set of active clients and fans events out to them.
// Slow clients are dropped rather than allowed to stall the loop.
type Hub struct {
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	clients map[*Client]struct{}
}

// NewHub creates a Hub. Call Run before serving connections.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*Client]struct{}),
	}
}

// Run owns the client set until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}
			h.logger.Debug("websocket client connected", slog.Int("clients", len(h.clients)))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				h.logger.Debug("websocket client disconnected", slog.Int("clients", len(h.clients)))
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					delete(h.clients, client)
					close(client.send)
					h.logger.Warn("websocket client dropped: send buffer full")
				}
			}
		}
	}
}

// Publish queues a change event for fan-out. Never blocks; when the
// broadcast buffer is full the event is dropped.
func (h *Hub) Publish(action, entity string, id int64) {
	if h == nil {
		return
	}
	payload, err := json.Marshal(Event{
		Type:   "change",
		Action: action,
		Entity: entity,
		ID:     id,
		At:     time.Now().UTC(),
	})
	if err != nil {
		h.logger.Error("marshal broadcast event", slog.Any("error", err))
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		h.logger.Warn("broadcast buffer full, event dropped",
			slog.String("action", action),
			slog.String("entity", entity))
	}
}
