package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/dukerupert/huddle/internal/model"
)

// Message is one lifecycle change pushed to feed subscribers.
type Message struct {
	Type         string       `json:"type"`
	EventID      string       `json:"event_id"`
	Sport        model.Sport  `json:"sport"`
	Status       model.Status `json:"status"`
	Participants int          `json:"participants"`
	Capacity     int          `json:"capacity"`
	StartTime    time.Time    `json:"start_time"`
	Reason       string       `json:"reason,omitempty"`
}

// EventMessage builds a feed message of type "event_<action>" from e.
func EventMessage(action string, e *model.Event) Message {
	return Message{
		Type:         "event_" + action,
		EventID:      e.ID,
		Sport:        e.Sport,
		Status:       e.Status,
		Participants: len(e.Participants),
		Capacity:     e.Capacity,
		StartTime:    e.StartTime,
	}
}

// Hub maintains the set of active feed clients and broadcasts messages.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	logger  *slog.Logger
}

// NewHub creates a Hub with no clients.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		logger:  logger,
	}
}

func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a client from the hub and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

// Broadcast sends msg to every client whose sport filter matches.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for c := range h.clients {
		if !c.wants(msg) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// slow client; drop rather than block the engine
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug("feed messages dropped", "type", msg.Type, "event_id", msg.EventID, "clients", dropped)
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
