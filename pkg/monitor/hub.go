// Package monitor broadcasts live call events to operator dashboards
// using a channel-based fan-out hub.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-callbridge/internal/log"
)

// Event types published by sessions.
const (
	TypeLifecycle = "lifecycle"
	TypeUser      = "user"
	TypeBot       = "bot"
	TypeBargeIn   = "barge_in"
	TypeTool      = "tool"
	TypeError     = "error"
)

const (
	// historySize is how many recent events a new client is replayed.
	historySize = 200

	// clientBuffer is the per-client queue; a client that falls this far behind is dropped.
	clientBuffer = 256
)

// Event is one line of the live call feed.
type Event struct {
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu      sync.RWMutex
	history []Event
	count   int

	logger *slog.Logger
}

// New creates a Hub. Call Run before publishing.
func New() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		history:    make([]Event, 0, historySize),
		logger:     log.Component("monitor"),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				h.remove(client)
			}
			return

		case client := <-h.register:
			h.mu.RLock()
			replay := append([]Event(nil), h.history...)
			h.mu.RUnlock()

			h.clients[client] = true
			h.setCount()
			for _, ev := range replay {
				if !client.enqueue(ev) {
					break
				}
			}
			h.logger.Debug("monitor client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("monitor client disconnected", "clients", len(h.clients))

		case ev := <-h.broadcast:
			h.record(ev)
			for client := range h.clients {
				if !client.enqueue(ev) {
					h.remove(client)
					h.logger.Warn("dropped slow monitor client")
				}
			}
		}
	}
}

// Publish queues an event for every client. It never blocks; when the hub is
// saturated the event is dropped.
func (h *Hub) Publish(sessionID, typ, message string) {
	ev := Event{
		Time:      time.Now(),
		SessionID: sessionID,
		Type:      typ,
		Message:   message,
	}
	select {
	case h.broadcast <- ev:
	default:
		h.logger.Warn("monitor broadcast channel full, dropping event", "type", typ)
	}
}

// History returns the most recent events, oldest first.
func (h *Hub) History() []Event {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Event(nil), h.history...)
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// remove must only be called from Run.
func (h *Hub) remove(c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.setCount()
	}
}

func (h *Hub) setCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
}

func (h *Hub) record(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.history) == historySize {
		copy(h.history, h.history[1:])
		h.history = h.history[:historySize-1]
	}
	h.history = append(h.history, ev)
}

func encode(ev Event) []byte {
	data, _ := json.Marshal(ev)
	return data
}
