// Package preview fans live configuration changes out to subscribers, such
// as browsers rendering the storefront preview over a websocket.
package preview

import (
	"log/slog"
	"sync"

	"github.com/tjfontaine/storefront-studio/internal/staging"
	"github.com/tjfontaine/storefront-studio/internal/storefront"
)

const defaultBuffer = 16

// KindSnapshot marks the first event on a new subscription: the state at the
// time of subscribing rather than a change.
const KindSnapshot staging.ChangeKind = "snapshot"

// Event is one preview update.
type Event struct {
	SessionID string                   `json:"session_id"`
	Kind      staging.ChangeKind       `json:"kind"`
	Live      storefront.Configuration `json:"live"`
	Pending   storefront.Configuration `json:"pending,omitempty"`
	Field     string                   `json:"field,omitempty"`
	Dropped   []string                 `json:"dropped,omitempty"`
}

// EventFromChange builds the event for a staging change.
func EventFromChange(sessionID string, c staging.Change) Event {
	return Event{
		SessionID: sessionID,
		Kind:      c.Kind,
		Live:      c.Live,
		Pending:   c.Pending,
		Field:     c.Field,
		Dropped:   c.Dropped,
	}
}

type subscriber struct {
	ch chan Event
}

// Hub delivers events to per-session subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
	logger *slog.Logger
}

// NewHub creates a hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: defaultBuffer,
		logger: logger,
	}
}

// Publish sends the change to every subscriber of sessionID. Its signature
// matches session.PreviewFunc.
func (h *Hub) Publish(sessionID string, c staging.Change) {
	evt := EventFromChange(sessionID, c)

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		select {
		case sub.ch <- evt:
		default:
			h.logger.Warn("preview subscriber lagging, event dropped",
				slog.String("session_id", sessionID),
				slog.String("kind", string(c.Kind)),
			)
		}
	}
}

// Subscribe registers a subscriber for sessionID. The returned cancel
// function unsubscribes and closes the channel; it is safe to call twice.
func (h *Hub) Subscribe(sessionID string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, h.buffer)}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][sub] = struct{}{}
	h.mu.Unlock()

	return sub.ch, func() { h.remove(sessionID, sub) }
}

// CloseSession closes every subscription of sessionID.
func (h *Hub) CloseSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[sessionID] {
		close(sub.ch)
	}
	delete(h.subs, sessionID)
}

// Subscribers returns the number of subscribers of sessionID.
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

func (h *Hub) remove(sessionID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[sessionID]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, sessionID)
	}
}
