package progress

import (
	"errors"
	"sync"

	"thirdeye-service/internal/domain/violation"
)

var (
	ErrHubFull           = errors.New("live subscriber limit reached")
	ErrAlreadySubscribed = errors.New("run already has a live subscriber")
)

const (
	DefaultMaxSubscribers = 256
	DefaultBuffer         = 16
)

// Hub is a bounded table of live subscribers keyed by run id. A run has at
// most one subscriber; sends never block.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]chan violation.ProgressEvent
	max    int
	buffer int
}

func NewHub(maxSubscribers, buffer int) *Hub {
	if maxSubscribers <= 0 {
		maxSubscribers = DefaultMaxSubscribers
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		subs:   make(map[string]chan violation.ProgressEvent),
		max:    maxSubscribers,
		buffer: buffer,
	}
}

// Subscribe registers the live channel for runID. The returned function
// unregisters it and is safe to call more than once.
func (h *Hub) Subscribe(runID string) (<-chan violation.ProgressEvent, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs[runID]; ok {
		return nil, nil, ErrAlreadySubscribed
	}
	if len(h.subs) >= h.max {
		return nil, nil, ErrHubFull
	}
	ch := make(chan violation.ProgressEvent, h.buffer)
	h.subs[runID] = ch
	return ch, func() { h.remove(runID, ch) }, nil
}

// Send delivers ev if a subscriber is attached and has room. It reports
// whether the event was delivered.
func (h *Hub) Send(runID string, ev violation.ProgressEvent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.subs[runID]
	if !ok {
		return false
	}
	select {
	case ch <- ev:
		return true
	default:
		return false
	}
}

// Close unregisters the subscriber of runID and closes its channel.
func (h *Hub) Close(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[runID]; ok {
		delete(h.subs, runID)
		close(ch)
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(runID string, ch chan violation.ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.subs[runID]; ok && cur == ch {
		delete(h.subs, runID)
		close(ch)
	}
}
