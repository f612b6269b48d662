package stream

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"quill/internal/types"
)

// maxEventsPerRequest caps how much of one request's stream is retained for
// replay. A long-running complex request emits progress per stage group plus
// streamed partial results; 128 covers that with plenty of headroom.
const maxEventsPerRequest = 128

// EventHistory retains the recent event stream per request so a client that
// reconnects (or falls back to polling) can replay what it missed.
// Heartbeats are never recorded. Old requests age out LRU-style.
type EventHistory struct {
	mu    sync.Mutex
	cache *lru.Cache[string, []types.Envelope]
}

// NewEventHistory creates a history retaining events for up to maxRequests
// recent requests.
func NewEventHistory(maxRequests int) (*EventHistory, error) {
	if maxRequests <= 0 {
		maxRequests = 512
	}
	cache, err := lru.New[string, []types.Envelope](maxRequests)
	if err != nil {
		return nil, err
	}
	return &EventHistory{cache: cache}, nil
}

// Record appends one envelope to its request's history. Heartbeats and
// envelopes without a request id are ignored.
func (h *EventHistory) Record(env types.Envelope) {
	if env.Type == types.EventTypeHeartbeat || env.RequestID == "" {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	events, _ := h.cache.Get(env.RequestID)
	events = append(events, env)
	if len(events) > maxEventsPerRequest {
		events = events[len(events)-maxEventsPerRequest:]
	}
	h.cache.Add(env.RequestID, events)
}

// Replay returns the recorded stream for a request in emission order. The
// second return is false when the request is unknown or already evicted.
func (h *EventHistory) Replay(requestID string) ([]types.Envelope, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	events, ok := h.cache.Get(requestID)
	if !ok {
		return nil, false
	}
	out := make([]types.Envelope, len(events))
	copy(out, events)
	return out, true
}

// Forget drops a request's history, typically after the client acknowledges
// the final result.
func (h *EventHistory) Forget(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cache.Remove(requestID)
}

// Len returns the number of requests with retained history.
func (h *EventHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache.Len()
}
