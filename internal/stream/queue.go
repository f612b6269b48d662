package stream

import (
	"context"
	"sync"

	"quill/internal/types"
)

// outQueue is the bounded outgoing message queue. Under pressure it drops
// the oldest queued heartbeat; progress, status, and error messages are
// never dropped, so the queue may exceed its soft bound when no heartbeat is
// available to evict.
type outQueue struct {
	mu     sync.Mutex
	items  []types.Envelope
	max    int
	notify chan struct{}
}

func newOutQueue(max int) *outQueue {
	if max <= 0 {
		max = 256
	}
	return &outQueue{
		max:    max,
		notify: make(chan struct{}, 1),
	}
}

// Push enqueues a message and returns the type of any message dropped to
// make room ("" when nothing was dropped).
func (q *outQueue) Push(env types.Envelope) (dropped string) {
	q.mu.Lock()
	if len(q.items) >= q.max {
		for i, item := range q.items {
			if item.Type == types.EventTypeHeartbeat {
				q.items = append(q.items[:i], q.items[i+1:]...)
				dropped = types.EventTypeHeartbeat
				break
			}
		}
	}
	q.items = append(q.items, env)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// PushFront requeues a message at the head, used when a write fails after
// dequeue so the message is not lost across a reconnect.
func (q *outQueue) PushFront(env types.Envelope) {
	q.mu.Lock()
	q.items = append([]types.Envelope{env}, q.items...)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop blocks until a message is available or ctx is done.
func (q *outQueue) Pop(ctx context.Context) (types.Envelope, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			env := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return env, true
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return types.Envelope{}, false
		case <-q.notify:
		}
	}
}

// Len returns the number of queued messages.
func (q *outQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
