package service

import (
	"context"
	"sync"
)

// PeakQueue is the unbounded in-memory FIFO of position ids that set a new
// peak. Push never blocks. Contents are lost on restart.
type PeakQueue struct {
	mu     sync.Mutex
	items  []string
	signal chan struct{}
}

// NewPeakQueue creates an empty queue.
func NewPeakQueue() *PeakQueue {
	return &PeakQueue{signal: make(chan struct{}, 1)}
}

// Push appends id.
func (q *PeakQueue) Push(id string) {
	q.mu.Lock()
	q.items = append(q.items, id)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Pop blocks until an id is available or ctx is done.
func (q *PeakQueue) Pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			id := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return id, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.signal:
		}
	}
}

// Len returns the number of queued ids.
func (q *PeakQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
