package orchestrator

import (
	"context"
	"sync"
)

// fragmentQueue sits between a run and its StreamPayload. push never
// blocks, so the persist outcome does not wait on the stream reader.
type fragmentQueue struct {
	mu     sync.Mutex
	items  []Fragment
	closed bool
	ready  chan struct{}
}

func newFragmentQueue() *fragmentQueue {
	return &fragmentQueue{ready: make(chan struct{}, 1)}
}

func (q *fragmentQueue) push(f Fragment) {
	q.mu.Lock()
	q.items = append(q.items, f)
	q.mu.Unlock()
	q.wake()
}

func (q *fragmentQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *fragmentQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// relay forwards fragments to out in push order. out is closed once the
// queue is closed and drained, or as soon as ctx is done.
func (q *fragmentQueue) relay(ctx context.Context, out chan<- Fragment) {
	defer close(out)
	for {
		q.mu.Lock()
		batch, closed := q.items, q.closed
		q.items = nil
		q.mu.Unlock()

		for _, f := range batch {
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return
		}
	}
}
