// Package memory provides the bounded in-process ID queue used by the dispatcher.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/tt2-roster/internal/crawler"
)

// ErrClosed is returned by Dequeue once the queue is closed and drained.
var ErrClosed = crawler.ErrQueueClosed

var _ crawler.Queue = (*Queue)(nil)

// Queue is a bounded in-memory queue of IDs with context-aware operations.
type Queue struct {
	ch      chan uint64
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{
		ch: make(chan uint64, capacity),
	}
}

// Enqueue pushes an ID into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, id uint64) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- id:
		return nil
	}
}

// Dequeue pops the next ID, respecting context cancellation. Items still
// buffered after Close are returned before ErrClosed.
func (q *Queue) Dequeue(ctx context.Context) (uint64, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case id, ok := <-q.ch:
		if !ok {
			return 0, ErrClosed
		}
		return id, nil
	}
}

// Len reports the number of buffered IDs.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel; it is safe to call more than once.
// Enqueue must not be called after Close.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
