// Package memory provides the in-process capture request queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/pagekeep/pagekeep/internal/archive"
)

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch      chan archive.CaptureRequest
	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan archive.CaptureRequest, capacity),
	}
}

// Enqueue pushes a request into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, request archive.CaptureRequest) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- request:
		return nil
	}
}

// Dequeue pops the next request, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (archive.CaptureRequest, error) {
	select {
	case <-ctx.Done():
		return archive.CaptureRequest{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case request, ok := <-q.ch:
		if !ok {
			return archive.CaptureRequest{}, archive.ErrQueueClosed
		}
		return request, nil
	}
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
