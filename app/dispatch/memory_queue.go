package dispatch

import (
	"context"
	"time"
)

// MemoryQueue is a buffered in-process queue, used when redis is disabled
type MemoryQueue struct {
	ch chan Task
}

// NewMemoryQueue creates a queue holding at most size tasks
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Task, size)}
}

// Enqueue never blocks; a full queue is an error
func (q *MemoryQueue) Enqueue(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case q.ch <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, nil
	case t := <-q.ch:
		return &t, nil
	}
}

// Len returns the number of waiting tasks
func (q *MemoryQueue) Len() int {
	return len(q.ch)
}
