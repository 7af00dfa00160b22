// Package dispatch hands broadcast batches to workers and drives the per-recipient sends
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/services"
)

// ErrQueueFull is returned by a bounded queue that cannot take another task
var ErrQueueFull = errors.New("dispatch queue is full")

// Task asks one worker to drain claimable batches of a broadcast.
// Several identical tasks for the same broadcast are expected; batch claims keep them apart.
type Task struct {
	BroadcastID uint                     `json:"broadcast_id"`
	Template    services.TemplateRequest `json:"template"`
	EnqueuedAt  time.Time                `json:"enqueued_at"`
}

// Queue carries tasks from the coordinator to consumers
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	// Dequeue waits up to timeout for a task. It returns nil, nil when none arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Task, error)
}
