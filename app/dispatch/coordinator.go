package dispatch

import (
	"context"
	"log"

	"github.com/amirphl/whatsapp-broadcast/app/services"
	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
)

// Coordinator starts workers for a partitioned broadcast. It only enqueues tasks and
// returns; the sends happen on whichever consumer picks the tasks up.
type Coordinator struct {
	queue    Queue
	parallel int
	logger   *log.Logger
}

// NewCoordinator creates a coordinator starting at most parallel workers per broadcast
func NewCoordinator(queue Queue, parallel int, logger *log.Logger) *Coordinator {
	if parallel <= 0 {
		parallel = utils.ParallelBatchCount
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{queue: queue, parallel: parallel, logger: logger}
}

// Dispatch enqueues min(parallel, len(batchIDs)) tasks and returns how many were enqueued.
// A failed enqueue is logged and counted; the remaining tasks are still attempted.
func (c *Coordinator) Dispatch(ctx context.Context, broadcast *models.Broadcast, template services.TemplateRequest, batchIDs []uuid.UUID) int {
	workerCount := min(c.parallel, len(batchIDs))
	started := 0
	for i := 0; i < workerCount; i++ {
		task := Task{
			BroadcastID: broadcast.ID,
			Template:    template,
			EnqueuedAt:  utils.UTCNow(),
		}
		if err := c.queue.Enqueue(ctx, task); err != nil {
			tasksTotal.WithLabelValues("enqueue_failed").Inc()
			c.logger.Printf("dispatch: enqueue worker %d/%d for broadcast id=%d failed: %v", i+1, workerCount, broadcast.ID, err)
			continue
		}
		tasksTotal.WithLabelValues("enqueued").Inc()
		started++
	}
	c.logger.Printf("dispatch: broadcast id=%d batches=%d workers=%d", broadcast.ID, len(batchIDs), started)
	return started
}
