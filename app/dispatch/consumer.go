package dispatch

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Consumer runs a fixed number of goroutines that pull tasks off the queue and hand them to a
// BatchWorker. Any number of replicas may consume the same queue.
type Consumer struct {
	queue          Queue
	worker         *BatchWorker
	concurrency    int
	dequeueTimeout time.Duration
	taskTimeout    time.Duration
	logger         *log.Logger
}

// NewConsumer creates a consumer
func NewConsumer(queue Queue, worker *BatchWorker, concurrency int, dequeueTimeout, taskTimeout time.Duration, logger *log.Logger) *Consumer {
	if concurrency <= 0 {
		concurrency = 1
	}
	if dequeueTimeout <= 0 {
		dequeueTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Consumer{
		queue:          queue,
		worker:         worker,
		concurrency:    concurrency,
		dequeueTimeout: dequeueTimeout,
		taskTimeout:    taskTimeout,
		logger:         logger,
	}
}

// Start launches the consumer goroutines and returns a stop function that waits for them.
// A task in flight at stop time is abandoned; its claimed batch is re-claimed after the lease.
func (c *Consumer) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	var wg sync.WaitGroup

	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			c.loop(ctx, idx)
		}(i)
	}
	c.logger.Printf("dispatch: consumer started with %d goroutine(s)", c.concurrency)

	return func() {
		cancel()
		wg.Wait()
		c.logger.Printf("dispatch: consumer stopped")
	}
}

func (c *Consumer) loop(ctx context.Context, idx int) {
	for {
		if ctx.Err() != nil {
			return
		}

		task, err := c.queue.Dequeue(ctx, c.dequeueTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			tasksTotal.WithLabelValues("dequeue_failed").Inc()
			c.logger.Printf("dispatch: consumer %d dequeue failed: %v", idx, err)
			// back off on queue errors
			if sleepContext(ctx, time.Second) != nil {
				return
			}
			continue
		}
		if task == nil {
			continue
		}
		tasksTotal.WithLabelValues("dequeued").Inc()
		c.handle(ctx, idx, *task)
	}
}

func (c *Consumer) handle(ctx context.Context, idx int, task Task) {
	busyWorkers.Inc()
	defer busyWorkers.Dec()

	runCtx := ctx
	if c.taskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.taskTimeout)
		defer cancel()
	}

	res, err := c.worker.Run(runCtx, task)
	if err != nil {
		c.logger.Printf("dispatch: consumer %d broadcast id=%d stopped after batches=%d sent=%d failed=%d: %v",
			idx, task.BroadcastID, res.Batches, res.Sent, res.Failed, err)
		return
	}
	c.logger.Printf("dispatch: consumer %d broadcast id=%d done batches=%d sent=%d failed=%d completed=%t",
		idx, task.BroadcastID, res.Batches, res.Sent, res.Failed, res.Completed)
}
