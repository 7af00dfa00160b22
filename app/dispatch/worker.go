package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/services"
	"github.com/amirphl/whatsapp-broadcast/models"
	"github.com/amirphl/whatsapp-broadcast/repository"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	maxRetryInterval = 30 * time.Second
	// outcomeWriteTimeout bounds recording a send outcome after the run context is gone
	outcomeWriteTimeout = 5 * time.Second

	// ReasonInterrupted marks a recipient whose send was cut off before its outcome was known.
	// It is never sent again, since the provider may already have accepted the message.
	ReasonInterrupted = "interrupted: send outcome unknown"
)

// ErrLeaseLost is returned when another worker has taken over the batch being processed
var ErrLeaseLost = errors.New("batch lease lost")

// WorkerConfig tunes a BatchWorker
type WorkerConfig struct {
	LeaseTTL          time.Duration
	MaxSendAttempts   int
	RetryBaseInterval time.Duration
	// RatePerSecond throttles sends of one worker; zero disables throttling
	RatePerSecond float64
	Burst         int
}

// RunResult summarises one worker run
type RunResult struct {
	Batches   int
	Sent      int
	Failed    int
	Completed bool
}

// BatchWorker claims batches of one broadcast until none is left and sends to their recipients
type BatchWorker struct {
	broadcastRepo repository.BroadcastRepository
	batchRepo     repository.BroadcastBatchRepository
	recipientRepo repository.BroadcastContactRepository
	sender        services.MessagingProvider
	limiter       *rate.Limiter
	cfg           WorkerConfig
	logger        *log.Logger

	// sleep waits between send attempts; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBatchWorker creates a worker
func NewBatchWorker(
	broadcastRepo repository.BroadcastRepository,
	batchRepo repository.BroadcastBatchRepository,
	recipientRepo repository.BroadcastContactRepository,
	sender services.MessagingProvider,
	cfg WorkerConfig,
	logger *log.Logger,
) *BatchWorker {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = utils.BatchLeaseTTL
	}
	if cfg.MaxSendAttempts <= 0 {
		cfg.MaxSendAttempts = 1
	}
	if cfg.RetryBaseInterval <= 0 {
		cfg.RetryBaseInterval = time.Second
	}
	if logger == nil {
		logger = log.Default()
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	return &BatchWorker{
		broadcastRepo: broadcastRepo,
		batchRepo:     batchRepo,
		recipientRepo: recipientRepo,
		sender:        sender,
		limiter:       limiter,
		cfg:           cfg,
		logger:        logger,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run drains claimable batches of task.BroadcastID. When nothing is left to claim it checks
// whether the broadcast is complete. A batch abandoned on cancellation stays claimed and is
// picked up again once its lease expires; a recipient cut off mid-send is failed as interrupted.
func (w *BatchWorker) Run(ctx context.Context, task Task) (RunResult, error) {
	var res RunResult
	workerID := uuid.NewString()

	broadcast, err := w.broadcastRepo.ByID(ctx, task.BroadcastID)
	if err != nil {
		return res, fmt.Errorf("failed to load broadcast %d: %w", task.BroadcastID, err)
	}
	if broadcast == nil {
		w.logger.Printf("dispatch: broadcast id=%d not found, dropping task", task.BroadcastID)
		return res, nil
	}
	if !broadcast.Status.IsDispatching() {
		w.logger.Printf("dispatch: broadcast id=%d is %s, dropping task", broadcast.ID, broadcast.Status)
		return res, nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := w.batchRepo.ClaimNext(ctx, task.BroadcastID, workerID, w.cfg.LeaseTTL)
		if err != nil {
			return res, err
		}
		if batch == nil {
			break
		}
		batchesTotal.WithLabelValues("claimed").Inc()
		w.logger.Printf("dispatch: worker=%s claimed batch id=%s broadcast=%d size=%d", workerID, batch.ID, batch.BroadcastID, batch.ScheduledCount)

		sent, failed, err := w.processBatch(ctx, workerID, batch, task.Template)
		res.Sent += sent
		res.Failed += failed
		if errors.Is(err, ErrLeaseLost) {
			batchesTotal.WithLabelValues("lease_lost").Inc()
			w.logger.Printf("dispatch: worker=%s lost batch id=%s, moving on", workerID, batch.ID)
			continue
		}
		if err != nil {
			return res, err
		}

		ok, err := w.batchRepo.MarkCompleted(ctx, batch.ID, workerID)
		if err != nil {
			return res, fmt.Errorf("failed to complete batch %s: %w", batch.ID, err)
		}
		if !ok {
			batchesTotal.WithLabelValues("lease_lost").Inc()
			w.logger.Printf("dispatch: worker=%s finished batch id=%s after losing it", workerID, batch.ID)
			continue
		}
		batchesTotal.WithLabelValues("completed").Inc()
		res.Batches++
	}

	completed, err := CompleteIfDrained(ctx, w.broadcastRepo, w.recipientRepo, task.BroadcastID)
	if err != nil {
		return res, err
	}
	res.Completed = completed
	if completed {
		w.logger.Printf("dispatch: broadcast id=%d completed", task.BroadcastID)
	}
	return res, nil
}

// processBatch sends to the unresolved recipients of a batch owned by workerID. The lease is
// renewed before every send and each recipient is claimed first, so a worker that took the
// batch over never sends to a recipient this one is still handling.
func (w *BatchWorker) processBatch(ctx context.Context, workerID string, batch *models.BroadcastBatch, template services.TemplateRequest) (sent, failed int, err error) {
	recipients, err := w.recipientRepo.ListPendingByBatch(ctx, batch.ID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list recipients of batch %s: %w", batch.ID, err)
	}

	for _, rc := range recipients {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return sent, failed, err
			}
		}

		owned, err := w.batchRepo.RenewLease(ctx, batch.ID, workerID)
		if err != nil {
			return sent, failed, err
		}
		if !owned {
			return sent, failed, ErrLeaseLost
		}

		if rc.InFlight() {
			// taken by a worker that lost the batch mid-send
			stamped, err := w.recordFailure(ctx, rc, ReasonInterrupted, rc.SendAttempts)
			if err != nil {
				return sent, failed, err
			}
			if stamped {
				failed++
			}
			continue
		}

		claimed, err := w.recipientRepo.ClaimForSend(ctx, rc, workerID)
		if err != nil {
			return sent, failed, err
		}
		if !claimed {
			continue
		}

		to := strconv.FormatInt(rc.ContactID, 10)
		msgID, attempts, sendErr := w.send(ctx, to, template)
		if sendErr != nil && ctx.Err() != nil {
			if _, err := w.recordFailure(ctx, rc, ReasonInterrupted, attempts); err != nil {
				w.logger.Printf("dispatch: recording interrupted send to contact=%d broadcast=%d failed: %v", rc.ContactID, rc.BroadcastID, err)
			}
			return sent, failed, ctx.Err()
		}

		if sendErr == nil {
			wctx, cancel := outcomeContext(ctx)
			stamped, err := w.recipientRepo.MarkSent(wctx, rc, msgID, attempts, utils.UTCNow())
			cancel()
			if err != nil {
				return sent, failed, err
			}
			if stamped {
				sent++
				messagesTotal.WithLabelValues("sent").Inc()
			} else {
				w.logger.Printf("dispatch: contact=%d broadcast=%d sent as %s but already resolved", rc.ContactID, rc.BroadcastID, msgID)
			}
			continue
		}

		w.logger.Printf("dispatch: send to contact=%d broadcast=%d failed after %d attempt(s): %v", rc.ContactID, rc.BroadcastID, attempts, sendErr)
		stamped, err := w.recordFailure(ctx, rc, sendErr.Error(), attempts)
		if err != nil {
			return sent, failed, err
		}
		if stamped {
			failed++
		}
	}
	return sent, failed, nil
}

// recordFailure stamps the recipient as failed even when ctx is already cancelled
func (w *BatchWorker) recordFailure(ctx context.Context, rc *models.BroadcastContact, reason string, attempts int) (bool, error) {
	wctx, cancel := outcomeContext(ctx)
	defer cancel()
	stamped, err := w.recipientRepo.MarkFailed(wctx, rc, reason, attempts, utils.UTCNow())
	if err != nil {
		return false, err
	}
	if stamped {
		messagesTotal.WithLabelValues("failed").Inc()
	}
	return stamped, nil
}

func outcomeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
}

// send tries up to MaxSendAttempts times, backing off between temporary failures
func (w *BatchWorker) send(ctx context.Context, to string, template services.TemplateRequest) (string, int, error) {
	for attempt := 1; ; attempt++ {
		start := time.Now()
		id, err := w.sender.SendTemplateMessage(ctx, to, template)
		if err == nil {
			sendDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
			return id, attempt, nil
		}
		sendDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())

		if attempt >= w.cfg.MaxSendAttempts || !services.IsTemporaryProviderError(err) {
			return "", attempt, err
		}
		if serr := w.sleep(ctx, Backoff(w.cfg.RetryBaseInterval, attempt)); serr != nil {
			return "", attempt, errors.Join(err, serr)
		}
	}
}

// Backoff returns base * 2^(attempt-1), capped at 30s
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxRetryInterval {
			return maxRetryInterval
		}
	}
	return min(d, maxRetryInterval)
}

// CompleteIfDrained moves the broadcast to completed when none of its recipients is left
// without an outcome. It reports whether this call made the transition.
func CompleteIfDrained(ctx context.Context, broadcasts repository.BroadcastRepository, recipients repository.BroadcastContactRepository, broadcastID uint) (bool, error) {
	unresolved, err := recipients.CountUnresolved(ctx, broadcastID)
	if err != nil {
		return false, fmt.Errorf("failed to count unresolved recipients of broadcast %d: %w", broadcastID, err)
	}
	if unresolved > 0 {
		return false, nil
	}

	ok, err := broadcasts.TransitionStatus(ctx, broadcastID, models.CompletableBroadcastStatuses, models.BroadcastStatusCompleted,
		map[string]any{"completed_at": utils.UTCNow()})
	if err != nil {
		return false, fmt.Errorf("failed to complete broadcast %d: %w", broadcastID, err)
	}
	if ok {
		broadcastsCompletedTotal.Inc()
	}
	return ok, nil
}
