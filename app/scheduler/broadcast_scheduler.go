// Package scheduler runs the periodic broadcast sweep and scheduled message jobs
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/amirphl/whatsapp-broadcast/app/dto"
	"github.com/amirphl/whatsapp-broadcast/config"
	"github.com/amirphl/whatsapp-broadcast/utils"
	"github.com/robfig/cron/v3"
)

const (
	JobSweepBroadcasts = "sweep_broadcasts"
	JobScheduledSends  = "scheduled_messages"
)

// BroadcastSweeper promotes due scheduled broadcasts
type BroadcastSweeper interface {
	SweepScheduledBroadcasts(ctx context.Context) (*dto.SweepResult, error)
}

// MessageProcessor sends due scheduled messages
type MessageProcessor interface {
	ProcessDueScheduledMessages(ctx context.Context) (*dto.ProcessScheduledMessagesResult, error)
}

// BroadcastScheduler triggers the sweep and scheduled message jobs on their cron specs.
// A job still running when its next tick fires is skipped for that tick.
type BroadcastScheduler struct {
	sweeper   BroadcastSweeper
	processor MessageProcessor
	cfg       config.SchedulerConfig
	logger    *log.Logger
	cron      *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

// NewBroadcastScheduler validates the cron specs and registers both jobs.
// A nil logger writes to stdout.
func NewBroadcastScheduler(
	sweeper BroadcastSweeper,
	processor MessageProcessor,
	cfg config.SchedulerConfig,
	logger *log.Logger,
) (*BroadcastScheduler, error) {
	if logger == nil {
		logger = NewLogger(os.Stdout)
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronLogger := cron.PrintfLogger(logger)

	s := &BroadcastScheduler{
		sweeper:   sweeper,
		processor: processor,
		cfg:       cfg,
		logger:    logger,
		ctx:       context.Background(),
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}

	if _, err := s.cron.AddFunc(cfg.SweepCron, func() { s.RunSweep(s.baseContext()) }); err != nil {
		return nil, fmt.Errorf("invalid sweep cron %q: %w", cfg.SweepCron, err)
	}
	if _, err := s.cron.AddFunc(cfg.MessagesCron, func() { s.RunScheduledMessages(s.baseContext()) }); err != nil {
		return nil, fmt.Errorf("invalid scheduled messages cron %q: %w", cfg.MessagesCron, err)
	}

	return s, nil
}

// NewLogger builds the scheduler's logger on top of w
func NewLogger(w io.Writer) *log.Logger {
	return log.New(w, "scheduler ", log.LstdFlags|log.Lmicroseconds|log.LUTC)
}

// Start runs the cron loop in the background and returns a stop function that
// cancels in-flight jobs and waits for them to return.
func (s *BroadcastScheduler) Start(parent context.Context) func() {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Printf("scheduler: started (sweep=%q, messages=%q)", s.cfg.SweepCron, s.cfg.MessagesCron)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-s.cron.Stop().Done()
			s.logger.Printf("scheduler: stopped")
		})
	}
}

func (s *BroadcastScheduler) baseContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// RunSweep performs one sweep of due scheduled broadcasts
func (s *BroadcastScheduler) RunSweep(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	start := utils.UTCNow()
	res, err := s.sweeper.SweepScheduledBroadcasts(ctx)
	s.finish(JobSweepBroadcasts, start, err)
	if err != nil {
		s.logger.Printf("scheduler: sweep failed: %v", err)
		return
	}

	s.count(JobSweepBroadcasts, map[string]int{
		"succeeded": res.Succeeded,
		"failed":    res.Failed,
		"skipped":   res.Skipped,
		"resumed":   res.Resumed,
		"completed": res.Completed,
	})
	if res.Processed > 0 || res.Resumed > 0 || res.Completed > 0 {
		s.logger.Printf("scheduler: sweep processed=%d succeeded=%d failed=%d skipped=%d resumed=%d completed=%d",
			res.Processed, res.Succeeded, res.Failed, res.Skipped, res.Resumed, res.Completed)
	}
}

// RunScheduledMessages sends the scheduled messages that are due
func (s *BroadcastScheduler) RunScheduledMessages(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	start := utils.UTCNow()
	res, err := s.processor.ProcessDueScheduledMessages(ctx)
	s.finish(JobScheduledSends, start, err)
	if err != nil {
		s.logger.Printf("scheduler: scheduled messages failed: %v", err)
		return
	}

	s.count(JobScheduledSends, map[string]int{
		"sent":      res.Sent,
		"failed":    res.Failed,
		"retried":   res.Retried,
		"skipped":   res.Skipped,
		"recovered": res.Recovered,
		"errors":    res.Errors,
	})
	if res.Processed > 0 || res.Recovered > 0 || res.Errors > 0 {
		s.logger.Printf("scheduler: scheduled messages processed=%d sent=%d failed=%d retried=%d skipped=%d recovered=%d errors=%d",
			res.Processed, res.Sent, res.Failed, res.Retried, res.Skipped, res.Recovered, res.Errors)
	}
}

func (s *BroadcastScheduler) finish(job string, start time.Time, err error) {
	jobDuration.WithLabelValues(job).Observe(time.Since(start).Seconds())
	if err != nil {
		jobRunsTotal.WithLabelValues(job, "error").Inc()
		return
	}
	jobRunsTotal.WithLabelValues(job, "ok").Inc()
	jobLastSuccess.WithLabelValues(job).Set(float64(utils.UTCNow().Unix()))
}

func (s *BroadcastScheduler) count(job string, outcomes map[string]int) {
	for outcome, n := range outcomes {
		if n > 0 {
			jobItemsTotal.WithLabelValues(job, outcome).Add(float64(n))
		}
	}
}
