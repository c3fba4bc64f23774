package backup

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"mysql-backup-sentinel/internal/logging"
)

// JobFunc is one scheduled unit of work
type JobFunc func(ctx context.Context) error

// Scheduler runs the recurring pipeline jobs on cron expressions. Each job
// is guarded against overlapping runs: when an invocation fires while the
// previous one is still going, the new invocation is skipped and logged,
// never queued.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger
	ctx    context.Context
}

// NewScheduler creates a scheduler whose jobs run under the given base
// context. The base context must outlive shutdown signals so an in-flight
// job can finish; Stop is how the scheduler winds down.
func NewScheduler(ctx context.Context, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
		ctx:    ctx,
	}
}

// Register adds a job under the given cron expression
func (s *Scheduler) Register(name, spec string, job JobFunc) error {
	var running atomic.Bool

	_, err := s.cron.AddFunc(spec, func() {
		if !running.CompareAndSwap(false, true) {
			s.logger.WithFields(map[string]interface{}{
				"job": name,
			}).Warn("Previous run still in progress, skipping this invocation")
			return
		}
		defer running.Store(false)

		start := time.Now()
		s.logger.WithFields(map[string]interface{}{
			"job": name,
		}).Info("Scheduled job started")

		if err := job(s.ctx); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"job":      name,
				"duration": time.Since(start).String(),
				"error":    err.Error(),
			}).Error("Scheduled job failed")
			return
		}

		s.logger.WithFields(map[string]interface{}{
			"job":      name,
			"duration": time.Since(start).String(),
		}).Info("Scheduled job finished")
	})
	if err != nil {
		return NewConfigurationError("invalid cron expression for job "+name, err).
			WithContext("spec", spec)
	}

	return nil
}

// Start begins firing jobs
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.WithFields(map[string]interface{}{
		"jobs": len(s.cron.Entries()),
	}).Info("Scheduler started")
}

// Stop halts new invocations and waits for in-flight jobs to finish, up to
// the deadline on ctx
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with jobs still running")
		return ctx.Err()
	}
}
