package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/loghawk/loghawk/internal/config"
	"github.com/loghawk/loghawk/internal/storage"
)

// Scheduler recovers interrupted analysis runs. It performs a startup sweep
// of everything in ANALYZING and then periodically sweeps for uploads whose
// last update is older than the stall threshold. Each hit is handed to the
// injected resume callback fire-and-forget; individual failures are logged
// and never abort a sweep.
type Scheduler struct {
	store  *storage.Store
	resume func(uploadID string) error
	cfg    config.SchedulerConfig
	logger *zap.Logger

	stop chan struct{}
	done chan struct{}
}

// NewScheduler builds a scheduler around the resume callback.
func NewScheduler(store *storage.Store, resume func(uploadID string) error, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 5 * time.Minute
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 15 * time.Minute
	}
	return &Scheduler{
		store:  store,
		resume: resume,
		cfg:    cfg,
		logger: logger.Named("scheduler"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start runs the startup sweep synchronously, then launches the periodic
// stall sweep until Stop is called or the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.startupSweep()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.stallSweep()
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the periodic sweep and waits for it to exit.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// startupSweep resumes every upload the previous process left mid-analysis.
func (s *Scheduler) startupSweep() {
	uploads, err := s.store.ListAnalyzing()
	if err != nil {
		s.logger.Error("startup sweep query failed", zap.Error(err))
		return
	}
	if len(uploads) > 0 {
		s.logger.Info("resuming interrupted analyses", zap.Int("count", len(uploads)))
	}
	for _, u := range uploads {
		if err := s.resume(u.ID); err != nil {
			s.logger.Warn("resume failed",
				zap.String("upload_id", u.ID), zap.Error(err))
		}
	}
}

// stallSweep resumes uploads stuck in ANALYZING past the stall threshold.
func (s *Scheduler) stallSweep() {
	uploads, err := s.store.ListStalled(s.cfg.StallThreshold)
	if err != nil {
		s.logger.Error("stall sweep query failed", zap.Error(err))
		return
	}
	for _, u := range uploads {
		s.logger.Info("resuming stalled analysis",
			zap.String("upload_id", u.ID),
			zap.Time("last_update", u.UpdatedAt))
		if err := s.resume(u.ID); err != nil {
			s.logger.Warn("resume failed",
				zap.String("upload_id", u.ID), zap.Error(err))
		}
	}
}
