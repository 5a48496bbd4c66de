// Package scheduler runs the periodic content cache refresh.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// UpdateFunc performs one cache refresh.
type UpdateFunc func(ctx context.Context) error

// Scheduler triggers a refresh shortly after startup and then on a fixed
// interval until its context is cancelled.
type Scheduler struct {
	interval     time.Duration
	initialDelay time.Duration
	update       UpdateFunc
	log          *zap.Logger
}

// New constructs a scheduler; a non-positive interval defaults to 6 hours.
func New(interval time.Duration, update UpdateFunc, log *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Scheduler{
		interval:     interval,
		initialDelay: 10 * time.Second,
		update:       update,
		log:          log,
	}
}

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", zap.Duration("interval", s.interval))

	initial := time.NewTimer(s.initialDelay)
	defer initial.Stop()
	select {
	case <-ctx.Done():
		return
	case <-initial.C:
		s.runOnce(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.update(ctx); err != nil {
		s.log.Error("scheduled cache update failed", zap.Error(err))
	}
}
