// Package scheduler advances event statuses as a pure function of wall-clock
// time versus court session windows.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/shuttleday/platform/internal/metrics"
	"github.com/shuttleday/platform/internal/repository"
)

// Scheduler polls the events store and applies the time-driven transitions
// upcoming -> in_progress -> calculating. Terminal statuses are reached by
// settlement or admin action, never by the scheduler.
type Scheduler struct {
	db       repository.DBTX
	events   repository.EventRepository
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	// storeDown suppresses repeated outage logging; the outage is reported
	// once, recovery once.
	storeDown bool
}

// New creates a scheduler. Intervals under 15s are raised to the floor.
func New(db repository.DBTX, events repository.EventRepository, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval < 15*time.Second {
		interval = 15 * time.Second
	}
	return &Scheduler{
		db:       db,
		events:   events,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Run polls until ctx is done. Ticks are never queued: a poll that finds the
// store unreachable is simply skipped.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("lifecycle scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle scheduler stopped")
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs one bulk transition pass.
func (s *Scheduler) Poll(ctx context.Context) {
	started, calculating, err := s.events.AdvanceLifecycle(ctx, s.db, s.now().UTC())
	if err != nil {
		if !s.storeDown {
			s.storeDown = true
			s.logger.Error("events store unreachable, skipping ticks until it returns", "error", err)
		}
		return
	}
	if s.storeDown {
		s.storeDown = false
		s.logger.Info("events store reachable again")
	}

	if started > 0 {
		metrics.SchedulerTransition("in_progress", int(started))
		s.logger.Info("events started", "count", started)
	}
	if calculating > 0 {
		metrics.SchedulerTransition("calculating", int(calculating))
		s.logger.Info("events ready for settlement", "count", calculating)
	}
}
