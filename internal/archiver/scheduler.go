package archiver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const syncInterval = 24 * time.Hour

// SecondsUntil returns the non-negative duration until the wall clock next
// reaches target, expressed as an offset since midnight UTC. If the offset
// has already passed today the wait wraps to tomorrow's occurrence.
func SecondsUntil(target time.Duration, now time.Time) time.Duration {
	now = now.UTC()
	current := time.Duration(now.Hour())*time.Hour +
		time.Duration(now.Minute())*time.Minute +
		time.Duration(now.Second())*time.Second

	if current > target {
		return target + 24*time.Hour - current
	}
	return target - current
}

// Scheduler runs the sync engine once a day at a fixed time of day.
type Scheduler struct {
	engine *Engine
	log    logrus.FieldLogger

	// At is the offset since midnight UTC of the daily run.
	At time.Duration
}

// NewScheduler creates a scheduler firing daily at the given offset since
// midnight UTC.
func NewScheduler(engine *Engine, at time.Duration, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		engine: engine,
		log:    logger.WithField("component", "sync_scheduler"),
		At:     at,
	}
}

// Start blocks until ctx is cancelled. The first pass runs at the next
// occurrence of the configured time of day, then every 24 hours. A failed
// pass is logged and retried on the next cycle.
func (s *Scheduler) Start(ctx context.Context) {
	wait := SecondsUntil(s.At, time.Now())
	s.log.WithField("wait", wait.String()).Info("Waiting for first scheduled sync")

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	s.runOnce(ctx)

	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, _, err := s.engine.Run(ctx); err != nil {
		s.log.WithError(err).Error("Sync pass failed")
	}
}
