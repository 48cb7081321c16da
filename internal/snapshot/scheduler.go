package snapshot

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	defaultInterval      = 4 * time.Hour
	defaultSkewAllowance = time.Hour
)

var errMissingRetention = errors.New("retention policy is required")

const (
	opSchedulerNew = "snapshot.scheduler.new"
	opSchedulerRun = "snapshot.scheduler.run"
)

// SchedulerConfig describes the dependencies and timing of the scheduler.
type SchedulerConfig struct {
	Manager   *Manager
	Retention *Retention
	Clock     func() time.Time
	Logger    *zap.Logger

	// Interval is the fixed time between snapshots. Defaults to four hours.
	Interval time.Duration
	// SkewAllowance is subtracted from the measured elapsed time when
	// deciding whether a snapshot is overdue at startup. It absorbs clock
	// and timezone drift between the store and the scheduling clock.
	// Defaults to one hour.
	SkewAllowance time.Duration
	// KeepCount bounds retained snapshots after each firing.
	KeepCount int
}

// Scheduler drives periodic snapshots for the process lifetime. At startup it
// measures the time since the last snapshot and catches up immediately when
// overdue; afterwards it fires at a fixed interval, running creation and
// retention sequentially so firings never overlap.
type Scheduler struct {
	manager   *Manager
	retention *Retention
	clock     func() time.Time
	logger    *zap.Logger
	interval  time.Duration
	skew      time.Duration
	keepCount int
}

// NewScheduler constructs the snapshot scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Manager == nil {
		return nil, newServiceError(opSchedulerNew, "missing_manager", errMissingManager)
	}
	if cfg.Retention == nil {
		return nil, newServiceError(opSchedulerNew, "missing_retention", errMissingRetention)
	}
	if cfg.KeepCount <= 0 {
		return nil, newServiceError(opSchedulerNew, "invalid_keep_count", errors.New("keep count must be positive"))
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	skew := cfg.SkewAllowance
	if skew < 0 {
		skew = defaultSkewAllowance
	}

	return &Scheduler{
		manager:   cfg.Manager,
		retention: cfg.Retention,
		clock:     clock,
		logger:    logger,
		interval:  interval,
		skew:      skew,
		keepCount: cfg.KeepCount,
	}, nil
}

// Run blocks until the context ends. A firing that fails is logged and the
// timer keeps running; the next scheduled firing still occurs.
func (s *Scheduler) Run(ctx context.Context) error {
	delay := s.startupDelay(ctx)
	s.logger.Info("snapshot scheduler armed",
		zap.Duration("first_firing_in", delay),
		zap.Duration("interval", s.interval))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			s.fire(ctx)
			timer.Reset(s.interval)
		}
	}
}

// startupDelay computes how long to wait before the first firing. Errors
// reading the last snapshot fall back to firing immediately.
func (s *Scheduler) startupDelay(ctx context.Context) time.Duration {
	latest, err := s.manager.Latest(ctx)
	if err != nil {
		s.logger.Error("scheduler could not read last snapshot, firing immediately",
			zap.String("operation", opSchedulerRun),
			zap.Error(err))
		return 0
	}

	var lastCreatedAt *time.Time
	if latest != nil {
		createdAt := latest.CreatedAt
		lastCreatedAt = &createdAt
	}
	return initialDelay(lastCreatedAt, s.clock().UTC(), s.interval, s.skew)
}

// initialDelay implements the catch-up rule: no prior snapshot fires
// immediately; otherwise the skew allowance is subtracted from the elapsed
// time and the snapshot is overdue once the remainder reaches the interval.
func initialDelay(lastCreatedAt *time.Time, now time.Time, interval, skew time.Duration) time.Duration {
	if lastCreatedAt == nil {
		return 0
	}
	elapsed := now.Sub(lastCreatedAt.UTC()) - skew
	if elapsed >= interval {
		return 0
	}
	return interval - elapsed
}

func (s *Scheduler) fire(ctx context.Context) {
	created, err := s.manager.Create(ctx)
	switch {
	case err != nil:
		s.logger.Error("scheduled snapshot failed",
			zap.String("operation", opSchedulerRun),
			zap.Error(err))
	case created == nil:
		s.logger.Debug("scheduled snapshot skipped, no activity")
	default:
		s.logger.Info("scheduled snapshot complete",
			zap.Int64("snapshot_id", created.ID),
			zap.Int("record_count", created.RecordCount))
	}

	if _, err := s.retention.Prune(ctx, s.keepCount); err != nil {
		s.logger.Error("scheduled prune failed",
			zap.String("operation", opSchedulerRun),
			zap.Error(err))
	}
}
