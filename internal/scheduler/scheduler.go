// Package scheduler triggers collection runs on the daily schedule and the
// hourly catch-up window.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/refpulse/refpulse/internal/config"
	"github.com/refpulse/refpulse/internal/orchestrator"
)

// Runner is the single operation the scheduler drives.
type Runner interface {
	Run(ctx context.Context, force bool) error
}

// Scheduler fires the daily run at the configured hour and retries pending
// accounts once an hour inside the catch-up window. A trigger that lands
// while a run is active is dropped, and a trigger that finds nothing pending
// is a no-op inside the runner.
type Scheduler struct {
	logger *zap.Logger
	cfg    config.ScheduleConfig
	runner Runner
	now    func() time.Time
}

// New builds a scheduler around the runner.
func New(cfg config.ScheduleConfig, runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.Named("scheduler"),
		cfg:    cfg,
		runner: runner,
		now:    time.Now,
	}
}

// Start blocks until ctx is cancelled, running the daily and catch-up loops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Scheduler started",
		zap.Int("daily_hour", s.cfg.DailyHour),
		zap.Int("catchup_start_hour", s.cfg.CatchupStartHour),
		zap.Int("catchup_end_hour", s.cfg.CatchupEndHour))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.dailyLoop(ctx) })
	g.Go(func() error { return s.catchupLoop(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		s.logger.Info("Scheduler stopped")
		return nil
	}
	return err
}

// dailyLoop fires once per day at DailyHour local time.
func (s *Scheduler) dailyLoop(ctx context.Context) error {
	for {
		wait := untilNextHour(s.now(), s.cfg.DailyHour)
		s.logger.Info("Next daily run scheduled", zap.Duration("in", wait))
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		s.trigger(ctx, "daily")
	}
}

// catchupLoop fires at the top of every hour inside the catch-up window.
// Triggers outside the window, or with nothing pending, do nothing.
func (s *Scheduler) catchupLoop(ctx context.Context) error {
	for {
		wait := untilNextTopOfHour(s.now())
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		hour := s.now().Hour()
		if hour < s.cfg.CatchupStartHour || hour > s.cfg.CatchupEndHour {
			continue
		}
		if hour == s.cfg.DailyHour {
			// The daily loop owns this hour.
			continue
		}
		s.trigger(ctx, "catchup")
	}
}

func (s *Scheduler) trigger(ctx context.Context, kind string) {
	log := s.logger.With(zap.String("trigger", kind))
	log.Info("Triggering collection run")
	err := s.runner.Run(ctx, false)
	switch {
	case err == nil:
		log.Info("Collection run finished")
	case errors.Is(err, orchestrator.ErrRunInProgress):
		log.Warn("Trigger dropped, a run is already in progress")
	default:
		log.Error("Collection run failed", zap.Error(err))
	}
}

// untilNextHour returns the duration until hour o'clock, today if still
// ahead, otherwise tomorrow.
func untilNextHour(now time.Time, hour int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

// untilNextTopOfHour returns the duration until the next :00.
func untilNextTopOfHour(now time.Time) time.Duration {
	next := now.Truncate(time.Hour).Add(time.Hour)
	return next.Sub(now)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
