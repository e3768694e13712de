package services

import (
	"context"
	"errors"
	"fmt"
	"time"
	"waas-dispatch-service/internal/domain"
	"waas-dispatch-service/internal/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSweepInterval    = time.Hour
	DefaultSweepConcurrency = 4
)

type SweepResult struct {
	Scheduled  int `json:"scheduled"`
	Dispatched int `json:"dispatched"`
	// Skipped is set when another sweep held the lock.
	Skipped bool `json:"skipped"`
}

// SweepScheduler periodically schedules mature groups and dispatches them.
type SweepScheduler struct {
	grouping    *GroupingEngine
	dispatcher  *DispatchCoordinator
	lock        ports.SweepLock
	interval    time.Duration
	concurrency int
	log         zerolog.Logger

	running *atomic.Bool
}

// NewSweepScheduler wires the scheduler. lock may be nil for a single instance.
func NewSweepScheduler(
	grouping *GroupingEngine,
	dispatcher *DispatchCoordinator,
	lock ports.SweepLock,
	interval time.Duration,
	concurrency int,
	log zerolog.Logger,
) *SweepScheduler {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultSweepConcurrency
	}
	return &SweepScheduler{
		grouping:    grouping,
		dispatcher:  dispatcher,
		lock:        lock,
		interval:    interval,
		concurrency: concurrency,
		log:         log,
		running:     atomic.NewBool(false),
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (s *SweepScheduler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info().Dur("interval", s.interval).Msg("maturity sweep scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("maturity sweep scheduler stopped")
			return
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error().Err(err).Msg("maturity sweep failed")
			}
		}
	}
}

// RunOnce performs a single sweep. Overlapping local runs and runs while
// another process holds the sweep lock are skipped.
func (s *SweepScheduler) RunOnce(ctx context.Context) (SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("sweep already running, skipping")
		return SweepResult{Skipped: true}, nil
	}
	defer s.running.Store(false)

	if s.lock != nil {
		release, ok, err := s.lock.Acquire(ctx)
		if err != nil {
			return SweepResult{}, fmt.Errorf("sweep: acquire lock: %w", err)
		}
		if !ok {
			s.log.Debug().Msg("sweep lock held elsewhere, skipping")
			return SweepResult{Skipped: true}, nil
		}
		defer release()
	}

	scheduled, err := s.grouping.Sweep(ctx)
	if err != nil {
		// Groups scheduled before the failure still get dispatched.
		s.log.Error().Err(err).Int("scheduled", len(scheduled)).Msg("sweep stopped early")
	}

	dispatched := s.dispatchAll(ctx, scheduled)

	res := SweepResult{Scheduled: len(scheduled), Dispatched: dispatched}
	s.log.Info().Int("scheduled", res.Scheduled).Int("dispatched", res.Dispatched).Msg("sweep finished")
	return res, err
}

func (s *SweepScheduler) dispatchAll(ctx context.Context, groups []uuid.UUID) int {
	dispatched := atomic.NewInt64(0)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, id := range groups {
		g.Go(func() error {
			_, err := s.dispatcher.Dispatch(gctx, id)
			switch {
			case err == nil:
				dispatched.Inc()
			case errors.Is(err, domain.ErrConflict):
				s.log.Debug().Str("group_id", id.String()).Msg("group already dispatched")
			case errors.Is(err, domain.ErrNoWorkerAvailable):
				s.log.Warn().Str("group_id", id.String()).Msg("no worker available, group left scheduled")
			default:
				s.log.Error().Err(err).Str("group_id", id.String()).Msg("dispatch failed")
			}
			// One failed group must not cancel the others.
			return nil
		})
	}
	_ = g.Wait()

	return int(dispatched.Load())
}
