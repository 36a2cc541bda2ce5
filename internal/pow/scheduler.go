package pow

import (
	"context"
	"errors"
	"time"

	"github.com/getcanoe/canoe-sync/internal/log"
	"github.com/getcanoe/canoe-sync/internal/metrics"
	"github.com/getcanoe/canoe-sync/internal/wallet"
	"github.com/getcanoe/canoe-sync/pkg/types"
)

// DefaultInterval is the idle polling period of the scheduler.
const DefaultInterval = time.Second

// Scheduler feeds the wallet's work pool one hash at a time. The search
// runs outside the wallet writer; only the pick and the completion take it.
type Scheduler struct {
	handle   *wallet.Handle
	solver   Solver
	interval time.Duration
	wake     chan struct{}
}

// NewScheduler creates a scheduler for the wallet behind handle.
func NewScheduler(handle *wallet.Handle, solver Solver, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		handle:   handle,
		solver:   solver,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Wake makes the scheduler check the pool now instead of at the next tick.
func (s *Scheduler) Wake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run processes the pool until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
	}
}

// drain solves hashes back to back while the pool has work to do.
func (s *Scheduler) drain(ctx context.Context) {
	for ctx.Err() == nil {
		done, err := s.Step(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Work.Warn().Err(err).Msg("Work generation failed, retrying later")
			}
			return
		}
		if !done {
			return
		}
	}
}

// Step solves the next needed hash, if any. It reports whether a result
// was delivered to the wallet.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	var hash types.Hash
	var ok bool
	err := s.handle.Do(ctx, func(w *wallet.Wallet) error {
		hash, ok = w.NextNeededWork()
		return nil
	})
	if errors.Is(err, wallet.ErrNoWallet) {
		return false, nil
	}
	if err != nil || !ok {
		return false, err
	}

	log.Work.Debug().Str("hash", hash.String()).Str("solver", s.solver.Name()).Msg("Generating work")
	work, err := s.solver.Solve(ctx, hash)
	metrics.WorkResult(s.solver.Name(), err)
	if err != nil {
		return false, err
	}
	log.Work.Info().Str("hash", hash.String()).Str("work", work.String()).Msg("Work found")

	err = s.handle.Do(ctx, func(w *wallet.Wallet) error {
		return w.CompleteWork(hash, work)
	})
	if errors.Is(err, wallet.ErrNoWallet) {
		return false, nil
	}
	if err != nil {
		// The block vanished while solving; move on to the next one.
		log.Work.Warn().Err(err).Str("hash", hash.String()).Msg("Discarded work result")
		return true, nil
	}
	return true, nil
}
