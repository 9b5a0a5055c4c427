// Package sweeper periodically cancels pending orders whose payment window
// has closed.
package sweeper

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	log      *zap.Logger

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
}

func NewScheduler(sweeper Sweeper, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval until Stop is
// called or ctx ends.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.log.Info("starting expiry sweeper", zap.Duration("interval", s.interval))
	go s.run(ctx)
}

// Stop waits for an in-flight sweep to finish. Calling it more than once, or
// on a scheduler that never started, is safe.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.log.Info("stopping expiry sweeper")
		close(s.stopCh)
	})
	if s.started.Load() {
		<-s.done
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.RunOnce(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			s.log.Info("expiry sweeper cancelled")
			return
		}
	}
}

// RunOnce sweeps once and logs the outcome. Failures are left for the next
// tick.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	n, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.log.Error("expiry sweep failed", zap.Error(err))
		return n
	}
	if n > 0 {
		s.log.Info("expired orders cancelled", zap.Int("count", n))
	}
	return n
}
