package orders

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sweepConcurrency = 4

// SweepExpired expires every unpaid order past its deadline. Concurrent
// callers share one in-flight sweep, which ignores the cancellation of
// whichever caller started it. A failure on one order is logged and does not
// stop the others.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	v, err, _ := s.sweeps.Do("sweep", func() (any, error) {
		return s.sweep(context.WithoutCancel(ctx))
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// sweep drains the backlog batch by batch. It stops at a short batch or when a
// batch expires nothing, so orders that keep failing are left for the next run.
func (s *Service) sweep(ctx context.Context) (n int, err error) {
	ctx, span := startSpan(ctx, "orders.SweepExpired")
	defer func() { endSpan(span, err) }()

	for {
		candidates, expired, err := s.sweepBatch(ctx)
		if err != nil {
			return n, err
		}
		n += expired
		if candidates < s.batch || expired == 0 {
			break
		}
	}
	if n > 0 {
		s.logger.Info("expiry sweep finished", zap.Int("expired", n))
	}
	return n, nil
}

func (s *Service) sweepBatch(ctx context.Context) (candidates, expired int, err error) {
	ids, err := s.orders.ListExpired(ctx, s.clock(), s.batch)
	if err != nil {
		return 0, 0, fmt.Errorf("list expired orders: %w", err)
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}

	var count atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			ok, err := s.Expire(gctx, id)
			if err != nil {
				s.logger.Error("failed to expire order", zap.Error(err), zap.String("order_id", id))
				return nil
			}
			if ok {
				count.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(ids), int(count.Load()), nil
}
