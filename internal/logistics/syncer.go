package logistics

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/circuitbreaker"
	"github.com/joao-fontenele/beadflow/internal/domain"
)

// Syncer serves an order's tracking history. Provider problems never reach
// the caller: the stored history is returned instead.
type Syncer struct {
	store    *Store
	provider Provider
	breaker  *circuitbreaker.CircuitBreaker
	throttle Throttle
	logger   *zap.Logger
}

type Option func(*Syncer)

// WithProvider enables refreshing from an external tracking provider.
func WithProvider(p Provider, breaker *circuitbreaker.CircuitBreaker) Option {
	return func(s *Syncer) {
		s.provider = p
		s.breaker = breaker
	}
}

func WithThrottle(t Throttle) Option {
	return func(s *Syncer) {
		s.throttle = t
	}
}

func NewSyncer(store *Store, logger *zap.Logger, opts ...Option) *Syncer {
	s := &Syncer{
		store:    store,
		throttle: NoopThrottle{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append records a system generated event such as a shipment or a delivery
// confirmation.
func (s *Syncer) Append(ctx context.Context, e domain.LogisticsEvent) error {
	if _, err := s.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append logistics event: %w", err)
	}
	return nil
}

func (s *Syncer) Sync(ctx context.Context, o *domain.Order) ([]domain.LogisticsEvent, error) {
	if s.provider != nil && o.Carrier != "" && o.TrackingNo != "" {
		if err := s.refresh(ctx, o); err != nil {
			s.logger.Warn("tracking refresh failed, serving stored events",
				zap.Error(err), zap.String("order_id", o.ID), zap.String("carrier", o.Carrier))
		}
	}
	return s.store.List(ctx, o.ID)
}

func (s *Syncer) refresh(ctx context.Context, o *domain.Order) error {
	allowed, err := s.throttle.Allow(ctx, o.ID)
	if err != nil {
		s.logger.Warn("tracking throttle unavailable", zap.Error(err), zap.String("order_id", o.ID))
		allowed = true
	}
	if !allowed {
		return nil
	}

	var fetched []TrackingEvent
	fetch := func(ctx context.Context) error {
		var err error
		fetched, err = s.provider.FetchTrackingEvents(ctx, o.Carrier, o.TrackingNo)
		return err
	}
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		if rerr := s.throttle.Release(ctx, o.ID); rerr != nil {
			s.logger.Warn("failed to release tracking throttle", zap.Error(rerr), zap.String("order_id", o.ID))
		}
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			s.logger.Debug("tracking provider breaker open", zap.String("order_id", o.ID))
			return nil
		}
		return err
	}

	added := 0
	seen := make(map[string]bool, len(fetched))
	for _, ev := range fetched {
		if ev.Time.IsZero() || strings.TrimSpace(ev.Title) == "" {
			continue
		}
		e := domain.LogisticsEvent{
			OrderID:   o.ID,
			Title:     strings.TrimSpace(ev.Title),
			Detail:    strings.TrimSpace(ev.Detail),
			Location:  strings.TrimSpace(ev.Location),
			EventTime: ev.Time.UTC(),
			Source:    domain.LogisticsSourceProvider,
		}
		if seen[e.DedupKey()] {
			continue
		}
		seen[e.DedupKey()] = true

		inserted, err := s.store.Append(ctx, e)
		if err != nil {
			return fmt.Errorf("store tracking event: %w", err)
		}
		if inserted {
			added++
		}
	}

	s.logger.Debug("tracking refreshed",
		zap.String("order_id", o.ID), zap.Int("fetched", len(fetched)), zap.Int("added", added))
	return nil
}
