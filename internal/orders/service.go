package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/joao-fontenele/beadflow/internal/config"
	"github.com/joao-fontenele/beadflow/internal/domain"
	"github.com/joao-fontenele/beadflow/internal/pricing"
)

var tracer = otel.Tracer("github.com/joao-fontenele/beadflow/internal/orders")

type OrderStore interface {
	Insert(ctx context.Context, o *domain.Order) error
	// Get resolves ref as an order id or order number. lock takes a row lock
	// for the rest of the transaction.
	Get(ctx context.Context, ref string, lock bool) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
	// FindDuplicate returns nil when no pending, unexpired order with the
	// fingerprint was created at or after since.
	FindDuplicate(ctx context.Context, userID, fingerprint string, since, now time.Time) (*domain.Order, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
	InsertRiskEvent(ctx context.Context, e domain.RiskEvent) error
}

type AddressBook interface {
	ResolveAddress(ctx context.Context, userID, addressID string) (string, error)
}

type Inventory interface {
	Reserve(ctx context.Context, orderID, userID string, quantities map[string]int, expiresAt time.Time) error
	Release(ctx context.Context, orderID string, terminal domain.ReservationStatus) error
	Consume(ctx context.Context, orderID string) error
	TakeAddOns(ctx context.Context, quantities map[string]int) error
	ReturnAddOns(ctx context.Context, quantities map[string]int) error
}

type PointLedger interface {
	Account(ctx context.Context, userID string, lock bool) (domain.PointAccount, error)
	Freeze(ctx context.Context, userID, orderID string, n int64) error
	Unfreeze(ctx context.Context, userID, orderID string, n int64) error
	Redeem(ctx context.Context, userID, orderID string, n int64) error
	Earn(ctx context.Context, userID, orderID string, n int64, amount decimal.Decimal) error
	Commission(ctx context.Context, referrerID, orderID string, n int64, amount decimal.Decimal) error
	AddSpend(ctx context.Context, userID string, amount decimal.Decimal) error
}

type CouponLedger interface {
	Find(ctx context.Context, couponID, userID string) (domain.UserCoupon, error)
	Lock(ctx context.Context, couponID, userID, orderID string) error
	Unlock(ctx context.Context, orderID string) error
	MarkUsed(ctx context.Context, orderID string) error
}

type Logistics interface {
	Append(ctx context.Context, e domain.LogisticsEvent) error
	Sync(ctx context.Context, o *domain.Order) ([]domain.LogisticsEvent, error)
}

type ParamsProvider interface {
	Current(ctx context.Context) (domain.BusinessParams, error)
}

type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type Deps struct {
	Orders      OrderStore
	Addresses   AddressBook
	Inventory   Inventory
	Points      PointLedger
	Coupons     CouponLedger
	Catalog     pricing.Catalog
	Logistics   Logistics
	Params      ParamsProvider
	Notifier    Notifier
	UnitOfWork  UnitOfWork
	Config      config.OrdersConfig
	SweepBatch  int
	Clock       func() time.Time
	IDGenerator func() string
	Logger      *zap.Logger
}

// Service owns the order state machine. Every transition runs in one
// transaction and re-reads the order status under a row lock.
type Service struct {
	orders    OrderStore
	addresses AddressBook
	inventory Inventory
	points    PointLedger
	coupons   CouponLedger
	resolver  *pricing.Resolver
	logistics Logistics
	params    ParamsProvider
	notifier  Notifier
	uow       UnitOfWork
	cfg       config.OrdersConfig
	batch     int
	clock     func() time.Time
	newID     func() string
	logger    *zap.Logger

	sweeps  singleflight.Group
	metrics serviceMetrics
}

type serviceMetrics struct {
	created     metric.Int64Counter
	duplicates  metric.Int64Counter
	rateLimited metric.Int64Counter
	settled     metric.Int64Counter
	cancelled   metric.Int64Counter
	expired     metric.Int64Counter
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Orders == nil:
		return nil, errors.New("orders: order store is required")
	case deps.Addresses == nil:
		return nil, errors.New("orders: address book is required")
	case deps.Inventory == nil:
		return nil, errors.New("orders: inventory is required")
	case deps.Points == nil:
		return nil, errors.New("orders: point ledger is required")
	case deps.Coupons == nil:
		return nil, errors.New("orders: coupon ledger is required")
	case deps.Catalog == nil:
		return nil, errors.New("orders: catalog is required")
	case deps.Logistics == nil:
		return nil, errors.New("orders: logistics is required")
	case deps.Params == nil:
		return nil, errors.New("orders: params provider is required")
	case deps.UnitOfWork == nil:
		return nil, errors.New("orders: unit of work is required")
	}

	cfg := deps.Config
	if cfg.PaymentWindow <= 0 {
		cfg.PaymentWindow = 30 * time.Minute
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 30 * time.Second
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 60 * time.Second
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 5
	}

	batch := deps.SweepBatch
	if batch <= 0 {
		batch = 100
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	m, err := newServiceMetrics()
	if err != nil {
		return nil, err
	}

	return &Service{
		orders:    deps.Orders,
		addresses: deps.Addresses,
		inventory: deps.Inventory,
		points:    deps.Points,
		coupons:   deps.Coupons,
		resolver:  pricing.NewResolver(deps.Catalog),
		logistics: deps.Logistics,
		params:    deps.Params,
		notifier:  notifier,
		uow:       deps.UnitOfWork,
		cfg:       cfg,
		batch:     batch,
		clock:     func() time.Time { return clock().UTC() },
		newID:     idGen,
		logger:    logger,
		metrics:   m,
	}, nil
}

func newServiceMetrics() (serviceMetrics, error) {
	meter := otel.Meter("github.com/joao-fontenele/beadflow/internal/orders")

	var m serviceMetrics
	var err error
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.created, "orders.created", "Orders created"},
		{&m.duplicates, "orders.duplicates", "Checkout retries answered with an existing order"},
		{&m.rateLimited, "orders.rate_limited", "Checkouts rejected by the per-user rate limit"},
		{&m.settled, "orders.settled", "Orders settled after payment"},
		{&m.cancelled, "orders.cancelled", "Orders cancelled by users"},
		{&m.expired, "orders.expired", "Orders expired by the sweeper"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return serviceMetrics{}, fmt.Errorf("create counter %s: %w", c.name, err)
		}
	}
	return m, nil
}

// Get returns the user's order by id or order number.
func (s *Service) Get(ctx context.Context, userID, ref string) (*domain.Order, error) {
	o, err := s.orders.Get(ctx, ref, false)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, ref)
	}
	return o, nil
}

// Tracking returns the logistics events of the user's order, refreshed from
// the provider when possible.
func (s *Service) Tracking(ctx context.Context, userID, ref string) ([]domain.LogisticsEvent, error) {
	o, err := s.Get(ctx, userID, ref)
	if err != nil {
		return nil, err
	}
	return s.logistics.Sync(ctx, o)
}

func (s *Service) notify(ctx context.Context, o *domain.Order, typ domain.NotificationType) {
	title, content := notificationText(o, typ)
	n := domain.Notification{
		ID:        s.newID(),
		Type:      typ,
		UserID:    o.UserID,
		OrderID:   o.ID,
		OrderNo:   o.Number,
		Title:     title,
		Content:   content,
		Timestamp: s.clock(),
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Warn("failed to send notification",
			zap.Error(err), zap.String("order_id", o.ID), zap.String("type", string(typ)))
	}
}

func notificationText(o *domain.Order, typ domain.NotificationType) (string, string) {
	switch typ {
	case domain.NotificationOrderCreated:
		return "Order placed", fmt.Sprintf("Order %s was placed. Please pay %s before %s.",
			o.Number, o.PayAmount.StringFixed(2), o.ExpiresAt.Format(time.RFC3339))
	case domain.NotificationOrderPaid:
		return "Payment received", fmt.Sprintf("Order %s is paid and queued for production.", o.Number)
	case domain.NotificationOrderCancelled:
		return "Order cancelled", fmt.Sprintf("Order %s was cancelled.", o.Number)
	case domain.NotificationOrderExpired:
		return "Order closed", fmt.Sprintf("Order %s was closed because payment was not received in time.", o.Number)
	case domain.NotificationOrderShipped:
		return "Order shipped", fmt.Sprintf("Order %s was shipped via %s, tracking number %s.", o.Number, o.Carrier, o.TrackingNo)
	case domain.NotificationOrderCompleted:
		return "Order completed", fmt.Sprintf("Order %s was signed for. Thank you!", o.Number)
	default:
		return string(typ), o.Number
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Notification) error { return nil }

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
