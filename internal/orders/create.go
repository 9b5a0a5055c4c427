package orders

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/domain"
	"github.com/joao-fontenele/beadflow/internal/pricing"
)

const maxRemarksRunes = 200

var remarksPolicy = bluemonday.StrictPolicy()

type CreateCommand struct {
	UserID        string
	Designs       []pricing.DesignSelection
	AddOns        []pricing.AddOnSelection
	AddressID     string
	CouponID      string
	Points        int64
	Remarks       string
	ExpectedTotal decimal.Decimal
}

type CreateResult struct {
	Order *domain.Order
	// Duplicate is set when a recent identical checkout was returned instead
	// of creating a new order.
	Duplicate bool
}

func (c CreateCommand) validate() error {
	switch {
	case c.UserID == "":
		return fmt.Errorf("%w: user is required", domain.ErrInvalidInput)
	case c.AddressID == "":
		return fmt.Errorf("%w: address is required", domain.ErrInvalidInput)
	case len(c.Designs) == 0 && len(c.AddOns) == 0:
		return fmt.Errorf("%w: order has no items", domain.ErrInvalidInput)
	case c.Points < 0:
		return fmt.Errorf("%w: points must not be negative", domain.ErrInvalidInput)
	}
	for _, a := range c.AddOns {
		if a.Quantity <= 0 {
			return fmt.Errorf("%w: add-on %s quantity must be positive", domain.ErrInvalidInput, a.ID)
		}
	}
	return nil
}

// Create prices and persists a checkout, reserving bead stock, add-on stock,
// the coupon and redeemed points in one transaction.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (res CreateResult, err error) {
	ctx, span := startSpan(ctx, "orders.Create")
	defer func() { endSpan(span, err) }()

	if err := cmd.validate(); err != nil {
		return CreateResult{}, err
	}

	if _, err := s.SweepExpired(ctx); err != nil {
		s.logger.Warn("lazy expiry sweep failed", zap.Error(err))
	}

	params, err := s.params.Current(ctx)
	if err != nil {
		return CreateResult{}, fmt.Errorf("load business params: %w", err)
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.create(ctx, cmd, params)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrTooFrequent) {
			s.recordRateLimit(ctx, cmd.UserID, err)
		}
		return CreateResult{}, err
	}

	attrs := metric.WithAttributes(attribute.String("rule_version", params.RuleVersion))
	if res.Duplicate {
		s.metrics.duplicates.Add(ctx, 1, attrs)
		s.logger.Info("duplicate checkout returned existing order",
			zap.String("order_id", res.Order.ID), zap.String("user_id", cmd.UserID))
		return res, nil
	}

	s.metrics.created.Add(ctx, 1, attrs)
	s.logger.Info("order created",
		zap.String("order_id", res.Order.ID),
		zap.String("order_no", res.Order.Number),
		zap.String("user_id", res.Order.UserID),
		zap.String("pay_amount", res.Order.PayAmount.StringFixed(2)))
	s.notify(ctx, res.Order, domain.NotificationOrderCreated)
	return res, nil
}

func (s *Service) create(ctx context.Context, cmd CreateCommand, params domain.BusinessParams) (CreateResult, error) {
	now := s.clock()

	account, err := s.points.Account(ctx, cmd.UserID, true)
	if err != nil {
		return CreateResult{}, err
	}

	address, err := s.addresses.ResolveAddress(ctx, cmd.UserID, cmd.AddressID)
	if err != nil {
		return CreateResult{}, err
	}

	designs, err := s.resolver.ResolveDesigns(ctx, cmd.Designs)
	if err != nil {
		return CreateResult{}, err
	}
	addOns, err := s.resolver.ResolveAddOns(ctx, cmd.AddOns)
	if err != nil {
		return CreateResult{}, err
	}

	// Duplicates match on the request, before coupon and points holds apply.
	base, err := pricing.Calculate(pricing.Input{Designs: designs, AddOns: addOns, Params: params})
	if err != nil {
		return CreateResult{}, err
	}
	remarks := sanitizeRemarks(cmd.Remarks)
	fp, err := fingerprint(checkoutKey{
		UserID:   cmd.UserID,
		Items:    base.Items,
		Total:    base.TotalAmount.StringFixed(2),
		Address:  address,
		Remarks:  remarks,
		CouponID: cmd.CouponID,
		Points:   cmd.Points,
	})
	if err != nil {
		return CreateResult{}, err
	}

	dup, err := s.orders.FindDuplicate(ctx, cmd.UserID, fp, now.Add(-s.cfg.DuplicateWindow), now)
	if err != nil {
		return CreateResult{}, fmt.Errorf("find duplicate order: %w", err)
	}
	if dup != nil {
		return CreateResult{Order: dup, Duplicate: true}, nil
	}

	recent, err := s.orders.CountCreatedSince(ctx, cmd.UserID, now.Add(-s.cfg.RateLimitWindow))
	if err != nil {
		return CreateResult{}, fmt.Errorf("count recent orders: %w", err)
	}
	if recent >= s.cfg.RateLimitMax {
		return CreateResult{}, fmt.Errorf("%w: %d orders in the last %s", domain.ErrTooFrequent, recent, s.cfg.RateLimitWindow)
	}

	var coupon *pricing.CouponTerms
	if cmd.CouponID != "" {
		uc, err := s.coupons.Find(ctx, cmd.CouponID, cmd.UserID)
		if err != nil {
			return CreateResult{}, err
		}
		if !uc.Usable(now) {
			return CreateResult{}, fmt.Errorf("%w: %s", domain.ErrCouponUnavailable, cmd.CouponID)
		}
		coupon = &pricing.CouponTerms{ID: uc.ID, Kind: uc.Kind, Value: uc.Value, MinAmount: uc.MinAmount}
	}

	quote, err := pricing.Calculate(pricing.Input{
		Designs:         designs,
		AddOns:          addOns,
		Params:          params,
		Coupon:          coupon,
		AvailablePoints: account.Points,
		RequestedPoints: cmd.Points,
	})
	if err != nil {
		return CreateResult{}, err
	}
	if err := pricing.VerifyExpected(cmd.ExpectedTotal, quote.PayAmount); err != nil {
		return CreateResult{}, err
	}

	snapshot, err := quote.Snapshot(params, cmd.CouponID, now)
	if err != nil {
		return CreateResult{}, fmt.Errorf("encode pricing snapshot: %w", err)
	}

	order := &domain.Order{
		ID:              uuid.New().String(),
		Number:          newOrderNumber(now),
		UserID:          cmd.UserID,
		Status:          domain.OrderStatusPendingPayment,
		Items:           quote.Items,
		TotalAmount:     quote.TotalAmount,
		PayAmount:       quote.PayAmount,
		ShippingFee:     quote.ShippingFee,
		HandworkFee:     quote.HandworkFee,
		CouponDiscount:  quote.CouponDiscount,
		PointsDeduction: quote.PointsDeduction,
		PointsRedeemed:  quote.PointsRedeemed,
		CouponID:        cmd.CouponID,
		AddressSnapshot: address,
		Remarks:         remarks,
		Fingerprint:     fp,
		PricingSnapshot: snapshot,
		ExpiresAt:       now.Add(s.cfg.PaymentWindow),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return CreateResult{}, fmt.Errorf("insert order: %w", err)
	}

	if addOnQty := order.AddOnQuantities(); len(addOnQty) > 0 {
		if err := s.inventory.TakeAddOns(ctx, addOnQty); err != nil {
			return CreateResult{}, err
		}
	}

	if beadQty := order.BeadQuantities(); len(beadQty) > 0 {
		if err := s.inventory.Reserve(ctx, order.ID, order.UserID, beadQty, order.ExpiresAt); err != nil {
			return CreateResult{}, err
		}
	}

	if order.CouponID != "" {
		if err := s.coupons.Lock(ctx, order.CouponID, order.UserID, order.ID); err != nil {
			return CreateResult{}, err
		}
	}

	if order.PointsRedeemed > 0 {
		if err := s.points.Freeze(ctx, order.UserID, order.ID, order.PointsRedeemed); err != nil {
			return CreateResult{}, err
		}
	}

	return CreateResult{Order: order}, nil
}

// recordRateLimit writes the risk event outside the rolled back transaction.
func (s *Service) recordRateLimit(ctx context.Context, userID string, cause error) {
	s.metrics.rateLimited.Add(ctx, 1)
	s.logger.Warn("order rate limit exceeded", zap.String("user_id", userID))

	err := s.orders.InsertRiskEvent(ctx, domain.RiskEvent{
		UserID:    userID,
		Kind:      domain.RiskKindOrderRateLimit,
		Detail:    cause.Error(),
		CreatedAt: s.clock(),
	})
	if err != nil {
		s.logger.Error("failed to record risk event", zap.Error(err), zap.String("user_id", userID))
	}
}

func sanitizeRemarks(s string) string {
	s = strings.TrimSpace(html.UnescapeString(remarksPolicy.Sanitize(s)))
	if utf8.RuneCountInString(s) <= maxRemarksRunes {
		return s
	}
	return string([]rune(s)[:maxRemarksRunes])
}
