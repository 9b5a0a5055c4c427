package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

type SettleCommand struct {
	OrderRef      string
	TransactionID string
	PaidAt        time.Time
}

// Settle applies a payment confirmation. Settling an order that already left
// pending_payment is a no-op returning the current state, so retried or late
// webhooks are harmless.
func (s *Service) Settle(ctx context.Context, cmd SettleCommand) (order *domain.Order, err error) {
	ctx, span := startSpan(ctx, "orders.Settle")
	defer func() { endSpan(span, err) }()

	if cmd.OrderRef == "" {
		return nil, fmt.Errorf("%w: order reference is required", domain.ErrInvalidInput)
	}

	params, err := s.params.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("load business params: %w", err)
	}

	settled := false
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, cmd.OrderRef, true)
		if err != nil {
			return err
		}
		order = o

		if o.Status != domain.OrderStatusPendingPayment {
			s.logger.Info("settlement ignored for non-pending order",
				zap.String("order_id", o.ID),
				zap.String("status", string(o.Status)),
				zap.String("transaction_id", cmd.TransactionID))
			return nil
		}

		if err := s.settle(ctx, o, cmd, params); err != nil {
			return err
		}
		settled = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if settled {
		s.metrics.settled.Add(ctx, 1)
		s.logger.Info("order settled",
			zap.String("order_id", order.ID),
			zap.String("transaction_id", cmd.TransactionID),
			zap.String("pay_amount", order.PayAmount.StringFixed(2)))
		s.notify(ctx, order, domain.NotificationOrderPaid)
	}
	return order, nil
}

func (s *Service) settle(ctx context.Context, o *domain.Order, cmd SettleCommand, params domain.BusinessParams) error {
	now := s.clock()
	paidAt := cmd.PaidAt.UTC()
	if cmd.PaidAt.IsZero() {
		paidAt = now
	}

	o.Status = domain.OrderStatusPendingProduction
	o.PaidAt = &paidAt
	o.PaymentTxnID = cmd.TransactionID
	o.UpdatedAt = now
	if err := s.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if err := s.inventory.Consume(ctx, o.ID); err != nil {
		return fmt.Errorf("consume reservations: %w", err)
	}

	if o.PointsRedeemed > 0 {
		if err := s.points.Redeem(ctx, o.UserID, o.ID, o.PointsRedeemed); err != nil {
			return fmt.Errorf("redeem frozen points: %w", err)
		}
	}

	if earned := o.PayAmount.Mul(params.PointsEarnRate).Floor().IntPart(); earned > 0 {
		if err := s.points.Earn(ctx, o.UserID, o.ID, earned, o.PayAmount); err != nil {
			return fmt.Errorf("credit earned points: %w", err)
		}
	}

	if o.PayAmount.IsPositive() {
		if err := s.points.AddSpend(ctx, o.UserID, o.PayAmount); err != nil {
			return fmt.Errorf("add total spend: %w", err)
		}
	}

	if o.CouponID != "" {
		if err := s.coupons.MarkUsed(ctx, o.ID); err != nil {
			return fmt.Errorf("mark coupon used: %w", err)
		}
	}

	if params.AffiliateEnabled {
		if err := s.creditCommission(ctx, o, params); err != nil {
			return err
		}
	}
	return nil
}

// creditCommission converts commission_rate of the paid amount into points at
// the redemption value and credits them to the buyer's referrer.
func (s *Service) creditCommission(ctx context.Context, o *domain.Order, params domain.BusinessParams) error {
	if !params.CommissionRate.IsPositive() || !params.PointValue.IsPositive() {
		return nil
	}

	buyer, err := s.points.Account(ctx, o.UserID, false)
	if err != nil {
		return fmt.Errorf("load buyer: %w", err)
	}
	if buyer.ReferrerID == "" || buyer.ReferrerID == o.UserID {
		return nil
	}

	amount := o.PayAmount.Mul(params.CommissionRate).Round(2)
	pts := amount.Div(params.PointValue).Floor().IntPart()
	if pts <= 0 {
		return nil
	}

	if err := s.points.Commission(ctx, buyer.ReferrerID, o.ID, pts, amount); err != nil {
		return fmt.Errorf("credit commission: %w", err)
	}
	return nil
}

// Cancel is the user's cancellation of an unpaid order.
func (s *Service) Cancel(ctx context.Context, userID, ref string) (order *domain.Order, err error) {
	ctx, span := startSpan(ctx, "orders.Cancel")
	defer func() { endSpan(span, err) }()

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, ref, true)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, ref)
		}
		if o.Status != domain.OrderStatusPendingPayment {
			return &domain.TransitionError{Op: "cancel", From: o.Status, To: domain.OrderStatusCancelled}
		}
		order = o
		return s.reverse(ctx, o, domain.ReservationReleased, "cancelled by user")
	})
	if err != nil {
		return nil, err
	}

	s.metrics.cancelled.Add(ctx, 1)
	s.logger.Info("order cancelled", zap.String("order_id", order.ID), zap.String("user_id", userID))
	s.notify(ctx, order, domain.NotificationOrderCancelled)
	return order, nil
}

// Expire closes an unpaid order whose payment window elapsed. It reports
// false when the order was paid, cancelled or is not yet due, which happens
// when the sweep races a settlement.
func (s *Service) Expire(ctx context.Context, orderID string) (expired bool, err error) {
	ctx, span := startSpan(ctx, "orders.Expire")
	defer func() { endSpan(span, err) }()

	var order *domain.Order
	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, orderID, true)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderStatusPendingPayment || o.ExpiresAt.After(s.clock()) {
			return nil
		}
		order = o
		return s.reverse(ctx, o, domain.ReservationExpired, "payment timeout")
	})
	if err != nil || order == nil {
		return false, err
	}

	s.metrics.expired.Add(ctx, 1)
	s.logger.Info("order expired", zap.String("order_id", order.ID), zap.String("order_no", order.Number))
	s.notify(ctx, order, domain.NotificationOrderExpired)
	return true, nil
}

// reverse undoes every hold taken at creation and closes the order.
func (s *Service) reverse(ctx context.Context, o *domain.Order, terminal domain.ReservationStatus, reason string) error {
	if err := s.inventory.Release(ctx, o.ID, terminal); err != nil {
		return fmt.Errorf("release reservations: %w", err)
	}

	if addOnQty := o.AddOnQuantities(); len(addOnQty) > 0 {
		if err := s.inventory.ReturnAddOns(ctx, addOnQty); err != nil {
			return fmt.Errorf("return add-on stock: %w", err)
		}
	}

	if o.PointsRedeemed > 0 {
		if err := s.points.Unfreeze(ctx, o.UserID, o.ID, o.PointsRedeemed); err != nil {
			return fmt.Errorf("unfreeze points: %w", err)
		}
	}

	if o.CouponID != "" {
		if err := s.coupons.Unlock(ctx, o.ID); err != nil {
			return fmt.Errorf("unlock coupon: %w", err)
		}
	}

	now := s.clock()
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &now
	o.CancelReason = reason
	o.UpdatedAt = now
	if err := s.orders.Update(ctx, o); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	return nil
}

type ShipCommand struct {
	OrderRef   string
	Carrier    string
	TrackingNo string
}

// Ship records the shipment. Shipping an already shipped order corrects its
// tracking information.
func (s *Service) Ship(ctx context.Context, cmd ShipCommand) (order *domain.Order, err error) {
	ctx, span := startSpan(ctx, "orders.Ship")
	defer func() { endSpan(span, err) }()

	carrier := strings.TrimSpace(cmd.Carrier)
	trackingNo := strings.TrimSpace(cmd.TrackingNo)
	if carrier == "" || trackingNo == "" {
		return nil, fmt.Errorf("%w: carrier and tracking number are required", domain.ErrInvalidInput)
	}

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, cmd.OrderRef, true)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderStatusPendingProduction && o.Status != domain.OrderStatusShipped {
			return &domain.TransitionError{Op: "ship", From: o.Status, To: domain.OrderStatusShipped}
		}

		now := s.clock()
		o.Status = domain.OrderStatusShipped
		o.Carrier = carrier
		o.TrackingNo = trackingNo
		if o.ShippedAt == nil {
			o.ShippedAt = &now
		}
		o.UpdatedAt = now
		if err := s.orders.Update(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		order = o
		return s.logistics.Append(ctx, domain.LogisticsEvent{
			OrderID:   o.ID,
			Title:     "Shipped",
			Detail:    carrier + " " + trackingNo,
			EventTime: now,
			Source:    domain.LogisticsSourceSystem,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order shipped",
		zap.String("order_id", order.ID), zap.String("carrier", carrier), zap.String("tracking_no", trackingNo))
	s.notify(ctx, order, domain.NotificationOrderShipped)
	return order, nil
}

// Confirm marks a shipped order as received by the user.
func (s *Service) Confirm(ctx context.Context, userID, ref string) (order *domain.Order, err error) {
	ctx, span := startSpan(ctx, "orders.Confirm")
	defer func() { endSpan(span, err) }()

	err = s.uow.RunInTx(ctx, func(ctx context.Context) error {
		o, err := s.orders.Get(ctx, ref, true)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, ref)
		}
		if o.Status != domain.OrderStatusShipped {
			return &domain.TransitionError{Op: "confirm", From: o.Status, To: domain.OrderStatusCompleted}
		}

		now := s.clock()
		o.Status = domain.OrderStatusCompleted
		o.CompletedAt = &now
		o.UpdatedAt = now
		if err := s.orders.Update(ctx, o); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		order = o
		return s.logistics.Append(ctx, domain.LogisticsEvent{
			OrderID:   o.ID,
			Title:     "Signed for",
			Detail:    "Confirmed by recipient",
			EventTime: now,
			Source:    domain.LogisticsSourceSystem,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order completed", zap.String("order_id", order.ID))
	s.notify(ctx, order, domain.NotificationOrderCompleted)
	return order, nil
}
