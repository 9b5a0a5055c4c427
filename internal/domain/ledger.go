package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PointAccount struct {
	UserID       string
	Points       int64
	FrozenPoints int64
	TotalSpend   decimal.Decimal
	ReferrerID   string
}

type PointLogKind string

const (
	PointLogFreeze     PointLogKind = "freeze"
	PointLogUnfreeze   PointLogKind = "unfreeze"
	PointLogRedeem     PointLogKind = "redeem"
	PointLogEarn       PointLogKind = "earn"
	PointLogCommission PointLogKind = "commission"
)

// PointLog is one ledger row. Every balance mutation writes exactly one;
// Points is the magnitude and Kind gives the direction.
type PointLog struct {
	UserID    string
	OrderID   string
	Kind      PointLogKind
	Points    int64
	Amount    decimal.NullDecimal
	Note      string
	CreatedAt time.Time
}

type CouponKind string

const (
	CouponFixed   CouponKind = "fixed"
	CouponPercent CouponKind = "percent"
)

type CouponStatus string

const (
	CouponAvailable CouponStatus = "available"
	CouponUsed      CouponStatus = "used"
	CouponExpired   CouponStatus = "expired"
)

// UserCoupon is a coupon instance owned by a user, joined with its template
// terms. A non-empty OrderID means the coupon is locked to that order.
type UserCoupon struct {
	ID        string
	UserID    string
	Name      string
	Kind      CouponKind
	Value     decimal.Decimal
	MinAmount decimal.Decimal
	Status    CouponStatus
	OrderID   string
	ExpiresAt *time.Time
	UsedAt    *time.Time
}

// Usable reports whether the coupon can be locked to a new order at now.
func (c UserCoupon) Usable(now time.Time) bool {
	if c.Status != CouponAvailable || c.OrderID != "" {
		return false
	}
	return c.ExpiresAt == nil || c.ExpiresAt.After(now)
}
