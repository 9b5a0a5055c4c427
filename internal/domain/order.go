package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPendingPayment    OrderStatus = "pending_payment"
	OrderStatusPendingProduction OrderStatus = "pending_production"
	OrderStatusShipped           OrderStatus = "shipped"
	OrderStatusCompleted         OrderStatus = "completed"
	OrderStatusCancelled         OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type LineItemKind string

const (
	LineItemDesign LineItemKind = "design"
	LineItemAddOn  LineItemKind = "addon"
)

// BeadLine is one bead SKU inside a design, priced at order time.
type BeadLine struct {
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// LineItem is the immutable snapshot stored with an order. Design items carry
// their bead composition; add-on items carry the add-on product reference.
type LineItem struct {
	Kind      LineItemKind    `json:"kind"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	AddOnID   string          `json:"add_on_id,omitempty"`
	Beads     []BeadLine      `json:"beads,omitempty"`
}

type Order struct {
	ID              string          `json:"id"`
	Number          string          `json:"order_no"`
	UserID          string          `json:"user_id"`
	Status          OrderStatus     `json:"status"`
	Items           []LineItem      `json:"items"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PayAmount       decimal.Decimal `json:"pay_amount"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	HandworkFee     decimal.Decimal `json:"handwork_fee"`
	CouponDiscount  decimal.Decimal `json:"coupon_discount"`
	PointsDeduction decimal.Decimal `json:"points_deduction"`
	PointsRedeemed  int64           `json:"points_redeemed"`
	CouponID        string          `json:"coupon_id,omitempty"`
	AddressSnapshot string          `json:"address_snapshot"`
	Remarks         string          `json:"remarks"`
	Fingerprint     string          `json:"-"`
	PricingSnapshot json.RawMessage `json:"pricing_snapshot"`
	PaymentTxnID    string          `json:"payment_txn_id,omitempty"`
	Carrier         string          `json:"carrier,omitempty"`
	TrackingNo      string          `json:"tracking_no,omitempty"`
	CancelReason    string          `json:"cancel_reason,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	ShippedAt       *time.Time      `json:"shipped_at,omitempty"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CancelledAt     *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// BeadQuantities aggregates the bead SKUs across all design items.
func (o *Order) BeadQuantities() map[string]int {
	out := make(map[string]int)
	for _, item := range o.Items {
		if item.Kind != LineItemDesign {
			continue
		}
		for _, b := range item.Beads {
			out[b.SKU] += b.Quantity * item.Quantity
		}
	}
	return out
}

// AddOnQuantities aggregates add-on product quantities.
func (o *Order) AddOnQuantities() map[string]int {
	out := make(map[string]int)
	for _, item := range o.Items {
		if item.Kind == LineItemAddOn && item.AddOnID != "" {
			out[item.AddOnID] += item.Quantity
		}
	}
	return out
}

// RiskEvent records suspicious checkout behaviour such as rapid resubmission.
type RiskEvent struct {
	UserID    string
	Kind      string
	Detail    string
	CreatedAt time.Time
}

const RiskKindOrderRateLimit = "order_rate_limit"
