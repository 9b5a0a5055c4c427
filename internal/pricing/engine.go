// Package pricing computes order amounts from resolved line items and the
// business parameters in force. Every intermediate currency value is rounded
// to two decimals before it feeds the next step.
package pricing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

// Tolerance is the largest accepted difference between the client's expected
// total and the server computed payable amount.
var Tolerance = decimal.NewFromFloat(0.01)

type DesignInput struct {
	Name  string
	Beads []domain.BeadLine
}

type AddOnInput struct {
	ID        string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

type CouponTerms struct {
	ID        string
	Kind      domain.CouponKind
	Value     decimal.Decimal
	MinAmount decimal.Decimal
}

type Input struct {
	Designs         []DesignInput
	AddOns          []AddOnInput
	Params          domain.BusinessParams
	Coupon          *CouponTerms
	AvailablePoints int64
	RequestedPoints int64
}

type Breakdown struct {
	DesignSubtotal  decimal.Decimal `json:"design_subtotal"`
	AddOnSubtotal   decimal.Decimal `json:"add_on_subtotal"`
	ProductAmount   decimal.Decimal `json:"product_amount"`
	HandworkFee     decimal.Decimal `json:"handwork_fee"`
	ShippingFee     decimal.Decimal `json:"shipping_fee"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	CouponDiscount  decimal.Decimal `json:"coupon_discount"`
	PointsRedeemed  int64           `json:"points_redeemed"`
	PointsDeduction decimal.Decimal `json:"points_deduction"`
	PayAmount       decimal.Decimal `json:"pay_amount"`
}

type Quote struct {
	Breakdown
	Items []domain.LineItem
}

// Snapshot is persisted with the order so the amounts can be explained later
// even if the business parameters change.
type Snapshot struct {
	RuleVersion string                `json:"rule_version"`
	Params      domain.BusinessParams `json:"params"`
	Breakdown   Breakdown             `json:"breakdown"`
	CouponID    string                `json:"coupon_id,omitempty"`
	ComputedAt  time.Time             `json:"computed_at"`
}

func round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Calculate prices the input. It fails with ErrInvalidInput on malformed
// lines and ErrCouponThresholdNotMet when the coupon minimum is not reached.
func Calculate(in Input) (Quote, error) {
	if len(in.Designs) == 0 && len(in.AddOns) == 0 {
		return Quote{}, fmt.Errorf("%w: order has no items", domain.ErrInvalidInput)
	}
	if in.RequestedPoints < 0 {
		return Quote{}, fmt.Errorf("%w: negative points", domain.ErrInvalidInput)
	}

	var q Quote
	designSubtotal := decimal.Zero
	for _, d := range in.Designs {
		if len(d.Beads) == 0 {
			return Quote{}, fmt.Errorf("%w: design %q has no beads", domain.ErrInvalidInput, d.Name)
		}
		sum := decimal.Zero
		for _, b := range d.Beads {
			if b.Quantity <= 0 {
				return Quote{}, fmt.Errorf("%w: bead %s quantity must be positive", domain.ErrInvalidInput, b.SKU)
			}
			sum = round2(sum.Add(round2(b.UnitPrice.Mul(decimal.NewFromInt(int64(b.Quantity))))))
		}
		designSubtotal = round2(designSubtotal.Add(sum))
		q.Items = append(q.Items, domain.LineItem{
			Kind:      domain.LineItemDesign,
			Name:      d.Name,
			UnitPrice: sum,
			Quantity:  1,
			Beads:     d.Beads,
		})
	}

	addOnSubtotal := decimal.Zero
	for _, a := range in.AddOns {
		if a.Quantity <= 0 {
			return Quote{}, fmt.Errorf("%w: add-on %s quantity must be positive", domain.ErrInvalidInput, a.ID)
		}
		line := round2(a.UnitPrice.Mul(decimal.NewFromInt(int64(a.Quantity))))
		addOnSubtotal = round2(addOnSubtotal.Add(line))
		q.Items = append(q.Items, domain.LineItem{
			Kind:      domain.LineItemAddOn,
			Name:      a.Name,
			UnitPrice: round2(a.UnitPrice),
			Quantity:  a.Quantity,
			AddOnID:   a.ID,
		})
	}

	p := in.Params
	q.DesignSubtotal = designSubtotal
	q.AddOnSubtotal = addOnSubtotal
	q.ProductAmount = round2(designSubtotal.Add(addOnSubtotal))
	q.HandworkFee = round2(p.HandworkFee.Mul(decimal.NewFromInt(int64(len(in.Designs)))))

	beforeShipping := round2(q.ProductAmount.Add(q.HandworkFee))
	q.ShippingFee = decimal.Zero
	if beforeShipping.LessThan(p.FreeShippingThreshold) {
		q.ShippingFee = round2(p.BaseShippingFee)
	}
	q.TotalAmount = round2(beforeShipping.Add(q.ShippingFee))

	discount, err := couponDiscount(in.Coupon, q.TotalAmount)
	if err != nil {
		return Quote{}, err
	}
	q.CouponDiscount = discount

	remaining := round2(q.TotalAmount.Sub(discount))
	q.PointsRedeemed, q.PointsDeduction = redeemPoints(in, remaining)

	q.PayAmount = round2(remaining.Sub(q.PointsDeduction))
	if q.PayAmount.IsNegative() {
		q.PayAmount = decimal.Zero
	}
	return q, nil
}

func couponDiscount(c *CouponTerms, total decimal.Decimal) (decimal.Decimal, error) {
	if c == nil {
		return decimal.Zero, nil
	}
	if total.LessThan(c.MinAmount) {
		return decimal.Zero, fmt.Errorf("%w: requires %s, order is %s",
			domain.ErrCouponThresholdNotMet, c.MinAmount.StringFixed(2), total.StringFixed(2))
	}

	var d decimal.Decimal
	switch c.Kind {
	case domain.CouponFixed:
		d = round2(c.Value)
	case domain.CouponPercent:
		d = round2(total.Mul(c.Value).Div(decimal.NewFromInt(100)))
	default:
		return decimal.Zero, fmt.Errorf("%w: coupon kind %q", domain.ErrInvalidInput, c.Kind)
	}
	if d.GreaterThan(total) {
		d = total
	}
	return d, nil
}

// redeemPoints caps the redemption by the request, the balance and the
// remaining amount so the payable amount never goes below zero.
func redeemPoints(in Input, remaining decimal.Decimal) (int64, decimal.Decimal) {
	value := in.Params.PointValue
	if in.RequestedPoints == 0 || !value.IsPositive() || !remaining.IsPositive() {
		return 0, decimal.Zero
	}

	n := in.RequestedPoints
	if in.AvailablePoints < n {
		n = in.AvailablePoints
	}
	if byAmount := remaining.Div(value).Floor().IntPart(); byAmount < n {
		n = byAmount
	}
	if n <= 0 {
		return 0, decimal.Zero
	}

	deduction := round2(decimal.NewFromInt(n).Mul(value))
	if deduction.GreaterThan(remaining) {
		deduction = remaining
	}
	return n, deduction
}

// VerifyExpected rejects a checkout when the client's total drifted from the
// server side amount by more than Tolerance.
func VerifyExpected(expected, pay decimal.Decimal) error {
	if expected.Sub(pay).Abs().GreaterThan(Tolerance) {
		return fmt.Errorf("%w: expected %s, computed %s",
			domain.ErrAmountMismatch, expected.StringFixed(2), pay.StringFixed(2))
	}
	return nil
}

// Snapshot serializes the quote together with the parameters that produced it.
func (q Quote) Snapshot(params domain.BusinessParams, couponID string, at time.Time) (json.RawMessage, error) {
	return json.Marshal(Snapshot{
		RuleVersion: params.RuleVersion,
		Params:      params,
		Breakdown:   q.Breakdown,
		CouponID:    couponID,
		ComputedAt:  at.UTC(),
	})
}
