package domain

import "github.com/shopspring/decimal"

// BusinessParams is the pricing configuration in force for one operation.
type BusinessParams struct {
	RuleVersion           string          `json:"rule_version"`
	HandworkFee           decimal.Decimal `json:"handwork_fee"`
	FreeShippingThreshold decimal.Decimal `json:"free_shipping_threshold"`
	BaseShippingFee       decimal.Decimal `json:"base_shipping_fee"`
	PointValue            decimal.Decimal `json:"point_value"`
	PointsEarnRate        decimal.Decimal `json:"points_earn_rate"`
	CommissionRate        decimal.Decimal `json:"commission_rate"`
	AffiliateEnabled      bool            `json:"affiliate_enabled"`
}
