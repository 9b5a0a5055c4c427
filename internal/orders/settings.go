package orders

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/beadflow/internal/database"
	"github.com/joao-fontenele/beadflow/internal/domain"
)

// SettingsRepository reads business parameters from business_settings. Keys
// missing from the table keep the configured defaults.
type SettingsRepository struct {
	db       *sql.DB
	defaults domain.BusinessParams
}

func NewSettingsRepository(db *sql.DB, defaults domain.BusinessParams) *SettingsRepository {
	return &SettingsRepository{db: db, defaults: defaults}
}

func (r *SettingsRepository) Current(ctx context.Context) (domain.BusinessParams, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `SELECT key, value FROM business_settings`)
	if err != nil {
		return domain.BusinessParams{}, err
	}
	defer func() { _ = rows.Close() }()

	values := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return domain.BusinessParams{}, err
		}
		values[k] = v
	}

	if err := rows.Err(); err != nil {
		return domain.BusinessParams{}, err
	}

	return applySettings(r.defaults, values)
}

func applySettings(p domain.BusinessParams, values map[string]string) (domain.BusinessParams, error) {
	amounts := map[string]*decimal.Decimal{
		"handwork_fee":            &p.HandworkFee,
		"free_shipping_threshold": &p.FreeShippingThreshold,
		"base_shipping_fee":       &p.BaseShippingFee,
		"point_value":             &p.PointValue,
		"points_earn_rate":        &p.PointsEarnRate,
		"commission_rate":         &p.CommissionRate,
	}
	for key, dst := range amounts {
		raw, ok := values[key]
		if !ok {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return domain.BusinessParams{}, fmt.Errorf("invalid business setting %s=%q", key, raw)
		}
		*dst = d
	}

	if raw, ok := values["affiliate_enabled"]; ok {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return domain.BusinessParams{}, fmt.Errorf("invalid business setting affiliate_enabled=%q", raw)
		}
		p.AffiliateEnabled = b
	}
	if raw, ok := values["rule_version"]; ok && raw != "" {
		p.RuleVersion = raw
	}

	if !p.PointValue.IsPositive() {
		return domain.BusinessParams{}, fmt.Errorf("invalid business setting point_value=%s", p.PointValue)
	}
	return p, nil
}
