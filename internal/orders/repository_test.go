package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

var repoNow = time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) (*Repository, *sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRepository(db), db, mock
}

func orderRows(t *testing.T) *sqlmock.Rows {
	t.Helper()
	items, err := json.Marshal([]domain.LineItem{{
		Kind:      domain.LineItemDesign,
		Name:      "Calm",
		UnitPrice: d("25"),
		Quantity:  1,
		Beads:     []domain.BeadLine{{SKU: "rq-8", Name: "Rose Quartz", UnitPrice: d("10"), Quantity: 1}},
	}})
	require.NoError(t, err)

	cols := []string{
		"id", "order_no", "user_id", "status", "items", "total_amount", "pay_amount",
		"shipping_fee", "handwork_fee", "coupon_discount", "points_deduction", "points_redeemed",
		"coupon_id", "address_snapshot", "remarks", "fingerprint", "pricing_snapshot",
		"payment_txn_id", "carrier", "tracking_no", "cancel_reason", "expires_at",
		"paid_at", "shipped_at", "completed_at", "cancelled_at", "created_at", "updated_at",
	}
	return sqlmock.NewRows(cols).AddRow(
		"o1", "20260504120000123456", "u1", "pending_payment", items, "38.00", "38.00",
		"10.00", "3.00", "0.00", "0.00", int64(0),
		nil, "Ana 555-0100 Lisbon 1 Rua Augusta", "", "abc", []byte(`{"rule_version":"v1"}`),
		nil, nil, nil, nil, repoNow.Add(30*time.Minute),
		nil, nil, nil, nil, repoNow, repoNow,
	)
}

func TestRepositoryGet_ByIDOrNumberWithLock(t *testing.T) {
	repo, _, mock := newTestRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1 OR order_no = $1 FOR UPDATE")).
		WithArgs("20260504120000123456").
		WillReturnRows(orderRows(t))

	o, err := repo.Get(context.Background(), "20260504120000123456", true)
	require.NoError(t, err)

	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, domain.OrderStatusPendingPayment, o.Status)
	assert.True(t, d("38").Equal(o.PayAmount))
	require.Len(t, o.Items, 1)
	assert.Equal(t, "rq-8", o.Items[0].Beads[0].SKU)
	assert.Empty(t, o.CouponID)
	assert.Nil(t, o.PaidAt)
	assert.JSONEq(t, `{"rule_version":"v1"}`, string(o.PricingSnapshot))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGet_NotFound(t *testing.T) {
	repo, _, mock := newTestRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = $1 OR order_no = $1")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing", false)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRepositoryUpdate_MissingRow(t *testing.T) {
	repo, _, mock := newTestRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &domain.Order{ID: "o1", Status: domain.OrderStatusCancelled, UpdatedAt: repoNow})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestRepositoryFindDuplicate(t *testing.T) {
	repo, _, mock := newTestRepository(t)
	since := repoNow.Add(-30 * time.Second)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND fingerprint = $2 AND status = $3")).
		WithArgs("u1", "abc", domain.OrderStatusPendingPayment, since, repoNow).
		WillReturnRows(orderRows(t))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE user_id = $1 AND fingerprint = $2 AND status = $3")).
		WillReturnError(sql.ErrNoRows)

	o, err := repo.FindDuplicate(context.Background(), "u1", "abc", since, repoNow)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "o1", o.ID)

	o, err = repo.FindDuplicate(context.Background(), "u1", "abc", since, repoNow)
	require.NoError(t, err)
	assert.Nil(t, o)
}

func TestRepositoryListExpired(t *testing.T) {
	repo, _, mock := newTestRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = $1 AND expires_at <= $2")).
		WithArgs(domain.OrderStatusPendingPayment, repoNow, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("o1").AddRow("o2"))

	ids, err := repo.ListExpired(context.Background(), repoNow, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"o1", "o2"}, ids)
}

func TestRepositoryResolveAddress(t *testing.T) {
	repo, _, mock := newTestRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM user_addresses")).
		WithArgs("a1", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"recipient", "phone", "province", "city", "district", "detail"}).
			AddRow("Li Lei", "13800000000", "Zhejiang", "Hangzhou", "Xihu", "No. 1 Wensan Rd"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM user_addresses")).
		WithArgs("a2", "u1").
		WillReturnError(sql.ErrNoRows)

	text, err := repo.ResolveAddress(context.Background(), "u1", "a1")
	require.NoError(t, err)
	assert.Equal(t, "Li Lei 13800000000 ZhejiangHangzhouXihu No. 1 Wensan Rd", text)

	_, err = repo.ResolveAddress(context.Background(), "u1", "a2")
	require.ErrorIs(t, err, domain.ErrAddressNotFound)
}

func TestApplySettings(t *testing.T) {
	defaults := domain.BusinessParams{
		RuleVersion:           "default",
		HandworkFee:           d("3"),
		FreeShippingThreshold: d("99"),
		BaseShippingFee:       d("10"),
		PointValue:            d("0.01"),
		PointsEarnRate:        d("1"),
		CommissionRate:        d("0.05"),
	}

	p, err := applySettings(defaults, map[string]string{
		"handwork_fee":      "5",
		"affiliate_enabled": "true",
		"rule_version":      "2026-spring",
	})
	require.NoError(t, err)
	assert.True(t, d("5").Equal(p.HandworkFee))
	assert.True(t, d("99").Equal(p.FreeShippingThreshold))
	assert.True(t, p.AffiliateEnabled)
	assert.Equal(t, "2026-spring", p.RuleVersion)

	_, err = applySettings(defaults, map[string]string{"base_shipping_fee": "ten"})
	require.Error(t, err)

	_, err = applySettings(defaults, map[string]string{"point_value": "0"})
	require.Error(t, err)
}

func TestSettingsRepositoryCurrent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectQuery(regexp.QuoteMeta("SELECT key, value FROM business_settings")).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).AddRow("free_shipping_threshold", "129"))

	repo := NewSettingsRepository(db, domain.BusinessParams{PointValue: d("0.01"), FreeShippingThreshold: d("99")})
	p, err := repo.Current(context.Background())
	require.NoError(t, err)
	assert.True(t, d("129").Equal(p.FreeShippingThreshold))
}
