package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/beadflow/internal/database"
	"github.com/joao-fontenele/beadflow/internal/domain"
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const orderColumns = `id, order_no, user_id, status, items, total_amount, pay_amount,
	shipping_fee, handwork_fee, coupon_discount, points_deduction, points_redeemed,
	coupon_id, address_snapshot, remarks, fingerprint, pricing_snapshot,
	payment_txn_id, carrier, tracking_no, cancel_reason, expires_at,
	paid_at, shipped_at, completed_at, cancelled_at, created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		o                                                  domain.Order
		items, snapshot                                    []byte
		couponID, txnID, carrier, trackingNo, cancelReason sql.NullString
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &o.Status, &items, &o.TotalAmount, &o.PayAmount,
		&o.ShippingFee, &o.HandworkFee, &o.CouponDiscount, &o.PointsDeduction, &o.PointsRedeemed,
		&couponID, &o.AddressSnapshot, &o.Remarks, &o.Fingerprint, &snapshot,
		&txnID, &carrier, &trackingNo, &cancelReason, &o.ExpiresAt,
		&o.PaidAt, &o.ShippedAt, &o.CompletedAt, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("decode items of order %s: %w", o.ID, err)
	}
	o.PricingSnapshot = json.RawMessage(snapshot)
	o.CouponID = couponID.String
	o.PaymentTxnID = txnID.String
	o.Carrier = carrier.String
	o.TrackingNo = trackingNo.String
	o.CancelReason = cancelReason.String
	return &o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *Repository) Insert(ctx context.Context, o *domain.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("encode items: %w", err)
	}

	_, err = database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
	`,
		o.ID, o.Number, o.UserID, o.Status, items, o.TotalAmount, o.PayAmount,
		o.ShippingFee, o.HandworkFee, o.CouponDiscount, o.PointsDeduction, o.PointsRedeemed,
		nullString(o.CouponID), o.AddressSnapshot, o.Remarks, o.Fingerprint, []byte(o.PricingSnapshot),
		nullString(o.PaymentTxnID), nullString(o.Carrier), nullString(o.TrackingNo), nullString(o.CancelReason), o.ExpiresAt,
		o.PaidAt, o.ShippedAt, o.CompletedAt, o.CancelledAt, o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("order number %s already taken: %w", o.Number, err)
		}
		return err
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, ref string, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 OR order_no = $1`
	if lock {
		query += ` FOR UPDATE`
	}

	o, err := scanOrder(database.Conn(ctx, r.db).QueryRowContext(ctx, query, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, ref)
		}
		return nil, err
	}
	return o, nil
}

// Update persists the mutable lifecycle fields. Items and amounts are written
// once at creation and never change.
func (r *Repository) Update(ctx context.Context, o *domain.Order) error {
	result, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET status = $2, payment_txn_id = $3, carrier = $4, tracking_no = $5, cancel_reason = $6,
			paid_at = $7, shipped_at = $8, completed_at = $9, cancelled_at = $10, updated_at = $11
		WHERE id = $1
	`, o.ID, o.Status, nullString(o.PaymentTxnID), nullString(o.Carrier), nullString(o.TrackingNo),
		nullString(o.CancelReason), o.PaidAt, o.ShippedAt, o.CompletedAt, o.CancelledAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrOrderNotFound, o.ID)
	}
	return nil
}

func (r *Repository) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int
	err := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM orders
		WHERE user_id = $1 AND created_at >= $2
	`, userID, since).Scan(&n)
	return n, err
}

func (r *Repository) FindDuplicate(ctx context.Context, userID, fingerprint string, since, now time.Time) (*domain.Order, error) {
	o, err := scanOrder(database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1 AND fingerprint = $2 AND status = $3
			AND created_at >= $4 AND expires_at > $5
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, fingerprint, domain.OrderStatusPendingPayment, since, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return o, nil
}

func (r *Repository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id
		FROM orders
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3
	`, domain.OrderStatusPendingPayment, now, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *Repository) InsertRiskEvent(ctx context.Context, e domain.RiskEvent) error {
	_, err := database.Conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO risk_events (user_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4)
	`, e.UserID, e.Kind, e.Detail, e.CreatedAt)
	return err
}

// ResolveAddress renders the user's address as the order's snapshot text.
func (r *Repository) ResolveAddress(ctx context.Context, userID, addressID string) (string, error) {
	var recipient, phone, province, city, district, detail string
	err := database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT recipient, phone, province, city, district, detail
		FROM user_addresses
		WHERE id = $1 AND user_id = $2
	`, addressID, userID).Scan(&recipient, &phone, &province, &city, &district, &detail)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%w: %s", domain.ErrAddressNotFound, addressID)
		}
		return "", err
	}

	return strings.Join([]string{recipient, phone, province + city + district, detail}, " "), nil
}
