package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/joao-fontenele/beadflow/internal/database"
	"github.com/joao-fontenele/beadflow/internal/domain"
)

type Coupons struct {
	db  *sql.DB
	now func() time.Time
}

func NewCoupons(db *sql.DB) *Coupons {
	return &Coupons{db: db, now: time.Now}
}

// Find loads a coupon instance owned by userID with its template terms.
func (c *Coupons) Find(ctx context.Context, couponID, userID string) (domain.UserCoupon, error) {
	var uc domain.UserCoupon
	err := database.Conn(ctx, c.db).QueryRowContext(ctx, `
		SELECT uc.id, uc.user_id, t.name, t.kind, t.value, t.min_amount,
		       uc.status, COALESCE(uc.order_id, ''), uc.expires_at, uc.used_at
		FROM user_coupons uc
		JOIN coupon_templates t ON t.id = uc.template_id
		WHERE uc.id = $1 AND uc.user_id = $2
	`, couponID, userID).Scan(&uc.ID, &uc.UserID, &uc.Name, &uc.Kind, &uc.Value, &uc.MinAmount,
		&uc.Status, &uc.OrderID, &uc.ExpiresAt, &uc.UsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.UserCoupon{}, fmt.Errorf("%w: %s", domain.ErrCouponNotFound, couponID)
		}
		return domain.UserCoupon{}, err
	}
	return uc, nil
}

// Lock binds an available, unlocked, unexpired coupon to the order.
func (c *Coupons) Lock(ctx context.Context, couponID, userID, orderID string) error {
	result, err := database.Conn(ctx, c.db).ExecContext(ctx, `
		UPDATE user_coupons
		SET order_id = $3
		WHERE id = $1 AND user_id = $2 AND status = 'available' AND order_id IS NULL
		  AND (expires_at IS NULL OR expires_at > $4)
	`, couponID, userID, orderID, c.now().UTC())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", domain.ErrCouponUnavailable, couponID)
	}
	return nil
}

// Unlock frees any coupon still locked to the order and not yet used.
func (c *Coupons) Unlock(ctx context.Context, orderID string) error {
	_, err := database.Conn(ctx, c.db).ExecContext(ctx, `
		UPDATE user_coupons
		SET order_id = NULL
		WHERE order_id = $1 AND status = 'available'
	`, orderID)
	return err
}

// MarkUsed consumes the coupon locked to the order.
func (c *Coupons) MarkUsed(ctx context.Context, orderID string) error {
	_, err := database.Conn(ctx, c.db).ExecContext(ctx, `
		UPDATE user_coupons
		SET status = 'used', used_at = $2
		WHERE order_id = $1 AND status = 'available'
	`, orderID, c.now().UTC())
	return err
}
