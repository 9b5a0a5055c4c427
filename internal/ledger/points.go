// Package ledger mutates user point balances and coupon instances. Each call
// is a conditional UPDATE paired with its ledger row and is meant to run inside
// the transaction of the order transition it accompanies.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/beadflow/internal/database"
	"github.com/joao-fontenele/beadflow/internal/domain"
)

type Points struct {
	db  *sql.DB
	now func() time.Time
}

func NewPoints(db *sql.DB) *Points {
	return &Points{db: db, now: time.Now}
}

// Account reads the balances. With lock set the row stays locked until the
// surrounding transaction ends, which serializes checkouts of one user.
func (p *Points) Account(ctx context.Context, userID string, lock bool) (domain.PointAccount, error) {
	query := `
		SELECT id, points, frozen_points, total_spend, COALESCE(referrer_id, '')
		FROM users
		WHERE id = $1
	`
	if lock {
		query += " FOR UPDATE"
	}

	var a domain.PointAccount
	err := database.Conn(ctx, p.db).QueryRowContext(ctx, query, userID).
		Scan(&a.UserID, &a.Points, &a.FrozenPoints, &a.TotalSpend, &a.ReferrerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.PointAccount{}, fmt.Errorf("%w: unknown user %s", domain.ErrInvalidInput, userID)
		}
		return domain.PointAccount{}, err
	}
	return a, nil
}

// Freeze moves n points from available to frozen for the order.
func (p *Points) Freeze(ctx context.Context, userID, orderID string, n int64) error {
	err := p.move(ctx, `
		UPDATE users
		SET points = points - $2, frozen_points = frozen_points + $2, updated_at = $3
		WHERE id = $1 AND points >= $2
	`, domain.PointLog{UserID: userID, OrderID: orderID, Kind: domain.PointLogFreeze, Points: n, Note: "redeem at checkout"}, n)
	if errors.Is(err, errNoRows) {
		return fmt.Errorf("%w: user %s cannot freeze %d", domain.ErrInsufficientPoints, userID, n)
	}
	return err
}

// Unfreeze returns n frozen points to the available balance.
func (p *Points) Unfreeze(ctx context.Context, userID, orderID string, n int64) error {
	err := p.move(ctx, `
		UPDATE users
		SET points = points + $2, frozen_points = frozen_points - $2, updated_at = $3
		WHERE id = $1 AND frozen_points >= $2
	`, domain.PointLog{UserID: userID, OrderID: orderID, Kind: domain.PointLogUnfreeze, Points: n, Note: "order cancelled"}, n)
	if errors.Is(err, errNoRows) {
		return fmt.Errorf("frozen points of user %s are below %d", userID, n)
	}
	return err
}

// Redeem spends n frozen points once the order is paid.
func (p *Points) Redeem(ctx context.Context, userID, orderID string, n int64) error {
	err := p.move(ctx, `
		UPDATE users
		SET frozen_points = frozen_points - $2, updated_at = $3
		WHERE id = $1 AND frozen_points >= $2
	`, domain.PointLog{UserID: userID, OrderID: orderID, Kind: domain.PointLogRedeem, Points: n, Note: "spent on order"}, n)
	if errors.Is(err, errNoRows) {
		return fmt.Errorf("frozen points of user %s are below %d", userID, n)
	}
	return err
}

// Earn credits points for a paid order.
func (p *Points) Earn(ctx context.Context, userID, orderID string, n int64, amount decimal.Decimal) error {
	err := p.move(ctx, `
		UPDATE users
		SET points = points + $2, updated_at = $3
		WHERE id = $1
	`, domain.PointLog{UserID: userID, OrderID: orderID, Kind: domain.PointLogEarn, Points: n,
		Amount: decimal.NewNullDecimal(amount), Note: "order paid"}, n)
	if errors.Is(err, errNoRows) {
		return fmt.Errorf("%w: unknown user %s", domain.ErrInvalidInput, userID)
	}
	return err
}

// Commission credits a referral commission, converted to points, to the referrer.
func (p *Points) Commission(ctx context.Context, referrerID, orderID string, n int64, amount decimal.Decimal) error {
	err := p.move(ctx, `
		UPDATE users
		SET points = points + $2, updated_at = $3
		WHERE id = $1
	`, domain.PointLog{UserID: referrerID, OrderID: orderID, Kind: domain.PointLogCommission, Points: n,
		Amount: decimal.NewNullDecimal(amount), Note: "referral commission"}, n)
	if errors.Is(err, errNoRows) {
		return fmt.Errorf("%w: unknown referrer %s", domain.ErrInvalidInput, referrerID)
	}
	return err
}

// AddSpend accumulates the user's lifetime spend.
func (p *Points) AddSpend(ctx context.Context, userID string, amount decimal.Decimal) error {
	_, err := database.Conn(ctx, p.db).ExecContext(ctx, `
		UPDATE users
		SET total_spend = total_spend + $2, updated_at = $3
		WHERE id = $1
	`, userID, amount, p.now().UTC())
	return err
}

var errNoRows = errors.New("no rows affected")

func (p *Points) move(ctx context.Context, updateSQL string, entry domain.PointLog, n int64) error {
	if n <= 0 {
		return fmt.Errorf("%w: point amount must be positive", domain.ErrInvalidInput)
	}

	q := database.Conn(ctx, p.db)
	now := p.now().UTC()

	result, err := q.ExecContext(ctx, updateSQL, entry.UserID, n, now)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errNoRows
	}

	entry.CreatedAt = now
	return insertLog(ctx, q, entry)
}

func insertLog(ctx context.Context, q database.Querier, e domain.PointLog) error {
	var orderID sql.NullString
	if e.OrderID != "" {
		orderID = sql.NullString{String: e.OrderID, Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO point_logs (user_id, order_id, kind, points, amount, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.UserID, orderID, e.Kind, e.Points, e.Amount, e.Note, e.CreatedAt)
	return err
}

// Logs lists the ledger rows of a user, newest first.
func (p *Points) Logs(ctx context.Context, userID string) ([]domain.PointLog, error) {
	rows, err := database.Conn(ctx, p.db).QueryContext(ctx, `
		SELECT user_id, COALESCE(order_id, ''), kind, points, amount, note, created_at
		FROM point_logs
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.PointLog
	for rows.Next() {
		var l domain.PointLog
		if err := rows.Scan(&l.UserID, &l.OrderID, &l.Kind, &l.Points, &l.Amount, &l.Note, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
