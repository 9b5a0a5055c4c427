package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/beadflow/internal/database"
	"github.com/joao-fontenele/beadflow/internal/domain"
)

// Repository owns the bead and add-on stock counters. Every stock mutation is
// a single conditional UPDATE so concurrent checkouts never oversell.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

const beadColumns = `id, name, diameter_mm, price, stock, reserved_stock, active`

func scanBead(row interface{ Scan(...any) error }) (domain.Bead, error) {
	var b domain.Bead
	err := row.Scan(&b.ID, &b.Name, &b.DiameterMM, &b.Price, &b.Stock, &b.ReservedStock, &b.Active)
	return b, err
}

func (r *Repository) ListBeads(ctx context.Context) ([]domain.Bead, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+beadColumns+`
		FROM beads
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	beads := []domain.Bead{}
	for rows.Next() {
		b, err := scanBead(rows)
		if err != nil {
			return nil, err
		}
		beads = append(beads, b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return beads, nil
}

// GetBead returns nil when the SKU does not exist.
func (r *Repository) GetBead(ctx context.Context, id string) (*domain.Bead, error) {
	b, err := scanBead(database.Conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT `+beadColumns+`
		FROM beads
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &b, nil
}

func (r *Repository) BeadsByIDs(ctx context.Context, ids []string) (map[string]domain.Bead, error) {
	out := make(map[string]domain.Bead, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+beadColumns+`
		FROM beads
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		b, err := scanBead(rows)
		if err != nil {
			return nil, err
		}
		out[b.ID] = b
	}

	return out, rows.Err()
}

func (r *Repository) BeadsByDiameter(ctx context.Context, diameterMM decimal.Decimal) ([]domain.Bead, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+beadColumns+`
		FROM beads
		WHERE diameter_mm = $1
		ORDER BY id
	`, diameterMM)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var beads []domain.Bead
	for rows.Next() {
		b, err := scanBead(rows)
		if err != nil {
			return nil, err
		}
		beads = append(beads, b)
	}

	return beads, rows.Err()
}

func (r *Repository) AddOnsByIDs(ctx context.Context, ids []string) (map[string]domain.AddOnProduct, error) {
	out := make(map[string]domain.AddOnProduct, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, name, price, stock, active
		FROM add_on_products
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var p domain.AddOnProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}

	return out, rows.Err()
}

// sortedKeys fixes the lock acquisition order across concurrent transactions.
func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reserve moves quantities from stock to reserved_stock and writes one
// reservation row per SKU. It must run inside the order's transaction: a
// failure on a later SKU leaves earlier decrements for the caller to roll back.
func (r *Repository) Reserve(ctx context.Context, orderID, userID string, quantities map[string]int, expiresAt time.Time) error {
	q := database.Conn(ctx, r.db)
	now := r.now().UTC()

	for _, sku := range sortedKeys(quantities) {
		qty := quantities[sku]
		if qty <= 0 {
			return fmt.Errorf("%w: quantity for %s must be positive", domain.ErrInvalidInput, sku)
		}

		result, err := q.ExecContext(ctx, `
			UPDATE beads
			SET stock = stock - $2, reserved_stock = reserved_stock + $2, updated_at = $3
			WHERE id = $1 AND active AND stock >= $2
		`, sku, qty, now)
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			return fmt.Errorf("%w: bead %s", domain.ErrInsufficientStock, sku)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO inventory_reservations (id, order_id, user_id, sku_id, quantity, status, expires_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.New().String(), orderID, userID, sku, qty, domain.ReservationReserved, expiresAt, now)
		if err != nil {
			return err
		}
	}

	return nil
}

// Release returns every still-reserved quantity of the order to stock and
// marks the rows with the terminal status (released or expired).
func (r *Repository) Release(ctx context.Context, orderID string, terminal domain.ReservationStatus) error {
	if terminal != domain.ReservationReleased && terminal != domain.ReservationExpired {
		return fmt.Errorf("release with status %q", terminal)
	}

	return r.settleReservations(ctx, orderID, terminal, `
		UPDATE beads
		SET stock = stock + $2, reserved_stock = reserved_stock - $2, updated_at = $3
		WHERE id = $1 AND reserved_stock >= $2
	`)
}

// Consume finalizes the order's reservations after payment. Only the reserved
// counter drops; stock was already taken at reservation time.
func (r *Repository) Consume(ctx context.Context, orderID string) error {
	return r.settleReservations(ctx, orderID, domain.ReservationConsumed, `
		UPDATE beads
		SET reserved_stock = reserved_stock - $2, updated_at = $3
		WHERE id = $1 AND reserved_stock >= $2
	`)
}

func (r *Repository) settleReservations(ctx context.Context, orderID string, status domain.ReservationStatus, counterSQL string) error {
	q := database.Conn(ctx, r.db)
	now := r.now().UTC()

	rows, err := q.QueryContext(ctx, `
		SELECT sku_id, quantity
		FROM inventory_reservations
		WHERE order_id = $1 AND status = $2
		ORDER BY sku_id
		FOR UPDATE
	`, orderID, domain.ReservationReserved)
	if err != nil {
		return err
	}

	type held struct {
		sku string
		qty int
	}
	var reserved []held
	for rows.Next() {
		var h held
		if err := rows.Scan(&h.sku, &h.qty); err != nil {
			_ = rows.Close()
			return err
		}
		reserved = append(reserved, h)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	for _, h := range reserved {
		result, err := q.ExecContext(ctx, counterSQL, h.sku, h.qty, now)
		if err != nil {
			return err
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rowsAffected == 0 {
			return fmt.Errorf("reserved stock for bead %s is below %d", h.sku, h.qty)
		}
	}

	column := "released_at"
	if status == domain.ReservationConsumed {
		column = "consumed_at"
	}
	_, err = q.ExecContext(ctx, `
		UPDATE inventory_reservations
		SET status = $3, `+column+` = $4
		WHERE order_id = $1 AND status = $2
	`, orderID, domain.ReservationReserved, status, now)
	return err
}

func (r *Repository) ListReservations(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	rows, err := database.Conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, order_id, user_id, sku_id, quantity, status, expires_at, created_at, consumed_at, released_at
		FROM inventory_reservations
		WHERE order_id = $1
		ORDER BY sku_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []domain.Reservation
	for rows.Next() {
		var res domain.Reservation
		if err := rows.Scan(&res.ID, &res.OrderID, &res.UserID, &res.SKU, &res.Quantity, &res.Status,
			&res.ExpiresAt, &res.CreatedAt, &res.ConsumedAt, &res.ReleasedAt); err != nil {
			return nil, err
		}
		out = append(out, res)
	}

	return out, rows.Err()
}

// TakeAddOns decrements add-on stock. Add-ons are a plain counter with no
// reservation rows.
func (r *Repository) TakeAddOns(ctx context.Context, quantities map[string]int) error {
	q := database.Conn(ctx, r.db)
	for _, id := range sortedKeys(quantities) {
		result, err := q.ExecContext(ctx, `
			UPDATE add_on_products
			SET stock = stock - $2, updated_at = $3
			WHERE id = $1 AND active AND stock >= $2
		`, id, quantities[id], r.now().UTC())
		if err != nil {
			return err
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return err
		}

		if rowsAffected == 0 {
			return fmt.Errorf("%w: add-on %s", domain.ErrInsufficientStock, id)
		}
	}
	return nil
}

func (r *Repository) ReturnAddOns(ctx context.Context, quantities map[string]int) error {
	q := database.Conn(ctx, r.db)
	for _, id := range sortedKeys(quantities) {
		_, err := q.ExecContext(ctx, `
			UPDATE add_on_products
			SET stock = stock + $2, updated_at = $3
			WHERE id = $1
		`, id, quantities[id], r.now().UTC())
		if err != nil {
			return err
		}
	}
	return nil
}
