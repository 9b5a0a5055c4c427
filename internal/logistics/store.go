// Package logistics keeps an order's shipment tracking history and refreshes
// it from an external carrier tracking provider.
package logistics

import (
	"context"
	"database/sql"

	"github.com/joao-fontenele/beadflow/internal/database"
	"github.com/joao-fontenele/beadflow/internal/domain"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append stores e unless an event with the same title, detail and time is
// already recorded for the order. It reports whether a row was inserted.
func (s *Store) Append(ctx context.Context, e domain.LogisticsEvent) (bool, error) {
	result, err := database.Conn(ctx, s.db).ExecContext(ctx, `
		INSERT INTO logistics_events (order_id, title, detail, location, event_time, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (order_id, title, detail, event_time) DO NOTHING
	`, e.OrderID, e.Title, e.Detail, e.Location, e.EventTime.UTC(), e.Source)
	if err != nil {
		return false, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected > 0, nil
}

func (s *Store) List(ctx context.Context, orderID string) ([]domain.LogisticsEvent, error) {
	rows, err := database.Conn(ctx, s.db).QueryContext(ctx, `
		SELECT order_id, title, detail, location, event_time, source
		FROM logistics_events
		WHERE order_id = $1
		ORDER BY event_time, id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := []domain.LogisticsEvent{}
	for rows.Next() {
		var e domain.LogisticsEvent
		if err := rows.Scan(&e.OrderID, &e.Title, &e.Detail, &e.Location, &e.EventTime, &e.Source); err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}
