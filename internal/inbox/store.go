// Package inbox stores the in-app notifications delivered by the worker and
// serves them to the buyer.
package inbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

type Message struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	OrderID   string     `json:"order_id,omitempty"`
	OrderNo   string     `json:"order_no,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Save reports false when a message with the same id was already stored.
func (s *Store) Save(ctx context.Context, m Message) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, content, order_id, order_no, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8)
		ON CONFLICT (id) DO NOTHING
	`, m.ID, m.UserID, m.Type, m.Title, m.Content, m.OrderID, m.OrderNo, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, type, title, content, COALESCE(order_id, ''), COALESCE(order_no, ''), read_at, created_at
		FROM notifications
		WHERE user_id = $1 AND (NOT $2::boolean OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3
	`, userID, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	messages := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Type, &m.Title, &m.Content, &m.OrderID, &m.OrderNo, &m.ReadAt, &m.CreatedAt); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkRead is a no-op for a message that is already read.
func (s *Store) MarkRead(ctx context.Context, userID, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notifications
		SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2
	`, id, userID, at)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrNotificationNotFound, id)
	}
	return nil
}
