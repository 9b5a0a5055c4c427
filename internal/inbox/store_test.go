package inbox

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewStore(db), mock
}

func TestStore_Save(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	m := Message{ID: "n1", UserID: "u1", Type: "order_paid", Title: "Paid", OrderID: "o1", CreatedAt: at}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs("n1", "u1", "order_paid", "Paid", "", "o1", "", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notifications")).
		WithArgs("n1", "u1", "order_paid", "Paid", "", "o1", "", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	created, err := store.Save(context.Background(), m)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Save(context.Background(), m)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestStore_List(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM notifications")).
		WithArgs("u1", true, 20).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "type", "title", "content", "order_id", "order_no", "read_at", "created_at"}).
			AddRow("n1", "u1", "order_paid", "Paid", "", "o1", "20260314100000000001", nil, at))

	got, err := store.List(context.Background(), "u1", true, 20)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "20260314100000000001", got[0].OrderNo)
	assert.Nil(t, got[0].ReadAt)
}

func TestStore_MarkRead(t *testing.T) {
	store, mock := newMock(t)
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications")).
		WithArgs("n1", "u1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE notifications")).
		WithArgs("n2", "u1", at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.MarkRead(context.Background(), "u1", "n1", at))
	assert.ErrorIs(t, store.MarkRead(context.Background(), "u1", "n2", at), domain.ErrNotificationNotFound)
}
