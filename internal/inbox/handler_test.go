package inbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joao-fontenele/beadflow/internal/domain"
	"github.com/joao-fontenele/beadflow/internal/httpx"
)

type memoryStore struct {
	mu       sync.Mutex
	messages map[string]Message
	lastList struct {
		unreadOnly bool
		limit      int
	}
}

func newMemoryStore() *memoryStore {
	return &memoryStore{messages: map[string]Message{}}
}

func (s *memoryStore) Save(_ context.Context, m Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[m.ID]; ok {
		return false, nil
	}
	s.messages[m.ID] = m
	return true, nil
}

func (s *memoryStore) List(_ context.Context, userID string, unreadOnly bool, limit int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastList.unreadOnly = unreadOnly
	s.lastList.limit = limit
	var out []Message
	for _, m := range s.messages {
		if m.UserID == userID && (!unreadOnly || m.ReadAt == nil) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryStore) MarkRead(_ context.Context, userID, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.UserID != userID {
		return fmt.Errorf("%w: %s", domain.ErrNotificationNotFound, id)
	}
	if m.ReadAt == nil {
		m.ReadAt = &at
	}
	s.messages[id] = m
	return nil
}

func newRouter(t *testing.T, store MessageStore) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(store, zaptest.NewLogger(t)).Routes(r)
	return r
}

func do(h http.Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleDeliver(t *testing.T) {
	store := newMemoryStore()
	h := newRouter(t, store)

	body := `{"id":"n1","user_id":"u1","type":"order_paid","title":"<b>Paid</b>","content":"Order 123 is paid<script>x</script>"}`

	rec := do(h, http.MethodPost, "/notifications", "", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(h, http.MethodPost, "/notifications", "", body)
	assert.Equal(t, http.StatusOK, rec.Code, "redelivery is acknowledged")

	require.Len(t, store.messages, 1)
	assert.Equal(t, "Paid", store.messages["n1"].Title)
	assert.Equal(t, "Order 123 is paid", store.messages["n1"].Content)
}

func TestHandleDeliver_IdempotencyKeyHeader(t *testing.T) {
	store := newMemoryStore()
	r := chi.NewRouter()
	NewHandler(store, zaptest.NewLogger(t)).Routes(r)

	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(`{"user_id":"u1","type":"order_paid"}`))
	req.Header.Set("Idempotency-Key", "n7")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, store.messages, "n7")
}

func TestHandleDeliver_Invalid(t *testing.T) {
	h := newRouter(t, newMemoryStore())

	for _, body := range []string{`not json`, `{"id":"n1","type":"order_paid"}`, `{"id":"n1","user_id":"u1"}`} {
		rec := do(h, http.MethodPost, "/notifications", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestHandleList(t *testing.T) {
	store := newMemoryStore()
	read := time.Now()
	store.messages["n1"] = Message{ID: "n1", UserID: "u1", Type: "order_paid"}
	store.messages["n2"] = Message{ID: "n2", UserID: "u1", Type: "order_created", ReadAt: &read}
	store.messages["n3"] = Message{ID: "n3", UserID: "u2", Type: "order_paid"}
	h := newRouter(t, store)

	rec := do(h, http.MethodGet, "/notifications?unread=true&limit=500", "u1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []Message
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].ID)
	assert.True(t, store.lastList.unreadOnly)
	assert.Equal(t, maxLimit, store.lastList.limit)

	rec = do(h, http.MethodGet, "/notifications?limit=zero", "u1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/notifications", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleMarkRead(t *testing.T) {
	store := newMemoryStore()
	store.messages["n1"] = Message{ID: "n1", UserID: "u1", Type: "order_paid"}
	h := newRouter(t, store)

	rec := do(h, http.MethodPost, "/notifications/n1/read", "u2", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	var body httpx.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, domain.ErrNotificationNotFound.Code, body.Code)

	rec = do(h, http.MethodPost, "/notifications/n1/read", "u1", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotNil(t, store.messages["n1"].ReadAt)
}
