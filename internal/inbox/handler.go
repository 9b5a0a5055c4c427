package inbox

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/httpx"
)

const (
	userHeader   = "X-User-ID"
	defaultLimit = 20
	maxLimit     = 100
)

var textPolicy = bluemonday.StrictPolicy()

type MessageStore interface {
	Save(ctx context.Context, m Message) (bool, error)
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]Message, error)
	MarkRead(ctx context.Context, userID, id string, at time.Time) error
}

type Handler struct {
	store  MessageStore
	now    func() time.Time
	logger *zap.Logger
}

func NewHandler(store MessageStore, logger *zap.Logger) *Handler {
	return &Handler{store: store, now: time.Now, logger: logger}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.HandleDeliver)
		r.Get("/", h.HandleList)
		r.Post("/{id}/read", h.HandleMarkRead)
	})
}

type deliverRequest struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Content string `json:"content"`
	OrderID string `json:"order_id"`
	OrderNo string `json:"order_no"`
}

// HandleDeliver stores one message. Redelivery of a known id answers 200
// instead of 201 so the worker can commit its offset either way.
func (h *Handler) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Invalid(w, h.logger, "invalid request body")
		return
	}
	if req.ID == "" {
		req.ID = r.Header.Get("Idempotency-Key")
	}
	if req.ID == "" || req.UserID == "" || req.Type == "" {
		httpx.Invalid(w, h.logger, "id, user_id and type are required")
		return
	}

	m := Message{
		ID:        req.ID,
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     strings.TrimSpace(textPolicy.Sanitize(req.Title)),
		Content:   strings.TrimSpace(textPolicy.Sanitize(req.Content)),
		OrderID:   req.OrderID,
		OrderNo:   req.OrderNo,
		CreatedAt: h.now().UTC(),
	}

	created, err := h.store.Save(r.Context(), m)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
		h.logger.Debug("duplicate notification ignored", zap.String("id", m.ID))
	} else {
		h.logger.Info("notification stored", zap.String("id", m.ID), zap.String("user_id", m.UserID), zap.String("type", m.Type))
	}
	httpx.WriteJSON(w, h.logger, status, map[string]string{"id": m.ID})
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httpx.Invalid(w, h.logger, "limit must be a positive integer")
			return
		}
		limit = min(n, maxLimit)
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	messages, err := h.store.List(r.Context(), userID, unreadOnly, limit)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	httpx.WriteJSON(w, h.logger, http.StatusOK, messages)
}

func (h *Handler) HandleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := h.store.MarkRead(r.Context(), userID, chi.URLParam(r, "id"), h.now().UTC()); err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		httpx.WriteJSON(w, h.logger, http.StatusUnauthorized, httpx.ErrorBody{Code: 40100, Error: "missing user"})
		return "", false
	}
	return userID, true
}
