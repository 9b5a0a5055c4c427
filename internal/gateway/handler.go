// Package gateway is the public edge. It routes buyer, admin and payment
// traffic to the orders service and inbox reads to the inbox service.
package gateway

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/httpx"
)

type Handler struct {
	ordersProxy *ServiceProxy
	inboxProxy  *ServiceProxy
	logger      *zap.Logger
}

func NewHandler(ordersProxy, inboxProxy *ServiceProxy, logger *zap.Logger) *Handler {
	return &Handler{
		ordersProxy: ordersProxy,
		inboxProxy:  inboxProxy,
		logger:      logger,
	}
}

// Routes exposes only the public surface. Inbox delivery stays internal to
// the worker, so POST /notifications is not routed.
func (h *Handler) Routes(r chi.Router) {
	r.Handle("/orders", http.HandlerFunc(h.HandleOrders))
	r.Handle("/orders/*", http.HandlerFunc(h.HandleOrders))
	r.Get("/stock", h.HandleOrders)
	r.Get("/stock/*", h.HandleOrders)
	r.Post("/admin/orders/{ref}/ship", h.HandleOrders)
	r.Post("/webhooks/stripe", h.HandleOrders)

	r.Get("/notifications", h.HandleInbox)
	r.Post("/notifications/{id}/read", h.HandleInbox)
}

func (h *Handler) HandleOrders(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.ordersProxy, "orders")
}

func (h *Handler) HandleInbox(w http.ResponseWriter, r *http.Request) {
	h.proxyRequest(w, r, h.inboxProxy, "inbox")
}

func (h *Handler) proxyRequest(w http.ResponseWriter, r *http.Request, proxy *ServiceProxy, backend string) {
	path := r.URL.Path
	resp, err := proxy.ForwardRequest(r.Context(), r, path)
	if err != nil {
		h.logger.Error("failed to forward request", zap.Error(err), zap.String("backend", backend), zap.String("path", path))
		httpx.WriteJSON(w, h.logger, http.StatusBadGateway, httpx.ErrorBody{Code: 50200, Error: "service unavailable"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if contentType := resp.Header.Get("Content-Type"); contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	w.WriteHeader(resp.StatusCode)

	h.logger.Debug("request proxied",
		zap.String("backend", backend),
		zap.String("method", r.Method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode))

	if _, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Error("failed to copy response body", zap.Error(err))
	}
}
