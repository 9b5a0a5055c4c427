// Package payments turns payment gateway callbacks into order settlements.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/domain"
	"github.com/joao-fontenele/beadflow/internal/httpx"
	"github.com/joao-fontenele/beadflow/internal/orders"
)

const maxBodyBytes = 65536

type Settler interface {
	Settle(ctx context.Context, cmd orders.SettleCommand) (*domain.Order, error)
}

// StripeWebhook verifies Stripe event signatures and settles the order named
// in a succeeded payment intent's metadata (order_no, or order_id).
type StripeWebhook struct {
	secret  string
	settler Settler
	logger  *zap.Logger
}

func NewStripeWebhook(secret string, settler Settler, logger *zap.Logger) *StripeWebhook {
	return &StripeWebhook{secret: secret, settler: settler, logger: logger}
}

func (h *StripeWebhook) Routes(r chi.Router) {
	r.Post("/webhooks/stripe", h.HandleEvent)
}

func (h *StripeWebhook) HandleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		httpx.Invalid(w, h.logger, "unreadable body")
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn("rejected stripe webhook", zap.Error(err))
		httpx.Invalid(w, h.logger, "invalid signature")
		return
	}

	if event.Type != stripe.EventTypePaymentIntentSucceeded {
		h.logger.Debug("ignoring stripe event", zap.String("type", string(event.Type)))
		h.ack(w)
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		httpx.Invalid(w, h.logger, "malformed payment intent")
		return
	}

	ref := intent.Metadata["order_no"]
	if ref == "" {
		ref = intent.Metadata["order_id"]
	}
	if ref == "" {
		h.logger.Warn("payment intent without order reference", zap.String("payment_intent", intent.ID))
		h.ack(w)
		return
	}

	paidAt := time.Unix(event.Created, 0)
	if event.Created == 0 {
		paidAt = time.Now()
	}

	order, err := h.settler.Settle(r.Context(), orders.SettleCommand{
		OrderRef:      ref,
		TransactionID: intent.ID,
		PaidAt:        paidAt,
	})
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			h.logger.Warn("payment for unknown order", zap.String("order_ref", ref), zap.String("payment_intent", intent.ID))
			h.ack(w)
			return
		}
		httpx.WriteError(w, h.logger, err)
		return
	}

	h.logger.Info("payment confirmed",
		zap.String("order_id", order.ID),
		zap.String("payment_intent", intent.ID),
		zap.String("status", string(order.Status)))
	h.ack(w)
}

func (h *StripeWebhook) ack(w http.ResponseWriter) {
	httpx.WriteJSON(w, h.logger, http.StatusOK, map[string]bool{"received": true})
}
