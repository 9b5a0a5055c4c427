package orders

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/domain"
	"github.com/joao-fontenele/beadflow/internal/httpx"
	"github.com/joao-fontenele/beadflow/internal/pricing"
)

// UserHeader carries the authenticated user id set by the upstream auth layer.
const UserHeader = "X-User-ID"

type Handler struct {
	svc          *Service
	mockPayments bool
	logger       *zap.Logger
}

func NewHandler(svc *Service, mockPayments bool, logger *zap.Logger) *Handler {
	return &Handler{
		svc:          svc,
		mockPayments: mockPayments,
		logger:       logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/{ref}", h.HandleGet)
		r.Get("/{ref}/tracking", h.HandleTracking)
		r.Post("/{ref}/cancel", h.HandleCancel)
		r.Post("/{ref}/confirm", h.HandleConfirm)
		if h.mockPayments {
			r.Post("/{ref}/pay", h.HandleMockPay)
		}
	})
	r.Post("/admin/orders/{ref}/ship", h.HandleShip)
}

type createOrderRequest struct {
	Designs       []pricing.DesignSelection `json:"designs"`
	AddOns        []pricing.AddOnSelection  `json:"add_ons"`
	AddressID     string                    `json:"address_id"`
	CouponID      string                    `json:"coupon_id"`
	Points        int64                     `json:"points"`
	Remarks       string                    `json:"remarks"`
	ExpectedTotal decimal.Decimal           `json:"expected_total"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Invalid(w, h.logger, "invalid request body")
		return
	}

	res, err := h.svc.Create(r.Context(), CreateCommand{
		UserID:        userID,
		Designs:       req.Designs,
		AddOns:        req.AddOns,
		AddressID:     req.AddressID,
		CouponID:      req.CouponID,
		Points:        req.Points,
		Remarks:       req.Remarks,
		ExpectedTotal: req.ExpectedTotal,
	})
	if err != nil {
		if errors.Is(err, domain.ErrTooFrequent) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(h.svc.cfg.RateLimitWindow.Seconds()))))
		}
		httpx.WriteError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, h.logger, status, res.Order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	order, err := h.svc.Get(r.Context(), userID, chi.URLParam(r, "ref"))
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleTracking(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	events, err := h.svc.Tracking(r.Context(), userID, chi.URLParam(r, "ref"))
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, events)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	order, err := h.svc.Cancel(r.Context(), userID, chi.URLParam(r, "ref"))
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) HandleConfirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	order, err := h.svc.Confirm(r.Context(), userID, chi.URLParam(r, "ref"))
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

type mockPayRequest struct {
	TransactionID string `json:"transaction_id"`
}

// HandleMockPay confirms a payment without a gateway. It is only routed in
// development setups.
func (h *Handler) HandleMockPay(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.user(w, r)
	if !ok {
		return
	}

	var req mockPayRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.Invalid(w, h.logger, "invalid request body")
			return
		}
	}

	order, err := h.svc.Get(r.Context(), userID, chi.URLParam(r, "ref"))
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	if req.TransactionID == "" {
		req.TransactionID = "mock-" + order.Number
	}

	order, err = h.svc.Settle(r.Context(), SettleCommand{
		OrderRef:      order.ID,
		TransactionID: req.TransactionID,
		PaidAt:        time.Now(),
	})
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

type shipRequest struct {
	Carrier    string `json:"carrier"`
	TrackingNo string `json:"tracking_no"`
}

func (h *Handler) HandleShip(w http.ResponseWriter, r *http.Request) {
	var req shipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Invalid(w, h.logger, "invalid request body")
		return
	}

	order, err := h.svc.Ship(r.Context(), ShipCommand{
		OrderRef:   chi.URLParam(r, "ref"),
		Carrier:    req.Carrier,
		TrackingNo: req.TrackingNo,
	})
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, order)
}

func (h *Handler) user(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.Header.Get(UserHeader)
	if userID == "" {
		httpx.WriteJSON(w, h.logger, http.StatusUnauthorized, httpx.ErrorBody{Code: 40100, Error: "missing user"})
		return "", false
	}
	return userID, true
}
