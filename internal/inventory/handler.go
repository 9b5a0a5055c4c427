package inventory

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/domain"
	"github.com/joao-fontenele/beadflow/internal/httpx"
)

type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{
		repo:   repo,
		logger: logger,
	}
}

func (h *Handler) Routes(r chi.Router) {
	r.Get("/stock", h.HandleListStock)
	r.Get("/stock/{sku}", h.HandleGetStock)
}

func (h *Handler) HandleListStock(w http.ResponseWriter, r *http.Request) {
	beads, err := h.repo.ListBeads(r.Context())
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	h.logger.Debug("stock listed", zap.Int("count", len(beads)))
	httpx.WriteJSON(w, h.logger, http.StatusOK, beads)
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")
	if sku == "" {
		httpx.Invalid(w, h.logger, "missing sku")
		return
	}

	bead, err := h.repo.GetBead(r.Context(), sku)
	if err != nil {
		httpx.WriteError(w, h.logger, err)
		return
	}

	if bead == nil {
		httpx.WriteJSON(w, h.logger, http.StatusNotFound, httpx.ErrorBody{Code: domain.ErrUnknownSKU.Code, Error: "bead not found"})
		return
	}

	httpx.WriteJSON(w, h.logger, http.StatusOK, bead)
}
