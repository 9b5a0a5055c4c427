// Package httpx holds the JSON response helpers shared by the HTTP handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/joao-fontenele/beadflow/internal/domain"
)

type ErrorBody struct {
	Code  int    `json:"code"`
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, logger *zap.Logger, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", zap.Error(err))
	}
}

// WriteError maps domain errors to their HTTP status and code. Anything else
// is logged and reported as an internal error.
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	de, ok := domain.AsError(err)
	if !ok {
		logger.Error("request failed", zap.Error(err))
		WriteJSON(w, logger, http.StatusInternalServerError, ErrorBody{Code: 50000, Error: "internal server error"})
		return
	}

	body := ErrorBody{Code: de.Code, Error: err.Error()}
	var te *domain.TransitionError
	if errors.As(err, &te) {
		body.Error = de.Message + ": order is " + string(te.From)
	}
	WriteJSON(w, logger, StatusFor(de.Kind), body)
}

func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Invalid reports a malformed request with the validation code.
func Invalid(w http.ResponseWriter, logger *zap.Logger, message string) {
	WriteJSON(w, logger, http.StatusBadRequest, ErrorBody{Code: domain.ErrInvalidInput.Code, Error: message})
}
