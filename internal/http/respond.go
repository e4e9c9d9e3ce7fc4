package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/fjod/go_cart/storefront-checkout/internal/cart"
	"github.com/fjod/go_cart/storefront-checkout/internal/checkout"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/inventory"
	"github.com/fjod/go_cart/storefront-checkout/internal/orders"
	"github.com/fjod/go_cart/storefront-checkout/internal/pricing"
	"github.com/fjod/go_cart/storefront-checkout/pkg/logger"
	"go.uber.org/zap"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	VariantID int64  `json:"variant_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// handleError maps domain errors to a status and a stable code. Unknown errors are logged and reported as internal.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	var stockErr *inventory.InsufficientStockError
	switch {
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:     stockErr.Error(),
			Code:      "insufficient_stock",
			VariantID: stockErr.VariantID,
		})
	case errors.Is(err, pricing.ErrInsufficientPoints):
		respondError(w, http.StatusUnprocessableEntity, "insufficient_points", err.Error())
	case errors.Is(err, pricing.ErrInvalidVoucher):
		respondError(w, http.StatusUnprocessableEntity, "invalid_voucher", err.Error())
	case errors.Is(err, orders.ErrInvalidTransition):
		respondError(w, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, orders.ErrCancelIncomplete):
		respondJSON(w, http.StatusAccepted, ErrorResponse{
			Error: "cancellation accepted, stock is being restored",
			Code:  "cancellation_pending",
		})
	case errors.Is(err, orders.ErrVersionConflict):
		respondJSON(w, http.StatusConflict, ErrorResponse{Error: "order changed concurrently", Code: "conflict", Retryable: true})
	case errors.Is(err, checkout.ErrPersistence):
		respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:     "order could not be saved, please retry",
			Code:      "persistence_failure",
			Retryable: true,
		})
	case errors.Is(err, orders.ErrOrderNotFound):
		respondError(w, http.StatusNotFound, "not_found", "order not found")
	case errors.Is(err, cart.ErrLineNotFound):
		respondError(w, http.StatusNotFound, "not_found", "cart line not found")
	case errors.Is(err, domain.ErrValidation):
		respondError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		logger.FromContext(r.Context(), zap.L()).Error("unhandled request error", zap.String("path", r.URL.Path), zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
