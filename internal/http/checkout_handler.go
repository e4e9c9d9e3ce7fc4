package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/checkout"
	"github.com/fjod/go_cart/storefront-checkout/internal/pricing"
	"github.com/google/uuid"
)

type Checkouter interface {
	Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error)
}

type CheckoutHandler struct {
	checkout Checkouter
	timeout  time.Duration
}

func NewCheckoutHandler(c Checkouter, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{checkout: c, timeout: timeout}
}

type CheckoutRequestDTO struct {
	SelectedVariantIDs []int64 `json:"selected_variant_ids"`
	VoucherCode        string  `json:"voucher_code,omitempty"`
	PointsToRedeem     int64   `json:"points_to_redeem"`
	PaymentMethod      string  `json:"payment_method,omitempty"`
}

type CheckoutResponseDTO struct {
	OrderID uuid.UUID       `json:"order_id"`
	Pricing *pricing.Result `json:"pricing"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req CheckoutRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.SelectedVariantIDs) == 0 {
		respondError(w, http.StatusBadRequest, "validation_error", "selected_variant_ids must not be empty")
		return
	}

	res, err := h.checkout.Checkout(ctx, checkout.Request{
		Owner:              owner,
		SelectedVariantIDs: req.SelectedVariantIDs,
		VoucherCode:        req.VoucherCode,
		PointsToRedeem:     req.PointsToRedeem,
		PaymentMethod:      req.PaymentMethod,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{OrderID: res.OrderID, Pricing: res.Pricing})
}
