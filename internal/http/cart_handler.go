package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/cart"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/go-chi/chi/v5"
)

const maxLineQuantity = 99

type CartService interface {
	View(ctx context.Context, owner domain.CartOwner) (*cart.View, error)
	AddItem(ctx context.Context, owner domain.CartOwner, variantID int64, quantity int) error
	UpdateQuantity(ctx context.Context, owner domain.CartOwner, variantID int64, quantity int) error
	RemoveItem(ctx context.Context, owner domain.CartOwner, variantID int64) error
	ClearCart(ctx context.Context, owner domain.CartOwner) error
	Merge(ctx context.Context, req cart.MergeRequest) (cart.MergeResult, error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{carts: carts, timeout: timeout}
}

type AddItemRequestDTO struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type MergeLineDTO struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
	Checked   bool  `json:"checked"`
}

type MergeRequestDTO struct {
	AnonymousLines []MergeLineDTO `json:"anonymous_lines"`
}

type MergeResponseDTO struct {
	Cart    *cart.View `json:"cart"`
	Dropped int        `json:"dropped"`
}

func requireOwner(w http.ResponseWriter, r *http.Request) (domain.CartOwner, bool) {
	owner, ok := IdentityFromContext(r.Context()).Owner()
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user or session identity")
	}
	return owner, ok
}

func variantIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "variant_id"), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_variant_id", "variant_id must be a positive integer")
		return 0, false
	}
	return id, true
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	view, err := h.carts.View(ctx, owner)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.VariantID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_variant_id", "variant_id must be positive")
		return
	}
	if req.Quantity <= 0 || req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	if err := h.carts.AddItem(ctx, owner, req.VariantID, req.Quantity); err != nil {
		handleError(w, r, err)
		return
	}
	h.respondView(w, r, ctx, owner, http.StatusCreated)
}

// PUT /api/v1/cart/items/{variant_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	variantID, ok := variantIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Quantity < 0 || req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 0 and 99")
		return
	}

	if err := h.carts.UpdateQuantity(ctx, owner, variantID, req.Quantity); err != nil {
		handleError(w, r, err)
		return
	}
	h.respondView(w, r, ctx, owner, http.StatusOK)
}

// DELETE /api/v1/cart/items/{variant_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	variantID, ok := variantIDParam(w, r)
	if !ok {
		return
	}
	if err := h.carts.RemoveItem(ctx, owner, variantID); err != nil {
		handleError(w, r, err)
		return
	}
	h.respondView(w, r, ctx, owner, http.StatusOK)
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	owner, ok := requireOwner(w, r)
	if !ok {
		return
	}
	if err := h.carts.ClearCart(ctx, owner); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/cart/merge
// Without anonymous_lines the stored cart of the caller's session token is merged.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := IdentityFromContext(r.Context())
	if id.UserID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "merge requires a signed-in user")
		return
	}
	var req MergeRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	mr := cart.MergeRequest{User: domain.UserOwner(id.UserID)}
	if id.SessionToken != "" {
		anon := domain.AnonymousOwner(id.SessionToken)
		mr.Anonymous = &anon
	}
	if req.AnonymousLines != nil {
		mr.Lines = make([]domain.CartLine, len(req.AnonymousLines))
		for i, l := range req.AnonymousLines {
			mr.Lines[i] = domain.CartLine{VariantID: l.VariantID, Quantity: l.Quantity, Checked: l.Checked}
		}
	}

	result, err := h.carts.Merge(ctx, mr)
	if err != nil {
		handleError(w, r, err)
		return
	}
	view, err := h.carts.View(ctx, mr.User)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, MergeResponseDTO{Cart: view, Dropped: result.Dropped})
}

func (h *CartHandler) respondView(w http.ResponseWriter, r *http.Request, ctx context.Context, owner domain.CartOwner, status int) {
	view, err := h.carts.View(ctx, owner)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, status, view)
}
