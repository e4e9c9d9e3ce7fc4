package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultOrdersPage = 20
	maxOrdersPage     = 100
)

type OrderService interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*domain.Order, error)
	Transition(ctx context.Context, id uuid.UUID, to domain.OrderStatus) (*domain.Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type OrdersHandler struct {
	orders  OrderService
	timeout time.Duration
}

func NewOrdersHandler(orders OrderService, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{orders: orders, timeout: timeout}
}

type OrderResponseDTO struct {
	*domain.Order
	Status domain.OrderStatus `json:"status"`
}

type UpdateStatusRequestDTO struct {
	Status domain.OrderStatus `json:"status"`
}

func toDTO(o *domain.Order) OrderResponseDTO {
	return OrderResponseDTO{Order: o, Status: o.Status()}
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// canAccess allows operators and the signed-in owner. Anonymous orders are reachable by operators only.
func canAccess(id Identity, o *domain.Order) bool {
	if id.Operator {
		return true
	}
	return id.UserID != "" && o.OwnerRef != nil && *o.OwnerRef == id.UserID
}

// loadOwned answers 404 for orders the caller may not see, so ids cannot be probed
func (h *OrdersHandler) loadOwned(ctx context.Context, w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return nil, false
	}
	order, err := h.orders.Get(ctx, orderID)
	if err != nil {
		handleError(w, r, err)
		return nil, false
	}
	if !canAccess(IdentityFromContext(r.Context()), order) {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return nil, false
	}
	return order, true
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := IdentityFromContext(r.Context())
	if id.UserID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	limit := defaultOrdersPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxOrdersPage)
	}

	list, err := h.orders.ListByOwner(ctx, id.UserID, limit)
	if err != nil {
		handleError(w, r, err)
		return
	}
	dtos := make([]OrderResponseDTO, 0, len(list))
	for _, o := range list {
		dtos = append(dtos, toDTO(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, ok := h.loadOwned(ctx, w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toDTO(order))
}

// PATCH /api/v1/orders/{order_id}/status
func (h *OrdersHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if !IdentityFromContext(r.Context()).Operator {
		respondError(w, http.StatusForbidden, "forbidden", "only operators can change order status")
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := h.orders.Transition(ctx, orderID, req.Status)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDTO(order))
}

// POST /api/v1/orders/{order_id}/cancel
func (h *OrdersHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	order, ok := h.loadOwned(ctx, w, r)
	if !ok {
		return
	}
	cancelled, err := h.orders.Cancel(ctx, order.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toDTO(cancelled))
}
