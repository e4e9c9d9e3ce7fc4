package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/inventory"
	"github.com/fjod/go_cart/storefront-checkout/internal/pricing"
	"github.com/fjod/go_cart/storefront-checkout/pkg/logger"
	"go.uber.org/zap"
)

// Checkout prices the selected lines, reserves their stock and places a PENDING order.
// Nothing is reserved when pricing fails, and reserved stock is handed back when the order cannot be stored.
func (o *Orchestrator) Checkout(ctx context.Context, req Request) (*Result, error) {
	res, err := o.checkout(ctx, req)
	o.metrics.Checkouts.WithLabelValues(outcome(err)).Inc()
	return res, err
}

func (o *Orchestrator) checkout(ctx context.Context, req Request) (*Result, error) {
	selected, err := normalizeRequest(&req)
	if err != nil {
		return nil, err
	}
	log := logger.FromContext(ctx, o.log).With(zap.String("owner", req.Owner.Key()))

	q, err := o.quote(ctx, req, selected)
	if err != nil {
		return nil, err
	}

	stockLines := make([]domain.StockLine, len(q.lines))
	for i, l := range q.lines {
		stockLines[i] = domain.StockLine{VariantID: l.VariantID, Quantity: int64(l.Quantity)}
	}
	reservation, err := o.stock.Reserve(ctx, stockLines)
	if err != nil {
		if errors.Is(err, inventory.ErrRollbackFailed) && reservation != nil && len(reservation.Unreleased) > 0 {
			log.Error("stock rollback incomplete, queueing restore", zap.String("reservation_id", reservation.ID), zap.Error(err))
			o.queueRestore(ctx, reservation.ID, reservation.Unreleased, err, log)
			return nil, err
		}
		log.Info("checkout rejected by stock reservation", zap.Error(err))
		return nil, err
	}

	order := o.buildOrder(req, q)
	log = log.With(zap.String("order_id", order.ID.String()), zap.String("reservation_id", reservation.ID))

	if err := o.persist(ctx, order, reservation.Lines, log); err != nil {
		return nil, err
	}

	if err := o.redeemPoints(ctx, req.Owner, order, log); err != nil {
		return nil, err
	}

	o.afterCommit(ctx, req.Owner, selected, order, log)

	log.Info("order placed",
		zap.Int64("final_total", order.FinalTotal),
		zap.Int("lines", len(order.Lines)))
	return &Result{OrderID: order.ID, Pricing: q.pricing}, nil
}

func normalizeRequest(req *Request) ([]int64, error) {
	if !req.Owner.Valid() {
		return nil, fmt.Errorf("%w: cart owner is required", domain.ErrValidation)
	}
	if req.PointsToRedeem < 0 {
		return nil, fmt.Errorf("%w: points to redeem must not be negative", domain.ErrValidation)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = DefaultPaymentMethod
	}

	seen := make(map[int64]struct{}, len(req.SelectedVariantIDs))
	selected := make([]int64, 0, len(req.SelectedVariantIDs))
	for _, id := range req.SelectedVariantIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		selected = append(selected, id)
	}
	if len(selected) == 0 {
		return nil, ErrEmptySelection
	}
	return selected, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, pricing.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, pricing.ErrInvalidVoucher):
		return "invalid_voucher"
	case errors.Is(err, ErrPersistence):
		return "persistence_failure"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	}
	return "error"
}
