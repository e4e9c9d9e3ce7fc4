package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/loyalty"
	"github.com/fjod/go_cart/storefront-checkout/internal/pricing"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (o *Orchestrator) buildOrder(req Request, q *quote) *domain.Order {
	order := &domain.Order{
		ID:              uuid.New(),
		Lines:           make([]domain.OrderLine, len(q.pricing.Lines)),
		PointsRedeemed:  q.pricing.PointsRedeemed,
		Subtotal:        q.pricing.Subtotal,
		VoucherDiscount: q.pricing.VoucherDiscount,
		PointsDiscount:  q.pricing.PointsDiscount,
		DiscountTotal:   q.pricing.DiscountTotal,
		ShippingFee:     q.pricing.ShippingFee,
		FinalTotal:      q.pricing.FinalTotal,
		PaymentMethod:   req.PaymentMethod,
		StatusHistory:   domain.NewStatusHistory(domain.StatusEntry{Status: domain.OrderStatusPending, At: q.at}),
		CreatedAt:       q.at,
	}
	if !req.Owner.IsAnonymous() {
		owner := req.Owner.ID
		order.OwnerRef = &owner
	}
	if q.voucher != nil {
		code := q.voucher.Code
		order.VoucherApplied = &code
	}
	for i, l := range q.pricing.Lines {
		order.Lines[i] = domain.OrderLine{
			VariantID:           l.VariantID,
			Quantity:            l.Quantity,
			UnitPriceAtPurchase: l.DiscountedUnitPrice,
			OriginalUnitPrice:   l.UnitPrice,
		}
	}
	return order
}

// persist stores the order. When that fails the reserved stock goes back under the order id,
// or is queued for the recovery poller if the restore fails too.
func (o *Orchestrator) persist(ctx context.Context, order *domain.Order, reserved []domain.StockLine, log *zap.Logger) error {
	err := o.orders.Create(ctx, order)
	if err == nil {
		return nil
	}
	log.Error("failed to persist order, restoring stock", zap.Error(err))

	// compensation must finish even if the client went away
	ctx = context.WithoutCancel(ctx)
	key := order.ID.String()
	if errRestore := o.stock.Restore(ctx, key, reserved); errRestore != nil {
		log.Error("stock restore after failed persist did not succeed, queueing", zap.Error(errRestore))
		o.queueRestore(ctx, key, reserved, errRestore, log)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// queueRestore hands stock that could not go back inline to the recovery poller
func (o *Orchestrator) queueRestore(ctx context.Context, key string, lines []domain.StockLine, cause error, log *zap.Logger) {
	if err := o.orders.EnqueueRestore(context.WithoutCancel(ctx), key, lines, cause.Error()); err != nil {
		log.Error("failed to queue stock restore", zap.String("key", key), zap.Any("lines", lines), zap.Error(err))
	}
}

// redeemPoints deducts the points the order used, keyed by the order id so retries apply once.
// If the deduction cannot be made the order is cancelled, which hands its stock back.
func (o *Orchestrator) redeemPoints(ctx context.Context, owner domain.CartOwner, order *domain.Order, log *zap.Logger) error {
	if order.PointsRedeemed == 0 {
		return nil
	}
	// the order is stored, so the deduction outlives the request
	ctx = context.WithoutCancel(ctx)
	err := o.deductPoints(ctx, order.ID.String(), owner.ID, order.PointsRedeemed)
	if err == nil {
		return nil
	}

	shortfall := errors.Is(err, loyalty.ErrInsufficientBalance)
	if shortfall {
		log.Warn("loyalty balance changed during checkout, cancelling order", zap.Int64("points", order.PointsRedeemed))
	} else {
		log.Error("failed to deduct loyalty points, cancelling order", zap.Int64("points", order.PointsRedeemed), zap.Error(err))
	}

	if _, errCancel := o.canceller.Cancel(ctx, order.ID); errCancel != nil {
		log.Error("failed to cancel order after points were not deducted", zap.Error(errCancel))
		return fmt.Errorf("%w: order %s not cancelled after points deduction failed: %w", ErrPersistence, order.ID, errors.Join(err, errCancel))
	}
	if shortfall {
		return fmt.Errorf("%w: balance no longer covers %d points", pricing.ErrInsufficientPoints, order.PointsRedeemed)
	}
	return fmt.Errorf("%w: deduct loyalty points: %w", ErrPersistence, err)
}

func (o *Orchestrator) deductPoints(ctx context.Context, key, userID string, points int64) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.retry.InitialInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := o.loyalty.Deduct(ctx, key, userID, points)
		if errors.Is(err, loyalty.ErrInsufficientBalance) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(o.retry.MaxTries),
		backoff.WithMaxElapsedTime(o.retry.MaxElapsed),
	)
	return err
}
