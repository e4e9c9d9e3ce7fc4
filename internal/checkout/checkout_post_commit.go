package checkout

import (
	"context"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"go.uber.org/zap"
)

// afterCommit clears purchased lines and announces the order. Neither step can undo the order.
// The announcement runs in the background so a slow broker never holds the response.
func (o *Orchestrator) afterCommit(ctx context.Context, owner domain.CartOwner, purchased []int64, order *domain.Order, log *zap.Logger) {
	ctx = context.WithoutCancel(ctx)

	if err := o.carts.RemoveLines(ctx, owner, purchased...); err != nil {
		log.Warn("failed to remove purchased lines from cart", zap.Int64s("variant_ids", purchased), zap.Error(err))
	}

	o.notifications.Add(1)
	go func() {
		defer o.notifications.Done()
		if err := o.notifier.NotifyOrderCreated(ctx, order); err != nil {
			log.Warn("order notification failed", zap.Error(err))
		}
	}()
}
