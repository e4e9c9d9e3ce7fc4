package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/catalog"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/pricing"
	"github.com/fjod/go_cart/storefront-checkout/internal/voucher"
)

type quote struct {
	lines   []pricing.Line
	voucher *domain.Voucher
	pricing *pricing.Result
	at      time.Time
}

// quote prices the selection against current catalog prices. It never touches stock.
func (o *Orchestrator) quote(ctx context.Context, req Request, selected []int64) (*quote, error) {
	cart, err := o.carts.GetCart(ctx, req.Owner)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	cartLines := cart.Select(selected)
	if len(cartLines) != len(selected) {
		return nil, fmt.Errorf("%w: selected variants %v are not in the cart", domain.ErrValidation, notInCart(selected, cartLines))
	}

	variants, err := o.catalog.Variants(ctx, selected)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	if missing := catalog.Missing(selected, variants); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %w: %v", domain.ErrValidation, catalog.ErrVariantNotFound, missing)
	}

	now := o.now().UTC()
	promotions, err := o.catalog.ActivePromotions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load promotions: %w", err)
	}

	v, err := o.lookupVoucher(ctx, req.VoucherCode)
	if err != nil {
		return nil, err
	}

	var balance int64
	if req.PointsToRedeem > 0 && !req.Owner.IsAnonymous() {
		balance, err = o.loyalty.Balance(ctx, req.Owner.ID)
		if err != nil {
			return nil, fmt.Errorf("load loyalty balance: %w", err)
		}
	}

	lines := make([]pricing.Line, len(cartLines))
	for i, l := range cartLines {
		lines[i] = pricing.Line{VariantID: l.VariantID, Quantity: l.Quantity, UnitPrice: variants[l.VariantID].UnitPrice}
	}

	result, err := o.pricing.Price(pricing.Request{
		Lines:          lines,
		Promotions:     promotions,
		Voucher:        v,
		PointsToRedeem: req.PointsToRedeem,
		LoyaltyBalance: balance,
		Now:            now,
	})
	if err != nil {
		return nil, err
	}
	return &quote{lines: lines, voucher: v, pricing: result, at: now}, nil
}

func (o *Orchestrator) lookupVoucher(ctx context.Context, code string) (*domain.Voucher, error) {
	code = voucher.Normalize(code)
	if code == "" {
		return nil, nil
	}
	v, err := o.vouchers.Lookup(ctx, code)
	if errors.Is(err, voucher.ErrNotFound) {
		return nil, fmt.Errorf("%w: %q is unknown or inactive", pricing.ErrInvalidVoucher, code)
	}
	if err != nil {
		return nil, fmt.Errorf("look up voucher: %w", err)
	}
	return &v, nil
}

func notInCart(selected []int64, lines []domain.CartLine) []int64 {
	present := make(map[int64]struct{}, len(lines))
	for _, l := range lines {
		present[l.VariantID] = struct{}{}
	}
	var out []int64
	for _, id := range selected {
		if _, ok := present[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
