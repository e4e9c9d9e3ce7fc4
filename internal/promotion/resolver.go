// Package promotion picks the single best promotion for a cart line.
package promotion

import (
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

// Result of resolving a line. PromotionID is zero when nothing applied.
type Result struct {
	UnitPrice       int64
	DiscountedPrice int64
	Reduction       int64
	PromotionID     int64
}

// Resolve returns the best applicable discount for one unit of variantID.
// Promotions never stack: the largest candidate reduction wins, the first one seen on ties.
func Resolve(variantID, unitPrice int64, promotions []domain.Promotion, now time.Time) Result {
	res := Result{UnitPrice: unitPrice, DiscountedPrice: unitPrice}

	var best int64
	found := false
	for _, p := range promotions {
		if !p.LiveAt(now) || !p.AppliedVariantIDs.Contains(variantID) {
			continue
		}
		candidate := max(0, reduction(p, unitPrice))
		if !found || candidate > best {
			best = candidate
			res.PromotionID = p.ID
			found = true
		}
	}
	if !found {
		return res
	}

	res.DiscountedPrice = max(0, unitPrice-best)
	res.Reduction = unitPrice - res.DiscountedPrice
	return res
}

func reduction(p domain.Promotion, unitPrice int64) int64 {
	switch p.Kind {
	case domain.DiscountPercent:
		return domain.PercentOf(unitPrice, p.Value)
	case domain.DiscountFixedAmount:
		return p.Value.IntPart()
	default:
		return 0
	}
}
