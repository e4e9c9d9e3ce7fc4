package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

var ErrVariantNotFound = errors.New("variant not found")

// VariantStore is the read side of the product catalog used by pricing and checkout
type VariantStore interface {
	// Variants returns the known variants among ids, keyed by id. Unknown ids are omitted.
	Variants(ctx context.Context, ids []int64) (map[int64]domain.Variant, error)

	// ActivePromotions returns the promotions live at now
	ActivePromotions(ctx context.Context, now time.Time) ([]domain.Promotion, error)
}

// Missing returns the ids that are absent from found
func Missing(ids []int64, found map[int64]domain.Variant) []int64 {
	var missing []int64
	for _, id := range ids {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}
