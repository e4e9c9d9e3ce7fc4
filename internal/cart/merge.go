package cart

import (
	"slices"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

type MergeResult struct {
	Cart *domain.Cart `json:"cart"`
	// Dropped counts anonymous lines skipped for a non-positive quantity
	Dropped int `json:"dropped"`
}

// Merge folds anonymous lines into the user cart. Matching variants have their
// quantities summed, new variants are appended after the user's lines.
// The user cart is not modified; a new cart is returned.
// Merging the same snapshot twice adds it twice: the caller discards the snapshot after a merge.
func Merge(anonymous []domain.CartLine, user *domain.Cart) MergeResult {
	merged := &domain.Cart{
		ID:        user.ID,
		OwnerKey:  user.OwnerKey,
		Owner:     user.Owner,
		Lines:     slices.Clone(user.Lines),
		CreatedAt: user.CreatedAt,
		UpdatedAt: time.Now(),
	}

	index := make(map[int64]int, len(merged.Lines)+len(anonymous))
	for i, l := range merged.Lines {
		index[l.VariantID] = i
	}

	dropped := 0
	for _, l := range anonymous {
		if l.Quantity <= 0 {
			dropped++
			continue
		}
		if i, ok := index[l.VariantID]; ok {
			merged.Lines[i].Quantity += l.Quantity
			merged.Lines[i].Checked = merged.Lines[i].Checked || l.Checked
			continue
		}
		if l.AddedAt.IsZero() {
			l.AddedAt = merged.UpdatedAt
		}
		index[l.VariantID] = len(merged.Lines)
		merged.Lines = append(merged.Lines, l)
	}

	return MergeResult{Cart: merged, Dropped: dropped}
}
