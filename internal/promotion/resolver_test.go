package promotion

import (
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

var now = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func promo(id int64, kind domain.DiscountKind, value int64, variants ...int64) domain.Promotion {
	return domain.Promotion{
		ID:                id,
		AppliedVariantIDs: domain.NewVariantSet(variants...),
		Kind:              kind,
		Value:             decimal.NewFromInt(value),
		StartAt:           now.Add(-time.Hour),
		EndAt:             now.Add(time.Hour),
		Active:            true,
	}
}

func TestResolve_NoPromotions(t *testing.T) {
	res := Resolve(1, 300000, nil, now)

	assert.Equal(t, int64(300000), res.DiscountedPrice)
	assert.Equal(t, int64(0), res.Reduction)
	assert.Equal(t, int64(0), res.PromotionID)
}

func TestResolve_BestDiscountWinsNotSum(t *testing.T) {
	promotions := []domain.Promotion{
		promo(1, domain.DiscountPercent, 10, 7),
		promo(2, domain.DiscountFixedAmount, 50000, 7),
	}

	res := Resolve(7, 300000, promotions, now)

	assert.Equal(t, int64(50000), res.Reduction)
	assert.Equal(t, int64(250000), res.DiscountedPrice)
	assert.Equal(t, int64(2), res.PromotionID)
}

func TestResolve_TieKeepsFirstSeen(t *testing.T) {
	promotions := []domain.Promotion{
		promo(1, domain.DiscountFixedAmount, 30000, 7),
		promo(2, domain.DiscountPercent, 10, 7),
	}

	res := Resolve(7, 300000, promotions, now)

	assert.Equal(t, int64(30000), res.Reduction)
	assert.Equal(t, int64(1), res.PromotionID)
}

func TestResolve_Filters(t *testing.T) {
	inactive := promo(1, domain.DiscountFixedAmount, 90000, 7)
	inactive.Active = false

	expired := promo(2, domain.DiscountFixedAmount, 80000, 7)
	expired.EndAt = now.Add(-time.Minute)

	future := promo(3, domain.DiscountFixedAmount, 70000, 7)
	future.StartAt = now.Add(time.Minute)

	otherVariant := promo(4, domain.DiscountFixedAmount, 60000, 8)
	applicable := promo(5, domain.DiscountFixedAmount, 1000, 7)

	res := Resolve(7, 300000, []domain.Promotion{inactive, expired, future, otherVariant, applicable}, now)

	assert.Equal(t, int64(5), res.PromotionID)
	assert.Equal(t, int64(1000), res.Reduction)
}

func TestResolve_WindowBoundsInclusive(t *testing.T) {
	p := promo(1, domain.DiscountFixedAmount, 100, 7)
	p.StartAt = now
	p.EndAt = now

	res := Resolve(7, 1000, []domain.Promotion{p}, now)
	assert.Equal(t, int64(900), res.DiscountedPrice)
}

func TestResolve_ClampsAtZero(t *testing.T) {
	res := Resolve(7, 30000, []domain.Promotion{promo(1, domain.DiscountFixedAmount, 50000, 7)}, now)

	assert.Equal(t, int64(0), res.DiscountedPrice)
	assert.Equal(t, int64(30000), res.Reduction)
}

func TestResolve_PercentFloors(t *testing.T) {
	p := promo(1, domain.DiscountPercent, 0, 7)
	p.Value = decimal.RequireFromString("12.5")

	res := Resolve(7, 999, []domain.Promotion{p}, now)

	// 999 * 12.5 / 100 = 124.875
	assert.Equal(t, int64(124), res.Reduction)
	assert.Equal(t, int64(875), res.DiscountedPrice)
}
