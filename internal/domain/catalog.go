package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Variant is a purchasable configuration of a product. StockCount is never negative.
type Variant struct {
	ID         int64  `json:"id"`
	SKU        string `json:"sku"`
	UnitPrice  int64  `json:"unit_price"`
	StockCount int64  `json:"stock_count"`
}

// DiscountKind is shared by promotions and vouchers
type DiscountKind string

const (
	DiscountPercent     DiscountKind = "PERCENT"
	DiscountFixedAmount DiscountKind = "FIXED_AMOUNT"
)

func (k DiscountKind) Valid() bool {
	return k == DiscountPercent || k == DiscountFixedAmount
}

// VariantSet is the set of variants a promotion applies to
type VariantSet map[int64]struct{}

func NewVariantSet(ids ...int64) VariantSet {
	s := make(VariantSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s VariantSet) Contains(id int64) bool {
	_, ok := s[id]
	return ok
}

func (s VariantSet) IDs() []int64 {
	ids := make([]int64, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// Promotion is a time-bounded discount rule scoped to a set of variants.
// For DiscountPercent Value is a percentage, for DiscountFixedAmount it is money.
type Promotion struct {
	ID                int64
	Name              string
	AppliedVariantIDs VariantSet
	Kind              DiscountKind
	Value             decimal.Decimal
	StartAt           time.Time
	EndAt             time.Time
	Active            bool
}

// LiveAt reports whether the promotion is active and now lies in [StartAt, EndAt]
func (p Promotion) LiveAt(now time.Time) bool {
	return p.Active && !now.Before(p.StartAt) && !now.After(p.EndAt)
}

// Voucher is an order-level discount code applied once to the subtotal
type Voucher struct {
	Code  string
	Kind  DiscountKind
	Value decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Validate checks the voucher is well formed: percent in (0, 100], fixed amount a positive integer
func (v Voucher) Validate() bool {
	if v.Code == "" || !v.Kind.Valid() || !v.Value.IsPositive() {
		return false
	}
	if v.Kind == DiscountPercent {
		return v.Value.LessThanOrEqual(hundred)
	}
	return v.Value.Equal(v.Value.Truncate(0))
}

// PercentOf returns floor(amount * percent / 100)
func PercentOf(amount int64, percent decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(percent).Div(hundred).Floor().IntPart()
}
