package voucher

import (
	"context"
	"testing"

	"github.com/fjod/go_cart/storefront-checkout/internal/database/dbtest"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLStore_Lookup(t *testing.T) {
	db := dbtest.SQLite(t)
	_, err := db.Exec(`INSERT INTO vouchers (code, kind, value, active) VALUES ($1, $2, $3, $4), ($5, $6, $7, $8)`,
		"WELCOME10", "PERCENT", "10", true,
		"OLD", "FIXED_AMOUNT", "5000", false)
	require.NoError(t, err)
	store := NewSQLStore(db)

	v, err := store.Lookup(context.Background(), "  welcome10 ")
	require.NoError(t, err)
	assert.Equal(t, "WELCOME10", v.Code)
	assert.Equal(t, domain.DiscountPercent, v.Kind)
	assert.True(t, v.Value.Equal(decimal.NewFromInt(10)))

	_, err = store.Lookup(context.Background(), "OLD")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Lookup(context.Background(), "MISSING")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Lookup(t *testing.T) {
	store := NewMemoryStore(domain.Voucher{Code: "Fixed", Kind: domain.DiscountFixedAmount, Value: decimal.NewFromInt(100)})

	v, err := store.Lookup(context.Background(), "FIXED")
	require.NoError(t, err)
	assert.Equal(t, domain.DiscountFixedAmount, v.Kind)

	_, err = store.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
