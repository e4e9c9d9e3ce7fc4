package orders

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/database/dbtest"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

func newTestOrder(owner string, createdAt time.Time) *domain.Order {
	voucher := "WELCOME10"
	return &domain.Order{
		ID:       uuid.New(),
		OwnerRef: &owner,
		Lines: []domain.OrderLine{
			{VariantID: 1, Quantity: 2, UnitPriceAtPurchase: 250000, OriginalUnitPrice: 300000},
			{VariantID: 2, Quantity: 1, UnitPriceAtPurchase: 100000, OriginalUnitPrice: 100000},
		},
		VoucherApplied:  &voucher,
		PointsRedeemed:  10,
		Subtotal:        600000,
		VoucherDiscount: 60000,
		PointsDiscount:  10000,
		DiscountTotal:   70000,
		ShippingFee:     0,
		FinalTotal:      530000,
		PaymentMethod:   "COD",
		StatusHistory:   domain.NewStatusHistory(domain.StatusEntry{Status: domain.OrderStatusPending, At: createdAt}),
		CreatedAt:       createdAt,
	}
}

func testOrderRepository(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		repo := newRepo(t)
		order := newTestOrder("u1", t0)
		require.NoError(t, repo.Create(ctx, order))
		assert.Equal(t, 1, order.Version)

		got, err := repo.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, order.ID, got.ID)
		require.NotNil(t, got.OwnerRef)
		assert.Equal(t, "u1", *got.OwnerRef)
		require.NotNil(t, got.VoucherApplied)
		assert.Equal(t, "WELCOME10", *got.VoucherApplied)
		assert.Equal(t, order.Lines, got.Lines)
		assert.Equal(t, int64(530000), got.FinalTotal)
		assert.Equal(t, "COD", got.PaymentMethod)
		assert.Equal(t, domain.OrderStatusPending, got.Status())
		assert.Equal(t, 1, got.Version)
		assert.False(t, got.CancelPending)
		assert.True(t, got.CreatedAt.Equal(t0))
	})

	t.Run("anonymous order has no owner", func(t *testing.T) {
		repo := newRepo(t)
		order := newTestOrder("", t0)
		order.OwnerRef = nil
		order.VoucherApplied = nil
		require.NoError(t, repo.Create(ctx, order))

		got, err := repo.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Nil(t, got.OwnerRef)
		assert.Nil(t, got.VoucherApplied)
	})

	t.Run("duplicate id", func(t *testing.T) {
		repo := newRepo(t)
		order := newTestOrder("u1", t0)
		require.NoError(t, repo.Create(ctx, order))
		assert.ErrorIs(t, repo.Create(ctx, order), ErrOrderExists)
	})

	t.Run("not found", func(t *testing.T) {
		repo := newRepo(t)
		_, err := repo.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrOrderNotFound)
		assert.ErrorIs(t, repo.AppendStatus(ctx, uuid.New(), 1, domain.StatusEntry{}), ErrOrderNotFound)
		assert.ErrorIs(t, repo.ClaimCancel(ctx, uuid.New(), 1, t0), ErrOrderNotFound)
	})

	t.Run("list by owner newest first", func(t *testing.T) {
		repo := newRepo(t)
		owner := uuid.NewString()
		older := newTestOrder(owner, t0)
		newer := newTestOrder(owner, t0.Add(time.Hour))
		other := newTestOrder(uuid.NewString(), t0)
		for _, o := range []*domain.Order{older, newer, other} {
			require.NoError(t, repo.Create(ctx, o))
		}

		list, err := repo.ListByOwner(ctx, owner, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, newer.ID, list[0].ID)
		assert.Equal(t, older.ID, list[1].ID)
		assert.Equal(t, domain.OrderStatusPending, list[0].Status())

		limited, err := repo.ListByOwner(ctx, owner, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("append status is versioned", func(t *testing.T) {
		repo := newRepo(t)
		order := newTestOrder("u1", t0)
		require.NoError(t, repo.Create(ctx, order))

		require.NoError(t, repo.AppendStatus(ctx, order.ID, 1, domain.StatusEntry{Status: domain.OrderStatusConfirmed, At: t0.Add(time.Minute)}))
		err := repo.AppendStatus(ctx, order.ID, 1, domain.StatusEntry{Status: domain.OrderStatusShipping, At: t0.Add(2 * time.Minute)})
		assert.ErrorIs(t, err, ErrVersionConflict)

		got, err := repo.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, domain.OrderStatusConfirmed, got.Status())
		entries := got.StatusHistory.Entries()
		require.Len(t, entries, 2)
		assert.Equal(t, domain.OrderStatusPending, entries[0].Status)
		assert.Equal(t, domain.OrderStatusConfirmed, entries[1].Status)
	})

	t.Run("claim cancel once", func(t *testing.T) {
		repo := newRepo(t)
		order := newTestOrder("u1", t0)
		require.NoError(t, repo.Create(ctx, order))

		require.NoError(t, repo.ClaimCancel(ctx, order.ID, 1, t0))
		assert.ErrorIs(t, repo.ClaimCancel(ctx, order.ID, 2, t0), ErrVersionConflict)

		got, err := repo.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.True(t, got.CancelPending)
		assert.Equal(t, 2, got.Version)
		assert.Equal(t, domain.OrderStatusPending, got.Status())

		pending, err := repo.PendingCancellations(ctx, t0.Add(time.Minute), 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, order.ID, pending[0].ID)

		notYet, err := repo.PendingCancellations(ctx, t0.Add(-time.Minute), 10)
		require.NoError(t, err)
		assert.Empty(t, notYet)

		require.NoError(t, repo.AppendStatus(ctx, order.ID, 2, domain.StatusEntry{Status: domain.OrderStatusCancelled, At: t0}))
		got, err = repo.Get(ctx, order.ID)
		require.NoError(t, err)
		assert.False(t, got.CancelPending)
		assert.Equal(t, domain.OrderStatusCancelled, got.Status())

		pending, err = repo.PendingCancellations(ctx, t0.Add(time.Hour), 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("restore queue", func(t *testing.T) {
		repo := newRepo(t)
		lines := []domain.StockLine{{VariantID: 1, Quantity: 2}}

		require.NoError(t, repo.EnqueueRestore(ctx, "order-1", lines, "db down"))
		require.NoError(t, repo.EnqueueRestore(ctx, "order-1", lines, "db down again"))

		pending, err := repo.PendingRestores(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, lines, pending[0].Lines)
		assert.Equal(t, "db down", pending[0].LastError)

		require.NoError(t, repo.RecordRestoreFailure(ctx, "order-1", "still down"))
		pending, _ = repo.PendingRestores(ctx, 10)
		assert.Equal(t, 1, pending[0].Attempts)
		assert.Equal(t, "still down", pending[0].LastError)

		require.NoError(t, repo.CompleteRestore(ctx, "order-1"))
		pending, _ = repo.PendingRestores(ctx, 10)
		assert.Empty(t, pending)
	})
}

func TestMemoryRepository(t *testing.T) {
	testOrderRepository(t, func(t *testing.T) Repository { return NewMemoryRepository() })
}

func TestSQLRepository_SQLite(t *testing.T) {
	testOrderRepository(t, func(t *testing.T) Repository { return NewSQLRepository(dbtest.SQLite(t)) })
}

func TestSQLRepository_Postgres(t *testing.T) {
	db := dbtest.Postgres(t)
	// ids are random, so subtests can share one database
	testOrderRepository(t, func(t *testing.T) Repository { return NewSQLRepository(db) })
}
