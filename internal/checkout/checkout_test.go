package checkout

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/catalog"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/inventory"
	"github.com/fjod/go_cart/storefront-checkout/internal/loyalty"
	"github.com/fjod/go_cart/storefront-checkout/internal/orders"
	"github.com/fjod/go_cart/storefront-checkout/internal/pricing"
	"github.com/fjod/go_cart/storefront-checkout/internal/voucher"
	"github.com/fjod/go_cart/storefront-checkout/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	now   = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	alice = domain.UserOwner("alice")
)

type fixture struct {
	carts    *MockCarts
	catalog  *catalog.MemoryStore
	stock    *inventory.MemoryStore
	stockSvc *MockStock
	orders   *MockOrders
	loyalty  *loyalty.MemoryStore
	notifier *MockNotifier
	metrics  *metrics.Metrics
	// canceller replaces the state machine when set
	canceller Canceller
	o         *Orchestrator
}

// newFixture stocks two variants priced 400,000 and 200,000, a 100,000 voucher and 500 points for alice
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		carts:    NewMockCarts(),
		catalog:  catalog.NewMemoryStore(),
		stock:    inventory.NewMemoryStore(),
		orders:   &MockOrders{MemoryRepository: orders.NewMemoryRepository()},
		loyalty:  loyalty.NewMemoryStore(),
		notifier: &MockNotifier{},
		metrics:  metrics.New(prometheus.NewRegistry(), "test"),
	}
	f.catalog.PutVariant(domain.Variant{ID: 1, SKU: "TEE-M", UnitPrice: 400000})
	f.catalog.PutVariant(domain.Variant{ID: 2, SKU: "CAP", UnitPrice: 200000})
	f.catalog.PutVariant(domain.Variant{ID: 3, SKU: "SOCKS", UnitPrice: 50000})
	f.stock.SetStock(1, 10)
	f.stock.SetStock(2, 10)
	f.stock.SetStock(3, 10)
	require.NoError(t, f.loyalty.Credit(context.Background(), "alice", 500))

	fast := inventory.RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond, MaxElapsed: time.Second}
	f.stockSvc = &MockStock{Service: inventory.NewService(f.stock, fast, nil, nil)}

	f.carts.Put(alice,
		domain.CartLine{VariantID: 1, Quantity: 2, Checked: true},
		domain.CartLine{VariantID: 2, Quantity: 1, Checked: true},
		domain.CartLine{VariantID: 3, Quantity: 4},
	)
	f.build(f.loyalty)
	return f
}

func (f *fixture) build(l loyalty.Store) {
	var canceller Canceller = orders.NewStateMachine(f.orders.MemoryRepository, f.stockSvc, nil, nil)
	if f.canceller != nil {
		canceller = f.canceller
	}
	f.o = NewOrchestrator(Deps{
		Carts:   f.carts,
		Catalog: f.catalog,
		Vouchers: voucher.NewMemoryStore(
			domain.Voucher{Code: "SAVE100K", Kind: domain.DiscountFixedAmount, Value: decimal.NewFromInt(100000)},
			domain.Voucher{Code: "BROKEN", Kind: domain.DiscountPercent, Value: decimal.NewFromInt(150)},
		),
		Loyalty:   l,
		Pricing:   pricing.NewEngine(pricing.Config{PointValue: 1000, ShippingFee: 30000, FreeShippingThreshold: 500000}),
		Stock:     f.stockSvc,
		Orders:    f.orders,
		Canceller: canceller,
		Notifier:  f.notifier,
		Retry:     inventory.RetryPolicy{MaxTries: 3, InitialInterval: time.Millisecond, MaxElapsed: time.Second},
	}, nil, f.metrics)
	f.o.now = func() time.Time { return now }
}

func (f *fixture) stockOf(t *testing.T, id int64) int64 {
	t.Helper()
	n, err := f.stock.Stock(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (f *fixture) outcomes(outcome string) float64 {
	return testutil.ToFloat64(f.metrics.Checkouts.WithLabelValues(outcome))
}

func TestCheckout_PlacesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.o.Checkout(ctx, Request{
		Owner:              alice,
		SelectedVariantIDs: []int64{1, 2},
		VoucherCode:        " save100k ",
		PointsToRedeem:     200,
	})
	require.NoError(t, err)

	// 1,000,000 - 100,000 voucher - 200 points x 1,000 = 700,000, shipping waived
	assert.Equal(t, int64(1000000), res.Pricing.Subtotal)
	assert.Equal(t, int64(100000), res.Pricing.VoucherDiscount)
	assert.Equal(t, int64(200000), res.Pricing.PointsDiscount)
	assert.Equal(t, int64(0), res.Pricing.ShippingFee)
	assert.Equal(t, int64(700000), res.Pricing.FinalTotal)

	order, err := f.orders.Get(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status())
	assert.Equal(t, "alice", *order.OwnerRef)
	assert.Equal(t, "SAVE100K", *order.VoucherApplied)
	assert.Equal(t, int64(200), order.PointsRedeemed)
	assert.Equal(t, int64(700000), order.FinalTotal)
	assert.Equal(t, DefaultPaymentMethod, order.PaymentMethod)
	assert.Equal(t, []domain.OrderLine{
		{VariantID: 1, Quantity: 2, UnitPriceAtPurchase: 400000, OriginalUnitPrice: 400000},
		{VariantID: 2, Quantity: 1, UnitPriceAtPurchase: 200000, OriginalUnitPrice: 200000},
	}, order.Lines)
	assert.True(t, order.CreatedAt.Equal(now))

	assert.Equal(t, int64(8), f.stockOf(t, 1))
	assert.Equal(t, int64(9), f.stockOf(t, 2))
	assert.Equal(t, int64(10), f.stockOf(t, 3))

	balance, _ := f.loyalty.Balance(ctx, "alice")
	assert.Equal(t, int64(300), balance)

	f.o.Wait()
	assert.ElementsMatch(t, []int64{1, 2}, f.carts.Removed[alice.Key()])
	cart, _ := f.carts.GetCart(ctx, alice)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, int64(3), cart.Lines[0].VariantID)

	assert.Equal(t, 1, f.notifier.Count())
	assert.Equal(t, float64(1), f.outcomes("success"))
}

func TestCheckout_PromotionPricesOrderLines(t *testing.T) {
	f := newFixture(t)
	f.catalog.PutPromotion(domain.Promotion{
		ID: 9, AppliedVariantIDs: domain.NewVariantSet(1),
		Kind: domain.DiscountPercent, Value: decimal.NewFromInt(25),
		StartAt: now.Add(-time.Hour), EndAt: now.Add(time.Hour), Active: true,
	})

	res, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1}})
	require.NoError(t, err)

	order, err := f.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, int64(300000), order.Lines[0].UnitPriceAtPurchase)
	assert.Equal(t, int64(400000), order.Lines[0].OriginalUnitPrice)
	assert.Equal(t, int64(600000), order.Subtotal)
	assert.Equal(t, int64(600000), order.FinalTotal)
}

func TestCheckout_ShippingFeeBelowThreshold(t *testing.T) {
	f := newFixture(t)
	res, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{2}, PaymentMethod: "CARD"})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), res.Pricing.ShippingFee)
	assert.Equal(t, int64(230000), res.Pricing.FinalTotal)

	order, _ := f.orders.Get(context.Background(), res.OrderID)
	assert.Equal(t, "CARD", order.PaymentMethod)
}

func TestCheckout_RejectsBeforeReserving(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
		outcome string
	}{
		{"empty selection", Request{Owner: alice}, domain.ErrValidation, "validation"},
		{"missing owner", Request{SelectedVariantIDs: []int64{1}}, domain.ErrValidation, "validation"},
		{"negative points", Request{Owner: alice, SelectedVariantIDs: []int64{1}, PointsToRedeem: -1}, domain.ErrValidation, "validation"},
		{"not in cart", Request{Owner: alice, SelectedVariantIDs: []int64{1, 42}}, domain.ErrValidation, "validation"},
		{"unknown voucher", Request{Owner: alice, SelectedVariantIDs: []int64{1}, VoucherCode: "NOPE"}, pricing.ErrInvalidVoucher, "invalid_voucher"},
		{"malformed voucher", Request{Owner: alice, SelectedVariantIDs: []int64{1}, VoucherCode: "broken"}, pricing.ErrInvalidVoucher, "invalid_voucher"},
		{"too many points", Request{Owner: alice, SelectedVariantIDs: []int64{1}, PointsToRedeem: 501}, pricing.ErrInsufficientPoints, "insufficient_points"},
		{"anonymous redeeming points", Request{Owner: domain.AnonymousOwner("s1"), SelectedVariantIDs: []int64{1}, PointsToRedeem: 1}, pricing.ErrInsufficientPoints, "insufficient_points"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.carts.Put(domain.AnonymousOwner("s1"), domain.CartLine{VariantID: 1, Quantity: 1})

			_, err := f.o.Checkout(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)

			assert.Equal(t, int64(10), f.stockOf(t, 1))
			assert.Equal(t, 0, f.notifier.Count())
			assert.Equal(t, float64(1), f.outcomes(tt.outcome))
		})
	}
}

func TestCheckout_VariantMissingFromCatalog(t *testing.T) {
	f := newFixture(t)
	f.carts.Put(alice, domain.CartLine{VariantID: 77, Quantity: 1})

	_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{77}})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.ErrorIs(t, err, catalog.ErrVariantNotFound)
}

func TestCheckout_InsufficientStockReservesNothing(t *testing.T) {
	f := newFixture(t)
	f.stock.SetStock(2, 0)

	_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1, 2}})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	var stockErr *inventory.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, int64(2), stockErr.VariantID)

	assert.Equal(t, int64(10), f.stockOf(t, 1))
	assert.Equal(t, int64(0), f.stockOf(t, 2))
	assert.Empty(t, f.carts.Removed)
	assert.Equal(t, float64(1), f.outcomes("insufficient_stock"))
}

func TestCheckout_PersistFailureRestoresStock(t *testing.T) {
	f := newFixture(t)
	f.orders.CreateErr = errDatabaseDown

	_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1, 2}, PointsToRedeem: 100})
	require.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errDatabaseDown)

	assert.Equal(t, int64(10), f.stockOf(t, 1))
	assert.Equal(t, int64(10), f.stockOf(t, 2))
	balance, _ := f.loyalty.Balance(context.Background(), "alice")
	assert.Equal(t, int64(500), balance)
	assert.Empty(t, f.carts.Removed)
	assert.Equal(t, 0, f.notifier.Count())

	pending, err := f.orders.PendingRestores(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, float64(1), f.outcomes("persistence_failure"))
}

func TestCheckout_PersistAndRestoreFailureQueuesRestore(t *testing.T) {
	f := newFixture(t)
	f.orders.CreateErr = errDatabaseDown
	f.stockSvc.RestoreErr = errDatabaseDown

	_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1}})
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, int64(8), f.stockOf(t, 1))

	pending, err := f.orders.PendingRestores(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []domain.StockLine{{VariantID: 1, Quantity: 2}}, pending[0].Lines)

	// the recovery poller hands the stock back once the store is reachable again
	f.stockSvc.RestoreErr = nil
	sm := orders.NewStateMachine(f.orders.MemoryRepository, f.stockSvc, nil, nil)
	orders.NewRecoveryPoller(f.orders.MemoryRepository, sm, f.stockSvc, nil, time.Minute, time.Minute).RecoverOnce(context.Background())
	assert.Equal(t, int64(10), f.stockOf(t, 1))
}

func TestCheckout_PointsGoneAfterPricingCancelsOrder(t *testing.T) {
	f := newFixture(t)
	f.build(&ShrinkingLoyalty{MemoryStore: loyalty.NewMemoryStore(), Reported: 500})

	_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1}, PointsToRedeem: 100})
	require.ErrorIs(t, err, pricing.ErrInsufficientPoints)

	list, err := f.orders.ListByOwner(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.OrderStatusCancelled, list[0].Status())
	assert.Equal(t, int64(10), f.stockOf(t, 1))
	assert.Empty(t, f.carts.Removed)
}

func TestCheckout_TransientDeductFailureIsRetried(t *testing.T) {
	f := newFixture(t)
	points := &FlakyLoyalty{MemoryStore: f.loyalty}
	points.Failures.Store(2)
	f.build(points)

	res, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1}, PointsToRedeem: 200})
	require.NoError(t, err)
	assert.Equal(t, int32(3), points.Calls.Load())

	balance, _ := f.loyalty.Balance(context.Background(), "alice")
	assert.Equal(t, int64(300), balance)
	order, err := f.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status())
}

func TestCheckout_DeductUnavailableCancelsOrder(t *testing.T) {
	f := newFixture(t)
	points := &FlakyLoyalty{MemoryStore: f.loyalty}
	points.Failures.Store(100)
	f.build(points)

	_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1}, PointsToRedeem: 200})
	require.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errTimeout)
	assert.NotErrorIs(t, err, pricing.ErrInsufficientPoints)
	assert.Equal(t, int32(3), points.Calls.Load())

	list, err := f.orders.ListByOwner(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.OrderStatusCancelled, list[0].Status())

	balance, _ := f.loyalty.Balance(context.Background(), "alice")
	assert.Equal(t, int64(500), balance)
	assert.Equal(t, int64(10), f.stockOf(t, 1))
	assert.Empty(t, f.carts.Removed)
	assert.Equal(t, 0, f.notifier.Count())
	assert.Equal(t, float64(1), f.outcomes("persistence_failure"))
}

func TestCheckout_FailedCompensatingCancelIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.canceller = FailingCanceller{Err: errDatabaseDown}
	f.build(&ShrinkingLoyalty{MemoryStore: loyalty.NewMemoryStore(), Reported: 500})

	_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1}, PointsToRedeem: 100})
	require.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, errDatabaseDown)
	assert.NotErrorIs(t, err, pricing.ErrInsufficientPoints)
	assert.Equal(t, float64(1), f.outcomes("persistence_failure"))
}

func TestCheckout_IncompleteRollbackQueuesRestore(t *testing.T) {
	f := newFixture(t)
	f.stock.SetStock(2, 0)
	fast := inventory.RetryPolicy{MaxTries: 2, InitialInterval: time.Millisecond, MaxElapsed: time.Second}
	f.stockSvc = &MockStock{Service: inventory.NewService(StuckIncrementStore{MemoryStore: f.stock}, fast, nil, nil)}
	f.build(f.loyalty)

	_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1, 2}})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	assert.ErrorIs(t, err, inventory.ErrRollbackFailed)
	assert.Equal(t, int64(8), f.stockOf(t, 1))

	pending, err := f.orders.PendingRestores(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, []domain.StockLine{{VariantID: 1, Quantity: 2}}, pending[0].Lines)

	sm := orders.NewStateMachine(f.orders.MemoryRepository, f.stockSvc, nil, nil)
	orders.NewRecoveryPoller(f.orders.MemoryRepository, sm, f.stockSvc, nil, time.Minute, time.Minute).RecoverOnce(context.Background())
	assert.Equal(t, int64(10), f.stockOf(t, 1))
	pending, err = f.orders.PendingRestores(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCheckout_SlowNotifierDoesNotHoldResponse(t *testing.T) {
	f := newFixture(t)
	f.notifier.Block = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1}})
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		close(f.notifier.Block)
		t.Fatal("checkout waited for the notifier")
	}
	assert.Equal(t, 0, f.notifier.Count())

	close(f.notifier.Block)
	f.o.Wait()
	assert.Equal(t, 1, f.notifier.Count())
}

func TestCheckout_PostCommitFailuresKeepOrder(t *testing.T) {
	f := newFixture(t)
	f.notifier.Err = errDatabaseDown
	f.carts.RemoveErr = errDatabaseDown

	res, err := f.o.Checkout(context.Background(), Request{Owner: alice, SelectedVariantIDs: []int64{1}})
	require.NoError(t, err)
	f.o.Wait()

	order, err := f.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, order.Status())
	assert.Equal(t, int64(8), f.stockOf(t, 1))
}

func TestCheckout_AnonymousOrderHasNoOwner(t *testing.T) {
	f := newFixture(t)
	guest := domain.AnonymousOwner("session-1")
	f.carts.Put(guest, domain.CartLine{VariantID: 3, Quantity: 1})

	res, err := f.o.Checkout(context.Background(), Request{Owner: guest, SelectedVariantIDs: []int64{3, 3}})
	require.NoError(t, err)

	order, err := f.orders.Get(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Nil(t, order.OwnerRef)
	assert.Equal(t, int64(9), f.stockOf(t, 3))
}

func TestCheckout_LastUnitSoldOnce(t *testing.T) {
	f := newFixture(t)
	f.stock.SetStock(2, 1)

	const buyers = 8
	owners := make([]domain.CartOwner, buyers)
	for i := range owners {
		owners[i] = domain.AnonymousOwner("buyer-" + string(rune('a'+i)))
		f.carts.Put(owners[i], domain.CartLine{VariantID: 2, Quantity: 1})
	}

	var (
		wg   sync.WaitGroup
		sold atomic.Int32
	)
	for _, owner := range owners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.o.Checkout(context.Background(), Request{Owner: owner, SelectedVariantIDs: []int64{2}})
			if err == nil {
				sold.Add(1)
				return
			}
			assert.ErrorIs(t, err, inventory.ErrInsufficientStock)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), sold.Load())
	assert.Equal(t, int64(0), f.stockOf(t, 2))
}
