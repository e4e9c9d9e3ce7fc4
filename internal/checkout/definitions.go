package checkout

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/catalog"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/inventory"
	"github.com/fjod/go_cart/storefront-checkout/internal/loyalty"
	"github.com/fjod/go_cart/storefront-checkout/internal/notification"
	"github.com/fjod/go_cart/storefront-checkout/internal/pricing"
	"github.com/fjod/go_cart/storefront-checkout/internal/voucher"
	"github.com/fjod/go_cart/storefront-checkout/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const DefaultPaymentMethod = "COD"

type Request struct {
	Owner              domain.CartOwner
	SelectedVariantIDs []int64
	VoucherCode        string
	PointsToRedeem     int64
	PaymentMethod      string
}

type Result struct {
	OrderID uuid.UUID       `json:"order_id"`
	Pricing *pricing.Result `json:"pricing"`
}

type Carts interface {
	GetCart(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	RemoveLines(ctx context.Context, owner domain.CartOwner, variantIDs ...int64) error
}

type Stock interface {
	Reserve(ctx context.Context, lines []domain.StockLine) (*inventory.Reservation, error)
	Restore(ctx context.Context, key string, lines []domain.StockLine) error
}

// OrderStore is the part of the order repository checkout writes to
type OrderStore interface {
	Create(ctx context.Context, order *domain.Order) error
	EnqueueRestore(ctx context.Context, key string, lines []domain.StockLine, cause string) error
}

type Canceller interface {
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type Deps struct {
	Carts     Carts
	Catalog   catalog.VariantStore
	Vouchers  voucher.Store
	Loyalty   loyalty.Store
	Pricing   *pricing.Engine
	Stock     Stock
	Orders    OrderStore
	Canceller Canceller
	Notifier  notification.Notifier
	// Retry bounds the points deduction retries. Zero means inventory.DefaultRetryPolicy.
	Retry inventory.RetryPolicy
}

// Orchestrator turns selected cart lines into a placed order
type Orchestrator struct {
	carts     Carts
	catalog   catalog.VariantStore
	vouchers  voucher.Store
	loyalty   loyalty.Store
	pricing   *pricing.Engine
	stock     Stock
	orders    OrderStore
	canceller Canceller
	notifier  notification.Notifier
	retry     inventory.RetryPolicy

	// notifications tracks announcements still in flight
	notifications sync.WaitGroup

	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOrchestrator(deps Deps, log *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	if deps.Notifier == nil {
		deps.Notifier = notification.NewLogNotifier(log)
	}
	if deps.Retry.MaxTries == 0 {
		deps.Retry = inventory.DefaultRetryPolicy()
	}
	return &Orchestrator{
		carts:     deps.Carts,
		catalog:   deps.Catalog,
		vouchers:  deps.Vouchers,
		loyalty:   deps.Loyalty,
		pricing:   deps.Pricing,
		stock:     deps.Stock,
		orders:    deps.Orders,
		canceller: deps.Canceller,
		notifier:  deps.Notifier,
		retry:     deps.Retry,
		log:       log.Named("checkout"),
		metrics:   m,
		now:       time.Now,
	}
}

// Wait blocks until order notifications already started have finished
func (o *Orchestrator) Wait() {
	o.notifications.Wait()
}
