package checkout

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/internal/inventory"
	"github.com/fjod/go_cart/storefront-checkout/internal/loyalty"
	"github.com/fjod/go_cart/storefront-checkout/internal/orders"
	"github.com/google/uuid"
)

type MockCarts struct {
	mu        sync.Mutex
	carts     map[string]*domain.Cart
	Removed   map[string][]int64
	GetErr    error
	RemoveErr error
}

func NewMockCarts() *MockCarts {
	return &MockCarts{carts: make(map[string]*domain.Cart), Removed: make(map[string][]int64)}
}

func (m *MockCarts) Put(owner domain.CartOwner, lines ...domain.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := domain.NewCart(owner)
	c.Lines = lines
	m.carts[owner.Key()] = c
}

func (m *MockCarts) GetCart(_ context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.carts[owner.Key()]
	if !ok {
		return domain.NewCart(owner), nil
	}
	cp := *c
	cp.Lines = slices.Clone(c.Lines)
	return &cp, nil
}

func (m *MockCarts) RemoveLines(_ context.Context, owner domain.CartOwner, variantIDs ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	m.Removed[owner.Key()] = append(m.Removed[owner.Key()], variantIDs...)
	if c, ok := m.carts[owner.Key()]; ok {
		c.Lines = slices.DeleteFunc(c.Lines, func(l domain.CartLine) bool {
			return slices.Contains(variantIDs, l.VariantID)
		})
	}
	return nil
}

// MockOrders fails Create when CreateErr is set and otherwise stores in memory
type MockOrders struct {
	*orders.MemoryRepository
	CreateErr  error
	EnqueueErr error
}

func (m *MockOrders) Create(ctx context.Context, order *domain.Order) error {
	if m.CreateErr != nil {
		return m.CreateErr
	}
	return m.MemoryRepository.Create(ctx, order)
}

func (m *MockOrders) EnqueueRestore(ctx context.Context, key string, lines []domain.StockLine, cause string) error {
	if m.EnqueueErr != nil {
		return m.EnqueueErr
	}
	return m.MemoryRepository.EnqueueRestore(ctx, key, lines, cause)
}

type MockStock struct {
	*inventory.Service
	RestoreErr error
}

func (m *MockStock) Restore(ctx context.Context, key string, lines []domain.StockLine) error {
	if m.RestoreErr != nil {
		return m.RestoreErr
	}
	return m.Service.Restore(ctx, key, lines)
}

// ShrinkingLoyalty reports a balance but has already lost it by the time Deduct runs
type ShrinkingLoyalty struct {
	*loyalty.MemoryStore
	Reported int64
}

func (s *ShrinkingLoyalty) Balance(context.Context, string) (int64, error) {
	return s.Reported, nil
}

// FlakyLoyalty fails the next Failures deductions with a transient error
type FlakyLoyalty struct {
	*loyalty.MemoryStore
	Failures atomic.Int32
	Calls    atomic.Int32
}

func (f *FlakyLoyalty) Deduct(ctx context.Context, key, userID string, points int64) error {
	f.Calls.Add(1)
	if f.Failures.Add(-1) >= 0 {
		return errTimeout
	}
	return f.MemoryStore.Deduct(ctx, key, userID, points)
}

type FailingCanceller struct {
	Err error
}

func (f FailingCanceller) Cancel(context.Context, uuid.UUID) (*domain.Order, error) {
	return nil, f.Err
}

// StuckIncrementStore never gives stock back through Increment; keyed restores still work
type StuckIncrementStore struct {
	*inventory.MemoryStore
}

func (s StuckIncrementStore) Increment(context.Context, int64, int64) error {
	return errDatabaseDown
}

type MockNotifier struct {
	mu     sync.Mutex
	Orders []*domain.Order
	Err    error
	// Block, when set, holds every notification until it is closed
	Block chan struct{}
}

func (m *MockNotifier) NotifyOrderCreated(_ context.Context, order *domain.Order) error {
	if m.Block != nil {
		<-m.Block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Orders = append(m.Orders, order)
	return nil
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Orders)
}

var (
	errDatabaseDown = errors.New("database is down")
	errTimeout      = errors.New("i/o timeout")
)
