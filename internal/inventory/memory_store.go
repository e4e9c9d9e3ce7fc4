package inventory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

// MemoryStore implements StockStore with one atomic counter per variant
type MemoryStore struct {
	mu       sync.RWMutex
	stocks   map[int64]*atomic.Int64 // variantID -> stock count
	restored map[string]struct{}
	keysMu   sync.Mutex
}

// NewMemoryStore creates a new in-memory stock store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks:   make(map[int64]*atomic.Int64),
		restored: make(map[string]struct{}),
	}
}

func (s *MemoryStore) counter(variantID int64) (*atomic.Int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.stocks[variantID]
	if !ok {
		return nil, ErrVariantNotFound
	}
	return c, nil
}

// TryDecrement runs a compare-and-swap loop so the check and the write are one step
func (s *MemoryStore) TryDecrement(_ context.Context, variantID, qty int64) (bool, error) {
	c, err := s.counter(variantID)
	if err != nil {
		return false, err
	}
	for {
		current := c.Load()
		if current < qty {
			return false, nil
		}
		if c.CompareAndSwap(current, current-qty) {
			return true, nil
		}
	}
}

func (s *MemoryStore) Increment(_ context.Context, variantID, qty int64) error {
	c, err := s.counter(variantID)
	if err != nil {
		return err
	}
	c.Add(qty)
	return nil
}

func (s *MemoryStore) RestoreOnce(_ context.Context, key string, lines []domain.StockLine) (bool, error) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()

	if _, done := s.restored[key]; done {
		return false, nil
	}
	counters := make([]*atomic.Int64, len(lines))
	for i, l := range lines {
		c, err := s.counter(l.VariantID)
		if err != nil {
			return false, err
		}
		counters[i] = c
	}
	for i, l := range lines {
		counters[i].Add(l.Quantity)
	}
	s.restored[key] = struct{}{}
	return true, nil
}

func (s *MemoryStore) Stock(_ context.Context, variantID int64) (int64, error) {
	c, err := s.counter(variantID)
	if err != nil {
		return 0, err
	}
	return c.Load(), nil
}

// SetStock sets the stock level for a variant (used for initialization)
func (s *MemoryStore) SetStock(variantID, quantity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := &atomic.Int64{}
	c.Store(quantity)
	s.stocks[variantID] = c
}
