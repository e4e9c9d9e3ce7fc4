package catalog

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

// MemoryStore is an in-memory VariantStore for tests and local runs
type MemoryStore struct {
	mu         sync.RWMutex
	variants   map[int64]domain.Variant
	promotions []domain.Promotion
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{variants: make(map[int64]domain.Variant)}
}

func (s *MemoryStore) PutVariant(v domain.Variant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.variants[v.ID] = v
}

func (s *MemoryStore) PutPromotion(p domain.Promotion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.promotions = append(s.promotions, p)
}

func (s *MemoryStore) Variants(_ context.Context, ids []int64) (map[int64]domain.Variant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[int64]domain.Variant, len(ids))
	for _, id := range ids {
		if v, ok := s.variants[id]; ok {
			out[id] = v
		}
	}
	return out, nil
}

func (s *MemoryStore) ActivePromotions(_ context.Context, now time.Time) ([]domain.Promotion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var live []domain.Promotion
	for _, p := range s.promotions {
		if p.LiveAt(now) {
			live = append(live, p)
		}
	}
	return live, nil
}
