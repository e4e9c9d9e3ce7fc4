package orders

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/google/uuid"
)

type memoryOrder struct {
	order             domain.Order
	cancelRequestedAt time.Time
}

// MemoryRepository is a Repository for tests and local runs
type MemoryRepository struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*memoryOrder
	restores map[string]*PendingRestore
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:   make(map[uuid.UUID]*memoryOrder),
		restores: make(map[string]*PendingRestore),
	}
}

func copyOrder(o domain.Order) *domain.Order {
	o.Lines = slices.Clone(o.Lines)
	return &o
}

func (r *MemoryRepository) Create(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return ErrOrderExists
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.orders[order.ID] = &memoryOrder{order: *copyOrder(*order)}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return copyOrder(m.order), nil
}

func (r *MemoryRepository) ListByOwner(_ context.Context, ownerRef string, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*domain.Order
	for _, m := range r.orders {
		if m.order.OwnerRef != nil && *m.order.OwnerRef == ownerRef {
			out = append(out, copyOrder(m.order))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) AppendStatus(_ context.Context, id uuid.UUID, expectedVersion int, entry domain.StatusEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if m.order.Version != expectedVersion {
		return ErrVersionConflict
	}
	m.order.StatusHistory = m.order.StatusHistory.Append(entry)
	m.order.Version++
	m.order.CancelPending = false
	m.cancelRequestedAt = time.Time{}
	return nil
}

func (r *MemoryRepository) ClaimCancel(_ context.Context, id uuid.UUID, expectedVersion int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	if m.order.Version != expectedVersion || m.order.CancelPending {
		return ErrVersionConflict
	}
	m.order.CancelPending = true
	m.order.Version++
	m.cancelRequestedAt = at
	return nil
}

func (r *MemoryRepository) PendingCancellations(_ context.Context, olderThan time.Time, limit int) ([]*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*memoryOrder
	for _, m := range r.orders {
		if m.order.CancelPending && !m.cancelRequestedAt.After(olderThan) {
			pending = append(pending, m)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].cancelRequestedAt.Before(pending[j].cancelRequestedAt) })

	out := make([]*domain.Order, 0, len(pending))
	for _, m := range pending {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyOrder(m.order))
	}
	return out, nil
}

func (r *MemoryRepository) EnqueueRestore(_ context.Context, key string, lines []domain.StockLine, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.restores[key]; ok {
		return nil
	}
	r.restores[key] = &PendingRestore{Key: key, Lines: slices.Clone(lines), LastError: cause, CreatedAt: time.Now()}
	return nil
}

func (r *MemoryRepository) PendingRestores(_ context.Context, limit int) ([]PendingRestore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]PendingRestore, 0, len(r.restores))
	for _, p := range r.restores {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) CompleteRestore(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.restores, key)
	return nil
}

func (r *MemoryRepository) RecordRestoreFailure(_ context.Context, key string, cause string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.restores[key]; ok {
		p.Attempts++
		p.LastError = cause
	}
	return nil
}
