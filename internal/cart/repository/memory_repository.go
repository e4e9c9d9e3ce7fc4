package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

// MemoryRepository is a CartRepository for tests and local runs
type MemoryRepository struct {
	mu    sync.Mutex
	carts map[string]*domain.Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]*domain.Cart)}
}

func cloneCart(c *domain.Cart) *domain.Cart {
	out := *c
	out.Lines = slices.Clone(c.Lines)
	return &out
}

func (r *MemoryRepository) GetCart(_ context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[owner.Key()]
	if !ok {
		return nil, ErrCartNotFound
	}
	return cloneCart(c), nil
}

func (r *MemoryRepository) SaveCart(_ context.Context, cart *domain.Cart) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	stored, ok := r.carts[cart.Owner.Key()]
	if !ok {
		stored = domain.NewCart(cart.Owner)
		r.carts[cart.Owner.Key()] = stored
	}
	stored.Lines = slices.Clone(cart.Lines)
	stored.UpdatedAt = now

	cart.OwnerKey = stored.OwnerKey
	cart.UpdatedAt = now
	return nil
}

func (r *MemoryRepository) AddLine(_ context.Context, owner domain.CartOwner, variantID int64, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[owner.Key()]
	if !ok {
		c = domain.NewCart(owner)
		r.carts[owner.Key()] = c
	}
	now := time.Now()
	c.UpdatedAt = now
	for i := range c.Lines {
		if c.Lines[i].VariantID == variantID {
			c.Lines[i].Quantity += quantity
			return nil
		}
	}
	c.Lines = append(c.Lines, domain.CartLine{VariantID: variantID, Quantity: quantity, Checked: true, AddedAt: now})
	return nil
}

func (r *MemoryRepository) UpdateLineQuantity(_ context.Context, owner domain.CartOwner, variantID int64, quantity int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[owner.Key()]
	if !ok {
		return ErrLineNotFound
	}
	for i := range c.Lines {
		if c.Lines[i].VariantID == variantID {
			c.Lines[i].Quantity = quantity
			c.UpdatedAt = time.Now()
			return nil
		}
	}
	return ErrLineNotFound
}

func (r *MemoryRepository) RemoveLines(_ context.Context, owner domain.CartOwner, variantIDs ...int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.carts[owner.Key()]
	if !ok {
		return ErrCartNotFound
	}
	c.Lines = slices.DeleteFunc(c.Lines, func(l domain.CartLine) bool {
		return slices.Contains(variantIDs, l.VariantID)
	})
	c.UpdatedAt = time.Now()
	return nil
}

func (r *MemoryRepository) DeleteCart(_ context.Context, owner domain.CartOwner) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.carts[owner.Key()]; !ok {
		return ErrCartNotFound
	}
	delete(r.carts, owner.Key())
	return nil
}
