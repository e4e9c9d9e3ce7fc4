package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

// CartCache is a read-through copy of carts keyed by owner
type CartCache interface {
	Get(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	Set(ctx context.Context, cart *domain.Cart) error
	Delete(ctx context.Context, owners ...domain.CartOwner) error
}

var ErrCacheMiss = errors.New("cache miss")
