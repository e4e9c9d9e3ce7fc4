package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

var (
	ErrCartNotFound = errors.New("cart not found")
	ErrLineNotFound = errors.New("line not found in cart")
)

// CartRepository stores one cart per CartOwner.
// Consumers define this interface, not the MongoDB implementation
type CartRepository interface {
	GetCart(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error)
	// SaveCart replaces the owner's lines, creating the cart when missing
	SaveCart(ctx context.Context, cart *domain.Cart) error
	// AddLine adds quantity to the variant's line, appending it when absent
	AddLine(ctx context.Context, owner domain.CartOwner, variantID int64, quantity int) error
	UpdateLineQuantity(ctx context.Context, owner domain.CartOwner, variantID int64, quantity int) error
	RemoveLines(ctx context.Context, owner domain.CartOwner, variantIDs ...int64) error
	DeleteCart(ctx context.Context, owner domain.CartOwner) error
}
