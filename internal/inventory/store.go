package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

// Common errors returned by the stores and the reservation service
var (
	ErrVariantNotFound   = errors.New("variant not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrRollbackFailed    = errors.New("stock rollback failed")
)

// InsufficientStockError carries the variant that could not be reserved
type InsufficientStockError struct {
	VariantID int64
	Requested int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d (requested %d)", e.VariantID, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// StockStore is the backing store of Variant.StockCount.
// Every method is a single atomic operation against the store.
type StockStore interface {
	// TryDecrement subtracts qty only if the current stock is >= qty
	TryDecrement(ctx context.Context, variantID, qty int64) (bool, error)

	// Increment adds qty back, without any upper bound
	Increment(ctx context.Context, variantID, qty int64) error

	// RestoreOnce adds every line back unless key was already restored.
	// Reports whether the lines were applied by this call.
	RestoreOnce(ctx context.Context, key string, lines []domain.StockLine) (bool, error)

	// Stock returns the current stock of a variant
	Stock(ctx context.Context, variantID int64) (int64, error)
}
