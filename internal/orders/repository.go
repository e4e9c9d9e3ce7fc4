package orders

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderExists     = errors.New("order already exists")
	ErrVersionConflict = errors.New("order was modified concurrently")
)

// PendingRestore is a stock restore the checkout could not complete inline
type PendingRestore struct {
	Key       string
	Lines     []domain.StockLine
	Attempts  int
	LastError string
	CreatedAt time.Time
}

// Repository persists orders. Status changes are appended, never overwritten,
// and every write that touches status is conditional on the order version.
type Repository interface {
	Create(ctx context.Context, order *domain.Order) error
	Get(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*domain.Order, error)

	// AppendStatus adds entry to the history, bumps the version and clears a pending cancel.
	// Returns ErrVersionConflict when the stored version differs from expectedVersion.
	AppendStatus(ctx context.Context, id uuid.UUID, expectedVersion int, entry domain.StatusEntry) error

	// ClaimCancel marks the order as being cancelled and bumps the version.
	// Returns ErrVersionConflict when the version moved or a cancel is already in flight.
	ClaimCancel(ctx context.Context, id uuid.UUID, expectedVersion int, at time.Time) error

	// PendingCancellations lists claimed cancels requested before olderThan
	PendingCancellations(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Order, error)

	EnqueueRestore(ctx context.Context, key string, lines []domain.StockLine, cause string) error
	PendingRestores(ctx context.Context, limit int) ([]PendingRestore, error)
	CompleteRestore(ctx context.Context, key string) error
	RecordRestoreFailure(ctx context.Context, key string, cause string) error
}
