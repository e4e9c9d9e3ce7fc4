package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/pkg/logger"
	"github.com/fjod/go_cart/storefront-checkout/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const optimisticAttempts = 3

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrCancelIncomplete means stock could not be restored yet; the order keeps its status and the cancel is finished later
	ErrCancelIncomplete = errors.New("cancellation not completed")
)

type InvalidTransitionError struct {
	From   domain.OrderStatus
	To     domain.OrderStatus
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot move order from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// Restorer puts an order's stock back, at most once per key
type Restorer interface {
	Restore(ctx context.Context, key string, lines []domain.StockLine) error
}

// StateMachine is the only writer of order status
type StateMachine struct {
	repo    Repository
	stock   Restorer
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewStateMachine(repo Repository, stock Restorer, log *zap.Logger, m *metrics.Metrics) *StateMachine {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &StateMachine{repo: repo, stock: stock, log: log, metrics: m, now: time.Now}
}

func (sm *StateMachine) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return sm.repo.Get(ctx, id)
}

// Transition moves the order to status to. Moving to CANCELLED goes through Cancel.
func (sm *StateMachine) Transition(ctx context.Context, id uuid.UUID, to domain.OrderStatus) (*domain.Order, error) {
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", domain.ErrValidation, to)
	}
	if to == domain.OrderStatusCancelled {
		return sm.Cancel(ctx, id)
	}

	for attempt := 0; attempt < optimisticAttempts; attempt++ {
		order, err := sm.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(order, to); err != nil {
			return nil, err
		}

		entry := domain.StatusEntry{Status: to, At: sm.now().UTC()}
		err = sm.repo.AppendStatus(ctx, id, order.Version, entry)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		sm.metrics.Transitions.WithLabelValues(string(to)).Inc()
		logger.FromContext(ctx, sm.log).Info("order status changed",
			zap.String("order_id", id.String()),
			zap.String("from", string(order.Status())),
			zap.String("to", string(to)))

		order.StatusHistory = order.StatusHistory.Append(entry)
		order.Version++
		return order, nil
	}
	return nil, fmt.Errorf("transition order %s: %w", id, ErrVersionConflict)
}

func checkTransition(order *domain.Order, to domain.OrderStatus) error {
	from := order.Status()
	if order.CancelPending {
		return &InvalidTransitionError{From: from, To: to, Reason: "cancellation in progress"}
	}
	if !domain.CanTransitionTo(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// Cancel claims the order, restores its stock and only then appends CANCELLED,
// so a cancelled status is never visible before the stock is back.
// A second or concurrent cancel fails with InvalidTransition and restores nothing.
func (sm *StateMachine) Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	for attempt := 0; attempt < optimisticAttempts; attempt++ {
		order, err := sm.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(order, domain.OrderStatusCancelled); err != nil {
			return nil, err
		}

		err = sm.repo.ClaimCancel(ctx, id, order.Version, sm.now().UTC())
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		order.Version++
		order.CancelPending = true

		return sm.finishCancel(ctx, order)
	}
	return nil, fmt.Errorf("cancel order %s: %w", id, ErrVersionConflict)
}

// Resume finishes a claimed cancel whose restore failed earlier
func (sm *StateMachine) Resume(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if !order.CancelPending {
		return order, nil
	}
	return sm.finishCancel(ctx, order)
}

func (sm *StateMachine) finishCancel(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	log := logger.FromContext(ctx, sm.log).With(zap.String("order_id", order.ID.String()))

	if err := sm.stock.Restore(ctx, order.ID.String(), order.StockLines()); err != nil {
		log.Error("stock restore for cancellation failed, will retry", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCancelIncomplete, err)
	}

	from := order.Status()
	entry := domain.StatusEntry{Status: domain.OrderStatusCancelled, At: sm.now().UTC()}
	err := sm.repo.AppendStatus(ctx, order.ID, order.Version, entry)
	if errors.Is(err, ErrVersionConflict) {
		// another worker finished the same claim
		current, getErr := sm.repo.Get(ctx, order.ID)
		if getErr == nil && current.Status() == domain.OrderStatusCancelled {
			return nil, &InvalidTransitionError{From: domain.OrderStatusCancelled, To: domain.OrderStatusCancelled}
		}
		return nil, fmt.Errorf("%w: %w", ErrCancelIncomplete, err)
	}
	if err != nil {
		log.Error("append cancelled status failed, will retry", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrCancelIncomplete, err)
	}

	sm.metrics.Transitions.WithLabelValues(string(domain.OrderStatusCancelled)).Inc()
	log.Info("order cancelled", zap.String("from", string(from)))

	order.StatusHistory = order.StatusHistory.Append(entry)
	order.Version++
	order.CancelPending = false
	return order, nil
}

// ListByOwner returns the owner's orders, newest first
func (sm *StateMachine) ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*domain.Order, error) {
	return sm.repo.ListByOwner(ctx, ownerRef, limit)
}
