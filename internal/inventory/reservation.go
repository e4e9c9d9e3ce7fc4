package inventory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/fjod/go_cart/storefront-checkout/pkg/logger"
	"github.com/fjod/go_cart/storefront-checkout/pkg/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AttemptState tracks one reservation attempt:
// Pending -> AllChecked -> Committed, or Pending -> Failed -> RolledBack
type AttemptState string

const (
	AttemptPending    AttemptState = "PENDING"
	AttemptAllChecked AttemptState = "ALL_CHECKED"
	AttemptCommitted  AttemptState = "COMMITTED"
	AttemptFailed     AttemptState = "FAILED"
	AttemptRolledBack AttemptState = "ROLLED_BACK"
)

// Reservation is the outcome of one Reserve call
type Reservation struct {
	ID              string
	Lines           []domain.StockLine
	State           AttemptState
	FailedVariantID int64
	// Unreleased holds what a failed rollback could not add back. The caller must queue it for restore.
	Unreleased []domain.StockLine
}

type RetryPolicy struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxElapsed      time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxTries:        5,
		InitialInterval: 50 * time.Millisecond,
		MaxElapsed:      5 * time.Second,
	}
}

// Service is the only writer of stock counts
type Service struct {
	store   StockStore
	retry   RetryPolicy
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewService(store StockStore, retry RetryPolicy, log *zap.Logger, m *metrics.Metrics) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Service{store: store, retry: retry, log: log, metrics: m}
}

// Reserve decrements stock for every line or for none of them.
// Lines are processed in ascending variant order so overlapping checkouts never wait on each other in a cycle.
func (s *Service) Reserve(ctx context.Context, lines []domain.StockLine) (*Reservation, error) {
	normalized, err := normalize(lines)
	if err != nil {
		return nil, err
	}

	res := &Reservation{ID: uuid.NewString(), Lines: normalized, State: AttemptPending}
	log := logger.FromContext(ctx, s.log).With(zap.String("reservation_id", res.ID))

	decremented := make([]domain.StockLine, 0, len(normalized))
	var failure error
	for _, line := range normalized {
		ok, err := s.store.TryDecrement(ctx, line.VariantID, line.Quantity)
		if err != nil {
			failure = fmt.Errorf("reserve variant %d: %w", line.VariantID, err)
			res.FailedVariantID = line.VariantID
			break
		}
		if !ok {
			failure = &InsufficientStockError{VariantID: line.VariantID, Requested: line.Quantity}
			res.FailedVariantID = line.VariantID
			break
		}
		decremented = append(decremented, line)
	}

	if failure == nil {
		advance(res, AttemptAllChecked, log)
		advance(res, AttemptCommitted, log)
		return res, nil
	}

	advance(res, AttemptFailed, log)
	s.metrics.ReservationFailed.Inc()
	if leftover, err := s.rollback(ctx, decremented); err != nil {
		res.Unreleased = leftover
		log.Error("stock rollback failed", zap.Error(err), zap.Any("unreleased", leftover))
		return res, errors.Join(failure, err)
	}
	advance(res, AttemptRolledBack, log)
	log.Info("stock reservation rolled back",
		zap.Int64("variant_id", res.FailedVariantID),
		zap.Error(failure))
	return res, failure
}

func advance(res *Reservation, next AttemptState, log *zap.Logger) {
	log.Debug("reservation state", zap.String("from", string(res.State)), zap.String("to", string(next)))
	res.State = next
}

// rollback adds back what this attempt took and returns the lines it could not.
// It outlives a cancelled request context.
func (s *Service) rollback(ctx context.Context, lines []domain.StockLine) ([]domain.StockLine, error) {
	ctx = context.WithoutCancel(ctx)
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		err := s.withRetry(ctx, func() error {
			return s.store.Increment(ctx, line.VariantID, line.Quantity)
		})
		if err != nil {
			return slices.Clone(lines[:i+1]), fmt.Errorf("%w: variant %d: %w", ErrRollbackFailed, line.VariantID, err)
		}
	}
	return nil, nil
}

// Restore adds lines back to stock exactly once per key (the order id).
// A repeated call with the same key is a no-op.
func (s *Service) Restore(ctx context.Context, key string, lines []domain.StockLine) error {
	if key == "" {
		return fmt.Errorf("%w: restore key is required", domain.ErrValidation)
	}
	normalized, err := normalize(lines)
	if err != nil {
		return err
	}

	var applied bool
	err = s.withRetry(ctx, func() error {
		var errRestore error
		applied, errRestore = s.store.RestoreOnce(ctx, key, normalized)
		return errRestore
	})
	if err != nil {
		return fmt.Errorf("restore stock for %s: %w", key, err)
	}

	logger.FromContext(ctx, s.log).Info("stock restored",
		zap.String("key", key),
		zap.Bool("applied", applied),
		zap.Int("lines", len(normalized)))
	return nil
}

func (s *Service) Stock(ctx context.Context, variantID int64) (int64, error) {
	return s.store.Stock(ctx, variantID)
}

func (s *Service) withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retry.InitialInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if attempt > 1 {
			s.metrics.RestoreRetries.Inc()
		}
		err := op()
		if errors.Is(err, ErrVariantNotFound) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.retry.MaxTries),
		backoff.WithMaxElapsedTime(s.retry.MaxElapsed),
	)
	return err
}

// normalize merges duplicate variants and sorts by variant id
func normalize(lines []domain.StockLine) ([]domain.StockLine, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no lines to reserve", domain.ErrValidation)
	}
	byVariant := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for variant %d must be positive", domain.ErrValidation, l.VariantID)
		}
		byVariant[l.VariantID] += l.Quantity
	}
	out := make([]domain.StockLine, 0, len(byVariant))
	for id, qty := range byVariant {
		out = append(out, domain.StockLine{VariantID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}
