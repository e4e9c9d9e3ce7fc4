package loyalty

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInsufficientBalance means the balance changed below the requested deduction
var ErrInsufficientBalance = errors.New("insufficient loyalty balance")

// Store holds loyalty point balances. A user without a row has zero points.
type Store interface {
	Balance(ctx context.Context, userID string) (int64, error)
	// Deduct subtracts points only if the balance still covers them.
	// It applies at most once per key (the order id); a repeated key is a no-op.
	Deduct(ctx context.Context, key, userID string, points int64) error
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Balance(ctx context.Context, userID string) (int64, error) {
	var points int64
	err := s.db.QueryRowContext(ctx, `SELECT points FROM loyalty_balances WHERE user_id = $1`, userID).Scan(&points)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query loyalty balance: %w", err)
	}
	return points, nil
}

// Deduct records key in loyalty_redemptions and subtracts in the same transaction
func (s *SQLStore) Deduct(ctx context.Context, key, userID string, points int64) error {
	if points <= 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`INSERT INTO loyalty_redemptions (redemption_key, user_id, points, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (redemption_key) DO NOTHING`,
		key, userID, points, now)
	if err != nil {
		return fmt.Errorf("failed to record redemption: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return nil
	}

	result, err = tx.ExecContext(ctx,
		`UPDATE loyalty_balances SET points = points - $1, updated_at = $2 WHERE user_id = $3 AND points >= $1`,
		points, now, userID)
	if err != nil {
		return fmt.Errorf("failed to deduct points: %w", err)
	}
	rows, err = result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrInsufficientBalance
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit redemption: %w", err)
	}
	return nil
}

// Credit adds points, creating the balance row when missing.
// Checkout never credits; this is the hook for seeding balances and for operator adjustments.
func (s *SQLStore) Credit(ctx context.Context, userID string, points int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loyalty_balances (user_id, points, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET points = loyalty_balances.points + excluded.points, updated_at = excluded.updated_at`,
		userID, points, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to credit points: %w", err)
	}
	return nil
}

type MemoryStore struct {
	mu       sync.Mutex
	balances map[string]int64
	redeemed map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{balances: make(map[string]int64), redeemed: make(map[string]struct{})}
}

func (s *MemoryStore) Balance(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) Deduct(_ context.Context, key, userID string, points int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if points <= 0 {
		return nil
	}
	if _, done := s.redeemed[key]; done {
		return nil
	}
	if s.balances[userID] < points {
		return ErrInsufficientBalance
	}
	s.balances[userID] -= points
	s.redeemed[key] = struct{}{}
	return nil
}

// Credit adds points. Used to seed balances.
func (s *MemoryStore) Credit(_ context.Context, userID string, points int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[userID] += points
	return nil
}
