package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

// SQLStore keeps stock in the variants table. Works on postgres and sqlite.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// TryDecrement is a single conditional UPDATE; zero affected rows means short stock or unknown variant
func (s *SQLStore) TryDecrement(ctx context.Context, variantID, qty int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE variants SET stock_count = stock_count - $1 WHERE id = $2 AND stock_count >= $1`,
		qty, variantID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	if _, err := s.Stock(ctx, variantID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *SQLStore) Increment(ctx context.Context, variantID, qty int64) error {
	return increment(ctx, s.db, variantID, qty)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func increment(ctx context.Context, db execer, variantID, qty int64) error {
	result, err := db.ExecContext(ctx,
		`UPDATE variants SET stock_count = stock_count + $1 WHERE id = $2`,
		qty, variantID)
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return ErrVariantNotFound
	}
	return nil
}

// RestoreOnce records key in stock_restorations and increments in the same transaction
func (s *SQLStore) RestoreOnce(ctx context.Context, key string, lines []domain.StockLine) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`INSERT INTO stock_restorations (restore_key, created_at) VALUES ($1, $2) ON CONFLICT (restore_key) DO NOTHING`,
		key, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to record restoration: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	for _, l := range lines {
		if err := increment(ctx, tx, l.VariantID, l.Quantity); err != nil {
			return false, fmt.Errorf("variant %d: %w", l.VariantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit restoration: %w", err)
	}
	return true, nil
}

func (s *SQLStore) Stock(ctx context.Context, variantID int64) (int64, error) {
	var stock int64
	err := s.db.QueryRowContext(ctx, `SELECT stock_count FROM variants WHERE id = $1`, variantID).Scan(&stock)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrVariantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	return stock, nil
}
