package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/database"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/google/uuid"
)

// SQLRepository stores orders in postgres or sqlite. The status history lives in its own table.
type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const orderColumns = `id, owner_ref, lines, voucher_applied, points_redeemed, subtotal, voucher_discount,
	points_discount, discount_total, shipping_fee, final_total, payment_method, version, cancel_pending, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		o         domain.Order
		ownerRef  sql.NullString
		voucher   sql.NullString
		linesJSON []byte
	)
	err := row.Scan(
		&o.ID,
		&ownerRef,
		&linesJSON,
		&voucher,
		&o.PointsRedeemed,
		&o.Subtotal,
		&o.VoucherDiscount,
		&o.PointsDiscount,
		&o.DiscountTotal,
		&o.ShippingFee,
		&o.FinalTotal,
		&o.PaymentMethod,
		&o.Version,
		&o.CancelPending,
		&o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if ownerRef.Valid {
		o.OwnerRef = &ownerRef.String
	}
	if voucher.Valid {
		o.VoucherApplied = &voucher.String
	}
	if err := json.Unmarshal(linesJSON, &o.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal order lines: %w", err)
	}
	return &o, nil
}

func (r *SQLRepository) Create(ctx context.Context, order *domain.Order) error {
	linesJSON, err := json.Marshal(order.Lines)
	if err != nil {
		return fmt.Errorf("failed to marshal order lines: %w", err)
	}
	if order.Version == 0 {
		order.Version = 1
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		order.ID,
		order.OwnerRef,
		string(linesJSON),
		order.VoucherApplied,
		order.PointsRedeemed,
		order.Subtotal,
		order.VoucherDiscount,
		order.PointsDiscount,
		order.DiscountTotal,
		order.ShippingFee,
		order.FinalTotal,
		order.PaymentMethod,
		order.Version,
		order.CancelPending,
		order.CreatedAt.UTC(),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrOrderExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, e := range order.StatusHistory.Entries() {
		if err := insertHistory(ctx, tx, order.ID, i+1, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit order: %w", err)
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sql.Tx, id uuid.UUID, seq int, e domain.StatusEntry) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_status_history (order_id, seq, status, at) VALUES ($1, $2, $3, $4)`,
		id, seq, string(e.Status), e.At.UTC())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	if err := r.loadHistory(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *SQLRepository) loadHistory(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT status, at FROM order_status_history WHERE order_id = $1 ORDER BY seq`, order.ID)
	if err != nil {
		return fmt.Errorf("query status history: %w", err)
	}
	defer rows.Close()

	var entries []domain.StatusEntry
	for rows.Next() {
		var e domain.StatusEntry
		if err := rows.Scan(&e.Status, &e.At); err != nil {
			return fmt.Errorf("scan status history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("row iteration error: %w", err)
	}
	order.StatusHistory = domain.NewStatusHistory(entries...)
	return nil
}

func (r *SQLRepository) queryOrders(ctx context.Context, query string, args ...any) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	// close before loading histories: sqlite runs on a single connection
	rows.Close()

	for _, o := range orders {
		if err := r.loadHistory(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *SQLRepository) ListByOwner(ctx context.Context, ownerRef string, limit int) ([]*domain.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE owner_ref = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerRef, limit)
}

// versionMismatch tells a missing order apart from a stale version after a conditional update hit no rows
func (r *SQLRepository) versionMismatch(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id uuid.UUID) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return fmt.Errorf("query order: %w", err)
	}
	return ErrVersionConflict
}

func (r *SQLRepository) AppendStatus(ctx context.Context, id uuid.UUID, expectedVersion int, entry domain.StatusEntry) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET version = version + 1, cancel_pending = FALSE, cancel_requested_at = NULL
		 WHERE id = $1 AND version = $2`,
		id, expectedVersion)
	if err != nil {
		return fmt.Errorf("update order version: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return r.versionMismatch(ctx, tx, id)
	}

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM order_status_history WHERE order_id = $1`, id).Scan(&seq)
	if err != nil {
		return fmt.Errorf("query status history: %w", err)
	}
	if err := insertHistory(ctx, tx, id, seq+1, entry); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit status: %w", err)
	}
	return nil
}

func (r *SQLRepository) ClaimCancel(ctx context.Context, id uuid.UUID, expectedVersion int, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE orders SET cancel_pending = TRUE, cancel_requested_at = $1, version = version + 1
		 WHERE id = $2 AND version = $3 AND NOT cancel_pending`,
		at.UTC(), id, expectedVersion)
	if err != nil {
		return fmt.Errorf("claim cancel: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return r.versionMismatch(ctx, r.db, id)
	}
	return nil
}

func (r *SQLRepository) PendingCancellations(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE cancel_pending AND cancel_requested_at <= $1
		 ORDER BY cancel_requested_at LIMIT $2`,
		olderThan.UTC(), limit)
}

func (r *SQLRepository) EnqueueRestore(ctx context.Context, key string, lines []domain.StockLine, cause string) error {
	linesJSON, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("failed to marshal restore lines: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO pending_restorations (restore_key, lines, last_error, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (restore_key) DO NOTHING`,
		key, string(linesJSON), cause, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("enqueue restore: %w", err)
	}
	return nil
}

func (r *SQLRepository) PendingRestores(ctx context.Context, limit int) ([]PendingRestore, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT restore_key, lines, attempts, last_error, created_at
		 FROM pending_restorations ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending restores: %w", err)
	}
	defer rows.Close()

	var out []PendingRestore
	for rows.Next() {
		var (
			p         PendingRestore
			linesJSON []byte
		)
		if err := rows.Scan(&p.Key, &linesJSON, &p.Attempts, &p.LastError, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending restore: %w", err)
		}
		if err := json.Unmarshal(linesJSON, &p.Lines); err != nil {
			return nil, fmt.Errorf("unmarshal restore lines: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) CompleteRestore(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM pending_restorations WHERE restore_key = $1`, key); err != nil {
		return fmt.Errorf("complete restore: %w", err)
	}
	return nil
}

func (r *SQLRepository) RecordRestoreFailure(ctx context.Context, key string, cause string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE pending_restorations SET attempts = attempts + 1, last_error = $1 WHERE restore_key = $2`,
		cause, key)
	if err != nil {
		return fmt.Errorf("record restore failure: %w", err)
	}
	return nil
}
