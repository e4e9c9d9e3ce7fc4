package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/shopspring/decimal"
)

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func placeholders(n int) string {
	p := make([]string, n)
	for i := range p {
		p[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(p, ", ")
}

func (s *SQLStore) Variants(ctx context.Context, ids []int64) (map[int64]domain.Variant, error) {
	out := make(map[int64]domain.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query := `
		SELECT id, sku, unit_price, stock_count
		FROM variants
		WHERE id IN (` + placeholders(len(ids)) + `)
	`
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.ID, &v.SKU, &v.UnitPrice, &v.StockCount); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		out[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

// ActivePromotions loads active promotions with their variant sets.
// The time window is checked in Go so the comparison does not depend on how the driver stores timestamps.
func (s *SQLStore) ActivePromotions(ctx context.Context, now time.Time) ([]domain.Promotion, error) {
	query := `
		SELECT p.id, p.name, p.kind, p.value, p.start_at, p.end_at, p.active, pv.variant_id
		FROM promotions p
		LEFT JOIN promotion_variants pv ON pv.promotion_id = p.id
		WHERE p.active
		ORDER BY p.id, pv.variant_id
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query promotions: %w", err)
	}
	defer rows.Close()

	var (
		promotions []domain.Promotion
		current    *domain.Promotion
	)
	for rows.Next() {
		var (
			p         domain.Promotion
			value     decimal.Decimal
			variantID sql.NullInt64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Kind, &value, &p.StartAt, &p.EndAt, &p.Active, &variantID); err != nil {
			return nil, fmt.Errorf("failed to scan promotion: %w", err)
		}
		if current == nil || current.ID != p.ID {
			promotions = append(promotions, p)
			current = &promotions[len(promotions)-1]
			current.Value = value
			current.AppliedVariantIDs = domain.NewVariantSet()
		}
		if variantID.Valid {
			current.AppliedVariantIDs[variantID.Int64] = struct{}{}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	live := promotions[:0]
	for _, p := range promotions {
		if p.LiveAt(now) {
			live = append(live, p)
		}
	}
	return live, nil
}
