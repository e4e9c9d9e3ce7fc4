package voucher

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
)

// ErrNotFound is returned for unknown or deactivated codes
var ErrNotFound = errors.New("voucher not found")

type Store interface {
	Lookup(ctx context.Context, code string) (domain.Voucher, error)
}

// Normalize trims and upper-cases a code as typed by a customer
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Lookup(ctx context.Context, code string) (domain.Voucher, error) {
	var v domain.Voucher
	err := s.db.QueryRowContext(ctx,
		`SELECT code, kind, value FROM vouchers WHERE code = $1 AND active`,
		Normalize(code)).Scan(&v.Code, &v.Kind, &v.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Voucher{}, ErrNotFound
	}
	if err != nil {
		return domain.Voucher{}, fmt.Errorf("failed to query voucher: %w", err)
	}
	return v, nil
}

type MemoryStore struct {
	mu       sync.RWMutex
	vouchers map[string]domain.Voucher
}

func NewMemoryStore(vouchers ...domain.Voucher) *MemoryStore {
	s := &MemoryStore{vouchers: make(map[string]domain.Voucher, len(vouchers))}
	for _, v := range vouchers {
		s.vouchers[Normalize(v.Code)] = v
	}
	return s
}

func (s *MemoryStore) Lookup(_ context.Context, code string) (domain.Voucher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vouchers[Normalize(code)]
	if !ok {
		return domain.Voucher{}, ErrNotFound
	}
	return v, nil
}
