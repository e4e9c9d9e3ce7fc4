package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	stockKeyPrefix    = "inventory:stock:"
	restoredKeyPrefix = "inventory:restored:"
)

// returns -1 for a missing variant, 0 for short stock, 1 when decremented
var decrementScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then return -1 end
if tonumber(v) < tonumber(ARGV[1]) then return 0 end
redis.call('DECRBY', KEYS[1], ARGV[1])
return 1
`)

var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('INCRBY', KEYS[1], ARGV[1])
return 1
`)

// KEYS[1] is the restore marker, KEYS[2..] the stock keys.
// ARGV[1] is the marker ttl in seconds, ARGV[2..] the quantities.
var restoreScript = redis.NewScript(`
for i = 2, #KEYS do
  if redis.call('EXISTS', KEYS[i]) == 0 then return -(i - 1) end
end
if not redis.call('SET', KEYS[1], '1', 'NX', 'EX', ARGV[1]) then return 0 end
for i = 2, #KEYS do
  redis.call('INCRBY', KEYS[i], ARGV[i])
end
return 1
`)

// RedisStore keeps one integer key per variant and mutates it only through Lua scripts
type RedisStore struct {
	client    *redis.Client
	markerTTL time.Duration
}

func NewRedisStore(client *redis.Client, markerTTL time.Duration) *RedisStore {
	if markerTTL <= 0 {
		markerTTL = 30 * 24 * time.Hour
	}
	return &RedisStore{client: client, markerTTL: markerTTL}
}

func stockKey(variantID int64) string {
	return fmt.Sprintf("%s%d", stockKeyPrefix, variantID)
}

func (s *RedisStore) TryDecrement(ctx context.Context, variantID, qty int64) (bool, error) {
	res, err := decrementScript.Run(ctx, s.client, []string{stockKey(variantID)}, qty).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	switch res {
	case -1:
		return false, ErrVariantNotFound
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

func (s *RedisStore) Increment(ctx context.Context, variantID, qty int64) error {
	res, err := incrementScript.Run(ctx, s.client, []string{stockKey(variantID)}, qty).Int64()
	if err != nil {
		return fmt.Errorf("failed to increment stock: %w", err)
	}
	if res == -1 {
		return ErrVariantNotFound
	}
	return nil
}

func (s *RedisStore) RestoreOnce(ctx context.Context, key string, lines []domain.StockLine) (bool, error) {
	keys := make([]string, 0, len(lines)+1)
	args := make([]any, 0, len(lines)+1)
	keys = append(keys, restoredKeyPrefix+key)
	args = append(args, int64(s.markerTTL/time.Second))
	for _, l := range lines {
		keys = append(keys, stockKey(l.VariantID))
		args = append(args, l.Quantity)
	}

	res, err := restoreScript.Run(ctx, s.client, keys, args...).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to restore stock: %w", err)
	}
	if res < 0 {
		return false, fmt.Errorf("variant %d: %w", lines[-res-1].VariantID, ErrVariantNotFound)
	}
	return res == 1, nil
}

func (s *RedisStore) Stock(ctx context.Context, variantID int64) (int64, error) {
	v, err := s.client.Get(ctx, stockKey(variantID)).Int64()
	if err == redis.Nil {
		return 0, ErrVariantNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read stock: %w", err)
	}
	return v, nil
}

// SetStock seeds a variant's stock level
func (s *RedisStore) SetStock(ctx context.Context, variantID, qty int64) error {
	return s.client.Set(ctx, stockKey(variantID), qty, 0).Err()
}
