package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCache(client, 15*time.Minute), mr
}

func testCart(owner domain.CartOwner) *domain.Cart {
	cart := domain.NewCart(owner)
	cart.Lines = []domain.CartLine{
		{VariantID: 1, Quantity: 2, Checked: true},
		{VariantID: 2, Quantity: 3},
	}
	return cart
}

func TestGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)
	owner := domain.UserOwner("user123")

	data, err := json.Marshal(testCart(owner))
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey(owner), string(data)))

	result, err := cache.Get(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, owner, result.Owner)
	assert.Equal(t, "user:user123", result.OwnerKey)
	require.Len(t, result.Lines, 2)
	assert.True(t, result.Lines[0].Checked)
}

func TestGet_CacheMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	result, err := cache.Get(context.Background(), domain.UserOwner("nonexistent"))
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	owner := domain.AnonymousOwner("tok")
	require.NoError(t, mr.Set(cacheKey(owner), `{"owner":`))

	_, err := cache.Get(context.Background(), owner)
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_WithJitteredTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)
	owner := domain.UserOwner("user789")

	require.NoError(t, cache.Set(context.Background(), testCart(owner)))

	ttl := mr.TTL(cacheKey(owner))
	assert.GreaterOrEqual(t, ttl, 15*time.Minute)
	assert.Less(t, ttl, 20*time.Minute)

	stored, err := mr.Get(cacheKey(owner))
	require.NoError(t, err)
	var cart domain.Cart
	require.NoError(t, json.Unmarshal([]byte(stored), &cart))
	assert.Len(t, cart.Lines, 2)
}

func TestDelete_SeveralOwners(t *testing.T) {
	cache, mr := setupTestRedis(t)
	user := domain.UserOwner("u1")
	anon := domain.AnonymousOwner("s1")
	require.NoError(t, mr.Set(cacheKey(user), "{}"))
	require.NoError(t, mr.Set(cacheKey(anon), "{}"))

	require.NoError(t, cache.Delete(context.Background(), user, anon))
	assert.False(t, mr.Exists(cacheKey(user)))
	assert.False(t, mr.Exists(cacheKey(anon)))

	assert.NoError(t, cache.Delete(context.Background(), domain.UserOwner("missing")))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:user:test123", cacheKey(domain.UserOwner("test123")))
	assert.Equal(t, "cart:anonymous:tok", cacheKey(domain.AnonymousOwner("tok")))
}
