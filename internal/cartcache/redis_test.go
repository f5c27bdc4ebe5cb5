package cartcache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/storage/memory"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute), mr
}

func sampleCart() *cart.Cart {
	return &cart.Cart{
		ID:     "cart-1",
		UserID: "u1",
		Items: []cart.Item{
			{ProductID: "a", Name: "Apple", Price: decimal.RequireFromString("1.50"), Quantity: 2},
			{ProductID: "b", Name: "Bread", Price: decimal.RequireFromString("2.25"), Quantity: 1},
		},
		UpdatedAt: time.Date(2026, 10, 18, 8, 30, 0, 0, time.UTC),
	}
}

func TestSetGet(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u1", 0, sampleCart()))
	assert.True(t, mr.Exists("cart:u1"))

	ttl := mr.TTL("cart:u1")
	assert.GreaterOrEqual(t, ttl, time.Minute)
	assert.LessOrEqual(t, ttl, time.Minute+15*time.Second)

	got, _, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "cart-1", got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.True(t, sampleCart().UpdatedAt.Equal(got.UpdatedAt))
	require.Len(t, got.Items, 2)
	assert.Equal(t, "Apple", got.Items[0].Name)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.True(t, decimal.RequireFromString("1.50").Equal(got.Items[0].Price))
	assert.True(t, decimal.RequireFromString("5.25").Equal(got.Subtotal()))
}

func TestGet_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	got, gen, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, cart.ErrCacheMiss)
	assert.Nil(t, got)
	assert.Zero(t, gen)
}

func TestGet_Corrupted(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("cart:u1", "{not json"))

	_, _, err := cache.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cart.ErrCacheMiss)
}

func TestEmptyCartRoundTrip(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u2", 0, &cart.Cart{UserID: "u2", Items: []cart.Item{}}))

	got, _, err := cache.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, got.ID)
	assert.NotNil(t, got.Items)
	assert.Empty(t, got.Items)
}

func TestDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u1", 0, sampleCart()))
	require.NoError(t, cache.Delete(ctx, "u1"))
	assert.False(t, mr.Exists("cart:u1"))

	gen, err := mr.Get("cartgen:u1")
	require.NoError(t, err)
	assert.Equal(t, "1", gen)
	assert.Positive(t, mr.TTL("cartgen:u1"))

	require.NoError(t, cache.Delete(ctx, "u1"), "deleting a missing key is not an error")
}

func TestSet_SkipsStaleGeneration(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	_, gen, err := cache.Get(ctx, "u1")
	require.ErrorIs(t, err, cart.ErrCacheMiss)
	assert.Zero(t, gen)

	require.NoError(t, cache.Delete(ctx, "u1"))
	require.NoError(t, cache.Set(ctx, "u1", gen, sampleCart()))
	assert.False(t, mr.Exists("cart:u1"), "fill from before the invalidation is dropped")

	_, gen, err = cache.Get(ctx, "u1")
	require.ErrorIs(t, err, cart.ErrCacheMiss)
	assert.Equal(t, uint64(1), gen)

	require.NoError(t, cache.Set(ctx, "u1", gen, sampleCart()))
	assert.True(t, mr.Exists("cart:u1"))
}

// viewHookStore runs afterView once, after the store read and before
// GetCart fills the cache.
type viewHookStore struct {
	cart.Store
	once      sync.Once
	afterView func()
}

func (s *viewHookStore) View(ctx context.Context, userID string) (*cart.Cart, error) {
	c, err := s.Store.View(ctx, userID)
	s.once.Do(s.afterView)
	return c, err
}

func newCatalog() *memory.DB {
	db := memory.NewDB()
	db.PutProduct(product.Product{ID: "x", Name: "Widget", Price: decimal.RequireFromString("1.00"), Stock: 10})
	return db
}

func TestGetCart_ReadRacingMutationIsNotCached(t *testing.T) {
	cache, mr := setupTestRedis(t)
	db := newCatalog()
	ctx := context.Background()

	writer := cart.NewService(db.Carts(), cart.WithCache(cache))
	_, err := writer.AddItem(ctx, "u1", "x", 2)
	require.NoError(t, err)

	reader := cart.NewService(&viewHookStore{
		Store: db.Carts(),
		afterView: func() {
			_, err := writer.AddItem(ctx, "u1", "x", 3)
			require.NoError(t, err)
		},
	}, cart.WithCache(cache))

	first, err := reader.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, 2, first.Items[0].Quantity)
	assert.False(t, mr.Exists("cart:u1"))

	for range 2 {
		c, err := reader.GetCart(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, c.Items, 1)
		assert.Equal(t, 5, c.Items[0].Quantity)
	}
	assert.True(t, mr.Exists("cart:u1"))
}

func TestGetCart_ReadRacingCheckoutIsNotCached(t *testing.T) {
	cache, mr := setupTestRedis(t)
	db := newCatalog()
	ctx := context.Background()

	carts := cart.NewService(db.Carts(), cart.WithCache(cache))
	orders, err := order.NewService(db.Orders(), order.WithCartCache(cache))
	require.NoError(t, err)

	_, err = carts.AddItem(ctx, "u1", "x", 2)
	require.NoError(t, err)

	reader := cart.NewService(&viewHookStore{
		Store: db.Carts(),
		afterView: func() {
			_, err := orders.PlaceOrder(ctx, "u1")
			require.NoError(t, err)
		},
	}, cart.WithCache(cache))

	_, err = reader.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, mr.Exists("cart:u1"))

	c, err := reader.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, c.Items)
}

func TestExpiry(t *testing.T) {
	cache, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "u1", 0, sampleCart()))
	mr.FastForward(2 * time.Minute)

	_, _, err := cache.Get(ctx, "u1")
	assert.ErrorIs(t, err, cart.ErrCacheMiss)
}

func TestRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	cache := New(client, 0)

	_, _, err := cache.Get(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, cart.ErrCacheMiss)
}
