package cart_test

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/txn"
	"github.com/xenking/storefront/internal/storage/memory"
)

// --- Mocks ---

type mockCache struct {
	mu      sync.Mutex
	entries map[string]*cart.Cart
	gens    map[string]uint64
	gets    int
	deletes int
	getErr  error
}

func newMockCache() *mockCache {
	return &mockCache{
		entries: make(map[string]*cart.Cart),
		gens:    make(map[string]uint64),
	}
}

func (m *mockCache) Get(_ context.Context, userID string) (*cart.Cart, uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, 0, m.getErr
	}
	c, ok := m.entries[userID]
	if !ok {
		return nil, m.gens[userID], cart.ErrCacheMiss
	}
	return c, 0, nil
}

func (m *mockCache) Set(_ context.Context, userID string, gen uint64, c *cart.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gens[userID] == gen {
		m.entries[userID] = c
	}
	return nil
}

func (m *mockCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	m.gens[userID]++
	delete(m.entries, userID)
	return nil
}

// afterViewStore runs hook once between the store read and the cache fill.
type afterViewStore struct {
	cart.Store
	once sync.Once
	hook func()
}

func (s *afterViewStore) View(ctx context.Context, userID string) (*cart.Cart, error) {
	c, err := s.Store.View(ctx, userID)
	s.once.Do(s.hook)
	return c, err
}

// --- Helpers ---

func newDB(t *testing.T) *memory.DB {
	t.Helper()
	db := memory.NewDB()
	db.PutProduct(product.Product{ID: "x", Name: "Widget", Price: decimal.RequireFromString("4.20"), Stock: 10})
	db.PutProduct(product.Product{ID: "y", Name: "Gadget", Price: decimal.RequireFromString("1.05"), Stock: 3})
	return db
}

func quickRetry() cart.Option {
	return cart.WithRetryPolicy(txn.Policy{MaxAttempts: 3, InitialBackoff: time.Millisecond})
}

// --- Tests ---

func TestAddItem_Additive(t *testing.T) {
	svc := cart.NewService(newDB(t).Carts())
	ctx := context.Background()

	first, err := svc.AddItem(ctx, "u1", "x", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Quantity)

	second, err := svc.AddItem(ctx, "u1", "x", 3)
	require.NoError(t, err)
	assert.Equal(t, 5, second.Quantity)
	assert.Equal(t, first.CartID, second.CartID)

	c, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 5, c.Items[0].Quantity)
	assert.Equal(t, "Widget", c.Items[0].Name)
	assert.True(t, decimal.RequireFromString("21.00").Equal(c.Subtotal()))
}

func TestAddItem_DoesNotCheckStock(t *testing.T) {
	db := newDB(t)
	svc := cart.NewService(db.Carts())

	item, err := svc.AddItem(context.Background(), "u1", "y", 50)
	require.NoError(t, err)
	assert.Equal(t, 50, item.Quantity)

	p, _ := db.Product("y")
	assert.Equal(t, 3, p.Stock)
}

func TestAddItem_Validation(t *testing.T) {
	svc := cart.NewService(newDB(t).Carts())

	tests := []struct {
		name      string
		user      string
		productID string
		quantity  int
		field     string
	}{
		{"zero quantity", "u1", "x", 0, "quantity"},
		{"negative quantity", "u1", "x", -2, "quantity"},
		{"quantity above limit", "u1", "x", math.MaxInt, "quantity"},
		{"empty user", "", "x", 1, "user_id"},
		{"empty product", "u1", "", 1, "product_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddItem(context.Background(), tt.user, tt.productID, tt.quantity)

			var inv *apperr.InvalidInputError
			require.ErrorAs(t, err, &inv)
			assert.Equal(t, tt.field, inv.Field)
		})
	}
}

func TestAddItem_SumAboveLimit(t *testing.T) {
	db := newDB(t)
	svc := cart.NewService(db.Carts())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "x", cart.MaxQuantity)
	require.NoError(t, err)

	_, err = svc.AddItem(ctx, "u1", "x", 1)
	var inv *apperr.InvalidInputError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "quantity", inv.Field)

	c, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, cart.MaxQuantity, c.Items[0].Quantity, "rejected add leaves the line unchanged")
}

func TestAddItem_UnknownProduct(t *testing.T) {
	db := newDB(t)
	svc := cart.NewService(db.Carts())

	_, err := svc.AddItem(context.Background(), "u1", "nope", 1)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = db.Carts().View(context.Background(), "u1")
	assert.ErrorIs(t, err, apperr.ErrNotFound, "no cart is created for a failed add")
}

func TestAddItem_ConcurrentSameLine(t *testing.T) {
	svc := cart.NewService(newDB(t).Carts())

	var g errgroup.Group
	for range 10 {
		g.Go(func() error {
			_, err := svc.AddItem(context.Background(), "u1", "x", 1)
			return err
		})
	}
	require.NoError(t, g.Wait())

	c, err := svc.GetCart(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 10, c.Items[0].Quantity)
}

func TestAddItem_RetriesContention(t *testing.T) {
	db := newDB(t)
	svc := cart.NewService(db.Carts(), quickRetry())

	fails := 1
	db.SetFault(func(op string) error {
		if op == "add quantity" && fails > 0 {
			fails--
			return apperr.Contention(errors.New("deadlock detected"))
		}
		return nil
	})

	item, err := svc.AddItem(context.Background(), "u1", "x", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Quantity)
}

func TestSetItemQuantity(t *testing.T) {
	svc := cart.NewService(newDB(t).Carts())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "x", 2)
	require.NoError(t, err)

	item, err := svc.SetItemQuantity(ctx, "u1", "x", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, item.Quantity)

	c, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 7, c.Items[0].Quantity)
}

func TestSetItemQuantity_Errors(t *testing.T) {
	svc := cart.NewService(newDB(t).Carts())
	ctx := context.Background()

	_, err := svc.SetItemQuantity(ctx, "u1", "x", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "no cart")

	_, err = svc.AddItem(ctx, "u1", "x", 1)
	require.NoError(t, err)

	_, err = svc.SetItemQuantity(ctx, "u1", "y", 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "no line")

	_, err = svc.SetItemQuantity(ctx, "u1", "x", 0)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.SetItemQuantity(ctx, "u1", "x", math.MaxInt)
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	item, err := svc.SetItemQuantity(ctx, "u1", "x", cart.MaxQuantity)
	require.NoError(t, err)
	assert.Equal(t, cart.MaxQuantity, item.Quantity)
}

func TestRemoveItem(t *testing.T) {
	svc := cart.NewService(newDB(t).Carts())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "x", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "u1", "y", 1)
	require.NoError(t, err)

	require.NoError(t, svc.RemoveItem(ctx, "u1", "x"))

	c, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "y", c.Items[0].ProductID)

	err = svc.RemoveItem(ctx, "u1", "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	err = svc.RemoveItem(ctx, "u2", "x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetCart_Empty(t *testing.T) {
	svc := cart.NewService(newDB(t).Carts())

	c, err := svc.GetCart(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", c.UserID)
	assert.Empty(t, c.ID)
	assert.NotNil(t, c.Items)
	assert.Empty(t, c.Items)
	assert.True(t, c.Subtotal().IsZero())
}

func TestGetCart_ReflectsCurrentPrice(t *testing.T) {
	db := newDB(t)
	svc := cart.NewService(db.Carts())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "x", 1)
	require.NoError(t, err)

	db.PutProduct(product.Product{ID: "x", Name: "Widget v2", Price: decimal.RequireFromString("5.00"), Stock: 10})

	c, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, "Widget v2", c.Items[0].Name)
	assert.True(t, decimal.RequireFromString("5.00").Equal(c.Items[0].Price))
}

func TestGetCart_Idempotent(t *testing.T) {
	svc := cart.NewService(newDB(t).Carts())
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "x", 2)
	require.NoError(t, err)

	a, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	b, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGetCart_Cache(t *testing.T) {
	cache := newMockCache()
	svc := cart.NewService(newDB(t).Carts(), cart.WithCache(cache))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "x", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.deletes)

	first, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Contains(t, cache.entries, "u1")

	second, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Same(t, first, second, "second read is served from cache")

	_, err = svc.AddItem(ctx, "u1", "x", 1)
	require.NoError(t, err)
	assert.NotContains(t, cache.entries, "u1")

	third, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, third.Items, 1)
	assert.Equal(t, 2, third.Items[0].Quantity)
}

func TestGetCart_CacheFailureFallsBackToStore(t *testing.T) {
	cache := newMockCache()
	cache.getErr = errors.New("connection refused")
	svc := cart.NewService(newDB(t).Carts(), cart.WithCache(cache))
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "y", 2)
	require.NoError(t, err)

	c, err := svc.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, c.Items, 1)
	assert.Equal(t, 2, c.Items[0].Quantity)
	assert.Equal(t, 1, cache.gets)
	assert.NotContains(t, cache.entries, "u1", "no fill without a known generation")
}

func TestGetCart_CacheSkipsViewReadBeforeMutation(t *testing.T) {
	db := newDB(t)
	cache := newMockCache()
	writer := cart.NewService(db.Carts(), cart.WithCache(cache))
	ctx := context.Background()

	_, err := writer.AddItem(ctx, "u1", "x", 2)
	require.NoError(t, err)

	reader := cart.NewService(&afterViewStore{
		Store: db.Carts(),
		hook: func() {
			_, err := writer.AddItem(ctx, "u1", "x", 3)
			require.NoError(t, err)
		},
	}, cart.WithCache(cache))

	stale, err := reader.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, stale.Items, 1)
	assert.Equal(t, 2, stale.Items[0].Quantity)
	assert.NotContains(t, cache.entries, "u1")

	fresh, err := reader.GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, fresh.Items, 1)
	assert.Equal(t, 5, fresh.Items[0].Quantity)
	assert.Contains(t, cache.entries, "u1")
}
