package cart

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/product"
)

// MaxQuantity bounds a cart line, including the sum reached by repeated
// adds. It matches the width of the stored quantity column.
const MaxQuantity = math.MaxInt32

// QuantityTooLarge reports a line that would exceed MaxQuantity.
func QuantityTooLarge() error {
	return apperr.InvalidInput("quantity", fmt.Sprintf("must not exceed %d", MaxQuantity))
}

// ErrCacheMiss is returned by a Cache that holds no entry for the user.
var ErrCacheMiss = errors.New("cart cache miss")

// LineItem is a stored cart row. (CartID, ProductID) is unique and Quantity
// is always positive.
type LineItem struct {
	CartID    string
	ProductID string
	Quantity  int
}

// Item is a cart line joined with the current product name and price for
// display. The price is not a commitment: checkout re-reads it.
type Item struct {
	ProductID string
	Name      string
	Price     decimal.Decimal
	Quantity  int
}

// LineTotal returns Price × Quantity.
func (i Item) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the display view of a user's cart. A user without a stored cart
// gets a Cart with an empty ID and no items.
type Cart struct {
	ID        string
	UserID    string
	Items     []Item
	UpdatedAt time.Time
}

// Subtotal sums the line totals at current prices.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Store is the storage engine used by the cart service.
type Store interface {
	// InTx runs fn in one unit of work. The work is committed when fn
	// returns nil and rolled back otherwise.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// View returns the joined cart, or an error matching apperr.ErrNotFound
	// when the user has no cart.
	View(ctx context.Context, userID string) (*Cart, error)
}

// Tx is the set of cart operations available inside a unit of work.
type Tx interface {
	GetProduct(ctx context.Context, id string) (*product.Product, error)
	// EnsureCart returns the user's cart id, creating the cart if needed.
	EnsureCart(ctx context.Context, userID string) (string, error)
	// FindCart returns the user's cart id or apperr.ErrNotFound. The cart
	// row stays locked until the unit of work ends.
	FindCart(ctx context.Context, userID string) (string, error)
	// AddQuantity inserts the line or adds delta to the existing quantity
	// in a single atomic statement. A sum above MaxQuantity fails with
	// QuantityTooLarge and leaves the line unchanged.
	AddQuantity(ctx context.Context, cartID, productID string, delta int) (LineItem, error)
	SetQuantity(ctx context.Context, cartID, productID string, quantity int) (LineItem, error)
	RemoveItem(ctx context.Context, cartID, productID string) error
}

// Cache keeps display views of carts. It is never consulted by checkout.
//
// Every Delete advances the user's generation. Get reports the generation it
// saw on a miss and Set stores the view only while that generation is still
// current, so a view read before a committed change cannot be written back
// after the change invalidated it.
type Cache interface {
	// Get returns the cached view, or ErrCacheMiss with the current
	// generation.
	Get(ctx context.Context, userID string) (*Cart, uint64, error)
	// Set stores c unless the generation moved past gen. A skipped write is
	// not an error.
	Set(ctx context.Context, userID string, gen uint64, c *Cart) error
	Delete(ctx context.Context, userID string) error
}
