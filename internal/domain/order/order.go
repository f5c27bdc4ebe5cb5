package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

// Status is the lifecycle state of an order. Checkout only ever creates
// Processing orders; later transitions belong to fulfilment.
type Status string

const (
	StatusProcessing Status = "Processing"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// Order is an immutable record of a completed checkout. Total always equals
// the sum of its items' line totals.
type Order struct {
	ID        string
	UserID    string
	Status    Status
	Total     decimal.Decimal
	OrderedAt time.Time
	Items     []Item
}

// Item is the snapshot of one cart line at the moment of purchase.
// PriceAtOrder is copied from the product and never recomputed.
type Item struct {
	ProductID    string
	Name         string
	Quantity     int
	PriceAtOrder decimal.Decimal
}

// LineTotal returns Quantity × PriceAtOrder.
func (i Item) LineTotal() decimal.Decimal {
	return i.PriceAtOrder.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// RecomputeTotal sums the line totals of the order's items.
func (o *Order) RecomputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.LineTotal())
	}
	return total
}

// Store is the storage engine used by the order service.
type Store interface {
	// InTx runs fn in one unit of work, committing on nil and rolling back
	// otherwise. Contention failures match apperr.ErrContention.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// ListByUser returns the user's orders newest first, without items.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// Get returns one of the user's orders with its items.
	Get(ctx context.Context, userID, orderID string) (*Order, error)
}

// Tx is the set of operations checkout performs inside its unit of work.
type Tx interface {
	// LockCart locks the user's cart and returns its id and lines ordered
	// by product id, or apperr.ErrNotFound when there is no cart.
	LockCart(ctx context.Context, userID string) (string, []cart.LineItem, error)
	// LockProducts reads the products with row locks held until the unit
	// of work ends. Unknown ids are omitted from the result.
	LockProducts(ctx context.Context, ids []string) ([]product.Product, error)
	// DecrementStock lowers stock by quantity only if the result stays
	// non-negative; otherwise it fails with *apperr.InsufficientStockError.
	DecrementStock(ctx context.Context, productID string, quantity int) error
	// CreateOrder inserts the order header and all of its items.
	CreateOrder(ctx context.Context, o *Order) error
	// DeleteCart removes the cart and its lines.
	DeleteCart(ctx context.Context, cartID string) error
}
