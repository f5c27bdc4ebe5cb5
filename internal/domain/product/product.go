package product

import (
	"context"

	"github.com/shopspring/decimal"
)

// Product represents a catalog item with its inventory counter. Stock is
// only ever changed by checkout; cart operations never touch it.
type Product struct {
	ID          string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

// Repository defines read operations for the product catalog.
// GetByID and Stock return an error matching apperr.ErrNotFound for unknown
// ids.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	// Stock returns the committed stock counter of a product.
	Stock(ctx context.Context, id string) (int, error)
}
