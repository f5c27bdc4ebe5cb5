// Package memory is an in-process storage engine implementing the cart and
// order unit-of-work contracts.
//
// Each unit of work holds the store-wide lock, operates on a private copy of
// the data and publishes it only on commit, so transactions are serializable
// and a failed one leaves nothing behind.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// FaultFunc is consulted before every write inside a unit of work. A non-nil
// result aborts the write with that error.
type FaultFunc func(op string) error

// DB holds products, carts and orders.
type DB struct {
	mu    sync.Mutex
	data  *dataset
	fault FaultFunc
	now   func() time.Time
}

type dataset struct {
	products map[string]product.Product
	carts    map[string]*cartRow // by user id
	orders   []order.Order
}

type cartRow struct {
	id        string
	userID    string
	updatedAt time.Time
	items     map[string]int // product id -> quantity
}

// NewDB returns an empty store.
func NewDB() *DB {
	return &DB{
		data: &dataset{
			products: make(map[string]product.Product),
			carts:    make(map[string]*cartRow),
		},
		now: time.Now,
	}
}

// PutProduct inserts or replaces a catalog product.
func (db *DB) PutProduct(p product.Product) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data.products[p.ID] = p
}

// Product returns the committed state of a product.
func (db *DB) Product(id string) (product.Product, bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	p, ok := db.data.products[id]
	return p, ok
}

// OrderCount returns the number of committed orders.
func (db *DB) OrderCount() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return len(db.data.orders)
}

// SetFault installs fn as the write fault hook; nil removes it.
func (db *DB) SetFault(fn FaultFunc) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.fault = fn
}

// Carts returns the cart.Store view of the database.
func (db *DB) Carts() *CartStore { return &CartStore{db: db} }

// Orders returns the order.Store view of the database.
func (db *DB) Orders() *OrderStore { return &OrderStore{db: db} }

// Products returns the product.Repository view of the database.
func (db *DB) Products() *ProductRepository { return &ProductRepository{db: db} }

// inTx runs fn against a private copy of the data and publishes the copy
// only when fn succeeds.
func (db *DB) inTx(ctx context.Context, fn func(t *tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	t := &tx{
		data:  db.data.clone(),
		fault: db.fault,
		now:   db.now,
	}
	if err := fn(t); err != nil {
		return err
	}
	db.data = t.data
	return nil
}

func (db *DB) read(fn func(d *dataset)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	fn(db.data)
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		products: maps.Clone(d.products),
		carts:    make(map[string]*cartRow, len(d.carts)),
		orders:   slices.Clone(d.orders),
	}
	for user, row := range d.carts {
		cp := *row
		cp.items = maps.Clone(row.items)
		c.carts[user] = &cp
	}
	return c
}

func (d *dataset) cartByID(id string) *cartRow {
	for _, row := range d.carts {
		if row.id == id {
			return row
		}
	}
	return nil
}

func newCartID() string { return uuid.New().String() }
