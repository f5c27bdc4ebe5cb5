package memory

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var (
	_ cart.Store         = (*CartStore)(nil)
	_ order.Store        = (*OrderStore)(nil)
	_ product.Repository = (*ProductRepository)(nil)
)

// CartStore implements cart.Store.
type CartStore struct{ db *DB }

func (s *CartStore) InTx(ctx context.Context, fn func(ctx context.Context, tx cart.Tx) error) error {
	return s.db.inTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *CartStore) View(_ context.Context, userID string) (*cart.Cart, error) {
	var (
		c   *cart.Cart
		err error
	)
	s.db.read(func(d *dataset) {
		row, ok := d.carts[userID]
		if !ok {
			err = apperr.NotFound("cart", userID)
			return
		}
		c = &cart.Cart{
			ID:        row.id,
			UserID:    userID,
			Items:     make([]cart.Item, 0, len(row.items)),
			UpdatedAt: row.updatedAt,
		}
		for _, id := range slices.Sorted(maps.Keys(row.items)) {
			p := d.products[id]
			c.Items = append(c.Items, cart.Item{
				ProductID: id,
				Name:      p.Name,
				Price:     p.Price,
				Quantity:  row.items[id],
			})
		}
	})
	return c, err
}

// OrderStore implements order.Store.
type OrderStore struct{ db *DB }

func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return s.db.inTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *OrderStore) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	s.db.read(func(d *dataset) {
		for _, o := range d.orders {
			if o.UserID == userID {
				o.Items = nil
				out = append(out, o)
			}
		}
	})
	slices.SortStableFunc(out, func(a, b order.Order) int {
		return b.OrderedAt.Compare(a.OrderedAt)
	})
	return out, nil
}

func (s *OrderStore) Get(_ context.Context, userID, orderID string) (*order.Order, error) {
	var found *order.Order
	s.db.read(func(d *dataset) {
		for _, o := range d.orders {
			if o.ID == orderID && o.UserID == userID {
				o.Items = slices.Clone(o.Items)
				found = &o
				return
			}
		}
	})
	if found == nil {
		return nil, apperr.NotFound("order", orderID)
	}
	return found, nil
}

// ProductRepository implements product.Repository.
type ProductRepository struct{ db *DB }

func (r *ProductRepository) List(_ context.Context) ([]product.Product, error) {
	var out []product.Product
	r.db.read(func(d *dataset) {
		out = slices.Collect(maps.Values(d.products))
	})
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	var (
		p  product.Product
		ok bool
	)
	r.db.read(func(d *dataset) { p, ok = d.products[id] })
	if !ok {
		return nil, apperr.NotFound("product", id)
	}
	return &p, nil
}

func (r *ProductRepository) Stock(ctx context.Context, id string) (int, error) {
	p, err := r.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}
