package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	viewCartSQL = `SELECT id, updated_at FROM carts WHERE user_id = $1`

	viewCartItemsSQL = `SELECT ci.product_id, p.name, p.price, ci.quantity
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.product_id`

	listOrdersSQL = `SELECT id, user_id, status, total_amount, order_date
		FROM orders WHERE user_id = $1
		ORDER BY order_date DESC, id`

	getOrderSQL = `SELECT id, user_id, status, total_amount, order_date
		FROM orders WHERE id = $1 AND user_id = $2`

	orderItemsSQL = `SELECT product_id, name, quantity, price_at_order
		FROM order_items WHERE order_id = $1 ORDER BY product_id`

	listProductsSQL = `SELECT id, name, description, price, stock_quantity
		FROM products ORDER BY id`

	productStockSQL = `SELECT stock_quantity FROM products WHERE id = $1`

	upsertProductSQL = `INSERT INTO products (id, name, description, price, stock_quantity)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			price = EXCLUDED.price,
			stock_quantity = EXCLUDED.stock_quantity`
)

var (
	_ cart.Store         = (*CartStore)(nil)
	_ order.Store        = (*OrderStore)(nil)
	_ product.Repository = (*ProductRepository)(nil)
)

// CartStore implements cart.Store backed by PostgreSQL.
type CartStore struct{ e *Engine }

func (s *CartStore) InTx(ctx context.Context, fn func(ctx context.Context, tx cart.Tx) error) error {
	return s.e.inTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// View returns the cart joined with current product names and prices.
func (s *CartStore) View(ctx context.Context, userID string) (*cart.Cart, error) {
	c := cart.Cart{UserID: userID}
	if err := s.e.db.QueryRow(ctx, viewCartSQL, userID).Scan(&c.ID, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("cart", userID)
		}
		return nil, fmt.Errorf("viewing cart of %q: %w", userID, err)
	}

	rows, err := s.e.db.Query(ctx, viewCartItemsSQL, c.ID)
	if err != nil {
		return nil, fmt.Errorf("viewing cart items: %w", err)
	}
	c.Items, err = pgx.CollectRows(rows, scanCartItem)
	if err != nil {
		return nil, fmt.Errorf("viewing cart items: %w", err)
	}
	c.UpdatedAt = c.UpdatedAt.UTC()
	return &c, nil
}

// OrderStore implements order.Store backed by PostgreSQL.
type OrderStore struct{ e *Engine }

func (s *OrderStore) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return s.e.inTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

func (s *OrderStore) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := s.e.db.Query(ctx, listOrdersSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return orders, nil
}

func (s *OrderStore) Get(ctx context.Context, userID, orderID string) (*order.Order, error) {
	rows, err := s.e.db.Query(ctx, getOrderSQL, orderID, userID)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("order", orderID)
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}

	rows, err = s.e.db.Query(ctx, orderItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", orderID, err)
	}
	o.Items, err = pgx.CollectRows(rows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", orderID, err)
	}
	return &o, nil
}

// ProductRepository implements product.Repository backed by PostgreSQL.
type ProductRepository struct{ e *Engine }

// List returns all products from the catalog ordered by ID.
func (r *ProductRepository) List(ctx context.Context) ([]product.Product, error) {
	rows, err := r.e.db.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanProduct)
}

// GetByID returns a single product by its identifier.
func (r *ProductRepository) GetByID(ctx context.Context, id string) (*product.Product, error) {
	rows, err := r.e.db.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperr.NotFound("product", id)
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

func (r *ProductRepository) Stock(ctx context.Context, id string) (int, error) {
	var stock int
	if err := r.e.db.QueryRow(ctx, productStockSQL, id).Scan(&stock); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.NotFound("product", id)
		}
		return 0, fmt.Errorf("reading stock of %q: %w", id, err)
	}
	return stock, nil
}

// Upsert inserts or replaces catalog products, including their stock, in a
// single transaction.
func (r *ProductRepository) Upsert(ctx context.Context, products []product.Product) error {
	return r.e.inTx(ctx, func(t *tx) error {
		for _, p := range products {
			if _, err := t.tx.Exec(ctx, upsertProductSQL,
				p.ID, p.Name, p.Description, p.Price, p.Stock,
			); err != nil {
				return fmt.Errorf("upserting product %q: %w", p.ID, err)
			}
		}
		return nil
	})
}

func scanCartItem(row pgx.CollectableRow) (cart.Item, error) {
	var (
		it    cart.Item
		price decimal.Decimal
	)
	err := row.Scan(&it.ProductID, &it.Name, &price, &it.Quantity)
	it.Price = price
	return it, err
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
		at     time.Time
	)
	err := row.Scan(&o.ID, &o.UserID, &status, &o.Total, &at)
	o.Status = order.Status(status)
	o.OrderedAt = at.UTC()
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(&it.ProductID, &it.Name, &it.Quantity, &it.PriceAtOrder)
	return it, err
}
