package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

const (
	getProductSQL = `SELECT id, name, description, price, stock_quantity
		FROM products WHERE id = $1`

	ensureCartSQL = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		RETURNING id`

	addQuantitySQL = `INSERT INTO cart_items (cart_id, product_id, quantity) VALUES ($1, $2, $3)
		ON CONFLICT (cart_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		RETURNING quantity`

	setQuantitySQL = `WITH touched AS (UPDATE carts SET updated_at = now() WHERE id = $1)
		UPDATE cart_items SET quantity = $3 WHERE cart_id = $1 AND product_id = $2`

	removeItemSQL = `WITH touched AS (UPDATE carts SET updated_at = now() WHERE id = $1)
		DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`

	lockCartSQL = `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`

	cartLinesSQL = `SELECT cart_id, product_id, quantity
		FROM cart_items WHERE cart_id = $1 ORDER BY product_id`

	lockProductsSQL = `SELECT id, name, description, price, stock_quantity
		FROM products WHERE id = ANY($1) ORDER BY id FOR NO KEY UPDATE`

	decrementStockSQL = `UPDATE products SET stock_quantity = stock_quantity - $2
		WHERE id = $1 AND stock_quantity >= $2`

	stockAfterMissSQL = `SELECT name, stock_quantity FROM products WHERE id = $1`

	createOrderSQL = `INSERT INTO orders (id, user_id, total_amount, status, order_date)
		VALUES ($1, $2, $3, $4, $5)`

	createOrderItemsSQL = `INSERT INTO order_items (order_id, product_id, name, quantity, price_at_order)
		SELECT $1, u.product_id, u.name, u.quantity, u.price
		FROM unnest($2::text[], $3::text[], $4::int[], $5::numeric[]) AS u(product_id, name, quantity, price)`

	deleteCartSQL = `DELETE FROM carts WHERE id = $1`
)

var (
	_ cart.Tx  = (*tx)(nil)
	_ order.Tx = (*tx)(nil)
)

// tx implements cart.Tx and order.Tx on a pgx transaction.
type tx struct {
	tx pgx.Tx
}

func (t *tx) GetProduct(ctx context.Context, id string) (*product.Product, error) {
	rows, err := t.tx.Query(ctx, getProductSQL, id)
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

func (t *tx) EnsureCart(ctx context.Context, userID string) (string, error) {
	var id string
	if err := t.tx.QueryRow(ctx, ensureCartSQL, uuid.New().String(), userID).Scan(&id); err != nil {
		return "", fmt.Errorf("ensuring cart for %q: %w", userID, err)
	}
	return id, nil
}

// FindCart locks the cart row before any cart_items row, the order
// checkout uses.
func (t *tx) FindCart(ctx context.Context, userID string) (string, error) {
	var id string
	if err := t.tx.QueryRow(ctx, lockCartSQL, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.NotFound("cart", userID)
		}
		return "", fmt.Errorf("finding cart for %q: %w", userID, err)
	}
	return id, nil
}

func (t *tx) AddQuantity(ctx context.Context, cartID, productID string, delta int) (cart.LineItem, error) {
	item := cart.LineItem{CartID: cartID, ProductID: productID}
	if err := t.tx.QueryRow(ctx, addQuantitySQL, cartID, productID, delta).Scan(&item.Quantity); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeNumericOutOfRange {
			return cart.LineItem{}, cart.QuantityTooLarge()
		}
		return cart.LineItem{}, fmt.Errorf("adding %d of %q to cart: %w", delta, productID, err)
	}
	return item, nil
}

func (t *tx) SetQuantity(ctx context.Context, cartID, productID string, quantity int) (cart.LineItem, error) {
	tag, err := t.tx.Exec(ctx, setQuantitySQL, cartID, productID, quantity)
	if err != nil {
		return cart.LineItem{}, fmt.Errorf("setting quantity of %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.LineItem{}, apperr.NotFound("cart item", productID)
	}
	return cart.LineItem{CartID: cartID, ProductID: productID, Quantity: quantity}, nil
}

func (t *tx) RemoveItem(ctx context.Context, cartID, productID string) error {
	tag, err := t.tx.Exec(ctx, removeItemSQL, cartID, productID)
	if err != nil {
		return fmt.Errorf("removing %q from cart: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("cart item", productID)
	}
	return nil
}

func (t *tx) LockCart(ctx context.Context, userID string) (string, []cart.LineItem, error) {
	id, err := t.FindCart(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	rows, err := t.tx.Query(ctx, cartLinesSQL, id)
	if err != nil {
		return "", nil, fmt.Errorf("reading cart lines: %w", err)
	}
	lines, err := pgx.CollectRows(rows, scanLineItem)
	if err != nil {
		return "", nil, fmt.Errorf("reading cart lines: %w", err)
	}
	return id, lines, nil
}

func (t *tx) LockProducts(ctx context.Context, ids []string) ([]product.Product, error) {
	sorted := slices.Sorted(slices.Values(lo.Uniq(ids)))
	rows, err := t.tx.Query(ctx, lockProductsSQL, sorted)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("locking products: %w", err)
	}
	return products, nil
}

func (t *tx) DecrementStock(ctx context.Context, productID string, quantity int) error {
	tag, err := t.tx.Exec(ctx, decrementStockSQL, productID, quantity)
	if err != nil {
		return fmt.Errorf("decrementing stock of %q: %w", productID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var (
		name      string
		available int
	)
	if err := t.tx.QueryRow(ctx, stockAfterMissSQL, productID).Scan(&name, &available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.NotFound("product", productID)
		}
		return fmt.Errorf("reading stock of %q: %w", productID, err)
	}
	return &apperr.InsufficientStockError{
		ProductID: productID,
		Name:      name,
		Requested: quantity,
		Available: available,
	}
}

func (t *tx) CreateOrder(ctx context.Context, o *order.Order) error {
	if _, err := t.tx.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Total, string(o.Status), o.OrderedAt,
	); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	if len(o.Items) == 0 {
		return nil
	}

	if _, err := t.tx.Exec(ctx, createOrderItemsSQL,
		o.ID,
		lo.Map(o.Items, func(it order.Item, _ int) string { return it.ProductID }),
		lo.Map(o.Items, func(it order.Item, _ int) string { return it.Name }),
		lo.Map(o.Items, func(it order.Item, _ int) int { return it.Quantity }),
		lo.Map(o.Items, func(it order.Item, _ int) decimal.Decimal { return it.PriceAtOrder }),
	); err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}
	return nil
}

func (t *tx) DeleteCart(ctx context.Context, cartID string) error {
	tag, err := t.tx.Exec(ctx, deleteCartSQL, cartID)
	if err != nil {
		return fmt.Errorf("deleting cart %q: %w", cartID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("cart", cartID)
	}
	return nil
}

func scanProduct(row pgx.CollectableRow) (product.Product, error) {
	var (
		p     product.Product
		price decimal.Decimal
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.Stock)
	p.Price = price
	return p, err
}

func scanLineItem(row pgx.CollectableRow) (cart.LineItem, error) {
	var l cart.LineItem
	err := row.Scan(&l.CartID, &l.ProductID, &l.Quantity)
	return l, err
}
