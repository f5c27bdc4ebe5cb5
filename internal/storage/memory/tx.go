package memory

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

var (
	_ cart.Tx  = (*tx)(nil)
	_ order.Tx = (*tx)(nil)
)

// tx is a unit of work over a staged copy of the dataset.
type tx struct {
	data  *dataset
	fault FaultFunc
	now   func() time.Time
}

func (t *tx) write(op string) error {
	if t.fault == nil {
		return nil
	}
	return t.fault(op)
}

func (t *tx) GetProduct(_ context.Context, id string) (*product.Product, error) {
	p, ok := t.data.products[id]
	if !ok {
		return nil, apperr.NotFound("product", id)
	}
	return &p, nil
}

func (t *tx) EnsureCart(_ context.Context, userID string) (string, error) {
	if err := t.write("ensure cart"); err != nil {
		return "", err
	}
	row, ok := t.data.carts[userID]
	if !ok {
		row = &cartRow{
			id:     newCartID(),
			userID: userID,
			items:  make(map[string]int),
		}
		t.data.carts[userID] = row
	}
	row.updatedAt = t.now()
	return row.id, nil
}

func (t *tx) FindCart(_ context.Context, userID string) (string, error) {
	row, ok := t.data.carts[userID]
	if !ok {
		return "", apperr.NotFound("cart", userID)
	}
	return row.id, nil
}

func (t *tx) AddQuantity(_ context.Context, cartID, productID string, delta int) (cart.LineItem, error) {
	if err := t.write("add quantity"); err != nil {
		return cart.LineItem{}, err
	}
	row := t.data.cartByID(cartID)
	if row == nil {
		return cart.LineItem{}, apperr.NotFound("cart", cartID)
	}
	if row.items[productID] > cart.MaxQuantity-delta {
		return cart.LineItem{}, cart.QuantityTooLarge()
	}
	row.items[productID] += delta
	row.updatedAt = t.now()
	return cart.LineItem{CartID: cartID, ProductID: productID, Quantity: row.items[productID]}, nil
}

func (t *tx) SetQuantity(_ context.Context, cartID, productID string, quantity int) (cart.LineItem, error) {
	if err := t.write("set quantity"); err != nil {
		return cart.LineItem{}, err
	}
	row := t.data.cartByID(cartID)
	if row == nil {
		return cart.LineItem{}, apperr.NotFound("cart item", productID)
	}
	if _, ok := row.items[productID]; !ok {
		return cart.LineItem{}, apperr.NotFound("cart item", productID)
	}
	row.items[productID] = quantity
	row.updatedAt = t.now()
	return cart.LineItem{CartID: cartID, ProductID: productID, Quantity: quantity}, nil
}

func (t *tx) RemoveItem(_ context.Context, cartID, productID string) error {
	if err := t.write("remove item"); err != nil {
		return err
	}
	row := t.data.cartByID(cartID)
	if row == nil {
		return apperr.NotFound("cart item", productID)
	}
	if _, ok := row.items[productID]; !ok {
		return apperr.NotFound("cart item", productID)
	}
	delete(row.items, productID)
	row.updatedAt = t.now()
	return nil
}

func (t *tx) LockCart(_ context.Context, userID string) (string, []cart.LineItem, error) {
	row, ok := t.data.carts[userID]
	if !ok {
		return "", nil, apperr.NotFound("cart", userID)
	}
	lines := make([]cart.LineItem, 0, len(row.items))
	for _, id := range slices.Sorted(maps.Keys(row.items)) {
		lines = append(lines, cart.LineItem{CartID: row.id, ProductID: id, Quantity: row.items[id]})
	}
	return row.id, lines, nil
}

func (t *tx) LockProducts(_ context.Context, ids []string) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.data.products[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (t *tx) DecrementStock(_ context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return apperr.InvalidInput("quantity", "must be greater than 0")
	}
	if err := t.write("decrement stock"); err != nil {
		return err
	}
	p, ok := t.data.products[productID]
	if !ok {
		return apperr.NotFound("product", productID)
	}
	if p.Stock < quantity {
		return &apperr.InsufficientStockError{
			ProductID: p.ID,
			Name:      p.Name,
			Requested: quantity,
			Available: p.Stock,
		}
	}
	p.Stock -= quantity
	t.data.products[productID] = p
	return nil
}

func (t *tx) CreateOrder(_ context.Context, o *order.Order) error {
	if err := t.write("create order"); err != nil {
		return err
	}
	stored := *o
	stored.Items = slices.Clone(o.Items)
	t.data.orders = append(t.data.orders, stored)
	return nil
}

func (t *tx) DeleteCart(_ context.Context, cartID string) error {
	if err := t.write("delete cart"); err != nil {
		return err
	}
	row := t.data.cartByID(cartID)
	if row == nil {
		return apperr.NotFound("cart", cartID)
	}
	delete(t.data.carts, row.userID)
	return nil
}
