// Package wire encodes domain values as JSON with go-faster/jx. Money is
// written as a decimal string with two fractional digits and timestamps as
// RFC 3339 strings.
package wire

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
)

// Money writes d as a fixed two-digit decimal string.
func Money(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

// Time writes t in UTC as RFC 3339 with nanoseconds.
func Time(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

// EncodeProduct writes a catalog product.
func EncodeProduct(e *jx.Encoder, p product.Product) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("price", func(e *jx.Encoder) { Money(e, p.Price) })
		e.Field("stock_quantity", func(e *jx.Encoder) { e.Int(p.Stock) })
	})
}

// EncodeProducts writes a JSON array of products.
func EncodeProducts(e *jx.Encoder, ps []product.Product) {
	e.Arr(func(e *jx.Encoder) {
		for _, p := range ps {
			EncodeProduct(e, p)
		}
	})
}

// DecodeProducts parses a JSON array of products in the EncodeProduct
// layout. Ids may be strings or integers and prices strings or numbers.
func DecodeProducts(d *jx.Decoder) ([]product.Product, error) {
	var out []product.Product
	err := d.Arr(func(d *jx.Decoder) error {
		p, err := decodeProduct(d)
		if err != nil {
			return errors.Wrapf(err, "product %d", len(out))
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = decodeID(d)
		case "name":
			p.Name, err = d.Str()
		case "description":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p.Description, err = d.Str()
		case "price":
			p.Price, err = decodeMoney(d)
		case "stock_quantity", "stock":
			p.Stock, err = d.Int()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return p, err
	}
	switch {
	case p.ID == "":
		return p, errors.New("id is required")
	case p.Name == "":
		return p, errors.Errorf("product %s: name is required", p.ID)
	case p.Price.IsNegative():
		return p, errors.Errorf("product %s: negative price", p.ID)
	case p.Stock < 0:
		return p, errors.Errorf("product %s: negative stock", p.ID)
	}
	return p, nil
}

// EncodeLineItem writes a stored cart line.
func EncodeLineItem(e *jx.Encoder, l cart.LineItem) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("cart_id", func(e *jx.Encoder) { e.Str(l.CartID) })
		e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
	})
}

// EncodeCart writes the display view of a cart, including the subtotal.
// DecodeCart reads it back.
func EncodeCart(e *jx.Encoder, c *cart.Cart) {
	e.Obj(func(e *jx.Encoder) {
		if c.ID != "" {
			e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		}
		e.Field("user_id", func(e *jx.Encoder) { e.Str(c.UserID) })
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range c.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("price", func(e *jx.Encoder) { Money(e, it.Price) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("line_total", func(e *jx.Encoder) { Money(e, it.LineTotal()) })
					})
				}
			})
		})
		e.Field("subtotal", func(e *jx.Encoder) { Money(e, c.Subtotal()) })
		if !c.UpdatedAt.IsZero() {
			e.Field("updated_at", func(e *jx.Encoder) { Time(e, c.UpdatedAt) })
		}
	})
}

// DecodeCart parses a cart written by EncodeCart. Derived fields are ignored.
func DecodeCart(d *jx.Decoder) (*cart.Cart, error) {
	c := &cart.Cart{Items: []cart.Item{}}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "user_id":
			c.UserID, err = d.Str()
		case "updated_at":
			c.UpdatedAt, err = decodeTime(d)
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				it, err := decodeCartItem(d)
				if err != nil {
					return err
				}
				c.Items = append(c.Items, it)
				return nil
			})
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode cart")
	}
	return c, nil
}

func decodeCartItem(d *jx.Decoder) (cart.Item, error) {
	var it cart.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product_id":
			it.ProductID, err = d.Str()
		case "name":
			it.Name, err = d.Str()
		case "price":
			it.Price, err = decodeMoney(d)
		case "quantity":
			it.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return errors.Wrap(err, key)
	})
	return it, err
}

// EncodeOrder writes an order. Items are included only when loaded, so order
// history listings stay compact.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
		e.Field("user_id", func(e *jx.Encoder) { e.Str(o.UserID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
		e.Field("total_amount", func(e *jx.Encoder) { Money(e, o.Total) })
		e.Field("order_date", func(e *jx.Encoder) { Time(e, o.OrderedAt) })
		if o.Items == nil {
			return
		}
		e.Field("items", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, it := range o.Items {
					e.Obj(func(e *jx.Encoder) {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(it.ProductID) })
						e.Field("name", func(e *jx.Encoder) { e.Str(it.Name) })
						e.Field("quantity", func(e *jx.Encoder) { e.Int(it.Quantity) })
						e.Field("price_at_order", func(e *jx.Encoder) { Money(e, it.PriceAtOrder) })
					})
				}
			})
		})
	})
}

// EncodeOrders writes a JSON array of orders.
func EncodeOrders(e *jx.Encoder, os []order.Order) {
	e.Arr(func(e *jx.Encoder) {
		for i := range os {
			EncodeOrder(e, &os[i])
		}
	})
}

// ItemRequest is the body of cart mutation requests.
type ItemRequest struct {
	ProductID string
	Quantity  int
	// HasQuantity is false when the body omitted the quantity.
	HasQuantity bool
}

// DecodeItemRequest parses {"product_id": "...", "quantity": n}. The
// product id may be a JSON string or number.
func DecodeItemRequest(d *jx.Decoder) (ItemRequest, error) {
	var req ItemRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "product_id", "productId":
			id, err := decodeID(d)
			if err != nil {
				return errors.Wrap(err, key)
			}
			req.ProductID = id
			return nil
		case "quantity":
			n, err := d.Int()
			if err != nil {
				return errors.Wrap(err, key)
			}
			req.Quantity, req.HasQuantity = n, true
			return nil
		default:
			return d.Skip()
		}
	})
	return req, err
}

// decodeID accepts an identifier written as a string or an integer.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		return d.Str()
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		if !n.IsInt() {
			return "", errors.New("identifier must be an integer")
		}
		return n.String(), nil
	default:
		return "", errors.Errorf("unexpected %s", d.Next())
	}
}

func decodeMoney(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	default:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	}
}

func decodeTime(d *jx.Decoder) (time.Time, error) {
	s, err := d.Str()
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, s)
}
