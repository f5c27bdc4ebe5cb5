package wire

import (
	"testing"
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
)

func encode(f func(e *jx.Encoder)) string {
	var e jx.Encoder
	f(&e)
	return e.String()
}

func TestEncodeOrder(t *testing.T) {
	o := &order.Order{
		ID:        "o-1",
		UserID:    "u1",
		Status:    order.StatusProcessing,
		Total:     decimal.RequireFromString("3"),
		OrderedAt: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Items: []order.Item{
			{ProductID: "a", Name: "Apple", Quantity: 2, PriceAtOrder: decimal.RequireFromString("1.5")},
		},
	}

	got := encode(func(e *jx.Encoder) { EncodeOrder(e, o) })
	assert.JSONEq(t, `{
		"id": "o-1",
		"user_id": "u1",
		"status": "Processing",
		"total_amount": "3.00",
		"order_date": "2026-10-18T12:00:00Z",
		"items": [{"product_id": "a", "name": "Apple", "quantity": 2, "price_at_order": "1.50"}]
	}`, got)

	o.Items = nil
	assert.NotContains(t, encode(func(e *jx.Encoder) { EncodeOrder(e, o) }), "items")
}

func TestEncodeCart_Subtotal(t *testing.T) {
	c := &cart.Cart{
		UserID: "u1",
		Items: []cart.Item{
			{ProductID: "a", Name: "Apple", Price: decimal.RequireFromString("0.10"), Quantity: 3},
		},
	}

	got := encode(func(e *jx.Encoder) { EncodeCart(e, c) })
	assert.JSONEq(t, `{
		"user_id": "u1",
		"items": [{"product_id": "a", "name": "Apple", "price": "0.10", "quantity": 3, "line_total": "0.30"}],
		"subtotal": "0.30"
	}`, got)

	decoded, err := DecodeCart(jx.DecodeStr(got))
	require.NoError(t, err)
	assert.Equal(t, c.UserID, decoded.UserID)
	require.Len(t, decoded.Items, 1)
	assert.True(t, c.Items[0].Price.Equal(decoded.Items[0].Price))
}

func TestDecodeItemRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    ItemRequest
		wantErr bool
	}{
		{"string id", `{"product_id": "x", "quantity": 2}`, ItemRequest{ProductID: "x", Quantity: 2, HasQuantity: true}, false},
		{"numeric id", `{"productId": 17, "quantity": 1}`, ItemRequest{ProductID: "17", Quantity: 1, HasQuantity: true}, false},
		{"no quantity", `{"product_id": "x"}`, ItemRequest{ProductID: "x"}, false},
		{"unknown field", `{"product_id": "x", "note": {"a": 1}}`, ItemRequest{ProductID: "x"}, false},
		{"fractional id", `{"product_id": 1.5}`, ItemRequest{}, true},
		{"string quantity", `{"quantity": "2"}`, ItemRequest{}, true},
		{"not an object", `[]`, ItemRequest{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeItemRequest(jx.DecodeStr(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeProducts(t *testing.T) {
	products, err := DecodeProducts(jx.DecodeStr(`[
		{"id":"kb-1","name":"Keyboard","description":"mechanical","price":"49.90","stock_quantity":12},
		{"id":7,"name":"Mouse","description":null,"price":19.5,"stock":3,"category":"input"}
	]`))
	require.NoError(t, err)
	require.Len(t, products, 2)

	assert.Equal(t, "kb-1", products[0].ID)
	assert.Equal(t, "mechanical", products[0].Description)
	assert.True(t, decimal.RequireFromString("49.90").Equal(products[0].Price))
	assert.Equal(t, 12, products[0].Stock)

	assert.Equal(t, "7", products[1].ID)
	assert.Empty(t, products[1].Description)
	assert.True(t, decimal.RequireFromString("19.50").Equal(products[1].Price))
	assert.Equal(t, 3, products[1].Stock)

	for _, bad := range []string{
		`[{"name":"No id","price":"1"}]`,
		`[{"id":"x","price":"1"}]`,
		`[{"id":"x","name":"X","price":"-1"}]`,
		`[{"id":"x","name":"X","price":"1","stock_quantity":-2}]`,
		`{"id":"x"}`,
	} {
		_, err := DecodeProducts(jx.DecodeStr(bad))
		assert.Error(t, err, bad)
	}
}
