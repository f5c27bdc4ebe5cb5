package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/wire"
)

// GetCart responds with {"cart": {...}}. Users without a cart get an empty
// one.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.GetCart(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("cart", func(e *jx.Encoder) { wire.EncodeCart(e, c) })
		})
	})
}

// AddCartItem adds the requested quantity to the cart line, creating the
// cart and the line when missing.
func (h *Handler) AddCartItem(w http.ResponseWriter, r *http.Request) {
	var req wire.ItemRequest
	if err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		req, err = wire.DecodeItemRequest(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.HasQuantity {
		writeError(w, r, apperr.InvalidInput("quantity", "is required"))
		return
	}

	item, err := h.carts.AddItem(r.Context(), userID(r), req.ProductID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeItem(w, "Item added to cart.", item)
}

// SetCartItemQuantity replaces the quantity of an existing cart line.
func (h *Handler) SetCartItemQuantity(w http.ResponseWriter, r *http.Request) {
	var req wire.ItemRequest
	if err := decodeBody(w, r, func(d *jx.Decoder) (err error) {
		req, err = wire.DecodeItemRequest(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.HasQuantity {
		writeError(w, r, apperr.InvalidInput("quantity", "is required"))
		return
	}

	item, err := h.carts.SetItemQuantity(r.Context(), userID(r), chi.URLParam(r, "product_id"), req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeItem(w, "Quantity updated.", item)
}

// RemoveCartItem deletes a cart line and answers 204.
func (h *Handler) RemoveCartItem(w http.ResponseWriter, r *http.Request) {
	if err := h.carts.RemoveItem(r.Context(), userID(r), chi.URLParam(r, "product_id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeItem(w http.ResponseWriter, message string, item *cart.LineItem) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("message", func(e *jx.Encoder) { e.Str(message) })
			e.Field("item", func(e *jx.Encoder) { wire.EncodeLineItem(e, *item) })
		})
	})
}
