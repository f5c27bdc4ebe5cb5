package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/wire"
)

// PlaceOrder checks out the caller's cart and answers 201 with the created
// order and its items.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.PlaceOrder(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("message", func(e *jx.Encoder) { e.Str("Order placed successfully.") })
			e.Field("order", func(e *jx.Encoder) { wire.EncodeOrder(e, o) })
			e.Field("items_count", func(e *jx.Encoder) { e.Int(len(o.Items)) })
		})
	})
}

// ListOrders returns the caller's order headers, newest first.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context(), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeOrders(e, orders) })
}

// GetOrder returns one of the caller's orders with its items.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeOrder(e, o) })
}
