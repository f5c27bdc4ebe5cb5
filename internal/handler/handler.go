package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

const maxBodyBytes = 1 << 20

// Handler serves the storefront JSON API, delegating to the cart and order
// services and the product repository.
type Handler struct {
	products product.Repository
	carts    *cart.Service
	orders   *order.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(products product.Repository, carts *cart.Service, orders *order.Service) *Handler {
	return &Handler{
		products: products,
		carts:    carts,
		orders:   orders,
	}
}

// Router mounts the API under /api. Catalog reads are public; cart and
// order routes run behind authenticate. Per-client middlewares (rate
// limiting) run after authentication so they can key by user.
func (h *Handler) Router(authenticate httpmiddleware.Middleware, perClient ...httpmiddleware.Middleware) http.Handler {
	r := chi.NewRouter()
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusNotFound, string(apperr.KindNotFound), "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httpmiddleware.WriteError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			for _, mw := range perClient {
				r.Use(mw)
			}
			r.Get("/products", h.ListProducts)
			r.Get("/products/{id}", h.GetProduct)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			for _, mw := range perClient {
				r.Use(mw)
			}

			r.Get("/cart", h.GetCart)
			r.Post("/cart/items", h.AddCartItem)
			r.Put("/cart/items/{product_id}", h.SetCartItemQuantity)
			r.Delete("/cart/items/{product_id}", h.RemoveCartItem)

			r.Post("/orders", h.PlaceOrder)
			r.Get("/orders", h.ListOrders)
			r.Get("/orders/{id}", h.GetOrder)
		})
	})
	return r
}

// writeJSON encodes the body with fn and writes it with status.
func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// writeError maps a domain error to its HTTP status and writes the error
// envelope. Internal failures are logged and reported without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := statusOf(kind)
	message := err.Error()

	switch {
	case status >= http.StatusInternalServerError && kind == apperr.KindInternal:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		message = "internal server error"
	case status >= http.StatusInternalServerError:
		zctx.From(r.Context()).Warn("Transaction failed", zap.Error(err))
		message = "could not complete the request, try again"
	}

	var stock *apperr.InsufficientStockError
	hasStock := errors.As(err, &stock)

	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("kind", func(e *jx.Encoder) { e.Str(string(kind)) })
					e.Field("message", func(e *jx.Encoder) { e.Str(message) })
					if hasStock {
						e.Field("product_id", func(e *jx.Encoder) { e.Str(stock.ProductID) })
						e.Field("requested", func(e *jx.Encoder) { e.Int(stock.Requested) })
						e.Field("available", func(e *jx.Encoder) { e.Int(stock.Available) })
					}
				})
			})
		})
	})
}

func statusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindInvalidInput, apperr.KindEmptyCart:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInsufficientStock:
		return http.StatusConflict
	case apperr.KindTransactionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a size-limited JSON body and runs fn over it. Malformed
// bodies are reported as invalid input.
func decodeBody(w http.ResponseWriter, r *http.Request, fn func(d *jx.Decoder) error) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return apperr.InvalidInput("body", err.Error())
	}
	if len(body) == 0 {
		return apperr.InvalidInput("body", "must not be empty")
	}
	if err := fn(jx.DecodeBytes(body)); err != nil {
		return apperr.InvalidInput("body", err.Error())
	}
	return nil
}

// userID returns the principal set by the authentication middleware.
func userID(r *http.Request) string {
	id, _ := httpmiddleware.UserIDFromContext(r.Context())
	return id
}
