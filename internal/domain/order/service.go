package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/txn"
)

const instrumentationName = "github.com/xenking/storefront/internal/domain/order"

// Service is the checkout engine: it turns a user's cart into an order in a
// single unit of work, and serves order history reads.
type Service struct {
	store Store
	cache cart.Cache
	retry txn.Policy
	now   func() time.Time
	newID func() string

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	tracer   trace.Tracer
	placed   metric.Int64Counter
	failures metric.Int64Counter
	retries  metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithCartCache makes checkout drop the cached cart view after commit.
func WithCartCache(c cart.Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithRetryPolicy overrides the contention retry policy.
func WithRetryPolicy(p txn.Policy) Option {
	return func(s *Service) { s.retry = p }
}

// WithClock overrides the order timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider. Defaults to noop.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider. Defaults to noop.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// NewService creates an order Service backed by store.
func NewService(store Store, opts ...Option) (*Service, error) {
	s := &Service{
		store:          store,
		retry:          txn.DefaultPolicy,
		now:            time.Now,
		newID:          func() string { return uuid.New().String() },
		tracerProvider: tracenoop.NewTracerProvider(),
		meterProvider:  metricnoop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	meter := s.meterProvider.Meter(instrumentationName)

	var err error
	if s.placed, err = meter.Int64Counter("storefront.checkout.orders",
		metric.WithDescription("Orders placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders counter")
	}
	if s.failures, err = meter.Int64Counter("storefront.checkout.failures",
		metric.WithDescription("Failed checkouts by error kind"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	if s.retries, err = meter.Int64Counter("storefront.txn.retries",
		metric.WithDescription("Checkout transactions retried after contention"),
	); err != nil {
		return nil, errors.Wrap(err, "retries counter")
	}

	return s, nil
}

// PlaceOrder converts the user's cart into an order. Stock validation, the
// order insert, stock decrements and cart deletion commit together or not at
// all.
func (s *Service) PlaceOrder(ctx context.Context, userID string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer func() {
		if rerr != nil {
			kind := string(apperr.KindOf(rerr))
			span.RecordError(rerr)
			span.SetStatus(codes.Error, kind)
			s.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		}
		span.End()
	}()

	if userID == "" {
		return nil, apperr.InvalidInput("user_id", "must not be empty")
	}

	var placed *Order
	err := txn.Do(ctx, "place order", s.retry, func(ctx context.Context) error {
		placed = nil
		return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			o, err := s.checkout(ctx, tx, userID)
			if err != nil {
				return err
			}
			placed = o
			return nil
		})
	}, s.onRetry)
	if err != nil {
		return nil, err
	}

	s.placed.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.id", placed.ID))
	cart.Invalidate(ctx, s.cache, userID)

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", placed.ID),
		zap.String("user_id", userID),
		zap.Int("items", len(placed.Items)),
		zap.String("total", placed.Total.StringFixed(2)),
	)
	return placed, nil
}

// checkout runs one attempt of the checkout protocol inside tx. Every check
// happens before the first write, and any error rolls the whole attempt back.
func (s *Service) checkout(ctx context.Context, tx Tx, userID string) (*Order, error) {
	cartID, lines, err := tx.LockCart(ctx, userID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrEmptyCart
		}
		return nil, errors.Wrap(err, "lock cart")
	}
	if len(lines) == 0 {
		return nil, apperr.ErrEmptyCart
	}

	ids := lo.Map(lines, func(l cart.LineItem, _ int) string { return l.ProductID })
	locked, err := tx.LockProducts(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "lock products")
	}
	products := lo.KeyBy(locked, func(p product.Product) string { return p.ID })

	for _, l := range lines {
		if l.Quantity <= 0 || l.Quantity > cart.MaxQuantity {
			return nil, apperr.InvalidInput("quantity",
				fmt.Sprintf("cart line %s has quantity %d", l.ProductID, l.Quantity))
		}
		p, ok := products[l.ProductID]
		if !ok {
			return nil, apperr.NotFound("product", l.ProductID)
		}
		if l.Quantity > p.Stock {
			return nil, &apperr.InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: l.Quantity,
				Available: p.Stock,
			}
		}
	}

	o := &Order{
		ID:        s.newID(),
		UserID:    userID,
		Status:    StatusProcessing,
		OrderedAt: s.now().UTC(),
		Items:     make([]Item, 0, len(lines)),
	}
	total := decimal.Zero
	for _, l := range lines {
		p := products[l.ProductID]
		it := Item{
			ProductID:    p.ID,
			Name:         p.Name,
			Quantity:     l.Quantity,
			PriceAtOrder: p.Price,
		}
		total = total.Add(it.LineTotal())
		o.Items = append(o.Items, it)
	}
	o.Total = total

	if err := tx.CreateOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	for _, it := range o.Items {
		if err := tx.DecrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			return nil, errors.Wrapf(err, "decrement stock %s", it.ProductID)
		}
	}
	if err := tx.DeleteCart(ctx, cartID); err != nil {
		return nil, errors.Wrap(err, "delete cart")
	}
	return o, nil
}

func (s *Service) onRetry(ctx context.Context, _ int, _ error) {
	s.retries.Add(ctx, 1)
}

// ListOrders returns the user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, apperr.InvalidInput("user_id", "must not be empty")
	}
	orders, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

// GetOrder returns one of the user's orders with its items.
func (s *Service) GetOrder(ctx context.Context, userID, orderID string) (*Order, error) {
	if userID == "" {
		return nil, apperr.InvalidInput("user_id", "must not be empty")
	}
	if orderID == "" {
		return nil, apperr.InvalidInput("order_id", "must not be empty")
	}
	o, err := s.store.Get(ctx, userID, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}
