package cart

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/txn"
)

// Service implements cart mutations with additive upsert semantics. It holds
// no state of its own; concurrent calls for the same user are serialized by
// the storage engine.
type Service struct {
	store Store
	cache Cache
	retry txn.Policy
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables the display cache used by GetCart.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithRetryPolicy overrides the contention retry policy.
func WithRetryPolicy(p txn.Policy) Option {
	return func(s *Service) { s.retry = p }
}

// NewService creates a cart Service backed by store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		retry: txn.DefaultPolicy,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddItem adds quantity units of productID to the user's cart, creating the
// cart on first use. Re-adding a product increases the existing line.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int) (*LineItem, error) {
	if err := validate(userID, productID); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, apperr.InvalidInput("quantity", "must be greater than 0")
	}
	if quantity > MaxQuantity {
		return nil, QuantityTooLarge()
	}

	var item LineItem
	err := txn.Do(ctx, "add cart item", s.retry, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.GetProduct(ctx, productID); err != nil {
				return err
			}
			cartID, err := tx.EnsureCart(ctx, userID)
			if err != nil {
				return err
			}
			item, err = tx.AddQuantity(ctx, cartID, productID, quantity)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return &item, nil
}

// SetItemQuantity replaces the quantity of an existing line. Lowering a line
// to zero is done with RemoveItem.
func (s *Service) SetItemQuantity(ctx context.Context, userID, productID string, quantity int) (*LineItem, error) {
	if err := validate(userID, productID); err != nil {
		return nil, err
	}
	if quantity <= 0 {
		return nil, apperr.InvalidInput("quantity", "must be greater than 0, use remove to drop an item")
	}
	if quantity > MaxQuantity {
		return nil, QuantityTooLarge()
	}

	var item LineItem
	err := txn.Do(ctx, "set cart item quantity", s.retry, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			cartID, err := tx.FindCart(ctx, userID)
			if err != nil {
				return lineNotFound(err, productID)
			}
			item, err = tx.SetQuantity(ctx, cartID, productID, quantity)
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)
	return &item, nil
}

// RemoveItem deletes the user's line for productID.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) error {
	if err := validate(userID, productID); err != nil {
		return err
	}

	err := txn.Do(ctx, "remove cart item", s.retry, func(ctx context.Context) error {
		return s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
			cartID, err := tx.FindCart(ctx, userID)
			if err != nil {
				return lineNotFound(err, productID)
			}
			return tx.RemoveItem(ctx, cartID, productID)
		})
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	return nil
}

// GetCart returns the user's cart joined with current product data. A user
// without a cart gets an empty one.
func (s *Service) GetCart(ctx context.Context, userID string) (*Cart, error) {
	if userID == "" {
		return nil, apperr.InvalidInput("user_id", "must not be empty")
	}

	var (
		gen  uint64
		fill bool
	)
	if s.cache != nil {
		c, g, err := s.cache.Get(ctx, userID)
		switch {
		case err == nil:
			return c, nil
		case errors.Is(err, ErrCacheMiss):
			gen, fill = g, true
		default:
			zctx.From(ctx).Warn("Cart cache read failed", zap.String("user_id", userID), zap.Error(err))
		}
	}

	c, err := s.store.View(ctx, userID)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		c = &Cart{UserID: userID, Items: []Item{}}
	case err != nil:
		return nil, errors.Wrap(err, "view cart")
	}

	if fill {
		if err := s.cache.Set(ctx, userID, gen, c); err != nil {
			zctx.From(ctx).Warn("Cart cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return c, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	Invalidate(ctx, s.cache, userID)
}

// Invalidate drops the cached view of the user's cart. Failures are logged:
// the committed mutation stands and the entry expires on its own.
func Invalidate(ctx context.Context, cache Cache, userID string) {
	if cache == nil {
		return
	}
	if err := cache.Delete(ctx, userID); err != nil {
		zctx.From(ctx).Warn("Cart cache invalidation failed", zap.String("user_id", userID), zap.Error(err))
	}
}

func validate(userID, productID string) error {
	if userID == "" {
		return apperr.InvalidInput("user_id", "must not be empty")
	}
	if productID == "" {
		return apperr.InvalidInput("product_id", "must not be empty")
	}
	return nil
}

// lineNotFound reports a missing cart as a missing line item.
func lineNotFound(err error, productID string) error {
	if errors.Is(err, apperr.ErrNotFound) {
		return apperr.NotFound("cart item", productID)
	}
	return err
}
