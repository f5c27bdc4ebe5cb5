// Package txn retries units of work that failed because of storage
// contention. Domain failures and other storage errors are returned after the
// first attempt.
package txn

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is used when a zero Policy is supplied.
var DefaultPolicy = Policy{
	MaxAttempts:    5,
	InitialBackoff: 10 * time.Millisecond,
	MaxBackoff:     250 * time.Millisecond,
}

func (p Policy) normalize() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultPolicy.InitialBackoff
	}
	if p.MaxBackoff < p.InitialBackoff {
		p.MaxBackoff = p.InitialBackoff
	}
	return p
}

// RetryHook is notified before each retry.
type RetryHook func(ctx context.Context, attempt int, err error)

// Do runs fn until it succeeds, fails with a non-contention error, or the
// attempt budget is spent.
//
// Domain errors (see apperr.IsDomain) are returned unchanged. Every other
// failure, including exhausted contention, is wrapped in an
// *apperr.TransactionError naming op.
func Do(ctx context.Context, op string, p Policy, fn func(ctx context.Context) error, hooks ...RetryHook) error {
	p = p.normalize()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialBackoff
	b.MaxInterval = p.MaxBackoff
	b.MaxElapsedTime = 0

	var attempts int
	operation := func() error {
		attempts++
		err := fn(ctx)
		switch {
		case err == nil:
			return nil
		case apperr.IsDomain(err), !errors.Is(err, apperr.ErrContention):
			return backoff.Permanent(err)
		}
		if attempts < p.MaxAttempts {
			zctx.From(ctx).Debug("Retrying transaction",
				zap.String("op", op),
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			for _, h := range hooks {
				h(ctx, attempts, err)
			}
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)
	err := backoff.Retry(operation, policy)
	switch {
	case err == nil:
		return nil
	case apperr.IsDomain(err):
		return err
	}
	return &apperr.TransactionError{Op: op, Attempts: attempts, Err: err}
}
