package txn

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/apperr"
)

var fastPolicy = Policy{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
}

func TestDo_Success(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op", fastPolicy, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesContentionThenSucceeds(t *testing.T) {
	var (
		calls   int
		retried []int
	)
	err := Do(context.Background(), "op", fastPolicy, func(context.Context) error {
		calls++
		if calls < 3 {
			return apperr.Contention(errors.New("could not serialize access"))
		}
		return nil
	}, func(_ context.Context, attempt int, _ error) {
		retried = append(retried, attempt)
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDo_ContentionExhausted(t *testing.T) {
	calls := 0
	cause := errors.New("deadlock detected")
	err := Do(context.Background(), "place order", fastPolicy, func(context.Context) error {
		calls++
		return apperr.Contention(cause)
	})

	var txErr *apperr.TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, txErr.Attempts)
	assert.Equal(t, "place order", txErr.Op)
	assert.ErrorIs(t, err, apperr.ErrTransactionFailed)
	assert.ErrorIs(t, err, cause)
}

func TestDo_DomainErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op", fastPolicy, func(context.Context) error {
		calls++
		return &apperr.InsufficientStockError{ProductID: "p1", Requested: 2, Available: 1}
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.NotErrorIs(t, err, apperr.ErrTransactionFailed)
}

func TestDo_StorageErrorNotRetried(t *testing.T) {
	calls := 0
	err := Do(context.Background(), "op", fastPolicy, func(context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperr.KindTransactionFailed, apperr.KindOf(err))
}

func TestDo_ZeroPolicyUsesDefaults(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), "op", Policy{InitialBackoff: time.Microsecond, MaxBackoff: time.Microsecond}, func(context.Context) error {
		calls++
		return apperr.Contention(errors.New("busy"))
	})
	assert.Equal(t, DefaultPolicy.MaxAttempts, calls)
}
