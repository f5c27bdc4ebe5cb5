// Package postgres implements the cart and order unit-of-work contracts on
// PostgreSQL.
//
// Checkout locks the cart row first and then every referenced product row in
// id order with FOR NO KEY UPDATE, so concurrent checkouts touching the same
// products serialize instead of deadlocking, and cart-item inserts (which
// take FOR KEY SHARE on products) are not blocked.
package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront/internal/domain/apperr"
)

// SQLSTATE codes treated as retryable contention.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// codeNumericOutOfRange is raised when an additive upsert overflows the
// quantity column.
const codeNumericOutOfRange = "22003"

// DB is the subset of *pgxpool.Pool used by the engine.
type DB interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewPool creates a pgxpool.Pool configured with shopspring/decimal support
// for NUMERIC columns.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	return pool, nil
}

// ParseIsolation maps a config value to a pgx isolation level. The empty
// string selects read committed.
func ParseIsolation(s string) (pgx.TxIsoLevel, error) {
	switch s {
	case "", "read_committed":
		return pgx.ReadCommitted, nil
	case "repeatable_read":
		return pgx.RepeatableRead, nil
	case "serializable":
		return pgx.Serializable, nil
	default:
		return "", errors.Errorf("unknown isolation level %q", s)
	}
}

// Engine runs units of work against PostgreSQL.
type Engine struct {
	db     DB
	txOpts pgx.TxOptions
}

// Option configures an Engine.
type Option func(*Engine)

// WithIsolation sets the isolation level of every unit of work.
func WithIsolation(level pgx.TxIsoLevel) Option {
	return func(e *Engine) { e.txOpts.IsoLevel = level }
}

// New returns an Engine over db. Units of work run at read committed unless
// WithIsolation says otherwise.
func New(db DB, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		txOpts: pgx.TxOptions{IsoLevel: pgx.ReadCommitted},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Carts returns the cart.Store view of the engine.
func (e *Engine) Carts() *CartStore { return &CartStore{e: e} }

// Orders returns the order.Store view of the engine.
func (e *Engine) Orders() *OrderStore { return &OrderStore{e: e} }

// Products returns the catalog repository.
func (e *Engine) Products() *ProductRepository { return &ProductRepository{e: e} }

// inTx begins a transaction, runs fn and commits. The transaction is rolled
// back on every other exit path, including panics.
func (e *Engine) inTx(ctx context.Context, fn func(t *tx) error) error {
	pgTx, err := e.db.BeginTx(ctx, e.txOpts)
	if err != nil {
		return classify(errors.Wrap(err, "begin"))
	}

	committed := false
	defer func() {
		if !committed {
			_ = pgTx.Rollback(context.WithoutCancel(ctx))
		}
	}()

	if err := fn(&tx{tx: pgTx}); err != nil {
		return classify(err)
	}
	if err := pgTx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit"))
	}
	committed = true
	return nil
}

// classify marks lock and serialization conflicts as apperr.ErrContention.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return apperr.Contention(err)
	default:
		return err
	}
}
