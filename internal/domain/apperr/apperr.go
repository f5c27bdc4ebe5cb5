// Package apperr defines the failure taxonomy shared by the cart and order
// domains. Every error returned by a domain operation matches exactly one of
// the sentinels below via errors.Is, so callers can branch on the kind
// without knowing which layer produced it.
package apperr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors, one per failure kind.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrEmptyCart         = errors.New("cart is empty")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrContention marks storage failures caused by concurrent access
	// (serialization failure, deadlock, lock timeout). Only these are retried.
	ErrContention = errors.New("storage contention")
)

// Kind is a stable, wire-friendly name of a failure class.
type Kind string

const (
	KindInvalidInput      Kind = "InvalidInput"
	KindNotFound          Kind = "NotFound"
	KindEmptyCart         Kind = "EmptyCart"
	KindInsufficientStock Kind = "InsufficientStock"
	KindTransactionFailed Kind = "TransactionFailed"
	KindInternal          Kind = "Internal"
)

// KindOf classifies err. Contention that escaped the retry loop is reported
// as TransactionFailed. A nil error has no kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrEmptyCart):
		return KindEmptyCart
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrTransactionFailed), errors.Is(err, ErrContention):
		return KindTransactionFailed
	default:
		return KindInternal
	}
}

// IsDomain reports whether err is a caller-visible business failure that
// must abort the unit of work without retry.
func IsDomain(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindNotFound, KindEmptyCart, KindInsufficientStock:
		return true
	default:
		return false
	}
}

// InvalidInputError reports a malformed argument.
type InvalidInputError struct {
	Field  string
	Reason string
}

// InvalidInput returns an *InvalidInputError for field.
func InvalidInput(field, reason string) error {
	return &InvalidInputError{Field: field, Reason: reason}
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// NotFoundError reports a missing product, cart, line item or order.
type NotFoundError struct {
	Entity string
	ID     string
}

// NotFound returns a *NotFoundError for the entity with the given id.
func NotFound(entity, id string) error {
	return &NotFoundError{Entity: entity, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError names the product whose stock cannot cover the
// requested quantity, so the client can adjust its cart.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	name := e.ProductID
	if e.Name != "" {
		name = fmt.Sprintf("%s (%s)", e.Name, e.ProductID)
	}
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		name, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransactionError is returned when a unit of work could not be committed.
type TransactionError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("%s: transaction failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both the kind sentinel and the storage cause.
func (e *TransactionError) Unwrap() []error { return []error{ErrTransactionFailed, e.Err} }

// Contention wraps a storage error as retryable contention.
func Contention(err error) error {
	return &contentionError{err: err}
}

type contentionError struct{ err error }

func (e *contentionError) Error() string   { return "contention: " + e.err.Error() }
func (e *contentionError) Unwrap() []error { return []error{ErrContention, e.err} }
