// Package walleterr holds the error taxonomy shared by the account store, the
// ledger and the balance engine. Callers classify failures with errors.Is.
package walleterr

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input. Never retried automatically.
	ErrValidation = errors.New("validation error")
	// ErrNotFound is returned by strict reads of a missing account.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateEntry marks an idempotency key reused for a different request.
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrInsufficientFunds rejects a mutation that would take balance below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientReservation rejects a mutation that would take in_order below zero.
	ErrInsufficientReservation = errors.New("insufficient reservation")
	// ErrStoreUnavailable is a transient infrastructure fault; nothing was committed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAccountFrozen rejects entries against a frozen account.
	ErrAccountFrozen = errors.New("account frozen")
)

func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Unavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Business reports whether err is a rule rejection rather than a fault.
func Business(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDuplicateEntry) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientReservation) ||
		errors.Is(err, ErrAccountFrozen)
}

// FromContext maps deadline and cancellation to ErrStoreUnavailable.
func FromContext(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Unavailable(err)
	}
	return err
}

// Reason is a short stable label used for metrics and HTTP bodies.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateEntry):
		return "duplicate_entry"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientReservation):
		return "insufficient_reservation"
	case errors.Is(err, ErrAccountFrozen):
		return "account_frozen"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
