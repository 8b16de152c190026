/*
errors.go - Centralized error taxonomy for the marketplace core

PURPOSE:
  All error kinds in one place. The core raises the specific kind and lets
  the transaction roll back in full; the HTTP boundary maps kind to status
  code. The core never catches its own invariant violations to recover.

ERROR CATEGORIES:
  1. Lookup errors     - missing or tombstoned rows
  2. Business errors   - insufficient balance/quantity (recoverable client errors)
  3. Temporal errors   - structurally valid but temporally disallowed
  4. Access errors     - unauthenticated / not the owner
  5. Store errors      - optimistic concurrency conflicts

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

  var nf *ledger.NotFoundError
  if errors.As(err, &nf) { ... }
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced row does not exist or is
	// tombstoned. Tombstoned rows are indistinguishable from missing ones.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned on a uniqueness violation during create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnauthorized is returned when no authenticated principal is present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the principal is authenticated but is
	// not the owner of the resource being acted on.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidOperation is returned for structurally valid requests that
	// are temporally disallowed (window expired, purchase not active).
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInsufficientBalance is returned when a purchase would drive the
	// customer's balance negative. The engine rejects, it never clamps.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientQuantity is returned when a purchase exceeds the
	// offer's available quantity.
	ErrInsufficientQuantity = errors.New("insufficient quantity")

	// ErrInvalidQuantity is returned for non-positive purchase quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrConcurrentModification is returned when the optimistic version
	// check on a row fails at commit. Safe to retry.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which row was missing.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ForbiddenError records a failed ownership check.
type ForbiddenError struct {
	UserID string
	Entity string
	Key    string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("user %q does not own %s %q", e.UserID, e.Entity, e.Key)
}

func (e *ForbiddenError) Unwrap() error { return ErrForbidden }

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	CustomerID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InsufficientQuantityError provides details about an offer shortage.
type InsufficientQuantityError struct {
	OfferID   string
	Available int64
	Requested int64
}

func (e *InsufficientQuantityError) Error() string {
	return fmt.Sprintf("insufficient quantity: available %d, requested %d",
		e.Available, e.Requested)
}

func (e *InsufficientQuantityError) Unwrap() error { return ErrInsufficientQuantity }

// WindowExpiredError is raised when a customer cancels after the deadline.
type WindowExpiredError struct {
	PurchaseID  string
	PurchasedAt time.Time
	Window      time.Duration
	At          time.Time
}

func (e *WindowExpiredError) Error() string {
	return fmt.Sprintf("cancellation window expired for purchase %q: purchased %s, window %s",
		e.PurchaseID, e.PurchasedAt.Format(time.RFC3339), e.Window)
}

func (e *WindowExpiredError) Unwrap() error { return ErrInvalidOperation }

// StateError is raised when a lifecycle transition is attempted from a
// terminal or otherwise wrong state.
type StateError struct {
	Entity string
	Key    string
	State  string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s %q is %s", e.Entity, e.Key, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidOperation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is a recoverable client error
// (maps to a 4xx at the boundary, not a server fault).
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientQuantity) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrAlreadyExists)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
