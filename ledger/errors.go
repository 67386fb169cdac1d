/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error kinds in one place. Engines wrap these with context using
  fmt.Errorf("...: %w", err); callers test with errors.Is / errors.As.

ERROR KINDS:
  NotFound, InvalidAmount, InsufficientBalance, InsufficientHeldFunds,
  DuplicateActivePackage, DuplicateAccount, PackageClosed, InvalidState,
  InvalidTarget, InvalidSource, ValidationError.

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      var ib *ledger.InsufficientBalanceError
      if errors.As(err, &ib) { ... ib.Shortfall ... }
  }

SEE ALSO:
  - api/handlers.go: maps kinds to HTTP statuses
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound               = errors.New("not found")
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientHeldFunds  = errors.New("insufficient held funds")
	ErrDuplicateActivePackage = errors.New("an open package already exists for this account and target")
	ErrDuplicateAccount       = errors.New("account already exists")
	ErrPackageClosed          = errors.New("package is closed")
	ErrInvalidState           = errors.New("invalid state")
	ErrInvalidTarget          = errors.New("invalid merge target")
	ErrInvalidSource          = errors.New("invalid merge source")
	ErrValidation             = errors.New("validation error")
)

// Kind is the error category surfaced to callers.
type Kind string

const (
	KindNotFound               Kind = "NotFound"
	KindInvalidAmount          Kind = "InvalidAmount"
	KindInsufficientBalance    Kind = "InsufficientBalance"
	KindInsufficientHeldFunds  Kind = "InsufficientHeldFunds"
	KindDuplicateActivePackage Kind = "DuplicateActivePackage"
	KindDuplicateAccount       Kind = "DuplicateAccount"
	KindPackageClosed          Kind = "PackageClosed"
	KindInvalidState           Kind = "InvalidState"
	KindInvalidTarget          Kind = "InvalidTarget"
	KindInvalidSource          Kind = "InvalidSource"
	KindValidation             Kind = "ValidationError"
	KindInternal               Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrNotFound, KindNotFound},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInsufficientHeldFunds, KindInsufficientHeldFunds},
	{ErrInsufficientBalance, KindInsufficientBalance},
	{ErrDuplicateActivePackage, KindDuplicateActivePackage},
	{ErrDuplicateAccount, KindDuplicateAccount},
	{ErrPackageClosed, KindPackageClosed},
	{ErrInvalidState, KindInvalidState},
	{ErrInvalidTarget, KindInvalidTarget},
	{ErrInvalidSource, KindInvalidSource},
	{ErrValidation, KindValidation},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	Subject   string // account number or package id
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance on %s: available %s, requested %s, shortfall %s",
		e.Subject, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// EntryValidationError reports a general-ledger entry rejected before write.
type EntryValidationError struct {
	Field string
	Value string
}

func (e *EntryValidationError) Error() string {
	return fmt.Sprintf("validation error: invalid %s %q", e.Field, e.Value)
}

func (e *EntryValidationError) Unwrap() error {
	return ErrValidation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input
// or a business rule, as opposed to a store failure.
func IsClientError(err error) bool {
	k := KindOf(err)
	return k != KindInternal && k != KindNotFound
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
