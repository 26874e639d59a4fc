/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - Draft or payment rejected before any write
  2. Store errors      - Read/write failures, possibly leaving partial state
  3. Lookup errors     - Referenced transaction does not exist

DRIFT:
  Drift (summary != fold of the ledger) is never returned as an error by a
  mutating operation. CheckDrift reports it; Recompute repairs it.

USAGE:
  if errors.Is(err, ledger.ErrValidation) {
      // show reason to the user, nothing was written
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrStore is the root of every *StoreError.
	ErrStore = errors.New("store operation failed")

	// ErrTransactionNotFound is returned when the referenced transaction doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrConcurrentModification is returned when the caller's view of a
	// transaction no longer matches the stored record.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrConflict is returned when an atomic update keeps losing to
	// concurrent writers and the store gives up retrying.
	ErrConflict = errors.New("conflict retries exhausted")
)

// Validation reasons. The first three are checked in this order by Validate.
const (
	ReasonAmount           = "amount must be a positive number"
	ReasonDescription      = "description is required"
	ReasonType             = "invalid transaction type"
	ReasonCreditType       = "only sales and purchases can be on credit"
	ReasonClientName       = "client name is required for credit transactions"
	ReasonExtraIncomeSale  = "extra income is only allowed on sales"
	ReasonExtraIncomeType  = "extra income type must be capital or profit"
	ReasonPaymentAmount    = "payment amount must be a positive number"
	ReasonPaymentNotCredit = "payments can only be recorded on credit transactions"
	ReasonPaymentExceeds   = "payment amount exceeds remaining debt"
	ReasonPercentage       = "profit percentage must be between 0 and 100"
	ReasonOwner            = "owner is required"
	ReasonMonth            = "month must be between 1 and 12"
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError is returned before any write when input is rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// StoreError wraps a failed store call with the operation that issued it.
type StoreError struct {
	Op    string
	Owner OwnerID
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s (owner %s): %v", e.Op, e.Owner, e.Err)
}

func (e *StoreError) Unwrap() []error {
	return []error{ErrStore, e.Err}
}

// storeErr wraps err unless it already carries domain meaning the caller
// should match on directly.
func storeErr(op string, owner OwnerID, err error) error {
	if err == nil {
		return nil
	}
	var verr *ValidationError
	if errors.As(err, &verr) || errors.Is(err, ErrTransactionNotFound) || errors.Is(err, ErrConcurrentModification) {
		return err
	}
	return &StoreError{Op: op, Owner: owner, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing transaction.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTransactionNotFound)
}
