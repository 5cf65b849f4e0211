/*
errors.go - Error taxonomy for the ledger state machine

PURPOSE:
  All error types in one place. Balance-level errors propagate unchanged
  through the ledger and the engine, so callers can match them with
  errors.Is (sentinels) or errors.As (structured errors).

ERROR CATEGORIES:
  1. Business rejections (recoverable): account locked, insufficient funds,
     insufficient held funds, duplicate transaction id, invalid transaction.
     The transaction is not applied and the balance is unchanged. Callers
     log and continue with the next transaction.
  2. Invariant violations (fatal): the engine lost a ledger it just created
     or saw a kind outside the closed set. These signal a programming error.

NOT AN ERROR:
  A dispute, resolve or chargeback that references a transaction id the
  client never deposited or withdrew under is ignored. It is treated as a
  data-quality issue on the partner side and never surfaced.

USAGE:
  err := engine.Apply(tx)
  switch {
  case err == nil:
  case payment.IsRecoverable(err):
      log.Warn("rejected", zap.String("reason", payment.Reason(err)))
  default:
      return err
  }
*/
package payment

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAccountLocked is returned for any mutation attempted on a locked account.
	ErrAccountLocked = errors.New("account locked")

	// ErrInsufficientFunds is returned when a withdrawal exceeds available funds.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientHeld is returned when a resolve or chargeback asks for
	// more than is currently held.
	ErrInsufficientHeld = errors.New("insufficient held funds")

	// ErrDuplicateTransaction is returned when a deposit or withdrawal reuses
	// a transaction id already recorded for the client and the engine runs
	// with DuplicateReject.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrInvalidTransaction is returned for transactions that break the
	// construction rules (negative amount, unknown kind).
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrInvariantViolation marks internal failures. Never recoverable.
	ErrInvariantViolation = errors.New("engine invariant violation")

	// ErrLedgerMissing is the invariant violation raised when a client's
	// ledger cannot be found right after it was created.
	ErrLedgerMissing = errors.New("ledger missing after creation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

type AccountLockedError struct {
	Client ClientID
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account %d is locked and the transaction cannot be applied", e.Client)
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// InsufficientFundsError provides details about a rejected withdrawal.
type InsufficientFundsError struct {
	Client    ClientID
	Available Amount
	Requested Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds for client %d: available %s, requested %s",
		e.Client, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InsufficientHeldError provides details about a rejected resolve or chargeback.
type InsufficientHeldError struct {
	Client    ClientID
	Held      Amount
	Requested Amount
}

func (e *InsufficientHeldError) Error() string {
	return fmt.Sprintf("insufficient held funds for client %d: held %s, requested %s",
		e.Client, e.Held, e.Requested)
}

func (e *InsufficientHeldError) Unwrap() error { return ErrInsufficientHeld }

type DuplicateTransactionError struct {
	Client ClientID
	ID     TransactionID
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("transaction %d already recorded for client %d", e.ID, e.Client)
}

func (e *DuplicateTransactionError) Unwrap() error { return ErrDuplicateTransaction }

// ValidationError describes a transaction that breaks its construction rules.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid transaction %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidTransaction }

// InvariantViolationError wraps a fatal internal failure.
type InvariantViolationError struct {
	Reason string
	Err    error
}

func (e *InvariantViolationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvariantViolation, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrInvariantViolation, e.Reason)
}

func (e *InvariantViolationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvariantViolation, e.Err}
	}
	return []error{ErrInvariantViolation}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRecoverable reports whether err is a business rejection. The transaction
// was not applied, nothing changed, and processing can continue.
func IsRecoverable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return errors.Is(err, ErrAccountLocked) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrInsufficientHeld) ||
		errors.Is(err, ErrDuplicateTransaction) ||
		errors.Is(err, ErrInvalidTransaction)
}

// IsFatal reports whether err signals a broken engine invariant.
func IsFatal(err error) bool {
	return errors.Is(err, ErrInvariantViolation)
}

// Reason returns a stable machine-readable code for err, used by the
// journal and the HTTP API. It returns "" for nil.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case IsFatal(err):
		return "invariant_violation"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientHeld):
		return "insufficient_held"
	case errors.Is(err, ErrDuplicateTransaction):
		return "duplicate_transaction"
	case errors.Is(err, ErrInvalidTransaction):
		return "invalid_transaction"
	default:
		return "unknown"
	}
}
