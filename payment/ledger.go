/*
ledger.go - Per-client transaction history and dispute resolution

PURPOSE:
  An AccountLedger owns one client's AccountBalance and remembers the
  amount of every deposit and withdrawal that client made, keyed by
  transaction id. Disputes, resolves and chargebacks carry no amount of
  their own; the ledger looks the amount up here.

CRITICAL INVARIANTS:
  1. Only deposits and withdrawals are recorded. Dispute, resolve and
     chargeback look up but never insert.
  2. A transaction is recorded only after the balance accepted it. A
     rejected withdrawal cannot be disputed later.
  3. A reference to an unknown id is ignored, not an error.

DUPLICATE IDS:
  DuplicateReject (default): a deposit or withdrawal reusing an id that is
  already recorded fails with DuplicateTransactionError before the balance
  is touched. Later disputes keep referencing the first amount.

  DuplicateOverwrite: the balance operation runs and the later amount
  replaces the earlier one. A dispute issued afterwards disputes the
  overwritten (later) amount.

STATE:
  Unlocked -> Locked on a successful chargeback. Nothing leaves Locked.
*/
package payment

import "fmt"

// =============================================================================
// DUPLICATE POLICY
// =============================================================================

type DuplicatePolicy string

const (
	DuplicateReject    DuplicatePolicy = "reject"
	DuplicateOverwrite DuplicatePolicy = "overwrite"
)

// ParseDuplicatePolicy maps a config value to a policy. Empty means reject.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", DuplicateReject:
		return DuplicateReject, nil
	case DuplicateOverwrite:
		return DuplicateOverwrite, nil
	}
	return "", fmt.Errorf("unknown duplicate policy %q (want %q or %q)", s, DuplicateReject, DuplicateOverwrite)
}

// =============================================================================
// ACCOUNT LEDGER
// =============================================================================

type AccountLedger struct {
	balance      AccountBalance
	transactions map[TransactionID]Amount
	duplicates   DuplicatePolicy
}

func NewAccountLedger(client ClientID, duplicates DuplicatePolicy) *AccountLedger {
	if duplicates == "" {
		duplicates = DuplicateReject
	}
	return &AccountLedger{
		balance:      NewAccountBalance(client),
		transactions: make(map[TransactionID]Amount),
		duplicates:   duplicates,
	}
}

// Balance returns a copy of the current balance.
func (l *AccountLedger) Balance() AccountBalance {
	return l.balance
}

// Recorded returns the amount deposited or withdrawn under id.
func (l *AccountLedger) Recorded(id TransactionID) (Amount, bool) {
	amount, ok := l.transactions[id]
	return amount, ok
}

// Len is the number of recorded deposits and withdrawals.
func (l *AccountLedger) Len() int {
	return len(l.transactions)
}

// Record remembers the amount of a deposit or withdrawal. Other kinds are a no-op.
func (l *AccountLedger) Record(tx Transaction) {
	if tx.Kind.CarriesAmount() {
		l.transactions[tx.ID] = tx.Amount
	}
}

// Apply applies tx to the client's balance. Balance errors are returned
// unchanged. A dispute, resolve or chargeback referencing an unknown id is
// ignored and returns nil.
func (l *AccountLedger) Apply(tx Transaction) error {
	_, err := l.apply(tx)
	return err
}

// apply is Apply that also reports whether tx was ignored because it
// referenced an unknown transaction.
func (l *AccountLedger) apply(tx Transaction) (ignored bool, err error) {
	switch tx.Kind {
	case KindDeposit, KindWithdrawal:
		// A locked account reports AccountLocked even for a reused id.
		if err := l.balance.checkUnlocked(); err != nil {
			return false, err
		}
		if err := l.checkDuplicate(tx); err != nil {
			return false, err
		}
		if tx.Kind == KindDeposit {
			err = l.balance.Deposit(tx.Amount)
		} else {
			err = l.balance.Withdraw(tx.Amount)
		}
		if err != nil {
			return false, err
		}
		l.Record(tx)
		return false, nil

	case KindDispute, KindResolve, KindChargeback:
		amount, ok := l.transactions[tx.ID]
		if !ok {
			return true, nil
		}
		switch tx.Kind {
		case KindDispute:
			return false, l.balance.Dispute(amount)
		case KindResolve:
			return false, l.balance.Resolve(amount)
		default:
			return false, l.balance.Chargeback(amount)
		}
	}

	return false, &InvariantViolationError{Reason: fmt.Sprintf("unhandled transaction kind %s", tx.Kind)}
}

func (l *AccountLedger) checkDuplicate(tx Transaction) error {
	if l.duplicates == DuplicateOverwrite {
		return nil
	}
	if _, exists := l.transactions[tx.ID]; exists {
		return &DuplicateTransactionError{Client: l.balance.Client, ID: tx.ID}
	}
	return nil
}
