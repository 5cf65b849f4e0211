/*
Package payment replays financial events against per-client ledgers.

PURPOSE:
  This package is the ledger state machine. It owns the per-client balance
  model and the rules for applying deposits, withdrawals, disputes,
  resolves and chargebacks. It performs no I/O: readers, writers, journals
  and transports live in other packages and hand the engine one
  Transaction at a time.

KEY CONCEPTS IN THIS FILE (types.go):
  - ClientID / TransactionID: identifiers (transaction ids are scoped per client)
  - Kind: the closed set of transaction kinds
  - Transaction: one input event

COMPONENTS (leaf first):
  amount.go:  Amount, fixed 4-decimal monetary value
  balance.go: AccountBalance, available/held/locked with guarded mutations
  ledger.go:  AccountLedger, balance + history of amount-bearing transactions
  engine.go:  Engine, client -> ledger routing and results
  errors.go:  error taxonomy
  journal.go: audit sink interface implemented by store packages

USAGE:
  eng := payment.NewEngine()
  if err := eng.Apply(payment.Deposit(1, 1, payment.NewAmount(10))); err != nil {
      // recoverable rejections: log and continue
  }
  for _, b := range eng.Results() {
      fmt.Println(b.Client, b.Available, b.Held, b.Total(), b.Locked)
  }
*/
package payment

import (
	"fmt"
	"strings"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ClientID uint16

// TransactionID identifies a transaction within one client's ledger.
// The same id under two different clients refers to two different transactions.
type TransactionID uint32

// =============================================================================
// KIND - Closed set of transaction kinds
// =============================================================================

type Kind uint8

const (
	KindDeposit Kind = iota + 1
	KindWithdrawal
	KindDispute
	KindResolve
	KindChargeback
)

var kindNames = map[Kind]string{
	KindDeposit:    "deposit",
	KindWithdrawal: "withdrawal",
	KindDispute:    "dispute",
	KindResolve:    "resolve",
	KindChargeback: "chargeback",
}

// String returns the wire name of the kind ("deposit", "chargeback", ...).
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Valid reports whether k is one of the five known kinds.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// CarriesAmount reports whether transactions of this kind carry their own
// amount. Disputes, resolves and chargebacks resolve the amount from the
// referenced transaction instead.
func (k Kind) CarriesAmount() bool {
	return k == KindDeposit || k == KindWithdrawal
}

// ParseKind maps a wire name to a Kind. Matching ignores case and
// surrounding whitespace.
func ParseKind(s string) (Kind, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown transaction type %q", s)}
}

// =============================================================================
// TRANSACTION - One input event
// =============================================================================

// Transaction is one event applied to exactly one client's ledger.
//
// Amount is only meaningful for deposits and withdrawals. For the other
// kinds it must be zero; the amount is looked up from the referenced
// transaction (same ID, same client) when the event is applied.
type Transaction struct {
	Client ClientID
	ID     TransactionID
	Kind   Kind
	Amount Amount
}

func Deposit(client ClientID, id TransactionID, amount Amount) Transaction {
	return Transaction{Client: client, ID: id, Kind: KindDeposit, Amount: amount}
}

func Withdrawal(client ClientID, id TransactionID, amount Amount) Transaction {
	return Transaction{Client: client, ID: id, Kind: KindWithdrawal, Amount: amount}
}

func Dispute(client ClientID, id TransactionID) Transaction {
	return Transaction{Client: client, ID: id, Kind: KindDispute}
}

func Resolve(client ClientID, id TransactionID) Transaction {
	return Transaction{Client: client, ID: id, Kind: KindResolve}
}

func Chargeback(client ClientID, id TransactionID) Transaction {
	return Transaction{Client: client, ID: id, Kind: KindChargeback}
}

// Validate checks the construction rules: a known kind, a non-negative
// amount on deposits and withdrawals, and no amount on the other kinds.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown transaction kind %s", t.Kind)}
	}
	if t.Kind.CarriesAmount() {
		if t.Amount.IsNegative() {
			return &ValidationError{Field: "amount", Reason: fmt.Sprintf("%s amount must not be negative, got %s", t.Kind, t.Amount)}
		}
		return nil
	}
	if !t.Amount.IsZero() {
		return &ValidationError{Field: "amount", Reason: fmt.Sprintf("%s must not carry an amount", t.Kind)}
	}
	return nil
}

func (t Transaction) String() string {
	if t.Kind.CarriesAmount() {
		return fmt.Sprintf("%s client=%d tx=%d amount=%s", t.Kind, t.Client, t.ID, t.Amount)
	}
	return fmt.Sprintf("%s client=%d tx=%d", t.Kind, t.Client, t.ID)
}
