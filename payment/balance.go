/*
balance.go - Per-client available/held/locked state

PURPOSE:
  AccountBalance is the only place amounts are mutated. Every operation
  checks all of its preconditions before touching any field, so a failed
  operation leaves the balance exactly as it was.

BALANCE COMPONENTS:
  Available: funds the client can withdraw or have disputed
  Held:      funds frozen pending dispute resolution
  Locked:    set by a chargeback, never cleared
  Total():   Available + Held (derived, never stored)

OPERATIONS:
  Deposit(a):    available += a
  Withdraw(a):   available -= a            (requires available >= a)
  Dispute(a):    available -= a, held += a
  Resolve(a):    held -= a, available += a (requires held >= a)
  Chargeback(a): held -= a, locked = true  (requires held >= a)

  Every operation fails with AccountLockedError once the account is locked.
  There is no unlock.

DISPUTES MAY OVERDRAW:
  Dispute does not require available >= a. A dispute is an unconditional
  hold against a transaction that already completed; if the client has
  since withdrawn part of the funds, available goes negative. This is the
  only way available can become negative.

SEE ALSO:
  - ledger.go: Resolves dispute references before calling these operations
*/
package payment

import "fmt"

// =============================================================================
// ACCOUNT BALANCE
// =============================================================================

type AccountBalance struct {
	Client    ClientID
	Available Amount
	Held      Amount
	Locked    bool
}

// NewAccountBalance returns an unlocked balance with nothing available or held.
func NewAccountBalance(client ClientID) AccountBalance {
	return AccountBalance{Client: client}
}

// Total is available plus held funds.
func (b AccountBalance) Total() Amount {
	return b.Available.Add(b.Held)
}

func (b AccountBalance) String() string {
	return fmt.Sprintf("client=%d available=%s held=%s total=%s locked=%t",
		b.Client, b.Available, b.Held, b.Total(), b.Locked)
}

func (b *AccountBalance) Deposit(amount Amount) error {
	if err := b.checkUnlocked(); err != nil {
		return err
	}
	b.Available = b.Available.Add(amount)
	return nil
}

func (b *AccountBalance) Withdraw(amount Amount) error {
	if err := b.checkUnlocked(); err != nil {
		return err
	}
	if b.Available.LessThan(amount) {
		return &InsufficientFundsError{Client: b.Client, Available: b.Available, Requested: amount}
	}
	b.Available = b.Available.Sub(amount)
	return nil
}

// Dispute moves amount from available to held. It may leave available negative.
func (b *AccountBalance) Dispute(amount Amount) error {
	if err := b.checkUnlocked(); err != nil {
		return err
	}
	b.Available = b.Available.Sub(amount)
	b.Held = b.Held.Add(amount)
	return nil
}

// Resolve releases a previously disputed amount back to available.
func (b *AccountBalance) Resolve(amount Amount) error {
	if err := b.checkUnlocked(); err != nil {
		return err
	}
	if b.Held.LessThan(amount) {
		return &InsufficientHeldError{Client: b.Client, Held: b.Held, Requested: amount}
	}
	b.Held = b.Held.Sub(amount)
	b.Available = b.Available.Add(amount)
	return nil
}

// Chargeback removes a disputed amount for good and locks the account.
func (b *AccountBalance) Chargeback(amount Amount) error {
	if err := b.checkUnlocked(); err != nil {
		return err
	}
	if b.Held.LessThan(amount) {
		return &InsufficientHeldError{Client: b.Client, Held: b.Held, Requested: amount}
	}
	b.Held = b.Held.Sub(amount)
	b.Locked = true
	return nil
}

func (b *AccountBalance) checkUnlocked() error {
	if b.Locked {
		return &AccountLockedError{Client: b.Client}
	}
	return nil
}
