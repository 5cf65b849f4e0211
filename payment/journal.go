/*
journal.go - Audit sink for processing runs

PURPOSE:
  A Journal records what happened during one processing run: every
  transaction with its outcome, and the final balances. It is an audit
  trail, not a persistence layer. Nothing in a journal is ever loaded
  back into an Engine; each run starts from empty ledgers.

APPEND-ONLY CONTRACT:
  - BeginRun():       registers a run id, once
  - RecordOutcome():  appends one outcome to a run
  - SaveBalances():   writes the final balances of a run atomically, once
  - NO Update() or Delete() methods exist

IMPLEMENTATIONS:
  - payment/store/memory.go: In-memory, for tests and the dev server
  - store/sqlite/sqlite.go:  SQLite file or ":memory:"

All implementations must be safe for concurrent use; sharded runs record
outcomes from several goroutines.
*/
package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRunNotFound is returned when writing to or reading from an unknown run.
	ErrRunNotFound = errors.New("run not found")

	// ErrDuplicateRun is returned when BeginRun reuses a run id.
	ErrDuplicateRun = errors.New("run already exists")

	// ErrBalancesSaved is returned when SaveBalances is called twice for a run.
	ErrBalancesSaved = errors.New("balances already saved for run")
)

// RunInfo identifies one processing run.
type RunInfo struct {
	ID        string
	Source    string
	StartedAt time.Time
}

// Outcome is the journal entry for one input transaction.
type Outcome struct {
	Seq         int
	Transaction Transaction
	Result      Result
	Reason      string // Reason(err) for rejected transactions
	Detail      string // err.Error() for rejected transactions
}

// NewOutcome builds the journal entry for tx given the engine's answer.
func NewOutcome(seq int, tx Transaction, result Result, err error) Outcome {
	o := Outcome{Seq: seq, Transaction: tx, Result: result}
	if err != nil {
		o.Reason = Reason(err)
		o.Detail = err.Error()
	}
	return o
}

type Journal interface {
	BeginRun(ctx context.Context, run RunInfo) error
	RecordOutcome(ctx context.Context, runID string, o Outcome) error
	SaveBalances(ctx context.Context, runID string, balances []AccountBalance) error

	Runs(ctx context.Context) ([]RunInfo, error)
	Outcomes(ctx context.Context, runID string) ([]Outcome, error)
	Balances(ctx context.Context, runID string) ([]AccountBalance, error)
}
