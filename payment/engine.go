/*
engine.go - Client routing and final balances

PURPOSE:
  The Engine maps client ids to ledgers. It looks up (or lazily creates)
  the ledger for each incoming transaction, delegates to it and returns
  the ledger's result verbatim. It keeps no cross-client state: every
  transaction touches exactly one account.

LIFECYCLE:
  One Engine per processing run. It is an explicit value passed to
  whoever applies transactions, never a process-wide singleton. Ledgers
  are created on a client's first transaction and never removed.

CONCURRENCY:
  An Engine is single-threaded and NOT safe for concurrent use. Callers
  that share one (the HTTP API) serialize access themselves. To process
  in parallel, shard by client id and give each shard its own Engine;
  see processor.RunSharded.

RESULTS ORDER:
  Results() returns balances sorted by ascending client id.
*/
package payment

import (
	"sort"

	"go.uber.org/zap"
)

// =============================================================================
// RESULT - What happened to one transaction
// =============================================================================

type Result uint8

const (
	ResultApplied Result = iota
	ResultIgnored
	ResultRejected
)

func (r Result) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultIgnored:
		return "ignored"
	case ResultRejected:
		return "rejected"
	}
	return "unknown"
}

// ParseResult is the inverse of Result.String.
func ParseResult(s string) (Result, bool) {
	for _, r := range []Result{ResultApplied, ResultIgnored, ResultRejected} {
		if r.String() == s {
			return r, true
		}
	}
	return 0, false
}

// Stats counts transactions by result since the engine was created.
type Stats struct {
	Clients  int `json:"clients"`
	Applied  int `json:"applied"`
	Ignored  int `json:"ignored"`
	Rejected int `json:"rejected"`
}

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	ledgers    map[ClientID]*AccountLedger
	duplicates DuplicatePolicy
	logger     *zap.Logger
	stats      Stats
}

type Option func(*Engine)

// WithDuplicatePolicy sets how deposits and withdrawals reusing a recorded
// transaction id are handled. The default is DuplicateReject.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(e *Engine) { e.duplicates = p }
}

// WithLogger sets the logger used for ignored references and account locks.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		ledgers:    make(map[ClientID]*AccountLedger),
		duplicates: DuplicateReject,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply applies tx to its client's ledger, creating the ledger on first use.
// Errors from the ledger are returned unchanged.
func (e *Engine) Apply(tx Transaction) error {
	_, err := e.Process(tx)
	return err
}

// Process is Apply that also reports whether the transaction was applied,
// ignored (unknown dispute reference) or rejected.
func (e *Engine) Process(tx Transaction) (Result, error) {
	if err := tx.Validate(); err != nil {
		e.stats.Rejected++
		return ResultRejected, err
	}

	ledger, err := e.ledgerFor(tx.Client)
	if err != nil {
		return ResultRejected, err
	}

	wasLocked := ledger.balance.Locked
	ignored, err := ledger.apply(tx)
	switch {
	case err != nil:
		e.stats.Rejected++
		return ResultRejected, err
	case ignored:
		e.stats.Ignored++
		e.logger.Debug("unknown transaction reference ignored",
			zap.Uint16("client", uint16(tx.Client)),
			zap.Uint32("tx", uint32(tx.ID)),
			zap.Stringer("type", tx.Kind))
		return ResultIgnored, nil
	}

	e.stats.Applied++
	if !wasLocked && ledger.balance.Locked {
		e.logger.Info("account locked after chargeback",
			zap.Uint16("client", uint16(tx.Client)),
			zap.Uint32("tx", uint32(tx.ID)))
	}
	return ResultApplied, nil
}

func (e *Engine) ledgerFor(client ClientID) (*AccountLedger, error) {
	ledger, ok := e.ledgers[client]
	if !ok {
		e.ledgers[client] = NewAccountLedger(client, e.duplicates)
		ledger, ok = e.ledgers[client]
	}
	if !ok || ledger == nil {
		return nil, &InvariantViolationError{Reason: "client ledger lookup", Err: ErrLedgerMissing}
	}
	return ledger, nil
}

// Ledger returns the ledger for client, if the client has been seen.
func (e *Engine) Ledger(client ClientID) (*AccountLedger, bool) {
	l, ok := e.ledgers[client]
	return l, ok
}

// Balance returns the balance for client, if the client has been seen.
func (e *Engine) Balance(client ClientID) (AccountBalance, bool) {
	l, ok := e.ledgers[client]
	if !ok {
		return AccountBalance{}, false
	}
	return l.Balance(), true
}

// Results returns one balance per client ever seen, sorted by client id.
// It does not modify the engine; calling it twice without an intervening
// Apply yields identical results.
func (e *Engine) Results() []AccountBalance {
	out := make([]AccountBalance, 0, len(e.ledgers))
	for _, l := range e.ledgers {
		out = append(out, l.Balance())
	}
	SortBalances(out)
	return out
}

// Stats returns the transaction counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Clients = len(e.ledgers)
	return s
}

// SortBalances orders balances by ascending client id.
func SortBalances(balances []AccountBalance) {
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].Client < balances[j].Client
	})
}
