/*
Package sqlite provides a SQLite-backed payment.Journal.

PURPOSE:
  Keeps an audit trail of processing runs on disk: which transactions a
  run saw, what the engine did with each one and the balances it ended
  with. The trail is write-once; nothing is read back into an engine.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on outcomes or balances
  - No DELETE statements anywhere
  - runs.balances_saved flips 0 -> 1 exactly once, in the same database
    transaction that writes the balances

KEY TABLES:
  runs:     One row per run (ULID id, source, start time)
  outcomes: One row per input transaction, keyed by (run_id, seq)
  balances: Final balance per client, keyed by (run_id, client)

AMOUNTS:
  Stored as fixed 4-decimal TEXT ("1.5000"), never REAL, so values read
  back exactly.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single open connection, which
  also keeps ":memory:" databases shared across calls.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  journal, err := sqlite.New("./data/journal.db")
  if err != nil {
      return err
  }
  defer journal.Close()

  report, err := processor.Run(ctx, src, eng, processor.Options{Journal: journal})

SEE ALSO:
  - payment/journal.go: Interface definition
  - payment/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/payments-engine/payment"
)

// Store implements payment.Journal using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ payment.Journal = (*Store)(nil)

// New opens (or creates) the journal database at dbPath.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT,
		started_at TEXT NOT NULL,
		balances_saved INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at
		ON runs(started_at, id);

	CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL REFERENCES runs(id),
		seq INTEGER NOT NULL,
		client INTEGER NOT NULL,
		tx INTEGER NOT NULL,
		tx_type TEXT NOT NULL,
		amount TEXT,
		result TEXT NOT NULL,
		reason TEXT,
		detail TEXT,
		PRIMARY KEY (run_id, seq)
	);

	-- Rejections by reason across runs
	CREATE INDEX IF NOT EXISTS idx_outcomes_reason
		ON outcomes(reason) WHERE reason IS NOT NULL;

	CREATE TABLE IF NOT EXISTS balances (
		run_id TEXT NOT NULL REFERENCES runs(id),
		client INTEGER NOT NULL,
		available TEXT NOT NULL,
		held TEXT NOT NULL,
		total TEXT NOT NULL,
		locked INTEGER NOT NULL,
		PRIMARY KEY (run_id, client)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// WRITES
// =============================================================================

func (s *Store) BeginRun(ctx context.Context, run payment.RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, source, started_at) VALUES (?, ?, ?)",
		run.ID, nullString(run.Source), run.StartedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return payment.ErrDuplicateRun
		}
		return fmt.Errorf("failed to begin run: %w", err)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, runID string, o payment.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.balancesSaved(ctx, s.db, runID); err != nil {
		return err
	}

	amount := ""
	if o.Transaction.Kind.CarriesAmount() {
		amount = o.Transaction.Amount.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes
		(run_id, seq, client, tx, tx_type, amount, result, reason, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		runID,
		o.Seq,
		int64(o.Transaction.Client),
		int64(o.Transaction.ID),
		o.Transaction.Kind.String(),
		nullString(amount),
		o.Result.String(),
		nullString(o.Reason),
		nullString(o.Detail),
	)
	if err != nil {
		return fmt.Errorf("failed to record outcome %d: %w", o.Seq, err)
	}
	return nil
}

// SaveBalances writes all balances for a run atomically.
func (s *Store) SaveBalances(ctx context.Context, runID string, balances []payment.AccountBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		saved, err := s.balancesSaved(ctx, tx, runID)
		if err != nil {
			return err
		}
		if saved {
			return payment.ErrBalancesSaved
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO balances (run_id, client, available, held, total, locked)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare balance insert: %w", err)
		}
		defer stmt.Close()

		for _, b := range balances {
			_, err := stmt.ExecContext(ctx, runID, int64(b.Client),
				b.Available.String(), b.Held.String(), b.Total().String(), b.Locked)
			if err != nil {
				return fmt.Errorf("failed to save balance for client %d: %w", b.Client, err)
			}
		}

		_, err = tx.ExecContext(ctx, "UPDATE runs SET balances_saved = 1 WHERE id = ?", runID)
		return err
	})
}

// withTx executes fn within a database transaction. Callers hold s.mu.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) balancesSaved(ctx context.Context, q queryer, runID string) (bool, error) {
	var saved bool
	err := q.QueryRowContext(ctx, "SELECT balances_saved FROM runs WHERE id = ?", runID).Scan(&saved)
	if errors.Is(err, sql.ErrNoRows) {
		return false, payment.ErrRunNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up run %s: %w", runID, err)
	}
	return saved, nil
}

// =============================================================================
// READS
// =============================================================================

// Runs returns all runs ordered by start time.
func (s *Store) Runs(ctx context.Context) ([]payment.RunInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, source, started_at FROM runs ORDER BY started_at ASC, id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []payment.RunInfo
	for rows.Next() {
		var (
			run       payment.RunInfo
			source    sql.NullString
			startedAt string
		)
		if err := rows.Scan(&run.ID, &source, &startedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Source = source.String
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Outcomes returns a run's outcomes in input order.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]payment.Outcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.balancesSaved(ctx, s.db, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, client, tx, tx_type, amount, result, reason, detail
		FROM outcomes
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []payment.Outcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

func scanOutcome(rows *sql.Rows) (payment.Outcome, error) {
	var (
		o      payment.Outcome
		client int64
		id     int64
		txType string
		amount sql.NullString
		result string
		reason sql.NullString
		detail sql.NullString
	)

	if err := rows.Scan(&o.Seq, &client, &id, &txType, &amount, &result, &reason, &detail); err != nil {
		return o, fmt.Errorf("failed to scan outcome: %w", err)
	}

	kind, err := payment.ParseKind(txType)
	if err != nil {
		return o, fmt.Errorf("outcome %d: %w", o.Seq, err)
	}
	o.Transaction = payment.Transaction{
		Client: payment.ClientID(client),
		ID:     payment.TransactionID(id),
		Kind:   kind,
	}
	if amount.Valid {
		if o.Transaction.Amount, err = payment.ParseAmount(amount.String); err != nil {
			return o, fmt.Errorf("outcome %d: %w", o.Seq, err)
		}
	}

	var ok bool
	if o.Result, ok = payment.ParseResult(result); !ok {
		return o, fmt.Errorf("outcome %d: unknown result %q", o.Seq, result)
	}
	o.Reason = reason.String
	o.Detail = detail.String
	return o, nil
}

// Balances returns the saved balances of a run sorted by client id.
func (s *Store) Balances(ctx context.Context, runID string) ([]payment.AccountBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, err := s.balancesSaved(ctx, s.db, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT client, available, held, locked
		FROM balances
		WHERE run_id = ?
		ORDER BY client ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	var balances []payment.AccountBalance
	for rows.Next() {
		var (
			client          int64
			available, held string
			locked          bool
		)
		if err := rows.Scan(&client, &available, &held, &locked); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}

		b := payment.NewAccountBalance(payment.ClientID(client))
		if b.Available, err = payment.ParseAmount(available); err != nil {
			return nil, fmt.Errorf("client %d available: %w", client, err)
		}
		if b.Held, err = payment.ParseAmount(held); err != nil {
			return nil, fmt.Errorf("client %d held: %w", client, err)
		}
		b.Locked = locked
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
