/*
processor.go - Feeding transaction streams into engines

PURPOSE:
  The engine applies one transaction at a time and knows nothing about
  where transactions come from. This package drives a Source through an
  engine, counts what happened, logs rejections and writes everything to
  an optional Journal.

ORDERING:
  Run applies transactions strictly in input order.

  RunSharded splits the stream by client id (client % shards) and gives
  each shard its own engine and goroutine. A client's transactions all
  land on the same shard, in input order, so the final balances are
  identical to a sequential Run. There is no ordering across clients,
  and none is needed: every transaction touches exactly one account.

ERRORS:
  Recoverable rejections are logged at warn, counted and journaled; the
  run continues. An invariant violation, a read error from the source, a
  journal write error or context cancellation stops the run and is
  returned together with the partial report.
*/
package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/warp/payments-engine/payment"
)

// =============================================================================
// SOURCE
// =============================================================================

// Source yields transactions until ok is false. csvio.Reader is a Source.
type Source interface {
	Next() (tx payment.Transaction, ok bool, err error)
}

// malformedCounter is implemented by sources that skip bad input rows.
type malformedCounter interface {
	Malformed() int
}

type sliceSource struct {
	txs []payment.Transaction
	pos int
}

// FromSlice returns a Source over txs.
func FromSlice(txs []payment.Transaction) Source {
	return &sliceSource{txs: txs}
}

func (s *sliceSource) Next() (payment.Transaction, bool, error) {
	if s.pos >= len(s.txs) {
		return payment.Transaction{}, false, nil
	}
	tx := s.txs[s.pos]
	s.pos++
	return tx, true, nil
}

// =============================================================================
// REPORT
// =============================================================================

type Report struct {
	RunID            string         `json:"run_id"`
	Processed        int            `json:"processed"`
	Applied          int            `json:"applied"`
	Ignored          int            `json:"ignored"`
	Rejected         int            `json:"rejected"`
	Malformed        int            `json:"malformed"`
	RejectedByReason map[string]int `json:"rejected_by_reason,omitempty"`
}

func (r *Report) record(result payment.Result, err error) {
	r.Processed++
	switch result {
	case payment.ResultApplied:
		r.Applied++
	case payment.ResultIgnored:
		r.Ignored++
	case payment.ResultRejected:
		r.Rejected++
		if r.RejectedByReason == nil {
			r.RejectedByReason = make(map[string]int)
		}
		r.RejectedByReason[payment.Reason(err)]++
	}
}

func (r *Report) merge(o Report) {
	r.Processed += o.Processed
	r.Applied += o.Applied
	r.Ignored += o.Ignored
	r.Rejected += o.Rejected
	r.Malformed += o.Malformed
	for reason, n := range o.RejectedByReason {
		if r.RejectedByReason == nil {
			r.RejectedByReason = make(map[string]int)
		}
		r.RejectedByReason[reason] += n
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

type Options struct {
	Logger  *zap.Logger
	Journal payment.Journal // optional

	// RunID defaults to a fresh ULID.
	RunID string

	// SourceName is stored with the run in the journal (a file path, "http", ...).
	SourceName string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RunID == "" {
		o.RunID = NewRunID()
	}
	return o
}

// =============================================================================
// SEQUENTIAL RUN
// =============================================================================

// Run applies every transaction from src to eng in order.
func Run(ctx context.Context, src Source, eng *payment.Engine, opts Options) (Report, error) {
	opts = opts.withDefaults()
	report := Report{RunID: opts.RunID}

	if err := begin(ctx, opts); err != nil {
		return report, err
	}

	seq := 0
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		tx, ok, err := src.Next()
		if err != nil {
			return report, fmt.Errorf("read transactions: %w", err)
		}
		if !ok {
			break
		}
		seq++
		if err := apply(ctx, eng, seq, tx, &report, opts); err != nil {
			return report, err
		}
	}

	report.Malformed = malformed(src)
	return report, finish(ctx, opts, report, eng.Results())
}

// apply processes one transaction and records its outcome. It returns an
// error only when the run must stop.
func apply(ctx context.Context, eng *payment.Engine, seq int, tx payment.Transaction, report *Report, opts Options) error {
	result, err := eng.Process(tx)
	report.record(result, err)

	if payment.IsFatal(err) {
		opts.Logger.Error("engine invariant violated",
			zap.String("run_id", opts.RunID),
			zap.Int("seq", seq),
			zap.Stringer("transaction", tx),
			zap.Error(err))
		return err
	}
	if err != nil {
		opts.Logger.Warn("transaction rejected",
			zap.String("run_id", opts.RunID),
			zap.Int("seq", seq),
			zap.Stringer("transaction", tx),
			zap.String("reason", payment.Reason(err)),
			zap.Error(err))
	}

	if opts.Journal != nil {
		if jerr := opts.Journal.RecordOutcome(ctx, opts.RunID, payment.NewOutcome(seq, tx, result, err)); jerr != nil {
			return fmt.Errorf("journal outcome %d: %w", seq, jerr)
		}
	}
	return nil
}

func begin(ctx context.Context, opts Options) error {
	if opts.Journal == nil {
		return nil
	}
	info := payment.RunInfo{ID: opts.RunID, Source: opts.SourceName, StartedAt: time.Now().UTC()}
	if err := opts.Journal.BeginRun(ctx, info); err != nil {
		return fmt.Errorf("journal begin run %s: %w", opts.RunID, err)
	}
	return nil
}

func finish(ctx context.Context, opts Options, report Report, balances []payment.AccountBalance) error {
	if opts.Journal != nil {
		if err := opts.Journal.SaveBalances(ctx, opts.RunID, balances); err != nil {
			return fmt.Errorf("journal balances: %w", err)
		}
	}
	opts.Logger.Info("run complete",
		zap.String("run_id", report.RunID),
		zap.Int("processed", report.Processed),
		zap.Int("applied", report.Applied),
		zap.Int("ignored", report.Ignored),
		zap.Int("rejected", report.Rejected),
		zap.Int("malformed", report.Malformed),
		zap.Int("clients", len(balances)))
	return nil
}

func malformed(src Source) int {
	if m, ok := src.(malformedCounter); ok {
		return m.Malformed()
	}
	return 0
}

// =============================================================================
// SHARDED RUN
// =============================================================================

type item struct {
	seq int
	tx  payment.Transaction
}

// RunSharded applies src across shards engines in parallel and returns the
// merged balances sorted by client id. With shards <= 1 it is Run on a
// single engine.
func RunSharded(ctx context.Context, src Source, shards int, opts Options, engineOpts ...payment.Option) (Report, []payment.AccountBalance, error) {
	if shards <= 1 {
		eng := payment.NewEngine(engineOpts...)
		report, err := Run(ctx, src, eng, opts)
		return report, eng.Results(), err
	}

	opts = opts.withDefaults()
	report := Report{RunID: opts.RunID}
	if err := begin(ctx, opts); err != nil {
		return report, nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	queues := make([]chan item, shards)
	engines := make([]*payment.Engine, shards)
	reports := make([]Report, shards)

	for i := range queues {
		queues[i] = make(chan item, 64)
		engines[i] = payment.NewEngine(engineOpts...)

		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case it, ok := <-queues[i]:
					if !ok {
						return nil
					}
					if err := apply(gctx, engines[i], it.seq, it.tx, &reports[i], opts); err != nil {
						return err
					}
				}
			}
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()

		seq := 0
		for {
			if err := gctx.Err(); err != nil {
				return err
			}
			tx, ok, err := src.Next()
			if err != nil {
				return fmt.Errorf("read transactions: %w", err)
			}
			if !ok {
				return nil
			}
			seq++
			select {
			case queues[int(tx.Client)%shards] <- item{seq: seq, tx: tx}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	err := g.Wait()

	var balances []payment.AccountBalance
	for i := range engines {
		report.merge(reports[i])
		balances = append(balances, engines[i].Results()...)
	}
	payment.SortBalances(balances)
	report.Malformed = malformed(src)

	if err != nil {
		return report, balances, err
	}
	return report, balances, finish(ctx, opts, report, balances)
}
