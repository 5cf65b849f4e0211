/*
handlers.go - HTTP API handlers for the payments engine

PURPOSE:
  Exposes one live Engine over REST. Transactions can be submitted one at
  a time as JSON or in bulk as CSV; balances, counters and the journal
  are readable at any time.

ENDPOINTS:
  Transactions:
    POST   /api/transactions           Apply one JSON transaction
    POST   /api/transactions/csv       Apply a CSV body, returns a run report

  Accounts:
    GET    /api/accounts               All balances, ascending client id
    GET    /api/accounts/{client}      One balance

  Engine:
    GET    /api/stats                  Engine counters
    POST   /api/checkpoint             Save balances to the journal, start a new run
    POST   /api/reset                  Checkpoint, then start over with a fresh engine (dev)

  Journal:
    GET    /api/runs                   All runs
    GET    /api/runs/{id}/outcomes     Outcomes of one run
    GET    /api/runs/{id}/balances     Saved balances of one run

ARCHITECTURE:
  Handler owns the engine. The engine is single-writer, so every handler
  that touches it holds h.mu for the whole operation. Submitted
  transactions are journaled under the current run id, opened lazily on
  the first transaction after startup or a checkpoint.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input or invalid transaction
  - 404: Unknown client or run
  - 409: Account locked
  - 422: Insufficient funds, insufficient held funds, duplicate tx id
  - 500: Engine invariant violation, journal failure

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - scheduler.go: Periodic checkpoints
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/payments-engine/csvio"
	"github.com/warp/payments-engine/payment"
	"github.com/warp/payments-engine/processor"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	mu         sync.Mutex
	engine     *payment.Engine
	engineOpts []payment.Option
	journal    payment.Journal
	logger     *zap.Logger

	// Current journal run for single submissions.
	runID string
	seq   int
}

// Options configures a Handler. Journal and Logger may be nil.
type Options struct {
	EngineOptions []payment.Option
	Journal       payment.Journal
	Logger        *zap.Logger
}

// NewHandler creates a handler around a fresh engine.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:     payment.NewEngine(opts.EngineOptions...),
		engineOpts: opts.EngineOptions,
		journal:    opts.Journal,
		logger:     logger,
	}
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// SubmitTransaction applies one transaction.
func (h *Handler) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	tx, err := req.toTransaction()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.ensureRun(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to open journal run", err)
		return
	}

	result, err := h.engine.Process(tx)
	h.seq++
	if h.journal != nil {
		if jerr := h.journal.RecordOutcome(r.Context(), h.runID, payment.NewOutcome(h.seq, tx, result, err)); jerr != nil {
			h.logger.Error("journal write failed", zap.String("run_id", h.runID), zap.Int("seq", h.seq), zap.Error(jerr))
			writeError(w, http.StatusInternalServerError, "Failed to journal transaction", jerr)
			return
		}
	}

	if err != nil {
		h.logger.Warn("transaction rejected",
			zap.Stringer("transaction", tx),
			zap.String("reason", payment.Reason(err)),
			zap.Error(err))
		writeEngineError(w, err)
		return
	}

	balance, _ := h.engine.Balance(tx.Client)
	writeJSON(w, http.StatusOK, ApplyResponse{
		Result:  result.String(),
		RunID:   h.runID,
		Seq:     h.seq,
		Balance: toBalanceDTO(balance),
	})
}

// SubmitCSV applies a CSV body (type,client,tx,amount) as its own journal
// run. Any open run is checkpointed first. The balances saved with the CSV
// run are those of the whole engine, not only the clients in the upload.
func (h *Handler) SubmitCSV(w http.ResponseWriter, r *http.Request) {
	reader := csvio.NewReader(r.Body)
	reader.OnError = func(err *csvio.RowError) {
		h.logger.Warn("malformed row skipped", zap.Int("line", err.Line), zap.Error(err.Err))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if _, err := h.checkpointLocked(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Checkpoint before CSV run failed", err)
		return
	}

	report, err := processor.Run(r.Context(), reader, h.engine, processor.Options{
		Logger:     h.logger,
		Journal:    h.journal,
		SourceName: "http:csv",
	})
	if err != nil {
		if payment.IsFatal(err) {
			writeEngineError(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, "Failed to process CSV", err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns every balance sorted by client id.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	balances := h.engine.Results()
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, toBalanceDTOs(balances))
}

// GetAccount returns one client's balance.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	client, err := strconv.ParseUint(chi.URLParam(r, "client"), 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid client id", err)
		return
	}

	h.mu.Lock()
	balance, ok := h.engine.Balance(payment.ClientID(client))
	h.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "Client not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(balance))
}

// =============================================================================
// ENGINE HANDLERS
// =============================================================================

// GetStats returns the engine counters.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	resp := StatsResponse{Stats: h.engine.Stats(), RunID: h.runID}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

// PostCheckpoint saves the current balances under the open run.
func (h *Handler) PostCheckpoint(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusBadRequest, "No journal configured", nil)
		return
	}

	h.mu.Lock()
	clients := h.engine.Stats().Clients
	runID, err := h.checkpointLocked(r.Context())
	h.mu.Unlock()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Checkpoint failed", err)
		return
	}
	writeJSON(w, http.StatusOK, CheckpointResponse{RunID: runID, Clients: clients})
}

// Reset checkpoints the current run and replaces the engine with an empty
// one, both under h.mu.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if _, err := h.checkpointLocked(r.Context()); err != nil {
		h.mu.Unlock()
		writeError(w, http.StatusInternalServerError, "Checkpoint before reset failed", err)
		return
	}
	h.engine = payment.NewEngine(h.engineOpts...)
	h.mu.Unlock()

	h.logger.Info("engine reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// Checkpoint saves the engine's balances to the journal under the open
// run and closes it; the next submission opens a new run. It returns the
// closed run id, or "" when there was nothing to close.
func (h *Handler) Checkpoint(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.checkpointLocked(ctx)
}

// checkpointLocked is Checkpoint for callers already holding h.mu.
func (h *Handler) checkpointLocked(ctx context.Context) (string, error) {
	if h.journal == nil || h.runID == "" {
		return "", nil
	}

	runID := h.runID
	if err := h.journal.SaveBalances(ctx, runID, h.engine.Results()); err != nil {
		return "", fmt.Errorf("save balances for run %s: %w", runID, err)
	}
	h.runID = ""
	h.seq = 0

	h.logger.Info("checkpoint saved", zap.String("run_id", runID))
	return runID, nil
}

// ensureRun opens a journal run if none is open. Callers hold h.mu.
func (h *Handler) ensureRun(ctx context.Context) error {
	if h.journal == nil || h.runID != "" {
		return nil
	}
	runID := processor.NewRunID()
	info := payment.RunInfo{ID: runID, Source: "http", StartedAt: time.Now().UTC()}
	if err := h.journal.BeginRun(ctx, info); err != nil {
		return err
	}
	h.runID = runID
	h.seq = 0
	return nil
}

// =============================================================================
// JOURNAL HANDLERS
// =============================================================================

// ListRuns returns all journal runs.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeJSON(w, http.StatusOK, []RunDTO{})
		return
	}

	runs, err := h.journal.Runs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	dtos := make([]RunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = RunDTO{ID: run.ID, Source: run.Source, StartedAt: run.StartedAt}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRunOutcomes returns the outcomes of one run in input order.
func (h *Handler) GetRunOutcomes(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "Run not found", nil)
		return
	}

	outcomes, err := h.journal.Outcomes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJournalError(w, err)
		return
	}

	dtos := make([]OutcomeDTO, len(outcomes))
	for i, o := range outcomes {
		dtos[i] = toOutcomeDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRunBalances returns the balances saved for one run.
func (h *Handler) GetRunBalances(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "Run not found", nil)
		return
	}

	balances, err := h.journal.Balances(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJournalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTOs(balances))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine error to its status code and reason.
func writeEngineError(w http.ResponseWriter, err error) {
	status, message := engineErrorStatus(err)
	writeJSON(w, status, ErrorResponse{
		Error:   message,
		Reason:  payment.Reason(err),
		Details: err.Error(),
	})
}

func engineErrorStatus(err error) (int, string) {
	switch {
	case payment.IsFatal(err):
		return http.StatusInternalServerError, "Engine invariant violated"
	case errors.Is(err, payment.ErrAccountLocked):
		return http.StatusConflict, "Account locked"
	case errors.Is(err, payment.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "Insufficient funds"
	case errors.Is(err, payment.ErrInsufficientHeld):
		return http.StatusUnprocessableEntity, "Insufficient held funds"
	case errors.Is(err, payment.ErrDuplicateTransaction):
		return http.StatusUnprocessableEntity, "Duplicate transaction"
	case errors.Is(err, payment.ErrInvalidTransaction):
		return http.StatusBadRequest, "Invalid transaction"
	default:
		return http.StatusInternalServerError, "Transaction failed"
	}
}

func writeJournalError(w http.ResponseWriter, err error) {
	if errors.Is(err, payment.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "Run not found", err)
		return
	}
	writeError(w, http.StatusInternalServerError, "Failed to read journal", err)
}
