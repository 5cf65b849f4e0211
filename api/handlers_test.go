/*
handlers_test.go - HTTP API tests

Tests for:
- Single transaction submission and status mapping
- CSV submission
- Account and stats reads
- Journal runs, checkpoints and reset
*/
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/payments-engine/api"
	"github.com/warp/payments-engine/payment"
	"github.com/warp/payments-engine/payment/store"
	"github.com/warp/payments-engine/processor"
	"github.com/warp/payments-engine/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

type testServer struct {
	t       *testing.T
	handler *api.Handler
	router  http.Handler
}

func newServer(t *testing.T, journal payment.Journal) *testServer {
	t.Helper()
	h := api.NewHandler(api.Options{Journal: journal})
	return &testServer{t: t, handler: h, router: api.NewRouter(h, api.RouterOptions{})}
}

func (s *testServer) do(method, path, contentType, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) submit(body string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/api/transactions", "application/json", body)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&v), rec.Body.String())
	return v
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestSubmitTransaction_Applied(t *testing.T) {
	s := newServer(t, nil)

	rec := s.submit(`{"type":"deposit","client":1,"tx":1,"amount":"1.5"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[api.ApplyResponse](t, rec)
	assert.Equal(t, "applied", resp.Result)
	assert.Equal(t, uint16(1), resp.Balance.Client)
	assert.Equal(t, "1.5000", resp.Balance.Available.String())
	assert.Equal(t, "1.5000", resp.Balance.Total.String())

	// Bare JSON numbers are accepted too.
	rec = s.submit(`{"type":"withdrawal","client":1,"tx":2,"amount":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "1.0000", decode[api.ApplyResponse](t, rec).Balance.Available.String())
}

func TestSubmitTransaction_UnknownReference_Ignored(t *testing.T) {
	s := newServer(t, nil)

	rec := s.submit(`{"type":"dispute","client":1,"tx":42}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode[api.ApplyResponse](t, rec).Result)
}

func TestSubmitTransaction_StatusMapping(t *testing.T) {
	// GIVEN: Client 1 with 10 deposited, client 2 locked by a chargeback
	// WHEN: Submitting transactions that the engine rejects
	// THEN: Each rejection maps to its status code and reason
	s := newServer(t, nil)
	for _, body := range []string{
		`{"type":"deposit","client":1,"tx":1,"amount":"10"}`,
		`{"type":"deposit","client":2,"tx":1,"amount":"5"}`,
		`{"type":"dispute","client":2,"tx":1}`,
		`{"type":"chargeback","client":2,"tx":1}`,
	} {
		require.Equal(t, http.StatusOK, s.submit(body).Code, body)
	}

	tests := []struct {
		name   string
		body   string
		status int
		reason string
	}{
		{"insufficient funds", `{"type":"withdrawal","client":1,"tx":2,"amount":"11"}`, http.StatusUnprocessableEntity, "insufficient_funds"},
		{"insufficient held", `{"type":"resolve","client":1,"tx":1}`, http.StatusUnprocessableEntity, "insufficient_held"},
		{"duplicate", `{"type":"deposit","client":1,"tx":1,"amount":"1"}`, http.StatusUnprocessableEntity, "duplicate_transaction"},
		{"locked", `{"type":"deposit","client":2,"tx":2,"amount":"1"}`, http.StatusConflict, "account_locked"},
		{"locked with reused id", `{"type":"deposit","client":2,"tx":1,"amount":"1"}`, http.StatusConflict, "account_locked"},
		{"negative amount", `{"type":"deposit","client":1,"tx":3,"amount":"-1"}`, http.StatusBadRequest, "invalid_transaction"},
		{"missing amount", `{"type":"deposit","client":1,"tx":3}`, http.StatusBadRequest, "invalid_transaction"},
		{"unknown type", `{"type":"refund","client":1,"tx":3,"amount":"1"}`, http.StatusBadRequest, "invalid_transaction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.submit(tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			resp := decode[api.ErrorResponse](t, rec)
			assert.Equal(t, tt.reason, resp.Reason)
			assert.NotEmpty(t, resp.Details)
		})
	}

	// None of the rejections changed client 1.
	rec := s.do(http.MethodGet, "/api/accounts/1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.0000", decode[api.BalanceDTO](t, rec).Available.String())
}

func TestSubmitTransaction_BadBody(t *testing.T) {
	s := newServer(t, nil)

	assert.Equal(t, http.StatusBadRequest, s.submit(`{not json`).Code)
	assert.Equal(t, http.StatusBadRequest, s.submit(`{"type":"deposit","client":70000,"tx":1,"amount":"1"}`).Code)
}

func TestSubmitCSV(t *testing.T) {
	s := newServer(t, nil)

	body := "type,client,tx,amount\ndeposit,1,1,1.0\ndeposit,2,2,2.0\nwithdrawal,2,3,5.0\nnonsense\n"
	rec := s.do(http.MethodPost, "/api/transactions/csv", "text/csv", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	report := decode[processor.Report](t, rec)
	assert.Equal(t, 3, report.Processed)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 1, report.Rejected)
	assert.Equal(t, 1, report.Malformed)
	assert.Equal(t, map[string]int{"insufficient_funds": 1}, report.RejectedByReason)
}

// =============================================================================
// ACCOUNTS AND STATS
// =============================================================================

func TestListAccounts_SortedByClient(t *testing.T) {
	s := newServer(t, nil)
	for _, body := range []string{
		`{"type":"deposit","client":3,"tx":1,"amount":"3"}`,
		`{"type":"deposit","client":1,"tx":1,"amount":"1"}`,
	} {
		require.Equal(t, http.StatusOK, s.submit(body).Code)
	}

	rec := s.do(http.MethodGet, "/api/accounts", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	accounts := decode[[]api.BalanceDTO](t, rec)
	require.Len(t, accounts, 2)
	assert.Equal(t, uint16(1), accounts[0].Client)
	assert.Equal(t, uint16(3), accounts[1].Client)
}

func TestGetAccount_Errors(t *testing.T) {
	s := newServer(t, nil)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/accounts/9", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/accounts/abc", "", "").Code)
}

func TestGetStats(t *testing.T) {
	s := newServer(t, nil)
	s.submit(`{"type":"deposit","client":1,"tx":1,"amount":"1"}`)
	s.submit(`{"type":"withdrawal","client":1,"tx":2,"amount":"5"}`)
	s.submit(`{"type":"dispute","client":1,"tx":9}`)

	rec := s.do(http.MethodGet, "/api/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[api.StatsResponse](t, rec)
	assert.Equal(t, payment.Stats{Clients: 1, Applied: 1, Ignored: 1, Rejected: 1}, stats.Stats)
}

// =============================================================================
// JOURNAL
// =============================================================================

func TestJournal_CheckpointAndRuns(t *testing.T) {
	// GIVEN: A server journaling to SQLite
	// WHEN: Submitting transactions, then checkpointing
	// THEN: The run holds every outcome and the balances at checkpoint time
	journal, err := sqlite.New(":memory:")
	require.NoError(t, err)
	defer journal.Close()
	s := newServer(t, journal)

	s.submit(`{"type":"deposit","client":1,"tx":1,"amount":"2"}`)
	s.submit(`{"type":"withdrawal","client":1,"tx":2,"amount":"3"}`)

	rec := s.do(http.MethodPost, "/api/checkpoint", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	checkpoint := decode[api.CheckpointResponse](t, rec)
	require.NotEmpty(t, checkpoint.RunID)
	assert.Equal(t, 1, checkpoint.Clients)

	rec = s.do(http.MethodGet, "/api/runs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]api.RunDTO](t, rec)
	require.Len(t, runs, 1)
	assert.Equal(t, "http", runs[0].Source)

	rec = s.do(http.MethodGet, "/api/runs/"+checkpoint.RunID+"/outcomes", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	outcomes := decode[[]api.OutcomeDTO](t, rec)
	require.Len(t, outcomes, 2)
	assert.Equal(t, "applied", outcomes[0].Result)
	assert.Equal(t, "rejected", outcomes[1].Result)
	assert.Equal(t, "insufficient_funds", outcomes[1].Reason)

	rec = s.do(http.MethodGet, "/api/runs/"+checkpoint.RunID+"/balances", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	balances := decode[[]api.BalanceDTO](t, rec)
	require.Len(t, balances, 1)
	assert.Equal(t, "2.0000", balances[0].Total.String())

	// The next submission opens a new run.
	rec = s.submit(`{"type":"deposit","client":1,"tx":3,"amount":"1"}`)
	assert.NotEqual(t, checkpoint.RunID, decode[api.ApplyResponse](t, rec).RunID)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/runs/nope/outcomes", "", "").Code)
}

func TestCheckpoint_WithoutJournal(t *testing.T) {
	s := newServer(t, nil)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/checkpoint", "", "").Code)

	rec := s.do(http.MethodGet, "/api/runs", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]api.RunDTO](t, rec))
}

func TestReset(t *testing.T) {
	journal := store.NewMemory()
	s := newServer(t, journal)
	s.submit(`{"type":"deposit","client":1,"tx":1,"amount":"2"}`)

	rec := s.do(http.MethodPost, "/api/reset", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/accounts/1", "", "").Code)

	// Reset checkpointed the run first.
	runs, err := journal.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	balances, err := journal.Balances(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Len(t, balances, 1)
}

func TestCheckpointScheduler_StopCheckpoints(t *testing.T) {
	journal := store.NewMemory()
	s := newServer(t, journal)
	rec := s.submit(`{"type":"deposit","client":1,"tx":1,"amount":"2"}`)
	runID := decode[api.ApplyResponse](t, rec).RunID

	scheduler := api.NewCheckpointScheduler(s.handler, nil)
	scheduler.Interval = time.Hour
	scheduler.Start()
	scheduler.Stop()

	balances, err := journal.Balances(context.Background(), runID)
	require.NoError(t, err)
	assert.Len(t, balances, 1)
}

func TestSubmitCSV_ClosesOpenRunFirst(t *testing.T) {
	// GIVEN: A JSON deposit for client 1 sitting in an open run
	// WHEN: A CSV with only client 2 is submitted
	// THEN: The JSON run is closed with client 1, the CSV run saves both clients
	journal := store.NewMemory()
	s := newServer(t, journal)
	jsonRun := decode[api.ApplyResponse](t, s.submit(`{"type":"deposit","client":1,"tx":1,"amount":"1"}`)).RunID

	rec := s.do(http.MethodPost, "/api/transactions/csv", "text/csv", "type,client,tx,amount\ndeposit,2,1,2.0\n")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	csvRun := decode[processor.Report](t, rec).RunID

	ctx := context.Background()
	balances, err := journal.Balances(ctx, jsonRun)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, payment.ClientID(1), balances[0].Client)

	outcomes, err := journal.Outcomes(ctx, csvRun)
	require.NoError(t, err)
	assert.Len(t, outcomes, 1)
	balances, err = journal.Balances(ctx, csvRun)
	require.NoError(t, err)
	assert.Len(t, balances, 2)

	// The next JSON submission opens a fresh run.
	next := decode[api.ApplyResponse](t, s.submit(`{"type":"deposit","client":1,"tx":2,"amount":"1"}`)).RunID
	assert.NotEqual(t, jsonRun, next)
}

func TestReset_ConcurrentSubmissions_RunsMatchTheirEngine(t *testing.T) {
	// GIVEN: Deposits of 1 for client 1 racing with resets
	// WHEN: Every run is finally checkpointed
	// THEN: Each run's saved total equals the deposits it journaled
	journal := store.NewMemory()
	s := newServer(t, journal)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				body := fmt.Sprintf(`{"type":"deposit","client":1,"tx":%d,"amount":"1"}`, g*1000+i)
				rec := httptest.NewRecorder()
				s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/transactions", strings.NewReader(body)))
			}
		}(g)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			rec := httptest.NewRecorder()
			s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
		}
	}()
	wg.Wait()

	_, err := s.handler.Checkpoint(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	runs, err := journal.Runs(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	for _, run := range runs {
		outcomes, err := journal.Outcomes(ctx, run.ID)
		require.NoError(t, err)
		balances, err := journal.Balances(ctx, run.ID)
		require.NoError(t, err)
		require.Len(t, balances, 1, run.ID)
		assert.Equal(t, fmt.Sprintf("%d.0000", len(outcomes)), balances[0].Total().String(), run.ID)
	}
}
