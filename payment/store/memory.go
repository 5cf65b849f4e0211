// Package store provides in-process payment.Journal implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/payments-engine/payment"
)

// =============================================================================
// MEMORY JOURNAL - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu   sync.RWMutex
	runs map[string]*run
}

type run struct {
	info     payment.RunInfo
	outcomes []payment.Outcome
	balances []payment.AccountBalance
	saved    bool
}

func NewMemory() *Memory {
	return &Memory{runs: make(map[string]*run)}
}

var _ payment.Journal = (*Memory)(nil)

func (m *Memory) BeginRun(_ context.Context, info payment.RunInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.runs[info.ID]; exists {
		return payment.ErrDuplicateRun
	}
	m.runs[info.ID] = &run{info: info}
	return nil
}

// RecordOutcome appends an outcome. Outcomes are kept ordered by Seq so
// that sharded runs read back in input order.
func (m *Memory) RecordOutcome(_ context.Context, runID string, o payment.Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return payment.ErrRunNotFound
	}

	// Binary search for insertion point; sequential runs always append.
	i := sort.Search(len(r.outcomes), func(i int) bool {
		return r.outcomes[i].Seq > o.Seq
	})
	r.outcomes = append(r.outcomes, payment.Outcome{})
	copy(r.outcomes[i+1:], r.outcomes[i:])
	r.outcomes[i] = o
	return nil
}

// SaveBalances stores the final balances of a run. Append-only: a second
// call for the same run fails.
func (m *Memory) SaveBalances(_ context.Context, runID string, balances []payment.AccountBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID]
	if !ok {
		return payment.ErrRunNotFound
	}
	if r.saved {
		return payment.ErrBalancesSaved
	}
	r.balances = append([]payment.AccountBalance(nil), balances...)
	payment.SortBalances(r.balances)
	r.saved = true
	return nil
}

// Runs returns all runs ordered by start time.
func (m *Memory) Runs(_ context.Context) ([]payment.RunInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]payment.RunInfo, 0, len(m.runs))
	for _, r := range m.runs {
		result = append(result, r.info)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartedAt.Equal(result[j].StartedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

func (m *Memory) Outcomes(_ context.Context, runID string) ([]payment.Outcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID]
	if !ok {
		return nil, payment.ErrRunNotFound
	}
	result := make([]payment.Outcome, len(r.outcomes))
	copy(result, r.outcomes)
	return result, nil
}

func (m *Memory) Balances(_ context.Context, runID string) ([]payment.AccountBalance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID]
	if !ok {
		return nil, payment.ErrRunNotFound
	}
	result := make([]payment.AccountBalance, len(r.balances))
	copy(result, r.balances)
	return result, nil
}
