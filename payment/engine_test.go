package payment_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payments-engine/payment"
)

func mustBalance(t *testing.T, e *payment.Engine, client payment.ClientID) payment.AccountBalance {
	t.Helper()
	b, ok := e.Balance(client)
	require.True(t, ok, "client %d should exist", client)
	return b
}

// =============================================================================
// SCENARIOS
// =============================================================================

func TestEngine_DepositsAndWithdrawals(t *testing.T) {
	e := payment.NewEngine()

	require.NoError(t, e.Apply(payment.Deposit(1, 1, payment.NewAmount(10.0))))
	require.NoError(t, e.Apply(payment.Deposit(1, 2, payment.NewAmount(20.0))))
	assertBalance(t, mustBalance(t, e, 1), "30.0000", "0.0000", "30.0000", false)

	require.NoError(t, e.Apply(payment.Withdrawal(1, 3, payment.NewAmount(15.0))))
	assertBalance(t, mustBalance(t, e, 1), "15.0000", "0.0000", "15.0000", false)

	err := e.Apply(payment.Withdrawal(1, 4, payment.NewAmount(16.0)))
	require.Error(t, err)
	assert.ErrorIs(t, err, payment.ErrInsufficientFunds)
	assertBalance(t, mustBalance(t, e, 1), "15.0000", "0.0000", "15.0000", false)
}

func TestEngine_DisputeResolveChargeback(t *testing.T) {
	e := payment.NewEngine()

	require.NoError(t, e.Apply(payment.Deposit(1, 1, payment.NewAmount(10.0))))
	require.NoError(t, e.Apply(payment.Dispute(1, 1)))
	assertBalance(t, mustBalance(t, e, 1), "0.0000", "10.0000", "10.0000", false)

	require.NoError(t, e.Apply(payment.Resolve(1, 1)))
	assertBalance(t, mustBalance(t, e, 1), "10.0000", "0.0000", "10.0000", false)

	require.NoError(t, e.Apply(payment.Dispute(1, 1)))
	require.NoError(t, e.Apply(payment.Chargeback(1, 1)))
	assertBalance(t, mustBalance(t, e, 1), "0.0000", "0.0000", "0.0000", true)
}

func TestEngine_LockedAccount_RejectsEverything(t *testing.T) {
	// GIVEN: A client whose account was charged back
	// WHEN: Any further transaction arrives
	// THEN: AccountLocked, balance frozen, account stays locked
	e := payment.NewEngine()
	require.NoError(t, e.Apply(payment.Deposit(1, 1, amt("10"))))
	require.NoError(t, e.Apply(payment.Deposit(1, 2, amt("5"))))
	require.NoError(t, e.Apply(payment.Dispute(1, 1)))
	require.NoError(t, e.Apply(payment.Chargeback(1, 1)))
	frozen := mustBalance(t, e, 1)
	assertBalance(t, frozen, "5.0000", "0.0000", "5.0000", true)

	for _, tx := range []payment.Transaction{
		payment.Deposit(1, 3, amt("100")),
		payment.Withdrawal(1, 4, amt("1")),
		payment.Deposit(1, 1, amt("5")),
		payment.Withdrawal(1, 2, amt("1")),
		payment.Dispute(1, 2),
		payment.Resolve(1, 2),
		payment.Chargeback(1, 2),
	} {
		err := e.Apply(tx)
		assert.ErrorIs(t, err, payment.ErrAccountLocked, tx.String())
		assert.True(t, payment.IsRecoverable(err))
	}

	assert.Equal(t, frozen, mustBalance(t, e, 1))
}

func TestEngine_UnknownReference_NoErrorNoChange(t *testing.T) {
	e := payment.NewEngine()
	require.NoError(t, e.Apply(payment.Deposit(1, 1, amt("10"))))
	before := mustBalance(t, e, 1)

	result, err := e.Process(payment.Dispute(1, 2))
	require.NoError(t, err)
	assert.Equal(t, payment.ResultIgnored, result)
	assert.Equal(t, before, mustBalance(t, e, 1))

	// Transaction ids are scoped per client: client 2 cannot dispute client 1's tx 1.
	require.NoError(t, e.Apply(payment.Dispute(2, 1)))
	assertBalance(t, mustBalance(t, e, 2), "0.0000", "0.0000", "0.0000", false)
	assert.Equal(t, before, mustBalance(t, e, 1))
}

func TestEngine_CreatesClientsLazily(t *testing.T) {
	e := payment.NewEngine()
	_, ok := e.Ledger(9)
	assert.False(t, ok)

	// Even a rejected withdrawal creates the client.
	err := e.Apply(payment.Withdrawal(9, 1, amt("1")))
	require.ErrorIs(t, err, payment.ErrInsufficientFunds)

	l, ok := e.Ledger(9)
	require.True(t, ok)
	assertBalance(t, l.Balance(), "0.0000", "0.0000", "0.0000", false)
}

func TestEngine_InvalidTransaction_RejectedBeforeLedger(t *testing.T) {
	e := payment.NewEngine()

	err := e.Apply(payment.Deposit(1, 1, amt("-5")))
	require.ErrorIs(t, err, payment.ErrInvalidTransaction)
	assert.Equal(t, "invalid_transaction", payment.Reason(err))

	_, ok := e.Ledger(1)
	assert.False(t, ok)
}

func TestEngine_DuplicatePolicyOption(t *testing.T) {
	reject := payment.NewEngine()
	overwrite := payment.NewEngine(payment.WithDuplicatePolicy(payment.DuplicateOverwrite))

	for _, e := range []*payment.Engine{reject, overwrite} {
		require.NoError(t, e.Apply(payment.Deposit(1, 1, amt("10"))))
	}

	assert.ErrorIs(t, reject.Apply(payment.Deposit(1, 1, amt("5"))), payment.ErrDuplicateTransaction)
	assert.NoError(t, overwrite.Apply(payment.Deposit(1, 1, amt("5"))))

	assertBalance(t, mustBalance(t, reject, 1), "10.0000", "0.0000", "10.0000", false)
	assertBalance(t, mustBalance(t, overwrite, 1), "15.0000", "0.0000", "15.0000", false)
}

// =============================================================================
// RESULTS
// =============================================================================

func TestEngine_Results_SortedAndRepeatable(t *testing.T) {
	e := payment.NewEngine()
	for _, c := range []payment.ClientID{5, 1, 3} {
		require.NoError(t, e.Apply(payment.Deposit(c, 1, amt("1"))))
	}

	first := e.Results()
	second := e.Results()

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	assert.Equal(t, payment.ClientID(1), first[0].Client)
	assert.Equal(t, payment.ClientID(3), first[1].Client)
	assert.Equal(t, payment.ClientID(5), first[2].Client)

	// Mutating the returned slice must not reach the engine.
	first[0].Available = amt("999")
	assert.Equal(t, "1.0000", e.Results()[0].Available.String())
}

func TestEngine_Stats(t *testing.T) {
	e := payment.NewEngine()
	_ = e.Apply(payment.Deposit(1, 1, amt("10")))
	_ = e.Apply(payment.Withdrawal(1, 2, amt("20")))
	_ = e.Apply(payment.Dispute(1, 7))
	_ = e.Apply(payment.Deposit(2, 1, amt("1")))

	assert.Equal(t, payment.Stats{Clients: 2, Applied: 2, Ignored: 1, Rejected: 1}, e.Stats())
}

// =============================================================================
// PROPERTIES
// =============================================================================

func TestEngine_Property_NoDisputes_TotalIsDepositsMinusWithdrawals(t *testing.T) {
	// For random deposit/withdrawal sequences without disputes:
	// total == sum(deposits) - sum(successful withdrawals), held stays 0,
	// and available never goes negative.
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		e := payment.NewEngine()
		expected := payment.Zero

		for i := 1; i <= 200; i++ {
			value := payment.NewAmountFromDecimal(decimal.New(int64(rng.Intn(10000)), -2))

			var tx payment.Transaction
			if rng.Intn(2) == 0 {
				tx = payment.Deposit(1, payment.TransactionID(i), value)
			} else {
				tx = payment.Withdrawal(1, payment.TransactionID(i), value)
			}

			err := e.Apply(tx)
			switch {
			case err == nil && tx.Kind == payment.KindDeposit:
				expected = expected.Add(value)
			case err == nil:
				expected = expected.Sub(value)
			default:
				require.ErrorIs(t, err, payment.ErrInsufficientFunds)
			}

			b := mustBalance(t, e, 1)
			require.True(t, b.Held.IsZero())
			require.False(t, b.Available.IsNegative())
			require.True(t, b.Total().Equal(expected), "run %d step %d: total %s, expected %s", run, i, b.Total(), expected)
		}
	}
}

func TestEngine_Property_ClientsAreIndependent(t *testing.T) {
	// Interleaving two clients' streams must give the same balances as
	// running each stream alone.
	streamA := []payment.Transaction{
		payment.Deposit(1, 1, amt("10")),
		payment.Withdrawal(1, 2, amt("3")),
		payment.Dispute(1, 1),
		payment.Resolve(1, 1),
	}
	streamB := []payment.Transaction{
		payment.Deposit(2, 1, amt("7")),
		payment.Dispute(2, 1),
		payment.Chargeback(2, 1),
		payment.Deposit(2, 2, amt("1")),
	}

	interleaved := payment.NewEngine()
	for i := range streamA {
		_ = interleaved.Apply(streamA[i])
		_ = interleaved.Apply(streamB[i])
	}

	separate := payment.NewEngine()
	for _, tx := range append(append([]payment.Transaction{}, streamA...), streamB...) {
		_ = separate.Apply(tx)
	}

	assert.Equal(t, render(separate.Results()), render(interleaved.Results()))
}

func render(balances []payment.AccountBalance) []string {
	out := make([]string, len(balances))
	for i, b := range balances {
		out[i] = b.String()
	}
	return out
}
