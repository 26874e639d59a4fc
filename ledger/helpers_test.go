package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/ledger/store"
	"github.com/warp/capital-ledger/store/sqlite"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const owner ledger.OwnerID = "owner-1"

var pct20 = decimal.NewFromInt(20)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// backend builds a store for one test.
type backend struct {
	name string
	new  func(t *testing.T) ledger.Store
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) ledger.Store { return store.NewMemory() }},
		{"txmemory", func(t *testing.T) ledger.Store { return store.NewTxMemory() }},
		{"sqlite", func(t *testing.T) ledger.Store {
			s, err := sqlite.New(":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

// tickingClock returns a clock that advances one second per call so
// transaction order is deterministic.
func tickingClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newEngine(s ledger.Store, opts ...ledger.Option) *ledger.Engine {
	return ledger.NewEngine(s, append([]ledger.Option{ledger.WithClock(tickingClock())}, opts...)...)
}

func newMemoryEngine() *ledger.Engine {
	return newEngine(store.NewMemory())
}

func requireSummary(t *testing.T, e *ledger.Engine, capital, profit string) {
	t.Helper()
	sum, err := e.GetSummary(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, sum.AvailableCapital.Equal(d(capital)),
		"availableCapital: want %s, got %s", capital, sum.AvailableCapital)
	assert.True(t, sum.AccumulatedProfits.Equal(d(profit)),
		"accumulatedProfits: want %s, got %s", profit, sum.AccumulatedProfits)
}

// requireNoDrift asserts the stored summary equals the full fold.
func requireNoDrift(t *testing.T, e *ledger.Engine) {
	t.Helper()
	report, err := e.CheckDrift(context.Background(), owner)
	require.NoError(t, err)
	assert.False(t, report.Drifted, "stored %+v, expected %+v", report.Stored, report.Expected)
}

func sale(amount string) ledger.Draft {
	return ledger.Draft{Amount: d(amount), Description: "sale", Type: ledger.Sale}
}

func purchase(amount string) ledger.Draft {
	return ledger.Draft{Amount: d(amount), Description: "purchase", Type: ledger.Purchase}
}

func expense(amount string) ledger.Draft {
	return ledger.Draft{Amount: d(amount), Description: "expense", Type: ledger.Expense}
}

func credit(draft ledger.Draft, client string) ledger.Draft {
	draft.IsCredit = true
	draft.ClientName = client
	return draft
}

func extraIncome(amount string, target ledger.ExtraIncomeTarget) ledger.Draft {
	return ledger.Draft{
		Amount:          d(amount),
		Description:     "extra",
		Type:            ledger.Sale,
		IsExtraIncome:   true,
		ExtraIncomeType: target,
	}
}

// =============================================================================
// FAULTY STORES - simulate a failure between record write and summary update
// =============================================================================

var errInjected = errors.New("injected store failure")

// faultyStore fails UpdateSummary while failSummary is set. It only exposes
// ledger.Store, so the engine uses the two-step protocol.
type faultyStore struct {
	ledger.Store
	failSummary bool
}

func (f *faultyStore) UpdateSummary(ctx context.Context, o ledger.OwnerID, fn func(ledger.Summary) ledger.Summary) (ledger.Summary, error) {
	if f.failSummary {
		return ledger.Summary{}, errInjected
	}
	return f.Store.UpdateSummary(ctx, o, fn)
}

// faultyTxStore injects the same failure inside a transactional view.
type faultyTxStore struct {
	*store.TxMemory
	failSummary bool
}

func (f *faultyTxStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(s ledger.Store) error {
		return fn(&faultyStore{Store: s, failSummary: f.failSummary})
	})
}
