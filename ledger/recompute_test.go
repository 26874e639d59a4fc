package ledger_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/ledger/store"
)

// =============================================================================
// FOLD EQUIVALENCE
// =============================================================================

// randomDraft returns a valid draft with a two-decimal amount.
func randomDraft(rng *rand.Rand) ledger.Draft {
	draft := ledger.Draft{
		Amount:      decimal.New(int64(rng.Intn(100000)+1), -2),
		Description: "random",
	}
	switch rng.Intn(3) {
	case 0:
		draft.Type = ledger.Sale
	case 1:
		draft.Type = ledger.Purchase
	default:
		draft.Type = ledger.Expense
	}

	switch {
	case draft.Type != ledger.Expense && rng.Intn(3) == 0:
		draft.IsCredit = true
		draft.ClientName = "client"
	case draft.Type == ledger.Sale && rng.Intn(4) == 0:
		draft.IsExtraIncome = true
		draft.ExtraIncomeType = ledger.ExtraIncomeCapital
		if rng.Intn(2) == 0 {
			draft.ExtraIncomeType = ledger.ExtraIncomeProfit
		}
	}
	return draft
}

func TestFoldEquivalence_RandomSequences(t *testing.T) {
	// GIVEN: Random Create/Edit/Delete/AddPayment sequences without failures
	// WHEN: Comparing the incrementally maintained summary to a full fold
	// THEN: They are equal after every sequence

	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()

			for seed := int64(1); seed <= 5; seed++ {
				rng := rand.New(rand.NewSource(seed))
				e := newEngine(b.new(t))
				o := ledger.OwnerID(fmt.Sprintf("owner-%d", seed))

				var live []ledger.Transaction
				for step := 0; step < 60; step++ {
					op := rng.Intn(4)
					if len(live) == 0 {
						op = 0
					}

					switch op {
					case 0:
						tx, err := e.CreateTransaction(ctx, o, randomDraft(rng), pct20)
						require.NoError(t, err)
						live = append(live, tx)

					case 1:
						i := rng.Intn(len(live))
						tx, err := e.EditTransaction(ctx, o, live[i], randomDraft(rng), pct20)
						require.NoError(t, err)
						live[i] = tx

					case 2:
						i := rng.Intn(len(live))
						require.NoError(t, e.DeleteTransaction(ctx, o, live[i], pct20))
						live = append(live[:i], live[i+1:]...)

					case 3:
						i := rng.Intn(len(live))
						tx := live[i]
						remaining := tx.Remaining()
						if !tx.IsCredit || !remaining.IsPositive() {
							continue
						}
						cents := remaining.Shift(2).IntPart()
						amount := decimal.New(rng.Int63n(cents)+1, -2)
						tx, err := e.AddPayment(ctx, o, tx.ID, amount, "", pct20)
						require.NoError(t, err)
						live[i] = tx
					}
				}

				stored, err := e.GetSummary(ctx, o)
				require.NoError(t, err)
				recomputed, err := e.RecomputeSummary(ctx, o)
				require.NoError(t, err)
				assert.True(t, stored.Equal(recomputed), "seed %d: stored %+v, recomputed %+v", seed, stored, recomputed)
			}
		})
	}
}

func TestFold_MatchesHandComputation(t *testing.T) {
	txs := []ledger.Transaction{
		{Type: ledger.Sale, Amount: d("100")},
		{Type: ledger.Purchase, Amount: d("30")},
		{Type: ledger.Expense, Amount: d("10")},
		{
			Type: ledger.Sale, Amount: d("200"), IsCredit: true, AmountPaid: d("150"),
			Payments: []ledger.PaymentRecord{{Amount: d("100")}, {Amount: d("50")}},
		},
		{
			Type: ledger.Purchase, Amount: d("80"), IsCredit: true, AmountPaid: d("20"),
			Payments: []ledger.PaymentRecord{{Amount: d("20")}},
		},
		{Type: ledger.Sale, Amount: d("5"), IsExtraIncome: true, ExtraIncomeType: ledger.ExtraIncomeProfit},
	}

	sum := ledger.Fold(txs, pct20)

	// capital: 80 - 30 + 120 - 20 = 150; profit: 20 - 10 + 30 + 5 = 45
	assert.True(t, sum.AvailableCapital.Equal(d("150")), sum.AvailableCapital.String())
	assert.True(t, sum.AccumulatedProfits.Equal(d("45")), sum.AccumulatedProfits.String())
}

func TestRecompute_UsesCurrentPercentage(t *testing.T) {
	ctx := context.Background()
	e := newMemoryEngine()

	_, err := e.CreateTransaction(ctx, owner, sale("100"), pct20)
	require.NoError(t, err)
	require.NoError(t, e.UpdateSettings(ctx, owner, ledger.Settings{ProfitPercentage: d("50")}))

	report, err := e.CheckDrift(ctx, owner)
	require.NoError(t, err)
	assert.True(t, report.Drifted)

	sum, err := e.RecomputeSummary(ctx, owner)
	require.NoError(t, err)
	assert.True(t, sum.AvailableCapital.Equal(d("50")))
	assert.True(t, sum.AccumulatedProfits.Equal(d("50")))
}

// =============================================================================
// PARTIAL FAILURE & DRIFT
// =============================================================================

func TestTwoStep_SummaryFailureLeavesDriftRecomputeRepairs(t *testing.T) {
	// GIVEN: A non-transactional store whose summary update fails
	// WHEN: Creating a sale
	// THEN: StoreError propagates, the record is orphaned (drift), and
	//       recompute restores fold equivalence

	ctx := context.Background()
	fs := &faultyStore{Store: store.NewMemory()}
	e := newEngine(fs)
	require.False(t, e.Transactional())

	fs.failSummary = true
	_, err := e.CreateTransaction(ctx, owner, sale("100"), pct20)

	var serr *ledger.StoreError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "update summary", serr.Op)
	assert.ErrorIs(t, err, ledger.ErrStore)
	assert.ErrorIs(t, err, errInjected)

	txs, err := e.ListTransactions(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, txs, 1, "record written before the failure stays")

	fs.failSummary = false
	report, err := e.CheckDrift(ctx, owner)
	require.NoError(t, err)
	assert.True(t, report.Drifted)
	assert.True(t, report.Difference.Capital.Equal(d("-80")))

	// The engine keeps working after a failure
	_, err = e.CreateTransaction(ctx, owner, expense("5"), pct20)
	require.NoError(t, err)

	_, err = e.RecomputeSummary(ctx, owner)
	require.NoError(t, err)
	requireNoDrift(t, e)
	requireSummary(t, e, "80", "15")
}

func TestTransactional_SummaryFailureRollsBackRecord(t *testing.T) {
	// GIVEN: A transactional store whose summary update fails
	// WHEN: Creating, editing, paying and deleting
	// THEN: Each failed operation leaves no trace and no drift

	ctx := context.Background()
	fs := &faultyTxStore{TxMemory: store.NewTxMemory()}
	e := newEngine(fs)
	require.True(t, e.Transactional())

	tx, err := e.CreateTransaction(ctx, owner, credit(sale("100"), "Ana"), pct20)
	require.NoError(t, err)

	fs.failSummary = true

	_, err = e.CreateTransaction(ctx, owner, sale("100"), pct20)
	assert.ErrorIs(t, err, errInjected)

	_, err = e.AddPayment(ctx, owner, tx.ID, d("10"), "", pct20)
	assert.ErrorIs(t, err, errInjected)

	edit := tx.Draft()
	edit.Amount = d("300")
	_, err = e.EditTransaction(ctx, owner, tx, edit, pct20)
	assert.ErrorIs(t, err, errInjected)

	err = e.DeleteTransaction(ctx, owner, tx, pct20)
	assert.ErrorIs(t, err, errInjected)

	fs.failSummary = false

	txs, err := e.ListTransactions(ctx, owner)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.True(t, txs[0].Amount.Equal(d("100")))
	assert.Empty(t, txs[0].Payments)
	requireNoDrift(t, e)
}
