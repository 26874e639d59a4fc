package ledger

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/warp/capital-ledger/logging"
)

// =============================================================================
// FULL RECOMPUTE - Authoritative fold over the ledger
// =============================================================================

// Fold computes the Summary implied by txs: every transaction's impact plus,
// for credit transactions, every payment under the payment rule. All of it
// uses profitPercentage, whatever was in effect when each entry was made.
func Fold(txs []Transaction, profitPercentage decimal.Decimal) Summary {
	var total Impact
	for _, tx := range txs {
		total = total.Add(tx.TotalImpact(profitPercentage))
	}
	return Summary{
		AvailableCapital:   total.Capital,
		AccumulatedProfits: total.Profit,
	}
}

// RecomputeSummary rebuilds the owner's Summary from one consistent snapshot
// of transactions and settings and overwrites the stored record.
func (e *Engine) RecomputeSummary(ctx context.Context, owner OwnerID) (Summary, error) {
	if err := checkOwner(owner); err != nil {
		return Summary{}, err
	}

	var (
		before Summary
		sum    Summary
	)
	err := e.within(ctx, func(s Store) error {
		txs, settings, err := s.Snapshot(ctx, owner)
		if err != nil {
			return storeErr("snapshot", owner, err)
		}
		if before, err = s.GetSummary(ctx, owner); err != nil {
			return storeErr("get summary", owner, err)
		}
		sum = Fold(txs, settings.ProfitPercentage)
		return storeErr("put summary", owner, s.PutSummary(ctx, owner, sum))
	})
	if err != nil {
		e.log.Failed(ctx, "recompute failed", err, logging.FieldOwner, owner)
		return Summary{}, err
	}

	e.log.InfoContext(ctx, "summary recomputed",
		logging.FieldOwner, owner,
		"repaired", !before.Equal(sum),
		"available_capital", sum.AvailableCapital.String(),
		"accumulated_profits", sum.AccumulatedProfits.String(),
	)
	return sum, nil
}

// =============================================================================
// DRIFT CHECK
// =============================================================================

// DriftReport compares the stored Summary with the fold of the ledger.
type DriftReport struct {
	Owner    OwnerID `json:"owner"`
	Stored   Summary `json:"stored"`
	Expected Summary `json:"expected"`
	Drifted  bool    `json:"drifted"`

	// Difference is Stored - Expected.
	Difference Impact `json:"-"`
}

// CheckDrift reports whether the stored Summary differs from what
// RecomputeSummary would write. Nothing is modified.
func (e *Engine) CheckDrift(ctx context.Context, owner OwnerID) (DriftReport, error) {
	if err := checkOwner(owner); err != nil {
		return DriftReport{}, err
	}

	report := DriftReport{Owner: owner}
	err := e.within(ctx, func(s Store) error {
		txs, settings, err := s.Snapshot(ctx, owner)
		if err != nil {
			return storeErr("snapshot", owner, err)
		}
		if report.Stored, err = s.GetSummary(ctx, owner); err != nil {
			return storeErr("get summary", owner, err)
		}
		report.Expected = Fold(txs, settings.ProfitPercentage)
		return nil
	})
	if err != nil {
		return DriftReport{}, err
	}

	report.Difference = Impact{
		Capital: report.Stored.AvailableCapital.Sub(report.Expected.AvailableCapital),
		Profit:  report.Stored.AccumulatedProfits.Sub(report.Expected.AccumulatedProfits),
	}
	report.Drifted = !report.Difference.IsZero()
	return report, nil
}
