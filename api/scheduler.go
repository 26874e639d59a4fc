/*
scheduler.go - Automated drift detection

PURPOSE:
  Periodically compares every owner's stored summary with a fresh fold of
  their ledger and, when enabled, repairs drift with a full recompute.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Lists owners from the store, checks each independently
  - A failing owner is logged and skipped; the rest are still checked
  - Drift is logged at Warn with the difference per bucket

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - AutoRepair:    Recompute drifted owners (default: false)
  - Enabled:       Whether scheduler is active (default: true)

USAGE:
  scheduler := NewDriftScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerDriftCheck endpoint (manual run)
  - ledger/recompute.go: CheckDrift and RecomputeSummary
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/logging"
)

// DriftResult is the outcome of checking one owner.
type DriftResult struct {
	Report   ledger.DriftReport
	Repaired bool
}

// DriftScheduler handles automated drift detection and repair.
type DriftScheduler struct {
	Engine        *ledger.Engine
	CheckInterval time.Duration
	AutoRepair    bool
	Enabled       bool

	log    *logging.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	runMu  sync.Mutex
}

// NewDriftScheduler creates a new scheduler.
func NewDriftScheduler(engine *ledger.Engine, log *logging.Logger) *DriftScheduler {
	return &DriftScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		log:           logging.OrNop(log).WithComponent(logging.ComponentScheduler),
	}
}

// Start begins the scheduler.
func (ds *DriftScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled || ds.CheckInterval <= 0 {
		ds.log.Info("Drift scheduler disabled, not starting")
		return
	}
	if ds.ticker != nil {
		return
	}

	ds.ticker = time.NewTicker(ds.CheckInterval)
	ds.stop = make(chan struct{})
	ds.wg.Add(1)

	go ds.run(ds.ticker, ds.stop)

	ds.log.Info("Drift scheduler started",
		"check_interval", ds.CheckInterval.String(),
		"auto_repair", ds.AutoRepair)
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (ds *DriftScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		ds.ticker = nil
		ds.log.Info("Drift scheduler stopped")
	}
}

func (ds *DriftScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ds.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	ds.RunNow(ctx)

	for {
		select {
		case <-ticker.C:
			ds.RunNow(ctx)
		case <-stop:
			return
		}
	}
}

// RunNow checks every owner once. Only listing owners can fail the run;
// per-owner failures are logged and omitted from the results.
func (ds *DriftScheduler) RunNow(ctx context.Context) ([]DriftResult, error) {
	ds.runMu.Lock()
	defer ds.runMu.Unlock()

	owners, err := ds.Engine.Owners(ctx)
	if err != nil {
		ds.log.Failed(ctx, "Failed to list owners", err)
		return nil, err
	}

	results := make([]DriftResult, 0, len(owners))
	drifted, repaired := 0, 0
	for _, owner := range owners {
		if ctx.Err() != nil {
			break
		}
		res, err := ds.checkOwner(ctx, owner)
		if err != nil {
			ds.log.Failed(ctx, "Drift check failed", err, logging.FieldOwner, owner)
			continue
		}
		if res.Report.Drifted {
			drifted++
		}
		if res.Repaired {
			repaired++
		}
		results = append(results, res)
	}

	ds.log.InfoContext(ctx, "Drift check completed",
		"owners", len(owners),
		"drifted", drifted,
		"repaired", repaired)
	return results, nil
}

func (ds *DriftScheduler) checkOwner(ctx context.Context, owner ledger.OwnerID) (DriftResult, error) {
	report, err := ds.Engine.CheckDrift(ctx, owner)
	if err != nil {
		return DriftResult{}, err
	}
	res := DriftResult{Report: report}
	if !report.Drifted {
		return res, nil
	}

	ds.log.WarnContext(ctx, "Summary drift detected",
		logging.FieldOwner, owner,
		logging.FieldCapital, report.Difference.Capital.String(),
		logging.FieldProfit, report.Difference.Profit.String())

	if !ds.AutoRepair {
		return res, nil
	}
	if _, err := ds.Engine.RecomputeSummary(ctx, owner); err != nil {
		return res, err
	}
	res.Repaired = true
	return res, nil
}
