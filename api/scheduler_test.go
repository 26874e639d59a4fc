package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/logging"
)

// seedDrift loads percentage-change into drifted and corner-shop into clean.
func seedDrift(t *testing.T, a *testAPI, drifted, clean ledger.OwnerID) {
	t.Helper()
	ctx := context.Background()
	_, err := a.handler.loadScenario(ctx, drifted, "percentage-change")
	require.NoError(t, err)
	_, err = a.handler.loadScenario(ctx, clean, "corner-shop")
	require.NoError(t, err)
}

func TestDriftScheduler_RunNowReportsOnly(t *testing.T) {
	// GIVEN: One drifted owner and one clean owner
	a := newTestAPI(t)
	seedDrift(t, a, "drifted", "clean")
	ds := NewDriftScheduler(a.engine, logging.Nop())

	// WHEN: Running without auto-repair
	results, err := ds.RunNow(context.Background())
	require.NoError(t, err)

	// THEN: Drift is reported and left in place
	require.Len(t, results, 2)
	byOwner := map[ledger.OwnerID]DriftResult{}
	for _, r := range results {
		byOwner[r.Report.Owner] = r
	}
	assert.False(t, byOwner["clean"].Report.Drifted)
	assert.True(t, byOwner["drifted"].Report.Drifted)
	assert.False(t, byOwner["drifted"].Repaired)

	report, err := a.engine.CheckDrift(context.Background(), "drifted")
	require.NoError(t, err)
	assert.True(t, report.Drifted)
}

func TestDriftScheduler_AutoRepair(t *testing.T) {
	a := newTestAPI(t)
	seedDrift(t, a, "drifted", "clean")
	ds := NewDriftScheduler(a.engine, logging.Nop())
	ds.AutoRepair = true

	results, err := ds.RunNow(context.Background())
	require.NoError(t, err)

	repaired := 0
	for _, r := range results {
		if r.Repaired {
			repaired++
			assert.Equal(t, ledger.OwnerID("drifted"), r.Report.Owner)
		}
	}
	assert.Equal(t, 1, repaired)

	report, err := a.engine.CheckDrift(context.Background(), "drifted")
	require.NoError(t, err)
	assert.False(t, report.Drifted)
}

func TestDriftScheduler_StartStop(t *testing.T) {
	// GIVEN: A running scheduler with auto-repair
	a := newTestAPI(t)
	seedDrift(t, a, "drifted", "clean")
	ds := NewDriftScheduler(a.engine, logging.Nop())
	ds.CheckInterval = 10 * time.Millisecond
	ds.AutoRepair = true

	ds.Start()
	ds.Start() // second start is a no-op

	// THEN: The immediate run repairs the drift
	require.Eventually(t, func() bool {
		report, err := a.engine.CheckDrift(context.Background(), "drifted")
		return err == nil && !report.Drifted
	}, time.Second, 5*time.Millisecond)

	ds.Stop()
	ds.Stop() // idempotent
}

func TestDriftScheduler_Disabled(t *testing.T) {
	a := newTestAPI(t)
	seedDrift(t, a, "drifted", "clean")
	ds := NewDriftScheduler(a.engine, logging.Nop())
	ds.CheckInterval = 0
	ds.AutoRepair = true

	ds.Start()
	ds.Stop()

	report, err := a.engine.CheckDrift(context.Background(), "drifted")
	require.NoError(t, err)
	assert.True(t, report.Drifted)
}

func TestAPI_TriggerDriftCheck(t *testing.T) {
	a := newTestAPI(t)
	seedDrift(t, a, "drifted", "clean")

	// Without a scheduler
	decode[ErrorResponse](t, a.do(http.MethodPost, "/api/admin/drift-check", nil), http.StatusServiceUnavailable)

	// With one
	a.handler.Scheduler = NewDriftScheduler(a.engine, logging.Nop())
	a.handler.Scheduler.AutoRepair = true

	got := decode[[]DriftDTO](t, a.do(http.MethodPost, "/api/admin/drift-check", nil), http.StatusOK)
	require.Len(t, got, 2)
	for _, d := range got {
		assert.Equal(t, d.Owner == "drifted", d.Drifted)
		assert.Equal(t, d.Owner == "drifted", d.Repaired)
	}
}
