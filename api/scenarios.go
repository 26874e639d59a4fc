/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built ledgers that populate an owner with realistic data
	for demos. Every scenario goes through the engine, so the resulting
	summary is exactly what the same requests over HTTP would produce.

AVAILABLE SCENARIOS:

	corner-shop:        A day of trading: sales, stock purchase, an expense
	                    and a sale on credit with a partial payment
	credit-book:        Several customers and suppliers on credit, some
	                    settled, some outstanding
	extra-income:       Extra income routed whole to capital and to profit
	percentage-change:  Sales recorded at 20%, then the split raised to 30%;
	                    the drift check shows what a recompute would change

USAGE VIA API:

	GET  /api/scenarios
	POST /api/owners/{owner}/scenarios/load
	{"scenario_id": "corner-shop"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Add its steps to 'scenarioSteps'

NOTE:

	Scenarios only load into an owner with an empty ledger.

SEE ALSO:
  - handlers.go: Engine error mapping
  - ledger/engine.go: Operations the steps call
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/logging"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects the scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse reports what a load produced.
type LoadScenarioResponse struct {
	ScenarioID   string     `json:"scenario_id"`
	Transactions int        `json:"transactions"`
	Summary      SummaryDTO `json:"summary"`
	Drift        DriftDTO   `json:"drift"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "corner-shop",
		Name:        "Corner Shop",
		Description: "Sales, a stock purchase, an expense and a credit sale with a partial payment",
	},
	{
		ID:          "credit-book",
		Name:        "Credit Book",
		Description: "Customers and suppliers on credit, partly settled",
	},
	{
		ID:          "extra-income",
		Name:        "Extra Income",
		Description: "Extra income routed whole to capital and to profit",
	},
	{
		ID:          "percentage-change",
		Name:        "Percentage Change",
		Description: "Split raised from 20% to 30% after some sales; drift check shows the difference",
	},
}

// scenarioStep is one engine call. Steps run in order against one owner.
type scenarioStep func(ctx context.Context, e *ledger.Engine, owner ledger.OwnerID, st *scenarioState) error

type scenarioState struct {
	created []ledger.Transaction
}

// last returns the n-th most recently created transaction, 1-based.
func (s *scenarioState) last(n int) ledger.Transaction {
	return s.created[len(s.created)-n]
}

var scenarioSteps = map[string][]scenarioStep{
	"corner-shop": {
		setPercentage(20),
		create(ledger.Sale, 100, "Daily sales", "", ""),
		create(ledger.Purchase, 30, "Stock from wholesaler", "", ""),
		create(ledger.Expense, 10, "Electricity", "", ""),
		create(ledger.Sale, 50, "Groceries on account", "Ana", ""),
		pay(1, 20, "First instalment"),
	},
	"credit-book": {
		setPercentage(25),
		create(ledger.Sale, 200, "Catering order", "Bruno", ""),
		pay(1, 200, "Paid in full"),
		create(ledger.Sale, 120, "Weekly groceries", "Carla", ""),
		pay(1, 40, ""),
		pay(1, 30, "Second instalment"),
		create(ledger.Purchase, 300, "Supplier invoice", "Wholesale Co", ""),
		pay(1, 100, "Partial settlement"),
		create(ledger.Purchase, 60, "Repairs on account", "Handyman", ""),
	},
	"extra-income": {
		setPercentage(20),
		create(ledger.Sale, 500, "Regular sales", "", ""),
		create(ledger.Sale, 250, "Owner capital injection", "", ledger.ExtraIncomeCapital),
		create(ledger.Sale, 80, "Tip jar", "", ledger.ExtraIncomeProfit),
	},
	"percentage-change": {
		setPercentage(20),
		create(ledger.Sale, 100, "Morning sales", "", ""),
		create(ledger.Sale, 60, "Credit sale", "Dario", ""),
		pay(1, 30, ""),
		setPercentage(30),
		create(ledger.Sale, 100, "Afternoon sales", "", ""),
	},
}

func setPercentage(pct int64) scenarioStep {
	return func(ctx context.Context, e *ledger.Engine, owner ledger.OwnerID, _ *scenarioState) error {
		return e.UpdateSettings(ctx, owner, ledger.Settings{ProfitPercentage: decimal.NewFromInt(pct)})
	}
}

// create records a transaction at the owner's current percentage. A
// non-empty client makes it a credit transaction.
func create(typ ledger.TransactionType, amount int64, description, client string, extra ledger.ExtraIncomeTarget) scenarioStep {
	return func(ctx context.Context, e *ledger.Engine, owner ledger.OwnerID, st *scenarioState) error {
		pct, err := e.ProfitPercentage(ctx, owner, nil)
		if err != nil {
			return err
		}
		tx, err := e.CreateTransaction(ctx, owner, ledger.Draft{
			Amount:          decimal.NewFromInt(amount),
			Description:     description,
			Type:            typ,
			IsCredit:        client != "",
			ClientName:      client,
			IsExtraIncome:   extra != "",
			ExtraIncomeType: extra,
		}, pct)
		if err != nil {
			return err
		}
		st.created = append(st.created, tx)
		return nil
	}
}

// pay records a payment on the n-th most recently created transaction.
func pay(n int, amount int64, note string) scenarioStep {
	return func(ctx context.Context, e *ledger.Engine, owner ledger.OwnerID, st *scenarioState) error {
		pct, err := e.ProfitPercentage(ctx, owner, nil)
		if err != nil {
			return err
		}
		_, err = e.AddPayment(ctx, owner, st.last(n).ID, decimal.NewFromInt(amount), note, pct)
		return err
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns the scenario catalogue.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario seeds an empty owner with a scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()
	o := owner(r)

	existing, err := h.Engine.ListTransactions(ctx, o)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list transactions", err)
		return
	}
	if len(existing) > 0 {
		writeError(w, http.StatusConflict, "Owner ledger is not empty",
			fmt.Errorf("%d transactions already recorded", len(existing)))
		return
	}

	n, err := h.loadScenario(ctx, o, req.ScenarioID)
	if err != nil {
		if _, ok := scenarioSteps[req.ScenarioID]; !ok {
			writeError(w, http.StatusBadRequest, "Unknown scenario", err)
			return
		}
		h.writeEngineError(w, r, "Failed to load scenario", err)
		return
	}

	sum, err := h.Engine.GetSummary(ctx, o)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get summary", err)
		return
	}
	drift, err := h.Engine.CheckDrift(ctx, o)
	if err != nil {
		h.writeEngineError(w, r, "Failed to check drift", err)
		return
	}

	h.logger().InfoContext(ctx, "Scenario loaded", "scenario", req.ScenarioID, logging.FieldOwner, o, "transactions", n)
	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		ScenarioID:   req.ScenarioID,
		Transactions: n,
		Summary:      toSummaryDTO(o, sum),
		Drift:        toDriftDTO(drift),
	})
}

// loadScenario runs the steps of id and returns how many transactions it
// created.
func (h *Handler) loadScenario(ctx context.Context, owner ledger.OwnerID, id string) (int, error) {
	steps, ok := scenarioSteps[id]
	if !ok {
		return 0, fmt.Errorf("unknown scenario: %s", id)
	}
	st := &scenarioState{}
	for i, step := range steps {
		if err := step(ctx, h.Engine, owner, st); err != nil {
			return len(st.created), fmt.Errorf("scenario %s step %d: %w", id, i+1, err)
		}
	}
	return len(st.created), nil
}
