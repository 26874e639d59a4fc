/*
handlers_test.go - HTTP tests through the chi router

Tests for:
- Transaction lifecycle (create, edit, delete, payments)
- Error mapping to status codes
- Settings, summary, recompute and drift endpoints
- Credits, reports (JSON and CSV) and daily sales
*/
package api

import (
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/capital-ledger/ledger"
)

const base = "/api/owners/" + testOwner

func TestAPI_TradingDay(t *testing.T) {
	// GIVEN: An owner with the default 20% split
	a := newTestAPI(t)

	// WHEN: A sale, a purchase, an expense and a credit sale with a
	// partial payment are recorded
	a.create(TransactionRequest{Amount: 100, Description: "Sales", Type: "sale"})
	a.create(TransactionRequest{Amount: 30, Description: "Stock", Type: "purchase"})
	a.create(TransactionRequest{Amount: 10, Description: "Power", Type: "expense"})
	credit := a.create(TransactionRequest{Amount: 50, Description: "On account", Type: "sale", IsCredit: true, ClientName: "Ana"})

	assert.True(t, credit.IsCredit)
	assert.False(t, credit.IsPaid)
	assert.Equal(t, 50.0, credit.Remaining)
	assert.Empty(t, credit.Payments)

	paid := decode[TransactionDTO](t, a.do(http.MethodPost, base+"/transactions/"+credit.ID+"/payments",
		PaymentRequest{Amount: 20, Note: "first"}), http.StatusCreated)

	// THEN: The summary reflects realized amounts only
	assert.Equal(t, 20.0, paid.AmountPaid)
	assert.Equal(t, 30.0, paid.Remaining)
	require.Len(t, paid.Payments, 1)
	assert.Equal(t, "first", paid.Payments[0].Note)

	sum := a.summary()
	assert.Equal(t, testOwner, sum.Owner)
	assert.Equal(t, 66.0, sum.AvailableCapital)
	assert.Equal(t, 14.0, sum.AccumulatedProfits)

	// AND: The list is newest first
	list := decode[[]TransactionDTO](t, a.do(http.MethodGet, base+"/transactions", nil), http.StatusOK)
	require.Len(t, list, 4)
	assert.Equal(t, credit.ID, list[0].ID)
	assert.Equal(t, "Sales", list[3].Description)

	// AND: No drift
	drift := decode[DriftDTO](t, a.do(http.MethodGet, base+"/summary/drift", nil), http.StatusOK)
	assert.False(t, drift.Drifted)
}

func TestAPI_CreateValidation(t *testing.T) {
	a := newTestAPI(t)

	tests := []struct {
		name  string
		req   TransactionRequest
		field string
	}{
		{"zero amount", TransactionRequest{Amount: 0, Description: "x", Type: "sale"}, "amount"},
		{"blank description", TransactionRequest{Amount: 5, Description: "  ", Type: "sale"}, "description"},
		{"unknown type", TransactionRequest{Amount: 5, Description: "x", Type: "gift"}, "type"},
		{"credit without client", TransactionRequest{Amount: 5, Description: "x", Type: "sale", IsCredit: true}, "clientName"},
		{"credit expense", TransactionRequest{Amount: 5, Description: "x", Type: "expense", IsCredit: true, ClientName: "Landlord"}, "isCredit"},
		{"extra income on purchase", TransactionRequest{Amount: 5, Description: "x", Type: "purchase", IsExtraIncome: true, ExtraIncomeType: "capital"}, "isExtraIncome"},
		{"percentage over 100", TransactionRequest{Amount: 5, Description: "x", Type: "sale", ProfitPercentage: floatPtr(120)}, "profitPercentage"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decode[ErrorResponse](t, a.do(http.MethodPost, base+"/transactions", tt.req), http.StatusBadRequest)
			assert.Equal(t, "Failed to create transaction", resp.Error)
			assert.Equal(t, tt.field, resp.Field)
			assert.NotEmpty(t, resp.Details)
		})
	}

	// Nothing was written
	sum := a.summary()
	assert.Zero(t, sum.AvailableCapital)
	assert.Zero(t, sum.AccumulatedProfits)
}

func TestAPI_InvalidBody(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, base+"/transactions", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	resp := decode[ErrorResponse](t, rec, http.StatusBadRequest)
	assert.Equal(t, "Invalid request body", resp.Error)
}

func TestAPI_ProfitPercentageOverride(t *testing.T) {
	// GIVEN: Settings at 20%
	a := newTestAPI(t)

	// WHEN: A sale overrides the split to 50%
	a.create(TransactionRequest{Amount: 100, Description: "Sale", Type: "sale", ProfitPercentage: floatPtr(50)})

	// THEN: The override is used for this sale only
	sum := a.summary()
	assert.Equal(t, 50.0, sum.AvailableCapital)
	assert.Equal(t, 50.0, sum.AccumulatedProfits)

	a.create(TransactionRequest{Amount: 100, Description: "Sale", Type: "sale"})
	sum = a.summary()
	assert.Equal(t, 130.0, sum.AvailableCapital)
	assert.Equal(t, 70.0, sum.AccumulatedProfits)
}

func TestAPI_Edit(t *testing.T) {
	a := newTestAPI(t)
	tx := a.create(TransactionRequest{Amount: 100, Description: "Sale", Type: "sale"})

	// WHEN: Editing without an expected view
	edited := decode[TransactionDTO](t, a.do(http.MethodPut, base+"/transactions/"+tx.ID,
		EditTransactionRequest{TransactionRequest: TransactionRequest{Amount: 150, Description: "Bigger sale", Type: "sale"}}),
		http.StatusOK)

	// THEN: Identity is kept and the delta is applied
	assert.Equal(t, tx.ID, edited.ID)
	assert.Equal(t, tx.Date, edited.Date)
	assert.Equal(t, 150.0, edited.Amount)
	sum := a.summary()
	assert.Equal(t, 120.0, sum.AvailableCapital)
	assert.Equal(t, 30.0, sum.AccumulatedProfits)
}

func TestAPI_EditStaleExpected(t *testing.T) {
	// GIVEN: A transaction edited by another client
	a := newTestAPI(t)
	tx := a.create(TransactionRequest{Amount: 100, Description: "Sale", Type: "sale"})
	original := TransactionRequest{Amount: 100, Description: "Sale", Type: "sale"}

	a.do(http.MethodPut, base+"/transactions/"+tx.ID, EditTransactionRequest{
		TransactionRequest: TransactionRequest{Amount: 120, Description: "Sale", Type: "sale"},
		Expected:           &original,
	})

	// WHEN: A second client edits from the old view
	rec := a.do(http.MethodPut, base+"/transactions/"+tx.ID, EditTransactionRequest{
		TransactionRequest: TransactionRequest{Amount: 90, Description: "Sale", Type: "sale"},
		Expected:           &original,
	})

	// THEN: 409 and the first edit stands
	decode[ErrorResponse](t, rec, http.StatusConflict)
	sum := a.summary()
	assert.Equal(t, 96.0, sum.AvailableCapital)
	assert.Equal(t, 24.0, sum.AccumulatedProfits)
}

func TestAPI_Delete(t *testing.T) {
	a := newTestAPI(t)
	keep := a.create(TransactionRequest{Amount: 100, Description: "Keep", Type: "sale"})
	drop := a.create(TransactionRequest{Amount: 40, Description: "Drop", Type: "expense"})

	rec := a.do(http.MethodDelete, base+"/transactions/"+drop.ID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	sum := a.summary()
	assert.Equal(t, 80.0, sum.AvailableCapital)
	assert.Equal(t, 20.0, sum.AccumulatedProfits)

	// Deleting again is a 404
	decode[ErrorResponse](t, a.do(http.MethodDelete, base+"/transactions/"+drop.ID, nil), http.StatusNotFound)

	list := decode[[]TransactionDTO](t, a.do(http.MethodGet, base+"/transactions", nil), http.StatusOK)
	require.Len(t, list, 1)
	assert.Equal(t, keep.ID, list[0].ID)
}

func TestAPI_DeleteWithPercentageQuery(t *testing.T) {
	// GIVEN: A credit sale with a payment realized at 20%
	a := newTestAPI(t)
	tx := a.create(TransactionRequest{Amount: 100, Description: "On account", Type: "sale", IsCredit: true, ClientName: "Bo"})
	a.do(http.MethodPost, base+"/transactions/"+tx.ID+"/payments", PaymentRequest{Amount: 100})

	// WHEN: Deleted with the same percentage passed explicitly
	rec := a.do(http.MethodDelete, base+"/transactions/"+tx.ID+"?profit_percentage=20", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// THEN: Fully reversed
	sum := a.summary()
	assert.Zero(t, sum.AvailableCapital)
	assert.Zero(t, sum.AccumulatedProfits)

	// AND: A malformed percentage is rejected up front
	decode[ErrorResponse](t, a.do(http.MethodDelete, base+"/transactions/x?profit_percentage=abc", nil), http.StatusBadRequest)
}

func TestAPI_PaymentErrors(t *testing.T) {
	a := newTestAPI(t)
	credit := a.create(TransactionRequest{Amount: 50, Description: "On account", Type: "sale", IsCredit: true, ClientName: "Ana"})
	cash := a.create(TransactionRequest{Amount: 50, Description: "Cash", Type: "sale"})

	tests := []struct {
		name   string
		id     string
		amount float64
		status int
		reason string
	}{
		{"exceeds remaining", credit.ID, 60, http.StatusBadRequest, ledger.ReasonPaymentExceeds},
		{"zero amount", credit.ID, 0, http.StatusBadRequest, ledger.ReasonPaymentAmount},
		{"not credit", cash.ID, 10, http.StatusBadRequest, ledger.ReasonPaymentNotCredit},
		{"missing transaction", "nope", 10, http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decode[ErrorResponse](t, a.do(http.MethodPost, base+"/transactions/"+tt.id+"/payments",
				PaymentRequest{Amount: tt.amount}), tt.status)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, resp.Details)
			}
		})
	}

	sum := a.summary()
	assert.Equal(t, 40.0, sum.AvailableCapital)
	assert.Equal(t, 10.0, sum.AccumulatedProfits)
}

func TestAPI_Settings(t *testing.T) {
	a := newTestAPI(t)

	got := decode[SettingsDTO](t, a.do(http.MethodGet, base+"/settings", nil), http.StatusOK)
	assert.Equal(t, 20.0, got.ProfitPercentage)

	got = decode[SettingsDTO](t, a.do(http.MethodPut, base+"/settings", SettingsDTO{ProfitPercentage: 35}), http.StatusOK)
	assert.Equal(t, 35.0, got.ProfitPercentage)

	resp := decode[ErrorResponse](t, a.do(http.MethodPut, base+"/settings", SettingsDTO{ProfitPercentage: -1}), http.StatusBadRequest)
	assert.Equal(t, "profitPercentage", resp.Field)

	got = decode[SettingsDTO](t, a.do(http.MethodGet, base+"/settings", nil), http.StatusOK)
	assert.Equal(t, 35.0, got.ProfitPercentage)

	// New sales use the stored percentage
	a.create(TransactionRequest{Amount: 100, Description: "Sale", Type: "sale"})
	assert.Equal(t, 35.0, a.summary().AccumulatedProfits)
}

func TestAPI_RecomputeRepairsDrift(t *testing.T) {
	// GIVEN: A payment realized at 20%, then the split changed to 30%
	a := newTestAPI(t)
	tx := a.create(TransactionRequest{Amount: 100, Description: "On account", Type: "sale", IsCredit: true, ClientName: "Bo"})
	a.do(http.MethodPost, base+"/transactions/"+tx.ID+"/payments", PaymentRequest{Amount: 100})
	a.do(http.MethodPut, base+"/settings", SettingsDTO{ProfitPercentage: 30})

	// WHEN: Checking drift
	drift := decode[DriftDTO](t, a.do(http.MethodGet, base+"/summary/drift", nil), http.StatusOK)

	// THEN: The stored summary differs from a fold at 30%
	assert.True(t, drift.Drifted)
	assert.Equal(t, 80.0, drift.Stored.AvailableCapital)
	assert.Equal(t, 70.0, drift.Expected.AvailableCapital)
	assert.Equal(t, 10.0, drift.CapitalDifference)
	assert.Equal(t, -10.0, drift.ProfitDifference)

	// WHEN: Recomputing
	sum := decode[SummaryDTO](t, a.do(http.MethodPost, base+"/summary/recompute", nil), http.StatusOK)

	// THEN: The fold is stored
	assert.Equal(t, 70.0, sum.AvailableCapital)
	assert.Equal(t, 30.0, sum.AccumulatedProfits)
	drift = decode[DriftDTO](t, a.do(http.MethodGet, base+"/summary/drift", nil), http.StatusOK)
	assert.False(t, drift.Drifted)
}

func TestAPI_Credits(t *testing.T) {
	a := newTestAPI(t)
	sale := a.create(TransactionRequest{Amount: 50, Description: "Customer", Type: "sale", IsCredit: true, ClientName: "Ana"})
	purchase := a.create(TransactionRequest{Amount: 80, Description: "Supplier", Type: "purchase", IsCredit: true, ClientName: "Acme"})
	settled := a.create(TransactionRequest{Amount: 10, Description: "Settled", Type: "sale", IsCredit: true, ClientName: "Bo"})
	a.create(TransactionRequest{Amount: 10, Description: "Cash", Type: "sale"})
	a.do(http.MethodPost, base+"/transactions/"+settled.ID+"/payments", PaymentRequest{Amount: 10})

	all := decode[[]TransactionDTO](t, a.do(http.MethodGet, base+"/credits", nil), http.StatusOK)
	require.Len(t, all, 2)
	ids := []string{all[0].ID, all[1].ID}
	assert.ElementsMatch(t, []string{sale.ID, purchase.ID}, ids)

	sales := decode[[]TransactionDTO](t, a.do(http.MethodGet, base+"/credits?type=sale", nil), http.StatusOK)
	require.Len(t, sales, 1)
	assert.Equal(t, sale.ID, sales[0].ID)
	assert.Equal(t, 50.0, sales[0].Remaining)

	decode[ErrorResponse](t, a.do(http.MethodGet, base+"/credits?type=gift", nil), http.StatusBadRequest)
}

func TestAPI_Report(t *testing.T) {
	a := newTestAPI(t)
	a.create(TransactionRequest{Amount: 100, Description: "Sale", Type: "sale"})
	a.create(TransactionRequest{Amount: 50, Description: "Tips", Type: "sale", IsExtraIncome: true, ExtraIncomeType: "profit"})
	a.create(TransactionRequest{Amount: 30, Description: "Stock", Type: "purchase"})

	report := decode[ReportDTO](t, a.do(http.MethodGet, base+"/reports?from=2025-03-10&to=2025-03-10", nil), http.StatusOK)
	require.Len(t, report.Rows, 3)
	assert.Equal(t, 180.0, report.TotalAmount)
	assert.Equal(t, 80.0, report.TotalCapital)
	assert.Equal(t, 70.0, report.TotalProfit)
	assert.False(t, report.Rows[0].Split)
	assert.Equal(t, "2025-03-10", report.From)

	sales := decode[ReportDTO](t, a.do(http.MethodGet, base+"/reports?type=sale", nil), http.StatusOK)
	assert.Len(t, sales.Rows, 2)

	empty := decode[ReportDTO](t, a.do(http.MethodGet, base+"/reports?from=2025-03-11", nil), http.StatusOK)
	assert.Empty(t, empty.Rows)

	decode[ErrorResponse](t, a.do(http.MethodGet, base+"/reports?from=10/03/2025", nil), http.StatusBadRequest)
	decode[ErrorResponse](t, a.do(http.MethodGet, base+"/reports?from=2025-03-10&to=2025-03-01", nil), http.StatusBadRequest)
	decode[ErrorResponse](t, a.do(http.MethodGet, base+"/reports?type=gift", nil), http.StatusBadRequest)
}

func TestAPI_ReportCSV(t *testing.T) {
	a := newTestAPI(t)
	a.create(TransactionRequest{Amount: 100, Description: "Sale, with comma", Type: "sale"})
	a.create(TransactionRequest{Amount: 30, Description: "Stock", Type: "purchase"})

	rec := a.do(http.MethodGet, base+"/reports?format=csv", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")

	records, err := csv.NewReader(rec.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, reportCSVHeader, records[0])

	// Newest first: the purchase carries no split
	assert.Equal(t, "purchase", records[1][2])
	assert.Equal(t, "", records[1][5])
	assert.Equal(t, "Sale, with comma", records[2][3])
	assert.Equal(t, "80.00", records[2][5])
	assert.Equal(t, "20.00", records[2][6])
	assert.Equal(t, []string{"total", "", "", "", "130.00", "80.00", "20.00", "", "", "", ""}, records[3])
}

func TestAPI_DailySales(t *testing.T) {
	a := newTestAPI(t)
	a.create(TransactionRequest{Amount: 100, Description: "Sale", Type: "sale"})
	a.create(TransactionRequest{Amount: 25, Description: "Sale", Type: "sale"})
	a.create(TransactionRequest{Amount: 99, Description: "Stock", Type: "purchase"})

	ds := decode[DailySalesDTO](t, a.do(http.MethodGet, base+"/analysis/daily-sales?year=2025&month=3", nil), http.StatusOK)
	assert.Equal(t, 2025, ds.Year)
	assert.Equal(t, 3, ds.Month)
	require.Len(t, ds.Days, 31)
	assert.Equal(t, DayTotalDTO{Day: 10, Total: 125}, ds.Days[9])
	assert.Zero(t, ds.Days[0].Total)
	assert.Equal(t, 125.0, ds.Total)
	assert.Equal(t, 125.0, ds.Max)

	feb := decode[DailySalesDTO](t, a.do(http.MethodGet, base+"/analysis/daily-sales?year=2024&month=2", nil), http.StatusOK)
	assert.Len(t, feb.Days, 29)
	assert.Zero(t, feb.Total)

	resp := decode[ErrorResponse](t, a.do(http.MethodGet, base+"/analysis/daily-sales?year=2025&month=13", nil), http.StatusBadRequest)
	assert.Equal(t, "month", resp.Field)
	decode[ErrorResponse](t, a.do(http.MethodGet, base+"/analysis/daily-sales?year=abc", nil), http.StatusBadRequest)
}

func TestAPI_Owners(t *testing.T) {
	a := newTestAPI(t)
	a.create(TransactionRequest{Amount: 1, Description: "x", Type: "sale"})
	a.do(http.MethodGet, "/api/owners/other/settings", nil)

	owners := decode[[]string](t, a.do(http.MethodGet, "/api/owners", nil), http.StatusOK)
	assert.Equal(t, []string{"other", testOwner}, owners)
}

func TestAPI_Health(t *testing.T) {
	a := newTestAPI(t)
	got := decode[map[string]string](t, a.do(http.MethodGet, "/health", nil), http.StatusOK)
	assert.Equal(t, "ok", got["status"])
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ledger.ValidationError{Field: "amount", Reason: ledger.ReasonAmount}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", ledger.ErrTransactionNotFound), http.StatusNotFound},
		{ledger.ErrConcurrentModification, http.StatusConflict},
		{&ledger.StoreError{Op: "update summary", Err: ledger.ErrConflict}, http.StatusConflict},
		{ledger.ErrWatchUnsupported, http.StatusNotImplemented},
		{&ledger.StoreError{Op: "insert", Err: errors.New("disk full")}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
