/*
handlers.go - HTTP API handlers for the capital ledger

PURPOSE:
  Exposes the ledger engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the engine.

ENDPOINTS:
  Transactions:
    GET    /api/owners/{owner}/transactions               List, newest first
    POST   /api/owners/{owner}/transactions               Create
    PUT    /api/owners/{owner}/transactions/{id}          Edit
    DELETE /api/owners/{owner}/transactions/{id}          Delete
    POST   /api/owners/{owner}/transactions/{id}/payments Record a payment

  Summary:
    GET    /api/owners/{owner}/summary                    Stored summary
    POST   /api/owners/{owner}/summary/recompute          Rebuild from the ledger
    GET    /api/owners/{owner}/summary/drift              Compare stored vs fold

  Settings:
    GET|PUT /api/owners/{owner}/settings

  Views:
    GET    /api/owners/{owner}/credits?type=              Unpaid credit
    GET    /api/owners/{owner}/reports?from=&to=&type=&format=csv
    GET    /api/owners/{owner}/analysis/daily-sales?year=&month=
    GET    /api/owners/{owner}/events                     Server-Sent Events

  Admin:
    GET    /api/owners                                    Known owners
    GET    /api/scenarios                                 Demo scenarios
    POST   /api/owners/{owner}/scenarios/load             Seed an empty owner
    POST   /api/admin/drift-check                         Run the drift scheduler now

PROFIT PERCENTAGE:
  Mutations accept an optional profit_percentage (body field, or query
  parameter on DELETE). When absent the owner's settings value is used.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Transaction not found
  - 409: Stale edit or exhausted retries
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The owner in the path is trusted.

SEE ALSO:
  - dto.go: Request/response data structures
  - events.go: Change stream
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/logging"
)

const dateLayout = "2006-01-02"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine    *ledger.Engine
	Scheduler *DriftScheduler
	Log       *logging.Logger

	// Location is used to interpret report dates. UTC when nil.
	Location *time.Location
}

// NewHandler creates a new handler around engine.
func NewHandler(engine *ledger.Engine, log *logging.Logger) *Handler {
	return &Handler{
		Engine:   engine,
		Log:      logging.OrNop(log).WithComponent(logging.ComponentHTTP),
		Location: time.UTC,
	}
}

func owner(r *http.Request) ledger.OwnerID {
	return ledger.OwnerID(chi.URLParam(r, "owner"))
}

func transactionID(r *http.Request) ledger.TransactionID {
	return ledger.TransactionID(chi.URLParam(r, "id"))
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns the owner's ledger, newest first.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := h.Engine.ListTransactions(r.Context(), owner(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// CreateTransaction admits a new transaction.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	draft, err := req.draft()
	if err != nil {
		h.writeEngineError(w, r, "Failed to create transaction", err)
		return
	}

	ctx := r.Context()
	pct, err := h.Engine.ProfitPercentage(ctx, owner(r), percentage(req.ProfitPercentage))
	if err != nil {
		h.writeEngineError(w, r, "Failed to read settings", err)
		return
	}

	tx, err := h.Engine.CreateTransaction(ctx, owner(r), draft, pct)
	if err != nil {
		h.writeEngineError(w, r, "Failed to create transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// EditTransaction replaces the editable fields of a transaction.
func (h *Handler) EditTransaction(w http.ResponseWriter, r *http.Request) {
	var req EditTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	updated, err := req.draft()
	if err != nil {
		h.writeEngineError(w, r, "Failed to edit transaction", err)
		return
	}

	ctx := r.Context()
	stored, err := h.Engine.GetTransaction(ctx, owner(r), transactionID(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get transaction", err)
		return
	}

	// Without an expected view the edit applies to whatever is stored.
	original := stored
	if req.Expected != nil {
		expected, err := req.Expected.draft()
		if err != nil {
			h.writeEngineError(w, r, "Failed to edit transaction", err)
			return
		}
		original = withDraft(stored, expected)
	}

	pct, err := h.Engine.ProfitPercentage(ctx, owner(r), percentage(req.ProfitPercentage))
	if err != nil {
		h.writeEngineError(w, r, "Failed to read settings", err)
		return
	}

	tx, err := h.Engine.EditTransaction(ctx, owner(r), original, updated, pct)
	if err != nil {
		h.writeEngineError(w, r, "Failed to edit transaction", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction removes a transaction and reverses its impact.
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	override, err := queryPercentage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid profit_percentage", err)
		return
	}

	tx, err := h.Engine.GetTransaction(ctx, owner(r), transactionID(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get transaction", err)
		return
	}

	pct, err := h.Engine.ProfitPercentage(ctx, owner(r), override)
	if err != nil {
		h.writeEngineError(w, r, "Failed to read settings", err)
		return
	}

	if err := h.Engine.DeleteTransaction(ctx, owner(r), tx, pct); err != nil {
		h.writeEngineError(w, r, "Failed to delete transaction", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddPayment records a payment against a credit transaction.
func (h *Handler) AddPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := ledger.AmountFromFloat(req.Amount)
	if err != nil {
		h.writeEngineError(w, r, "Failed to add payment", err)
		return
	}

	ctx := r.Context()
	pct, err := h.Engine.ProfitPercentage(ctx, owner(r), percentage(req.ProfitPercentage))
	if err != nil {
		h.writeEngineError(w, r, "Failed to read settings", err)
		return
	}

	tx, err := h.Engine.AddPayment(ctx, owner(r), transactionID(r), amount, req.Note, pct)
	if err != nil {
		h.writeEngineError(w, r, "Failed to add payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// =============================================================================
// SUMMARY HANDLERS
// =============================================================================

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Engine.GetSummary(r.Context(), owner(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(owner(r), sum))
}

// RecomputeSummary rebuilds the summary from the full ledger.
func (h *Handler) RecomputeSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Engine.RecomputeSummary(r.Context(), owner(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to recompute summary", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(owner(r), sum))
}

func (h *Handler) CheckDrift(w http.ResponseWriter, r *http.Request) {
	report, err := h.Engine.CheckDrift(r.Context(), owner(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to check drift", err)
		return
	}
	writeJSON(w, http.StatusOK, toDriftDTO(report))
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.Engine.GetSettings(r.Context(), owner(r))
	if err != nil {
		h.writeEngineError(w, r, "Failed to get settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(s))
}

// UpdateSettings replaces the owner's profit percentage. Existing
// transactions keep the split they were recorded with.
func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	s := ledger.Settings{ProfitPercentage: decimal.NewFromFloat(req.ProfitPercentage)}
	if err := h.Engine.UpdateSettings(r.Context(), owner(r), s); err != nil {
		h.writeEngineError(w, r, "Failed to update settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(s))
}

// =============================================================================
// VIEW HANDLERS
// =============================================================================

// ListCredits returns unpaid credit transactions, optionally of one type.
func (h *Handler) ListCredits(w http.ResponseWriter, r *http.Request) {
	typ := ledger.TransactionType(r.URL.Query().Get("type"))
	txs, err := h.Engine.OutstandingCredits(r.Context(), owner(r), typ)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list credits", err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// GetReport returns filtered transactions with their split, as JSON or CSV.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.ReportFilter{Type: ledger.TransactionType(q.Get("type"))}

	var err error
	if filter.From, err = h.parseDate(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	if filter.To, err = h.parseDate(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		writeError(w, http.StatusBadRequest, "Invalid date range: to is before from", nil)
		return
	}

	report, err := h.Engine.Report(r.Context(), owner(r), filter)
	if err != nil {
		h.writeEngineError(w, r, "Failed to build report", err)
		return
	}

	if q.Get("format") == "csv" {
		h.writeReportCSV(w, r, report)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report, filter))
}

// DailySales returns per-day sale totals for a month, the current one by
// default.
func (h *Handler) DailySales(w http.ResponseWriter, r *http.Request) {
	now := time.Now().In(h.location())
	year, month := now.Year(), int(now.Month())

	q := r.URL.Query()
	var err error
	if v := q.Get("year"); v != "" {
		if year, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid year", err)
			return
		}
	}
	if v := q.Get("month"); v != "" {
		if month, err = strconv.Atoi(v); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid month", err)
			return
		}
	}

	ds, err := h.Engine.DailySales(r.Context(), owner(r), year, time.Month(month))
	if err != nil {
		h.writeEngineError(w, r, "Failed to compute daily sales", err)
		return
	}
	writeJSON(w, http.StatusOK, toDailySalesDTO(ds))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

func (h *Handler) ListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.Engine.Owners(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to list owners", err)
		return
	}
	out := make([]string, len(owners))
	for i, o := range owners {
		out[i] = string(o)
	}
	writeJSON(w, http.StatusOK, out)
}

// TriggerDriftCheck runs the drift scheduler once and returns its findings.
func (h *Handler) TriggerDriftCheck(w http.ResponseWriter, r *http.Request) {
	if h.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "Drift scheduler is not configured", nil)
		return
	}
	results, err := h.Scheduler.RunNow(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to check drift", err)
		return
	}
	dtos := make([]DriftDTO, len(results))
	for i, res := range results {
		dtos[i] = toDriftDTO(res.Report)
		dtos[i].Repaired = res.Repaired
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) logger() *logging.Logger {
	return logging.OrNop(h.Log)
}

func (h *Handler) location() *time.Location {
	if h.Location == nil {
		return time.UTC
	}
	return h.Location
}

func (h *Handler) parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, h.location())
}

func queryPercentage(r *http.Request) (*decimal.Decimal, error) {
	v := r.URL.Query().Get("profit_percentage")
	if v == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// withDraft returns tx with its editable fields replaced by d.
func withDraft(tx ledger.Transaction, d ledger.Draft) ledger.Transaction {
	tx.Amount = d.Amount
	tx.Description = d.Description
	tx.Type = d.Type
	tx.IsCredit = d.IsCredit
	tx.ClientName = d.ClientName
	tx.IsExtraIncome = d.IsExtraIncome
	tx.ExtraIncomeType = d.ExtraIncomeType
	return tx
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps an engine error to its status. Server-side failures
// are logged; client errors are only returned.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: message, Details: err.Error()}

	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if status >= http.StatusInternalServerError {
		h.logger().Failed(r.Context(), message, err, logging.FieldOwner, owner(r))
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case ledger.IsClientError(err):
		return http.StatusBadRequest
	case ledger.IsNotFound(err):
		return http.StatusNotFound
	case ledger.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrWatchUnsupported):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
