package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// OUTSTANDING CREDIT
// =============================================================================

// Outstanding returns unpaid credit transactions, newest first. An empty
// typ returns both receivables (sales) and payables (purchases).
func Outstanding(txs []Transaction, typ TransactionType) []Transaction {
	out := []Transaction{}
	for _, tx := range txs {
		if !tx.IsCredit || tx.IsPaid {
			continue
		}
		if typ != "" && tx.Type != typ {
			continue
		}
		out = append(out, tx)
	}
	return out
}

// OutstandingCredits reads the ledger and filters it with Outstanding.
func (e *Engine) OutstandingCredits(ctx context.Context, owner OwnerID, typ TransactionType) ([]Transaction, error) {
	if typ != "" && !typ.Valid() {
		return nil, invalid("type", ReasonType)
	}
	txs, err := e.ListTransactions(ctx, owner)
	if err != nil {
		return nil, err
	}
	return Outstanding(txs, typ), nil
}

// =============================================================================
// REPORT
// =============================================================================

// ReportFilter selects transactions for a report. Zero From/To leave that
// side open. To is a calendar day: the whole day is included.
type ReportFilter struct {
	From time.Time
	To   time.Time
	Type TransactionType
}

// ReportRow is one transaction with its capital/profit split. Split is
// false for purchases and expenses, which carry no split.
type ReportRow struct {
	Transaction Transaction     `json:"transaction"`
	Split       bool            `json:"split"`
	Capital     decimal.Decimal `json:"capital"`
	Profit      decimal.Decimal `json:"profit"`
}

// Report holds rows newest first plus column totals.
type Report struct {
	Rows         []ReportRow     `json:"rows"`
	TotalAmount  decimal.Decimal `json:"totalAmount"`
	TotalCapital decimal.Decimal `json:"totalCapital"`
	TotalProfit  decimal.Decimal `json:"totalProfit"`
}

// includes applies the filter. Day boundaries use loc.
func (f ReportFilter) includes(tx Transaction, loc *time.Location) bool {
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	at := tx.Date.In(loc)
	if !f.From.IsZero() && at.Before(startOfDay(f.From, loc)) {
		return false
	}
	if !f.To.IsZero() && !at.Before(startOfDay(f.To, loc).AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// BuildReport filters txs and splits every sale by profitPercentage. Extra
// income goes whole to its bucket. Credit status is ignored: a report row
// shows the sale's nominal split.
func BuildReport(txs []Transaction, filter ReportFilter, profitPercentage decimal.Decimal, loc *time.Location) Report {
	if loc == nil {
		loc = time.UTC
	}
	r := Report{Rows: []ReportRow{}}
	for _, tx := range txs {
		if !filter.includes(tx, loc) {
			continue
		}
		row := ReportRow{Transaction: tx}
		if tx.Type == Sale {
			split := CalculateImpact(tx.Type, tx.Amount, false, tx.IsExtraIncome, tx.ExtraIncomeType, profitPercentage)
			row.Split = true
			row.Capital = split.Capital
			row.Profit = split.Profit
			r.TotalCapital = r.TotalCapital.Add(split.Capital)
			r.TotalProfit = r.TotalProfit.Add(split.Profit)
		}
		r.TotalAmount = r.TotalAmount.Add(tx.Amount)
		r.Rows = append(r.Rows, row)
	}
	return r
}

func (e *Engine) Report(ctx context.Context, owner OwnerID, filter ReportFilter) (Report, error) {
	if err := checkOwner(owner); err != nil {
		return Report{}, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return Report{}, invalid("type", ReasonType)
	}
	txs, settings, err := e.store.Snapshot(ctx, owner)
	if err != nil {
		return Report{}, storeErr("snapshot", owner, err)
	}
	return BuildReport(txs, filter, settings.ProfitPercentage, e.Location), nil
}

// =============================================================================
// DAILY SALES
// =============================================================================

// DailySales is the per-day sale total of one calendar month.
type DailySales struct {
	Year  int                     `json:"year"`
	Month time.Month              `json:"month"`
	Days  int                     `json:"days"`
	Total map[int]decimal.Decimal `json:"total"`
	Max   decimal.Decimal         `json:"max"`
}

// SalesByDay totals sales per day of month. Days without sales are absent
// from Total.
func SalesByDay(txs []Transaction, year int, month time.Month, loc *time.Location) DailySales {
	if loc == nil {
		loc = time.UTC
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	ds := DailySales{
		Year:  year,
		Month: month,
		Days:  first.AddDate(0, 1, -1).Day(),
		Total: make(map[int]decimal.Decimal),
	}
	for _, tx := range txs {
		if tx.Type != Sale {
			continue
		}
		y, m, d := tx.Date.In(loc).Date()
		if y != year || m != month {
			continue
		}
		v := ds.Total[d].Add(tx.Amount)
		ds.Total[d] = v
		if v.GreaterThan(ds.Max) {
			ds.Max = v
		}
	}
	return ds
}

func (e *Engine) DailySales(ctx context.Context, owner OwnerID, year int, month time.Month) (DailySales, error) {
	if month < time.January || month > time.December {
		return DailySales{}, invalid("month", ReasonMonth)
	}
	txs, err := e.ListTransactions(ctx, owner)
	if err != nil {
		return DailySales{}, err
	}
	return SalesByDay(txs, year, month, e.Location), nil
}
