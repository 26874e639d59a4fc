/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Domain values are
  decimal.Decimal; the wire carries float64 so browser clients can do
  arithmetic on them directly.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/capital-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// TransactionRequest is the body of create and edit.
type TransactionRequest struct {
	Amount          float64 `json:"amount"`
	Description     string  `json:"description"`
	Type            string  `json:"type"`
	IsCredit        bool    `json:"is_credit"`
	ClientName      string  `json:"client_name,omitempty"`
	IsExtraIncome   bool    `json:"is_extra_income"`
	ExtraIncomeType string  `json:"extra_income_type,omitempty"`

	ProfitPercentage *float64 `json:"profit_percentage,omitempty"`
}

// EditTransactionRequest replaces the editable fields of a transaction.
// Expected, when set, is the caller's view of the fields before the edit;
// the edit is refused with 409 if the stored record no longer matches.
type EditTransactionRequest struct {
	TransactionRequest
	Expected *TransactionRequest `json:"expected,omitempty"`
}

// PaymentRequest records a payment against a credit transaction.
type PaymentRequest struct {
	Amount           float64  `json:"amount"`
	Note             string   `json:"note,omitempty"`
	ProfitPercentage *float64 `json:"profit_percentage,omitempty"`
}

// SettingsDTO is both the body of PUT settings and its response.
type SettingsDTO struct {
	ProfitPercentage float64 `json:"profit_percentage"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// TransactionDTO represents a ledger transaction.
type TransactionDTO struct {
	ID              string       `json:"id"`
	Date            string       `json:"date"`
	Amount          float64      `json:"amount"`
	Description     string       `json:"description"`
	Type            string       `json:"type"`
	IsCredit        bool         `json:"is_credit"`
	IsPaid          bool         `json:"is_paid"`
	AmountPaid      float64      `json:"amount_paid"`
	Remaining       float64      `json:"remaining,omitempty"`
	ClientName      string       `json:"client_name,omitempty"`
	Payments        []PaymentDTO `json:"payments,omitempty"`
	IsExtraIncome   bool         `json:"is_extra_income"`
	ExtraIncomeType string       `json:"extra_income_type,omitempty"`
}

// PaymentDTO represents one payment of a credit transaction.
type PaymentDTO struct {
	ID     string  `json:"id"`
	Date   string  `json:"date"`
	Amount float64 `json:"amount"`
	Note   string  `json:"note,omitempty"`
}

// SummaryDTO is the owner's running capital and profit.
type SummaryDTO struct {
	Owner              string  `json:"owner"`
	AvailableCapital   float64 `json:"available_capital"`
	AccumulatedProfits float64 `json:"accumulated_profits"`
}

// DriftDTO compares the stored summary with a fresh fold of the ledger.
type DriftDTO struct {
	Owner             string     `json:"owner"`
	Stored            SummaryDTO `json:"stored"`
	Expected          SummaryDTO `json:"expected"`
	Drifted           bool       `json:"drifted"`
	CapitalDifference float64    `json:"capital_difference"`
	ProfitDifference  float64    `json:"profit_difference"`
	Repaired          bool       `json:"repaired,omitempty"`
}

// ReportRowDTO is one report line with its capital/profit split.
type ReportRowDTO struct {
	Transaction TransactionDTO `json:"transaction"`
	Split       bool           `json:"split"`
	Capital     float64        `json:"capital"`
	Profit      float64        `json:"profit"`
}

// ReportDTO is a filtered list of transactions with totals.
type ReportDTO struct {
	From         string         `json:"from,omitempty"`
	To           string         `json:"to,omitempty"`
	Type         string         `json:"type,omitempty"`
	Rows         []ReportRowDTO `json:"rows"`
	TotalAmount  float64        `json:"total_amount"`
	TotalCapital float64        `json:"total_capital"`
	TotalProfit  float64        `json:"total_profit"`
}

// DayTotalDTO is the sale total of one day.
type DayTotalDTO struct {
	Day   int     `json:"day"`
	Total float64 `json:"total"`
}

// DailySalesDTO lists every day of the month, zero when there were no sales.
type DailySalesDTO struct {
	Year  int           `json:"year"`
	Month int           `json:"month"`
	Days  []DayTotalDTO `json:"days"`
	Total float64       `json:"total"`
	Max   float64       `json:"max"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func (r TransactionRequest) draft() (ledger.Draft, error) {
	amount, err := ledger.AmountFromFloat(r.Amount)
	if err != nil {
		return ledger.Draft{}, err
	}
	return ledger.Draft{
		Amount:          amount,
		Description:     r.Description,
		Type:            ledger.TransactionType(r.Type),
		IsCredit:        r.IsCredit,
		ClientName:      r.ClientName,
		IsExtraIncome:   r.IsExtraIncome,
		ExtraIncomeType: ledger.ExtraIncomeTarget(r.ExtraIncomeType),
	}, nil
}

func percentage(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:              string(tx.ID),
		Date:            tx.Date.Format(time.RFC3339Nano),
		Amount:          tx.Amount.InexactFloat64(),
		Description:     tx.Description,
		Type:            string(tx.Type),
		IsCredit:        tx.IsCredit,
		IsPaid:          tx.IsPaid,
		AmountPaid:      tx.AmountPaid.InexactFloat64(),
		ClientName:      tx.ClientName,
		IsExtraIncome:   tx.IsExtraIncome,
		ExtraIncomeType: string(tx.ExtraIncomeType),
	}
	if tx.IsCredit {
		dto.Remaining = tx.Remaining().InexactFloat64()
		dto.Payments = make([]PaymentDTO, len(tx.Payments))
		for i, p := range tx.Payments {
			dto.Payments[i] = PaymentDTO{
				ID:     string(p.ID),
				Date:   p.Date.Format(time.RFC3339Nano),
				Amount: p.Amount.InexactFloat64(),
				Note:   p.Note,
			}
		}
	}
	return dto
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	return dtos
}

func toSummaryDTO(owner ledger.OwnerID, s ledger.Summary) SummaryDTO {
	return SummaryDTO{
		Owner:              string(owner),
		AvailableCapital:   s.AvailableCapital.InexactFloat64(),
		AccumulatedProfits: s.AccumulatedProfits.InexactFloat64(),
	}
}

func toSettingsDTO(s ledger.Settings) SettingsDTO {
	return SettingsDTO{ProfitPercentage: s.ProfitPercentage.InexactFloat64()}
}

func toDriftDTO(r ledger.DriftReport) DriftDTO {
	return DriftDTO{
		Owner:             string(r.Owner),
		Stored:            toSummaryDTO(r.Owner, r.Stored),
		Expected:          toSummaryDTO(r.Owner, r.Expected),
		Drifted:           r.Drifted,
		CapitalDifference: r.Difference.Capital.InexactFloat64(),
		ProfitDifference:  r.Difference.Profit.InexactFloat64(),
	}
}

func toReportDTO(r ledger.Report, f ledger.ReportFilter) ReportDTO {
	dto := ReportDTO{
		Type:         string(f.Type),
		Rows:         make([]ReportRowDTO, len(r.Rows)),
		TotalAmount:  r.TotalAmount.InexactFloat64(),
		TotalCapital: r.TotalCapital.InexactFloat64(),
		TotalProfit:  r.TotalProfit.InexactFloat64(),
	}
	if !f.From.IsZero() {
		dto.From = f.From.Format(dateLayout)
	}
	if !f.To.IsZero() {
		dto.To = f.To.Format(dateLayout)
	}
	for i, row := range r.Rows {
		dto.Rows[i] = ReportRowDTO{
			Transaction: toTransactionDTO(row.Transaction),
			Split:       row.Split,
			Capital:     row.Capital.InexactFloat64(),
			Profit:      row.Profit.InexactFloat64(),
		}
	}
	return dto
}

func toDailySalesDTO(ds ledger.DailySales) DailySalesDTO {
	dto := DailySalesDTO{
		Year:  ds.Year,
		Month: int(ds.Month),
		Days:  make([]DayTotalDTO, ds.Days),
		Max:   ds.Max.InexactFloat64(),
	}
	total := decimal.Zero
	for day := 1; day <= ds.Days; day++ {
		v := ds.Total[day]
		total = total.Add(v)
		dto.Days[day-1] = DayTotalDTO{Day: day, Total: v.InexactFloat64()}
	}
	dto.Total = total.InexactFloat64()
	return dto
}
