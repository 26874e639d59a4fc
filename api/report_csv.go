package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/warp/capital-ledger/ledger"
	"github.com/warp/capital-ledger/logging"
)

var reportCSVHeader = []string{
	"id", "date", "type", "description", "amount", "capital", "profit",
	"credit", "paid", "client", "extra_income",
}

// writeReportCSV renders report as CSV with a trailing totals row.
func (h *Handler) writeReportCSV(w http.ResponseWriter, r *http.Request, report ledger.Report) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "report-"+string(owner(r))+".csv"))
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	cw.Write(reportCSVHeader)
	for _, row := range report.Rows {
		tx := row.Transaction
		capital, profit := "", ""
		if row.Split {
			capital = row.Capital.StringFixed(2)
			profit = row.Profit.StringFixed(2)
		}
		cw.Write([]string{
			string(tx.ID),
			tx.Date.In(h.location()).Format(dateLayout),
			string(tx.Type),
			tx.Description,
			tx.Amount.StringFixed(2),
			capital,
			profit,
			strconv.FormatBool(tx.IsCredit),
			strconv.FormatBool(tx.IsPaid),
			tx.ClientName,
			string(tx.ExtraIncomeType),
		})
	}
	cw.Write([]string{
		"total", "", "", "",
		report.TotalAmount.StringFixed(2),
		report.TotalCapital.StringFixed(2),
		report.TotalProfit.StringFixed(2),
		"", "", "", "",
	})
	cw.Flush()
	if err := cw.Error(); err != nil {
		h.logger().Failed(r.Context(), "Failed to write CSV report", err, logging.FieldOwner, owner(r))
	}
}
