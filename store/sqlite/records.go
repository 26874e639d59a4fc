package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/capital-ledger/ledger"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// timeLayout is fixed-width so text order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand may use plain RFC 3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

const transactionColumns = `
	id, date, amount, description, tx_type, is_credit, is_paid, amount_paid,
	client_name, payments_json, is_extra_income, extra_income_type, version`

// =============================================================================
// TRANSACTION ROWS
// =============================================================================

func insertTransaction(ctx context.Context, q querier, owner ledger.OwnerID, tx ledger.Transaction) (ledger.Transaction, error) {
	if tx.ID == "" {
		tx.ID = ledger.TransactionID(uuid.NewString())
	}
	payments, err := encodePayments(tx.Payments)
	if err != nil {
		return ledger.Transaction{}, err
	}

	query := `
		INSERT INTO transactions
		(owner_id, id, date, amount, description, tx_type, is_credit, is_paid, amount_paid,
		 client_name, payments_json, is_extra_income, extra_income_type, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	_, err = q.ExecContext(ctx, query,
		owner,
		tx.ID,
		formatTime(tx.Date),
		tx.Amount.String(),
		tx.Description,
		tx.Type,
		tx.IsCredit,
		tx.IsPaid,
		tx.AmountPaid.String(),
		nullString(tx.ClientName),
		payments,
		tx.IsExtraIncome,
		nullString(string(tx.ExtraIncomeType)),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ledger.Transaction{}, fmt.Errorf("transaction %s already exists: %w", tx.ID, err)
		}
		return ledger.Transaction{}, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return tx, nil
}

func getTransaction(ctx context.Context, q querier, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, int64, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE owner_id = ? AND id = ?`,
		owner, id,
	)
	tx, version, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Transaction{}, 0, ledger.ErrTransactionNotFound
	}
	return tx, version, err
}

func listTransactions(ctx context.Context, q querier, owner ledger.OwnerID) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE owner_id = ? ORDER BY date DESC, id DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []ledger.Transaction{}
	for rows.Next() {
		tx, _, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// casTransaction writes tx only if the stored version is still version.
func casTransaction(ctx context.Context, q querier, owner ledger.OwnerID, version int64, tx ledger.Transaction) (bool, error) {
	payments, err := encodePayments(tx.Payments)
	if err != nil {
		return false, err
	}

	query := `
		UPDATE transactions SET
			amount = ?, description = ?, tx_type = ?, is_credit = ?, is_paid = ?,
			amount_paid = ?, client_name = ?, payments_json = ?, is_extra_income = ?,
			extra_income_type = ?, version = version + 1
		WHERE owner_id = ? AND id = ? AND version = ?
	`
	res, err := q.ExecContext(ctx, query,
		tx.Amount.String(),
		tx.Description,
		tx.Type,
		tx.IsCredit,
		tx.IsPaid,
		tx.AmountPaid.String(),
		nullString(tx.ClientName),
		payments,
		tx.IsExtraIncome,
		nullString(string(tx.ExtraIncomeType)),
		owner, tx.ID, version,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func deleteTransaction(ctx context.Context, q querier, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	removed, _, err := getTransaction(ctx, q, owner, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM transactions WHERE owner_id = ? AND id = ?`, owner, id); err != nil {
		return ledger.Transaction{}, fmt.Errorf("failed to delete transaction: %w", err)
	}
	return removed, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row scanner) (ledger.Transaction, int64, error) {
	var (
		tx              ledger.Transaction
		date            string
		amount          string
		amountPaid      string
		clientName      sql.NullString
		paymentsJSON    sql.NullString
		extraIncomeType sql.NullString
		version         int64
	)

	err := row.Scan(
		&tx.ID, &date, &amount, &tx.Description, &tx.Type,
		&tx.IsCredit, &tx.IsPaid, &amountPaid, &clientName, &paymentsJSON,
		&tx.IsExtraIncome, &extraIncomeType, &version,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tx, 0, err
		}
		return tx, 0, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if tx.Date, err = parseTime(date); err != nil {
		return tx, 0, fmt.Errorf("transaction %s: bad date: %w", tx.ID, err)
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, 0, fmt.Errorf("transaction %s: bad amount: %w", tx.ID, err)
	}
	if tx.AmountPaid, err = decimal.NewFromString(amountPaid); err != nil {
		return tx, 0, fmt.Errorf("transaction %s: bad amount_paid: %w", tx.ID, err)
	}
	tx.ClientName = clientName.String
	tx.ExtraIncomeType = ledger.ExtraIncomeTarget(extraIncomeType.String)

	if paymentsJSON.Valid && paymentsJSON.String != "" {
		if err := json.Unmarshal([]byte(paymentsJSON.String), &tx.Payments); err != nil {
			return tx, 0, fmt.Errorf("transaction %s: bad payments: %w", tx.ID, err)
		}
	}
	return tx, version, nil
}

// encodePayments stores nil as NULL so a non-credit row round-trips
// without a payments slice.
func encodePayments(payments []ledger.PaymentRecord) (sql.NullString, error) {
	if payments == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(payments)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode payments: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// =============================================================================
// SUMMARY ROWS
// =============================================================================

func getSummary(ctx context.Context, q querier, owner ledger.OwnerID) (ledger.Summary, int64, bool, error) {
	var (
		capital, profits string
		version          int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT available_capital, accumulated_profits, version FROM summaries WHERE owner_id = ?`,
		owner,
	).Scan(&capital, &profits, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Summary{}, 0, false, nil
	}
	if err != nil {
		return ledger.Summary{}, 0, false, fmt.Errorf("failed to read summary: %w", err)
	}

	var sum ledger.Summary
	if sum.AvailableCapital, err = decimal.NewFromString(capital); err != nil {
		return ledger.Summary{}, 0, false, fmt.Errorf("summary: bad available_capital: %w", err)
	}
	if sum.AccumulatedProfits, err = decimal.NewFromString(profits); err != nil {
		return ledger.Summary{}, 0, false, fmt.Errorf("summary: bad accumulated_profits: %w", err)
	}
	return sum, version, true, nil
}

// seedSummary inserts a zero summary if the owner has none.
func seedSummary(ctx context.Context, q querier, owner ledger.OwnerID) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO summaries (owner_id, available_capital, accumulated_profits, version, updated_at)
		 VALUES (?, '0', '0', 1, ?)`,
		owner, formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed summary: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func casSummary(ctx context.Context, q querier, owner ledger.OwnerID, version int64, sum ledger.Summary) (bool, error) {
	res, err := q.ExecContext(ctx,
		`UPDATE summaries SET available_capital = ?, accumulated_profits = ?, version = version + 1, updated_at = ?
		 WHERE owner_id = ? AND version = ?`,
		sum.AvailableCapital.String(), sum.AccumulatedProfits.String(), formatTime(time.Now()),
		owner, version,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update summary: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func putSummary(ctx context.Context, q querier, owner ledger.OwnerID, sum ledger.Summary) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO summaries (owner_id, available_capital, accumulated_profits, version, updated_at)
		 VALUES (?, ?, ?, 1, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET
			available_capital = excluded.available_capital,
			accumulated_profits = excluded.accumulated_profits,
			version = summaries.version + 1,
			updated_at = excluded.updated_at`,
		owner, sum.AvailableCapital.String(), sum.AccumulatedProfits.String(), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	return nil
}

// =============================================================================
// SETTINGS ROWS
// =============================================================================

func getSettings(ctx context.Context, q querier, owner ledger.OwnerID) (ledger.Settings, bool, error) {
	var pct string
	err := q.QueryRowContext(ctx,
		`SELECT profit_percentage FROM settings WHERE owner_id = ?`, owner,
	).Scan(&pct)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Settings{}, false, nil
	}
	if err != nil {
		return ledger.Settings{}, false, fmt.Errorf("failed to read settings: %w", err)
	}

	value, err := decimal.NewFromString(pct)
	if err != nil {
		return ledger.Settings{}, false, fmt.Errorf("settings: bad profit_percentage: %w", err)
	}
	return ledger.Settings{ProfitPercentage: value}, true, nil
}

func seedSettings(ctx context.Context, q querier, owner ledger.OwnerID, seed ledger.Settings) (bool, error) {
	res, err := q.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings (owner_id, profit_percentage, updated_at) VALUES (?, ?, ?)`,
		owner, seed.ProfitPercentage.String(), formatTime(time.Now()),
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed settings: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func putSettings(ctx context.Context, q querier, owner ledger.OwnerID, s ledger.Settings) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO settings (owner_id, profit_percentage, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(owner_id) DO UPDATE SET
			profit_percentage = excluded.profit_percentage,
			updated_at = excluded.updated_at`,
		owner, s.ProfitPercentage.String(), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// =============================================================================
// OWNERS
// =============================================================================

func listOwners(ctx context.Context, q querier) ([]ledger.OwnerID, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT owner_id FROM transactions
		UNION SELECT owner_id FROM summaries
		UNION SELECT owner_id FROM settings
		ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list owners: %w", err)
	}
	defer rows.Close()

	owners := []ledger.OwnerID{}
	for rows.Next() {
		var o ledger.OwnerID
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "duplicate key"))
}
