/*
Package ledger provides the bookkeeping engine for a single-owner ledger.

PURPOSE:
  Tracks three kinds of transactions (sale, purchase, expense), splits every
  realized sale into a capital part and a profit part, and keeps a running
  FinancialSummary that must always equal the fold of the ledger.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction:   A ledger entry, optionally on credit with nested payments
  - PaymentRecord: An append-only payment against a credit transaction
  - Summary:       The denormalized (capital, profit) projection
  - Settings:      The owner's profit percentage
  - Draft:         The caller-supplied shape of a transaction before admission

DESIGN PRINCIPLES:
  1. Precision: Amounts are decimal.Decimal, never float64
  2. Projection: Summary is derived state; Recompute rebuilds it from scratch
  3. Type Safety: Owner, transaction and payment IDs are distinct types

SEE ALSO:
  - impact.go: (capital, profit) deltas per transaction and per payment
  - engine.go: Create / Edit / Delete / AddPayment
  - recompute.go: Full fold over the ledger
*/
package ledger

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OwnerID string
type TransactionID string
type PaymentID string

// =============================================================================
// ENUMERATIONS
// =============================================================================

type TransactionType string

const (
	Sale     TransactionType = "sale"
	Purchase TransactionType = "purchase"
	Expense  TransactionType = "expense"
)

// Valid reports whether t is one of the three known kinds.
func (t TransactionType) Valid() bool {
	switch t {
	case Sale, Purchase, Expense:
		return true
	}
	return false
}

// ExtraIncomeTarget names the bucket that receives 100% of an extra income sale.
type ExtraIncomeTarget string

const (
	ExtraIncomeCapital ExtraIncomeTarget = "capital"
	ExtraIncomeProfit  ExtraIncomeTarget = "profit"
)

func (e ExtraIncomeTarget) Valid() bool {
	return e == ExtraIncomeCapital || e == ExtraIncomeProfit
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Transaction is a single ledger entry owned by one ledger owner.
//
// ID and Date are assigned at creation and never change. Payments is
// append-only; AmountPaid is the sum of Payments and IsPaid is derived from
// AmountPaid >= Amount.
type Transaction struct {
	ID          TransactionID   `json:"id"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Type        TransactionType `json:"type"`

	// Credit fields
	IsCredit   bool            `json:"isCredit"`
	IsPaid     bool            `json:"isPaid"`
	AmountPaid decimal.Decimal `json:"amountPaid"`
	ClientName string          `json:"clientName,omitempty"`
	Payments   []PaymentRecord `json:"payments,omitempty"`

	// Extra income fields
	IsExtraIncome   bool              `json:"isExtraIncome"`
	ExtraIncomeType ExtraIncomeTarget `json:"extraIncomeType,omitempty"`
}

// Remaining returns the outstanding debt of a credit transaction.
func (t Transaction) Remaining() decimal.Decimal {
	return t.Amount.Sub(t.AmountPaid)
}

// Draft returns the editable view of t.
func (t Transaction) Draft() Draft {
	return Draft{
		Amount:          t.Amount,
		Description:     t.Description,
		Type:            t.Type,
		IsCredit:        t.IsCredit,
		ClientName:      t.ClientName,
		IsExtraIncome:   t.IsExtraIncome,
		ExtraIncomeType: t.ExtraIncomeType,
	}
}

// Clone returns a copy of t that shares no slice memory with it.
func (t Transaction) Clone() Transaction {
	if t.Payments != nil {
		t.Payments = append([]PaymentRecord(nil), t.Payments...)
	}
	return t
}

// PaymentRecord is an immutable payment against a credit transaction.
type PaymentRecord struct {
	ID     PaymentID       `json:"id"`
	Date   time.Time       `json:"date"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

// =============================================================================
// DRAFT - Caller-supplied transaction before admission
// =============================================================================

// Draft carries exactly the fields a caller may set on create or edit.
type Draft struct {
	Amount          decimal.Decimal
	Description     string
	Type            TransactionType
	IsCredit        bool
	ClientName      string
	IsExtraIncome   bool
	ExtraIncomeType ExtraIncomeTarget
}

// =============================================================================
// SUMMARY & SETTINGS
// =============================================================================

// Summary is the per-owner running total. Either field may be negative.
type Summary struct {
	AvailableCapital   decimal.Decimal `json:"availableCapital"`
	AccumulatedProfits decimal.Decimal `json:"accumulatedProfits"`
}

// Apply returns s shifted by impact.
func (s Summary) Apply(i Impact) Summary {
	return Summary{
		AvailableCapital:   s.AvailableCapital.Add(i.Capital),
		AccumulatedProfits: s.AccumulatedProfits.Add(i.Profit),
	}
}

// Equal compares by value, ignoring decimal exponent differences.
func (s Summary) Equal(o Summary) bool {
	return s.AvailableCapital.Equal(o.AvailableCapital) &&
		s.AccumulatedProfits.Equal(o.AccumulatedProfits)
}

// Settings holds the owner's profit split rule.
type Settings struct {
	ProfitPercentage decimal.Decimal `json:"profitPercentage"`
}

// DefaultProfitPercentage seeds Settings on first read.
var DefaultProfitPercentage = decimal.NewFromInt(20)

// DefaultSettings returns the settings seeded for a new owner.
func DefaultSettings() Settings {
	return Settings{ProfitPercentage: DefaultProfitPercentage}
}

// SortByDateDesc orders txs newest first, breaking ties by ID.
func SortByDateDesc(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.After(txs[j].Date)
		}
		return txs[i].ID > txs[j].ID
	})
}
