package ledger

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Validate checks a draft's shape before it is admitted to the ledger.
// Rules are checked in order and the first failure wins. It has no side
// effects and returns nil or a *ValidationError.
func Validate(d Draft) error {
	if !d.Amount.IsPositive() {
		return invalid("amount", ReasonAmount)
	}
	if strings.TrimSpace(d.Description) == "" {
		return invalid("description", ReasonDescription)
	}
	if !d.Type.Valid() {
		return invalid("type", ReasonType)
	}
	if d.IsCredit && d.Type == Expense {
		return invalid("isCredit", ReasonCreditType)
	}
	if d.IsCredit && strings.TrimSpace(d.ClientName) == "" {
		return invalid("clientName", ReasonClientName)
	}
	if d.IsExtraIncome {
		if d.Type != Sale {
			return invalid("isExtraIncome", ReasonExtraIncomeSale)
		}
		if !d.ExtraIncomeType.Valid() {
			return invalid("extraIncomeType", ReasonExtraIncomeType)
		}
	}
	return nil
}

// ValidateSettings rejects a profit percentage outside [0, 100].
func ValidateSettings(s Settings) error {
	if s.ProfitPercentage.IsNegative() || s.ProfitPercentage.GreaterThan(hundred) {
		return invalid("profitPercentage", ReasonPercentage)
	}
	return nil
}

// AmountFromFloat converts a wire amount to a decimal. Only NaN and
// infinities are rejected here; the sign is checked by the operation that
// receives the amount so it can report its own reason.
func AmountFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, invalid("amount", ReasonAmount)
	}
	return decimal.NewFromFloat(f), nil
}

// normalize trims free text the way it is persisted.
func (d Draft) normalize() Draft {
	d.Description = strings.TrimSpace(d.Description)
	d.ClientName = strings.TrimSpace(d.ClientName)
	if !d.IsExtraIncome {
		d.ExtraIncomeType = ""
	}
	return d
}
