/*
impact.go - Financial impact of transactions and payments

PURPOSE:
  Maps a transaction (or a payment against one) to the (capital, profit)
  delta it contributes to the Summary. Everything here is pure.

TRANSACTION RULE (first match wins):
  1. Credit                      -> (0, 0)  realized later through payments
  2. Extra income, capital       -> (amount, 0)
  3. Extra income, profit        -> (0, amount)
  4. Sale                        -> (amount - p, p) with p = amount * pct / 100
     Purchase                    -> (-amount, 0)
     Expense                     -> (0, -amount)

PAYMENT RULE:
  Purchase or Expense            -> (-amount, 0)
  Sale                           -> (amount - p, p) with p = amount * pct / 100

EXAMPLE:
  pct = 20, Sale 100             -> capital +80, profit +20
  pct = 20, credit Sale 200      -> (0, 0); payment 100 -> capital +80, profit +20
*/
package ledger

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Impact is the (capital, profit) delta applied to a Summary.
type Impact struct {
	Capital decimal.Decimal
	Profit  decimal.Decimal
}

func (i Impact) Add(o Impact) Impact {
	return Impact{Capital: i.Capital.Add(o.Capital), Profit: i.Profit.Add(o.Profit)}
}

func (i Impact) Sub(o Impact) Impact { return i.Add(o.Neg()) }
func (i Impact) Neg() Impact         { return Impact{Capital: i.Capital.Neg(), Profit: i.Profit.Neg()} }
func (i Impact) IsZero() bool        { return i.Capital.IsZero() && i.Profit.IsZero() }

// CalculateImpact applies the transaction rule.
func CalculateImpact(
	typ TransactionType,
	amount decimal.Decimal,
	isCredit bool,
	isExtraIncome bool,
	extraIncomeType ExtraIncomeTarget,
	profitPercentage decimal.Decimal,
) Impact {
	switch {
	case isCredit:
		return Impact{}
	case isExtraIncome && extraIncomeType == ExtraIncomeCapital:
		return Impact{Capital: amount}
	case isExtraIncome && extraIncomeType == ExtraIncomeProfit:
		return Impact{Profit: amount}
	}

	switch typ {
	case Sale:
		return splitSale(amount, profitPercentage)
	case Purchase:
		return Impact{Capital: amount.Neg()}
	case Expense:
		return Impact{Profit: amount.Neg()}
	}
	return Impact{}
}

// PaymentImpact applies the payment rule for a payment of amount against a
// credit transaction of the given type.
func PaymentImpact(typ TransactionType, amount, profitPercentage decimal.Decimal) Impact {
	if typ == Purchase || typ == Expense {
		return Impact{Capital: amount.Neg()}
	}
	return splitSale(amount, profitPercentage)
}

func splitSale(amount, profitPercentage decimal.Decimal) Impact {
	profit := amount.Mul(profitPercentage).Div(hundred)
	return Impact{Capital: amount.Sub(profit), Profit: profit}
}

// Impact returns the immediate contribution of the draft.
func (d Draft) Impact(profitPercentage decimal.Decimal) Impact {
	return CalculateImpact(d.Type, d.Amount, d.IsCredit, d.IsExtraIncome, d.ExtraIncomeType, profitPercentage)
}

// Impact returns the immediate contribution of t, excluding its payments.
func (t Transaction) Impact(profitPercentage decimal.Decimal) Impact {
	return t.Draft().Impact(profitPercentage)
}

// PaymentsImpact folds the payment rule over t's payments. Payments only
// count while t is a credit transaction.
func (t Transaction) PaymentsImpact(profitPercentage decimal.Decimal) Impact {
	var total Impact
	if !t.IsCredit {
		return total
	}
	for _, p := range t.Payments {
		total = total.Add(PaymentImpact(t.Type, p.Amount, profitPercentage))
	}
	return total
}

// TotalImpact is everything t currently contributes to the Summary.
func (t Transaction) TotalImpact(profitPercentage decimal.Decimal) Impact {
	return t.Impact(profitPercentage).Add(t.PaymentsImpact(profitPercentage))
}
