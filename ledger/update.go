package ledger

// TransactionUpdate is a closed set of diffs a store may apply to a stored
// transaction inside its atomic read-modify-write.
//
// Implementations: EditFields, AppendPayment.
type TransactionUpdate interface {
	// Apply mutates tx in place. A returned error aborts the update.
	Apply(tx *Transaction) error

	isTransactionUpdate()
}

// EditFields replaces exactly the editable fields of a transaction.
// When Expect is set, the update is refused with ErrConcurrentModification
// if the stored editable fields differ from it.
type EditFields struct {
	Fields Draft
	Expect *Draft
}

func (EditFields) isTransactionUpdate() {}

func (e EditFields) Apply(tx *Transaction) error {
	if e.Expect != nil && !sameDraft(tx.Draft(), *e.Expect) {
		return ErrConcurrentModification
	}
	f := e.Fields
	tx.Amount = f.Amount
	tx.Description = f.Description
	tx.Type = f.Type
	tx.IsCredit = f.IsCredit
	tx.ClientName = f.ClientName
	tx.IsExtraIncome = f.IsExtraIncome
	tx.ExtraIncomeType = f.ExtraIncomeType
	if tx.IsCredit {
		tx.IsPaid = tx.AmountPaid.GreaterThanOrEqual(tx.Amount)
	}
	return nil
}

// AppendPayment records one payment against a credit transaction. The
// amount is checked against the remaining debt of the stored record.
type AppendPayment struct {
	Payment PaymentRecord
}

func (AppendPayment) isTransactionUpdate() {}

func (a AppendPayment) Apply(tx *Transaction) error {
	amount := a.Payment.Amount
	if !amount.IsPositive() {
		return invalid("amount", ReasonPaymentAmount)
	}
	if !tx.IsCredit {
		return invalid("isCredit", ReasonPaymentNotCredit)
	}
	if amount.GreaterThan(tx.Remaining()) {
		return invalid("amount", ReasonPaymentExceeds)
	}
	tx.Payments = append(tx.Payments, a.Payment)
	tx.AmountPaid = tx.AmountPaid.Add(amount)
	tx.IsPaid = tx.AmountPaid.GreaterThanOrEqual(tx.Amount)
	return nil
}

func sameDraft(a, b Draft) bool {
	return a.Amount.Equal(b.Amount) &&
		a.Description == b.Description &&
		a.Type == b.Type &&
		a.IsCredit == b.IsCredit &&
		a.ClientName == b.ClientName &&
		a.IsExtraIncome == b.IsExtraIncome &&
		a.ExtraIncomeType == b.ExtraIncomeType
}
