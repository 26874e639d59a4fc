/*
engine.go - Reconciliation engine

PURPOSE:
  Orchestrates Validate and the impact rules against a Store for every
  mutating operation, so the Summary stays equal to the fold of the ledger.

PROTOCOL (per operation):
  1. Validate input, nothing written on failure
  2. Write the transaction record (insert / atomic update / delete)
  3. Atomically apply the compensating delta to the Summary

  When the store implements TxStore, steps 2 and 3 run inside one WithTx and
  commit together. Otherwise they are two separate atomic steps; a failure
  between them propagates as a StoreError and leaves drift that
  RecomputeSummary repairs.

EDIT DELTA:
  -(impact(stored) + payments(stored)) + impact(updated) + payments(updated)

  payments(t) is the payment rule folded over t.Payments while t is credit.
  With unchanged type and flags the payment terms cancel out; across a type
  or credit change they keep the Summary equal to the fold.

SEE ALSO:
  - impact.go: Transaction and payment rules
  - recompute.go: Full fold, drift check
  - subscribe.go: Change subscriptions
*/
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/warp/capital-ledger/logging"
)

// Engine runs ledger operations against a Store.
type Engine struct {
	store   Store
	watcher Watcher
	log     *logging.Logger

	// Now stamps transaction and payment dates.
	Now func() time.Time

	// Location is the time zone used for calendar bucketing in reports.
	Location *time.Location
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l.WithComponent(logging.ComponentEngine) }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

// WithWatcher overrides the change source used by subscriptions. By default
// the store itself is used when it implements Watcher.
func WithWatcher(w Watcher) Option {
	return func(e *Engine) { e.watcher = w }
}

func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.Location = loc }
}

func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		log:      logging.Nop(),
		Now:      func() time.Time { return time.Now().UTC() },
		Location: time.UTC,
	}
	if w, ok := store.(Watcher); ok {
		e.watcher = w
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// within runs fn against a transactional view when the store supports one,
// otherwise directly against the store.
func (e *Engine) within(ctx context.Context, fn func(Store) error) error {
	if ts, ok := e.store.(TxStore); ok {
		return ts.WithTx(ctx, fn)
	}
	return fn(e.store)
}

// Transactional reports whether record and summary writes commit together.
func (e *Engine) Transactional() bool {
	_, ok := e.store.(TxStore)
	return ok
}

func applyDelta(ctx context.Context, s Store, owner OwnerID, delta Impact) error {
	_, err := s.UpdateSummary(ctx, owner, func(cur Summary) Summary {
		return cur.Apply(delta)
	})
	return storeErr("update summary", owner, err)
}

func checkOwner(owner OwnerID) error {
	if strings.TrimSpace(string(owner)) == "" {
		return invalid("owner", ReasonOwner)
	}
	return nil
}

func checkPercentage(pct decimal.Decimal) error {
	return ValidateSettings(Settings{ProfitPercentage: pct})
}

// =============================================================================
// CREATE
// =============================================================================

// CreateTransaction admits a draft and applies its impact to the Summary.
// Credit transactions start with AmountPaid 0 and contribute nothing until
// payments are recorded.
func (e *Engine) CreateTransaction(ctx context.Context, owner OwnerID, d Draft, profitPercentage decimal.Decimal) (Transaction, error) {
	if err := checkOwner(owner); err != nil {
		return Transaction{}, err
	}
	if err := Validate(d); err != nil {
		return Transaction{}, err
	}
	if err := checkPercentage(profitPercentage); err != nil {
		return Transaction{}, err
	}
	d = d.normalize()

	tx := Transaction{
		Date:            e.Now(),
		Amount:          d.Amount,
		Description:     d.Description,
		Type:            d.Type,
		IsCredit:        d.IsCredit,
		AmountPaid:      decimal.Zero,
		ClientName:      d.ClientName,
		IsExtraIncome:   d.IsExtraIncome,
		ExtraIncomeType: d.ExtraIncomeType,
	}
	if tx.IsCredit {
		tx.Payments = []PaymentRecord{}
	}
	delta := d.Impact(profitPercentage)

	var stored Transaction
	err := e.within(ctx, func(s Store) error {
		var err error
		stored, err = s.InsertTransaction(ctx, owner, tx)
		if err != nil {
			return storeErr("insert transaction", owner, err)
		}
		return applyDelta(ctx, s, owner, delta)
	})
	if err != nil {
		e.log.Failed(ctx, "create transaction failed", err, logging.FieldOwner, owner)
		return Transaction{}, err
	}

	e.log.InfoContext(ctx, "transaction created",
		logging.FieldOwner, owner,
		logging.FieldTransaction, stored.ID,
		"type", stored.Type,
		logging.FieldCapital, delta.Capital.String(),
		logging.FieldProfit, delta.Profit.String(),
	)
	return stored, nil
}

// =============================================================================
// EDIT
// =============================================================================

// EditTransaction replaces the editable fields of original with updated.
//
// The stored record is the reversal base. If its editable fields no longer
// match original, nothing is written and ErrConcurrentModification is
// returned. The returned transaction is the record after the edit.
func (e *Engine) EditTransaction(ctx context.Context, owner OwnerID, original Transaction, updated Draft, profitPercentage decimal.Decimal) (Transaction, error) {
	if err := checkOwner(owner); err != nil {
		return Transaction{}, err
	}
	if err := Validate(updated); err != nil {
		return Transaction{}, err
	}
	if err := checkPercentage(profitPercentage); err != nil {
		return Transaction{}, err
	}
	expect := original.Draft().normalize()
	upd := EditFields{Fields: updated.normalize(), Expect: &expect}

	var (
		after Transaction
		delta Impact
	)
	err := e.within(ctx, func(s Store) error {
		before, next, err := s.UpdateTransaction(ctx, owner, original.ID, upd)
		if err != nil {
			return storeErr("update transaction", owner, err)
		}
		after = next
		delta = next.TotalImpact(profitPercentage).Sub(before.TotalImpact(profitPercentage))
		return applyDelta(ctx, s, owner, delta)
	})
	if err != nil {
		e.log.Failed(ctx, "edit transaction failed", err,
			logging.FieldOwner, owner, logging.FieldTransaction, original.ID)
		return Transaction{}, err
	}

	e.log.InfoContext(ctx, "transaction edited",
		logging.FieldOwner, owner,
		logging.FieldTransaction, after.ID,
		logging.FieldCapital, delta.Capital.String(),
		logging.FieldProfit, delta.Profit.String(),
	)
	return after, nil
}

// =============================================================================
// DELETE
// =============================================================================

// DeleteTransaction removes tx and reverses everything it contributed,
// including its payments. Payments are reversed with profitPercentage, not
// the percentage in effect when each was recorded, so a percentage change
// in between leaves a residue only RecomputeSummary clears.
func (e *Engine) DeleteTransaction(ctx context.Context, owner OwnerID, tx Transaction, profitPercentage decimal.Decimal) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	if err := checkPercentage(profitPercentage); err != nil {
		return err
	}

	var delta Impact
	err := e.within(ctx, func(s Store) error {
		removed, err := s.DeleteTransaction(ctx, owner, tx.ID)
		if err != nil {
			return storeErr("delete transaction", owner, err)
		}
		delta = removed.TotalImpact(profitPercentage).Neg()
		return applyDelta(ctx, s, owner, delta)
	})
	if err != nil {
		e.log.Failed(ctx, "delete transaction failed", err,
			logging.FieldOwner, owner, logging.FieldTransaction, tx.ID)
		return err
	}

	e.log.InfoContext(ctx, "transaction deleted",
		logging.FieldOwner, owner,
		logging.FieldTransaction, tx.ID,
		logging.FieldCapital, delta.Capital.String(),
		logging.FieldProfit, delta.Profit.String(),
	)
	return nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

// AddPayment records a payment against a credit transaction and realizes
// its impact. The amount is checked against the remaining debt of the
// stored record inside the atomic update.
func (e *Engine) AddPayment(ctx context.Context, owner OwnerID, id TransactionID, amount decimal.Decimal, note string, profitPercentage decimal.Decimal) (Transaction, error) {
	if err := checkOwner(owner); err != nil {
		return Transaction{}, err
	}
	if !amount.IsPositive() {
		return Transaction{}, invalid("amount", ReasonPaymentAmount)
	}
	if err := checkPercentage(profitPercentage); err != nil {
		return Transaction{}, err
	}

	now := e.Now()
	payment := PaymentRecord{
		ID:     newPaymentID(now),
		Date:   now,
		Amount: amount,
		Note:   strings.TrimSpace(note),
	}

	var (
		after Transaction
		delta Impact
	)
	err := e.within(ctx, func(s Store) error {
		_, next, err := s.UpdateTransaction(ctx, owner, id, AppendPayment{Payment: payment})
		if err != nil {
			return storeErr("append payment", owner, err)
		}
		after = next
		delta = PaymentImpact(next.Type, amount, profitPercentage)
		return applyDelta(ctx, s, owner, delta)
	})
	if err != nil {
		e.log.Failed(ctx, "add payment failed", err,
			logging.FieldOwner, owner, logging.FieldTransaction, id)
		return Transaction{}, err
	}

	e.log.InfoContext(ctx, "payment recorded",
		logging.FieldOwner, owner,
		logging.FieldTransaction, id,
		logging.FieldPayment, payment.ID,
		"paid", after.IsPaid,
		logging.FieldCapital, delta.Capital.String(),
		logging.FieldProfit, delta.Profit.String(),
	)
	return after, nil
}

// newPaymentID returns a ULID: sortable by time and distinct within the
// same millisecond.
func newPaymentID(at time.Time) PaymentID {
	return PaymentID(ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String())
}

// =============================================================================
// SETTINGS & READS
// =============================================================================

// UpdateSettings overwrites the owner's settings. No reconciliation runs:
// the Summary keeps the splits computed under the previous percentage.
func (e *Engine) UpdateSettings(ctx context.Context, owner OwnerID, settings Settings) error {
	if err := checkOwner(owner); err != nil {
		return err
	}
	if err := ValidateSettings(settings); err != nil {
		return err
	}
	if err := e.store.PutSettings(ctx, owner, settings); err != nil {
		err = storeErr("put settings", owner, err)
		e.log.Failed(ctx, "update settings failed", err, logging.FieldOwner, owner)
		return err
	}

	e.log.InfoContext(ctx, "settings updated",
		logging.FieldOwner, owner,
		"profit_percentage", settings.ProfitPercentage.String(),
	)
	return nil
}

func (e *Engine) GetSettings(ctx context.Context, owner OwnerID) (Settings, error) {
	s, err := e.store.GetSettings(ctx, owner)
	return s, storeErr("get settings", owner, err)
}

// ProfitPercentage resolves the percentage for a mutation: override when
// given, otherwise the owner's settings.
func (e *Engine) ProfitPercentage(ctx context.Context, owner OwnerID, override *decimal.Decimal) (decimal.Decimal, error) {
	if override != nil {
		return *override, nil
	}
	s, err := e.GetSettings(ctx, owner)
	if err != nil {
		return decimal.Zero, err
	}
	return s.ProfitPercentage, nil
}

func (e *Engine) GetSummary(ctx context.Context, owner OwnerID) (Summary, error) {
	s, err := e.store.GetSummary(ctx, owner)
	return s, storeErr("get summary", owner, err)
}

func (e *Engine) GetTransaction(ctx context.Context, owner OwnerID, id TransactionID) (Transaction, error) {
	tx, err := e.store.GetTransaction(ctx, owner, id)
	return tx, storeErr("get transaction", owner, err)
}

// ListTransactions returns the ledger newest first.
func (e *Engine) ListTransactions(ctx context.Context, owner OwnerID) ([]Transaction, error) {
	txs, err := e.store.ListTransactions(ctx, owner)
	return txs, storeErr("list transactions", owner, err)
}

// Owners lists every owner the store knows about.
func (e *Engine) Owners(ctx context.Context) ([]OwnerID, error) {
	owners, err := e.store.Owners(ctx)
	return owners, storeErr("list owners", "", err)
}
