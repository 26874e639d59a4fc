// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/warp/capital-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory is a ledger.Store and ledger.Watcher kept in process memory.
// Atomic updates use optimistic versioning: the update function runs
// outside the lock and the write is retried if the record moved meanwhile.
type Memory struct {
	mu   sync.RWMutex
	data memData
	hub  *ledger.Hub

	// SeedSettings is written the first time an owner's settings are read.
	SeedSettings ledger.Settings
}

type memData map[ledger.OwnerID]*ownerData

type ownerData struct {
	transactions map[ledger.TransactionID]ledger.Transaction
	txVersion    map[ledger.TransactionID]uint64

	summary        *ledger.Summary
	summaryVersion uint64

	settings *ledger.Settings
}

func NewMemory() *Memory {
	return &Memory{
		data:         make(memData),
		hub:          ledger.NewHub(),
		SeedSettings: ledger.DefaultSettings(),
	}
}

// Watch implements ledger.Watcher.
func (m *Memory) Watch(owner ledger.OwnerID, kinds ...ledger.ChangeKind) (<-chan ledger.Change, func()) {
	return m.hub.Watch(owner, kinds...)
}

func (m *Memory) InsertTransaction(_ context.Context, owner ledger.OwnerID, tx ledger.Transaction) (ledger.Transaction, error) {
	m.mu.Lock()
	stored := m.data.insertLocked(owner, tx)
	m.mu.Unlock()

	m.hub.Publish(ledger.Changes(owner, ledger.ChangeTransactions)...)
	return stored, nil
}

func (m *Memory) GetTransaction(_ context.Context, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, _, err := m.data.getLocked(owner, id)
	return tx, err
}

func (m *Memory) ListTransactions(_ context.Context, owner ledger.OwnerID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.listLocked(owner), nil
}

// UpdateTransaction applies upd with optimistic retries.
func (m *Memory) UpdateTransaction(_ context.Context, owner ledger.OwnerID, id ledger.TransactionID, upd ledger.TransactionUpdate) (ledger.Transaction, ledger.Transaction, error) {
	for attempt := 0; attempt < ledger.MaxUpdateRetries; attempt++ {
		m.mu.RLock()
		before, version, err := m.data.getLocked(owner, id)
		m.mu.RUnlock()
		if err != nil {
			return ledger.Transaction{}, ledger.Transaction{}, err
		}

		after := before.Clone()
		if err := upd.Apply(&after); err != nil {
			return ledger.Transaction{}, ledger.Transaction{}, err
		}

		m.mu.Lock()
		ok := m.data.casTransactionLocked(owner, id, version, after)
		m.mu.Unlock()
		if ok {
			m.hub.Publish(ledger.Changes(owner, ledger.ChangeTransactions)...)
			return before, after.Clone(), nil
		}
	}
	return ledger.Transaction{}, ledger.Transaction{}, ledger.ErrConflict
}

func (m *Memory) DeleteTransaction(_ context.Context, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	m.mu.Lock()
	removed, err := m.data.deleteLocked(owner, id)
	m.mu.Unlock()
	if err != nil {
		return ledger.Transaction{}, err
	}

	m.hub.Publish(ledger.Changes(owner, ledger.ChangeTransactions)...)
	return removed, nil
}

func (m *Memory) GetSummary(_ context.Context, owner ledger.OwnerID) (ledger.Summary, error) {
	m.mu.RLock()
	s, _, ok := m.data.summaryLocked(owner)
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	s, seeded := m.data.seedSummaryLocked(owner)
	m.mu.Unlock()
	if seeded {
		m.hub.Publish(ledger.Changes(owner, ledger.ChangeSummary)...)
	}
	return s, nil
}

// UpdateSummary applies fn with optimistic retries.
func (m *Memory) UpdateSummary(_ context.Context, owner ledger.OwnerID, fn func(ledger.Summary) ledger.Summary) (ledger.Summary, error) {
	for attempt := 0; attempt < ledger.MaxUpdateRetries; attempt++ {
		m.mu.RLock()
		current, version, _ := m.data.summaryLocked(owner)
		m.mu.RUnlock()

		next := fn(current)

		m.mu.Lock()
		ok := m.data.casSummaryLocked(owner, version, next)
		m.mu.Unlock()
		if ok {
			m.hub.Publish(ledger.Changes(owner, ledger.ChangeSummary)...)
			return next, nil
		}
	}
	return ledger.Summary{}, ledger.ErrConflict
}

func (m *Memory) PutSummary(_ context.Context, owner ledger.OwnerID, s ledger.Summary) error {
	m.mu.Lock()
	m.data.putSummaryLocked(owner, s)
	m.mu.Unlock()

	m.hub.Publish(ledger.Changes(owner, ledger.ChangeSummary)...)
	return nil
}

func (m *Memory) GetSettings(_ context.Context, owner ledger.OwnerID) (ledger.Settings, error) {
	m.mu.RLock()
	s, ok := m.data.settingsLocked(owner)
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	m.mu.Lock()
	s, seeded := m.data.seedSettingsLocked(owner, m.SeedSettings)
	m.mu.Unlock()
	if seeded {
		m.hub.Publish(ledger.Changes(owner, ledger.ChangeSettings)...)
	}
	return s, nil
}

func (m *Memory) PutSettings(_ context.Context, owner ledger.OwnerID, s ledger.Settings) error {
	m.mu.Lock()
	m.data.owner(owner).settings = &s
	m.mu.Unlock()

	m.hub.Publish(ledger.Changes(owner, ledger.ChangeSettings)...)
	return nil
}

// Snapshot reads transactions and settings under a single lock.
func (m *Memory) Snapshot(_ context.Context, owner ledger.OwnerID) ([]ledger.Transaction, ledger.Settings, error) {
	m.mu.Lock()
	txs := m.data.listLocked(owner)
	settings, seeded := m.data.seedSettingsLocked(owner, m.SeedSettings)
	m.mu.Unlock()

	if seeded {
		m.hub.Publish(ledger.Changes(owner, ledger.ChangeSettings)...)
	}
	return txs, settings, nil
}

func (m *Memory) Owners(_ context.Context) ([]ledger.OwnerID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	owners := make([]ledger.OwnerID, 0, len(m.data))
	for o := range m.data {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}

// =============================================================================
// LOCKED DATA OPERATIONS - caller holds Memory.mu
// =============================================================================

func (d memData) owner(owner ledger.OwnerID) *ownerData {
	od, ok := d[owner]
	if !ok {
		od = &ownerData{
			transactions: make(map[ledger.TransactionID]ledger.Transaction),
			txVersion:    make(map[ledger.TransactionID]uint64),
		}
		d[owner] = od
	}
	return od
}

func (d memData) insertLocked(owner ledger.OwnerID, tx ledger.Transaction) ledger.Transaction {
	if tx.ID == "" {
		tx.ID = ledger.TransactionID(uuid.NewString())
	}
	od := d.owner(owner)
	od.transactions[tx.ID] = tx.Clone()
	od.txVersion[tx.ID]++
	return tx.Clone()
}

func (d memData) getLocked(owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, uint64, error) {
	od, ok := d[owner]
	if !ok {
		return ledger.Transaction{}, 0, ledger.ErrTransactionNotFound
	}
	tx, ok := od.transactions[id]
	if !ok {
		return ledger.Transaction{}, 0, ledger.ErrTransactionNotFound
	}
	return tx.Clone(), od.txVersion[id], nil
}

func (d memData) listLocked(owner ledger.OwnerID) []ledger.Transaction {
	od, ok := d[owner]
	if !ok {
		return []ledger.Transaction{}
	}
	txs := make([]ledger.Transaction, 0, len(od.transactions))
	for _, tx := range od.transactions {
		txs = append(txs, tx.Clone())
	}
	ledger.SortByDateDesc(txs)
	return txs
}

func (d memData) casTransactionLocked(owner ledger.OwnerID, id ledger.TransactionID, version uint64, tx ledger.Transaction) bool {
	od, ok := d[owner]
	if !ok {
		return false
	}
	if _, exists := od.transactions[id]; !exists || od.txVersion[id] != version {
		return false
	}
	od.transactions[id] = tx.Clone()
	od.txVersion[id]++
	return true
}

func (d memData) deleteLocked(owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	od, ok := d[owner]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	tx, ok := od.transactions[id]
	if !ok {
		return ledger.Transaction{}, ledger.ErrTransactionNotFound
	}
	delete(od.transactions, id)
	delete(od.txVersion, id)
	return tx, nil
}

func (d memData) summaryLocked(owner ledger.OwnerID) (ledger.Summary, uint64, bool) {
	od, ok := d[owner]
	if !ok || od.summary == nil {
		return ledger.Summary{}, 0, false
	}
	return *od.summary, od.summaryVersion, true
}

func (d memData) seedSummaryLocked(owner ledger.OwnerID) (ledger.Summary, bool) {
	od := d.owner(owner)
	if od.summary != nil {
		return *od.summary, false
	}
	od.summary = &ledger.Summary{}
	od.summaryVersion++
	return *od.summary, true
}

func (d memData) casSummaryLocked(owner ledger.OwnerID, version uint64, s ledger.Summary) bool {
	od := d.owner(owner)
	if od.summaryVersion != version {
		return false
	}
	od.summary = &s
	od.summaryVersion++
	return true
}

func (d memData) putSummaryLocked(owner ledger.OwnerID, s ledger.Summary) {
	od := d.owner(owner)
	od.summary = &s
	od.summaryVersion++
}

func (d memData) settingsLocked(owner ledger.OwnerID) (ledger.Settings, bool) {
	od, ok := d[owner]
	if !ok || od.settings == nil {
		return ledger.Settings{}, false
	}
	return *od.settings, true
}

func (d memData) seedSettingsLocked(owner ledger.OwnerID, seed ledger.Settings) (ledger.Settings, bool) {
	od := d.owner(owner)
	if od.settings != nil {
		return *od.settings, false
	}
	od.settings = &seed
	return seed, true
}

func (d memData) clone() memData {
	out := make(memData, len(d))
	for owner, od := range d {
		c := &ownerData{
			transactions:   make(map[ledger.TransactionID]ledger.Transaction, len(od.transactions)),
			txVersion:      make(map[ledger.TransactionID]uint64, len(od.txVersion)),
			summaryVersion: od.summaryVersion,
		}
		for id, tx := range od.transactions {
			c.transactions[id] = tx.Clone()
		}
		for id, v := range od.txVersion {
			c.txVersion[id] = v
		}
		if od.summary != nil {
			s := *od.summary
			c.summary = &s
		}
		if od.settings != nil {
			s := *od.settings
			c.settings = &s
		}
		out[owner] = c
	}
	return out
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Notifications are held back until commit.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.mu.Lock()

	snapshot := tm.data.clone()
	view := &txMemoryView{parent: tm.Memory}

	if err := fn(view); err != nil {
		tm.data = snapshot
		tm.mu.Unlock()
		return err
	}
	tm.mu.Unlock()

	tm.hub.Publish(view.changes...)
	return nil
}

// txMemoryView runs every operation directly against locked data.
type txMemoryView struct {
	parent  *Memory
	changes []ledger.Change
}

func (tv *txMemoryView) notify(owner ledger.OwnerID, kind ledger.ChangeKind) {
	tv.changes = append(tv.changes, ledger.Changes(owner, kind)...)
}

func (tv *txMemoryView) InsertTransaction(_ context.Context, owner ledger.OwnerID, tx ledger.Transaction) (ledger.Transaction, error) {
	stored := tv.parent.data.insertLocked(owner, tx)
	tv.notify(owner, ledger.ChangeTransactions)
	return stored, nil
}

func (tv *txMemoryView) GetTransaction(_ context.Context, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	tx, _, err := tv.parent.data.getLocked(owner, id)
	return tx, err
}

func (tv *txMemoryView) ListTransactions(_ context.Context, owner ledger.OwnerID) ([]ledger.Transaction, error) {
	return tv.parent.data.listLocked(owner), nil
}

func (tv *txMemoryView) UpdateTransaction(_ context.Context, owner ledger.OwnerID, id ledger.TransactionID, upd ledger.TransactionUpdate) (ledger.Transaction, ledger.Transaction, error) {
	before, version, err := tv.parent.data.getLocked(owner, id)
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	after := before.Clone()
	if err := upd.Apply(&after); err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	tv.parent.data.casTransactionLocked(owner, id, version, after)
	tv.notify(owner, ledger.ChangeTransactions)
	return before, after.Clone(), nil
}

func (tv *txMemoryView) DeleteTransaction(_ context.Context, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	removed, err := tv.parent.data.deleteLocked(owner, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	tv.notify(owner, ledger.ChangeTransactions)
	return removed, nil
}

func (tv *txMemoryView) GetSummary(_ context.Context, owner ledger.OwnerID) (ledger.Summary, error) {
	s, seeded := tv.parent.data.seedSummaryLocked(owner)
	if seeded {
		tv.notify(owner, ledger.ChangeSummary)
	}
	return s, nil
}

func (tv *txMemoryView) UpdateSummary(_ context.Context, owner ledger.OwnerID, fn func(ledger.Summary) ledger.Summary) (ledger.Summary, error) {
	current, _, _ := tv.parent.data.summaryLocked(owner)
	next := fn(current)
	tv.parent.data.putSummaryLocked(owner, next)
	tv.notify(owner, ledger.ChangeSummary)
	return next, nil
}

func (tv *txMemoryView) PutSummary(_ context.Context, owner ledger.OwnerID, s ledger.Summary) error {
	tv.parent.data.putSummaryLocked(owner, s)
	tv.notify(owner, ledger.ChangeSummary)
	return nil
}

func (tv *txMemoryView) GetSettings(_ context.Context, owner ledger.OwnerID) (ledger.Settings, error) {
	s, seeded := tv.parent.data.seedSettingsLocked(owner, tv.parent.SeedSettings)
	if seeded {
		tv.notify(owner, ledger.ChangeSettings)
	}
	return s, nil
}

func (tv *txMemoryView) PutSettings(_ context.Context, owner ledger.OwnerID, s ledger.Settings) error {
	tv.parent.data.owner(owner).settings = &s
	tv.notify(owner, ledger.ChangeSettings)
	return nil
}

func (tv *txMemoryView) Snapshot(_ context.Context, owner ledger.OwnerID) ([]ledger.Transaction, ledger.Settings, error) {
	settings, seeded := tv.parent.data.seedSettingsLocked(owner, tv.parent.SeedSettings)
	if seeded {
		tv.notify(owner, ledger.ChangeSettings)
	}
	return tv.parent.data.listLocked(owner), settings, nil
}

func (tv *txMemoryView) Owners(_ context.Context) ([]ledger.OwnerID, error) {
	owners := make([]ledger.OwnerID, 0, len(tv.parent.data))
	for o := range tv.parent.data {
		owners = append(owners, o)
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	return owners, nil
}
