/*
store.go - Persistence contracts for transactions, summary and settings

PURPOSE:
  Defines what the engine needs from a keyed record store. The engine never
  does a plain read-then-write on shared records: every mutation of an
  existing record goes through an atomic read-modify-write primitive.

KEY INTERFACES:
  Store:   Per-owner records with atomic UpdateTransaction / UpdateSummary
  TxStore: Optional capability to run several writes as one unit
  Watcher: Change notifications, published after commit

ATOMIC UPDATES:
  UpdateTransaction and UpdateSummary read the current value, apply a pure
  function (or a TransactionUpdate diff) and write back only if nobody else
  wrote in between. On conflict the store retries; after MaxUpdateRetries
  it gives up with ErrConflict.

TRANSACTIONAL STORES:
  When a Store also implements TxStore, the engine pairs the transaction
  record write and the summary update inside one WithTx so the two can
  never diverge. Plain Stores get the two-step protocol: transaction record
  first, summary second; a failure between the two leaves drift that only
  Recompute repairs.

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing and dev
  - store/sqlite/sqlite.go: SQLite
*/
package ledger

import "context"

// MaxUpdateRetries bounds optimistic retries in atomic updates.
const MaxUpdateRetries = 16

// Store holds per-owner ledger records.
type Store interface {
	// InsertTransaction persists a new transaction and assigns its ID.
	InsertTransaction(ctx context.Context, owner OwnerID, tx Transaction) (Transaction, error)

	// GetTransaction returns ErrTransactionNotFound if id is unknown.
	GetTransaction(ctx context.Context, owner OwnerID, id TransactionID) (Transaction, error)

	// ListTransactions returns every transaction sorted by Date descending.
	ListTransactions(ctx context.Context, owner OwnerID) ([]Transaction, error)

	// UpdateTransaction atomically applies upd to the stored record and
	// returns the record before and after the update.
	UpdateTransaction(ctx context.Context, owner OwnerID, id TransactionID, upd TransactionUpdate) (before, after Transaction, err error)

	// DeleteTransaction removes the record and returns what was removed.
	DeleteTransaction(ctx context.Context, owner OwnerID, id TransactionID) (Transaction, error)

	// GetSummary returns the summary, seeding a zero summary if absent.
	GetSummary(ctx context.Context, owner OwnerID) (Summary, error)

	// UpdateSummary atomically replaces the summary with fn(current).
	// fn must be pure: it may run more than once.
	UpdateSummary(ctx context.Context, owner OwnerID, fn func(Summary) Summary) (Summary, error)

	// PutSummary unconditionally overwrites the summary.
	PutSummary(ctx context.Context, owner OwnerID, s Summary) error

	// GetSettings returns the settings, seeding the defaults if absent.
	GetSettings(ctx context.Context, owner OwnerID) (Settings, error)

	// PutSettings unconditionally overwrites the settings.
	PutSettings(ctx context.Context, owner OwnerID, s Settings) error

	// Snapshot returns all transactions and the settings from one
	// consistent read.
	Snapshot(ctx context.Context, owner OwnerID) ([]Transaction, Settings, error)

	// Owners lists every owner with at least one stored record.
	Owners(ctx context.Context) ([]OwnerID, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the view is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Watcher delivers change notifications for an owner. An empty owner
// watches every owner; no kinds means every kind.
type Watcher interface {
	Watch(owner OwnerID, kinds ...ChangeKind) (<-chan Change, func())
}
