/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Persists transactions, the running summary and settings per owner.
  Every WithTx runs in one database transaction, so the engine's record
  write and summary update commit together.

KEY TABLES:
  transactions: Ledger entries, payments as a JSON array column
  summaries:    One row per owner, versioned for compare-and-swap
  settings:     One row per owner

ATOMIC UPDATES:
  UpdateTransaction and UpdateSummary read a row with its version, apply the
  update in Go and write back with "WHERE version = ?". A miss means another
  writer got there first; the update is retried up to
  ledger.MaxUpdateRetries times before ErrConflict.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety within the process. Version checks
  cover other processes writing the same file.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and a busy timeout.
  Write transactions begin IMMEDIATE so two writers never deadlock on
  lock upgrade.

MIGRATION:
  Schema is managed by golang-migrate from the embedded migrations/ dir
  and applied on New().

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/capital-ledger/ledger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements ledger.TxStore and ledger.Watcher using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	hub *ledger.Hub

	// SeedSettings is written the first time an owner's settings are read.
	SeedSettings ledger.Settings
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{
		db:           db,
		hub:          ledger.NewHub(),
		SeedSettings: ledger.DefaultSettings(),
	}, nil
}

// runMigrations applies migrations on db itself. The migrate instance is
// not closed: closing it would close db.
func runMigrations(db *sql.DB) error {
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Watch implements ledger.Watcher.
func (s *Store) Watch(owner ledger.OwnerID, kinds ...ledger.ChangeKind) (<-chan ledger.Change, func()) {
	return s.hub.Watch(owner, kinds...)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (s *Store) InsertTransaction(ctx context.Context, owner ledger.OwnerID, tx ledger.Transaction) (ledger.Transaction, error) {
	s.mu.Lock()
	stored, err := insertTransaction(ctx, s.db, owner, tx)
	s.mu.Unlock()
	if err != nil {
		return ledger.Transaction{}, err
	}

	s.hub.Publish(ledger.Changes(owner, ledger.ChangeTransactions)...)
	return stored, nil
}

func (s *Store) GetTransaction(ctx context.Context, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, _, err := getTransaction(ctx, s.db, owner, id)
	return tx, err
}

func (s *Store) ListTransactions(ctx context.Context, owner ledger.OwnerID) ([]ledger.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listTransactions(ctx, s.db, owner)
}

// UpdateTransaction applies upd with a version check, retrying on conflict.
func (s *Store) UpdateTransaction(ctx context.Context, owner ledger.OwnerID, id ledger.TransactionID, upd ledger.TransactionUpdate) (ledger.Transaction, ledger.Transaction, error) {
	for attempt := 0; attempt < ledger.MaxUpdateRetries; attempt++ {
		s.mu.RLock()
		before, version, err := getTransaction(ctx, s.db, owner, id)
		s.mu.RUnlock()
		if err != nil {
			return ledger.Transaction{}, ledger.Transaction{}, err
		}

		after := before.Clone()
		if err := upd.Apply(&after); err != nil {
			return ledger.Transaction{}, ledger.Transaction{}, err
		}

		s.mu.Lock()
		ok, err := casTransaction(ctx, s.db, owner, version, after)
		s.mu.Unlock()
		if err != nil {
			return ledger.Transaction{}, ledger.Transaction{}, err
		}
		if ok {
			s.hub.Publish(ledger.Changes(owner, ledger.ChangeTransactions)...)
			return before, after, nil
		}
	}
	return ledger.Transaction{}, ledger.Transaction{}, ledger.ErrConflict
}

func (s *Store) DeleteTransaction(ctx context.Context, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	var removed ledger.Transaction
	err := s.inTx(ctx, func(q querier) error {
		var err error
		removed, err = deleteTransaction(ctx, q, owner, id)
		return err
	})
	if err != nil {
		return ledger.Transaction{}, err
	}

	s.hub.Publish(ledger.Changes(owner, ledger.ChangeTransactions)...)
	return removed, nil
}

// =============================================================================
// SUMMARY
// =============================================================================

func (s *Store) GetSummary(ctx context.Context, owner ledger.OwnerID) (ledger.Summary, error) {
	s.mu.RLock()
	sum, _, found, err := getSummary(ctx, s.db, owner)
	s.mu.RUnlock()
	if err != nil || found {
		return sum, err
	}

	s.mu.Lock()
	seeded, err := seedSummary(ctx, s.db, owner)
	if err == nil {
		sum, _, _, err = getSummary(ctx, s.db, owner)
	}
	s.mu.Unlock()
	if err != nil {
		return ledger.Summary{}, err
	}

	if seeded {
		s.hub.Publish(ledger.Changes(owner, ledger.ChangeSummary)...)
	}
	return sum, nil
}

// UpdateSummary applies fn with a version check, retrying on conflict.
func (s *Store) UpdateSummary(ctx context.Context, owner ledger.OwnerID, fn func(ledger.Summary) ledger.Summary) (ledger.Summary, error) {
	if _, err := s.GetSummary(ctx, owner); err != nil {
		return ledger.Summary{}, err
	}

	for attempt := 0; attempt < ledger.MaxUpdateRetries; attempt++ {
		s.mu.RLock()
		current, version, _, err := getSummary(ctx, s.db, owner)
		s.mu.RUnlock()
		if err != nil {
			return ledger.Summary{}, err
		}

		next := fn(current)

		s.mu.Lock()
		ok, err := casSummary(ctx, s.db, owner, version, next)
		s.mu.Unlock()
		if err != nil {
			return ledger.Summary{}, err
		}
		if ok {
			s.hub.Publish(ledger.Changes(owner, ledger.ChangeSummary)...)
			return next, nil
		}
	}
	return ledger.Summary{}, ledger.ErrConflict
}

func (s *Store) PutSummary(ctx context.Context, owner ledger.OwnerID, sum ledger.Summary) error {
	s.mu.Lock()
	err := putSummary(ctx, s.db, owner, sum)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.Publish(ledger.Changes(owner, ledger.ChangeSummary)...)
	return nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSettings(ctx context.Context, owner ledger.OwnerID) (ledger.Settings, error) {
	s.mu.RLock()
	settings, found, err := getSettings(ctx, s.db, owner)
	s.mu.RUnlock()
	if err != nil || found {
		return settings, err
	}

	s.mu.Lock()
	seeded, err := seedSettings(ctx, s.db, owner, s.SeedSettings)
	if err == nil {
		settings, _, err = getSettings(ctx, s.db, owner)
	}
	s.mu.Unlock()
	if err != nil {
		return ledger.Settings{}, err
	}

	if seeded {
		s.hub.Publish(ledger.Changes(owner, ledger.ChangeSettings)...)
	}
	return settings, nil
}

func (s *Store) PutSettings(ctx context.Context, owner ledger.OwnerID, settings ledger.Settings) error {
	s.mu.Lock()
	err := putSettings(ctx, s.db, owner, settings)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.Publish(ledger.Changes(owner, ledger.ChangeSettings)...)
	return nil
}

// =============================================================================
// SNAPSHOT & OWNERS
// =============================================================================

// Snapshot reads transactions and settings in one database transaction.
func (s *Store) Snapshot(ctx context.Context, owner ledger.OwnerID) ([]ledger.Transaction, ledger.Settings, error) {
	var (
		txs      []ledger.Transaction
		settings ledger.Settings
		seeded   bool
	)
	err := s.inTx(ctx, func(q querier) error {
		var err error
		if seeded, err = seedSettings(ctx, q, owner, s.SeedSettings); err != nil {
			return err
		}
		if settings, _, err = getSettings(ctx, q, owner); err != nil {
			return err
		}
		txs, err = listTransactions(ctx, q, owner)
		return err
	})
	if err != nil {
		return nil, ledger.Settings{}, err
	}

	if seeded {
		s.hub.Publish(ledger.Changes(owner, ledger.ChangeSettings)...)
	}
	return txs, settings, nil
}

func (s *Store) Owners(ctx context.Context) ([]ledger.OwnerID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return listOwners(ctx, s.db)
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// inTx runs fn in a database transaction under the write lock.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// WithTx executes a function within a database transaction. Change
// notifications are published only after commit.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	view := &txStore{parent: s}
	err := s.inTx(ctx, func(q querier) error {
		view.q = q
		return fn(view)
	})
	if err != nil {
		return err
	}

	s.hub.Publish(view.changes...)
	return nil
}

// txStore runs every operation on the open transaction. The parent's
// lock is already held.
type txStore struct {
	q       querier
	parent  *Store
	changes []ledger.Change
}

func (ts *txStore) notify(owner ledger.OwnerID, kind ledger.ChangeKind) {
	ts.changes = append(ts.changes, ledger.Changes(owner, kind)...)
}

func (ts *txStore) InsertTransaction(ctx context.Context, owner ledger.OwnerID, tx ledger.Transaction) (ledger.Transaction, error) {
	stored, err := insertTransaction(ctx, ts.q, owner, tx)
	if err != nil {
		return ledger.Transaction{}, err
	}
	ts.notify(owner, ledger.ChangeTransactions)
	return stored, nil
}

func (ts *txStore) GetTransaction(ctx context.Context, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	tx, _, err := getTransaction(ctx, ts.q, owner, id)
	return tx, err
}

func (ts *txStore) ListTransactions(ctx context.Context, owner ledger.OwnerID) ([]ledger.Transaction, error) {
	return listTransactions(ctx, ts.q, owner)
}

func (ts *txStore) UpdateTransaction(ctx context.Context, owner ledger.OwnerID, id ledger.TransactionID, upd ledger.TransactionUpdate) (ledger.Transaction, ledger.Transaction, error) {
	before, version, err := getTransaction(ctx, ts.q, owner, id)
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	after := before.Clone()
	if err := upd.Apply(&after); err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}

	ok, err := casTransaction(ctx, ts.q, owner, version, after)
	if err != nil {
		return ledger.Transaction{}, ledger.Transaction{}, err
	}
	if !ok {
		return ledger.Transaction{}, ledger.Transaction{}, ledger.ErrConflict
	}
	ts.notify(owner, ledger.ChangeTransactions)
	return before, after, nil
}

func (ts *txStore) DeleteTransaction(ctx context.Context, owner ledger.OwnerID, id ledger.TransactionID) (ledger.Transaction, error) {
	removed, err := deleteTransaction(ctx, ts.q, owner, id)
	if err != nil {
		return ledger.Transaction{}, err
	}
	ts.notify(owner, ledger.ChangeTransactions)
	return removed, nil
}

func (ts *txStore) GetSummary(ctx context.Context, owner ledger.OwnerID) (ledger.Summary, error) {
	seeded, err := seedSummary(ctx, ts.q, owner)
	if err != nil {
		return ledger.Summary{}, err
	}
	if seeded {
		ts.notify(owner, ledger.ChangeSummary)
	}
	sum, _, _, err := getSummary(ctx, ts.q, owner)
	return sum, err
}

func (ts *txStore) UpdateSummary(ctx context.Context, owner ledger.OwnerID, fn func(ledger.Summary) ledger.Summary) (ledger.Summary, error) {
	if _, err := seedSummary(ctx, ts.q, owner); err != nil {
		return ledger.Summary{}, err
	}
	current, version, _, err := getSummary(ctx, ts.q, owner)
	if err != nil {
		return ledger.Summary{}, err
	}

	next := fn(current)
	ok, err := casSummary(ctx, ts.q, owner, version, next)
	if err != nil {
		return ledger.Summary{}, err
	}
	if !ok {
		return ledger.Summary{}, ledger.ErrConflict
	}
	ts.notify(owner, ledger.ChangeSummary)
	return next, nil
}

func (ts *txStore) PutSummary(ctx context.Context, owner ledger.OwnerID, sum ledger.Summary) error {
	if err := putSummary(ctx, ts.q, owner, sum); err != nil {
		return err
	}
	ts.notify(owner, ledger.ChangeSummary)
	return nil
}

func (ts *txStore) GetSettings(ctx context.Context, owner ledger.OwnerID) (ledger.Settings, error) {
	seeded, err := seedSettings(ctx, ts.q, owner, ts.parent.SeedSettings)
	if err != nil {
		return ledger.Settings{}, err
	}
	if seeded {
		ts.notify(owner, ledger.ChangeSettings)
	}
	settings, _, err := getSettings(ctx, ts.q, owner)
	return settings, err
}

func (ts *txStore) PutSettings(ctx context.Context, owner ledger.OwnerID, settings ledger.Settings) error {
	if err := putSettings(ctx, ts.q, owner, settings); err != nil {
		return err
	}
	ts.notify(owner, ledger.ChangeSettings)
	return nil
}

func (ts *txStore) Snapshot(ctx context.Context, owner ledger.OwnerID) ([]ledger.Transaction, ledger.Settings, error) {
	settings, err := ts.GetSettings(ctx, owner)
	if err != nil {
		return nil, ledger.Settings{}, err
	}
	txs, err := listTransactions(ctx, ts.q, owner)
	if err != nil {
		return nil, ledger.Settings{}, err
	}
	return txs, settings, nil
}

func (ts *txStore) Owners(ctx context.Context) ([]ledger.OwnerID, error) {
	return listOwners(ctx, ts.q)
}
