// Package memory is an in-process storage driver. Transactions are fully
// serialized: Begin takes a store-wide lock and works on a private copy of the
// committed state, which Commit swaps in. Reads outside a transaction see the
// last committed state, matching READ COMMITTED for the access patterns the
// services use.
package memory

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	errForeignTx   = errors.New("memory: transaction was not started by this store")
	errUnsupported = errors.New("memory: raw SQL is not supported")
)

type state struct {
	wallets        map[uuid.UUID]domain.Wallet
	walletByVendor map[uuid.UUID]uuid.UUID
	entries        []domain.WalletTransaction
	entryByRef     map[string]int
	auctions       map[uuid.UUID]domain.Auction
	bids           []domain.Bid
	payments       map[uuid.UUID]domain.Payment
	flags          map[uuid.UUID]domain.FraudFlag
	reviews        map[uuid.UUID]domain.FraudFlagReview // keyed by flag id
	suspensions    map[uuid.UUID]domain.VendorSuspension
}

func newState() *state {
	return &state{
		wallets:        make(map[uuid.UUID]domain.Wallet),
		walletByVendor: make(map[uuid.UUID]uuid.UUID),
		entryByRef:     make(map[string]int),
		auctions:       make(map[uuid.UUID]domain.Auction),
		payments:       make(map[uuid.UUID]domain.Payment),
		flags:          make(map[uuid.UUID]domain.FraudFlag),
		reviews:        make(map[uuid.UUID]domain.FraudFlagReview),
		suspensions:    make(map[uuid.UUID]domain.VendorSuspension),
	}
}

func (s *state) clone() *state {
	return &state{
		wallets:        maps.Clone(s.wallets),
		walletByVendor: maps.Clone(s.walletByVendor),
		entries:        slices.Clone(s.entries),
		entryByRef:     maps.Clone(s.entryByRef),
		auctions:       maps.Clone(s.auctions),
		bids:           slices.Clone(s.bids),
		payments:       maps.Clone(s.payments),
		flags:          maps.Clone(s.flags),
		reviews:        maps.Clone(s.reviews),
		suspensions:    maps.Clone(s.suspensions),
	}
}

// Store holds all tables in memory and implements ports.DBTransactor.
type Store struct {
	sem chan struct{} // one open transaction at a time

	mu        sync.RWMutex
	committed *state

	auditMu sync.Mutex
	audit   []domain.AuditLog
}

// New creates an empty store.
func New() *Store {
	return &Store{
		sem:       make(chan struct{}, 1),
		committed: newState(),
	}
}

// Begin waits for any open transaction to finish and starts a new one.
func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.RLock()
	working := s.committed.clone()
	s.mu.RUnlock()

	return &Tx{store: s, st: working}, nil
}

// view runs fn against the transaction's working state, or against the
// committed state when tx is nil.
func (s *Store) view(tx pgx.Tx, fn func(st *state) error) error {
	if tx == nil {
		s.mu.RLock()
		defer s.mu.RUnlock()
		return fn(s.committed)
	}
	t, ok := tx.(*Tx)
	if !ok {
		return errForeignTx
	}
	if t.done {
		return pgx.ErrTxClosed
	}
	return fn(t.st)
}

// write runs fn inside tx, or inside a short implicit transaction when tx is nil.
func (s *Store) write(ctx context.Context, tx pgx.Tx, fn func(st *state) error) error {
	if tx != nil {
		return s.view(tx, fn)
	}
	implicit, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer implicit.Rollback(ctx) //nolint:errcheck
	if err := fn(implicit.(*Tx).st); err != nil {
		return err
	}
	return implicit.Commit(ctx)
}

// Tx is a pgx.Tx over a private copy of the store.
// Only Commit and Rollback are meaningful; the SQL methods return errors.
type Tx struct {
	store *Store
	st    *state
	done  bool
}

func (t *Tx) finish() {
	t.done = true
	<-t.store.sem
}

func (t *Tx) Begin(ctx context.Context) (pgx.Tx, error) { return t, nil }

func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.store.mu.Lock()
	t.store.committed = t.st
	t.store.mu.Unlock()
	t.finish()
	return nil
}

func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return pgx.ErrTxClosed
	}
	t.finish()
	return nil
}

func (t *Tx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, errUnsupported
}
func (t *Tx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (t *Tx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (t *Tx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, errUnsupported
}
func (t *Tx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), errUnsupported
}
func (t *Tx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errUnsupported
}
func (t *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return errRow{}
}
func (t *Tx) Conn() *pgx.Conn { return nil }

type errRow struct{}

func (errRow) Scan(dest ...any) error { return errUnsupported }

// HealthCheck implements ports.HealthChecker for the memory driver.
type HealthCheck struct{}

func (HealthCheck) Ping(ctx context.Context) error { return nil }
func (HealthCheck) Name() string                   { return "memory" }
