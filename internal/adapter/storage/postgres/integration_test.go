package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"salvage-settlement/internal/adapter/storage/postgres"
	"salvage-settlement/internal/core/domain"
	"salvage-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestPool starts a Postgres container, applies the embedded migrations and
// returns a pool. The container is terminated when the test ends.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("settlement_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("starting postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("getting connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("connecting to test database: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := postgres.Migrate(ctx, pool, zerolog.Nop()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}
	// Second run is a no-op.
	if err := postgres.Migrate(ctx, pool, zerolog.Nop()); err != nil {
		t.Fatalf("re-applying migrations: %v", err)
	}
	return pool
}

func TestIntegration_LedgerReferenceIsUnique(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	wallets := postgres.NewWalletRepo(pool)
	entries := postgres.NewWalletTransactionRepo(pool)
	transactor := postgres.NewTransactor(pool)

	now := time.Now().UTC()
	w := domain.NewWallet(uuid.New(), "NGN", now)

	tx, err := transactor.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, wallets.CreateIfAbsent(ctx, tx, w))
	entry := &domain.WalletTransaction{
		ID: uuid.New(), WalletID: w.ID, Type: domain.WalletTxCredit, Amount: 1000,
		BalanceAfter: 1000, AvailableAfter: 1000, Reference: "gateway:ref-1", CreatedAt: now,
	}
	require.NoError(t, entries.Create(ctx, tx, entry))
	require.NoError(t, tx.Commit(ctx))

	tx, err = transactor.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck
	dup := *entry
	dup.ID = uuid.New()
	err = entries.Create(ctx, tx, &dup)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateReference))

	found, err := entries.GetByReference(ctx, nil, "gateway:ref-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, entry.ID, found.ID)
}

func TestIntegration_OneActiveAuctionPerCase(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	auctions := postgres.NewAuctionRepo(pool)
	transactor := postgres.NewTransactor(pool)

	now := time.Now().UTC()
	caseID := uuid.New()
	newAuction := func() *domain.Auction {
		return &domain.Auction{
			ID: uuid.New(), CaseID: caseID, StartTime: now, EndTime: now.Add(time.Hour),
			OriginalEndTime: now.Add(time.Hour), StartingBid: 1000, CurrentBid: 1000,
			MinimumIncrement: 100, Status: domain.AuctionStatusActive, CreatedAt: now, UpdatedAt: now,
		}
	}

	tx, err := transactor.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, auctions.Create(ctx, tx, newAuction()))
	require.NoError(t, tx.Commit(ctx))

	exists, err := auctions.HasActiveForCase(ctx, nil, caseID)
	require.NoError(t, err)
	assert.True(t, exists)

	tx, err = transactor.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx) //nolint:errcheck
	assert.Error(t, auctions.Create(ctx, tx, newAuction()))
}

func TestIntegration_ConcurrentBalanceUpdatesSerialize(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	wallets := postgres.NewWalletRepo(pool)
	transactor := postgres.NewTransactor(pool)

	now := time.Now().UTC()
	w := domain.NewWallet(uuid.New(), "NGN", now)
	tx, err := transactor.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, wallets.CreateIfAbsent(ctx, tx, w))
	require.NoError(t, tx.Commit(ctx))

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := transactor.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer tx.Rollback(ctx) //nolint:errcheck

			locked, err := wallets.GetByIDForUpdate(ctx, tx, w.ID)
			if !assert.NoError(t, err) {
				return
			}
			next, err := locked.Apply(domain.WalletTxCredit, 100)
			if !assert.NoError(t, err) {
				return
			}
			next.UpdatedAt = time.Now().UTC()
			assert.NoError(t, wallets.UpdateBalances(ctx, tx, &next))
			assert.NoError(t, tx.Commit(ctx))
		}()
	}
	wg.Wait()

	final, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*100), final.Balance)
	assert.Equal(t, int64(workers*100), final.AvailableBalance)
	assert.NoError(t, final.CheckInvariant())

	drifted, err := wallets.ListDrifted(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, drifted)
}

func TestIntegration_VendorLockOrdersSuspensionAfterBids(t *testing.T) {
	pool := newTestPool(t)
	ctx := context.Background()
	suspensions := postgres.NewSuspensionRepo(pool)
	transactor := postgres.NewTransactor(pool)
	vendor := uuid.New()

	bidTx, err := transactor.Begin(ctx)
	require.NoError(t, err)
	defer bidTx.Rollback(ctx) //nolint:errcheck
	require.NoError(t, suspensions.LockVendor(ctx, bidTx, vendor, false))

	suspended := make(chan error, 1)
	go func() {
		tx, err := transactor.Begin(ctx)
		if err != nil {
			suspended <- err
			return
		}
		defer tx.Rollback(ctx) //nolint:errcheck
		if err := suspensions.LockVendor(ctx, tx, vendor, true); err != nil {
			suspended <- err
			return
		}
		_, err = suspensions.Create(ctx, tx, &domain.VendorSuspension{
			VendorID: vendor, Reason: "3 confirmed fraud flags", ConfirmedFlags: 3, SuspendedAt: time.Now().UTC(),
		})
		if err != nil {
			suspended <- err
			return
		}
		suspended <- tx.Commit(ctx)
	}()

	select {
	case err := <-suspended:
		t.Fatalf("suspension finished while a bid held the vendor lock: %v", err)
	case <-time.After(300 * time.Millisecond):
	}

	s, err := suspensions.GetByVendor(ctx, bidTx, vendor)
	require.NoError(t, err)
	assert.Nil(t, s, "in-flight bid sees an active vendor")
	require.NoError(t, bidTx.Commit(ctx))
	require.NoError(t, <-suspended)

	lateTx, err := transactor.Begin(ctx)
	require.NoError(t, err)
	defer lateTx.Rollback(ctx) //nolint:errcheck
	require.NoError(t, suspensions.LockVendor(ctx, lateTx, vendor, false))
	s, err = suspensions.GetByVendor(ctx, lateTx, vendor)
	require.NoError(t, err)
	assert.NotNil(t, s, "bid starting after the suspension sees it")
}
