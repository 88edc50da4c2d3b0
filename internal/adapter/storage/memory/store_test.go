package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CommitPublishesAndRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := New()
	wallets := NewWalletRepo(s)
	now := time.Now().UTC()

	committed := domain.NewWallet(uuid.New(), "NGN", now)
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, wallets.CreateIfAbsent(ctx, tx, committed))

	// Not visible outside the transaction until commit.
	got, err := wallets.GetByID(ctx, committed.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, tx.Commit(ctx))
	assert.ErrorIs(t, tx.Rollback(ctx), pgx.ErrTxClosed)

	got, err = wallets.GetByID(ctx, committed.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	discarded := domain.NewWallet(uuid.New(), "NGN", now)
	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, wallets.CreateIfAbsent(ctx, tx, discarded))
	require.NoError(t, tx.Rollback(ctx))

	got, err = wallets.GetByVendorID(ctx, discarded.VendorID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStore_BeginWaitsForOpenTransaction(t *testing.T) {
	s := New()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Begin(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, tx.Rollback(context.Background()))
	next, err := s.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, next.Commit(context.Background()))
}

func TestStore_ForeignTransactionRejected(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	mock.ExpectBegin()
	foreign, err := mock.Begin(context.Background())
	require.NoError(t, err)

	_, err = NewWalletRepo(New()).GetByIDForUpdate(context.Background(), foreign, uuid.New())
	assert.ErrorIs(t, err, errForeignTx)
}

func TestStore_ConcurrentTransactionsSerialize(t *testing.T) {
	ctx := context.Background()
	s := New()
	wallets := NewWalletRepo(s)
	w := domain.NewWallet(uuid.New(), "NGN", time.Now().UTC())
	require.NoError(t, wallets.CreateIfAbsent(ctx, nil, w))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := s.Begin(ctx)
			if !assert.NoError(t, err) {
				return
			}
			defer tx.Rollback(ctx) //nolint:errcheck
			locked, err := wallets.GetByIDForUpdate(ctx, tx, w.ID)
			if !assert.NoError(t, err) {
				return
			}
			next, err := locked.Apply(domain.WalletTxCredit, 10)
			if !assert.NoError(t, err) {
				return
			}
			assert.NoError(t, wallets.UpdateBalances(ctx, tx, &next))
			assert.NoError(t, tx.Commit(ctx))
		}()
	}
	wg.Wait()

	final, err := wallets.GetByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*10), final.Balance)
	assert.NoError(t, final.CheckInvariant())
}

func TestWalletTransactionRepo_DuplicateReference(t *testing.T) {
	ctx := context.Background()
	s := New()
	entries := NewWalletTransactionRepo(s)
	walletID := uuid.New()

	for i := 0; i < 3; i++ {
		e := &domain.WalletTransaction{ID: uuid.New(), WalletID: walletID, Type: domain.WalletTxCredit,
			Amount: 100, Reference: uuid.NewString(), CreatedAt: time.Now().UTC()}
		require.NoError(t, entries.Create(ctx, nil, e))
	}
	dup := &domain.WalletTransaction{ID: uuid.New(), WalletID: walletID, Type: domain.WalletTxCredit,
		Amount: 100, Reference: "gateway:abc"}
	require.NoError(t, entries.Create(ctx, nil, dup))

	err := entries.Create(ctx, nil, dup)
	assert.True(t, apperror.HasCode(err, apperror.CodeDuplicateReference))

	page, total, err := entries.ListByWallet(ctx, walletID, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
	require.Len(t, page, 2)
	assert.Equal(t, "gateway:abc", page[0].Reference)

	page, _, err = entries.ListByWallet(ctx, walletID, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, page)
}

func TestWalletRepo_ListDrifted(t *testing.T) {
	ctx := context.Background()
	s := New()
	wallets := NewWalletRepo(s)

	clean := domain.NewWallet(uuid.New(), "NGN", time.Now().UTC())
	require.NoError(t, wallets.CreateIfAbsent(ctx, nil, clean))
	drifted := *domain.NewWallet(uuid.New(), "NGN", time.Now().UTC())
	drifted.Balance = 700
	drifted.AvailableBalance = 500
	require.NoError(t, wallets.Seed(ctx, drifted))

	list, err := wallets.ListDrifted(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, drifted.ID, list[0].ID)
}

func newAuction(caseID uuid.UUID, status domain.AuctionStatus) *domain.Auction {
	now := time.Now().UTC()
	return &domain.Auction{
		ID: uuid.New(), CaseID: caseID, StartTime: now, EndTime: now.Add(time.Hour),
		OriginalEndTime: now.Add(time.Hour), StartingBid: 1000, CurrentBid: 1000,
		MinimumIncrement: 100, Status: status, CreatedAt: now, UpdatedAt: now,
	}
}

func TestAuctionRepo_OneActivePerCase(t *testing.T) {
	ctx := context.Background()
	auctions := NewAuctionRepo(New())
	caseID := uuid.New()

	require.NoError(t, auctions.Create(ctx, nil, newAuction(caseID, domain.AuctionStatusActive)))
	assert.Error(t, auctions.Create(ctx, nil, newAuction(caseID, domain.AuctionStatusActive)))
	assert.NoError(t, auctions.Create(ctx, nil, newAuction(caseID, domain.AuctionStatusCancelled)))

	exists, err := auctions.HasActiveForCase(ctx, nil, caseID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAuctionRepo_Listings(t *testing.T) {
	ctx := context.Background()
	s := New()
	auctions := NewAuctionRepo(s)
	payments := NewPaymentRepo(s)
	now := time.Now().UTC()

	expired := newAuction(uuid.New(), domain.AuctionStatusActive)
	expired.EndTime = now.Add(-time.Minute)
	live := newAuction(uuid.New(), domain.AuctionStatusActive)
	closed := newAuction(uuid.New(), domain.AuctionStatusClosed)
	closed.ClosedAt = &now
	for _, a := range []*domain.Auction{expired, live, closed} {
		require.NoError(t, auctions.Create(ctx, nil, a))
	}

	list, err := auctions.ListExpiredActive(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, expired.ID, list[0].ID)

	list, err = auctions.ListClosedWithVerifiedPayment(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, list)

	p := &domain.Payment{ID: uuid.New(), AuctionID: closed.ID, VendorID: uuid.New(), Amount: 1000,
		Status: domain.PaymentStatusVerified, Deadline: now}
	require.NoError(t, payments.Create(ctx, nil, p))

	list, err = auctions.ListClosedWithVerifiedPayment(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, closed.ID, list[0].ID)
}

func TestPaymentRepo_OneActivePerAuction(t *testing.T) {
	ctx := context.Background()
	payments := NewPaymentRepo(New())
	auctionID := uuid.New()
	ref := "pay_1"

	first := &domain.Payment{ID: uuid.New(), AuctionID: auctionID, PaymentReference: &ref, Status: domain.PaymentStatusPending}
	require.NoError(t, payments.Create(ctx, nil, first))

	second := &domain.Payment{ID: uuid.New(), AuctionID: auctionID, Status: domain.PaymentStatusPending}
	assert.Error(t, payments.Create(ctx, nil, second))

	first.Status = domain.PaymentStatusRejected
	require.NoError(t, payments.Update(ctx, nil, first))
	require.NoError(t, payments.Create(ctx, nil, second))

	active, err := payments.GetActiveByAuction(ctx, nil, auctionID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, active.ID)

	byRef, err := payments.GetByReference(ctx, "pay_1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byRef.ID)
}

func TestBidRepo_RevokeActiveByVendor(t *testing.T) {
	ctx := context.Background()
	s := New()
	auctions := NewAuctionRepo(s)
	bids := NewBidRepo(s)
	vendor := uuid.New()

	active := newAuction(uuid.New(), domain.AuctionStatusActive)
	closed := newAuction(uuid.New(), domain.AuctionStatusClosed)
	require.NoError(t, auctions.Create(ctx, nil, active))
	require.NoError(t, auctions.Create(ctx, nil, closed))

	for _, a := range []uuid.UUID{active.ID, active.ID, closed.ID} {
		require.NoError(t, bids.Create(ctx, nil, &domain.Bid{ID: uuid.New(), AuctionID: a, VendorID: vendor,
			Amount: 1000, Status: domain.BidStatusAccepted}))
	}

	n, err := bids.RevokeActiveByVendor(ctx, nil, vendor)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	list, err := bids.ListByAuction(ctx, closed.ID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, domain.BidStatusAccepted, list[0].Status)
}

func TestFraudRepo_ThresholdAndSuspension(t *testing.T) {
	ctx := context.Background()
	s := New()
	fraud := NewFraudRepo(s)
	suspensions := NewSuspensionRepo(s)
	vendor := uuid.New()

	for i := 0; i < 3; i++ {
		f := &domain.FraudFlag{ID: uuid.New(), VendorID: vendor, Kind: domain.FraudKindShillBidding}
		require.NoError(t, fraud.CreateFlag(ctx, nil, f))
		created, err := fraud.CreateReview(ctx, nil, &domain.FraudFlagReview{ID: uuid.New(), FlagID: f.ID, Decision: domain.ReviewConfirmed})
		require.NoError(t, err)
		require.True(t, created)

		again, err := fraud.CreateReview(ctx, nil, &domain.FraudFlagReview{ID: uuid.New(), FlagID: f.ID, Decision: domain.ReviewDismissed})
		require.NoError(t, err)
		assert.False(t, again)
	}

	n, err := fraud.CountConfirmed(ctx, nil, vendor)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err := fraud.ListUnsuspendedAtThreshold(ctx, 3, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	created, err := suspensions.Create(ctx, nil, &domain.VendorSuspension{VendorID: vendor, ConfirmedFlags: 3})
	require.NoError(t, err)
	assert.True(t, created)
	created, err = suspensions.Create(ctx, nil, &domain.VendorSuspension{VendorID: vendor, ConfirmedFlags: 4})
	require.NoError(t, err)
	assert.False(t, created)

	list, err = fraud.ListUnsuspendedAtThreshold(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuditRepo_Entries(t *testing.T) {
	audit := NewAuditRepo(New())
	require.NoError(t, audit.Create(context.Background(), domain.NewAuditLog(domain.SystemActor, domain.AuditActionAuctionClosed, "auction", "1", nil, nil)))
	require.NoError(t, audit.Create(context.Background(), domain.NewAuditLog(domain.SystemActor, domain.AuditActionPaymentOverdue, "payment", "2", nil, nil)))

	assert.Len(t, audit.Entries(), 2)
	assert.Len(t, audit.Entries(domain.AuditActionPaymentOverdue), 1)
}
