package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/internal/core/ports/mocks"
	"salvage-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestAuction_Create(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := domain.UserActor(uuid.New(), domain.ActorAdmin)
	caseID := uuid.New()

	a, err := h.auctions.CreateAuction(ctx, ports.CreateAuctionRequest{
		CaseID: caseID, StartTime: t0, EndTime: t0.Add(time.Hour),
		StartingBid: 100_000, MinimumIncrement: 5_000, Actor: admin,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusActive, a.Status)
	assert.Equal(t, int64(100_000), a.CurrentBid)
	assert.Equal(t, a.EndTime, a.OriginalEndTime)
	assert.Nil(t, a.CurrentBidderID)
	assert.Equal(t, int64(100_000), a.MinimumNextBid(), "first bid may match the starting bid")
	assert.Equal(t, 1, h.audit.count(domain.AuditActionAuctionCreated))

	_, err = h.auctions.CreateAuction(ctx, ports.CreateAuctionRequest{
		CaseID: caseID, StartTime: t0, EndTime: t0.Add(time.Hour),
		StartingBid: 100_000, MinimumIncrement: 5_000, Actor: admin,
	})
	assert.True(t, apperror.HasCode(err, apperror.CodeActiveAuctionExists))

	tests := []struct {
		name string
		req  ports.CreateAuctionRequest
		code string
	}{
		{"missing case", ports.CreateAuctionRequest{StartTime: t0, EndTime: t0.Add(time.Hour), StartingBid: 1, MinimumIncrement: 1}, apperror.CodeValidation},
		{"end before start", ports.CreateAuctionRequest{CaseID: uuid.New(), StartTime: t0, EndTime: t0, StartingBid: 1, MinimumIncrement: 1}, apperror.CodeValidation},
		{"zero starting bid", ports.CreateAuctionRequest{CaseID: uuid.New(), StartTime: t0, EndTime: t0.Add(time.Hour), MinimumIncrement: 1}, apperror.CodeInvalidAmount},
		{"zero increment", ports.CreateAuctionRequest{CaseID: uuid.New(), StartTime: t0, EndTime: t0.Add(time.Hour), StartingBid: 1}, apperror.CodeInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.auctions.CreateAuction(ctx, tt.req)
			assert.True(t, apperror.HasCode(err, tt.code), "got %v", err)
		})
	}
}

func TestAuction_PlaceBid_Rules(t *testing.T) {
	h := newHarness(t)
	a := h.listAuction(t, time.Hour, 100_000, 5_000)
	alice, bob := uuid.New(), uuid.New()

	res := h.bid(t, a.ID, alice, 100_000)
	require.True(t, res.Accepted)
	assert.False(t, res.Extended)
	assert.Equal(t, int64(105_000), res.MinimumNextBid)
	require.NotNil(t, res.Bid)
	assert.True(t, res.Bid.Verified)
	assert.Equal(t, domain.BidStatusAccepted, res.Bid.Status)

	res = h.bid(t, a.ID, bob, 104_999)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.BidRejectTooLow, res.Reason)
	assert.Equal(t, int64(105_000), res.MinimumNextBid)

	res = h.bid(t, a.ID, bob, 105_000)
	require.True(t, res.Accepted)
	assert.Equal(t, bob, *res.Auction.CurrentBidderID)

	stored := h.auction(t, a.ID)
	assert.Equal(t, int64(105_000), stored.CurrentBid)
	assert.Equal(t, bob, *stored.CurrentBidderID)
	assert.Equal(t, 2, h.audit.count(domain.AuditActionBidPlaced))

	bids, err := h.auctions.ListBids(context.Background(), a.ID, 0)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	assert.Equal(t, bob, bids[0].VendorID, "newest first")
}

func TestAuction_PlaceBid_TierLimit(t *testing.T) {
	h := newHarness(t)
	a := h.listAuction(t, time.Hour, 100_000, 5_000)
	vendor := uuid.New()
	h.tiers.set(vendor, 150_000)

	res := h.bid(t, a.ID, vendor, 150_001)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.BidRejectTierLimitExceeded, res.Reason)

	res = h.bid(t, a.ID, vendor, 150_000)
	assert.True(t, res.Accepted, "limit is inclusive")
}

func TestAuction_PlaceBid_TierServiceUnavailable(t *testing.T) {
	ctrl := gomock.NewController(t)
	tiers := mocks.NewMockTierProvider(ctrl)
	h := newHarness(t)
	svc := NewAuctionService(Runtime{Transactor: h.store, Clock: h.clock, Log: newTestLogger()},
		h.auctionRepo, h.bidRepo, h.paymentRepo, h.suspensions, h.ledger, tiers, nil, nil, AuctionPolicy{})
	a := h.listAuction(t, time.Hour, 100_000, 5_000)
	vendor := uuid.New()

	tiers.EXPECT().GetVendorTierLimit(gomock.Any(), vendor).Return(int64(0), errors.New("kyc: 503"))

	res, err := svc.PlaceBid(context.Background(), ports.PlaceBidRequest{AuctionID: a.ID, VendorID: vendor, Amount: 100_000})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, apperror.HasCode(err, apperror.CodeExternalService))
	assert.Nil(t, h.auction(t, a.ID).CurrentBidderID)
}

func TestAuction_PlaceBid_Rejections(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("suspended vendor", func(t *testing.T) {
		a := h.listAuction(t, time.Hour, 1_000, 100)
		vendor := uuid.New()
		created, err := h.suspensions.Create(ctx, nil, &domain.VendorSuspension{VendorID: vendor, Reason: "test", ConfirmedFlags: 3, SuspendedAt: t0})
		require.NoError(t, err)
		require.True(t, created)

		res := h.bid(t, a.ID, vendor, 5_000)
		assert.False(t, res.Accepted)
		assert.Equal(t, domain.BidRejectVendorSuspended, res.Reason)
	})

	t.Run("after end time", func(t *testing.T) {
		a := h.listAuction(t, time.Minute, 1_000, 100)
		h.clock.Set(a.EndTime)
		defer h.clock.Set(t0)

		res := h.bid(t, a.ID, uuid.New(), 5_000)
		assert.False(t, res.Accepted)
		assert.Equal(t, domain.BidRejectAuctionEnded, res.Reason)
	})

	t.Run("before start time", func(t *testing.T) {
		a, err := h.auctions.CreateAuction(ctx, ports.CreateAuctionRequest{
			CaseID: uuid.New(), StartTime: t0.Add(time.Hour), EndTime: t0.Add(2 * time.Hour),
			StartingBid: 1_000, MinimumIncrement: 100, Actor: domain.SystemActor,
		})
		require.NoError(t, err)

		res := h.bid(t, a.ID, uuid.New(), 5_000)
		assert.False(t, res.Accepted)
		assert.Equal(t, domain.BidRejectAuctionEnded, res.Reason)
	})

	t.Run("unknown auction", func(t *testing.T) {
		_, err := h.auctions.PlaceBid(ctx, ports.PlaceBidRequest{AuctionID: uuid.New(), VendorID: uuid.New(), Amount: 5_000})
		assert.True(t, apperror.HasCode(err, apperror.CodeAuctionNotFound))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := h.auctions.PlaceBid(ctx, ports.PlaceBidRequest{AuctionID: uuid.New(), VendorID: uuid.New(), Amount: 0})
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidAmount))
	})
}

func TestAuction_AntiSniping(t *testing.T) {
	h := newHarness(t, withPolicy(func(p *AuctionPolicy) {
		p.Extension = domain.ExtensionPolicy{Window: 5 * time.Minute, Increment: 10 * time.Minute, MaxTotal: 15 * time.Minute}
	}))
	a := h.listAuction(t, time.Hour, 1_000, 100)
	original := a.EndTime

	h.clock.Set(original.Add(-6 * time.Minute))
	res := h.bid(t, a.ID, uuid.New(), 1_000)
	assert.False(t, res.Extended, "outside the window")

	h.clock.Set(original.Add(-2 * time.Minute))
	res = h.bid(t, a.ID, uuid.New(), 1_100)
	require.True(t, res.Extended)
	assert.Equal(t, original.Add(10*time.Minute), res.Auction.EndTime)
	assert.Equal(t, 1, res.Auction.ExtensionCount)

	h.clock.Set(original.Add(9 * time.Minute))
	res = h.bid(t, a.ID, uuid.New(), 1_200)
	require.True(t, res.Extended)
	assert.Equal(t, original.Add(15*time.Minute), res.Auction.EndTime, "capped at original end plus max total")

	h.clock.Set(original.Add(14 * time.Minute))
	res = h.bid(t, a.ID, uuid.New(), 1_300)
	require.True(t, res.Accepted)
	assert.False(t, res.Extended, "cap reached")
	assert.Equal(t, original.Add(15*time.Minute), res.Auction.EndTime)

	stored := h.auction(t, a.ID)
	assert.Equal(t, original, stored.OriginalEndTime)
	assert.Equal(t, 2, stored.ExtensionCount)
}

func TestAuction_ConcurrentBidsAcceptOne(t *testing.T) {
	h := newHarness(t)
	a := h.listAuction(t, time.Hour, 10_000, 1_000)

	const bidders = 16
	var wg sync.WaitGroup
	results := make(chan *ports.BidResult, bidders)
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.auctions.PlaceBid(context.Background(), ports.PlaceBidRequest{AuctionID: a.ID, VendorID: uuid.New(), Amount: 10_000})
			if err == nil {
				results <- res
			}
		}()
	}
	wg.Wait()
	close(results)

	accepted, tooLow := 0, 0
	for res := range results {
		if res.Accepted {
			accepted++
		} else if res.Reason == domain.BidRejectTooLow {
			tooLow++
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, bidders-1, tooLow)

	bids, err := h.bidRepo.ListByAuction(context.Background(), a.ID, 0)
	require.NoError(t, err)
	assert.Len(t, bids, 1)
}

func TestAuction_ConcurrentIncreasingBids(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.listAuction(t, time.Hour, 10_000, 1_000)

	const bidders = 16
	vendors := make([]uuid.UUID, bidders)
	for i := range vendors {
		vendors[i] = uuid.New()
	}
	results := make([]*ports.BidResult, bidders)
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.auctions.PlaceBid(ctx, ports.PlaceBidRequest{AuctionID: a.ID, VendorID: vendors[i], Amount: 10_000 + int64(i)*1_000})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	accepted := map[int64]uuid.UUID{}
	for i, res := range results {
		require.NotNil(t, res)
		if res.Accepted {
			accepted[res.Bid.Amount] = vendors[i]
		} else {
			assert.Equal(t, domain.BidRejectTooLow, res.Reason)
		}
	}
	highest := int64(10_000 + (bidders-1)*1_000)
	require.Contains(t, accepted, highest, "top bid always clears the increment")

	stored := h.auction(t, a.ID)
	assert.Equal(t, highest, stored.CurrentBid)
	require.NotNil(t, stored.CurrentBidderID)
	assert.Equal(t, vendors[bidders-1], *stored.CurrentBidderID)

	bids, err := h.bidRepo.ListByAuction(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, bids, len(accepted))
	assert.Equal(t, highest, bids[0].Amount)
	// Listed newest first, so every bid is strictly above the one committed before it.
	for i := 0; i < len(bids)-1; i++ {
		assert.Greater(t, bids[i].Amount, bids[i+1].Amount)
	}
	for _, b := range bids {
		assert.Equal(t, accepted[b.Amount], b.VendorID)
	}
}

func TestAuction_Close_EscrowWhenWalletCovers(t *testing.T) {
	h := newHarness(t)
	vendor := uuid.New()
	h.fund(t, vendor, 300_000)

	a, payment := h.wonAuction(t, vendor, 250_000)
	assert.Equal(t, domain.AuctionStatusClosed, a.Status)
	require.NotNil(t, a.ClosedAt)
	assert.Equal(t, domain.PaymentMethodEscrow, payment.Method)
	assert.Equal(t, domain.PaymentStatusVerified, payment.Status)
	assert.True(t, payment.AutoVerified)
	assert.Equal(t, int64(250_000), payment.Amount)

	w := h.wallet(t, vendor)
	assert.Equal(t, int64(50_000), w.AvailableBalance)
	assert.Equal(t, int64(250_000), w.FrozenAmount)

	entries := h.ledgerEntries(t, vendor)
	assert.Equal(t, domain.EscrowFreezeReference(a.ID), entries[0].Reference)

	won := h.notifier.ofType(domain.EventAuctionWon)
	require.Len(t, won, 1)
	assert.Equal(t, vendor, won[0].VendorID)
	assert.Equal(t, payment.ID, *won[0].PaymentID)
	assert.Equal(t, 1, h.audit.count(domain.AuditActionAuctionClosed))
}

func TestAuction_Close_GatewayWhenWalletShort(t *testing.T) {
	h := newHarness(t)
	vendor := uuid.New()
	h.fund(t, vendor, 1_000)

	_, payment := h.wonAuction(t, vendor, 250_000)
	assert.Equal(t, domain.PaymentMethodGateway, payment.Method)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, h.clock.Now().Add(48*time.Hour), payment.Deadline)

	w := h.wallet(t, vendor)
	assert.Equal(t, int64(1_000), w.AvailableBalance, "nothing frozen")
	assert.Zero(t, w.FrozenAmount)
}

func TestAuction_Close_DriftedWalletFallsBackToGateway(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vendor := uuid.New()
	h.fund(t, vendor, 500_000)
	w := h.wallet(t, vendor)
	w.Balance += 7
	require.NoError(t, h.wallets.Seed(ctx, w))

	_, payment := h.wonAuction(t, vendor, 100_000)
	assert.Equal(t, domain.PaymentMethodGateway, payment.Method)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
}

func TestAuction_Close(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("without bids", func(t *testing.T) {
		a := h.listAuction(t, time.Minute, 1_000, 100)
		h.clock.Set(a.EndTime)
		defer h.clock.Set(t0)

		res, err := h.auctions.CloseAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.AuctionStatusClosed, res.Auction.Status)
		assert.Nil(t, res.Payment)
		assert.Empty(t, h.notifier.ofType(domain.EventAuctionWon))
	})

	t.Run("before end", func(t *testing.T) {
		a := h.listAuction(t, time.Hour, 1_000, 100)
		_, err := h.auctions.CloseAuction(ctx, a.ID)
		assert.True(t, apperror.HasCode(err, apperror.CodeAuctionNotEnded))
	})

	t.Run("cancelled", func(t *testing.T) {
		a := h.listAuction(t, time.Hour, 1_000, 100)
		_, err := h.auctions.CancelAuction(ctx, a.ID, domain.SystemActor, "withdrawn by insurer")
		require.NoError(t, err)
		_, err = h.auctions.CloseAuction(ctx, a.ID)
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition))
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := h.auctions.CloseAuction(ctx, uuid.New())
		assert.True(t, apperror.HasCode(err, apperror.CodeAuctionNotFound))
	})
}

func TestAuction_Close_SuspendedLeaderForfeits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vendor := uuid.New()
	h.fund(t, vendor, 500_000)
	a := h.listAuction(t, time.Hour, 100_000, 1_000)
	require.True(t, h.bid(t, a.ID, vendor, 100_000).Accepted)

	// Recorded directly, so the auction still names the vendor as leader.
	_, err := h.suspensions.Create(ctx, nil, &domain.VendorSuspension{
		VendorID: vendor, Reason: "3 confirmed fraud flags", ConfirmedFlags: 3, SuspendedAt: t0,
	})
	require.NoError(t, err)

	h.clock.Set(a.EndTime.Add(time.Second))
	res, err := h.auctions.CloseAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusClosed, res.Auction.Status)
	assert.Nil(t, res.Payment)
	assert.Nil(t, res.Auction.CurrentBidderID)
	assert.Empty(t, h.notifier.ofType(domain.EventAuctionWon))

	forfeit := h.audit.last(domain.AuditActionWinForfeited)
	require.NotNil(t, forfeit)
	assert.Equal(t, a.ID.String(), forfeit.EntityID)

	w := h.wallet(t, vendor)
	assert.Zero(t, w.FrozenAmount, "no escrow for a suspended winner")
	assert.Equal(t, int64(500_000), w.AvailableBalance)

	payment, err := h.paymentRepo.GetActiveByAuction(ctx, nil, a.ID)
	require.NoError(t, err)
	assert.Nil(t, payment)
}

func TestAuction_Close_Replay(t *testing.T) {
	h := newHarness(t)
	vendor := uuid.New()
	a, payment := h.wonAuction(t, vendor, 50_000)

	res, err := h.auctions.CloseAuction(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	require.NotNil(t, res.Payment)
	assert.Equal(t, payment.ID, res.Payment.ID)
	assert.Len(t, h.notifier.ofType(domain.EventAuctionWon), 1, "no second notification")
}

func TestAuction_Settle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	vendor := uuid.New()
	h.fund(t, vendor, 300_000)
	a, _ := h.wonAuction(t, vendor, 200_000)

	res, err := h.auctions.SettleAuction(ctx, a.ID, domain.SystemActor)
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, domain.AuctionStatusSettled, res.Auction.Status)
	require.NotNil(t, res.Auction.SettledAt)

	w := h.wallet(t, vendor)
	assert.Equal(t, int64(100_000), w.Balance)
	assert.Equal(t, int64(100_000), w.AvailableBalance)
	assert.Zero(t, w.FrozenAmount)
	assert.Equal(t, domain.ReleaseReference(a.ID), h.ledgerEntries(t, vendor)[0].Reference)

	again, err := h.auctions.SettleAuction(ctx, a.ID, domain.SystemActor)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(100_000), h.wallet(t, vendor).Balance, "released once")
	assert.Equal(t, 1, h.audit.count(domain.AuditActionAuctionSettled))
}

func TestAuction_Settle_Preconditions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	t.Run("payment pending", func(t *testing.T) {
		a, _ := h.wonAuction(t, uuid.New(), 200_000)
		_, err := h.auctions.SettleAuction(ctx, a.ID, domain.SystemActor)
		assert.True(t, apperror.HasCode(err, apperror.CodePaymentNotVerified))
		assert.Equal(t, domain.AuctionStatusClosed, h.auction(t, a.ID).Status)
	})

	t.Run("still active", func(t *testing.T) {
		a := h.listAuction(t, time.Hour, 1_000, 100)
		_, err := h.auctions.SettleAuction(ctx, a.ID, domain.SystemActor)
		assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition))
	})

	t.Run("closed without winner", func(t *testing.T) {
		a := h.listAuction(t, time.Minute, 1_000, 100)
		h.clock.Set(a.EndTime)
		_, err := h.auctions.CloseAuction(ctx, a.ID)
		require.NoError(t, err)

		_, err = h.auctions.SettleAuction(ctx, a.ID, domain.SystemActor)
		assert.True(t, apperror.HasCode(err, apperror.CodePaymentNotVerified))
	})
}

func TestAuction_Cancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	admin := domain.UserActor(uuid.New(), domain.ActorAdmin)
	a := h.listAuction(t, time.Hour, 1_000, 100)

	cancelled, err := h.auctions.CancelAuction(ctx, a.ID, admin, "duplicate listing")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	entry := h.audit.last(domain.AuditActionAuctionCancelled)
	require.NotNil(t, entry)
	assert.Contains(t, entry.After, "duplicate listing")

	_, err = h.auctions.CancelAuction(ctx, a.ID, admin, "again")
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidTransition))

	res := h.bid(t, a.ID, uuid.New(), 1_000)
	assert.False(t, res.Accepted)
	assert.Equal(t, domain.BidRejectAuctionEnded, res.Reason)
}

func TestAuction_GetAuction(t *testing.T) {
	ctrl := gomock.NewController(t)
	cache := mocks.NewMockReadCache(ctrl)
	h := newHarness(t)
	svc := NewAuctionService(Runtime{Transactor: h.store, Clock: h.clock, Log: newTestLogger()},
		h.auctionRepo, h.bidRepo, h.paymentRepo, h.suspensions, h.ledger, h.tiers, nil, cache,
		AuctionPolicy{AuctionTTL: 5 * time.Second})
	ctx := context.Background()
	a := h.listAuction(t, time.Hour, 1_000, 100)
	key := "auction:" + a.ID.String()

	cache.EXPECT().Get(gomock.Any(), key).Return(nil, nil)
	cache.EXPECT().Set(gomock.Any(), key, gomock.Any(), 5*time.Second).Return(nil)
	got, err := svc.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)

	cache.EXPECT().Delete(gomock.Any(), key).Return(nil)
	res, err := svc.PlaceBid(ctx, ports.PlaceBidRequest{AuctionID: a.ID, VendorID: uuid.New(), Amount: 1_000})
	require.NoError(t, err)
	require.True(t, res.Accepted)

	cache.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, nil)
	_, err = svc.GetAuction(ctx, uuid.New())
	assert.True(t, apperror.HasCode(err, apperror.CodeAuctionNotFound))
}
