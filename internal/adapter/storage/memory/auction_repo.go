package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AuctionRepo implements ports.AuctionRepository.
type AuctionRepo struct {
	store *Store
}

// NewAuctionRepo creates an AuctionRepo backed by the store.
func NewAuctionRepo(s *Store) *AuctionRepo {
	return &AuctionRepo{store: s}
}

func (r *AuctionRepo) Create(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	return r.store.write(ctx, tx, func(st *state) error {
		if a.Status == domain.AuctionStatusActive && hasActiveForCase(st, a.CaseID) {
			return fmt.Errorf("insert auction: case %s already has an active auction", a.CaseID)
		}
		st.auctions[a.ID] = *a
		return nil
	})
}

func (r *AuctionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	return r.get(nil, id)
}

func (r *AuctionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Auction, error) {
	return r.get(tx, id)
}

func (r *AuctionRepo) Update(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	return r.store.write(ctx, tx, func(st *state) error {
		if _, ok := st.auctions[a.ID]; !ok {
			return fmt.Errorf("auction not found: %s", a.ID)
		}
		st.auctions[a.ID] = *a
		return nil
	})
}

func (r *AuctionRepo) HasActiveForCase(ctx context.Context, tx pgx.Tx, caseID uuid.UUID) (bool, error) {
	var exists bool
	err := r.store.view(tx, func(st *state) error {
		exists = hasActiveForCase(st, caseID)
		return nil
	})
	return exists, err
}

func (r *AuctionRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	out, err := r.filter(nil, func(st *state, a domain.Auction) bool {
		return a.Status == domain.AuctionStatusActive && !a.EndTime.After(now)
	})
	slices.SortFunc(out, func(a, b domain.Auction) int { return a.EndTime.Compare(b.EndTime) })
	return head(out, limit), err
}

func (r *AuctionRepo) ListClosedWithVerifiedPayment(ctx context.Context, limit int) ([]domain.Auction, error) {
	out, err := r.filter(nil, func(st *state, a domain.Auction) bool {
		if a.Status != domain.AuctionStatusClosed {
			return false
		}
		p, ok := activePayment(st, a.ID)
		return ok && p.Status == domain.PaymentStatusVerified
	})
	slices.SortFunc(out, func(a, b domain.Auction) int { return compareTimePtr(a.ClosedAt, b.ClosedAt) })
	return head(out, limit), err
}

func (r *AuctionRepo) ListSettledAwaitingPayout(ctx context.Context, limit int) ([]domain.Auction, error) {
	out, err := r.filter(nil, func(st *state, a domain.Auction) bool {
		return a.Status == domain.AuctionStatusSettled && a.PayoutReference == nil
	})
	slices.SortFunc(out, func(a, b domain.Auction) int { return compareTimePtr(a.SettledAt, b.SettledAt) })
	return head(out, limit), err
}

func (r *AuctionRepo) ListActiveLedByForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) ([]domain.Auction, error) {
	out, err := r.filter(tx, func(st *state, a domain.Auction) bool {
		return a.Status == domain.AuctionStatusActive && a.CurrentBidderID != nil && *a.CurrentBidderID == vendorID
	})
	slices.SortFunc(out, func(a, b domain.Auction) int { return compareUUID(a.ID, b.ID) })
	return out, err
}

func (r *AuctionRepo) get(tx pgx.Tx, id uuid.UUID) (*domain.Auction, error) {
	var out *domain.Auction
	err := r.store.view(tx, func(st *state) error {
		if a, ok := st.auctions[id]; ok {
			out = &a
		}
		return nil
	})
	return out, err
}

func (r *AuctionRepo) filter(tx pgx.Tx, keep func(st *state, a domain.Auction) bool) ([]domain.Auction, error) {
	var out []domain.Auction
	err := r.store.view(tx, func(st *state) error {
		for _, a := range st.auctions {
			if keep(st, a) {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func hasActiveForCase(st *state, caseID uuid.UUID) bool {
	for _, a := range st.auctions {
		if a.CaseID == caseID && a.Status == domain.AuctionStatusActive {
			return true
		}
	}
	return false
}

func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func compareUUID(a, b uuid.UUID) int {
	return slices.Compare(a[:], b[:])
}

// BidRepo implements ports.BidRepository.
type BidRepo struct {
	store *Store
}

// NewBidRepo creates a BidRepo backed by the store.
func NewBidRepo(s *Store) *BidRepo {
	return &BidRepo{store: s}
}

func (r *BidRepo) Create(ctx context.Context, tx pgx.Tx, b *domain.Bid) error {
	return r.store.write(ctx, tx, func(st *state) error {
		st.bids = append(st.bids, *b)
		return nil
	})
}

func (r *BidRepo) ListByAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error) {
	var out []domain.Bid
	err := r.store.view(nil, func(st *state) error {
		for i := len(st.bids) - 1; i >= 0; i-- {
			if st.bids[i].AuctionID == auctionID {
				out = append(out, st.bids[i])
			}
		}
		return nil
	})
	return head(out, limit), err
}

func (r *BidRepo) RevokeActiveByVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int64, error) {
	var n int64
	err := r.store.write(ctx, tx, func(st *state) error {
		for i := range st.bids {
			b := &st.bids[i]
			if b.VendorID != vendorID || b.Status != domain.BidStatusAccepted {
				continue
			}
			if a, ok := st.auctions[b.AuctionID]; ok && a.Status == domain.AuctionStatusActive {
				b.Status = domain.BidStatusRevoked
				n++
			}
		}
		return nil
	})
	return n, err
}
