package postgres

import (
	"context"
	"fmt"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BidRepo implements ports.BidRepository.
type BidRepo struct {
	pool Pool
}

// NewBidRepo creates a new BidRepo.
func NewBidRepo(pool Pool) *BidRepo {
	return &BidRepo{pool: pool}
}

// Create records an accepted bid within the bid transaction.
func (r *BidRepo) Create(ctx context.Context, tx pgx.Tx, b *domain.Bid) error {
	query := `INSERT INTO bids (id, auction_id, vendor_id, amount, verified, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := tx.Exec(ctx, query, b.ID, b.AuctionID, b.VendorID, b.Amount, b.Verified, b.Status, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert bid: %w", err)
	}
	return nil
}

// ListByAuction returns the auction's bids, newest first.
func (r *BidRepo) ListByAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error) {
	query := `SELECT id, auction_id, vendor_id, amount, verified, status, created_at
		FROM bids WHERE auction_id = $1 ORDER BY created_at DESC, amount DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, auctionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list bids: %w", err)
	}
	defer rows.Close()

	var bids []domain.Bid
	for rows.Next() {
		var b domain.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.VendorID, &b.Amount, &b.Verified, &b.Status, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan bid row: %w", err)
		}
		bids = append(bids, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bid rows: %w", err)
	}
	return bids, nil
}

// RevokeActiveByVendor revokes the vendor's accepted bids on auctions still open.
func (r *BidRepo) RevokeActiveByVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int64, error) {
	query := `UPDATE bids SET status = 'revoked'
		WHERE vendor_id = $1 AND status = 'accepted'
		AND auction_id IN (SELECT id FROM auctions WHERE status = 'active')`

	tag, err := tx.Exec(ctx, query, vendorID)
	if err != nil {
		return 0, fmt.Errorf("revoke vendor bids: %w", err)
	}
	return tag.RowsAffected(), nil
}
