package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const auctionColumns = `id, case_id, start_time, end_time, original_end_time, extension_count,
	starting_bid, current_bid, current_bidder_id, minimum_increment, status, relisted_from,
	payout_reference, closed_at, settled_at, cancelled_at, created_at, updated_at`

// AuctionRepo implements ports.AuctionRepository.
type AuctionRepo struct {
	pool Pool
}

// NewAuctionRepo creates a new AuctionRepo.
func NewAuctionRepo(pool Pool) *AuctionRepo {
	return &AuctionRepo{pool: pool}
}

// Create inserts a new auction within a database transaction.
func (r *AuctionRepo) Create(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	query := `INSERT INTO auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	_, err := tx.Exec(ctx, query,
		a.ID, a.CaseID, a.StartTime, a.EndTime, a.OriginalEndTime, a.ExtensionCount,
		a.StartingBid, a.CurrentBid, a.CurrentBidderID, a.MinimumIncrement, a.Status, a.RelistedFrom,
		a.PayoutReference, a.ClosedAt, a.SettledAt, a.CancelledAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert auction: %w", err)
	}
	return nil
}

// GetByID fetches an auction without locking.
func (r *AuctionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	return scanAuction(r.pool.QueryRow(ctx, query, id), "get auction by id")
}

// GetByIDForUpdate fetches an auction with pessimistic locking.
// This MUST be called within a transaction.
func (r *AuctionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1 FOR UPDATE`
	return scanAuction(tx.QueryRow(ctx, query, id), "get auction for update")
}

// Update persists the mutable auction fields.
func (r *AuctionRepo) Update(ctx context.Context, tx pgx.Tx, a *domain.Auction) error {
	query := `UPDATE auctions SET end_time = $1, extension_count = $2, current_bid = $3,
		current_bidder_id = $4, status = $5, payout_reference = $6, closed_at = $7,
		settled_at = $8, cancelled_at = $9, updated_at = $10
		WHERE id = $11`

	tag, err := tx.Exec(ctx, query,
		a.EndTime, a.ExtensionCount, a.CurrentBid, a.CurrentBidderID, a.Status,
		a.PayoutReference, a.ClosedAt, a.SettledAt, a.CancelledAt, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("update auction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auction not found: %s", a.ID)
	}
	return nil
}

// HasActiveForCase reports whether the case already has an active auction.
func (r *AuctionRepo) HasActiveForCase(ctx context.Context, tx pgx.Tx, caseID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM auctions WHERE case_id = $1 AND status = 'active')`

	var exists bool
	if err := pick(r.pool, tx).QueryRow(ctx, query, caseID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check active auction for case: %w", err)
	}
	return exists, nil
}

// ListExpiredActive returns active auctions whose end time has passed.
func (r *AuctionRepo) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE status = 'active' AND end_time <= $1
		ORDER BY end_time LIMIT $2`
	return r.list(ctx, r.pool, "list expired auctions", query, now, limit)
}

// ListClosedWithVerifiedPayment returns closed auctions ready for settlement.
func (r *AuctionRepo) ListClosedWithVerifiedPayment(ctx context.Context, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + prefixed("a", auctionColumns) + ` FROM auctions a
		JOIN payments p ON p.auction_id = a.id AND p.status = 'verified'
		WHERE a.status = 'closed'
		ORDER BY a.closed_at LIMIT $1`
	return r.list(ctx, r.pool, "list settleable auctions", query, limit)
}

// ListSettledAwaitingPayout returns settled auctions with no insurer payout yet.
func (r *AuctionRepo) ListSettledAwaitingPayout(ctx context.Context, limit int) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE status = 'settled' AND payout_reference IS NULL
		ORDER BY settled_at LIMIT $1`
	return r.list(ctx, r.pool, "list auctions awaiting payout", query, limit)
}

// ListActiveLedByForUpdate locks the active auctions the vendor currently leads.
// Rows are locked in id order.
func (r *AuctionRepo) ListActiveLedByForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) ([]domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions
		WHERE status = 'active' AND current_bidder_id = $1
		ORDER BY id FOR UPDATE`
	return r.list(ctx, tx, "list auctions led by vendor", query, vendorID)
}

func (r *AuctionRepo) list(ctx context.Context, q querier, op, query string, args ...any) ([]domain.Auction, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var auctions []domain.Auction
	for rows.Next() {
		var a domain.Auction
		if err := rows.Scan(auctionDest(&a)...); err != nil {
			return nil, fmt.Errorf("scan auction row: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate auction rows: %w", err)
	}
	return auctions, nil
}

func auctionDest(a *domain.Auction) []any {
	return []any{
		&a.ID, &a.CaseID, &a.StartTime, &a.EndTime, &a.OriginalEndTime, &a.ExtensionCount,
		&a.StartingBid, &a.CurrentBid, &a.CurrentBidderID, &a.MinimumIncrement, &a.Status, &a.RelistedFrom,
		&a.PayoutReference, &a.ClosedAt, &a.SettledAt, &a.CancelledAt, &a.CreatedAt, &a.UpdatedAt,
	}
}

func scanAuction(row pgx.Row, op string) (*domain.Auction, error) {
	a := &domain.Auction{}
	if err := row.Scan(auctionDest(a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}
