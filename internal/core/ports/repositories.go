package ports

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks

import (
	"context"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Methods accepting pgx.Tx run inside the caller's transaction; the ...ForUpdate
// variants take a row lock held until commit. Read methods documented as
// accepting a nil tx fall back to the pool.

// WalletRepository defines persistence operations for wallets.
type WalletRepository interface {
	// CreateIfAbsent inserts the wallet unless the vendor already has one.
	CreateIfAbsent(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error)
	GetByVendorID(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error)
	GetByVendorIDForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.Wallet, error)
	UpdateBalances(ctx context.Context, tx pgx.Tx, wallet *domain.Wallet) error
	// ListDrifted returns wallets where balance != available + frozen.
	ListDrifted(ctx context.Context, limit int) ([]domain.Wallet, error)
}

// WalletTransactionRepository is the append-only ledger log.
type WalletTransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.WalletTransaction) error
	// GetByReference accepts a nil tx.
	GetByReference(ctx context.Context, tx pgx.Tx, reference string) (*domain.WalletTransaction, error)
	ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, int64, error)
}

// AuctionRepository defines persistence operations for auctions.
type AuctionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, auction *domain.Auction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Auction, error)
	Update(ctx context.Context, tx pgx.Tx, auction *domain.Auction) error
	HasActiveForCase(ctx context.Context, tx pgx.Tx, caseID uuid.UUID) (bool, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]domain.Auction, error)
	ListClosedWithVerifiedPayment(ctx context.Context, limit int) ([]domain.Auction, error)
	ListSettledAwaitingPayout(ctx context.Context, limit int) ([]domain.Auction, error)
	// ListActiveLedByForUpdate locks every active auction the vendor currently leads.
	ListActiveLedByForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) ([]domain.Auction, error)
}

// BidRepository defines persistence operations for bids.
type BidRepository interface {
	Create(ctx context.Context, tx pgx.Tx, bid *domain.Bid) error
	ListByAuction(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error)
	// RevokeActiveByVendor marks the vendor's accepted bids on active auctions as revoked.
	RevokeActiveByVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int64, error)
}

// PaymentRepository defines persistence operations for payments.
type PaymentRepository interface {
	Create(ctx context.Context, tx pgx.Tx, payment *domain.Payment) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error)
	// GetActiveByAuction returns the auction's non-rejected payment. Accepts a nil tx.
	GetActiveByAuction(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*domain.Payment, error)
	GetByReference(ctx context.Context, reference string) (*domain.Payment, error)
	Update(ctx context.Context, tx pgx.Tx, payment *domain.Payment) error
	ListPendingPastDeadline(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error)
}

// FraudRepository stores flags and their single review decision.
type FraudRepository interface {
	CreateFlag(ctx context.Context, tx pgx.Tx, flag *domain.FraudFlag) error
	GetFlag(ctx context.Context, id uuid.UUID) (*domain.FraudFlag, error)
	// CreateReview returns false when the flag already has a review.
	CreateReview(ctx context.Context, tx pgx.Tx, review *domain.FraudFlagReview) (bool, error)
	GetReview(ctx context.Context, flagID uuid.UUID) (*domain.FraudFlagReview, error)
	CountConfirmed(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int, error)
	// ListUnsuspendedAtThreshold returns vendors with at least threshold confirmed
	// flags and no suspension record.
	ListUnsuspendedAtThreshold(ctx context.Context, threshold, limit int) ([]domain.VendorFlagCount, error)
}

// SuspensionRepository records vendor suspensions.
type SuspensionRepository interface {
	// Create returns false when the vendor is already suspended.
	Create(ctx context.Context, tx pgx.Tx, s *domain.VendorSuspension) (bool, error)
	// GetByVendor reads inside tx when it is set.
	GetByVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.VendorSuspension, error)
	// LockVendor holds a per-vendor lock until tx ends. Bidders take it
	// shared, suspension takes it exclusive.
	LockVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, exclusive bool) error
}

// AuditRepository writes audit records.
type AuditRepository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
