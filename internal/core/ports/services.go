package ports

//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

import (
	"context"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
)

// SignatureService handles HMAC signing and constant-time verification.
type SignatureService interface {
	Sign(secretKey string, payload []byte) string
	Verify(secretKey string, payload []byte, signature string) bool
}

// TokenService handles JWT token operations. Tokens are minted by the
// identity service; this process only validates them (Generate serves tooling).
type TokenService interface {
	Generate(subject uuid.UUID, role domain.ActorType) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Subject uuid.UUID
	Role    domain.ActorType
}

// IdempotencyCache is the Redis-layer webhook acknowledgement cache (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ReadCache serves display reads (balances, auction status). Mutations never read it.
type ReadCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil on miss
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// RateLimitResult holds the outcome of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   int64 // Unix timestamp
}

// RateLimitStore manages fixed window rate limit counters.
type RateLimitStore interface {
	// Allow checks and increments the counter for key.
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (*RateLimitResult, error)
}

// --- Service Ports (Business Logic) ---

// LedgerService owns wallets and the append-only transaction log.
type LedgerService interface {
	EnsureWallet(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error)
	Credit(ctx context.Context, req LedgerRequest) (*LedgerResult, error)
	Freeze(ctx context.Context, req LedgerRequest) (*LedgerResult, error)
	Unfreeze(ctx context.Context, req LedgerRequest) (*LedgerResult, error)
	Release(ctx context.Context, req LedgerRequest) (*LedgerResult, error)
	RecomputeBalance(ctx context.Context, walletID uuid.UUID, actor domain.Actor) (*RecomputeResult, error)
	GetWallet(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error)
	ListTransactions(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, int64, error)
}

// LedgerRequest is the input for every balance-changing ledger operation.
type LedgerRequest struct {
	WalletID    uuid.UUID
	Amount      int64
	Reference   string
	Description string
	Actor       domain.Actor
}

// LedgerResult is the outcome of a ledger operation. Replayed is set when the
// reference had already been applied and nothing changed.
type LedgerResult struct {
	Wallet      domain.Wallet            `json:"wallet"`
	Transaction domain.WalletTransaction `json:"transaction"`
	Replayed    bool                     `json:"replayed"`
}

// RecomputeResult reports a balance recomputation.
type RecomputeResult struct {
	Wallet      domain.Wallet             `json:"wallet"`
	Corrected   bool                      `json:"corrected"`
	Drift       int64                     `json:"drift"`
	Transaction *domain.WalletTransaction `json:"transaction,omitempty"`
}

// AuctionService owns auctions and bids.
type AuctionService interface {
	CreateAuction(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error)
	PlaceBid(ctx context.Context, req PlaceBidRequest) (*BidResult, error)
	CloseAuction(ctx context.Context, auctionID uuid.UUID) (*CloseResult, error)
	SettleAuction(ctx context.Context, auctionID uuid.UUID, actor domain.Actor) (*SettleResult, error)
	CancelAuction(ctx context.Context, auctionID uuid.UUID, actor domain.Actor, reason string) (*domain.Auction, error)
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error)
}

// CreateAuctionRequest holds validated input for listing a salvage case.
type CreateAuctionRequest struct {
	CaseID           uuid.UUID
	StartTime        time.Time
	EndTime          time.Time
	StartingBid      int64
	MinimumIncrement int64
	Actor            domain.Actor
}

// PlaceBidRequest holds validated bid input.
type PlaceBidRequest struct {
	AuctionID uuid.UUID
	VendorID  uuid.UUID
	Amount    int64
}

// BidResult is returned for accepted and rejected bids alike.
type BidResult struct {
	Accepted       bool                   `json:"accepted"`
	Reason         domain.BidRejectReason `json:"reason,omitempty"`
	Bid            *domain.Bid            `json:"bid,omitempty"`
	Auction        *domain.Auction        `json:"auction,omitempty"`
	Extended       bool                   `json:"extended"`
	MinimumNextBid int64                  `json:"minimum_next_bid"`
}

// CloseResult is the outcome of closing an auction.
type CloseResult struct {
	Auction  domain.Auction  `json:"auction"`
	Payment  *domain.Payment `json:"payment,omitempty"`
	Replayed bool            `json:"replayed"`
}

// SettleResult is the outcome of settling an auction.
type SettleResult struct {
	Auction  domain.Auction `json:"auction"`
	Payment  domain.Payment `json:"payment"`
	Replayed bool           `json:"replayed"`
}

// ReconciliationService ingests payment evidence and drives ledger and auction state.
type ReconciliationService interface {
	HandleGatewayWebhook(ctx context.Context, rawBody []byte, signature string) (*domain.WebhookAck, error)
	InitiateCheckout(ctx context.Context, paymentID, vendorID uuid.UUID) (*ChargeSession, error)
	InitiateFunding(ctx context.Context, vendorID uuid.UUID, amount int64) (*ChargeSession, error)
	SubmitProof(ctx context.Context, req SubmitProofRequest) (*domain.Payment, error)
	ConfirmManual(ctx context.Context, paymentID uuid.UUID, reviewer domain.Actor) (*domain.Payment, error)
	RejectManual(ctx context.Context, paymentID uuid.UUID, reviewer domain.Actor, reason string) (*RejectResult, error)
	ForceConfirm(ctx context.Context, req ForceConfirmRequest) (*ForceConfirmResult, error)
	GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error)
}

// SubmitProofRequest attaches a bank transfer proof to a pending payment.
type SubmitProofRequest struct {
	PaymentID      uuid.UUID
	VendorID       uuid.UUID
	ProofReference string // object storage key of the uploaded image
	BankReference  string
}

// RejectResult carries the rejected payment and its replacement, if any.
type RejectResult struct {
	Rejected    domain.Payment  `json:"rejected"`
	Replacement *domain.Payment `json:"replacement,omitempty"`
}

// ForceConfirmRequest is the operator path for captured-but-unverified payments.
type ForceConfirmRequest struct {
	PaymentID        uuid.UUID
	Actor            domain.Actor
	Justification    string
	GatewayReference string // optional; verified with the gateway when set
}

// ForceConfirmResult reports the confirmed payment and the balance recomputation.
type ForceConfirmResult struct {
	Payment   domain.Payment  `json:"payment"`
	Credit    LedgerResult    `json:"credit"`
	Recompute RecomputeResult `json:"recompute"`
}

// FraudService manages fraud flags and their review.
type FraudService interface {
	RaiseFlag(ctx context.Context, req RaiseFlagRequest) (*domain.FraudFlag, error)
	ConfirmFlag(ctx context.Context, flagID uuid.UUID, reviewer domain.Actor) (*domain.FraudFlagReview, error)
	DismissFlag(ctx context.Context, flagID uuid.UUID, reviewer domain.Actor, justification string) (*domain.FraudFlagReview, error)
	IsSuspended(ctx context.Context, vendorID uuid.UUID) (bool, error)
}

// RaiseFlagRequest holds input for a new fraud flag.
type RaiseFlagRequest struct {
	VendorID  uuid.UUID
	AuctionID *uuid.UUID
	Kind      domain.FraudFlagKind
	Details   string
	Actor     domain.Actor
}

// EnforcementService runs the time-driven sweeps.
type EnforcementService interface {
	CloseExpiredAuctions(ctx context.Context) SweepReport
	ExpireOverduePayments(ctx context.Context) SweepReport
	SettleVerifiedAuctions(ctx context.Context) SweepReport
	SuspendFraudulentVendors(ctx context.Context) SweepReport
	ReconcileWallets(ctx context.Context) SweepReport
	RunJob(ctx context.Context, job string) (*SweepReport, error)
}

// Sweep job names.
const (
	JobCloseAuctions   = "close_auctions"
	JobExpirePayments  = "expire_payments"
	JobSettleAuctions  = "settle_auctions"
	JobSuspendVendors  = "suspend_vendors"
	JobReconcileWallet = "reconcile_wallets"
)

// SweepReport collects per-item outcomes for one sweep run.
type SweepReport struct {
	Job       string       `json:"job"`
	StartedAt time.Time    `json:"started_at"`
	Scanned   int          `json:"scanned"`
	Succeeded int          `json:"succeeded"`
	Skipped   int          `json:"skipped"`
	Failed    int          `json:"failed"`
	Errors    []SweepError `json:"errors,omitempty"`
}

// SweepError records one failed item.
type SweepError struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// AuditService records audit entries without blocking the caller.
type AuditService interface {
	Log(ctx context.Context, entry *domain.AuditLog)
}
