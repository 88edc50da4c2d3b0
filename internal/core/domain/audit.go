package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionLedgerCredit     AuditAction = "LEDGER_CREDIT"
	AuditActionLedgerFreeze     AuditAction = "LEDGER_FREEZE"
	AuditActionLedgerUnfreeze   AuditAction = "LEDGER_UNFREEZE"
	AuditActionLedgerRelease    AuditAction = "LEDGER_RELEASE"
	AuditActionBalanceCorrected AuditAction = "BALANCE_CORRECTED"
	AuditActionAuctionCreated   AuditAction = "AUCTION_CREATED"
	AuditActionBidPlaced        AuditAction = "BID_PLACED"
	AuditActionAuctionClosed    AuditAction = "AUCTION_CLOSED"
	AuditActionAuctionSettled   AuditAction = "AUCTION_SETTLED"
	AuditActionAuctionCancelled AuditAction = "AUCTION_CANCELLED"
	AuditActionWinForfeited     AuditAction = "WIN_FORFEITED"
	AuditActionAuctionRelisted  AuditAction = "AUCTION_RELISTED"
	AuditActionPayoutInitiated  AuditAction = "PAYOUT_INITIATED"
	AuditActionPaymentVerified  AuditAction = "PAYMENT_VERIFIED"
	AuditActionPaymentProof     AuditAction = "PAYMENT_PROOF_SUBMITTED"
	AuditActionPaymentRejected  AuditAction = "PAYMENT_REJECTED"
	AuditActionPaymentForced    AuditAction = "PAYMENT_FORCE_CONFIRMED"
	AuditActionPaymentOverdue   AuditAction = "PAYMENT_OVERDUE"
	AuditActionPaymentMismatch  AuditAction = "PAYMENT_AMOUNT_MISMATCH"
	AuditActionLatePayment      AuditAction = "LATE_PAYMENT_CREDITED"
	AuditActionDuplicateCapture AuditAction = "PAYMENT_DUPLICATE_CAPTURE"
	AuditActionWalletFunded     AuditAction = "WALLET_FUNDED"
	AuditActionFlagRaised       AuditAction = "FRAUD_FLAG_RAISED"
	AuditActionFlagConfirmed    AuditAction = "FRAUD_FLAG_CONFIRMED"
	AuditActionFlagDismissed    AuditAction = "FRAUD_FLAG_DISMISSED"
	AuditActionVendorSuspended  AuditAction = "VENDOR_SUSPENDED"
	AuditActionSweepTriggered   AuditAction = "SWEEP_TRIGGERED"
)

// ActorType says who performed an action.
type ActorType string

const (
	ActorSystem  ActorType = "system"
	ActorVendor  ActorType = "vendor"
	ActorAdmin   ActorType = "admin"
	ActorFinance ActorType = "finance"
	ActorGateway ActorType = "gateway"
)

// Actor identifies the caller of a mutating operation.
type Actor struct {
	ID   *uuid.UUID `json:"id,omitempty"`
	Type ActorType  `json:"type"`
}

// SystemActor is used by enforcement jobs.
var SystemActor = Actor{Type: ActorSystem}

// GatewayActor is used for webhook-driven changes.
var GatewayActor = Actor{Type: ActorGateway}

// UserActor builds an actor for an authenticated user.
func UserActor(id uuid.UUID, typ ActorType) Actor {
	return Actor{ID: &id, Type: typ}
}

// AuditLog records a single audited action with before/after snapshots.
type AuditLog struct {
	ID         uuid.UUID   `json:"id"`
	ActorID    *uuid.UUID  `json:"actor_id,omitempty"`
	ActorType  ActorType   `json:"actor_type"`
	Action     AuditAction `json:"action"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Before     string      `json:"before,omitempty"` // JSON snapshot
	After      string      `json:"after,omitempty"`  // JSON snapshot
	CreatedAt  time.Time   `json:"created_at"`
}

// NewAuditLog builds an entry, marshaling snapshots to JSON. Nil snapshots stay empty.
func NewAuditLog(actor Actor, action AuditAction, entityType, entityID string, before, after any) *AuditLog {
	return &AuditLog{
		ID:         uuid.New(),
		ActorID:    actor.ID,
		ActorType:  actor.Type,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     snapshot(before),
		After:      snapshot(after),
	}
}

func snapshot(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
