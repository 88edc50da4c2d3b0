package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Ledger references double as idempotency keys. Every mutating path derives
// its reference from a stable identifier so webhook, manual and sweep paths
// converge on the same ledger entries.

func EscrowFreezeReference(auctionID uuid.UUID) string {
	return "auction:" + auctionID.String() + ":escrow"
}

func ReleaseReference(auctionID uuid.UUID) string {
	return "auction:" + auctionID.String() + ":release"
}

func GatewayCreditReference(gatewayRef string) string {
	return "gateway:" + gatewayRef
}

func ManualCreditReference(paymentID uuid.UUID) string {
	return "manual:" + paymentID.String()
}

func ForceConfirmReference(paymentID uuid.UUID) string {
	return "force:" + paymentID.String()
}

// FreezeSuffix derives the freeze reference paired with a credit reference.
func FreezeSuffix(creditRef string) string {
	return creditRef + ":freeze"
}

func CorrectionReference(walletID uuid.UUID, at time.Time) string {
	return "correction:" + walletID.String() + ":" + at.UTC().Format("20060102T150405.000000000")
}

// ChargeReference is the outbound idempotency key for a payment checkout.
func ChargeReference(paymentID uuid.UUID) string {
	return "pay_" + strings.ReplaceAll(paymentID.String(), "-", "")
}

// FundingReference is the outbound idempotency key for a wallet top-up.
func FundingReference() string {
	return "fund_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// PayoutReference is the outbound idempotency key for the insurer transfer.
func PayoutReference(auctionID uuid.UUID) string {
	return "payout_" + strings.ReplaceAll(auctionID.String(), "-", "")
}

// WebhookAck is the cached acknowledgement returned for a processed gateway event.
type WebhookAck struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
}

const (
	WebhookStatusProcessed = "processed"
	WebhookStatusDuplicate = "duplicate"
	WebhookStatusIgnored   = "ignored"
	WebhookStatusMismatch  = "mismatch"
	WebhookStatusLate      = "late_credit"
)
