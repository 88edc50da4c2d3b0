package domain

import (
	"time"

	"github.com/google/uuid"
)

// FraudFlagKind classifies a suspicious pattern.
type FraudFlagKind string

const (
	FraudKindNonPayment   FraudFlagKind = "non_payment"
	FraudKindShillBidding FraudFlagKind = "shill_bidding"
	FraudKindFakeProof    FraudFlagKind = "fake_proof"
	FraudKindManual       FraudFlagKind = "manual"
)

// IsValid reports whether k is a known kind.
func (k FraudFlagKind) IsValid() bool {
	switch k {
	case FraudKindNonPayment, FraudKindShillBidding, FraudKindFakeProof, FraudKindManual:
		return true
	}
	return false
}

// FraudFlag is an append-only record of a suspicious pattern.
type FraudFlag struct {
	ID        uuid.UUID     `json:"id"`
	VendorID  uuid.UUID     `json:"vendor_id"`
	AuctionID *uuid.UUID    `json:"auction_id,omitempty"`
	Kind      FraudFlagKind `json:"kind"`
	Details   string        `json:"details,omitempty"`
	RaisedBy  *uuid.UUID    `json:"raised_by,omitempty"` // nil for system-raised flags
	CreatedAt time.Time     `json:"created_at"`
}

// ReviewDecision is a reviewer's verdict on a flag.
type ReviewDecision string

const (
	ReviewConfirmed ReviewDecision = "confirmed"
	ReviewDismissed ReviewDecision = "dismissed"
)

// FraudFlagReview is the single, append-only decision attached to a flag.
type FraudFlagReview struct {
	ID            uuid.UUID      `json:"id"`
	FlagID        uuid.UUID      `json:"flag_id"`
	Decision      ReviewDecision `json:"decision"`
	ReviewerID    uuid.UUID      `json:"reviewer_id"`
	Justification string         `json:"justification,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// VendorSuspension exists at most once per vendor.
type VendorSuspension struct {
	VendorID       uuid.UUID `json:"vendor_id"`
	Reason         string    `json:"reason"`
	ConfirmedFlags int       `json:"confirmed_flags"`
	RevokedBids    int64     `json:"revoked_bids"`
	SuspendedAt    time.Time `json:"suspended_at"`
}

// VendorFlagCount is the number of confirmed flags held by a vendor.
type VendorFlagCount struct {
	VendorID  uuid.UUID `json:"vendor_id"`
	Confirmed int       `json:"confirmed"`
}
