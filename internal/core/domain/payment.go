package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is how the winner settles.
type PaymentMethod string

const (
	PaymentMethodEscrow       PaymentMethod = "escrow"
	PaymentMethodGateway      PaymentMethod = "gateway"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
)

// PaymentStatus moves pending -> verified | rejected | overdue, never back.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusVerified PaymentStatus = "verified"
	PaymentStatusRejected PaymentStatus = "rejected"
	PaymentStatusOverdue  PaymentStatus = "overdue"
)

// CanTransitionTo reports whether the payment may move to next.
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s != PaymentStatusPending {
		return false
	}
	return next == PaymentStatusVerified || next == PaymentStatusRejected || next == PaymentStatusOverdue
}

// Payment is the winner's obligation for a closed auction.
type Payment struct {
	ID               uuid.UUID     `json:"id"`
	AuctionID        uuid.UUID     `json:"auction_id"`
	VendorID         uuid.UUID     `json:"vendor_id"`
	Amount           int64         `json:"amount"`
	Method           PaymentMethod `json:"payment_method"`
	PaymentReference *string       `json:"payment_reference,omitempty"`
	ProofReference   *string       `json:"proof_reference,omitempty"`
	Status           PaymentStatus `json:"status"`
	AutoVerified     bool          `json:"auto_verified"`
	Deadline         time.Time     `json:"payment_deadline"`
	VerifiedAt       *time.Time    `json:"verified_at,omitempty"`
	VerifiedBy       *uuid.UUID    `json:"verified_by,omitempty"`
	RejectionReason  *string       `json:"rejection_reason,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// IsPastDeadline reports whether a pending payment missed its deadline.
func (p *Payment) IsPastDeadline(now time.Time) bool {
	return p.Status == PaymentStatusPending && now.After(p.Deadline)
}

// MarkVerified moves a pending payment to verified.
func (p *Payment) MarkVerified(now time.Time, auto bool, by *uuid.UUID) {
	p.Status = PaymentStatusVerified
	p.AutoVerified = auto
	p.VerifiedAt = &now
	p.VerifiedBy = by
	p.UpdatedAt = now
}
