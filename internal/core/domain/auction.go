package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuctionStatus is the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusClosed    AuctionStatus = "closed"
	AuctionStatusSettled   AuctionStatus = "settled"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// rank orders statuses so that transitions can only move forward.
func (s AuctionStatus) rank() int {
	switch s {
	case AuctionStatusActive:
		return 0
	case AuctionStatusClosed:
		return 1
	case AuctionStatusSettled, AuctionStatusCancelled:
		return 2
	default:
		return -1
	}
}

// IsTerminal returns true for settled and cancelled auctions.
func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionStatusSettled || s == AuctionStatusCancelled
}

// CanTransitionTo reports whether the state machine permits s -> next.
//
//	active -> closed -> settled
//	active -> cancelled            (administrative)
//	closed -> cancelled            (win forfeited after non-payment)
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	if next.rank() <= s.rank() {
		return false
	}
	switch s {
	case AuctionStatusActive:
		return next == AuctionStatusClosed || next == AuctionStatusCancelled
	case AuctionStatusClosed:
		return next == AuctionStatusSettled || next == AuctionStatusCancelled
	default:
		return false
	}
}

// Auction is the bidding state for one salvage case.
type Auction struct {
	ID               uuid.UUID     `json:"id"`
	CaseID           uuid.UUID     `json:"case_id"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	OriginalEndTime  time.Time     `json:"original_end_time"`
	ExtensionCount   int           `json:"extension_count"`
	StartingBid      int64         `json:"starting_bid"`
	CurrentBid       int64         `json:"current_bid"`
	CurrentBidderID  *uuid.UUID    `json:"current_bidder_id,omitempty"`
	MinimumIncrement int64         `json:"minimum_increment"`
	Status           AuctionStatus `json:"status"`
	RelistedFrom     *uuid.UUID    `json:"relisted_from,omitempty"`
	PayoutReference  *string       `json:"payout_reference,omitempty"`
	ClosedAt         *time.Time    `json:"closed_at,omitempty"`
	SettledAt        *time.Time    `json:"settled_at,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// HasWinner returns true when a bidder currently leads.
func (a *Auction) HasWinner() bool {
	return a.CurrentBidderID != nil
}

// MinimumNextBid is the smallest acceptable amount for the next bid.
// The first bid may match the starting bid; later bids must clear the increment.
func (a *Auction) MinimumNextBid() int64 {
	if a.CurrentBidderID == nil {
		return a.CurrentBid
	}
	return a.CurrentBid + a.MinimumIncrement
}

// HasEnded reports whether bidding is over at now.
func (a *Auction) HasEnded(now time.Time) bool {
	return !now.Before(a.EndTime)
}

// ExtensionPolicy configures anti-sniping.
// MaxTotal caps EndTime at OriginalEndTime+MaxTotal; zero means no cap.
type ExtensionPolicy struct {
	Window    time.Duration
	Increment time.Duration
	MaxTotal  time.Duration
}

// BidRejectReason explains why a bid was not accepted.
type BidRejectReason string

const (
	BidRejectNone              BidRejectReason = ""
	BidRejectTooLow            BidRejectReason = "BidTooLow"
	BidRejectAuctionEnded      BidRejectReason = "AuctionEnded"
	BidRejectTierLimitExceeded BidRejectReason = "TierLimitExceeded"
	BidRejectVendorSuspended   BidRejectReason = "VendorSuspended"
)

// EvaluateBid checks a bid against the locked auction row.
func (a *Auction) EvaluateBid(amount int64, now time.Time) BidRejectReason {
	if a.Status != AuctionStatusActive || a.HasEnded(now) || now.Before(a.StartTime) {
		return BidRejectAuctionEnded
	}
	if amount < a.MinimumNextBid() {
		return BidRejectTooLow
	}
	return BidRejectNone
}

// AcceptBid records the new leader and applies anti-sniping.
// It returns true when EndTime was extended.
func (a *Auction) AcceptBid(vendorID uuid.UUID, amount int64, now time.Time, policy ExtensionPolicy) bool {
	bidder := vendorID
	a.CurrentBid = amount
	a.CurrentBidderID = &bidder
	a.UpdatedAt = now

	if policy.Increment <= 0 || a.EndTime.Sub(now) > policy.Window {
		return false
	}

	next := a.EndTime.Add(policy.Increment)
	if policy.MaxTotal > 0 {
		limit := a.OriginalEndTime.Add(policy.MaxTotal)
		if next.After(limit) {
			next = limit
		}
	}
	if !next.After(a.EndTime) {
		return false
	}
	a.EndTime = next
	a.ExtensionCount++
	return true
}

// BidStatus marks whether a bid still stands.
type BidStatus string

const (
	BidStatusAccepted BidStatus = "accepted"
	BidStatusRevoked  BidStatus = "revoked" // vendor suspended for fraud
)

// Bid is an accepted bid. Only Status may change, and only accepted -> revoked.
type Bid struct {
	ID        uuid.UUID `json:"id"`
	AuctionID uuid.UUID `json:"auction_id"`
	VendorID  uuid.UUID `json:"vendor_id"`
	Amount    int64     `json:"amount"`
	Verified  bool      `json:"verified"` // tier limit checked at acceptance
	Status    BidStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
