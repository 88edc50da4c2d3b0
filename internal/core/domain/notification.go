package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a notification sent to the external notification service.
type EventType string

const (
	EventAuctionWon      EventType = "auction.won"
	EventPaymentOverdue  EventType = "payment.overdue"
	EventVendorSuspended EventType = "vendor.suspended"
)

// NotificationEvent carries entity IDs and amounts only.
type NotificationEvent struct {
	ID         uuid.UUID  `json:"id"`
	Type       EventType  `json:"type"`
	VendorID   uuid.UUID  `json:"vendor_id"`
	AuctionID  *uuid.UUID `json:"auction_id,omitempty"`
	PaymentID  *uuid.UUID `json:"payment_id,omitempty"`
	Amount     int64      `json:"amount,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}
