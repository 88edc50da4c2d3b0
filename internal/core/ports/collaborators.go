package ports

//go:generate mockgen -source=collaborators.go -destination=mocks/mock_collaborators.go -package=mocks

import (
	"context"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
)

// Notifier delivers events to the notification service. Fire-and-forget:
// delivery failures are logged and never affect the caller.
type Notifier interface {
	Notify(ctx context.Context, event domain.NotificationEvent)
}

// TierProvider exposes the KYC tier bid limit for a vendor, in minor units.
type TierProvider interface {
	GetVendorTierLimit(ctx context.Context, vendorID uuid.UUID) (int64, error)
}

// PaymentGateway is the outbound side of the payment provider.
// Every call carries an idempotency reference generated by this service.
type PaymentGateway interface {
	InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeSession, error)
	VerifyCharge(ctx context.Context, reference string) (*ChargeVerification, error)
	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)
}

// ChargeRequest asks the gateway to collect funds from a vendor.
type ChargeRequest struct {
	Reference   string
	Amount      int64
	Currency    string
	VendorID    uuid.UUID
	CallbackURL string
	Metadata    map[string]string
}

// ChargeSession is the hosted checkout returned by the gateway.
type ChargeSession struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
}

// ChargeVerification is the gateway's view of a charge.
type ChargeVerification struct {
	Reference string
	Status    string
	Amount    int64
	Currency  string
	PaidAt    *time.Time
}

// Succeeded reports whether the gateway captured the funds.
func (v *ChargeVerification) Succeeded() bool {
	return v.Status == "success"
}

// TransferRequest pays out released funds to the insurer.
type TransferRequest struct {
	Reference string
	Amount    int64
	Currency  string
	Recipient string
	Reason    string
}

// TransferReceipt acknowledges a queued transfer.
type TransferReceipt struct {
	Reference    string
	TransferCode string
	Status       string
}
