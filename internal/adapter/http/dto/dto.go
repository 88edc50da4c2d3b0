package dto

import (
	"strings"
	"time"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/pkg/money"

	"github.com/google/uuid"
)

// Amounts travel as major-unit decimal strings ("2500.50") and are converted
// to minor units before reaching a service.

// CreateAuctionRequest lists a salvage case for bidding.
type CreateAuctionRequest struct {
	CaseID           string    `json:"case_id" binding:"required,uuid"`
	StartTime        time.Time `json:"start_time" binding:"required"`
	EndTime          time.Time `json:"end_time" binding:"required,gtfield=StartTime"`
	StartingBid      string    `json:"starting_bid" binding:"required,amount"`
	MinimumIncrement string    `json:"minimum_increment" binding:"required,amount"`
}

// PlaceBidRequest is a vendor's bid.
type PlaceBidRequest struct {
	Amount string `json:"amount" binding:"required,amount"`
}

// CancelAuctionRequest carries the administrative reason.
type CancelAuctionRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// FundWalletRequest opens a gateway checkout that credits the wallet.
type FundWalletRequest struct {
	Amount string `json:"amount" binding:"required,amount"`
}

// SubmitProofRequest attaches bank transfer evidence to a pending payment.
type SubmitProofRequest struct {
	ProofReference string `json:"proof_reference" binding:"required,max=255,safe_ref"`
	BankReference  string `json:"bank_reference" binding:"required,max=100,safe_ref"`
}

// RejectPaymentRequest carries the finance reviewer's reason.
type RejectPaymentRequest struct {
	Reason string `json:"reason" binding:"required,min=3,max=500"`
}

// ForceConfirmRequest is the operator override for captured-but-unverified payments.
type ForceConfirmRequest struct {
	Justification    string `json:"justification" binding:"required,max=2000"`
	GatewayReference string `json:"gateway_reference,omitempty" binding:"omitempty,max=100,safe_ref"`
}

// RaiseFlagRequest records a suspicious pattern against a vendor.
type RaiseFlagRequest struct {
	VendorID  string  `json:"vendor_id" binding:"required,uuid"`
	AuctionID *string `json:"auction_id,omitempty" binding:"omitempty,uuid"`
	Kind      string  `json:"kind" binding:"required,oneof=non_payment shill_bidding fake_proof manual"`
	Details   string  `json:"details,omitempty" binding:"max=2000"`
}

// DismissFlagRequest requires a written justification.
type DismissFlagRequest struct {
	Justification string `json:"justification" binding:"required,max=2000"`
}

// WalletResponse shows the three balance columns in minor units and formatted.
type WalletResponse struct {
	ID               string `json:"id"`
	VendorID         string `json:"vendor_id"`
	Currency         string `json:"currency"`
	Balance          int64  `json:"balance"`
	AvailableBalance int64  `json:"available_balance"`
	FrozenAmount     int64  `json:"frozen_amount"`
	Display          struct {
		Balance          string `json:"balance"`
		AvailableBalance string `json:"available_balance"`
		FrozenAmount     string `json:"frozen_amount"`
	} `json:"display"`
	UpdatedAt string `json:"updated_at"`
}

// NewWalletResponse converts a wallet for display.
func NewWalletResponse(w *domain.Wallet) WalletResponse {
	resp := WalletResponse{
		ID:               w.ID.String(),
		VendorID:         w.VendorID.String(),
		Currency:         w.Currency,
		Balance:          w.Balance,
		AvailableBalance: w.AvailableBalance,
		FrozenAmount:     w.FrozenAmount,
		UpdatedAt:        w.UpdatedAt.Format(time.RFC3339),
	}
	resp.Display.Balance = money.Format(w.Balance)
	resp.Display.AvailableBalance = money.Format(w.AvailableBalance)
	resp.Display.FrozenAmount = money.Format(w.FrozenAmount)
	return resp
}

// SuspensionResponse reports a vendor's suspension state.
type SuspensionResponse struct {
	VendorID  string `json:"vendor_id"`
	Suspended bool   `json:"suspended"`
}

// MinorUnits converts a validated amount string. Callers bind with the
// "amount" tag first, so the error path only guards direct use.
func MinorUnits(amount string) (int64, error) {
	return money.ParseMinor(strings.TrimSpace(amount))
}

// ParseOptionalUUID parses a validated optional UUID string.
func ParseOptionalUUID(s *string) *uuid.UUID {
	if s == nil || *s == "" {
		return nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil
	}
	return &id
}
