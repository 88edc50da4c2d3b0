package domain

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNonPositiveAmount       = errors.New("amount must be positive")
	ErrAmountOverflow          = errors.New("amount overflows balance")
	ErrInsufficientFunds       = errors.New("insufficient available funds")
	ErrInsufficientFrozenFunds = errors.New("insufficient frozen funds")
	ErrInvariantViolated       = errors.New("wallet balance invariant violated")
)

// Wallet is a vendor's escrow balance. All amounts are minor currency units.
// Balance == AvailableBalance + FrozenAmount must hold after every mutation.
type Wallet struct {
	ID               uuid.UUID `json:"id"`
	VendorID         uuid.UUID `json:"vendor_id"`
	Currency         string    `json:"currency"`
	Balance          int64     `json:"balance"`
	AvailableBalance int64     `json:"available_balance"`
	FrozenAmount     int64     `json:"frozen_amount"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewWallet returns an empty wallet for a vendor.
func NewWallet(vendorID uuid.UUID, currency string, now time.Time) *Wallet {
	return &Wallet{
		ID:        uuid.New(),
		VendorID:  vendorID,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// CheckInvariant verifies the balance identity and non-negative components.
func (w *Wallet) CheckInvariant() error {
	if w.AvailableBalance < 0 || w.FrozenAmount < 0 || w.Balance < 0 {
		return fmt.Errorf("%w: negative component (balance=%d available=%d frozen=%d)",
			ErrInvariantViolated, w.Balance, w.AvailableBalance, w.FrozenAmount)
	}
	if w.Balance != w.AvailableBalance+w.FrozenAmount {
		return fmt.Errorf("%w: balance=%d available=%d frozen=%d",
			ErrInvariantViolated, w.Balance, w.AvailableBalance, w.FrozenAmount)
	}
	return nil
}

// Drift returns Balance - (AvailableBalance + FrozenAmount).
func (w *Wallet) Drift() int64 {
	return w.Balance - (w.AvailableBalance + w.FrozenAmount)
}

// Apply returns the wallet as it would be after a ledger operation of the given
// type. The receiver is not modified. Correction entries are not applied here.
func (w Wallet) Apply(typ WalletTransactionType, amount int64) (Wallet, error) {
	if amount <= 0 {
		return w, ErrNonPositiveAmount
	}
	switch typ {
	case WalletTxCredit:
		if w.Balance > math.MaxInt64-amount || w.AvailableBalance > math.MaxInt64-amount {
			return w, ErrAmountOverflow
		}
		w.Balance += amount
		w.AvailableBalance += amount
	case WalletTxFreeze:
		if w.AvailableBalance < amount {
			return w, ErrInsufficientFunds
		}
		w.AvailableBalance -= amount
		w.FrozenAmount += amount
	case WalletTxUnfreeze:
		if w.FrozenAmount < amount {
			return w, ErrInsufficientFrozenFunds
		}
		w.FrozenAmount -= amount
		w.AvailableBalance += amount
	case WalletTxDebit:
		if w.FrozenAmount < amount {
			return w, ErrInsufficientFrozenFunds
		}
		w.FrozenAmount -= amount
		w.Balance -= amount
	default:
		return w, fmt.Errorf("unsupported ledger operation %q", typ)
	}
	return w, nil
}
