package domain

import (
	"time"

	"github.com/google/uuid"
)

// WalletTransactionType is the kind of ledger movement.
type WalletTransactionType string

const (
	WalletTxCredit   WalletTransactionType = "credit"
	WalletTxDebit    WalletTransactionType = "debit" // release of frozen funds
	WalletTxFreeze   WalletTransactionType = "freeze"
	WalletTxUnfreeze WalletTransactionType = "unfreeze"
	// WalletTxCorrection records a balance recomputation; Amount is the absolute drift removed.
	WalletTxCorrection WalletTransactionType = "correction"
)

// WalletTransaction is an immutable ledger entry. Reference is unique across the ledger.
type WalletTransaction struct {
	ID             uuid.UUID             `json:"id"`
	WalletID       uuid.UUID             `json:"wallet_id"`
	Type           WalletTransactionType `json:"type"`
	Amount         int64                 `json:"amount"`
	BalanceAfter   int64                 `json:"balance_after"`
	AvailableAfter int64                 `json:"available_after"`
	FrozenAfter    int64                 `json:"frozen_after"`
	Reference      string                `json:"reference"`
	Description    string                `json:"description,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// Matches reports whether a replayed request describes the same operation.
func (t *WalletTransaction) Matches(walletID uuid.UUID, typ WalletTransactionType, amount int64) bool {
	return t.WalletID == walletID && t.Type == typ && t.Amount == amount
}
