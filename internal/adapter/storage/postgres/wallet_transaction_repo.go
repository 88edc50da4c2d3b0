package postgres

import (
	"context"
	"errors"
	"fmt"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const walletTxColumns = `id, wallet_id, type, amount, balance_after, available_after, frozen_after,
	reference, description, created_at`

// WalletTransactionRepo implements ports.WalletTransactionRepository.
type WalletTransactionRepo struct {
	pool Pool
}

// NewWalletTransactionRepo creates a new WalletTransactionRepo.
func NewWalletTransactionRepo(pool Pool) *WalletTransactionRepo {
	return &WalletTransactionRepo{pool: pool}
}

// Create appends a ledger entry. A reused reference surfaces as LED_003.
func (r *WalletTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.WalletTransaction) error {
	query := `INSERT INTO wallet_transactions (` + walletTxColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.WalletID, t.Type, t.Amount, t.BalanceAfter, t.AvailableAfter,
		t.FrozenAfter, t.Reference, t.Description, t.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ErrDuplicateReference(t.Reference)
		}
		return fmt.Errorf("insert wallet transaction: %w", err)
	}
	return nil
}

// GetByReference looks a ledger entry up by its idempotency reference.
func (r *WalletTransactionRepo) GetByReference(ctx context.Context, tx pgx.Tx, reference string) (*domain.WalletTransaction, error) {
	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions WHERE reference = $1`

	t := &domain.WalletTransaction{}
	err := pick(r.pool, tx).QueryRow(ctx, query, reference).Scan(
		&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.BalanceAfter, &t.AvailableAfter,
		&t.FrozenAfter, &t.Reference, &t.Description, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get wallet transaction by reference: %w", err)
	}
	return t, nil
}

// ListByWallet pages through a wallet's ledger, newest first.
func (r *WalletTransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM wallet_transactions WHERE wallet_id = $1`, walletID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count wallet transactions: %w", err)
	}

	query := `SELECT ` + walletTxColumns + ` FROM wallet_transactions
		WHERE wallet_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	rows, err := r.pool.Query(ctx, query, walletID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list wallet transactions: %w", err)
	}
	defer rows.Close()

	var entries []domain.WalletTransaction
	for rows.Next() {
		var t domain.WalletTransaction
		if err := rows.Scan(
			&t.ID, &t.WalletID, &t.Type, &t.Amount, &t.BalanceAfter, &t.AvailableAfter,
			&t.FrozenAfter, &t.Reference, &t.Description, &t.CreatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan wallet transaction row: %w", err)
		}
		entries = append(entries, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate wallet transaction rows: %w", err)
	}
	return entries, total, nil
}
