package memory

import (
	"context"
	"fmt"
	"slices"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// WalletRepo implements ports.WalletRepository.
type WalletRepo struct {
	store *Store
}

// NewWalletRepo creates a WalletRepo backed by the store.
func NewWalletRepo(s *Store) *WalletRepo {
	return &WalletRepo{store: s}
}

func (r *WalletRepo) CreateIfAbsent(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	return r.store.write(ctx, tx, func(st *state) error {
		if _, ok := st.walletByVendor[w.VendorID]; ok {
			return nil
		}
		st.wallets[w.ID] = *w
		st.walletByVendor[w.VendorID] = w.ID
		return nil
	})
}

func (r *WalletRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Wallet, error) {
	return r.get(nil, id)
}

func (r *WalletRepo) GetByVendorID(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	return r.getByVendor(nil, vendorID)
}

func (r *WalletRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	return r.get(tx, id)
}

func (r *WalletRepo) GetByVendorIDForUpdate(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.Wallet, error) {
	return r.getByVendor(tx, vendorID)
}

func (r *WalletRepo) UpdateBalances(ctx context.Context, tx pgx.Tx, w *domain.Wallet) error {
	return r.store.write(ctx, tx, func(st *state) error {
		cur, ok := st.wallets[w.ID]
		if !ok {
			return fmt.Errorf("wallet not found: %s", w.ID)
		}
		cur.Balance = w.Balance
		cur.AvailableBalance = w.AvailableBalance
		cur.FrozenAmount = w.FrozenAmount
		cur.UpdatedAt = w.UpdatedAt
		st.wallets[w.ID] = cur
		return nil
	})
}

func (r *WalletRepo) ListDrifted(ctx context.Context, limit int) ([]domain.Wallet, error) {
	var out []domain.Wallet
	err := r.store.view(nil, func(st *state) error {
		for _, w := range st.wallets {
			if w.Drift() != 0 {
				out = append(out, w)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Wallet) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return head(out, limit), err
}

// Seed stores a wallet as-is, bypassing ledger rules.
func (r *WalletRepo) Seed(ctx context.Context, w domain.Wallet) error {
	return r.store.write(ctx, nil, func(st *state) error {
		st.wallets[w.ID] = w
		st.walletByVendor[w.VendorID] = w.ID
		return nil
	})
}

func (r *WalletRepo) get(tx pgx.Tx, id uuid.UUID) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := r.store.view(tx, func(st *state) error {
		if w, ok := st.wallets[id]; ok {
			out = &w
		}
		return nil
	})
	return out, err
}

func (r *WalletRepo) getByVendor(tx pgx.Tx, vendorID uuid.UUID) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := r.store.view(tx, func(st *state) error {
		if id, ok := st.walletByVendor[vendorID]; ok {
			w := st.wallets[id]
			out = &w
		}
		return nil
	})
	return out, err
}

// WalletTransactionRepo implements ports.WalletTransactionRepository.
type WalletTransactionRepo struct {
	store *Store
}

// NewWalletTransactionRepo creates a WalletTransactionRepo backed by the store.
func NewWalletTransactionRepo(s *Store) *WalletTransactionRepo {
	return &WalletTransactionRepo{store: s}
}

func (r *WalletTransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.WalletTransaction) error {
	return r.store.write(ctx, tx, func(st *state) error {
		if _, ok := st.entryByRef[t.Reference]; ok {
			return apperror.ErrDuplicateReference(t.Reference)
		}
		st.entryByRef[t.Reference] = len(st.entries)
		st.entries = append(st.entries, *t)
		return nil
	})
}

func (r *WalletTransactionRepo) GetByReference(ctx context.Context, tx pgx.Tx, reference string) (*domain.WalletTransaction, error) {
	var out *domain.WalletTransaction
	err := r.store.view(tx, func(st *state) error {
		if i, ok := st.entryByRef[reference]; ok {
			e := st.entries[i]
			out = &e
		}
		return nil
	})
	return out, err
}

func (r *WalletTransactionRepo) ListByWallet(ctx context.Context, walletID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, int64, error) {
	var matched []domain.WalletTransaction
	err := r.store.view(nil, func(st *state) error {
		// Newest first; entries are appended in commit order.
		for i := len(st.entries) - 1; i >= 0; i-- {
			if st.entries[i].WalletID == walletID {
				matched = append(matched, st.entries[i])
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	return head(matched[offset:], limit), total, nil
}

func head[T any](s []T, limit int) []T {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
