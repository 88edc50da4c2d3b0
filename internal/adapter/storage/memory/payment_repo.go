package memory

import (
	"context"
	"fmt"
	"slices"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	store *Store
}

// NewPaymentRepo creates a PaymentRepo backed by the store.
func NewPaymentRepo(s *Store) *PaymentRepo {
	return &PaymentRepo{store: s}
}

func (r *PaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	return r.store.write(ctx, tx, func(st *state) error {
		if p.Status != domain.PaymentStatusRejected {
			if _, ok := activePayment(st, p.AuctionID); ok {
				return fmt.Errorf("insert payment: auction %s already has an active payment", p.AuctionID)
			}
		}
		if p.PaymentReference != nil {
			if _, ok := paymentByReference(st, *p.PaymentReference); ok {
				return fmt.Errorf("insert payment: reference %q already in use", *p.PaymentReference)
			}
		}
		st.payments[p.ID] = *p
		return nil
	})
}

func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	return r.get(nil, id)
}

func (r *PaymentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	return r.get(tx, id)
}

func (r *PaymentRepo) GetActiveByAuction(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.store.view(tx, func(st *state) error {
		if p, ok := activePayment(st, auctionID); ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func (r *PaymentRepo) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.store.view(nil, func(st *state) error {
		if p, ok := paymentByReference(st, reference); ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func (r *PaymentRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	return r.store.write(ctx, tx, func(st *state) error {
		if _, ok := st.payments[p.ID]; !ok {
			return fmt.Errorf("payment not found: %s", p.ID)
		}
		st.payments[p.ID] = *p
		return nil
	})
}

func (r *PaymentRepo) ListPendingPastDeadline(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	var out []domain.Payment
	err := r.store.view(nil, func(st *state) error {
		for _, p := range st.payments {
			if p.Status == domain.PaymentStatusPending && p.Deadline.Before(now) {
				out = append(out, p)
			}
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.Payment) int { return a.Deadline.Compare(b.Deadline) })
	return head(out, limit), err
}

func (r *PaymentRepo) get(tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	var out *domain.Payment
	err := r.store.view(tx, func(st *state) error {
		if p, ok := st.payments[id]; ok {
			out = &p
		}
		return nil
	})
	return out, err
}

func activePayment(st *state, auctionID uuid.UUID) (domain.Payment, bool) {
	for _, p := range st.payments {
		if p.AuctionID == auctionID && p.Status != domain.PaymentStatusRejected {
			return p, true
		}
	}
	return domain.Payment{}, false
}

func paymentByReference(st *state, reference string) (domain.Payment, bool) {
	for _, p := range st.payments {
		if p.PaymentReference != nil && *p.PaymentReference == reference {
			return p, true
		}
	}
	return domain.Payment{}, false
}
