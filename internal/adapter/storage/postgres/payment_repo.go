package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentColumns = `id, auction_id, vendor_id, amount, payment_method, payment_reference, proof_reference,
	status, auto_verified, payment_deadline, verified_at, verified_by, rejection_reason, created_at, updated_at`

// PaymentRepo implements ports.PaymentRepository.
type PaymentRepo struct {
	pool Pool
}

// NewPaymentRepo creates a new PaymentRepo.
func NewPaymentRepo(pool Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

// Create inserts a payment within a database transaction.
func (r *PaymentRepo) Create(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	query := `INSERT INTO payments (` + paymentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`

	_, err := tx.Exec(ctx, query,
		p.ID, p.AuctionID, p.VendorID, p.Amount, p.Method, p.PaymentReference, p.ProofReference,
		p.Status, p.AutoVerified, p.Deadline, p.VerifiedAt, p.VerifiedBy, p.RejectionReason,
		p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID fetches a payment without locking.
func (r *PaymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id), "get payment by id")
}

// GetByIDForUpdate fetches a payment with pessimistic locking.
// Callers lock the owning auction first.
func (r *PaymentRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1 FOR UPDATE`
	return scanPayment(tx.QueryRow(ctx, query, id), "get payment for update")
}

// GetActiveByAuction returns the auction's non-rejected payment, if any.
func (r *PaymentRepo) GetActiveByAuction(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE auction_id = $1 AND status <> 'rejected'`
	return scanPayment(pick(r.pool, tx).QueryRow(ctx, query, auctionID), "get active payment by auction")
}

// GetByReference fetches a payment by its gateway or bank reference.
func (r *PaymentRepo) GetByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE payment_reference = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, reference), "get payment by reference")
}

// Update persists payment status and verification fields.
func (r *PaymentRepo) Update(ctx context.Context, tx pgx.Tx, p *domain.Payment) error {
	query := `UPDATE payments SET payment_reference = $1, proof_reference = $2, status = $3,
		auto_verified = $4, verified_at = $5, verified_by = $6, rejection_reason = $7, updated_at = $8
		WHERE id = $9`

	tag, err := tx.Exec(ctx, query,
		p.PaymentReference, p.ProofReference, p.Status, p.AutoVerified,
		p.VerifiedAt, p.VerifiedBy, p.RejectionReason, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment not found: %s", p.ID)
	}
	return nil
}

// ListPendingPastDeadline returns pending payments whose deadline has passed.
func (r *PaymentRepo) ListPendingPastDeadline(ctx context.Context, now time.Time, limit int) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments
		WHERE status = 'pending' AND payment_deadline < $1
		ORDER BY payment_deadline LIMIT $2`

	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list overdue payments: %w", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(paymentDest(&p)...); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

func paymentDest(p *domain.Payment) []any {
	return []any{
		&p.ID, &p.AuctionID, &p.VendorID, &p.Amount, &p.Method, &p.PaymentReference, &p.ProofReference,
		&p.Status, &p.AutoVerified, &p.Deadline, &p.VerifiedAt, &p.VerifiedBy, &p.RejectionReason,
		&p.CreatedAt, &p.UpdatedAt,
	}
}

func scanPayment(row pgx.Row, op string) (*domain.Payment, error) {
	p := &domain.Payment{}
	if err := row.Scan(paymentDest(p)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}
