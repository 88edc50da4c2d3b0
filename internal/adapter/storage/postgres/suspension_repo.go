package postgres

import (
	"context"
	"errors"
	"fmt"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SuspensionRepo implements ports.SuspensionRepository.
type SuspensionRepo struct {
	pool Pool
}

// NewSuspensionRepo creates a new SuspensionRepo.
func NewSuspensionRepo(pool Pool) *SuspensionRepo {
	return &SuspensionRepo{pool: pool}
}

// Create records a suspension. Returns false when the vendor is already suspended.
func (r *SuspensionRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.VendorSuspension) (bool, error) {
	query := `INSERT INTO vendor_suspensions (vendor_id, reason, confirmed_flags, revoked_bids, suspended_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (vendor_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query, s.VendorID, s.Reason, s.ConfirmedFlags, s.RevokedBids, s.SuspendedAt)
	if err != nil {
		return false, fmt.Errorf("insert vendor suspension: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByVendor returns the vendor's suspension, or nil.
func (r *SuspensionRepo) GetByVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.VendorSuspension, error) {
	query := `SELECT vendor_id, reason, confirmed_flags, revoked_bids, suspended_at
		FROM vendor_suspensions WHERE vendor_id = $1`

	s := &domain.VendorSuspension{}
	err := pick(r.pool, tx).QueryRow(ctx, query, vendorID).Scan(
		&s.VendorID, &s.Reason, &s.ConfirmedFlags, &s.RevokedBids, &s.SuspendedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get vendor suspension: %w", err)
	}
	return s, nil
}

// LockVendor takes a transaction-scoped advisory lock keyed on the vendor.
// A shared holder blocks an exclusive one, so a suspension waits for
// in-flight bids and later bids see the committed suspension.
func (r *SuspensionRepo) LockVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, exclusive bool) error {
	query := `SELECT pg_advisory_xact_lock_shared(hashtext($1))`
	if exclusive {
		query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	}
	if _, err := tx.Exec(ctx, query, vendorID.String()); err != nil {
		return fmt.Errorf("lock vendor: %w", err)
	}
	return nil
}
