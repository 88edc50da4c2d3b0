package postgres

import (
	"context"
	"errors"
	"fmt"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// FraudRepo implements ports.FraudRepository.
type FraudRepo struct {
	pool Pool
}

// NewFraudRepo creates a new FraudRepo.
func NewFraudRepo(pool Pool) *FraudRepo {
	return &FraudRepo{pool: pool}
}

// CreateFlag inserts a fraud flag.
func (r *FraudRepo) CreateFlag(ctx context.Context, tx pgx.Tx, f *domain.FraudFlag) error {
	query := `INSERT INTO fraud_flags (id, vendor_id, auction_id, kind, details, raised_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := pick(r.pool, tx).Exec(ctx, query, f.ID, f.VendorID, f.AuctionID, f.Kind, f.Details, f.RaisedBy, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert fraud flag: %w", err)
	}
	return nil
}

// GetFlag fetches a flag by ID.
func (r *FraudRepo) GetFlag(ctx context.Context, id uuid.UUID) (*domain.FraudFlag, error) {
	query := `SELECT id, vendor_id, auction_id, kind, details, raised_by, created_at
		FROM fraud_flags WHERE id = $1`

	f := &domain.FraudFlag{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&f.ID, &f.VendorID, &f.AuctionID, &f.Kind, &f.Details, &f.RaisedBy, &f.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fraud flag: %w", err)
	}
	return f, nil
}

// CreateReview records the single decision for a flag. Reviews are never
// updated; a second decision reports false.
func (r *FraudRepo) CreateReview(ctx context.Context, tx pgx.Tx, rv *domain.FraudFlagReview) (bool, error) {
	query := `INSERT INTO fraud_flag_reviews (id, flag_id, decision, reviewer_id, justification, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (flag_id) DO NOTHING`

	tag, err := tx.Exec(ctx, query, rv.ID, rv.FlagID, rv.Decision, rv.ReviewerID, rv.Justification, rv.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert fraud review: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetReview fetches the decision for a flag, if one exists.
func (r *FraudRepo) GetReview(ctx context.Context, flagID uuid.UUID) (*domain.FraudFlagReview, error) {
	query := `SELECT id, flag_id, decision, reviewer_id, justification, created_at
		FROM fraud_flag_reviews WHERE flag_id = $1`

	rv := &domain.FraudFlagReview{}
	err := r.pool.QueryRow(ctx, query, flagID).Scan(
		&rv.ID, &rv.FlagID, &rv.Decision, &rv.ReviewerID, &rv.Justification, &rv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get fraud review: %w", err)
	}
	return rv, nil
}

// CountConfirmed counts the vendor's flags with a confirmed review.
func (r *FraudRepo) CountConfirmed(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM fraud_flags f
		JOIN fraud_flag_reviews rv ON rv.flag_id = f.id
		WHERE f.vendor_id = $1 AND rv.decision = 'confirmed'`

	var n int
	if err := pick(r.pool, tx).QueryRow(ctx, query, vendorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count confirmed flags: %w", err)
	}
	return n, nil
}

// ListUnsuspendedAtThreshold returns vendors at or above the confirmed-flag
// threshold that have no suspension record yet.
func (r *FraudRepo) ListUnsuspendedAtThreshold(ctx context.Context, threshold, limit int) ([]domain.VendorFlagCount, error) {
	query := `SELECT f.vendor_id, COUNT(*) AS confirmed
		FROM fraud_flags f
		JOIN fraud_flag_reviews rv ON rv.flag_id = f.id AND rv.decision = 'confirmed'
		LEFT JOIN vendor_suspensions s ON s.vendor_id = f.vendor_id
		WHERE s.vendor_id IS NULL
		GROUP BY f.vendor_id
		HAVING COUNT(*) >= $1
		ORDER BY f.vendor_id LIMIT $2`

	rows, err := r.pool.Query(ctx, query, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("list vendors at fraud threshold: %w", err)
	}
	defer rows.Close()

	var counts []domain.VendorFlagCount
	for rows.Next() {
		var c domain.VendorFlagCount
		if err := rows.Scan(&c.VendorID, &c.Confirmed); err != nil {
			return nil, fmt.Errorf("scan flag count row: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate flag count rows: %w", err)
	}
	return counts, nil
}
