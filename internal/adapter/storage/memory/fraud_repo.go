package memory

import (
	"context"
	"slices"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// FraudRepo implements ports.FraudRepository.
type FraudRepo struct {
	store *Store
}

// NewFraudRepo creates a FraudRepo backed by the store.
func NewFraudRepo(s *Store) *FraudRepo {
	return &FraudRepo{store: s}
}

func (r *FraudRepo) CreateFlag(ctx context.Context, tx pgx.Tx, f *domain.FraudFlag) error {
	return r.store.write(ctx, tx, func(st *state) error {
		st.flags[f.ID] = *f
		return nil
	})
}

func (r *FraudRepo) GetFlag(ctx context.Context, id uuid.UUID) (*domain.FraudFlag, error) {
	var out *domain.FraudFlag
	err := r.store.view(nil, func(st *state) error {
		if f, ok := st.flags[id]; ok {
			out = &f
		}
		return nil
	})
	return out, err
}

func (r *FraudRepo) CreateReview(ctx context.Context, tx pgx.Tx, rv *domain.FraudFlagReview) (bool, error) {
	var created bool
	err := r.store.write(ctx, tx, func(st *state) error {
		if _, ok := st.reviews[rv.FlagID]; ok {
			return nil
		}
		st.reviews[rv.FlagID] = *rv
		created = true
		return nil
	})
	return created, err
}

func (r *FraudRepo) GetReview(ctx context.Context, flagID uuid.UUID) (*domain.FraudFlagReview, error) {
	var out *domain.FraudFlagReview
	err := r.store.view(nil, func(st *state) error {
		if rv, ok := st.reviews[flagID]; ok {
			out = &rv
		}
		return nil
	})
	return out, err
}

func (r *FraudRepo) CountConfirmed(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (int, error) {
	var n int
	err := r.store.view(tx, func(st *state) error {
		n = confirmedCounts(st)[vendorID]
		return nil
	})
	return n, err
}

func (r *FraudRepo) ListUnsuspendedAtThreshold(ctx context.Context, threshold, limit int) ([]domain.VendorFlagCount, error) {
	var out []domain.VendorFlagCount
	err := r.store.view(nil, func(st *state) error {
		for vendorID, n := range confirmedCounts(st) {
			if _, suspended := st.suspensions[vendorID]; suspended || n < threshold {
				continue
			}
			out = append(out, domain.VendorFlagCount{VendorID: vendorID, Confirmed: n})
		}
		return nil
	})
	slices.SortFunc(out, func(a, b domain.VendorFlagCount) int { return compareUUID(a.VendorID, b.VendorID) })
	return head(out, limit), err
}

func confirmedCounts(st *state) map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int)
	for flagID, rv := range st.reviews {
		if rv.Decision != domain.ReviewConfirmed {
			continue
		}
		if f, ok := st.flags[flagID]; ok {
			counts[f.VendorID]++
		}
	}
	return counts
}

// SuspensionRepo implements ports.SuspensionRepository.
type SuspensionRepo struct {
	store *Store
}

// NewSuspensionRepo creates a SuspensionRepo backed by the store.
func NewSuspensionRepo(s *Store) *SuspensionRepo {
	return &SuspensionRepo{store: s}
}

func (r *SuspensionRepo) Create(ctx context.Context, tx pgx.Tx, s *domain.VendorSuspension) (bool, error) {
	var created bool
	err := r.store.write(ctx, tx, func(st *state) error {
		if _, ok := st.suspensions[s.VendorID]; ok {
			return nil
		}
		st.suspensions[s.VendorID] = *s
		created = true
		return nil
	})
	return created, err
}

func (r *SuspensionRepo) GetByVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.VendorSuspension, error) {
	var out *domain.VendorSuspension
	err := r.store.view(tx, func(st *state) error {
		if s, ok := st.suspensions[vendorID]; ok {
			out = &s
		}
		return nil
	})
	return out, err
}

// LockVendor only validates tx; store transactions already run one at a time.
func (r *SuspensionRepo) LockVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, exclusive bool) error {
	return r.store.view(tx, func(*state) error { return nil })
}
