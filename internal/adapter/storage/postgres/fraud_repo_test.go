package postgres

import (
	"context"
	"testing"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFraudRepo_CreateFlag_SystemRaised(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewFraudRepo(mock)
	auctionID := uuid.New()
	f := &domain.FraudFlag{
		ID:        uuid.New(),
		VendorID:  uuid.New(),
		AuctionID: &auctionID,
		Kind:      domain.FraudKindNonPayment,
		Details:   "payment deadline missed",
		CreatedAt: time.Now().UTC(),
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO fraud_flags").
		WithArgs(f.ID, f.VendorID, f.AuctionID, f.Kind, f.Details, f.RaisedBy, f.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)

	assert.NoError(t, repo.CreateFlag(context.Background(), tx, f))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFraudRepo_CreateReview(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"first decision", 1, true},
		{"already reviewed", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			repo := NewFraudRepo(mock)
			rv := &domain.FraudFlagReview{
				ID:            uuid.New(),
				FlagID:        uuid.New(),
				Decision:      domain.ReviewConfirmed,
				ReviewerID:    uuid.New(),
				Justification: "",
				CreatedAt:     time.Now().UTC(),
			}

			mock.ExpectBegin()
			mock.ExpectExec("INSERT INTO fraud_flag_reviews .+ ON CONFLICT \\(flag_id\\) DO NOTHING").
				WithArgs(rv.ID, rv.FlagID, rv.Decision, rv.ReviewerID, rv.Justification, rv.CreatedAt).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))

			tx, err := mock.Begin(context.Background())
			require.NoError(t, err)

			created, err := repo.CreateReview(context.Background(), tx, rv)
			require.NoError(t, err)
			assert.Equal(t, tt.want, created)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestFraudRepo_GetReview_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewFraudRepo(mock)
	flagID := uuid.New()

	mock.ExpectQuery("SELECT .+ FROM fraud_flag_reviews WHERE flag_id").
		WithArgs(flagID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "flag_id", "decision", "reviewer_id", "justification", "created_at"}))

	rv, err := repo.GetReview(context.Background(), flagID)
	assert.NoError(t, err)
	assert.Nil(t, rv)
}

func TestFraudRepo_CountConfirmed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewFraudRepo(mock)
	vendorID := uuid.New()

	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM fraud_flags f JOIN fraud_flag_reviews").
		WithArgs(vendorID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountConfirmed(context.Background(), nil, vendorID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFraudRepo_ListUnsuspendedAtThreshold(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewFraudRepo(mock)
	vendorID := uuid.New()

	mock.ExpectQuery("LEFT JOIN vendor_suspensions .+ HAVING COUNT\\(\\*\\) >= \\$1").
		WithArgs(3, 100).
		WillReturnRows(pgxmock.NewRows([]string{"vendor_id", "confirmed"}).AddRow(vendorID, 4))

	counts, err := repo.ListUnsuspendedAtThreshold(context.Background(), 3, 100)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, domain.VendorFlagCount{VendorID: vendorID, Confirmed: 4}, counts[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}
