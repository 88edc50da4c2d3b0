package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"salvage-settlement/internal/core/domain"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRepo_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepo(mock)
	entry := domain.NewAuditLog(domain.UserActor(uuid.New(), domain.ActorFinance),
		domain.AuditActionPaymentForced, "payment", uuid.NewString(),
		map[string]string{"status": "pending"}, map[string]string{"status": "verified"})
	entry.CreatedAt = time.Now().UTC()

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(entry.ID, entry.ActorID, entry.ActorType, entry.Action, entry.EntityType,
			entry.EntityID, `{"status":"pending"}`, `{"status":"verified"}`, entry.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, repo.Create(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditRepo_Create_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewAuditRepo(mock)
	entry := domain.NewAuditLog(domain.SystemActor, domain.AuditActionAuctionClosed, "auction", "a-1", nil, nil)

	mock.ExpectExec("INSERT INTO audit_logs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err = repo.Create(context.Background(), entry)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert audit log")
}
