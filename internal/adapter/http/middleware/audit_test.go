package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports/mocks"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func auditRouter(auditSvc *mocks.MockAuditService, status int, adminID uuid.UUID) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(CtxActorID, adminID)
		c.Set(CtxActorRole, domain.ActorAdmin)
		c.Next()
	})
	r.Use(AuditLog(auditSvc))
	r.POST("/api/v1/admin/sweeps/:job", func(c *gin.Context) { c.Status(status) })
	r.POST("/api/v1/admin/auctions", func(c *gin.Context) { c.Status(http.StatusCreated) })
	return r
}

func TestAuditLog_SweepTrigger(t *testing.T) {
	ctrl := gomock.NewController(t)
	auditSvc := mocks.NewMockAuditService(ctrl)
	adminID := uuid.New()

	var got *domain.AuditLog
	auditSvc.EXPECT().Log(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, entry *domain.AuditLog) {
		got = entry
	})

	w := httptest.NewRecorder()
	auditRouter(auditSvc, http.StatusOK, adminID).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweeps/close_auctions", nil))

	require.NotNil(t, got)
	assert.Equal(t, domain.AuditActionSweepTriggered, got.Action)
	assert.Equal(t, "sweep", got.EntityType)
	assert.Equal(t, "close_auctions", got.EntityID)
	assert.Equal(t, domain.ActorAdmin, got.ActorType)
	require.NotNil(t, got.ActorID)
	assert.Equal(t, adminID, *got.ActorID)
	assert.Contains(t, got.After, `"status":200`)
}

func TestAuditLog_SkipsFailuresAndUnmappedRoutes(t *testing.T) {
	ctrl := gomock.NewController(t)
	auditSvc := mocks.NewMockAuditService(ctrl)
	auditSvc.EXPECT().Log(gomock.Any(), gomock.Any()).Times(0)

	r := auditRouter(auditSvc, http.StatusNotFound, uuid.New())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/sweeps/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/admin/auctions", nil))
	assert.Equal(t, http.StatusCreated, w.Code)
}
