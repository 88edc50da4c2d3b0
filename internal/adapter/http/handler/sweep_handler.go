package handler

import (
	"net/http"

	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// SweepHandler lets operators run an enforcement sweep on demand.
type SweepHandler struct {
	enforcementSvc ports.EnforcementService
}

// NewSweepHandler creates a new SweepHandler.
func NewSweepHandler(enforcementSvc ports.EnforcementService) *SweepHandler {
	return &SweepHandler{enforcementSvc: enforcementSvc}
}

// RunSweep handles POST /api/v1/admin/sweeps/:job. Item failures are part of
// the report; only an unknown job is an error.
func (h *SweepHandler) RunSweep(c *gin.Context) {
	report, err := h.enforcementSvc.RunJob(c.Request.Context(), c.Param("job"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

// HealthCheck handles GET /health and verifies every dependency.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
