package handler

import (
	"salvage-settlement/internal/adapter/http/dto"
	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// FraudHandler handles fraud flag review endpoints.
type FraudHandler struct {
	fraudSvc ports.FraudService
}

// NewFraudHandler creates a new FraudHandler.
func NewFraudHandler(fraudSvc ports.FraudService) *FraudHandler {
	return &FraudHandler{fraudSvc: fraudSvc}
}

// RaiseFlag handles POST /api/v1/admin/fraud/flags.
func (h *FraudHandler) RaiseFlag(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req dto.RaiseFlagRequest
	if !bind(c, &req) {
		return
	}
	flag, err := h.fraudSvc.RaiseFlag(c.Request.Context(), ports.RaiseFlagRequest{
		VendorID:  uuid.MustParse(req.VendorID),
		AuctionID: dto.ParseOptionalUUID(req.AuctionID),
		Kind:      domain.FraudFlagKind(req.Kind),
		Details:   req.Details,
		Actor:     a,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, flag)
}

// ConfirmFlag handles POST /api/v1/admin/fraud/flags/:id/confirm.
func (h *FraudHandler) ConfirmFlag(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	review, err := h.fraudSvc.ConfirmFlag(c.Request.Context(), id, a)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, review)
}

// DismissFlag handles POST /api/v1/admin/fraud/flags/:id/dismiss.
func (h *FraudHandler) DismissFlag(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req dto.DismissFlagRequest
	if !bind(c, &req) {
		return
	}
	review, err := h.fraudSvc.DismissFlag(c.Request.Context(), id, a, req.Justification)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, review)
}

// GetSuspension handles GET /api/v1/admin/vendors/:id/suspension.
func (h *FraudHandler) GetSuspension(c *gin.Context) {
	vendorID, ok := idParam(c, "id")
	if !ok {
		return
	}
	suspended, err := h.fraudSvc.IsSuspended(c.Request.Context(), vendorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.SuspensionResponse{VendorID: vendorID.String(), Suspended: suspended})
}
