package handler

import (
	"salvage-settlement/internal/adapter/http/dto"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/apperror"
	"salvage-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// PaymentHandler handles winner payment endpoints for vendors and finance.
type PaymentHandler struct {
	reconSvc ports.ReconciliationService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(reconSvc ports.ReconciliationService) *PaymentHandler {
	return &PaymentHandler{reconSvc: reconSvc}
}

// GetPayment handles GET /api/v1/payments/:id. Vendors only see their own.
func (h *PaymentHandler) GetPayment(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	payment, err := h.reconSvc.GetPayment(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !isStaff(a) && payment.VendorID != *a.ID {
		response.Error(c, apperror.ErrPaymentNotFound())
		return
	}
	response.OK(c, payment)
}

// Checkout handles POST /api/v1/payments/:id/checkout.
func (h *PaymentHandler) Checkout(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	session, err := h.reconSvc.InitiateCheckout(c.Request.Context(), id, *a.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// SubmitProof handles POST /api/v1/payments/:id/proof.
func (h *PaymentHandler) SubmitProof(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req dto.SubmitProofRequest
	if !bind(c, &req) {
		return
	}
	payment, err := h.reconSvc.SubmitProof(c.Request.Context(), ports.SubmitProofRequest{
		PaymentID:      id,
		VendorID:       *a.ID,
		ProofReference: req.ProofReference,
		BankReference:  req.BankReference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}

// ConfirmManual handles POST /api/v1/finance/payments/:id/confirm.
func (h *PaymentHandler) ConfirmManual(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	payment, err := h.reconSvc.ConfirmManual(c.Request.Context(), id, a)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, payment)
}

// RejectManual handles POST /api/v1/finance/payments/:id/reject.
func (h *PaymentHandler) RejectManual(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req dto.RejectPaymentRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.reconSvc.RejectManual(c.Request.Context(), id, a, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// ForceConfirm handles POST /api/v1/finance/payments/:id/force-confirm.
func (h *PaymentHandler) ForceConfirm(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req dto.ForceConfirmRequest
	if !bind(c, &req) {
		return
	}
	result, err := h.reconSvc.ForceConfirm(c.Request.Context(), ports.ForceConfirmRequest{
		PaymentID:        id,
		Actor:            a,
		Justification:    req.Justification,
		GatewayReference: req.GatewayReference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
