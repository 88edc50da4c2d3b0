package handler

import (
	"io"

	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/apperror"
	"salvage-settlement/pkg/response"

	"github.com/gin-gonic/gin"
)

// DefaultSignatureHeader carries the gateway's HMAC of the raw body.
const DefaultSignatureHeader = "X-Gateway-Signature"

// WebhookHandler receives payment gateway events.
type WebhookHandler struct {
	reconSvc        ports.ReconciliationService
	signatureHeader string
}

// NewWebhookHandler creates a new WebhookHandler. An empty header name uses
// DefaultSignatureHeader.
func NewWebhookHandler(reconSvc ports.ReconciliationService, signatureHeader string) *WebhookHandler {
	if signatureHeader == "" {
		signatureHeader = DefaultSignatureHeader
	}
	return &WebhookHandler{reconSvc: reconSvc, signatureHeader: signatureHeader}
}

// GatewayEvent handles POST /api/v1/webhooks/gateway. The body is passed on
// unparsed because the signature covers the exact bytes.
func (h *WebhookHandler) GatewayEvent(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, apperror.Validation("cannot read request body"))
		return
	}

	ack, err := h.reconSvc.HandleGatewayWebhook(c.Request.Context(), body, c.GetHeader(h.signatureHeader))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, ack)
}
