package handler

import (
	"salvage-settlement/internal/adapter/http/dto"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// WalletHandler handles wallet-related endpoints.
type WalletHandler struct {
	ledgerSvc ports.LedgerService
	reconSvc  ports.ReconciliationService
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(ledgerSvc ports.LedgerService, reconSvc ports.ReconciliationService) *WalletHandler {
	return &WalletHandler{ledgerSvc: ledgerSvc, reconSvc: reconSvc}
}

// GetMyWallet handles GET /api/v1/wallet.
func (h *WalletHandler) GetMyWallet(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	h.writeWallet(c, *a.ID)
}

// GetVendorWallet handles GET /api/v1/finance/vendors/:id/wallet.
func (h *WalletHandler) GetVendorWallet(c *gin.Context) {
	vendorID, ok := idParam(c, "id")
	if !ok {
		return
	}
	h.writeWallet(c, vendorID)
}

func (h *WalletHandler) writeWallet(c *gin.Context, vendorID uuid.UUID) {
	wallet, err := h.ledgerSvc.GetWallet(c.Request.Context(), vendorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewWalletResponse(wallet))
}

// ListMyTransactions handles GET /api/v1/wallet/transactions.
func (h *WalletHandler) ListMyTransactions(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	limit, offset := pagination(c)
	txns, total, err := h.ledgerSvc.ListTransactions(c.Request.Context(), *a.ID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Page(c, txns, total, limit, offset)
}

// FundWallet handles POST /api/v1/wallet/fund. The wallet is credited when
// the gateway webhook confirms the charge.
func (h *WalletHandler) FundWallet(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req dto.FundWalletRequest
	if !bind(c, &req) {
		return
	}
	value, ok := amount(c, req.Amount)
	if !ok {
		return
	}
	session, err := h.reconSvc.InitiateFunding(c.Request.Context(), *a.ID, value)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// RecomputeWallet handles POST /api/v1/finance/wallets/:id/recompute.
func (h *WalletHandler) RecomputeWallet(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	walletID, ok := idParam(c, "id")
	if !ok {
		return
	}
	result, err := h.ledgerSvc.RecomputeBalance(c.Request.Context(), walletID, a)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}
