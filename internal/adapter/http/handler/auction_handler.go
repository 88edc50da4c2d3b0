package handler

import (
	"strconv"

	"salvage-settlement/internal/adapter/http/dto"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuctionHandler handles auction and bid endpoints.
type AuctionHandler struct {
	auctionSvc ports.AuctionService
}

// NewAuctionHandler creates a new AuctionHandler.
func NewAuctionHandler(auctionSvc ports.AuctionService) *AuctionHandler {
	return &AuctionHandler{auctionSvc: auctionSvc}
}

// CreateAuction handles POST /api/v1/admin/auctions.
func (h *AuctionHandler) CreateAuction(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req dto.CreateAuctionRequest
	if !bind(c, &req) {
		return
	}
	startingBid, ok := amount(c, req.StartingBid)
	if !ok {
		return
	}
	increment, ok := amount(c, req.MinimumIncrement)
	if !ok {
		return
	}

	auction, err := h.auctionSvc.CreateAuction(c.Request.Context(), ports.CreateAuctionRequest{
		CaseID:           uuid.MustParse(req.CaseID),
		StartTime:        req.StartTime.UTC(),
		EndTime:          req.EndTime.UTC(),
		StartingBid:      startingBid,
		MinimumIncrement: increment,
		Actor:            a,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, auction)
}

// GetAuction handles GET /api/v1/auctions/:id.
func (h *AuctionHandler) GetAuction(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	auction, err := h.auctionSvc.GetAuction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, auction)
}

// ListBids handles GET /api/v1/auctions/:id/bids.
func (h *AuctionHandler) ListBids(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > maxPageSize {
		limit = 50
	}
	bids, err := h.auctionSvc.ListBids(c.Request.Context(), id, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, bids)
}

// PlaceBid handles POST /api/v1/auctions/:id/bids. Rejected bids are a
// normal outcome and come back as 200 with accepted=false.
func (h *AuctionHandler) PlaceBid(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req dto.PlaceBidRequest
	if !bind(c, &req) {
		return
	}
	value, ok := amount(c, req.Amount)
	if !ok {
		return
	}

	result, err := h.auctionSvc.PlaceBid(c.Request.Context(), ports.PlaceBidRequest{
		AuctionID: id,
		VendorID:  *a.ID,
		Amount:    value,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Accepted {
		response.Created(c, result)
		return
	}
	response.OK(c, result)
}

// CloseAuction handles POST /api/v1/admin/auctions/:id/close.
func (h *AuctionHandler) CloseAuction(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	result, err := h.auctionSvc.CloseAuction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// SettleAuction handles POST /api/v1/admin/auctions/:id/settle.
func (h *AuctionHandler) SettleAuction(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	result, err := h.auctionSvc.SettleAuction(c.Request.Context(), id, a)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// CancelAuction handles POST /api/v1/admin/auctions/:id/cancel.
func (h *AuctionHandler) CancelAuction(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req dto.CancelAuctionRequest
	if !bind(c, &req) {
		return
	}
	auction, err := h.auctionSvc.CancelAuction(c.Request.Context(), id, a, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, auction)
}
