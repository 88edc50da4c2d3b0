package handler

import (
	"salvage-settlement/internal/adapter/http/middleware"
	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc       ports.LedgerService
	AuctionSvc      ports.AuctionService
	ReconSvc        ports.ReconciliationService
	FraudSvc        ports.FraudService
	EnforcementSvc  ports.EnforcementService
	TokenSvc        ports.TokenService
	RateLimitStore  ports.RateLimitStore // nil = rate limiting disabled
	BidsPerMinute   int
	SignatureHeader string
	HealthCheckers  []ports.HealthChecker
	AuditSvc        ports.AuditService // nil = operator route auditing disabled
	Mode            string             // gin mode; empty means release
	Logger          zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode == "" {
		deps.Mode = gin.ReleaseMode
	}
	gin.SetMode(deps.Mode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	rules := middleware.DefaultRateLimitRules(deps.BidsPerMinute)
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	auctionHandler := NewAuctionHandler(deps.AuctionSvc)
	walletHandler := NewWalletHandler(deps.LedgerSvc, deps.ReconSvc)
	paymentHandler := NewPaymentHandler(deps.ReconSvc)
	webhookHandler := NewWebhookHandler(deps.ReconSvc, deps.SignatureHeader)
	fraudHandler := NewFraudHandler(deps.FraudSvc)
	sweepHandler := NewSweepHandler(deps.EnforcementSvc)

	v1 := r.Group("/api/v1")

	// --- Gateway callbacks (HMAC-signed body, no bearer token) ---
	v1.POST("/webhooks/gateway", rl("webhook"), webhookHandler.GatewayEvent)

	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	anyRole := middleware.RequireRole(domain.ActorVendor, domain.ActorAdmin, domain.ActorFinance)
	vendorOnly := middleware.RequireRole(domain.ActorVendor)

	// --- Shared reads ---
	auctions := v1.Group("/auctions", jwtAuth, anyRole)
	{
		auctions.GET("/:id", rl("read"), auctionHandler.GetAuction)
		auctions.GET("/:id/bids", rl("read"), auctionHandler.ListBids)
		auctions.POST("/:id/bids", vendorOnly, rl("bids"), auctionHandler.PlaceBid)
	}

	payments := v1.Group("/payments", jwtAuth, anyRole)
	{
		payments.GET("/:id", rl("read"), paymentHandler.GetPayment)
		payments.POST("/:id/checkout", vendorOnly, rl("checkout"), paymentHandler.Checkout)
		payments.POST("/:id/proof", vendorOnly, rl("checkout"), paymentHandler.SubmitProof)
	}

	// --- Vendor self-service ---
	wallet := v1.Group("/wallet", jwtAuth, vendorOnly)
	{
		wallet.GET("", rl("read"), walletHandler.GetMyWallet)
		wallet.GET("/transactions", rl("read"), walletHandler.ListMyTransactions)
		wallet.POST("/fund", rl("checkout"), walletHandler.FundWallet)
	}

	// --- Admin: auctions, fraud, sweeps ---
	admin := v1.Group("/admin", jwtAuth, middleware.RequireRole(domain.ActorAdmin), rl("staff"))
	{
		admin.POST("/auctions", auctionHandler.CreateAuction)
		admin.POST("/auctions/:id/close", auctionHandler.CloseAuction)
		admin.POST("/auctions/:id/settle", auctionHandler.SettleAuction)
		admin.POST("/auctions/:id/cancel", auctionHandler.CancelAuction)

		admin.POST("/fraud/flags", fraudHandler.RaiseFlag)
		admin.POST("/fraud/flags/:id/confirm", fraudHandler.ConfirmFlag)
		admin.POST("/fraud/flags/:id/dismiss", fraudHandler.DismissFlag)
		admin.GET("/vendors/:id/suspension", fraudHandler.GetSuspension)

		admin.POST("/sweeps/:job", sweepHandler.RunSweep)
	}

	// --- Finance: payment review and balance repair ---
	finance := v1.Group("/finance", jwtAuth, middleware.RequireRole(domain.ActorFinance), rl("staff"))
	{
		finance.POST("/payments/:id/confirm", paymentHandler.ConfirmManual)
		finance.POST("/payments/:id/reject", paymentHandler.RejectManual)
		finance.POST("/payments/:id/force-confirm", paymentHandler.ForceConfirm)
		finance.GET("/vendors/:id/wallet", walletHandler.GetVendorWallet)
		finance.POST("/wallets/:id/recompute", walletHandler.RecomputeWallet)
	}

	return r
}
