package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/internal/core/ports/mocks"
	"salvage-settlement/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router      *gin.Engine
	ledger      *mocks.MockLedgerService
	auctions    *mocks.MockAuctionService
	recon       *mocks.MockReconciliationService
	fraud       *mocks.MockFraudService
	enforcement *mocks.MockEnforcementService

	vendorID  uuid.UUID
	adminID   uuid.UUID
	financeID uuid.UUID
}

const (
	vendorToken  = "tok-vendor"
	adminToken   = "tok-admin"
	financeToken = "tok-finance"
)

func newTestEnv(t *testing.T, checkers ...ports.HealthChecker) *testEnv {
	ctrl := gomock.NewController(t)
	env := &testEnv{
		ledger:      mocks.NewMockLedgerService(ctrl),
		auctions:    mocks.NewMockAuctionService(ctrl),
		recon:       mocks.NewMockReconciliationService(ctrl),
		fraud:       mocks.NewMockFraudService(ctrl),
		enforcement: mocks.NewMockEnforcementService(ctrl),
		vendorID:    uuid.New(),
		adminID:     uuid.New(),
		financeID:   uuid.New(),
	}

	claims := map[string]*ports.TokenClaims{
		vendorToken:  {Subject: env.vendorID, Role: domain.ActorVendor},
		adminToken:   {Subject: env.adminID, Role: domain.ActorAdmin},
		financeToken: {Subject: env.financeID, Role: domain.ActorFinance},
	}
	tokenSvc := mocks.NewMockTokenService(ctrl)
	tokenSvc.EXPECT().Validate(gomock.Any()).DoAndReturn(func(tok string) (*ports.TokenClaims, error) {
		if c, ok := claims[tok]; ok {
			return c, nil
		}
		return nil, errors.New("token is malformed")
	}).AnyTimes()

	env.router = SetupRouter(RouterDeps{
		LedgerSvc:      env.ledger,
		AuctionSvc:     env.auctions,
		ReconSvc:       env.recon,
		FraudSvc:       env.fraud,
		EnforcementSvc: env.enforcement,
		TokenSvc:       tokenSvc,
		HealthCheckers: checkers,
		Mode:           gin.TestMode,
		Logger:         zerolog.Nop(),
	})
	return env
}

func (e *testEnv) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	d, ok := decode(t, w)["data"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	return d
}

// --- Health ---

func TestHealthCheck(t *testing.T) {
	ctrl := gomock.NewController(t)
	db := mocks.NewMockHealthChecker(ctrl)
	db.EXPECT().Name().Return("postgresql").AnyTimes()
	cache := mocks.NewMockHealthChecker(ctrl)
	cache.EXPECT().Name().Return("redis").AnyTimes()

	db.EXPECT().Ping(gomock.Any()).Return(nil).Times(2)
	cache.EXPECT().Ping(gomock.Any()).Return(nil)
	cache.EXPECT().Ping(gomock.Any()).Return(errors.New("dial tcp: connection refused"))

	env := newTestEnv(t, db, cache)

	w := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", decode(t, w)["status"])

	w = env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp := decode(t, w)
	assert.Equal(t, "degraded", resp["status"])
	deps := resp["dependencies"].(map[string]interface{})
	assert.Equal(t, "unhealthy", deps["redis"].(map[string]interface{})["status"])
	assert.Equal(t, "healthy", deps["postgresql"].(map[string]interface{})["status"])
}

// --- Auth ---

func TestRoutes_RequireToken(t *testing.T) {
	env := newTestEnv(t)
	for _, path := range []string{"/api/v1/wallet", "/api/v1/auctions/" + uuid.NewString()} {
		w := env.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)

		w = env.do(http.MethodGet, path, "forged", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestRoutes_RoleGroups(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.NewString()

	cases := []struct {
		name, method, path, token string
	}{
		{"vendor cannot create auctions", http.MethodPost, "/api/v1/admin/auctions", vendorToken},
		{"finance cannot run sweeps", http.MethodPost, "/api/v1/admin/sweeps/close_auctions", financeToken},
		{"admin cannot force-confirm", http.MethodPost, "/api/v1/finance/payments/" + id + "/force-confirm", adminToken},
		{"vendor cannot confirm payments", http.MethodPost, "/api/v1/finance/payments/" + id + "/confirm", vendorToken},
		{"admin cannot bid", http.MethodPost, "/api/v1/auctions/" + id + "/bids", adminToken},
		{"finance has no vendor wallet", http.MethodGet, "/api/v1/wallet", financeToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(tc.method, tc.path, tc.token, map[string]string{})
			assert.Equal(t, http.StatusForbidden, w.Code)
			assert.Equal(t, "AUTH_005", decode(t, w)["error_code"])
		})
	}
}

// --- Auctions ---

func TestCreateAuction(t *testing.T) {
	env := newTestEnv(t)
	caseID := uuid.New()
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	env.auctions.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ interface{}, req ports.CreateAuctionRequest) (*domain.Auction, error) {
			assert.Equal(t, caseID, req.CaseID)
			assert.Equal(t, int64(15000000), req.StartingBid)
			assert.Equal(t, int64(50050), req.MinimumIncrement)
			assert.Equal(t, domain.ActorAdmin, req.Actor.Type)
			assert.Equal(t, env.adminID, *req.Actor.ID)
			return &domain.Auction{ID: uuid.New(), CaseID: caseID, StartingBid: req.StartingBid, Status: domain.AuctionStatusActive}, nil
		})

	w := env.do(http.MethodPost, "/api/v1/admin/auctions", adminToken, map[string]interface{}{
		"case_id":           caseID.String(),
		"start_time":        start.Format(time.RFC3339),
		"end_time":          start.Add(48 * time.Hour).Format(time.RFC3339),
		"starting_bid":      "150000",
		"minimum_increment": "500.50",
	})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := data(t, w)
	assert.Equal(t, "active", d["status"])
	assert.Equal(t, float64(15000000), d["starting_bid"])
}

func TestCreateAuction_Validation(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	w := env.do(http.MethodPost, "/api/v1/admin/auctions", adminToken, map[string]interface{}{
		"case_id":           uuid.NewString(),
		"start_time":        start.Format(time.RFC3339),
		"end_time":          start.Add(time.Hour).Format(time.RFC3339),
		"starting_bid":      "100.001",
		"minimum_increment": "10",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VAL_001", decode(t, w)["error_code"])

	w = env.do(http.MethodPost, "/api/v1/admin/auctions", adminToken, "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateAuction_Conflict(t *testing.T) {
	env := newTestEnv(t)
	start := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	env.auctions.EXPECT().CreateAuction(gomock.Any(), gomock.Any()).Return(nil, apperror.ErrActiveAuctionExists())

	w := env.do(http.MethodPost, "/api/v1/admin/auctions", adminToken, map[string]interface{}{
		"case_id":           uuid.NewString(),
		"start_time":        start.Format(time.RFC3339),
		"end_time":          start.Add(time.Hour).Format(time.RFC3339),
		"starting_bid":      "1000",
		"minimum_increment": "10",
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "AUC_004", decode(t, w)["error_code"])
}

func TestPlaceBid(t *testing.T) {
	env := newTestEnv(t)
	auctionID := uuid.New()

	env.auctions.EXPECT().PlaceBid(gomock.Any(), ports.PlaceBidRequest{
		AuctionID: auctionID,
		VendorID:  env.vendorID,
		Amount:    150050,
	}).Return(&ports.BidResult{Accepted: true, Extended: true, MinimumNextBid: 160050}, nil)

	w := env.do(http.MethodPost, "/api/v1/auctions/"+auctionID.String()+"/bids", vendorToken, map[string]string{"amount": "1500.50"})

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := data(t, w)
	assert.Equal(t, true, d["accepted"])
	assert.Equal(t, true, d["extended"])
	assert.Equal(t, float64(160050), d["minimum_next_bid"])
}

func TestPlaceBid_Rejected(t *testing.T) {
	env := newTestEnv(t)
	auctionID := uuid.New()

	env.auctions.EXPECT().PlaceBid(gomock.Any(), gomock.Any()).
		Return(&ports.BidResult{Accepted: false, Reason: domain.BidRejectTooLow, MinimumNextBid: 200000}, nil)

	w := env.do(http.MethodPost, "/api/v1/auctions/"+auctionID.String()+"/bids", vendorToken, map[string]string{"amount": "100"})

	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, false, d["accepted"])
	assert.Equal(t, string(domain.BidRejectTooLow), d["reason"])
}

func TestPlaceBid_BadInput(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/v1/auctions/not-a-uuid/bids", vendorToken, map[string]string{"amount": "100"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	for _, amount := range []string{"0", "-1", "1.234", "ten"} {
		w = env.do(http.MethodPost, "/api/v1/auctions/"+uuid.NewString()+"/bids", vendorToken, map[string]string{"amount": amount})
		assert.Equal(t, http.StatusBadRequest, w.Code, amount)
	}
}

func TestGetAuction_NotFound(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.auctions.EXPECT().GetAuction(gomock.Any(), id).Return(nil, apperror.ErrAuctionNotFound())

	w := env.do(http.MethodGet, "/api/v1/auctions/"+id.String(), vendorToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "AUC_001", decode(t, w)["error_code"])
}

func TestListBids_ClampsLimit(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()
	env.auctions.EXPECT().ListBids(gomock.Any(), id, 50).Return([]domain.Bid{{ID: uuid.New(), AuctionID: id, Amount: 1000}}, nil)

	w := env.do(http.MethodGet, "/api/v1/auctions/"+id.String()+"/bids?limit=5000", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)
}

func TestCloseSettleCancel(t *testing.T) {
	env := newTestEnv(t)
	id := uuid.New()

	env.auctions.EXPECT().CloseAuction(gomock.Any(), id).Return(&ports.CloseResult{
		Auction: domain.Auction{ID: id, Status: domain.AuctionStatusClosed},
	}, nil)
	env.auctions.EXPECT().SettleAuction(gomock.Any(), id, domain.UserActor(env.adminID, domain.ActorAdmin)).
		Return(nil, apperror.ErrPaymentNotVerified())
	env.auctions.EXPECT().CancelAuction(gomock.Any(), id, domain.UserActor(env.adminID, domain.ActorAdmin), "duplicate listing").
		Return(&domain.Auction{ID: id, Status: domain.AuctionStatusCancelled}, nil)

	w := env.do(http.MethodPost, "/api/v1/admin/auctions/"+id.String()+"/close", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "closed", data(t, w)["auction"].(map[string]interface{})["status"])

	w = env.do(http.MethodPost, "/api/v1/admin/auctions/"+id.String()+"/settle", adminToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PAY_003", decode(t, w)["error_code"])

	w = env.do(http.MethodPost, "/api/v1/admin/auctions/"+id.String()+"/cancel", adminToken, map[string]string{"reason": "  duplicate listing "})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", data(t, w)["status"])

	w = env.do(http.MethodPost, "/api/v1/admin/auctions/"+id.String()+"/cancel", adminToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Wallet ---

func TestGetMyWallet(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.EXPECT().GetWallet(gomock.Any(), env.vendorID).Return(&domain.Wallet{
		ID:               uuid.New(),
		VendorID:         env.vendorID,
		Currency:         "NGN",
		Balance:          500000,
		AvailableBalance: 350000,
		FrozenAmount:     150000,
	}, nil)

	w := env.do(http.MethodGet, "/api/v1/wallet", vendorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, float64(350000), d["available_balance"])
	assert.Equal(t, "1500.00", d["display"].(map[string]interface{})["frozen_amount"])
}

func TestListMyTransactions_Pagination(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.EXPECT().ListTransactions(gomock.Any(), env.vendorID, 20, 40).
		Return([]domain.WalletTransaction{{ID: uuid.New()}}, int64(41), nil)

	w := env.do(http.MethodGet, "/api/v1/wallet/transactions?limit=0&offset=40", vendorToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	meta := decode(t, w)["meta"].(map[string]interface{})
	assert.Equal(t, float64(41), meta["total"])
	assert.Equal(t, float64(20), meta["limit"])
	assert.Equal(t, float64(40), meta["offset"])
}

func TestFundWallet(t *testing.T) {
	env := newTestEnv(t)
	env.recon.EXPECT().InitiateFunding(gomock.Any(), env.vendorID, int64(100050)).
		Return(&ports.ChargeSession{Reference: "fund_abc", AuthorizationURL: "https://checkout.example/fund_abc"}, nil)

	w := env.do(http.MethodPost, "/api/v1/wallet/fund", vendorToken, map[string]string{"amount": "1000.50"})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "fund_abc", data(t, w)["reference"])
}

func TestRecomputeWallet(t *testing.T) {
	env := newTestEnv(t)
	walletID := uuid.New()
	env.ledger.EXPECT().RecomputeBalance(gomock.Any(), walletID, domain.UserActor(env.financeID, domain.ActorFinance)).
		Return(&ports.RecomputeResult{Corrected: true, Drift: -2500}, nil)

	w := env.do(http.MethodPost, "/api/v1/finance/wallets/"+walletID.String()+"/recompute", financeToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, true, d["corrected"])
	assert.Equal(t, float64(-2500), d["drift"])
}

// --- Payments ---

func TestGetPayment_Ownership(t *testing.T) {
	env := newTestEnv(t)
	own := &domain.Payment{ID: uuid.New(), VendorID: env.vendorID, Amount: 1000, Status: domain.PaymentStatusPending}
	other := &domain.Payment{ID: uuid.New(), VendorID: uuid.New(), Amount: 1000, Status: domain.PaymentStatusPending}
	env.recon.EXPECT().GetPayment(gomock.Any(), own.ID).Return(own, nil)
	env.recon.EXPECT().GetPayment(gomock.Any(), other.ID).Return(other, nil).Times(2)

	w := env.do(http.MethodGet, "/api/v1/payments/"+own.ID.String(), vendorToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(http.MethodGet, "/api/v1/payments/"+other.ID.String(), vendorToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "PAY_001", decode(t, w)["error_code"])

	w = env.do(http.MethodGet, "/api/v1/payments/"+other.ID.String(), financeToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCheckout(t *testing.T) {
	env := newTestEnv(t)
	paymentID := uuid.New()
	env.recon.EXPECT().InitiateCheckout(gomock.Any(), paymentID, env.vendorID).
		Return(&ports.ChargeSession{Reference: "pay_1", AuthorizationURL: "https://checkout.example/pay_1"}, nil)

	w := env.do(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/checkout", vendorToken, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "https://checkout.example/pay_1", data(t, w)["authorization_url"])
}

func TestSubmitProof(t *testing.T) {
	env := newTestEnv(t)
	paymentID := uuid.New()
	env.recon.EXPECT().SubmitProof(gomock.Any(), ports.SubmitProofRequest{
		PaymentID:      paymentID,
		VendorID:       env.vendorID,
		ProofReference: "proofs/2026/03/receipt.jpg",
		BankReference:  "TRF-0091",
	}).Return(&domain.Payment{ID: paymentID, Status: domain.PaymentStatusPending}, nil)

	w := env.do(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/proof", vendorToken, map[string]string{
		"proof_reference": "proofs/2026/03/receipt.jpg",
		"bank_reference":  "TRF-0091",
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(http.MethodPost, "/api/v1/payments/"+paymentID.String()+"/proof", vendorToken, map[string]string{
		"proof_reference": "../../etc/passwd; rm",
		"bank_reference":  "TRF-0091",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFinanceReview(t *testing.T) {
	env := newTestEnv(t)
	paymentID := uuid.New()
	reviewer := domain.UserActor(env.financeID, domain.ActorFinance)

	env.recon.EXPECT().ConfirmManual(gomock.Any(), paymentID, reviewer).Return(nil, apperror.ErrProofMissing())
	env.recon.EXPECT().RejectManual(gomock.Any(), paymentID, reviewer, "receipt amount does not match").
		Return(&ports.RejectResult{Rejected: domain.Payment{ID: paymentID, Status: domain.PaymentStatusRejected}}, nil)

	w := env.do(http.MethodPost, "/api/v1/finance/payments/"+paymentID.String()+"/confirm", financeToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "PAY_005", decode(t, w)["error_code"])

	w = env.do(http.MethodPost, "/api/v1/finance/payments/"+paymentID.String()+"/reject", financeToken, map[string]string{"reason": "receipt amount does not match"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "rejected", data(t, w)["rejected"].(map[string]interface{})["status"])
}

func TestForceConfirm(t *testing.T) {
	env := newTestEnv(t)
	paymentID := uuid.New()
	justification := "gateway captured funds but the webhook never arrived"

	env.recon.EXPECT().ForceConfirm(gomock.Any(), ports.ForceConfirmRequest{
		PaymentID:        paymentID,
		Actor:            domain.UserActor(env.financeID, domain.ActorFinance),
		Justification:    justification,
		GatewayReference: "pay_777",
	}).Return(&ports.ForceConfirmResult{
		Payment:   domain.Payment{ID: paymentID, Status: domain.PaymentStatusVerified},
		Recompute: ports.RecomputeResult{Corrected: true, Drift: 1000},
	}, nil)

	w := env.do(http.MethodPost, "/api/v1/finance/payments/"+paymentID.String()+"/force-confirm", financeToken, map[string]string{
		"justification":     justification,
		"gateway_reference": "pay_777",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	d := data(t, w)
	assert.Equal(t, "verified", d["payment"].(map[string]interface{})["status"])
	assert.Equal(t, true, d["recompute"].(map[string]interface{})["corrected"])

	w = env.do(http.MethodPost, "/api/v1/finance/payments/"+paymentID.String()+"/force-confirm", financeToken, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Webhook ---

func TestGatewayWebhook_PassesRawBody(t *testing.T) {
	env := newTestEnv(t)
	body := `{"event":"charge.success","data":{"reference":"pay_1","amount":"1500.00"}}`

	env.recon.EXPECT().HandleGatewayWebhook(gomock.Any(), []byte(body), "sig-abc").
		Return(&domain.WebhookAck{Reference: "pay_1", Status: domain.WebhookStatusProcessed}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader([]byte(body)))
	req.Header.Set(DefaultSignatureHeader, "sig-abc")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "processed", data(t, w)["status"])
}

func TestGatewayWebhook_InvalidSignature(t *testing.T) {
	env := newTestEnv(t)
	env.recon.EXPECT().HandleGatewayWebhook(gomock.Any(), gomock.Any(), "").Return(nil, apperror.ErrInvalidSignature())

	w := env.do(http.MethodPost, "/api/v1/webhooks/gateway", "", `{"event":"charge.success"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "SEC_002", decode(t, w)["error_code"])
}

func TestNewWebhookHandler_CustomHeader(t *testing.T) {
	ctrl := gomock.NewController(t)
	recon := mocks.NewMockReconciliationService(ctrl)
	recon.EXPECT().HandleGatewayWebhook(gomock.Any(), []byte("{}"), "abc").
		Return(&domain.WebhookAck{Status: domain.WebhookStatusDuplicate}, nil)

	h := NewWebhookHandler(recon, "X-Paystack-Signature")
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{}")))
	c.Request.Header.Set("X-Paystack-Signature", "abc")

	h.GatewayEvent(c)
	assert.Equal(t, http.StatusOK, w.Code)
}

// --- Fraud ---

func TestRaiseFlag(t *testing.T) {
	env := newTestEnv(t)
	vendorID, auctionID := uuid.New(), uuid.New()

	env.fraud.EXPECT().RaiseFlag(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ interface{}, req ports.RaiseFlagRequest) (*domain.FraudFlag, error) {
			assert.Equal(t, vendorID, req.VendorID)
			require.NotNil(t, req.AuctionID)
			assert.Equal(t, auctionID, *req.AuctionID)
			assert.Equal(t, domain.FraudKindShillBidding, req.Kind)
			return &domain.FraudFlag{ID: uuid.New(), VendorID: vendorID, Kind: req.Kind}, nil
		})

	w := env.do(http.MethodPost, "/api/v1/admin/fraud/flags", adminToken, map[string]string{
		"vendor_id":  vendorID.String(),
		"auction_id": auctionID.String(),
		"kind":       "shill_bidding",
		"details":    "alternating bids from linked accounts",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "shill_bidding", data(t, w)["kind"])

	w = env.do(http.MethodPost, "/api/v1/admin/fraud/flags", adminToken, map[string]string{
		"vendor_id": vendorID.String(),
		"kind":      "gut_feeling",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewFlag(t *testing.T) {
	env := newTestEnv(t)
	flagID := uuid.New()
	admin := domain.UserActor(env.adminID, domain.ActorAdmin)

	env.fraud.EXPECT().ConfirmFlag(gomock.Any(), flagID, admin).
		Return(&domain.FraudFlagReview{ID: uuid.New(), FlagID: flagID, Decision: domain.ReviewConfirmed}, nil)
	env.fraud.EXPECT().DismissFlag(gomock.Any(), flagID, admin, "too short").
		Return(nil, apperror.ErrJustificationTooShort(20))

	w := env.do(http.MethodPost, "/api/v1/admin/fraud/flags/"+flagID.String()+"/confirm", adminToken, nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "confirmed", data(t, w)["decision"])

	w = env.do(http.MethodPost, "/api/v1/admin/fraud/flags/"+flagID.String()+"/dismiss", adminToken, map[string]string{"justification": "too short"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "FRD_002", decode(t, w)["error_code"])
}

func TestGetSuspension(t *testing.T) {
	env := newTestEnv(t)
	vendorID := uuid.New()
	env.fraud.EXPECT().IsSuspended(gomock.Any(), vendorID).Return(true, nil)

	w := env.do(http.MethodGet, "/api/v1/admin/vendors/"+vendorID.String()+"/suspension", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, data(t, w)["suspended"])
}

// --- Sweeps ---

func TestRunSweep(t *testing.T) {
	env := newTestEnv(t)
	env.enforcement.EXPECT().RunJob(gomock.Any(), ports.JobCloseAuctions).Return(&ports.SweepReport{
		Job:       ports.JobCloseAuctions,
		Scanned:   3,
		Succeeded: 2,
		Failed:    1,
		Errors:    []ports.SweepError{{EntityID: "a1", Error: "boom"}},
	}, nil)
	env.enforcement.EXPECT().RunJob(gomock.Any(), "reindex").Return(nil, apperror.ErrNotFound("Sweep job"))

	w := env.do(http.MethodPost, "/api/v1/admin/sweeps/close_auctions", adminToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, float64(2), d["succeeded"])
	assert.Len(t, d["errors"], 1)

	w = env.do(http.MethodPost, "/api/v1/admin/sweeps/reindex", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
