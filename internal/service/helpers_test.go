package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"salvage-settlement/internal/adapter/storage/memory"
	"salvage-settlement/internal/clock"
	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	testCurrency      = "NGN"
	testWebhookSecret = "whsec_test_7f3a"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func newTestLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// recordingAudit is a synchronous ports.AuditService.
type recordingAudit struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func (r *recordingAudit) Log(_ context.Context, entry *domain.AuditLog) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
}

func (r *recordingAudit) count(action domain.AuditAction) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

func (r *recordingAudit) last(action domain.AuditAction) *domain.AuditLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].Action == action {
			e := r.entries[i]
			return &e
		}
	}
	return nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.NotificationEvent
}

func (n *recordingNotifier) Notify(_ context.Context, ev domain.NotificationEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) ofType(typ domain.EventType) []domain.NotificationEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.NotificationEvent
	for _, ev := range n.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// stubTiers returns a fixed limit unless a vendor has its own.
type stubTiers struct {
	mu       sync.Mutex
	fallback int64
	limits   map[uuid.UUID]int64
	err      error
}

func (s *stubTiers) GetVendorTierLimit(_ context.Context, vendorID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	if l, ok := s.limits[vendorID]; ok {
		return l, nil
	}
	return s.fallback, nil
}

func (s *stubTiers) set(vendorID uuid.UUID, limit int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits[vendorID] = limit
}

// stubGateway records outbound calls.
type stubGateway struct {
	mu           sync.Mutex
	charges      []ports.ChargeRequest
	transfers    []ports.TransferRequest
	verification *ports.ChargeVerification
	transferErr  error
}

func (g *stubGateway) InitiateCharge(_ context.Context, req ports.ChargeRequest) (*ports.ChargeSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	return &ports.ChargeSession{
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.gateway.test/" + req.Reference,
	}, nil
}

func (g *stubGateway) VerifyCharge(_ context.Context, reference string) (*ports.ChargeVerification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verification == nil {
		return nil, fmt.Errorf("charge %s not found", reference)
	}
	v := *g.verification
	v.Reference = reference
	return &v, nil
}

func (g *stubGateway) InitiateTransfer(_ context.Context, req ports.TransferRequest) (*ports.TransferReceipt, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.transferErr != nil {
		return nil, g.transferErr
	}
	g.transfers = append(g.transfers, req)
	return &ports.TransferReceipt{Reference: req.Reference, TransferCode: "TRF_" + req.Reference, Status: "pending"}, nil
}

// harness wires every service over one in-memory store.
type harness struct {
	store       *memory.Store
	clock       *clock.Mock
	audit       *recordingAudit
	notifier    *recordingNotifier
	tiers       *stubTiers
	gateway     *stubGateway
	sig         *HMACSignatureService
	wallets     *memory.WalletRepo
	entries     *memory.WalletTransactionRepo
	auctionRepo *memory.AuctionRepo
	bidRepo     *memory.BidRepo
	paymentRepo *memory.PaymentRepo
	fraudRepo   *memory.FraudRepo
	suspensions *memory.SuspensionRepo

	ledger      *LedgerServiceImpl
	auctions    *AuctionServiceImpl
	recon       *ReconciliationServiceImpl
	fraud       *FraudServiceImpl
	enforcement *EnforcementServiceImpl
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	policy      AuctionPolicy
	recon       ReconciliationSettings
	enforcement EnforcementSettings
	ackCache    ports.IdempotencyCache
	readCache   ports.ReadCache
	suspensions func(ports.SuspensionRepository) ports.SuspensionRepository
}

func withPolicy(fn func(p *AuctionPolicy)) harnessOption {
	return func(c *harnessConfig) { fn(&c.policy) }
}

func withRecon(fn func(r *ReconciliationSettings)) harnessOption {
	return func(c *harnessConfig) { fn(&c.recon) }
}

func withAckCache(cache ports.IdempotencyCache) harnessOption {
	return func(c *harnessConfig) { c.ackCache = cache }
}

func withReadCache(cache ports.ReadCache) harnessOption {
	return func(c *harnessConfig) { c.readCache = cache }
}

// withSuspensions wraps the suspension repository handed to the services.
func withSuspensions(wrap func(ports.SuspensionRepository) ports.SuspensionRepository) harnessOption {
	return func(c *harnessConfig) { c.suspensions = wrap }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		policy: AuctionPolicy{
			Extension:     domain.ExtensionPolicy{Window: 5 * time.Minute, Increment: 10 * time.Minute, MaxTotal: 2 * time.Hour},
			PaymentWindow: 48 * time.Hour,
			AuctionTTL:    5 * time.Second,
		},
		recon: ReconciliationSettings{
			WebhookSecret:          testWebhookSecret,
			WebhookTimeout:         10 * time.Second,
			WebhookTTL:             24 * time.Hour,
			Currency:               testCurrency,
			VerifyOnForceConfirm:   true,
			MinJustificationLength: 20,
		},
		enforcement: EnforcementSettings{
			BatchSize:        100,
			FraudThreshold:   3,
			Currency:         testCurrency,
			InsurerRecipient: "RCP_insurer_01",
		},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	store := memory.New()
	h := &harness{
		store:       store,
		clock:       clock.NewMock(t0),
		audit:       &recordingAudit{},
		notifier:    &recordingNotifier{},
		tiers:       &stubTiers{fallback: 1_000_000_00, limits: map[uuid.UUID]int64{}},
		gateway:     &stubGateway{},
		sig:         NewHMACSignatureService("sha512"),
		wallets:     memory.NewWalletRepo(store),
		entries:     memory.NewWalletTransactionRepo(store),
		auctionRepo: memory.NewAuctionRepo(store),
		bidRepo:     memory.NewBidRepo(store),
		paymentRepo: memory.NewPaymentRepo(store),
		fraudRepo:   memory.NewFraudRepo(store),
		suspensions: memory.NewSuspensionRepo(store),
	}
	rt := Runtime{
		Transactor: store,
		Audit:      h.audit,
		Clock:      h.clock,
		Tracer:     noop.NewTracerProvider(),
		Log:        newTestLogger(),
	}
	var suspensions ports.SuspensionRepository = h.suspensions
	if cfg.suspensions != nil {
		suspensions = cfg.suspensions(suspensions)
	}
	h.ledger = NewLedgerService(rt, h.wallets, h.entries, cfg.readCache, LedgerSettings{Currency: testCurrency, BalanceTTL: 10 * time.Second})
	h.auctions = NewAuctionService(rt, h.auctionRepo, h.bidRepo, h.paymentRepo, suspensions, h.ledger, h.tiers, h.notifier, cfg.readCache, cfg.policy)
	h.recon = NewReconciliationService(rt, h.paymentRepo, h.auctionRepo, h.ledger, h.auctions, h.gateway, h.sig, cfg.ackCache, cfg.recon)
	h.fraud = NewFraudService(rt, h.fraudRepo, suspensions, h.bidRepo, h.auctionRepo, h.notifier, cfg.readCache,
		FraudSettings{Threshold: cfg.enforcement.FraudThreshold, MinJustificationLength: 20})
	h.enforcement = NewEnforcementService(rt, h.auctionRepo, h.paymentRepo, h.wallets, h.fraudRepo,
		h.auctions, h.fraud, h.ledger, h.gateway, h.notifier, cfg.enforcement)
	return h
}

// fund credits a vendor's wallet, creating it on first use.
func (h *harness) fund(t *testing.T, vendorID uuid.UUID, amount int64) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := h.ledger.EnsureWallet(ctx, vendorID)
	require.NoError(t, err)
	res, err := h.ledger.Credit(ctx, ports.LedgerRequest{
		WalletID:  w.ID,
		Amount:    amount,
		Reference: "seed:" + uuid.NewString(),
		Actor:     domain.SystemActor,
	})
	require.NoError(t, err)
	return &res.Wallet
}

func (h *harness) wallet(t *testing.T, vendorID uuid.UUID) domain.Wallet {
	t.Helper()
	w, err := h.wallets.GetByVendorID(context.Background(), vendorID)
	require.NoError(t, err)
	require.NotNil(t, w)
	return *w
}

// listAuction creates an auction running from now for d.
func (h *harness) listAuction(t *testing.T, d time.Duration, startingBid, increment int64) *domain.Auction {
	t.Helper()
	now := h.clock.Now()
	a, err := h.auctions.CreateAuction(context.Background(), ports.CreateAuctionRequest{
		CaseID:           uuid.New(),
		StartTime:        now,
		EndTime:          now.Add(d),
		StartingBid:      startingBid,
		MinimumIncrement: increment,
		Actor:            domain.UserActor(uuid.New(), domain.ActorAdmin),
	})
	require.NoError(t, err)
	return a
}

func (h *harness) bid(t *testing.T, auctionID, vendorID uuid.UUID, amount int64) *ports.BidResult {
	t.Helper()
	res, err := h.auctions.PlaceBid(context.Background(), ports.PlaceBidRequest{AuctionID: auctionID, VendorID: vendorID, Amount: amount})
	require.NoError(t, err)
	return res
}

// wonAuction runs an auction to closure with vendorID as the only bidder.
func (h *harness) wonAuction(t *testing.T, vendorID uuid.UUID, amount int64) (*domain.Auction, *domain.Payment) {
	t.Helper()
	a := h.listAuction(t, time.Hour, amount, 1000)
	res := h.bid(t, a.ID, vendorID, amount)
	require.True(t, res.Accepted, "bid rejected: %s", res.Reason)

	h.clock.Set(res.Auction.EndTime.Add(time.Second))
	closed, err := h.auctions.CloseAuction(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, closed.Payment)
	return &closed.Auction, closed.Payment
}

func (h *harness) payment(t *testing.T, id uuid.UUID) domain.Payment {
	t.Helper()
	p, err := h.paymentRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, p)
	return *p
}

func (h *harness) auction(t *testing.T, id uuid.UUID) domain.Auction {
	t.Helper()
	a, err := h.auctionRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, a)
	return *a
}

func (h *harness) ledgerEntries(t *testing.T, vendorID uuid.UUID) []domain.WalletTransaction {
	t.Helper()
	w := h.wallet(t, vendorID)
	entries, _, err := h.entries.ListByWallet(context.Background(), w.ID, 0, 0)
	require.NoError(t, err)
	return entries
}

// webhook builds a signed charge.success body.
func (h *harness) webhook(ref, amount, purpose string, paymentID, vendorID uuid.UUID) ([]byte, string) {
	body := []byte(fmt.Sprintf(`{"event":"charge.success","data":{"reference":%q,"amount":%q,"currency":%q,"status":"success","metadata":{"purpose":%q,"payment_id":%q,"vendor_id":%q}}}`,
		ref, amount, testCurrency, purpose, paymentID.String(), vendorID.String()))
	return body, h.sig.Sign(testWebhookSecret, body)
}

// lockTrace records vendor lock and suspension lookups in call order.
type lockTrace struct {
	ports.SuspensionRepository
	mu    sync.Mutex
	calls []string
}

func (l *lockTrace) LockVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, exclusive bool) error {
	mode := "shared"
	if exclusive {
		mode = "exclusive"
	}
	l.record(mode, tx)
	return l.SuspensionRepository.LockVendor(ctx, tx, vendorID, exclusive)
}

func (l *lockTrace) GetByVendor(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.VendorSuspension, error) {
	l.record("read", tx)
	return l.SuspensionRepository.GetByVendor(ctx, tx, vendorID)
}

func (l *lockTrace) Create(ctx context.Context, tx pgx.Tx, s *domain.VendorSuspension) (bool, error) {
	l.record("create", tx)
	return l.SuspensionRepository.Create(ctx, tx, s)
}

func (l *lockTrace) record(call string, tx pgx.Tx) {
	if tx == nil {
		call += " (no tx)"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, call)
}

func (l *lockTrace) take() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.calls
	l.calls = nil
	return out
}
