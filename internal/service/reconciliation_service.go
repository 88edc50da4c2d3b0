package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/apperror"
	"salvage-settlement/pkg/money"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Webhook purposes carried in charge metadata.
const (
	PurposeAuctionPayment = "auction_payment"
	PurposeWalletFunding  = "wallet_funding"
)

const eventChargeSuccess = "charge.success"

// ReconciliationSettings configures the payment pipeline.
type ReconciliationSettings struct {
	WebhookSecret          string
	WebhookTimeout         time.Duration
	WebhookTTL             time.Duration // ack cache TTL
	Currency               string
	CallbackURL            string
	VerifyOnForceConfirm   bool
	MinJustificationLength int
}

// gatewayEvent is the inbound webhook body. Amounts are decimal major units.
type gatewayEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string          `json:"reference"`
		Amount    decimal.Decimal `json:"amount"`
		Currency  string          `json:"currency"`
		Status    string          `json:"status"`
		Metadata  struct {
			Purpose   string `json:"purpose"`
			PaymentID string `json:"payment_id"`
			VendorID  string `json:"vendor_id"`
		} `json:"metadata"`
	} `json:"data"`
}

// ReconciliationServiceImpl implements ports.ReconciliationService.
type ReconciliationServiceImpl struct {
	rt          Runtime
	paymentRepo ports.PaymentRepository
	auctionRepo ports.AuctionRepository
	ledger      *LedgerServiceImpl
	auctions    ports.AuctionService
	gateway     ports.PaymentGateway
	sigSvc      ports.SignatureService
	ackCache    ports.IdempotencyCache
	settings    ReconciliationSettings
	tracer      trace.Tracer
	webhooks    metric.Int64Counter
}

// NewReconciliationService creates a new ReconciliationServiceImpl. ackCache may be nil.
func NewReconciliationService(
	rt Runtime,
	paymentRepo ports.PaymentRepository,
	auctionRepo ports.AuctionRepository,
	ledger *LedgerServiceImpl,
	auctions ports.AuctionService,
	gateway ports.PaymentGateway,
	sigSvc ports.SignatureService,
	ackCache ports.IdempotencyCache,
	settings ReconciliationSettings,
) *ReconciliationServiceImpl {
	rt = rt.withDefaults()
	if settings.Currency == "" {
		settings.Currency = ledger.settings.Currency
	}
	return &ReconciliationServiceImpl{
		rt:          rt,
		paymentRepo: paymentRepo,
		auctionRepo: auctionRepo,
		ledger:      ledger,
		auctions:    auctions,
		gateway:     gateway,
		sigSvc:      sigSvc,
		ackCache:    ackCache,
		settings:    settings,
		tracer:      rt.tracer(),
		webhooks:    rt.counter("reconciliation.webhooks", "Gateway webhooks by outcome"),
	}
}

// HandleGatewayWebhook authenticates and applies a gateway event. The
// signature is checked over the raw body before anything is parsed.
func (s *ReconciliationServiceImpl) HandleGatewayWebhook(ctx context.Context, rawBody []byte, signature string) (ack *domain.WebhookAck, err error) {
	if s.settings.WebhookTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.WebhookTimeout)
		defer cancel()
	}
	ctx, span := s.tracer.Start(ctx, "Reconciliation.Webhook")
	defer func() {
		outcome := "error"
		if ack != nil {
			outcome = ack.Status
			span.SetAttributes(attribute.String("reference", ack.Reference))
		}
		s.webhooks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		endSpan(span, err)
	}()

	if s.settings.WebhookSecret == "" || !s.sigSvc.Verify(s.settings.WebhookSecret, rawBody, signature) {
		s.rt.Log.Warn().Int("body_bytes", len(rawBody)).Msg("webhook: signature verification failed")
		return nil, apperror.ErrInvalidSignature()
	}

	var ev gatewayEvent
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		return nil, apperror.Validation("malformed webhook payload")
	}
	ref := ev.Data.Reference
	if ev.Event != eventChargeSuccess || ev.Data.Status != "success" {
		s.rt.Log.Info().Str("event", ev.Event).Str("reference", ref).Msg("webhook: event ignored")
		return &domain.WebhookAck{Reference: ref, Status: domain.WebhookStatusIgnored}, nil
	}
	if ref == "" {
		return nil, apperror.Validation("webhook reference is required")
	}

	if cached := s.cachedAck(ctx, ref); cached != nil {
		return cached, nil
	}
	if prior, err := s.priorAck(ctx, ref); err != nil || prior != nil {
		if prior != nil {
			s.storeAck(ctx, prior)
		}
		return prior, err
	}

	amount, err := money.ToMinor(ev.Data.Amount)
	if err != nil || amount <= 0 {
		return nil, apperror.Validation("webhook amount is invalid")
	}

	switch ev.Data.Metadata.Purpose {
	case PurposeWalletFunding:
		ack, err = s.applyFunding(ctx, &ev, amount)
	default:
		ack, err = s.applyAuctionPayment(ctx, &ev, amount)
	}
	if err != nil {
		return nil, err
	}
	if ack.Status != domain.WebhookStatusIgnored {
		s.storeAck(ctx, ack)
	}
	return ack, nil
}

// priorAck finds evidence that the reference was already applied: a ledger
// entry under the gateway credit reference, or a verified payment carrying it.
func (s *ReconciliationServiceImpl) priorAck(ctx context.Context, ref string) (*domain.WebhookAck, error) {
	payment, err := s.paymentRepo.GetByReference(ctx, ref)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lookup payment by reference: %w", err))
	}
	if payment != nil && payment.Status == domain.PaymentStatusVerified {
		return &domain.WebhookAck{Reference: ref, Status: domain.WebhookStatusDuplicate, PaymentID: payment.ID.String()}, nil
	}

	entry, err := s.ledger.entryRepo.GetByReference(ctx, nil, domain.GatewayCreditReference(ref))
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lookup ledger reference: %w", err))
	}
	if entry != nil {
		ack := &domain.WebhookAck{Reference: ref, Status: domain.WebhookStatusDuplicate}
		if payment != nil {
			ack.PaymentID = payment.ID.String()
		}
		return ack, nil
	}
	return nil, nil
}

func (s *ReconciliationServiceImpl) cachedAck(ctx context.Context, ref string) *domain.WebhookAck {
	if s.ackCache == nil {
		return nil
	}
	cached, err := s.ackCache.Get(ctx, ref)
	if err != nil {
		s.rt.Log.Warn().Err(err).Str("reference", ref).Msg("webhook ack cache lookup failed, falling through to DB")
		return nil
	}
	if cached == nil {
		return nil
	}
	var ack domain.WebhookAck
	if err := json.Unmarshal(cached, &ack); err != nil {
		return nil
	}
	if ack.Status == domain.WebhookStatusProcessed {
		ack.Status = domain.WebhookStatusDuplicate
	}
	return &ack
}

func (s *ReconciliationServiceImpl) storeAck(ctx context.Context, ack *domain.WebhookAck) {
	if s.ackCache == nil || s.settings.WebhookTTL <= 0 {
		return
	}
	b, err := json.Marshal(ack)
	if err != nil {
		return
	}
	if err := s.ackCache.Set(ctx, ack.Reference, b, s.settings.WebhookTTL); err != nil {
		s.rt.Log.Warn().Err(err).Str("reference", ack.Reference).Msg("failed to cache webhook ack")
	}
}

func (s *ReconciliationServiceImpl) applyAuctionPayment(ctx context.Context, ev *gatewayEvent, amount int64) (*domain.WebhookAck, error) {
	ref := ev.Data.Reference
	payment, err := s.resolvePayment(ctx, ref, ev.Data.Metadata.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		s.rt.Log.Error().Str("reference", ref).Str("payment_id", ev.Data.Metadata.PaymentID).
			Int64("amount", amount).Msg("webhook: no payment matches captured charge")
		return &domain.WebhookAck{Reference: ref, Status: domain.WebhookStatusIgnored}, nil
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, payment, err = s.lockPaymentChain(ctx, tx, payment.ID)
	if err != nil {
		return nil, err
	}
	wallet, err := s.ledger.ensureWalletInTx(ctx, tx, payment.VendorID)
	if err != nil {
		return nil, err
	}

	ack := &domain.WebhookAck{Reference: ref, PaymentID: payment.ID.String()}
	now := s.rt.Clock.Now()
	creditRef := domain.GatewayCreditReference(ref)
	var audits auditBatch
	settle := false

	switch {
	case payment.Status == domain.PaymentStatusVerified:
		// Already funded through another path (escrow, manual, force-confirm or
		// a concurrent delivery of this event). The ledger is not touched again.
		ack.Status = domain.WebhookStatusDuplicate
		applied, err := s.ledger.entryRepo.GetByReference(ctx, tx, creditRef)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("lookup ledger reference: %w", err))
		}
		if applied == nil && payment.PaymentReference != nil && *payment.PaymentReference != ref {
			s.rt.Log.Error().Str("payment_id", payment.ID.String()).Str("reference", ref).
				Str("recorded_reference", *payment.PaymentReference).Int64("amount", amount).
				Msg("webhook: second capture for verified payment, refund required")
			dup := domain.NewAuditLog(domain.GatewayActor, domain.AuditActionDuplicateCapture, "payment", payment.ID.String(), nil,
				map[string]any{"reference": ref, "amount": amount, "recorded_reference": *payment.PaymentReference})
			dup.CreatedAt = now
			s.rt.Audit.Log(ctx, dup)
		}
		return ack, nil

	case payment.Status != domain.PaymentStatusPending:
		// Overdue or rejected: the money was captured after the payment stopped
		// being payable. Keep it available to the vendor rather than dropping it.
		_, entry, err := s.ledger.applyInTx(ctx, tx, domain.WalletTxCredit, ports.LedgerRequest{
			WalletID: wallet.ID, Amount: amount, Reference: creditRef,
			Description: "late gateway payment " + ref, Actor: domain.GatewayActor,
		})
		if err != nil {
			return nil, err
		}
		late := domain.NewAuditLog(domain.GatewayActor, domain.AuditActionLatePayment, "payment", payment.ID.String(), nil,
			map[string]any{"reference": ref, "amount": amount, "payment_status": payment.Status})
		late.CreatedAt = now
		audits.add(entry, late)
		ack.Status = domain.WebhookStatusLate
		s.rt.Log.Warn().Str("payment_id", payment.ID.String()).Str("status", string(payment.Status)).
			Int64("amount", amount).Msg("webhook: late payment credited to available balance")

	case amount != payment.Amount || (ev.Data.Currency != "" && ev.Data.Currency != s.settings.Currency):
		s.rt.Log.Error().
			Str("payment_id", payment.ID.String()).
			Str("reference", ref).
			Int64("expected", payment.Amount).
			Int64("received", amount).
			Str("currency", ev.Data.Currency).
			Msg("webhook: payment amount mismatch")
		mismatch := domain.NewAuditLog(domain.GatewayActor, domain.AuditActionPaymentMismatch, "payment", payment.ID.String(), payment,
			map[string]any{"reference": ref, "amount": amount, "currency": ev.Data.Currency})
		mismatch.CreatedAt = now
		s.rt.Audit.Log(ctx, mismatch)
		ack.Status = domain.WebhookStatusMismatch
		return ack, nil

	default:
		_, entries, err := s.ledger.creditAndFreezeInTx(ctx, tx, wallet.ID, amount, creditRef, "gateway payment "+ref, domain.GatewayActor)
		if err != nil {
			return nil, err
		}
		before := *payment
		if payment.PaymentReference == nil {
			payment.PaymentReference = &ref
		}
		payment.Method = domain.PaymentMethodGateway
		payment.MarkVerified(now, true, nil)
		if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("update payment: %w", err))
		}
		verified := domain.NewAuditLog(domain.GatewayActor, domain.AuditActionPaymentVerified, "payment", payment.ID.String(), &before, payment)
		verified.CreatedAt = now
		audits.add(entries...)
		audits.add(verified)
		ack.Status = domain.WebhookStatusProcessed
		settle = true
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	audits.flush(ctx, s.rt.Audit)
	s.ledger.afterCommit(ctx, payment.VendorID)

	s.rt.Log.Info().Str("payment_id", payment.ID.String()).Str("reference", ref).
		Str("status", ack.Status).Msg("webhook: payment reconciled")
	if settle {
		s.trySettle(ctx, payment.AuctionID, domain.GatewayActor)
	}
	return ack, nil
}

func (s *ReconciliationServiceImpl) applyFunding(ctx context.Context, ev *gatewayEvent, amount int64) (*domain.WebhookAck, error) {
	ref := ev.Data.Reference
	vendorID, err := uuid.Parse(ev.Data.Metadata.VendorID)
	if err != nil {
		s.rt.Log.Error().Str("reference", ref).Msg("webhook: funding event without vendor")
		return &domain.WebhookAck{Reference: ref, Status: domain.WebhookStatusIgnored}, nil
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.ledger.ensureWalletInTx(ctx, tx, vendorID)
	if err != nil {
		return nil, err
	}
	res, entry, err := s.ledger.applyInTx(ctx, tx, domain.WalletTxCredit, ports.LedgerRequest{
		WalletID: wallet.ID, Amount: amount, Reference: domain.GatewayCreditReference(ref),
		Description: "wallet funding " + ref, Actor: domain.GatewayActor,
	})
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if entry != nil {
		funded := domain.NewAuditLog(domain.GatewayActor, domain.AuditActionWalletFunded, "wallet", wallet.ID.String(), wallet, &res.Wallet)
		funded.CreatedAt = s.rt.Clock.Now()
		s.rt.Audit.Log(ctx, entry)
		s.rt.Audit.Log(ctx, funded)
	}
	s.ledger.afterCommit(ctx, vendorID)
	s.rt.Log.Info().Str("vendor_id", vendorID.String()).Str("reference", ref).Int64("amount", amount).Msg("webhook: wallet funded")
	return &domain.WebhookAck{Reference: ref, Status: domain.WebhookStatusProcessed}, nil
}

func (s *ReconciliationServiceImpl) resolvePayment(ctx context.Context, ref, metadataID string) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByReference(ctx, ref)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lookup payment by reference: %w", err))
	}
	if payment != nil {
		return payment, nil
	}
	id, err := uuid.Parse(metadataID)
	if err != nil {
		return nil, nil
	}
	payment, err = s.paymentRepo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
	}
	return payment, nil
}

// lockPaymentChain takes the auction then the payment row lock.
func (s *ReconciliationServiceImpl) lockPaymentChain(ctx context.Context, tx pgx.Tx, paymentID uuid.UUID) (*domain.Auction, *domain.Payment, error) {
	snapshot, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
	}
	if snapshot == nil {
		return nil, nil, apperror.ErrPaymentNotFound()
	}
	auction, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, snapshot.AuctionID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lock auction: %w", err))
	}
	if auction == nil {
		return nil, nil, apperror.ErrAuctionNotFound()
	}
	payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, paymentID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lock payment: %w", err))
	}
	if payment == nil {
		return nil, nil, apperror.ErrPaymentNotFound()
	}
	return auction, payment, nil
}

// trySettle attempts settlement after a confirmation. Failures are left to the settlement sweep.
func (s *ReconciliationServiceImpl) trySettle(ctx context.Context, auctionID uuid.UUID, actor domain.Actor) {
	if s.auctions == nil {
		return
	}
	if _, err := s.auctions.SettleAuction(ctx, auctionID, actor); err != nil {
		s.rt.Log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("settlement deferred to sweep")
	}
}

// InitiateCheckout opens a hosted gateway checkout for a pending payment.
func (s *ReconciliationServiceImpl) InitiateCheckout(ctx context.Context, paymentID, vendorID uuid.UUID) (session *ports.ChargeSession, err error) {
	ctx, span := s.tracer.Start(ctx, "Reconciliation.Checkout", trace.WithAttributes(uuidAttr("payment_id", paymentID)))
	defer func() { endSpan(span, err) }()

	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
	}
	if payment == nil {
		return nil, apperror.ErrPaymentNotFound()
	}
	if payment.VendorID != vendorID {
		return nil, apperror.ErrForbidden()
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, apperror.ErrPaymentNotPending(string(payment.Status))
	}

	ref := domain.ChargeReference(paymentID)
	session, err = s.gateway.InitiateCharge(ctx, ports.ChargeRequest{
		Reference:   ref,
		Amount:      payment.Amount,
		Currency:    s.settings.Currency,
		VendorID:    vendorID,
		CallbackURL: s.settings.CallbackURL,
		Metadata: map[string]string{
			"purpose":    PurposeAuctionPayment,
			"payment_id": paymentID.String(),
			"vendor_id":  vendorID.String(),
		},
	})
	if err != nil {
		return nil, apperror.ErrExternalService("payment gateway", err)
	}

	if payment.PaymentReference == nil {
		if err := s.attachReference(ctx, paymentID, ref); err != nil {
			return nil, err
		}
	}
	s.rt.Log.Info().Str("payment_id", paymentID.String()).Str("reference", ref).Msg("checkout initiated")
	return session, nil
}

func (s *ReconciliationServiceImpl) attachReference(ctx context.Context, paymentID uuid.UUID, ref string) error {
	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, paymentID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("lock payment: %w", err))
	}
	if payment == nil || payment.PaymentReference != nil {
		return nil
	}
	payment.PaymentReference = &ref
	payment.UpdatedAt = s.rt.Clock.Now()
	if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("update payment: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// InitiateFunding opens a gateway checkout that tops up the vendor's wallet.
func (s *ReconciliationServiceImpl) InitiateFunding(ctx context.Context, vendorID uuid.UUID, amount int64) (*ports.ChargeSession, error) {
	if amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if _, err := s.ledger.EnsureWallet(ctx, vendorID); err != nil {
		return nil, err
	}
	ref := domain.FundingReference()
	session, err := s.gateway.InitiateCharge(ctx, ports.ChargeRequest{
		Reference:   ref,
		Amount:      amount,
		Currency:    s.settings.Currency,
		VendorID:    vendorID,
		CallbackURL: s.settings.CallbackURL,
		Metadata: map[string]string{
			"purpose":   PurposeWalletFunding,
			"vendor_id": vendorID.String(),
		},
	})
	if err != nil {
		return nil, apperror.ErrExternalService("payment gateway", err)
	}
	return session, nil
}

// SubmitProof attaches a bank transfer proof to a pending payment. Proofs are
// never verified automatically.
func (s *ReconciliationServiceImpl) SubmitProof(ctx context.Context, req ports.SubmitProofRequest) (*domain.Payment, error) {
	if req.ProofReference == "" {
		return nil, apperror.Validation("proof_reference is required")
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, req.PaymentID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock payment: %w", err))
	}
	if payment == nil {
		return nil, apperror.ErrPaymentNotFound()
	}
	if payment.VendorID != req.VendorID {
		return nil, apperror.ErrForbidden()
	}
	now := s.rt.Clock.Now()
	if payment.Status != domain.PaymentStatusPending {
		return nil, apperror.ErrPaymentNotPending(string(payment.Status))
	}
	if payment.IsPastDeadline(now) {
		return nil, apperror.ErrPaymentNotPending(string(domain.PaymentStatusOverdue))
	}

	before := *payment
	proof := req.ProofReference
	payment.ProofReference = &proof
	payment.Method = domain.PaymentMethodBankTransfer
	payment.UpdatedAt = now
	if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update payment: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	entry := domain.NewAuditLog(domain.UserActor(req.VendorID, domain.ActorVendor), domain.AuditActionPaymentProof, "payment",
		payment.ID.String(), &before, map[string]any{"payment": payment, "bank_reference": req.BankReference})
	entry.CreatedAt = now
	s.rt.Audit.Log(ctx, entry)
	return payment, nil
}

// ConfirmManual verifies a bank transfer after a finance reviewer checked the proof.
func (s *ReconciliationServiceImpl) ConfirmManual(ctx context.Context, paymentID uuid.UUID, reviewer domain.Actor) (payment *domain.Payment, err error) {
	ctx, span := s.tracer.Start(ctx, "Reconciliation.ConfirmManual", trace.WithAttributes(uuidAttr("payment_id", paymentID)))
	defer func() { endSpan(span, err) }()

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, payment, err = s.lockPaymentChain(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, apperror.ErrPaymentNotPending(string(payment.Status))
	}
	if payment.ProofReference == nil {
		return nil, apperror.ErrProofMissing()
	}

	wallet, err := s.ledger.ensureWalletInTx(ctx, tx, payment.VendorID)
	if err != nil {
		return nil, err
	}
	_, entries, err := s.ledger.creditAndFreezeInTx(ctx, tx, wallet.ID, payment.Amount,
		domain.ManualCreditReference(paymentID), "bank transfer "+paymentID.String(), reviewer)
	if err != nil {
		return nil, err
	}

	now := s.rt.Clock.Now()
	before := *payment
	payment.MarkVerified(now, false, reviewer.ID)
	if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update payment: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	var audits auditBatch
	audits.add(entries...)
	verified := domain.NewAuditLog(reviewer, domain.AuditActionPaymentVerified, "payment", payment.ID.String(), &before, payment)
	verified.CreatedAt = now
	audits.add(verified)
	audits.flush(ctx, s.rt.Audit)
	s.ledger.afterCommit(ctx, payment.VendorID)

	s.rt.Log.Info().Str("payment_id", paymentID.String()).Int64("amount", payment.Amount).Msg("manual payment confirmed")
	s.trySettle(ctx, payment.AuctionID, reviewer)
	return payment, nil
}

// RejectManual rejects a bank transfer proof. While the deadline has not
// passed the winner gets a fresh pending payment to try again.
func (s *ReconciliationServiceImpl) RejectManual(ctx context.Context, paymentID uuid.UUID, reviewer domain.Actor, reason string) (*ports.RejectResult, error) {
	if reason == "" {
		return nil, apperror.Validation("reason is required")
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	auction, payment, err := s.lockPaymentChain(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, apperror.ErrPaymentNotPending(string(payment.Status))
	}

	now := s.rt.Clock.Now()
	before := *payment
	payment.Status = domain.PaymentStatusRejected
	payment.RejectionReason = &reason
	payment.VerifiedBy = reviewer.ID
	payment.UpdatedAt = now
	if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update payment: %w", err))
	}

	result := &ports.RejectResult{Rejected: *payment}
	if auction.Status == domain.AuctionStatusClosed && now.Before(payment.Deadline) {
		replacement := &domain.Payment{
			ID:        uuid.New(),
			AuctionID: payment.AuctionID,
			VendorID:  payment.VendorID,
			Amount:    payment.Amount,
			Method:    domain.PaymentMethodGateway,
			Status:    domain.PaymentStatusPending,
			Deadline:  payment.Deadline,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.paymentRepo.Create(ctx, tx, replacement); err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("create replacement payment: %w", err))
		}
		result.Replacement = replacement
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	entry := domain.NewAuditLog(reviewer, domain.AuditActionPaymentRejected, "payment", payment.ID.String(), &before, payment)
	entry.CreatedAt = now
	s.rt.Audit.Log(ctx, entry)
	s.rt.Log.Info().Str("payment_id", paymentID.String()).Str("reason", reason).
		Bool("replacement", result.Replacement != nil).Msg("manual payment rejected")
	return result, nil
}

// ForceConfirm confirms a payment whose funds the gateway captured but whose
// webhook never verified. It applies the same credit and freeze as the
// webhook under a synthetic reference and recomputes the wallet balance.
func (s *ReconciliationServiceImpl) ForceConfirm(ctx context.Context, req ports.ForceConfirmRequest) (result *ports.ForceConfirmResult, err error) {
	ctx, span := s.tracer.Start(ctx, "Reconciliation.ForceConfirm", trace.WithAttributes(uuidAttr("payment_id", req.PaymentID)))
	defer func() { endSpan(span, err) }()

	if utf8.RuneCountInString(req.Justification) < s.settings.MinJustificationLength {
		return nil, apperror.ErrJustificationTooShort(s.settings.MinJustificationLength)
	}

	snapshot, err := s.paymentRepo.GetByID(ctx, req.PaymentID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
	}
	if snapshot == nil {
		return nil, apperror.ErrPaymentNotFound()
	}
	if snapshot.Status != domain.PaymentStatusPending {
		return nil, apperror.ErrPaymentNotPending(string(snapshot.Status))
	}

	// The gateway call happens before any row is locked.
	if req.GatewayReference != "" && s.settings.VerifyOnForceConfirm {
		v, err := s.gateway.VerifyCharge(ctx, req.GatewayReference)
		if err != nil {
			return nil, apperror.ErrExternalService("payment gateway", err)
		}
		if !v.Succeeded() {
			return nil, apperror.Validation(fmt.Sprintf("gateway reports charge %s as %s", req.GatewayReference, v.Status))
		}
		if v.Amount != snapshot.Amount {
			return nil, apperror.ErrAmountMismatch(snapshot.Amount, v.Amount)
		}
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, payment, err := s.lockPaymentChain(ctx, tx, req.PaymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != domain.PaymentStatusPending {
		return nil, apperror.ErrPaymentNotPending(string(payment.Status))
	}

	wallet, err := s.ledger.ensureWalletInTx(ctx, tx, payment.VendorID)
	if err != nil {
		return nil, err
	}

	var audits auditBatch
	// A drifted wallet would refuse the credit; restore the identity first.
	repaired, repairAudit, err := s.ledger.recomputeInTx(ctx, tx, wallet.ID, req.Actor)
	if err != nil {
		return nil, err
	}
	audits.add(repairAudit)

	credit, entries, err := s.ledger.creditAndFreezeInTx(ctx, tx, wallet.ID, payment.Amount,
		domain.ForceConfirmReference(payment.ID), "force-confirmed payment "+payment.ID.String(), req.Actor)
	if err != nil {
		return nil, err
	}
	audits.add(entries...)

	recompute, recomputeAudit, err := s.ledger.recomputeInTx(ctx, tx, wallet.ID, req.Actor)
	if err != nil {
		return nil, err
	}
	audits.add(recomputeAudit)
	if repaired.Corrected {
		recompute.Corrected = true
		recompute.Drift = repaired.Drift
		recompute.Transaction = repaired.Transaction
	}

	now := s.rt.Clock.Now()
	before := *payment
	if req.GatewayReference != "" && payment.PaymentReference == nil {
		ref := req.GatewayReference
		payment.PaymentReference = &ref
	}
	payment.MarkVerified(now, false, req.Actor.ID)
	if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update payment: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	forced := domain.NewAuditLog(req.Actor, domain.AuditActionPaymentForced, "payment", payment.ID.String(), &before,
		map[string]any{"payment": payment, "justification": req.Justification, "gateway_reference": req.GatewayReference})
	forced.CreatedAt = now
	audits.add(forced)
	audits.flush(ctx, s.rt.Audit)
	s.ledger.afterCommit(ctx, payment.VendorID)

	s.rt.Log.Warn().
		Str("payment_id", payment.ID.String()).
		Int64("amount", payment.Amount).
		Bool("balance_corrected", recompute.Corrected).
		Msg("payment force-confirmed")
	s.trySettle(ctx, payment.AuctionID, req.Actor)

	return &ports.ForceConfirmResult{Payment: *payment, Credit: *credit, Recompute: *recompute}, nil
}

// GetPayment returns a payment by ID.
func (s *ReconciliationServiceImpl) GetPayment(ctx context.Context, paymentID uuid.UUID) (*domain.Payment, error) {
	payment, err := s.paymentRepo.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
	}
	if payment == nil {
		return nil, apperror.ErrPaymentNotFound()
	}
	return payment, nil
}
