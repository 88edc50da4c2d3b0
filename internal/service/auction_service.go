package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// AuctionPolicy holds bidding and closure rules.
type AuctionPolicy struct {
	Extension       domain.ExtensionPolicy
	PaymentWindow   time.Duration
	RelistOnOverdue bool
	RelistDuration  time.Duration
	AuctionTTL      time.Duration // read cache TTL for auction status
}

// AuctionServiceImpl implements ports.AuctionService.
type AuctionServiceImpl struct {
	rt          Runtime
	auctionRepo ports.AuctionRepository
	bidRepo     ports.BidRepository
	paymentRepo ports.PaymentRepository
	suspensions ports.SuspensionRepository
	ledger      *LedgerServiceImpl
	tiers       ports.TierProvider
	notifier    ports.Notifier
	cache       ports.ReadCache
	policy      AuctionPolicy
	tracer      trace.Tracer
	bids        metric.Int64Counter
	extensions  metric.Int64Counter
}

// NewAuctionService creates a new AuctionServiceImpl. notifier and cache may be nil.
func NewAuctionService(
	rt Runtime,
	auctionRepo ports.AuctionRepository,
	bidRepo ports.BidRepository,
	paymentRepo ports.PaymentRepository,
	suspensions ports.SuspensionRepository,
	ledger *LedgerServiceImpl,
	tiers ports.TierProvider,
	notifier ports.Notifier,
	cache ports.ReadCache,
	policy AuctionPolicy,
) *AuctionServiceImpl {
	rt = rt.withDefaults()
	return &AuctionServiceImpl{
		rt:          rt,
		auctionRepo: auctionRepo,
		bidRepo:     bidRepo,
		paymentRepo: paymentRepo,
		suspensions: suspensions,
		ledger:      ledger,
		tiers:       tiers,
		notifier:    notifier,
		cache:       cache,
		policy:      policy,
		tracer:      rt.tracer(),
		bids:        rt.counter("auction.bids", "Bids received by outcome"),
		extensions:  rt.counter("auction.extensions", "Anti-sniping end time extensions"),
	}
}

// CreateAuction lists a salvage case. A case has at most one active auction.
func (s *AuctionServiceImpl) CreateAuction(ctx context.Context, req ports.CreateAuctionRequest) (auction *domain.Auction, err error) {
	ctx, span := s.tracer.Start(ctx, "Auction.Create", trace.WithAttributes(uuidAttr("case_id", req.CaseID)))
	defer func() { endSpan(span, err) }()

	if req.CaseID == uuid.Nil {
		return nil, apperror.Validation("case_id is required")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, apperror.Validation("end_time must be after start_time")
	}
	if req.StartingBid <= 0 || req.MinimumIncrement <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.rt.Clock.Now()
	auction = &domain.Auction{
		ID:               uuid.New(),
		CaseID:           req.CaseID,
		StartTime:        req.StartTime.UTC(),
		EndTime:          req.EndTime.UTC(),
		OriginalEndTime:  req.EndTime.UTC(),
		StartingBid:      req.StartingBid,
		CurrentBid:       req.StartingBid,
		MinimumIncrement: req.MinimumIncrement,
		Status:           domain.AuctionStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.createActiveInTx(ctx, tx, auction); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	entry := domain.NewAuditLog(req.Actor, domain.AuditActionAuctionCreated, "auction", auction.ID.String(), nil, auction)
	entry.CreatedAt = now
	s.rt.Audit.Log(ctx, entry)

	s.rt.Log.Info().
		Str("auction_id", auction.ID.String()).
		Str("case_id", auction.CaseID.String()).
		Int64("starting_bid", auction.StartingBid).
		Time("end_time", auction.EndTime).
		Msg("auction created")
	return auction, nil
}

func (s *AuctionServiceImpl) createActiveInTx(ctx context.Context, tx pgx.Tx, auction *domain.Auction) error {
	exists, err := s.auctionRepo.HasActiveForCase(ctx, tx, auction.CaseID)
	if err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("check active auction: %w", err))
	}
	if exists {
		return apperror.ErrActiveAuctionExists()
	}
	if err := s.auctionRepo.Create(ctx, tx, auction); err != nil {
		return apperror.ErrDatabaseError(fmt.Errorf("create auction: %w", err))
	}
	return nil
}

// PlaceBid validates and records a bid. Business rejections come back as a
// BidResult with Accepted=false; only infrastructure failures are errors.
func (s *AuctionServiceImpl) PlaceBid(ctx context.Context, req ports.PlaceBidRequest) (result *ports.BidResult, err error) {
	ctx, span := s.tracer.Start(ctx, "Auction.PlaceBid", trace.WithAttributes(
		uuidAttr("auction_id", req.AuctionID),
		uuidAttr("vendor_id", req.VendorID),
		attribute.Int64("amount", req.Amount),
	))
	defer func() {
		if result != nil {
			span.SetAttributes(attribute.Bool("accepted", result.Accepted), attribute.String("reason", string(result.Reason)))
		}
		endSpan(span, err)
	}()

	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}

	// External call stays outside the auction row lock.
	limit, err := s.tiers.GetVendorTierLimit(ctx, req.VendorID)
	if err != nil {
		return nil, apperror.ErrExternalService("KYC tier service", err)
	}
	if req.Amount > limit {
		return s.reject(ctx, req, domain.BidRejectTierLimitExceeded, nil), nil
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Vendor before auction, the same order SuspendVendor uses. The shared
	// lock holds off a suspension until this bid commits or rolls back.
	if err := s.suspensions.LockVendor(ctx, tx, req.VendorID, false); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock vendor: %w", err))
	}

	auction, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, req.AuctionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock auction: %w", err))
	}
	if auction == nil {
		return nil, apperror.ErrAuctionNotFound()
	}

	suspended, err := s.suspensions.GetByVendor(ctx, tx, req.VendorID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check suspension: %w", err))
	}
	if suspended != nil {
		return s.reject(ctx, req, domain.BidRejectVendorSuspended, auction), nil
	}

	now := s.rt.Clock.Now()
	if reason := auction.EvaluateBid(req.Amount, now); reason != domain.BidRejectNone {
		return s.reject(ctx, req, reason, auction), nil
	}

	before := *auction
	extended := auction.AcceptBid(req.VendorID, req.Amount, now, s.policy.Extension)
	bid := &domain.Bid{
		ID:        uuid.New(),
		AuctionID: auction.ID,
		VendorID:  req.VendorID,
		Amount:    req.Amount,
		Verified:  true,
		Status:    domain.BidStatusAccepted,
		CreatedAt: now,
	}
	if err := s.bidRepo.Create(ctx, tx, bid); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create bid: %w", err))
	}
	if err := s.auctionRepo.Update(ctx, tx, auction); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update auction: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.invalidateAuction(ctx, auction.ID)
	s.bids.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "accepted")))
	if extended {
		s.extensions.Add(ctx, 1)
	}

	actor := domain.UserActor(req.VendorID, domain.ActorVendor)
	entry := domain.NewAuditLog(actor, domain.AuditActionBidPlaced, "auction", auction.ID.String(), &before, auction)
	entry.CreatedAt = now
	s.rt.Audit.Log(ctx, entry)

	s.rt.Log.Info().
		Str("auction_id", auction.ID.String()).
		Str("vendor_id", req.VendorID.String()).
		Int64("amount", req.Amount).
		Bool("extended", extended).
		Time("end_time", auction.EndTime).
		Msg("bid accepted")

	return &ports.BidResult{
		Accepted:       true,
		Bid:            bid,
		Auction:        auction,
		Extended:       extended,
		MinimumNextBid: auction.MinimumNextBid(),
	}, nil
}

func (s *AuctionServiceImpl) reject(ctx context.Context, req ports.PlaceBidRequest, reason domain.BidRejectReason, auction *domain.Auction) *ports.BidResult {
	s.bids.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(reason))))
	s.rt.Log.Debug().
		Str("auction_id", req.AuctionID.String()).
		Str("vendor_id", req.VendorID.String()).
		Int64("amount", req.Amount).
		Str("reason", string(reason)).
		Msg("bid rejected")

	res := &ports.BidResult{Accepted: false, Reason: reason, Auction: auction}
	if auction != nil {
		res.MinimumNextBid = auction.MinimumNextBid()
	}
	return res
}

// CloseAuction ends bidding and opens the winner's payment. Calling it on an
// already closed or settled auction returns the existing outcome.
func (s *AuctionServiceImpl) CloseAuction(ctx context.Context, auctionID uuid.UUID) (result *ports.CloseResult, err error) {
	ctx, span := s.tracer.Start(ctx, "Auction.Close", trace.WithAttributes(uuidAttr("auction_id", auctionID)))
	defer func() { endSpan(span, err) }()

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	auction, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, auctionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock auction: %w", err))
	}
	if auction == nil {
		return nil, apperror.ErrAuctionNotFound()
	}

	switch auction.Status {
	case domain.AuctionStatusClosed, domain.AuctionStatusSettled:
		payment, err := s.paymentRepo.GetActiveByAuction(ctx, tx, auction.ID)
		if err != nil {
			return nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
		}
		return &ports.CloseResult{Auction: *auction, Payment: payment, Replayed: true}, nil
	case domain.AuctionStatusCancelled:
		return nil, apperror.ErrInvalidTransition(string(auction.Status), string(domain.AuctionStatusClosed))
	}

	now := s.rt.Clock.Now()
	if !auction.HasEnded(now) {
		return nil, apperror.ErrAuctionNotEnded()
	}

	before := *auction
	auction.Status = domain.AuctionStatusClosed
	auction.ClosedAt = &now
	auction.UpdatedAt = now

	var audits auditBatch
	var notes notificationBatch
	var payment *domain.Payment
	if auction.HasWinner() {
		forfeited, err := s.dropSuspendedWinner(ctx, tx, auction)
		if err != nil {
			return nil, err
		}
		if forfeited != nil {
			forfeited.CreatedAt = now
			audits.add(forfeited)
		}
	}
	if auction.HasWinner() {
		payment, err = s.openPaymentInTx(ctx, tx, auction, now, &audits)
		if err != nil {
			return nil, err
		}
		notes = append(notes, domain.NotificationEvent{
			ID:         uuid.New(),
			Type:       domain.EventAuctionWon,
			VendorID:   payment.VendorID,
			AuctionID:  &auction.ID,
			PaymentID:  &payment.ID,
			Amount:     payment.Amount,
			Deadline:   &payment.Deadline,
			OccurredAt: now,
		})
	}

	if err := s.auctionRepo.Update(ctx, tx, auction); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update auction: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	closed := domain.NewAuditLog(domain.SystemActor, domain.AuditActionAuctionClosed, "auction", auction.ID.String(), &before, auction)
	closed.CreatedAt = now
	audits.add(closed)
	audits.flush(ctx, s.rt.Audit)
	notes.send(ctx, s.notifier)
	s.invalidateAuction(ctx, auction.ID)
	if payment != nil {
		s.ledger.afterCommit(ctx, payment.VendorID)
	}

	ev := s.rt.Log.Info().Str("auction_id", auction.ID.String())
	if payment != nil {
		ev = ev.Str("winner_id", payment.VendorID.String()).
			Str("payment_method", string(payment.Method)).
			Str("payment_status", string(payment.Status)).
			Int64("amount", payment.Amount)
	}
	ev.Msg("auction closed")

	return &ports.CloseResult{Auction: *auction, Payment: payment}, nil
}

// dropSuspendedWinner clears a leader who was suspended after bidding, so the
// auction closes without a winner instead of opening a payment for them.
func (s *AuctionServiceImpl) dropSuspendedWinner(ctx context.Context, tx pgx.Tx, auction *domain.Auction) (*domain.AuditLog, error) {
	winner := *auction.CurrentBidderID
	suspension, err := s.suspensions.GetByVendor(ctx, tx, winner)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("check winner suspension: %w", err))
	}
	if suspension == nil {
		return nil, nil
	}
	auction.CurrentBidderID = nil
	s.rt.Log.Warn().
		Str("auction_id", auction.ID.String()).
		Str("vendor_id", winner.String()).
		Msg("suspended leader dropped at close")
	return domain.NewAuditLog(domain.SystemActor, domain.AuditActionWinForfeited, "auction", auction.ID.String(), nil,
		map[string]any{"vendor_id": winner, "reason": "vendor suspended", "amount": auction.CurrentBid}), nil
}

// openPaymentInTx freezes the winning amount when the winner's wallet covers
// it, otherwise opens a pending gateway payment with a deadline.
func (s *AuctionServiceImpl) openPaymentInTx(ctx context.Context, tx pgx.Tx, auction *domain.Auction, now time.Time, audits *auditBatch) (*domain.Payment, error) {
	winner := *auction.CurrentBidderID
	payment := &domain.Payment{
		ID:        uuid.New(),
		AuctionID: auction.ID,
		VendorID:  winner,
		Amount:    auction.CurrentBid,
		Method:    domain.PaymentMethodGateway,
		Status:    domain.PaymentStatusPending,
		Deadline:  now.Add(s.policy.PaymentWindow),
		CreatedAt: now,
		UpdatedAt: now,
	}

	wallet, err := s.ledger.ensureWalletInTx(ctx, tx, winner)
	if err != nil {
		return nil, err
	}
	if wallet.AvailableBalance >= payment.Amount {
		_, entry, err := s.ledger.applyInTx(ctx, tx, domain.WalletTxFreeze, ports.LedgerRequest{
			WalletID:    wallet.ID,
			Amount:      payment.Amount,
			Reference:   domain.EscrowFreezeReference(auction.ID),
			Description: "escrow for auction " + auction.ID.String(),
			Actor:       domain.SystemActor,
		})
		switch {
		case err == nil:
			payment.Method = domain.PaymentMethodEscrow
			payment.MarkVerified(now, true, nil)
			audits.add(entry)
		case apperror.HasCode(err, apperror.CodeInvariantViolation), apperror.HasCode(err, apperror.CodeInsufficientFunds):
			// Wallet cannot cover the escrow right now; the winner pays through the gateway instead.
			s.rt.Log.Warn().Err(err).Str("auction_id", auction.ID.String()).Msg("escrow freeze skipped, opening gateway payment")
		default:
			return nil, err
		}
	}

	if err := s.paymentRepo.Create(ctx, tx, payment); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create payment: %w", err))
	}
	return payment, nil
}

// SettleAuction releases the verified payment's frozen funds and marks the
// auction settled. Settled auctions are returned unchanged.
func (s *AuctionServiceImpl) SettleAuction(ctx context.Context, auctionID uuid.UUID, actor domain.Actor) (result *ports.SettleResult, err error) {
	ctx, span := s.tracer.Start(ctx, "Auction.Settle", trace.WithAttributes(uuidAttr("auction_id", auctionID)))
	defer func() { endSpan(span, err) }()

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, audits, err := s.settleInTx(ctx, tx, auctionID, actor)
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return result, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	audits.flush(ctx, s.rt.Audit)
	s.invalidateAuction(ctx, auctionID)
	s.ledger.afterCommit(ctx, result.Payment.VendorID)
	s.rt.Log.Info().
		Str("auction_id", auctionID.String()).
		Str("payment_id", result.Payment.ID.String()).
		Int64("amount", result.Payment.Amount).
		Msg("auction settled")
	return result, nil
}

func (s *AuctionServiceImpl) settleInTx(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, actor domain.Actor) (*ports.SettleResult, auditBatch, error) {
	auction, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, auctionID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lock auction: %w", err))
	}
	if auction == nil {
		return nil, nil, apperror.ErrAuctionNotFound()
	}

	active, err := s.paymentRepo.GetActiveByAuction(ctx, tx, auction.ID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("get payment: %w", err))
	}

	if auction.Status == domain.AuctionStatusSettled {
		res := &ports.SettleResult{Auction: *auction, Replayed: true}
		if active != nil {
			res.Payment = *active
		}
		return res, nil, nil
	}
	if auction.Status != domain.AuctionStatusClosed {
		return nil, nil, apperror.ErrInvalidTransition(string(auction.Status), string(domain.AuctionStatusSettled))
	}
	if active == nil {
		return nil, nil, apperror.ErrPaymentNotVerified()
	}

	payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, active.ID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lock payment: %w", err))
	}
	if payment == nil || payment.Status != domain.PaymentStatusVerified {
		return nil, nil, apperror.ErrPaymentNotVerified()
	}

	wallet, err := s.ledger.walletRepo.GetByVendorIDForUpdate(ctx, tx, payment.VendorID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, nil, apperror.ErrNotFound("Wallet")
	}

	var audits auditBatch
	_, entry, err := s.ledger.applyInTx(ctx, tx, domain.WalletTxDebit, ports.LedgerRequest{
		WalletID:    wallet.ID,
		Amount:      payment.Amount,
		Reference:   domain.ReleaseReference(auction.ID),
		Description: "settlement of auction " + auction.ID.String(),
		Actor:       actor,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("release escrow: %w", err)
	}
	audits.add(entry)

	now := s.rt.Clock.Now()
	before := *auction
	auction.Status = domain.AuctionStatusSettled
	auction.SettledAt = &now
	auction.UpdatedAt = now
	if err := s.auctionRepo.Update(ctx, tx, auction); err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("update auction: %w", err))
	}

	settled := domain.NewAuditLog(actor, domain.AuditActionAuctionSettled, "auction", auction.ID.String(), &before, auction)
	settled.CreatedAt = now
	audits.add(settled)
	return &ports.SettleResult{Auction: *auction, Payment: *payment}, audits, nil
}

// CancelAuction withdraws an active auction.
func (s *AuctionServiceImpl) CancelAuction(ctx context.Context, auctionID uuid.UUID, actor domain.Actor, reason string) (auction *domain.Auction, err error) {
	ctx, span := s.tracer.Start(ctx, "Auction.Cancel", trace.WithAttributes(uuidAttr("auction_id", auctionID)))
	defer func() { endSpan(span, err) }()

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	auction, err = s.auctionRepo.GetByIDForUpdate(ctx, tx, auctionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock auction: %w", err))
	}
	if auction == nil {
		return nil, apperror.ErrAuctionNotFound()
	}
	if auction.Status != domain.AuctionStatusActive {
		return nil, apperror.ErrInvalidTransition(string(auction.Status), string(domain.AuctionStatusCancelled))
	}

	now := s.rt.Clock.Now()
	before := *auction
	auction.Status = domain.AuctionStatusCancelled
	auction.CancelledAt = &now
	auction.UpdatedAt = now
	if err := s.auctionRepo.Update(ctx, tx, auction); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update auction: %w", err))
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	entry := domain.NewAuditLog(actor, domain.AuditActionAuctionCancelled, "auction", auction.ID.String(), &before,
		map[string]any{"auction": auction, "reason": reason})
	entry.CreatedAt = now
	s.rt.Audit.Log(ctx, entry)
	s.invalidateAuction(ctx, auction.ID)

	s.rt.Log.Info().Str("auction_id", auction.ID.String()).Str("reason", reason).Msg("auction cancelled")
	return auction, nil
}

// forfeitInTx cancels a closed auction whose winner failed to pay and, when
// configured, relists the case. The auction must already be locked.
func (s *AuctionServiceImpl) forfeitInTx(ctx context.Context, tx pgx.Tx, auction *domain.Auction, now time.Time, audits *auditBatch) (*domain.Auction, error) {
	if auction.Status != domain.AuctionStatusClosed {
		return nil, apperror.ErrInvalidTransition(string(auction.Status), string(domain.AuctionStatusCancelled))
	}

	before := *auction
	auction.Status = domain.AuctionStatusCancelled
	auction.CancelledAt = &now
	auction.UpdatedAt = now
	if err := s.auctionRepo.Update(ctx, tx, auction); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("update auction: %w", err))
	}
	forfeited := domain.NewAuditLog(domain.SystemActor, domain.AuditActionWinForfeited, "auction", auction.ID.String(), &before, auction)
	forfeited.CreatedAt = now
	audits.add(forfeited)

	if !s.policy.RelistOnOverdue {
		return nil, nil
	}

	relisted := &domain.Auction{
		ID:               uuid.New(),
		CaseID:           auction.CaseID,
		StartTime:        now,
		EndTime:          now.Add(s.policy.RelistDuration),
		OriginalEndTime:  now.Add(s.policy.RelistDuration),
		StartingBid:      auction.StartingBid,
		CurrentBid:       auction.StartingBid,
		MinimumIncrement: auction.MinimumIncrement,
		Status:           domain.AuctionStatusActive,
		RelistedFrom:     &auction.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.createActiveInTx(ctx, tx, relisted); err != nil {
		if apperror.HasCode(err, apperror.CodeActiveAuctionExists) {
			return nil, nil
		}
		return nil, err
	}
	entry := domain.NewAuditLog(domain.SystemActor, domain.AuditActionAuctionRelisted, "auction", relisted.ID.String(), nil, relisted)
	entry.CreatedAt = now
	audits.add(entry)
	return relisted, nil
}

// GetAuction returns auction status for display. It may be served from the
// read cache and lag writes by up to the cache TTL.
func (s *AuctionServiceImpl) GetAuction(ctx context.Context, auctionID uuid.UUID) (*domain.Auction, error) {
	key := auctionCacheKey(auctionID)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.rt.Log.Warn().Err(err).Str("key", key).Msg("read cache get failed")
		}
		if cached != nil {
			var a domain.Auction
			if err := json.Unmarshal(cached, &a); err == nil {
				return &a, nil
			}
		}
	}

	auction, err := s.auctionRepo.GetByID(ctx, auctionID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get auction: %w", err))
	}
	if auction == nil {
		return nil, apperror.ErrAuctionNotFound()
	}

	if s.cache != nil && s.policy.AuctionTTL > 0 {
		if b, err := json.Marshal(auction); err == nil {
			if err := s.cache.Set(ctx, key, b, s.policy.AuctionTTL); err != nil {
				s.rt.Log.Warn().Err(err).Str("key", key).Msg("read cache set failed")
			}
		}
	}
	return auction, nil
}

// ListBids returns the auction's bids, newest first.
func (s *AuctionServiceImpl) ListBids(ctx context.Context, auctionID uuid.UUID, limit int) ([]domain.Bid, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	bids, err := s.bidRepo.ListByAuction(ctx, auctionID, limit)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("list bids: %w", err))
	}
	return bids, nil
}

func (s *AuctionServiceImpl) invalidateAuction(ctx context.Context, auctionID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, auctionCacheKey(auctionID)); err != nil {
		s.rt.Log.Warn().Err(err).Str("auction_id", auctionID.String()).Msg("read cache invalidation failed")
	}
}

func auctionCacheKey(id uuid.UUID) string {
	return "auction:" + id.String()
}
