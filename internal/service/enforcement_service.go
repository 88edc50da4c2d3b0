package service

import (
	"context"
	"fmt"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// EnforcementSettings configures the sweeps.
type EnforcementSettings struct {
	BatchSize        int
	FraudThreshold   int
	Currency         string
	InsurerRecipient string // gateway recipient code for payouts; empty disables payouts
}

// EnforcementServiceImpl implements ports.EnforcementService. Every sweep
// handles items one at a time, each in its own transaction, and relies on the
// idempotency of the operations it calls rather than on mutual exclusion.
type EnforcementServiceImpl struct {
	rt          Runtime
	auctionRepo ports.AuctionRepository
	paymentRepo ports.PaymentRepository
	walletRepo  ports.WalletRepository
	fraudRepo   ports.FraudRepository
	auctions    *AuctionServiceImpl
	fraud       *FraudServiceImpl
	ledger      *LedgerServiceImpl
	gateway     ports.PaymentGateway
	notifier    ports.Notifier
	settings    EnforcementSettings
	tracer      trace.Tracer
	items       metric.Int64Counter
}

// NewEnforcementService creates a new EnforcementServiceImpl. gateway and notifier may be nil.
func NewEnforcementService(
	rt Runtime,
	auctionRepo ports.AuctionRepository,
	paymentRepo ports.PaymentRepository,
	walletRepo ports.WalletRepository,
	fraudRepo ports.FraudRepository,
	auctions *AuctionServiceImpl,
	fraud *FraudServiceImpl,
	ledger *LedgerServiceImpl,
	gateway ports.PaymentGateway,
	notifier ports.Notifier,
	settings EnforcementSettings,
) *EnforcementServiceImpl {
	rt = rt.withDefaults()
	if settings.BatchSize < 1 {
		settings.BatchSize = 100
	}
	if settings.FraudThreshold < 1 {
		settings.FraudThreshold = 3
	}
	return &EnforcementServiceImpl{
		rt:          rt,
		auctionRepo: auctionRepo,
		paymentRepo: paymentRepo,
		walletRepo:  walletRepo,
		fraudRepo:   fraudRepo,
		auctions:    auctions,
		fraud:       fraud,
		ledger:      ledger,
		gateway:     gateway,
		notifier:    notifier,
		settings:    settings,
		tracer:      rt.tracer(),
		items:       rt.counter("enforcement.items", "Sweep items by job and outcome"),
	}
}

type itemOutcome int

const (
	outcomeSucceeded itemOutcome = iota
	outcomeSkipped
)

// sweep runs fn for each id and tallies the outcomes into a report.
func (s *EnforcementServiceImpl) sweep(ctx context.Context, job string, ids []string, fn func(ctx context.Context, i int) (itemOutcome, error)) ports.SweepReport {
	report := ports.SweepReport{Job: job, StartedAt: s.rt.Clock.Now(), Scanned: len(ids)}
	for i, id := range ids {
		if ctx.Err() != nil {
			report.Failed += len(ids) - i
			report.Errors = append(report.Errors, ports.SweepError{EntityID: id, Error: ctx.Err().Error()})
			break
		}
		outcome, err := fn(ctx, i)
		switch {
		case err != nil:
			report.Failed++
			report.Errors = append(report.Errors, ports.SweepError{EntityID: id, Error: err.Error()})
			s.rt.Log.Warn().Err(err).Str("job", job).Str("entity_id", id).Msg("sweep item failed")
			s.count(ctx, job, "failed")
		case outcome == outcomeSkipped:
			report.Skipped++
			s.count(ctx, job, "skipped")
		default:
			report.Succeeded++
			s.count(ctx, job, "succeeded")
		}
	}

	level := zerolog.InfoLevel
	if report.Failed > 0 {
		level = zerolog.WarnLevel
	}
	s.rt.Log.WithLevel(level).
		Str("job", job).
		Int("scanned", report.Scanned).
		Int("succeeded", report.Succeeded).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("sweep finished")
	return report
}

func (s *EnforcementServiceImpl) count(ctx context.Context, job, outcome string) {
	s.items.Add(ctx, 1, metric.WithAttributes(attribute.String("job", job), attribute.String("outcome", outcome)))
}

func (s *EnforcementServiceImpl) listFailed(job string, err error) ports.SweepReport {
	s.rt.Log.Error().Err(err).Str("job", job).Msg("sweep could not list candidates")
	return ports.SweepReport{
		Job:       job,
		StartedAt: s.rt.Clock.Now(),
		Failed:    1,
		Errors:    []ports.SweepError{{Error: err.Error()}},
	}
}

// CloseExpiredAuctions closes active auctions whose end time has passed.
func (s *EnforcementServiceImpl) CloseExpiredAuctions(ctx context.Context) ports.SweepReport {
	ctx, span := s.tracer.Start(ctx, "Enforcement."+ports.JobCloseAuctions)
	defer span.End()

	expired, err := s.auctionRepo.ListExpiredActive(ctx, s.rt.Clock.Now(), s.settings.BatchSize)
	if err != nil {
		return s.listFailed(ports.JobCloseAuctions, err)
	}
	ids := make([]string, len(expired))
	for i, a := range expired {
		ids[i] = a.ID.String()
	}
	return s.sweep(ctx, ports.JobCloseAuctions, ids, func(ctx context.Context, i int) (itemOutcome, error) {
		res, err := s.auctions.CloseAuction(ctx, expired[i].ID)
		if err != nil {
			// Extended by a late bid after the scan.
			if apperror.HasCode(err, apperror.CodeAuctionNotEnded) {
				return outcomeSkipped, nil
			}
			return 0, err
		}
		if res.Replayed {
			return outcomeSkipped, nil
		}
		return outcomeSucceeded, nil
	})
}

// ExpireOverduePayments marks pending payments past their deadline overdue,
// forfeits the win and flags the vendor for non-payment.
func (s *EnforcementServiceImpl) ExpireOverduePayments(ctx context.Context) ports.SweepReport {
	ctx, span := s.tracer.Start(ctx, "Enforcement."+ports.JobExpirePayments)
	defer span.End()

	overdue, err := s.paymentRepo.ListPendingPastDeadline(ctx, s.rt.Clock.Now(), s.settings.BatchSize)
	if err != nil {
		return s.listFailed(ports.JobExpirePayments, err)
	}
	ids := make([]string, len(overdue))
	for i, p := range overdue {
		ids[i] = p.ID.String()
	}
	return s.sweep(ctx, ports.JobExpirePayments, ids, func(ctx context.Context, i int) (itemOutcome, error) {
		return s.expirePayment(ctx, overdue[i].ID, overdue[i].AuctionID)
	})
}

func (s *EnforcementServiceImpl) expirePayment(ctx context.Context, paymentID, auctionID uuid.UUID) (itemOutcome, error) {
	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	auction, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, auctionID)
	if err != nil {
		return 0, fmt.Errorf("lock auction: %w", err)
	}
	payment, err := s.paymentRepo.GetByIDForUpdate(ctx, tx, paymentID)
	if err != nil {
		return 0, fmt.Errorf("lock payment: %w", err)
	}
	if auction == nil || payment == nil {
		return outcomeSkipped, nil
	}

	now := s.rt.Clock.Now()
	// Verified or rejected while we were scanning.
	if !payment.IsPastDeadline(now) {
		return outcomeSkipped, nil
	}

	var audits auditBatch
	before := *payment
	payment.Status = domain.PaymentStatusOverdue
	payment.UpdatedAt = now
	if err := s.paymentRepo.Update(ctx, tx, payment); err != nil {
		return 0, fmt.Errorf("update payment: %w", err)
	}
	marked := domain.NewAuditLog(domain.SystemActor, domain.AuditActionPaymentOverdue, "payment", payment.ID.String(), &before, payment)
	marked.CreatedAt = now
	audits.add(marked)

	var relisted *domain.Auction
	if auction.Status == domain.AuctionStatusClosed {
		relisted, err = s.auctions.forfeitInTx(ctx, tx, auction, now, &audits)
		if err != nil {
			return 0, fmt.Errorf("forfeit win: %w", err)
		}
	}

	_, flagAudit, err := s.fraud.raiseFlagInTx(ctx, tx, ports.RaiseFlagRequest{
		VendorID:  payment.VendorID,
		AuctionID: &payment.AuctionID,
		Kind:      domain.FraudKindNonPayment,
		Details:   fmt.Sprintf("payment %s missed deadline %s", payment.ID, payment.Deadline.Format("2006-01-02T15:04:05Z07:00")),
		Actor:     domain.SystemActor,
	})
	if err != nil {
		return 0, err
	}
	audits.add(flagAudit)

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	audits.flush(ctx, s.rt.Audit)
	s.auctions.invalidateAuction(ctx, auction.ID)
	notificationBatch{{
		ID:         uuid.New(),
		Type:       domain.EventPaymentOverdue,
		VendorID:   payment.VendorID,
		AuctionID:  &payment.AuctionID,
		PaymentID:  &payment.ID,
		Amount:     payment.Amount,
		Deadline:   &payment.Deadline,
		OccurredAt: now,
	}}.send(ctx, s.notifier)

	ev := s.rt.Log.Info().Str("payment_id", payment.ID.String()).Str("auction_id", auction.ID.String())
	if relisted != nil {
		ev = ev.Str("relisted_as", relisted.ID.String())
	}
	ev.Msg("payment overdue, win forfeited")
	return outcomeSucceeded, nil
}

// SettleVerifiedAuctions settles closed auctions whose payment is verified,
// then pays out settled auctions that have no transfer yet.
func (s *EnforcementServiceImpl) SettleVerifiedAuctions(ctx context.Context) ports.SweepReport {
	ctx, span := s.tracer.Start(ctx, "Enforcement."+ports.JobSettleAuctions)
	defer span.End()

	ready, err := s.auctionRepo.ListClosedWithVerifiedPayment(ctx, s.settings.BatchSize)
	if err != nil {
		return s.listFailed(ports.JobSettleAuctions, err)
	}
	ids := make([]string, len(ready))
	for i, a := range ready {
		ids[i] = a.ID.String()
	}
	report := s.sweep(ctx, ports.JobSettleAuctions, ids, func(ctx context.Context, i int) (itemOutcome, error) {
		res, err := s.auctions.SettleAuction(ctx, ready[i].ID, domain.SystemActor)
		if err != nil {
			return 0, err
		}
		if res.Replayed {
			return outcomeSkipped, nil
		}
		return outcomeSucceeded, nil
	})

	if s.gateway == nil || s.settings.InsurerRecipient == "" {
		return report
	}

	awaiting, err := s.auctionRepo.ListSettledAwaitingPayout(ctx, s.settings.BatchSize)
	if err != nil {
		s.rt.Log.Error().Err(err).Msg("list settled auctions awaiting payout failed")
		report.Failed++
		report.Errors = append(report.Errors, ports.SweepError{Error: err.Error()})
		return report
	}
	payoutIDs := make([]string, len(awaiting))
	for i, a := range awaiting {
		payoutIDs[i] = a.ID.String()
	}
	payouts := s.sweep(ctx, ports.JobSettleAuctions+".payout", payoutIDs, func(ctx context.Context, i int) (itemOutcome, error) {
		return s.payout(ctx, awaiting[i])
	})
	report.Scanned += payouts.Scanned
	report.Succeeded += payouts.Succeeded
	report.Skipped += payouts.Skipped
	report.Failed += payouts.Failed
	report.Errors = append(report.Errors, payouts.Errors...)
	return report
}

// payout transfers the settled amount to the insurer. The payout reference is
// derived from the auction so a retried transfer is deduplicated by the gateway.
func (s *EnforcementServiceImpl) payout(ctx context.Context, auction domain.Auction) (itemOutcome, error) {
	ref := domain.PayoutReference(auction.ID)
	receipt, err := s.gateway.InitiateTransfer(ctx, ports.TransferRequest{
		Reference: ref,
		Amount:    auction.CurrentBid,
		Currency:  s.settings.Currency,
		Recipient: s.settings.InsurerRecipient,
		Reason:    "salvage auction " + auction.ID.String(),
	})
	if err != nil {
		return 0, fmt.Errorf("initiate transfer: %w", err)
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	locked, err := s.auctionRepo.GetByIDForUpdate(ctx, tx, auction.ID)
	if err != nil {
		return 0, fmt.Errorf("lock auction: %w", err)
	}
	if locked == nil || locked.PayoutReference != nil {
		return outcomeSkipped, nil
	}
	now := s.rt.Clock.Now()
	locked.PayoutReference = &ref
	locked.UpdatedAt = now
	if err := s.auctionRepo.Update(ctx, tx, locked); err != nil {
		return 0, fmt.Errorf("update auction: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	entry := domain.NewAuditLog(domain.SystemActor, domain.AuditActionPayoutInitiated, "auction", auction.ID.String(), nil, receipt)
	entry.CreatedAt = now
	s.rt.Audit.Log(ctx, entry)
	return outcomeSucceeded, nil
}

// SuspendFraudulentVendors suspends vendors at or above the confirmed-flag threshold.
func (s *EnforcementServiceImpl) SuspendFraudulentVendors(ctx context.Context) ports.SweepReport {
	ctx, span := s.tracer.Start(ctx, "Enforcement."+ports.JobSuspendVendors)
	defer span.End()

	candidates, err := s.fraudRepo.ListUnsuspendedAtThreshold(ctx, s.settings.FraudThreshold, s.settings.BatchSize)
	if err != nil {
		return s.listFailed(ports.JobSuspendVendors, err)
	}
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.VendorID.String()
	}
	return s.sweep(ctx, ports.JobSuspendVendors, ids, func(ctx context.Context, i int) (itemOutcome, error) {
		suspended, err := s.fraud.SuspendVendor(ctx, candidates[i].VendorID, candidates[i].Confirmed)
		if err != nil {
			return 0, err
		}
		if !suspended {
			return outcomeSkipped, nil
		}
		return outcomeSucceeded, nil
	})
}

// ReconcileWallets recomputes the balance of every drifted wallet.
func (s *EnforcementServiceImpl) ReconcileWallets(ctx context.Context) ports.SweepReport {
	ctx, span := s.tracer.Start(ctx, "Enforcement."+ports.JobReconcileWallet)
	defer span.End()

	drifted, err := s.walletRepo.ListDrifted(ctx, s.settings.BatchSize)
	if err != nil {
		return s.listFailed(ports.JobReconcileWallet, err)
	}
	ids := make([]string, len(drifted))
	for i, w := range drifted {
		ids[i] = w.ID.String()
	}
	return s.sweep(ctx, ports.JobReconcileWallet, ids, func(ctx context.Context, i int) (itemOutcome, error) {
		res, err := s.ledger.RecomputeBalance(ctx, drifted[i].ID, domain.SystemActor)
		if err != nil {
			return 0, err
		}
		if !res.Corrected {
			return outcomeSkipped, nil
		}
		return outcomeSucceeded, nil
	})
}

// RunJob runs a sweep by name.
func (s *EnforcementServiceImpl) RunJob(ctx context.Context, job string) (*ports.SweepReport, error) {
	var report ports.SweepReport
	switch job {
	case ports.JobCloseAuctions:
		report = s.CloseExpiredAuctions(ctx)
	case ports.JobExpirePayments:
		report = s.ExpireOverduePayments(ctx)
	case ports.JobSettleAuctions:
		report = s.SettleVerifiedAuctions(ctx)
	case ports.JobSuspendVendors:
		report = s.SuspendFraudulentVendors(ctx)
	case ports.JobReconcileWallet:
		report = s.ReconcileWallets(ctx)
	default:
		return nil, apperror.ErrNotFound("Job " + job)
	}
	return &report, nil
}
