package service

import (
	"context"
	"fmt"
	"unicode/utf8"

	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FraudSettings configures flag review and suspension.
type FraudSettings struct {
	Threshold              int // confirmed flags that trigger suspension
	MinJustificationLength int
}

// FraudServiceImpl implements ports.FraudService.
type FraudServiceImpl struct {
	rt          Runtime
	fraudRepo   ports.FraudRepository
	suspensions ports.SuspensionRepository
	bidRepo     ports.BidRepository
	auctionRepo ports.AuctionRepository
	notifier    ports.Notifier
	cache       ports.ReadCache
	settings    FraudSettings
	tracer      trace.Tracer
}

// NewFraudService creates a new FraudServiceImpl. notifier and cache may be nil.
func NewFraudService(
	rt Runtime,
	fraudRepo ports.FraudRepository,
	suspensions ports.SuspensionRepository,
	bidRepo ports.BidRepository,
	auctionRepo ports.AuctionRepository,
	notifier ports.Notifier,
	cache ports.ReadCache,
	settings FraudSettings,
) *FraudServiceImpl {
	rt = rt.withDefaults()
	if settings.Threshold < 1 {
		settings.Threshold = 3
	}
	return &FraudServiceImpl{
		rt:          rt,
		fraudRepo:   fraudRepo,
		suspensions: suspensions,
		bidRepo:     bidRepo,
		auctionRepo: auctionRepo,
		notifier:    notifier,
		cache:       cache,
		settings:    settings,
		tracer:      rt.tracer(),
	}
}

// RaiseFlag records a suspicious pattern against a vendor.
func (s *FraudServiceImpl) RaiseFlag(ctx context.Context, req ports.RaiseFlagRequest) (*domain.FraudFlag, error) {
	if req.VendorID == uuid.Nil {
		return nil, apperror.Validation("vendor_id is required")
	}
	if !req.Kind.IsValid() {
		return nil, apperror.Validation(fmt.Sprintf("unknown flag kind %q", req.Kind))
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	flag, entry, err := s.raiseFlagInTx(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	s.rt.Audit.Log(ctx, entry)
	return flag, nil
}

func (s *FraudServiceImpl) raiseFlagInTx(ctx context.Context, tx pgx.Tx, req ports.RaiseFlagRequest) (*domain.FraudFlag, *domain.AuditLog, error) {
	now := s.rt.Clock.Now()
	flag := &domain.FraudFlag{
		ID:        uuid.New(),
		VendorID:  req.VendorID,
		AuctionID: req.AuctionID,
		Kind:      req.Kind,
		Details:   req.Details,
		RaisedBy:  req.Actor.ID,
		CreatedAt: now,
	}
	if err := s.fraudRepo.CreateFlag(ctx, tx, flag); err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("create fraud flag: %w", err))
	}
	s.rt.Log.Info().
		Str("flag_id", flag.ID.String()).
		Str("vendor_id", flag.VendorID.String()).
		Str("kind", string(flag.Kind)).
		Msg("fraud flag raised")

	entry := domain.NewAuditLog(req.Actor, domain.AuditActionFlagRaised, "fraud_flag", flag.ID.String(), nil, flag)
	entry.CreatedAt = now
	return flag, entry, nil
}

// ConfirmFlag records a confirming review. Reaching the threshold suspends
// the vendor right away; the suspension sweep covers any failure here.
func (s *FraudServiceImpl) ConfirmFlag(ctx context.Context, flagID uuid.UUID, reviewer domain.Actor) (*domain.FraudFlagReview, error) {
	review, flag, err := s.review(ctx, flagID, reviewer, domain.ReviewConfirmed, "")
	if err != nil {
		return nil, err
	}

	confirmed, err := s.fraudRepo.CountConfirmed(ctx, nil, flag.VendorID)
	if err != nil {
		s.rt.Log.Warn().Err(err).Str("vendor_id", flag.VendorID.String()).Msg("count confirmed flags failed")
		return review, nil
	}
	if confirmed >= s.settings.Threshold {
		if _, err := s.SuspendVendor(ctx, flag.VendorID, confirmed); err != nil {
			s.rt.Log.Warn().Err(err).Str("vendor_id", flag.VendorID.String()).Msg("suspension deferred to sweep")
		}
	}
	return review, nil
}

// DismissFlag records a dismissing review. A justification is mandatory.
func (s *FraudServiceImpl) DismissFlag(ctx context.Context, flagID uuid.UUID, reviewer domain.Actor, justification string) (*domain.FraudFlagReview, error) {
	if utf8.RuneCountInString(justification) < s.settings.MinJustificationLength {
		return nil, apperror.ErrJustificationTooShort(s.settings.MinJustificationLength)
	}
	review, _, err := s.review(ctx, flagID, reviewer, domain.ReviewDismissed, justification)
	return review, err
}

func (s *FraudServiceImpl) review(ctx context.Context, flagID uuid.UUID, reviewer domain.Actor, decision domain.ReviewDecision, justification string) (*domain.FraudFlagReview, *domain.FraudFlag, error) {
	if reviewer.ID == nil {
		return nil, nil, apperror.ErrForbidden()
	}
	flag, err := s.fraudRepo.GetFlag(ctx, flagID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("get fraud flag: %w", err))
	}
	if flag == nil {
		return nil, nil, apperror.ErrNotFound("Fraud flag")
	}

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.rt.Clock.Now()
	review := &domain.FraudFlagReview{
		ID:            uuid.New(),
		FlagID:        flagID,
		Decision:      decision,
		ReviewerID:    *reviewer.ID,
		Justification: justification,
		CreatedAt:     now,
	}
	created, err := s.fraudRepo.CreateReview(ctx, tx, review)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("create review: %w", err))
	}
	if !created {
		return nil, nil, apperror.ErrFlagAlreadyReviewed()
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	action := domain.AuditActionFlagConfirmed
	if decision == domain.ReviewDismissed {
		action = domain.AuditActionFlagDismissed
	}
	entry := domain.NewAuditLog(reviewer, action, "fraud_flag", flagID.String(), flag, review)
	entry.CreatedAt = now
	s.rt.Audit.Log(ctx, entry)

	s.rt.Log.Info().
		Str("flag_id", flagID.String()).
		Str("vendor_id", flag.VendorID.String()).
		Str("decision", string(decision)).
		Msg("fraud flag reviewed")
	return review, flag, nil
}

// SuspendVendor suspends the vendor exactly once: concurrent callers race on
// the suspension insert and only the winner revokes bids. It reports whether
// this call performed the suspension.
func (s *FraudServiceImpl) SuspendVendor(ctx context.Context, vendorID uuid.UUID, confirmed int) (suspended bool, err error) {
	ctx, span := s.tracer.Start(ctx, "Fraud.SuspendVendor", trace.WithAttributes(
		uuidAttr("vendor_id", vendorID),
		attribute.Int("confirmed_flags", confirmed),
	))
	defer func() { endSpan(span, err) }()

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return false, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Waits for in-flight bids by this vendor; bids that start later block
	// until commit and then see the suspension.
	if err := s.suspensions.LockVendor(ctx, tx, vendorID, true); err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("lock vendor: %w", err))
	}

	led, err := s.auctionRepo.ListActiveLedByForUpdate(ctx, tx, vendorID)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("lock led auctions: %w", err))
	}

	now := s.rt.Clock.Now()
	suspension := &domain.VendorSuspension{
		VendorID:       vendorID,
		Reason:         fmt.Sprintf("%d confirmed fraud flags", confirmed),
		ConfirmedFlags: confirmed,
		SuspendedAt:    now,
	}
	created, err := s.suspensions.Create(ctx, tx, suspension)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("create suspension: %w", err))
	}
	if !created {
		return false, nil
	}

	revoked, err := s.bidRepo.RevokeActiveByVendor(ctx, tx, vendorID)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("revoke bids: %w", err))
	}
	suspension.RevokedBids = revoked

	// Vacated auctions keep the current bid as the floor for the next bidder.
	for i := range led {
		a := &led[i]
		a.CurrentBidderID = nil
		a.UpdatedAt = now
		if err := s.auctionRepo.Update(ctx, tx, a); err != nil {
			return false, apperror.ErrDatabaseError(fmt.Errorf("vacate auction %s: %w", a.ID, err))
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	entry := domain.NewAuditLog(domain.SystemActor, domain.AuditActionVendorSuspended, "vendor", vendorID.String(), nil,
		map[string]any{"suspension": suspension, "vacated_auctions": len(led)})
	entry.CreatedAt = now
	s.rt.Audit.Log(ctx, entry)

	if s.cache != nil && len(led) > 0 {
		keys := make([]string, 0, len(led))
		for _, a := range led {
			keys = append(keys, auctionCacheKey(a.ID))
		}
		if err := s.cache.Delete(ctx, keys...); err != nil {
			s.rt.Log.Warn().Err(err).Msg("read cache invalidation failed")
		}
	}
	if s.notifier != nil {
		s.notifier.Notify(ctx, domain.NotificationEvent{
			ID:         uuid.New(),
			Type:       domain.EventVendorSuspended,
			VendorID:   vendorID,
			OccurredAt: now,
		})
	}

	s.rt.Log.Warn().
		Str("vendor_id", vendorID.String()).
		Int("confirmed_flags", confirmed).
		Int64("revoked_bids", revoked).
		Int("vacated_auctions", len(led)).
		Msg("vendor suspended")
	return true, nil
}

// IsSuspended reports whether the vendor has been suspended.
func (s *FraudServiceImpl) IsSuspended(ctx context.Context, vendorID uuid.UUID) (bool, error) {
	suspension, err := s.suspensions.GetByVendor(ctx, nil, vendorID)
	if err != nil {
		return false, apperror.ErrDatabaseError(fmt.Errorf("get suspension: %w", err))
	}
	return suspension != nil, nil
}
