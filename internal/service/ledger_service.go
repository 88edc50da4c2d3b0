package service

import (
	"context"
	"encoding/json"
	"errors"
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

// LedgerSettings configures the wallet ledger.
type LedgerSettings struct {
	Currency   string
	BalanceTTL time.Duration // read cache TTL for wallet display
}

// LedgerServiceImpl implements ports.LedgerService.
type LedgerServiceImpl struct {
	rt         Runtime
	walletRepo ports.WalletRepository
	entryRepo  ports.WalletTransactionRepository
	cache      ports.ReadCache
	settings   LedgerSettings
	tracer     trace.Tracer
	ops        metric.Int64Counter
}

// NewLedgerService creates a new LedgerServiceImpl. cache may be nil.
func NewLedgerService(
	rt Runtime,
	walletRepo ports.WalletRepository,
	entryRepo ports.WalletTransactionRepository,
	cache ports.ReadCache,
	settings LedgerSettings,
) *LedgerServiceImpl {
	rt = rt.withDefaults()
	if settings.Currency == "" {
		settings.Currency = "NGN"
	}
	return &LedgerServiceImpl{
		rt:         rt,
		walletRepo: walletRepo,
		entryRepo:  entryRepo,
		cache:      cache,
		settings:   settings,
		tracer:     rt.tracer(),
		ops:        rt.counter("ledger.operations", "Applied ledger operations by type and outcome"),
	}
}

var ledgerAuditActions = map[domain.WalletTransactionType]domain.AuditAction{
	domain.WalletTxCredit:     domain.AuditActionLedgerCredit,
	domain.WalletTxFreeze:     domain.AuditActionLedgerFreeze,
	domain.WalletTxUnfreeze:   domain.AuditActionLedgerUnfreeze,
	domain.WalletTxDebit:      domain.AuditActionLedgerRelease,
	domain.WalletTxCorrection: domain.AuditActionBalanceCorrected,
}

// EnsureWallet returns the vendor's wallet, creating an empty one on first use.
func (s *LedgerServiceImpl) EnsureWallet(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	wallet, err := s.ensureWalletInTx(ctx, tx, vendorID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}
	return wallet, nil
}

// ensureWalletInTx creates the wallet if needed and returns it locked.
func (s *LedgerServiceImpl) ensureWalletInTx(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID) (*domain.Wallet, error) {
	if err := s.walletRepo.CreateIfAbsent(ctx, tx, domain.NewWallet(vendorID, s.settings.Currency, s.rt.Clock.Now())); err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("create wallet: %w", err))
	}
	wallet, err := s.walletRepo.GetByVendorIDForUpdate(ctx, tx, vendorID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}
	return wallet, nil
}

func (s *LedgerServiceImpl) Credit(ctx context.Context, req ports.LedgerRequest) (*ports.LedgerResult, error) {
	return s.run(ctx, domain.WalletTxCredit, req)
}

func (s *LedgerServiceImpl) Freeze(ctx context.Context, req ports.LedgerRequest) (*ports.LedgerResult, error) {
	return s.run(ctx, domain.WalletTxFreeze, req)
}

func (s *LedgerServiceImpl) Unfreeze(ctx context.Context, req ports.LedgerRequest) (*ports.LedgerResult, error) {
	return s.run(ctx, domain.WalletTxUnfreeze, req)
}

// Release permanently debits frozen funds.
func (s *LedgerServiceImpl) Release(ctx context.Context, req ports.LedgerRequest) (*ports.LedgerResult, error) {
	return s.run(ctx, domain.WalletTxDebit, req)
}

// run executes one ledger operation in its own transaction.
func (s *LedgerServiceImpl) run(ctx context.Context, typ domain.WalletTransactionType, req ports.LedgerRequest) (result *ports.LedgerResult, err error) {
	ctx, span := s.tracer.Start(ctx, "Ledger."+string(typ), trace.WithAttributes(
		uuidAttr("wallet_id", req.WalletID),
		attribute.Int64("amount", req.Amount),
		attribute.String("reference", req.Reference),
	))
	defer func() { endSpan(span, err) }()

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, entry, err := s.applyInTx(ctx, tx, typ, req)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	s.afterCommit(ctx, result.Wallet.VendorID)
	if entry != nil {
		s.rt.Audit.Log(ctx, entry)
	}
	return result, nil
}

// applyInTx performs a ledger operation inside the caller's transaction.
// The returned audit entry is nil for replays and must be logged after commit.
func (s *LedgerServiceImpl) applyInTx(ctx context.Context, tx pgx.Tx, typ domain.WalletTransactionType, req ports.LedgerRequest) (*ports.LedgerResult, *domain.AuditLog, error) {
	if req.Amount <= 0 {
		return nil, nil, apperror.ErrInvalidAmount()
	}
	if req.Reference == "" {
		return nil, nil, apperror.Validation("reference is required")
	}

	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, tx, req.WalletID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, nil, apperror.ErrNotFound("Wallet")
	}

	existing, err := s.entryRepo.GetByReference(ctx, tx, req.Reference)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lookup reference: %w", err))
	}
	if existing != nil {
		if !existing.Matches(wallet.ID, typ, req.Amount) {
			s.record(ctx, typ, "duplicate")
			return nil, nil, apperror.ErrDuplicateReference(req.Reference)
		}
		s.record(ctx, typ, "replayed")
		return &ports.LedgerResult{Wallet: *wallet, Transaction: *existing, Replayed: true}, nil, nil
	}

	if err := wallet.CheckInvariant(); err != nil {
		s.rt.Log.Error().Err(err).
			Str("wallet_id", wallet.ID.String()).
			Str("reference", req.Reference).
			Msg("ledger: wallet invariant broken before operation")
		s.record(ctx, typ, "invariant_violation")
		return nil, nil, apperror.ErrInvariantViolation(err)
	}

	next, err := wallet.Apply(typ, req.Amount)
	if err != nil {
		s.record(ctx, typ, "rejected")
		return nil, nil, mapLedgerError(err)
	}
	if err := next.CheckInvariant(); err != nil {
		s.rt.Log.Error().Err(err).Str("wallet_id", wallet.ID.String()).Msg("ledger: computed balances violate invariant")
		return nil, nil, apperror.ErrInvariantViolation(err)
	}

	now := s.rt.Clock.Now()
	next.UpdatedAt = now
	if err := s.walletRepo.UpdateBalances(ctx, tx, &next); err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("update balances: %w", err))
	}

	entry := newEntry(&next, typ, req.Amount, req.Reference, req.Description, now)
	if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
		if apperror.HasCode(err, apperror.CodeDuplicateReference) {
			return nil, nil, err
		}
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("append ledger entry: %w", err))
	}

	s.record(ctx, typ, "applied")
	s.rt.Log.Info().
		Str("wallet_id", next.ID.String()).
		Str("type", string(typ)).
		Int64("amount", req.Amount).
		Str("reference", req.Reference).
		Int64("available", next.AvailableBalance).
		Int64("frozen", next.FrozenAmount).
		Msg("ledger operation applied")

	audit := domain.NewAuditLog(req.Actor, ledgerAuditActions[typ], "wallet", next.ID.String(), wallet, &next)
	audit.CreatedAt = now
	return &ports.LedgerResult{Wallet: next, Transaction: *entry}, audit, nil
}

// creditAndFreezeInTx credits funds and immediately moves them to frozen,
// under ref and its freeze suffix. Used by every payment confirmation path.
func (s *LedgerServiceImpl) creditAndFreezeInTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, amount int64, ref, desc string, actor domain.Actor) (*ports.LedgerResult, []*domain.AuditLog, error) {
	credit, creditAudit, err := s.applyInTx(ctx, tx, domain.WalletTxCredit, ports.LedgerRequest{
		WalletID: walletID, Amount: amount, Reference: ref, Description: desc, Actor: actor,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("credit: %w", err)
	}
	freeze, freezeAudit, err := s.applyInTx(ctx, tx, domain.WalletTxFreeze, ports.LedgerRequest{
		WalletID: walletID, Amount: amount, Reference: domain.FreezeSuffix(ref), Description: desc, Actor: actor,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("freeze: %w", err)
	}
	credit.Wallet = freeze.Wallet
	credit.Replayed = credit.Replayed && freeze.Replayed
	return credit, []*domain.AuditLog{creditAudit, freezeAudit}, nil
}

// RecomputeBalance restores balance = available + frozen and records the
// correction when drift existed.
func (s *LedgerServiceImpl) RecomputeBalance(ctx context.Context, walletID uuid.UUID, actor domain.Actor) (result *ports.RecomputeResult, err error) {
	ctx, span := s.tracer.Start(ctx, "Ledger.recompute", trace.WithAttributes(uuidAttr("wallet_id", walletID)))
	defer func() { endSpan(span, err) }()

	tx, err := s.rt.Transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, entry, err := s.recomputeInTx(ctx, tx, walletID, actor)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("commit tx: %w", err))
	}

	if result.Corrected {
		s.afterCommit(ctx, result.Wallet.VendorID)
		s.rt.Audit.Log(ctx, entry)
	}
	return result, nil
}

func (s *LedgerServiceImpl) recomputeInTx(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, actor domain.Actor) (*ports.RecomputeResult, *domain.AuditLog, error) {
	wallet, err := s.walletRepo.GetByIDForUpdate(ctx, tx, walletID)
	if err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("lock wallet: %w", err))
	}
	if wallet == nil {
		return nil, nil, apperror.ErrNotFound("Wallet")
	}

	drift := wallet.Drift()
	if drift == 0 {
		return &ports.RecomputeResult{Wallet: *wallet}, nil, nil
	}

	now := s.rt.Clock.Now()
	next := *wallet
	next.Balance = next.AvailableBalance + next.FrozenAmount
	next.UpdatedAt = now
	if err := next.CheckInvariant(); err != nil {
		// Negative components cannot be repaired by recomputation.
		s.rt.Log.Error().Err(err).Str("wallet_id", walletID.String()).Msg("ledger: wallet needs operator correction")
		return nil, nil, apperror.ErrInvariantViolation(err)
	}
	if err := s.walletRepo.UpdateBalances(ctx, tx, &next); err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("update balances: %w", err))
	}

	amount := drift
	if amount < 0 {
		amount = -amount
	}
	entry := newEntry(&next, domain.WalletTxCorrection, amount,
		domain.CorrectionReference(walletID, now),
		fmt.Sprintf("balance recomputed, drift %d", drift), now)
	if err := s.entryRepo.Create(ctx, tx, entry); err != nil {
		return nil, nil, apperror.ErrDatabaseError(fmt.Errorf("append correction: %w", err))
	}

	s.rt.Log.Warn().
		Str("wallet_id", walletID.String()).
		Int64("drift", drift).
		Int64("balance_before", wallet.Balance).
		Int64("balance_after", next.Balance).
		Msg("wallet balance corrected")
	s.record(ctx, domain.WalletTxCorrection, "applied")

	audit := domain.NewAuditLog(actor, domain.AuditActionBalanceCorrected, "wallet", walletID.String(), wallet, &next)
	audit.CreatedAt = now
	return &ports.RecomputeResult{Wallet: next, Corrected: true, Drift: drift, Transaction: entry}, audit, nil
}

// GetWallet returns the vendor's wallet for display, served from the read cache when warm.
func (s *LedgerServiceImpl) GetWallet(ctx context.Context, vendorID uuid.UUID) (*domain.Wallet, error) {
	key := walletCacheKey(vendorID)
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, key)
		if err != nil {
			s.rt.Log.Warn().Err(err).Str("key", key).Msg("read cache get failed")
		}
		if cached != nil {
			var w domain.Wallet
			if err := json.Unmarshal(cached, &w); err == nil {
				return &w, nil
			}
		}
	}

	wallet, err := s.walletRepo.GetByVendorID(ctx, vendorID)
	if err != nil {
		return nil, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, apperror.ErrNotFound("Wallet")
	}

	if s.cache != nil && s.settings.BalanceTTL > 0 {
		if b, err := json.Marshal(wallet); err == nil {
			if err := s.cache.Set(ctx, key, b, s.settings.BalanceTTL); err != nil {
				s.rt.Log.Warn().Err(err).Str("key", key).Msg("read cache set failed")
			}
		}
	}
	return wallet, nil
}

// ListTransactions pages the vendor's ledger, newest first.
func (s *LedgerServiceImpl) ListTransactions(ctx context.Context, vendorID uuid.UUID, limit, offset int) ([]domain.WalletTransaction, int64, error) {
	wallet, err := s.walletRepo.GetByVendorID(ctx, vendorID)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("get wallet: %w", err))
	}
	if wallet == nil {
		return nil, 0, apperror.ErrNotFound("Wallet")
	}
	entries, total, err := s.entryRepo.ListByWallet(ctx, wallet.ID, limit, offset)
	if err != nil {
		return nil, 0, apperror.ErrDatabaseError(fmt.Errorf("list ledger entries: %w", err))
	}
	return entries, total, nil
}

// afterCommit drops cached display reads for the vendor.
func (s *LedgerServiceImpl) afterCommit(ctx context.Context, vendorID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, walletCacheKey(vendorID)); err != nil {
		s.rt.Log.Warn().Err(err).Str("vendor_id", vendorID.String()).Msg("read cache invalidation failed")
	}
}

func (s *LedgerServiceImpl) record(ctx context.Context, typ domain.WalletTransactionType, outcome string) {
	s.ops.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(typ)),
		attribute.String("outcome", outcome),
	))
}

func newEntry(w *domain.Wallet, typ domain.WalletTransactionType, amount int64, ref, desc string, now time.Time) *domain.WalletTransaction {
	return &domain.WalletTransaction{
		ID:             uuid.New(),
		WalletID:       w.ID,
		Type:           typ,
		Amount:         amount,
		BalanceAfter:   w.Balance,
		AvailableAfter: w.AvailableBalance,
		FrozenAfter:    w.FrozenAmount,
		Reference:      ref,
		Description:    desc,
		CreatedAt:      now,
	}
}

func mapLedgerError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInsufficientFunds):
		return apperror.ErrInsufficientFunds()
	case errors.Is(err, domain.ErrInsufficientFrozenFunds):
		return apperror.ErrInsufficientFrozenFunds()
	case errors.Is(err, domain.ErrNonPositiveAmount):
		return apperror.ErrInvalidAmount()
	case errors.Is(err, domain.ErrAmountOverflow):
		return apperror.Validation("amount overflows wallet balance")
	default:
		return apperror.InternalError(err)
	}
}

func walletCacheKey(vendorID uuid.UUID) string {
	return "wallet:" + vendorID.String()
}
