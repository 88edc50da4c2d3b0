package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"salvage-settlement/config"
	"salvage-settlement/internal/adapter/gateway"
	httpHandler "salvage-settlement/internal/adapter/http/handler"
	"salvage-settlement/internal/adapter/kyc"
	"salvage-settlement/internal/adapter/notification"
	"salvage-settlement/internal/adapter/storage/memory"
	pgStorage "salvage-settlement/internal/adapter/storage/postgres"
	redisStorage "salvage-settlement/internal/adapter/storage/redis"
	"salvage-settlement/internal/clock"
	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"
	"salvage-settlement/internal/service"
	"salvage-settlement/internal/telemetry"
	"salvage-settlement/internal/worker"
	"salvage-settlement/pkg/logger"

	"github.com/rs/zerolog"
)

// repositories groups the storage ports so the driver switch stays in one place.
type repositories struct {
	transactor   ports.DBTransactor
	wallets      ports.WalletRepository
	entries      ports.WalletTransactionRepository
	auctions     ports.AuctionRepository
	bids         ports.BidRepository
	payments     ports.PaymentRepository
	fraud        ports.FraudRepository
	suspensions  ports.SuspensionRepository
	audit        ports.AuditRepository
	healthChecks []ports.HealthChecker
	close        func()
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("driver", cfg.Database.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting salvage settlement service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}

	repos, err := openStorage(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer repos.close()

	// Redis is optional; without it caches are skipped and rate limiting is off.
	var (
		ackCache  ports.IdempotencyCache
		readCache ports.ReadCache
		rateStore ports.RateLimitStore
	)
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		ackCache = redisStorage.NewIdempotencyCache(rdb)
		readCache = redisStorage.NewReadCache(rdb)
		rateStore = redisStorage.NewRateLimitStore(rdb)
		repos.healthChecks = append(repos.healthChecks, redisStorage.NewHealthCheck(rdb))
		log.Info().Msg("Redis connected")
	} else {
		log.Warn().Msg("Redis disabled: read caches and rate limiting are off")
	}

	sigSvc := service.NewHMACSignatureService(cfg.Gateway.SignatureAlgorithm)
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	auditSvc := service.NewAuditService(repos.audit, log)

	notifier := notification.NewHTTPNotifier(notification.Config{
		URL:    cfg.Notification.URL,
		Secret: cfg.Notification.Secret,
	}, sigSvc, &http.Client{Timeout: 10 * time.Second}, log)

	gw := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		SecretKey: cfg.Gateway.SecretKey,
		Timeout:   cfg.Gateway.RequestTimeout,
	}, nil, log)

	tiers := kyc.NewTierProvider(kyc.Config{
		BaseURL:      cfg.KYC.BaseURL,
		APIKey:       cfg.KYC.APIKey,
		Timeout:      cfg.KYC.Timeout,
		DefaultLimit: cfg.KYC.DefaultTierLimit,
		CacheTTL:     cfg.Cache.AuctionTTL,
	}, nil, readCache, log)

	rt := service.Runtime{
		Transactor: repos.transactor,
		Audit:      auditSvc,
		Clock:      clock.Real{},
		Tracer:     tel.TracerProvider,
		Meter:      tel.MeterProvider,
		Log:        log,
	}

	ledgerSvc := service.NewLedgerService(rt, repos.wallets, repos.entries, readCache, service.LedgerSettings{
		Currency:   cfg.Ledger.Currency,
		BalanceTTL: cfg.Cache.BalanceTTL,
	})
	auctionSvc := service.NewAuctionService(rt, repos.auctions, repos.bids, repos.payments, repos.suspensions,
		ledgerSvc, tiers, notifier, readCache, service.AuctionPolicy{
			Extension: domain.ExtensionPolicy{
				Window:    cfg.Auction.AntiSnipingWindow,
				Increment: cfg.Auction.ExtensionIncrement,
				MaxTotal:  cfg.Auction.MaxTotalExtension,
			},
			PaymentWindow:   cfg.Auction.PaymentWindow,
			RelistOnOverdue: cfg.Auction.RelistOnOverdue,
			RelistDuration:  cfg.Auction.RelistDuration,
			AuctionTTL:      cfg.Cache.AuctionTTL,
		})
	reconSvc := service.NewReconciliationService(rt, repos.payments, repos.auctions, ledgerSvc, auctionSvc,
		gw, sigSvc, ackCache, service.ReconciliationSettings{
			WebhookSecret:          cfg.Gateway.WebhookSecret,
			WebhookTimeout:         cfg.Gateway.WebhookTimeout,
			WebhookTTL:             cfg.Cache.WebhookTTL,
			Currency:               cfg.Ledger.Currency,
			CallbackURL:            cfg.Gateway.CallbackURL,
			VerifyOnForceConfirm:   cfg.Gateway.VerifyOnForceConfirm,
			MinJustificationLength: cfg.Enforcement.MinJustificationLength,
		})
	fraudSvc := service.NewFraudService(rt, repos.fraud, repos.suspensions, repos.bids, repos.auctions,
		notifier, readCache, service.FraudSettings{
			Threshold:              cfg.Enforcement.FraudThreshold,
			MinJustificationLength: cfg.Enforcement.MinJustificationLength,
		})
	enforcementSvc := service.NewEnforcementService(rt, repos.auctions, repos.payments, repos.wallets, repos.fraud,
		auctionSvc, fraudSvc, ledgerSvc, gw, notifier, service.EnforcementSettings{
			BatchSize:        cfg.Enforcement.BatchSize,
			FraudThreshold:   cfg.Enforcement.FraudThreshold,
			Currency:         cfg.Ledger.Currency,
			InsurerRecipient: cfg.Gateway.InsurerRecipient,
		})

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:       ledgerSvc,
		AuctionSvc:      auctionSvc,
		ReconSvc:        reconSvc,
		FraudSvc:        fraudSvc,
		EnforcementSvc:  enforcementSvc,
		TokenSvc:        tokenSvc,
		RateLimitStore:  rateStore,
		BidsPerMinute:   cfg.RateLimit.BidsPerMinute,
		SignatureHeader: cfg.Gateway.SignatureHeader,
		HealthCheckers:  repos.healthChecks,
		AuditSvc:        auditSvc,
		Mode:            cfg.Server.Mode,
		Logger:          log,
	})

	var scheduler *worker.Scheduler
	if cfg.Enforcement.Enabled {
		scheduler = worker.NewScheduler(enforcementSvc, []worker.Job{
			{Name: ports.JobCloseAuctions, Interval: cfg.Enforcement.AuctionCloseInterval},
			{Name: ports.JobExpirePayments, Interval: cfg.Enforcement.PaymentDeadlineInterval},
			{Name: ports.JobSettleAuctions, Interval: cfg.Enforcement.SettlementInterval},
			{Name: ports.JobSuspendVendors, Interval: cfg.Enforcement.FraudInterval},
			{Name: ports.JobReconcileWallet, Interval: cfg.Enforcement.ReconcileInterval},
		}, true, log)
		scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if scheduler != nil {
		scheduler.Wait()
	}
	notifier.Wait()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Telemetry shutdown failed")
	}

	log.Info().Msg("Server exited")
}

// openStorage builds the repositories for the configured driver.
func openStorage(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*repositories, error) {
	switch cfg.Database.Driver {
	case "memory":
		store := memory.New()
		log.Warn().Msg("Using in-memory storage; state is lost on restart")
		return &repositories{
			transactor:  store,
			wallets:     memory.NewWalletRepo(store),
			entries:     memory.NewWalletTransactionRepo(store),
			auctions:    memory.NewAuctionRepo(store),
			bids:        memory.NewBidRepo(store),
			payments:    memory.NewPaymentRepo(store),
			fraud:       memory.NewFraudRepo(store),
			suspensions: memory.NewSuspensionRepo(store),
			audit:       memory.NewAuditRepo(store),
			close:       func() {},
		}, nil
	case "postgres", "":
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := pgStorage.Migrate(ctx, pool, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		log.Info().Msg("PostgreSQL connected")
		return &repositories{
			transactor:   pgStorage.NewTransactor(pool),
			wallets:      pgStorage.NewWalletRepo(pool),
			entries:      pgStorage.NewWalletTransactionRepo(pool),
			auctions:     pgStorage.NewAuctionRepo(pool),
			bids:         pgStorage.NewBidRepo(pool),
			payments:     pgStorage.NewPaymentRepo(pool),
			fraud:        pgStorage.NewFraudRepo(pool),
			suspensions:  pgStorage.NewSuspensionRepo(pool),
			audit:        pgStorage.NewAuditRepo(pool),
			healthChecks: []ports.HealthChecker{pgStorage.NewHealthCheck(pool)},
			close:        pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
