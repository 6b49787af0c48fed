package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/settlegate/internal/config"
	"github.com/GoPolymarket/settlegate/internal/conversion"
	"github.com/GoPolymarket/settlegate/internal/handler"
	"github.com/GoPolymarket/settlegate/internal/middleware"
	"github.com/GoPolymarket/settlegate/internal/pkg/logger"
	"github.com/GoPolymarket/settlegate/internal/pkg/metrics"
	"github.com/GoPolymarket/settlegate/internal/repository"
	"github.com/GoPolymarket/settlegate/internal/service"
	"github.com/GoPolymarket/settlegate/internal/signer"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Conversion (fatal when invalid at startup, halts traffic when a reload is invalid)
	rates, err := conversion.ParseRates(cfg.Conversion.CreditsPerToken, cfg.Conversion.BurnRate, cfg.Conversion.MaxBurnRate)
	if err != nil {
		log.Fatalf("Invalid conversion configuration: %v", err)
	}
	holder, err := conversion.NewHolder(rates, onConversionChange)
	if err != nil {
		log.Fatalf("Invalid conversion configuration: %v", err)
	}
	config.WatchConversion(func(cc config.ConversionConfig) {
		next, err := conversion.ParseRates(cc.CreditsPerToken, cc.BurnRate, cc.MaxBurnRate)
		if err != nil {
			holder.Halt(err)
			return
		}
		_ = holder.Update(next)
	})

	verifier, err := newVerifier(cfg)
	if err != nil {
		log.Fatalf("Invalid signature configuration: %v", err)
	}

	// 3. Initialize Persistence
	// Redis (optional): shared rate windows, nonce cache, audit list, chain deposit queue
	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis")
			defer redisClient.Close()
		} else {
			logger.Error("⚠️ Failed to connect to Redis, falling back to memory", "error", err)
			redisClient = nil
		}
	}

	// Postgres (optional): platforms and ledger via gorm, audit and nonces via sqlx
	var (
		platformRepo service.PlatformRepo = service.NewMemoryPlatformRepo()
		ledgerStore  service.LedgerStore  = service.NewMemoryLedgerStore()
		auditRepo    service.AuditRepo
		nonceStore   middleware.NonceStore
		cleanups     []func(context.Context)
	)
	if cfg.Database.DSN != "" {
		gdb, err := repository.NewGormDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL: %v", err)
		}
		pgPlatforms := repository.NewPostgresPlatformRepo(gdb)
		pgLedger := repository.NewPostgresLedgerStore(gdb)
		if err := pgPlatforms.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate platforms: %v", err)
		}
		if err := pgLedger.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate ledger: %v", err)
		}
		platformRepo, ledgerStore = pgPlatforms, pgLedger

		db, err := repository.NewDB(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to PostgreSQL (sqlx): %v", err)
		}
		defer db.Close()
		logger.Info("✅ Connected to PostgreSQL")

		pgAudit := repository.NewPostgresAuditRepo(db)
		auditRepo = pgAudit
		retention := time.Duration(cfg.Database.AuditRetentionDays) * 24 * time.Hour
		cleanups = append(cleanups, func(ctx context.Context) {
			if err := pgAudit.Cleanup(ctx, retention); err != nil {
				logger.LogError(ctx, err, "audit cleanup failed")
			}
		})
		if redisClient == nil {
			pgNonces := repository.NewPostgresNonceStore(db)
			nonceStore = pgNonces
			nonceRetention := time.Duration(cfg.Database.NonceRetentionMinutes) * time.Minute
			cleanups = append(cleanups, func(ctx context.Context) {
				if err := pgNonces.Cleanup(ctx, nonceRetention); err != nil {
					logger.LogError(ctx, err, "nonce cleanup failed")
				}
			})
		}
	}
	if auditRepo == nil && redisClient != nil {
		auditRepo = repository.NewRedisAuditRepo(redisClient, cfg.Redis.AuditListKey, cfg.Redis.AuditListMax)
	}

	var memNonces *middleware.MemoryNonceStore
	if nonceStore == nil {
		if redisClient != nil {
			nonceStore = repository.NewRedisNonceStore(redisClient)
		} else {
			memNonces = middleware.NewMemoryNonceStore()
			nonceStore = memNonces
		}
	}

	var (
		counters    service.CounterStore
		memCounters *service.MemoryCounterStore
	)
	if cfg.RateLimit.Store == "redis" && redisClient != nil {
		counters = repository.NewRedisCounterStore(redisClient)
	} else {
		if cfg.RateLimit.Store == "redis" {
			logger.Warn("ratelimit.store=redis without a redis connection, counting per instance")
		}
		memCounters = service.NewMemoryCounterStore()
		counters = memCounters
	}

	// 4. Initialize Core Services
	if err := service.SeedFromConfig(ctx, platformRepo, cfg.Platforms); err != nil {
		log.Fatalf("Failed to seed platforms: %v", err)
	}
	registry := service.NewPlatformRegistry(platformRepo, time.Duration(cfg.Registry.CacheTTLSeconds)*time.Second)
	if redisClient != nil {
		// instances sharing redis see each other's admin writes immediately
		registry.WithSharedVersions(repository.NewRedisPlatformVersions(redisClient, cfg.Redis.PlatformVersionPrefix))
	}
	bus := service.NewEventBus(0)
	ledger := service.NewLedger(ledgerStore, holder, bus)
	limiter := service.NewRateLimiter(counters, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second, cfg.RateLimit.KeyPrefix)

	auditSvc, err := service.NewAuditService(cfg.Server.AuditLogDir, auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}

	// 5. Background workers
	g, gctx := errgroup.WithContext(ctx)
	sweepEvery := time.Duration(cfg.RateLimit.SweepIntervalSeconds) * time.Second
	if memCounters != nil {
		g.Go(func() error { memCounters.Run(gctx, sweepEvery); return nil })
	}
	if memNonces != nil {
		g.Go(func() error { runEvery(gctx, sweepEvery, func(context.Context) { memNonces.Sweep() }); return nil })
	}
	if len(cleanups) > 0 {
		every := time.Duration(cfg.Database.CleanupIntervalMinutes) * time.Minute
		g.Go(func() error {
			runEvery(gctx, every, func(ctx context.Context) {
				for _, fn := range cleanups {
					fn(ctx)
				}
			})
			return nil
		})
	}
	if cfg.Webhook.Enabled {
		notifier := service.NewWebhookNotifier(registry, service.WebhookOptions{
			Timeout:    time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.Webhook.MaxRetries,
			Encoding:   verifier.Encoding(),
		})
		events, cancel := bus.Subscribe()
		defer cancel()
		g.Go(func() error { notifier.Run(gctx, events); return nil })
	}
	if redisClient != nil {
		queue := repository.NewRedisDepositQueue(redisClient, cfg.Redis.DepositQueueKey, 5*time.Second)
		consumer := service.NewChainDepositConsumer(queue, ledger, registry)
		g.Go(func() error { consumer.Run(gctx); return nil })
	}

	// 6. Setup Router
	gin.SetMode(gin.ReleaseMode)
	r := handler.NewRouter(handler.Deps{
		Config:      cfg,
		Verifier:    verifier,
		Registry:    registry,
		RateLimiter: limiter,
		Nonces:      nonceStore,
		Ledger:      ledger,
		Platforms:   service.NewPlatformService(platformRepo, registry),
		Audit:       auditSvc,
		Events:      bus,
	})

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 SettleGate started", "port", cfg.Server.Port, "signature_encoding", string(verifier.Encoding()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err.Error())
	}
	_ = g.Wait()
	auditSvc.Close()

	logger.Info("Server exiting")
}

func newVerifier(cfg *config.Config) (*signer.Verifier, error) {
	enc, err := signer.ParseEncoding(cfg.Server.SignatureEncoding)
	if err != nil {
		return nil, err
	}
	return signer.NewVerifier(enc, time.Duration(cfg.Server.AllowedSkewSeconds)*time.Second)
}

func onConversionChange(valid bool, err error) {
	if valid {
		metrics.ConversionConfigValid.Set(1)
		logger.Info("conversion configuration active")
		return
	}
	metrics.ConversionConfigValid.Set(0)
	logger.Error("conversion configuration invalid, settlement traffic halted", "error", err.Error())
}

func runEvery(ctx context.Context, every time.Duration, fn func(context.Context)) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
