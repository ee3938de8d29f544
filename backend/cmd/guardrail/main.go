package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/audit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/cedar"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/config"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/guardrails"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/logging"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/policy"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/provider"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/proxy"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/ratelimit"
	"github.com/blackrose-blackhat/ai-usage-guardrail/backend/internal/storage"
)

func main() {
	// Load environment variables
	_ = godotenv.Load()

	cfg := config.Load()

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// Tier tables and thresholds
	loader := policy.NewLoader(cfg.Policies.Directory, cfg.Policies.DefaultID, logger)
	if err := loader.Load(); err != nil {
		logger.Fatal("failed to load policies", zap.Error(err))
	}
	if cfg.Policies.WatchChanges {
		if err := loader.Watch(); err != nil {
			logger.Warn("policy hot reload disabled", zap.Error(err))
		} else {
			defer loader.StopWatch()
		}
	}

	// Consent rules
	cedarEngine, err := cedar.NewEngine(cfg.Policies.CedarPath, logger)
	if err != nil {
		logger.Fatal("failed to initialize Cedar engine", zap.Error(err))
	}
	if cfg.Policies.CedarPath != "" && cfg.Policies.WatchChanges {
		if err := cedarEngine.StartHotReload(); err != nil {
			logger.Warn("cedar hot reload disabled", zap.Error(err))
		} else {
			defer cedarEngine.StopHotReload()
		}
	}

	auditLog, err := audit.NewLogger(cfg.Logging.AuditFile, logger)
	if err != nil {
		logger.Fatal("failed to open audit log", zap.Error(err))
	}
	defer auditLog.Close()

	opts := []guardrails.Option{
		guardrails.WithLogger(logger),
		guardrails.WithAuditLogger(auditLog),
		guardrails.WithAuthorizer(cedarEngine),
		guardrails.WithStorageTimeout(cfg.Guardrails.StorageTimeout),
	}

	// Durable storage
	var usage storage.UsageLog = storage.NewMemoryStore()
	var pg *storage.PostgresStore
	var health proxy.HealthChecker
	if cfg.Database.Enabled {
		dbCfg := storage.DefaultDBConfig()
		dbCfg.Host = cfg.Database.Host
		dbCfg.Port = cfg.Database.Port
		dbCfg.Database = cfg.Database.Database
		dbCfg.User = cfg.Database.Username
		dbCfg.Password = cfg.Database.Password
		dbCfg.SSLMode = cfg.Database.SSLMode
		if cfg.Database.MaxOpenConns > 0 {
			dbCfg.MaxOpenConns = cfg.Database.MaxOpenConns
		}
		if cfg.Database.MaxIdleConns > 0 {
			dbCfg.MaxIdleConns = cfg.Database.MaxIdleConns
		}

		db, err := storage.NewDB(dbCfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		if cfg.Database.AutoMigrate {
			if err := storage.Migrate(db.Conn().DB); err != nil {
				logger.Fatal("failed to migrate database", zap.Error(err))
			}
			logger.Info("database migrations applied")
		}
		pg = storage.NewPostgresStore(db)
		usage = pg
		health = db
	}
	if cfg.Guardrails.PersistentQuotas {
		opts = append(opts, guardrails.WithQuotaStore(pg))
	}

	switch cfg.Guardrails.RateStore {
	case config.RateStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, rate checks will fail open", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		cancel()
		opts = append(opts, guardrails.WithRateStore(ratelimit.NewRedisStore(client, time.Hour)))
	case config.RateStoreDatabase:
		opts = append(opts, guardrails.WithRateStore(pg))
	}

	g := guardrails.New(loader, opts...)

	router := provider.NewRouterFromConfig(cfg)
	breaker := proxy.NewCircuitBreaker(proxy.CircuitBreakerConfig{
		Enabled:          true,
		FailureThreshold: cfg.Generation.BreakerFailures,
		Timeout:          cfg.Generation.BreakerTimeout,
	})

	srv := &http.Server{
		Addr: cfg.Server.Addr(),
		Handler: proxy.NewServer(&proxy.HandlerConfig{
			Config:     cfg,
			Guardrails: g,
			Router:     router,
			Usage:      usage,
			Breaker:    breaker,
			Health:     health,
			Logger:     logger,
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("AI usage guardrail starting",
		zap.String("addr", srv.Addr),
		zap.Strings("providers", router.ListProviders()),
		zap.Bool("generation", cfg.Generation.Enabled),
		zap.String("rate_store", cfg.Guardrails.RateStore),
		zap.Bool("persistent_quotas", cfg.Guardrails.PersistentQuotas),
		zap.Bool("atomic_quota", cfg.Guardrails.AtomicQuota),
		zap.String("policy_version", loader.Current().Version))

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
