package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/altexo/walletvault/internal/ratelimit"
	"github.com/altexo/walletvault/internal/server"
	"github.com/altexo/walletvault/internal/vault/config"
	vaultcrypto "github.com/altexo/walletvault/internal/vault/crypto"
	"github.com/altexo/walletvault/internal/vault/interfaces"
	"github.com/altexo/walletvault/internal/vault/repository"
	"github.com/altexo/walletvault/internal/vault/services"
)

func main() {
	cfg, err := config.Load(os.Getenv("VAULT_CONFIG"))
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	if err := db.AutoMigrate(interfaces.AllModels()...); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	secrets, err := cfg.Vault.CipherKeys()
	if err != nil {
		logger.Fatal("invalid encryption key configuration", zap.Error(err))
	}
	cipher, err := vaultcrypto.NewComplianceCipher(secrets)
	if err != nil {
		logger.Fatal("failed to initialize compliance cipher", zap.Error(err))
	}

	repo := repository.NewRepository(db, logger)

	var cache ratelimit.Cache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = ratelimit.NewRedisCache(client)
	} else {
		logger.Warn("redis not configured, rate limiter runs on the durable store only")
	}
	limiter := ratelimit.New(repo, cache, cfg.RateLimit.CacheBuffer, logger)

	audit := services.NewAuditService(repo, logger)
	keyvault := services.NewKeyVaultService(db, repo, cipher, audit, cfg.Vault.RetentionDays, logger)
	webhooks := services.NewWebhookDeliveryService(repo, cfg.Webhook, limiter, logger)
	sessions := services.NewSessionLifecycleService(repo, logger)
	retention := services.NewRetentionSweepService(repo, cfg.Retention, audit, logger)
	processor := services.NewProcessorService(db, repo, keyvault, webhooks, audit, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runWebhookSweeper(ctx, webhooks, cfg.Webhook.SweepInterval, logger)
	go runRetentionSweeper(ctx, retention, cfg.Retention.SweepInterval, logger)
	go runBucketSweeper(ctx, limiter, cfg.RateLimit.BucketMaxAge, logger)

	srv := server.New(processor, sessions, retention, limiter, cfg.RateLimit.Rules, logger)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	go func() {
		logger.Info("vaultd listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func runWebhookSweeper(ctx context.Context, webhooks interfaces.WebhookService, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := webhooks.ProcessPending(ctx, 100); err != nil && ctx.Err() == nil {
				logger.Error("webhook sweep failed", zap.Error(err))
			}
		}
	}
}

func runRetentionSweeper(ctx context.Context, retention interfaces.RetentionService, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := retention.RunCleanup(ctx, false); err != nil && ctx.Err() == nil {
				logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}

func runBucketSweeper(ctx context.Context, limiter *ratelimit.Limiter, maxAge time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := limiter.Sweep(ctx, maxAge); err != nil && ctx.Err() == nil {
				logger.Error("rate bucket sweep failed", zap.Error(err))
			}
		}
	}
}
