package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pesabridge/config"
	httpHandler "pesabridge/internal/adapter/http/handler"
	"pesabridge/internal/adapter/provider"
	"pesabridge/internal/adapter/storage/postgres"
	redisStorage "pesabridge/internal/adapter/storage/redis"
	"pesabridge/internal/core/ports"
	"pesabridge/internal/service"
	"pesabridge/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting PesaBridge payment gateway")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := postgres.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Initialize repositories
	txRepo := postgres.NewTransactionRepo(pool)
	subRepo := postgres.NewSubscriptionRepo(pool)
	deliveryRepo := postgres.NewDeliveryLogRepo(pool)
	auditRepo := postgres.NewAuditRepository(pool)

	healthCheckers := []ports.HealthChecker{postgres.NewHealthCheck(pool)}

	// Redis is optional: without it, provider tokens are cached per process.
	var credStore ports.CredentialStore
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		credStore = redisStorage.NewCredentialCache(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	// Provider adapters
	providerClient := &http.Client{Timeout: 30 * time.Second}
	var adapters []ports.ProviderAdapter
	if cfg.Mpesa.Enabled {
		adapters = append(adapters, provider.NewMpesaAdapter(provider.MpesaConfig{
			BaseURL:        cfg.Mpesa.BaseURL,
			ConsumerKey:    cfg.Mpesa.ConsumerKey,
			ConsumerSecret: cfg.Mpesa.ConsumerSecret,
			ShortCode:      cfg.Mpesa.ShortCode,
			Passkey:        cfg.Mpesa.Passkey,
			CallbackURL:    cfg.Mpesa.CallbackURL,
		}, providerClient, credStore, log))
	}
	if cfg.Equity.Enabled {
		adapters = append(adapters, provider.NewEquityAdapter(provider.EquityConfig{
			BaseURL:       cfg.Equity.BaseURL,
			APIKey:        cfg.Equity.APIKey,
			MerchantCode:  cfg.Equity.MerchantCode,
			SigningSecret: cfg.Equity.SigningSecret,
		}, providerClient, log))
	}

	// Core services
	registry := prometheus.NewRegistry()
	sigSvc := service.NewHMACSignatureService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)
	lifecycle := service.NewLifecycleService(txRepo, log)
	dispatcher := service.NewWebhookDispatcher(
		subRepo,
		deliveryRepo,
		lifecycle,
		sigSvc,
		&http.Client{},
		service.DispatcherConfig{
			BaseDelay: cfg.Webhook.BaseDelay,
			MaxDelay:  cfg.Webhook.MaxDelay,
		},
		registry,
		log,
	)

	paymentSvc := service.NewPaymentService(
		txRepo,
		lifecycle,
		dispatcher,
		provider.Registry(adapters...),
		cfg.Payment.IntentTTL,
		cfg.Payment.InitiateTimeout,
		log,
	)
	subscriptionSvc := service.NewSubscriptionService(subRepo, deliveryRepo, service.SubscriptionDefaults{
		MaxAttempts: cfg.Webhook.DefaultMaxAttempts,
		Timeout:     cfg.Webhook.DefaultTimeout,
	}, log)
	auditSvc := service.NewAuditService(auditRepo, log)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		PaymentSvc:      paymentSvc,
		SubscriptionSvc: subscriptionSvc,
		TokenSvc:        tokenSvc,
		AuditSvc:        auditSvc,
		HealthCheckers:  healthCheckers,
		MetricsRegistry: registry,
		Logger:          log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Let in-flight webhook deliveries finish or abort their backoff sleeps.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Dispatcher shutdown incomplete")
	}

	log.Info().Msg("Server exited")
}
