package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hadirot/renewal-engine/internal/api/router"
	appconfig "github.com/hadirot/renewal-engine/internal/config"
	"github.com/hadirot/renewal-engine/internal/conversation"
	"github.com/hadirot/renewal-engine/internal/http/handlers"
	"github.com/hadirot/renewal-engine/internal/listings"
	"github.com/hadirot/renewal-engine/internal/messaging"
	observemetrics "github.com/hadirot/renewal-engine/internal/observability/metrics"
	"github.com/hadirot/renewal-engine/internal/notify"
	"github.com/hadirot/renewal-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting renewal engine",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pg pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to reach postgres", "error", err)
		os.Exit(1)
	}

	// Redis backs the per-phone lock and the reply rate limits. Without it the
	// engine falls back to in-process equivalents, which only hold on a single
	// instance.
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Error("failed to reach redis", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("REDIS_ADDR not set; using in-process locks and rate limits")
	}

	var (
		locker  conversation.PhoneLocker
		limiter conversation.ReplyLimiter
	)
	if redisClient != nil {
		locker = conversation.NewRedisPhoneLocker(redisClient, 30*time.Second)
		limiter = conversation.NewRedisReplyLimiter(redisClient, "renewal:ratelimit")
	} else {
		locker = conversation.NewMemoryPhoneLocker()
		limiter = conversation.NewMemoryReplyLimiter()
	}

	messenger, provider, reason := messaging.BuildReplyMessenger(messaging.ProviderSelectionConfig{
		Preference:       cfg.SMSProvider,
		TelnyxAPIKey:     cfg.TelnyxAPIKey,
		TelnyxProfileID:  cfg.TelnyxMessagingProfileID,
		TwilioAccountSID: cfg.TwilioAccountSID,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioFromNumber: cfg.SMSFromNumber,
	}, logger)
	if messenger == nil {
		logger.Error("no SMS provider configured", "reason", reason)
		os.Exit(1)
	}
	logger.Info("sms provider selected", "provider", provider)

	var emailSender notify.EmailSender
	if sg := notify.NewSendGridSender(notify.SendGridConfig{
		APIKey:    cfg.SendGridAPIKey,
		FromEmail: cfg.SendGridFromEmail,
		FromName:  cfg.SendGridFromName,
	}, logger); sg != nil {
		emailSender = sg
	} else {
		emailSender = notify.NewStubEmailSender(logger)
	}
	alerter := notify.NewService(emailSender, cfg.AdminEmail, limiter, cfg.AdminAlertInterval, logger)

	metrics := observemetrics.NewRenewalMetrics(nil)

	convStore := conversation.NewStore(pool)
	listingStore := listings.NewStore(pool)
	logStore := messaging.NewLogStore(pool)
	templates := &conversation.Templates{DashboardURL: cfg.DashboardURL}

	machine := conversation.NewMachine(listingStore, templates, cfg.RenewalWindow, logger)
	convRouter := conversation.NewRouter(listingStore, logger)
	disambiguator := conversation.NewDisambiguator(convStore, listingStore, machine, templates, cfg.DisambiguationExpiry, logger)
	sequencer := conversation.NewSequencer(convStore, listingStore, templates, logger)
	unsolicited := conversation.NewUnsolicitedFlow(convStore, listingStore, templates, limiter, alerter, cfg.FallbackReplyInterval, logger)

	engine := conversation.NewEngine(conversation.EngineParams{
		Conversations: convStore,
		Machine:       machine,
		Router:        convRouter,
		Disambiguator: disambiguator,
		Sequencer:     sequencer,
		Unsolicited:   unsolicited,
		MessageLog:    logStore,
		Locker:        locker,
		Messenger:     messenger,
		Metrics:       metrics,
		Alerter:       alerter,
		FromNumber:    cfg.SMSFromNumber,
		Logger:        logger,
	})

	webhooks := handlers.NewSMSWebhookHandler(handlers.SMSWebhookConfig{
		Engine:           engine,
		TwilioAuthToken:  cfg.TwilioAuthToken,
		TwilioWebhookURL: cfg.TwilioWebhookURL,
		TelnyxSecret:     cfg.TelnyxWebhookSecret,
		DefaultRegion:    cfg.DefaultRegion,
		Logger:           logger,
		Metrics:          metrics,
	})

	r := router.New(&router.Config{
		Logger:         logger,
		SMSWebhooks:    webhooks,
		MetricsHandler: promhttp.Handler(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
