package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DukeRupert/besttutor/internal"
	"github.com/DukeRupert/besttutor/internal/ai"
	"github.com/DukeRupert/besttutor/internal/ai/anthropic"
	"github.com/DukeRupert/besttutor/internal/ai/mock"
	"github.com/DukeRupert/besttutor/internal/ai/openai"
	"github.com/DukeRupert/besttutor/internal/auth"
	"github.com/DukeRupert/besttutor/internal/billing"
	"github.com/DukeRupert/besttutor/internal/cache"
	"github.com/DukeRupert/besttutor/internal/email"
	"github.com/DukeRupert/besttutor/internal/flows"
	"github.com/DukeRupert/besttutor/internal/handler"
	"github.com/DukeRupert/besttutor/internal/jobs"
	"github.com/DukeRupert/besttutor/internal/metrics"
	"github.com/DukeRupert/besttutor/internal/middleware"
	"github.com/DukeRupert/besttutor/internal/ratelimit"
	"github.com/DukeRupert/besttutor/internal/repository"
	"github.com/DukeRupert/besttutor/internal/service"
	"github.com/DukeRupert/besttutor/internal/storage"
	"github.com/DukeRupert/besttutor/internal/telemetry"
	"github.com/DukeRupert/besttutor/internal/worker"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func run() error {
	ctx := context.Background()

	// Load configuration
	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	// Configure logger
	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Initialize database connection
	db, err := sql.Open("pgx", cfg.DatabaseUrl)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Run migrations
	if err := internal.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info("Database ready")

	store := repository.NewStore(db)

	// ==========================================================================
	// Cache and limiters
	// ==========================================================================

	responseCache, redisClient, err := cache.New(cache.Config{
		RedisURL:   cfg.RedisURL,
		Prefix:     cfg.CachePrefix,
		MaxEntries: cfg.CacheMaxEntries,
		DefaultTTL: cfg.CacheDefaultTTL,
	}, logger)
	if err != nil {
		return fmt.Errorf("cache initialization failed: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	pointsStore := ratelimit.NewStore(redisClient, cfg.CachePrefix+"ratelimit:")
	limiters, err := ratelimit.NewRegistry(limiterConfigs(cfg), pointsStore, logger)
	if err != nil {
		return fmt.Errorf("rate limiter initialization failed: %w", err)
	}

	// ==========================================================================
	// AI provider chain: provider, then limits and cache, then telemetry
	// ==========================================================================

	gen, speech, err := newAIProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("ai provider initialization failed: %w", err)
	}
	guarded := ai.NewGuarded(gen, speech, limiters, responseCache, logger)

	var publisher telemetry.Publisher
	if cfg.PubSubProjectID != "" {
		pub, err := telemetry.NewPubSubPublisher(ctx, cfg.PubSubProjectID)
		if err != nil {
			return fmt.Errorf("pubsub initialization failed: %w", err)
		}
		defer pub.Close()
		publisher = pub
	}
	recorder := telemetry.NewRecorder(guarded, guarded, telemetry.Config{
		Provider:  cfg.AIProvider,
		Store:     store,
		Publisher: publisher,
		Topic:     cfg.PubSubTopicID,
	}, logger)

	validate := service.NewValidator()
	tutorFlows := flows.New(recorder, validate, logger)

	// ==========================================================================
	// Storage, email and billing
	// ==========================================================================

	objects, err := storage.New(storage.Config{
		Provider:          cfg.StorageProvider,
		LocalPath:         cfg.LocalStoragePath,
		PublicURL:         cfg.StoragePublicURL,
		R2AccountID:       cfg.R2AccountID,
		R2AccessKeyID:     cfg.R2AccessKeyID,
		R2SecretAccessKey: cfg.R2SecretAccessKey,
		R2Bucket:          cfg.R2BucketName,
	}, logger)
	if err != nil {
		return fmt.Errorf("storage initialization failed: %w", err)
	}

	emailService, err := newEmailService(cfg, logger)
	if err != nil {
		return fmt.Errorf("email initialization failed: %w", err)
	}

	billingService := billing.NewStripeService(cfg.StripeSecretKey, cfg.StripeWebhookSecret, billing.PriceConfig{
		MonthlyPriceID:    cfg.StripeMonthlyPriceID,
		FamilySeatPriceID: cfg.StripeFamilySeatPriceID,
	})

	// ==========================================================================
	// Services
	// ==========================================================================

	subscriptionService := service.NewSubscriptionService(store, billingService, logger)
	profileService := service.NewProfileService(store, subscriptionService, objects, service.NewImagingProcessor(), logger)
	quotaService := service.NewQuotaService(store, cfg.FreeAIRequestsPerMonth, logger)
	noteService := service.NewNoteService(store, tutorFlows, validate, logger)
	quizService := service.NewQuizService(store, tutorFlows, validate, logger)
	conversationService := service.NewConversationService(store, tutorFlows, logger)
	speechService := service.NewSpeechService(tutorFlows, objects, cfg.OpenAITTSVoice, logger)
	dashboardService := service.NewDashboardService(store, subscriptionService, tutorFlows, logger)

	// ==========================================================================
	// Background worker
	// ==========================================================================

	var w *worker.Worker
	if cfg.WorkerEnabled {
		wcfg := worker.DefaultConfig()
		wcfg.Concurrency = cfg.WorkerConcurrency
		wcfg.PollInterval = cfg.WorkerPollInterval
		wcfg.JobTimeout = cfg.WorkerJobTimeout
		if wcfg.StaleJobThreshold <= wcfg.JobTimeout {
			wcfg.StaleJobThreshold = 2 * wcfg.JobTimeout
		}

		w, err = worker.New(store, wcfg, logger)
		if err != nil {
			return fmt.Errorf("worker initialization failed: %w", err)
		}
		w.Register(jobs.NewProgressReportHandler(profileService, dashboardService, objects, emailService, logger))
		w.Register(jobs.NewReconcileRosterHandler(subscriptionService, logger))
		w.Register(jobs.NewPaymentNoticeHandler(profileService, subscriptionService, emailService, logger, cfg.BaseURL))
		if cfg.BillingEnabled() {
			w.Every(cfg.WorkerReconcileInterval, worker.JobTypeReconcileRoster, worker.ReconcileRosterPayload{})
		}
	}

	// ==========================================================================
	// Middleware
	// ==========================================================================

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.JWTAudience)
	if err != nil {
		return fmt.Errorf("token verifier initialization failed: %w", err)
	}

	responder := handler.NewResponder(logger, cfg.UpgradeURL())
	authMw := middleware.NewAuthMiddleware(verifier, profileService, subscriptionService, quotaService, responder, logger)
	apiLimiter := middleware.NewAPIRateLimiter(pointsStore, cfg.APIRateLimitRequests, cfg.APIRateLimitWindow, responder, logger)

	requireAuth := middleware.Stack(authMw.RequireAuth, apiLimiter.Limit)
	withQuota := authMw.RequireAIQuota
	requirePremium := authMw.RequirePremium

	// ==========================================================================
	// Create router and register routes
	// ==========================================================================

	mux := http.NewServeMux()

	// Local object storage is served by the API itself
	if cfg.StorageProvider == "local" {
		files := http.FileServer(http.Dir(cfg.LocalStoragePath))
		mux.Handle("GET /files/", http.StripPrefix("/files/", files))
	}

	// Metrics endpoint (protected with basic auth if configured)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))
	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("Metrics endpoint is unprotected; set METRICS_USERNAME and METRICS_PASSWORD")
	}

	handler.NewStatusHandler(db, limiters, subscriptionService, quotaService, responder).RegisterRoutes(mux, requireAuth)
	handler.NewProfileHandler(profileService, quotaService, responder).RegisterRoutes(mux, requireAuth)
	handler.NewLearningHandler(profileService, noteService, quizService, responder).RegisterRoutes(mux, requireAuth, withQuota)
	handler.NewTutorHandler(profileService, conversationService, speechService, tutorFlows, responder).RegisterRoutes(mux, requireAuth, withQuota, requirePremium)
	handler.NewDashboardHandler(dashboardService, responder).RegisterRoutes(mux, requireAuth, requirePremium)
	handler.NewBillingHandler(subscriptionService, cfg.BaseURL, responder).RegisterRoutes(mux, requireAuth)

	// Stripe webhooks (public, verified by signature)
	var webhookVerifier billing.Service
	if cfg.BillingEnabled() {
		webhookVerifier = billingService
	} else {
		logger.Warn("Stripe is not configured; webhooks will be acknowledged and ignored")
	}
	handler.NewWebhookHandler(webhookVerifier, subscriptionService, logger).RegisterRoutes(mux)

	// Global middleware, outermost first
	security := middleware.NewSecurityHeadersMiddleware(!cfg.IsDevelopment())
	cors := middleware.NewCORSMiddleware(cfg.CORSAllowedOrigins)
	requestLogger := middleware.NewRequestLoggingMiddleware(logger)
	root := middleware.Stack(requestLogger.Handler, metrics.Middleware, security.Handler, cors.Handler)(mux)

	// ==========================================================================
	// Start server
	// ==========================================================================

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if w != nil {
		w.Start(workerCtx)
		logger.Info("Background worker started", "concurrency", cfg.WorkerConcurrency)
	}

	// Channel to listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Start server in goroutine
	go func() {
		logger.Info("Server started", "address", server.Addr, "env", cfg.Env, "ai_provider", cfg.AIProvider)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
		}
	}()

	// Wait for interrupt signal
	<-sigChan
	logger.Info("Shutdown signal received, initiating graceful shutdown...")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	if w != nil {
		w.Stop()
	}
	recorder.Wait()

	logger.Info("Graceful shutdown complete")
	return nil
}

// limiterConfigs applies the configured budgets to the built-in profiles.
func limiterConfigs(cfg *internal.Config) map[ratelimit.Profile]ratelimit.Config {
	configs := ratelimit.DefaultConfigs()

	def := configs[ratelimit.ProfileDefault]
	def.Concurrency = cfg.RateLimitDefaultConcurrency
	def.Points = cfg.RateLimitDefaultPerMinute
	configs[ratelimit.ProfileDefault] = def

	exp := configs[ratelimit.ProfileExpensive]
	exp.Concurrency = cfg.RateLimitExpensiveConcurrency
	exp.Points = cfg.RateLimitExpensivePerMinute
	configs[ratelimit.ProfileExpensive] = exp

	return configs
}

// newAIProvider builds the configured generator. Speech always comes from
// OpenAI when a key is present, whatever the text provider.
func newAIProvider(cfg *internal.Config, logger *slog.Logger) (ai.Generator, ai.SpeechSynthesizer, error) {
	pc := ai.ProviderConfig{
		MaxRetries:     cfg.AIMaxRetries,
		RetryBaseDelay: cfg.AIRetryBaseDelay,
		RequestTimeout: cfg.AIRequestTimeout,
	}

	var speech ai.SpeechSynthesizer
	var openaiProvider *openai.Provider
	if cfg.OpenAIAPIKey != "" {
		p, err := openai.New(openai.Config{
			APIKey:         cfg.OpenAIAPIKey,
			Model:          cfg.OpenAIModel,
			TTSModel:       cfg.OpenAITTSModel,
			Voice:          cfg.OpenAITTSVoice,
			ProviderConfig: pc,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		openaiProvider = p
		speech = p
	}

	switch cfg.AIProvider {
	case "openai":
		return openaiProvider, speech, nil
	case "anthropic":
		p, err := anthropic.New(anthropic.Config{
			APIKey:         cfg.AnthropicAPIKey,
			Model:          cfg.AnthropicModel,
			ProviderConfig: pc,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		if speech == nil {
			logger.Warn("No OpenAI key configured; text-to-speech is unavailable")
		}
		return p, speech, nil
	default:
		logger.Warn("Using mock AI provider")
		p := mock.New(logger)
		if speech == nil {
			speech = p
		}
		return p, speech, nil
	}
}

func newEmailService(cfg *internal.Config, logger *slog.Logger) (email.EmailService, error) {
	if cfg.SMTPHost == "" {
		logger.Warn("SMTP_HOST is not set; emails will be logged instead of sent")
		return email.NewLogEmailService(logger)
	}
	return email.NewSMTPEmailService(email.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
	}, logger)
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
