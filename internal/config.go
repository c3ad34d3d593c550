package internal

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env         string
	Port        int
	LogLevel    string
	DatabaseUrl string

	// Application base URL (checkout return links, local file URLs)
	BaseURL string

	// Supabase-issued access tokens
	JWTSecret   string
	JWTAudience string

	// AI Provider Configuration
	AIProvider       string // "openai", "anthropic" or "mock"
	OpenAIAPIKey     string
	OpenAIModel      string
	OpenAITTSModel   string
	OpenAITTSVoice   string
	AnthropicAPIKey  string
	AnthropicModel   string
	AIMaxRetries     int
	AIRetryBaseDelay time.Duration
	AIRequestTimeout time.Duration

	// Cache: Redis when REDIS_URL is set, in-memory otherwise
	RedisURL        string
	CachePrefix     string
	CacheMaxEntries int
	CacheDefaultTTL time.Duration

	// Provider call limiters
	RateLimitDefaultConcurrency   int
	RateLimitDefaultPerMinute     int
	RateLimitExpensiveConcurrency int
	RateLimitExpensivePerMinute   int

	// Per-caller HTTP limiter
	APIRateLimitRequests int
	APIRateLimitWindow   time.Duration

	// Stripe Billing Configuration
	// Without a secret key, webhooks are acknowledged and ignored.
	StripeSecretKey         string
	StripeWebhookSecret     string
	StripeMonthlyPriceID    string
	StripeFamilySeatPriceID string

	// Monthly AI calls allowed on the free tier
	FreeAIRequestsPerMonth int

	// Storage Configuration
	StorageProvider  string // "local" or "r2"
	LocalStoragePath string
	StoragePublicURL string // base URL for local files, or the R2 custom domain

	// R2 Storage (production)
	R2AccountID       string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2BucketName      string

	// SMTP Configuration. An empty host logs emails instead of sending them.
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	EmailFrom     string
	EmailFromName string

	// Optional AI session telemetry fan-out
	PubSubProjectID string
	PubSubTopicID   string

	// Worker Configuration
	WorkerEnabled           bool
	WorkerConcurrency       int
	WorkerPollInterval      time.Duration
	WorkerJobTimeout        time.Duration
	WorkerReconcileInterval time.Duration

	// Allowed browser origins; "*" allows any
	CORSAllowedOrigins []string

	// Metrics endpoint authentication
	// If both are empty, the /metrics endpoint will be unprotected (not recommended)
	MetricsUsername string
	MetricsPassword string
}

// IsDevelopment reports whether the process runs locally.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// UpgradeURL is where 402 responses send free users.
func (c *Config) UpgradeURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/pricing"
}

// BillingEnabled reports whether Stripe is configured.
func (c *Config) BillingEnabled() bool {
	return c.StripeSecretKey != ""
}

func NewConfig() (*Config, error) {
	// Load .env file if it exists (ignored in production)
	_ = godotenv.Load()

	cfg := &Config{
		Env:      getEnv("ENV", "development"),
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "debug"),

		// Base URL defaults to localhost for development
		BaseURL: getEnv("BASE_URL", "http://localhost:8080"),

		JWTSecret:   getEnv("SUPABASE_JWT_SECRET", ""),
		JWTAudience: getEnv("SUPABASE_JWT_AUDIENCE", "authenticated"),

		// AI provider defaults
		AIProvider:       getEnv("AI_PROVIDER", "mock"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAITTSModel:   getEnv("OPENAI_TTS_MODEL", "gpt-4o-mini-tts"),
		OpenAITTSVoice:   getEnv("OPENAI_TTS_VOICE", "alloy"),
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		AnthropicModel:   getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku-latest"),
		AIMaxRetries:     getEnvInt("AI_MAX_RETRIES", 3),
		AIRetryBaseDelay: getEnvDuration("AI_RETRY_BASE_DELAY", 1*time.Second),
		AIRequestTimeout: getEnvDuration("AI_TIMEOUT", 60*time.Second),

		// Cache defaults
		RedisURL:        getEnv("REDIS_URL", ""),
		CachePrefix:     getEnv("CACHE_PREFIX", "besttutor:"),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 1000),
		CacheDefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", time.Hour),

		RateLimitDefaultConcurrency:   getEnvInt("RATE_LIMIT_DEFAULT_CONCURRENCY", 10),
		RateLimitDefaultPerMinute:     getEnvInt("RATE_LIMIT_DEFAULT_PER_MINUTE", 60),
		RateLimitExpensiveConcurrency: getEnvInt("RATE_LIMIT_EXPENSIVE_CONCURRENCY", 1),
		RateLimitExpensivePerMinute:   getEnvInt("RATE_LIMIT_EXPENSIVE_PER_MINUTE", 5),

		APIRateLimitRequests: getEnvInt("API_RATE_LIMIT_REQUESTS", 120),
		APIRateLimitWindow:   getEnvDuration("API_RATE_LIMIT_WINDOW", time.Minute),

		// Stripe billing (optional in development)
		StripeSecretKey:         getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret:     getEnv("STRIPE_WEBHOOK_SECRET", ""),
		StripeMonthlyPriceID:    getEnv("STRIPE_PRICE_MONTHLY", ""),
		StripeFamilySeatPriceID: getEnv("STRIPE_PRICE_FAMILY_SEAT", ""),

		FreeAIRequestsPerMonth: getEnvInt("FREE_AI_REQUESTS_PER_MONTH", 30),

		// Storage defaults to local filesystem for development
		StorageProvider:  getEnv("STORAGE_PROVIDER", "local"),
		LocalStoragePath: getEnv("STORAGE_LOCAL_PATH", "./storage"),
		StoragePublicURL: getEnv("STORAGE_PUBLIC_URL", ""),

		// R2 configuration (production only)
		R2AccountID:       getEnv("R2_ACCOUNT_ID", ""),
		R2AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
		R2SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
		R2BucketName:      getEnv("R2_BUCKET_NAME", ""),

		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnvInt("SMTP_PORT", 1025),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		EmailFrom:     getEnv("EMAIL_FROM", "noreply@besttutorever.com"),
		EmailFromName: getEnv("EMAIL_FROM_NAME", "BestTutorEver"),

		PubSubProjectID: getEnv("PUBSUB_PROJECT_ID", ""),
		PubSubTopicID:   getEnv("PUBSUB_TOPIC_ID", ""),

		// Worker defaults
		WorkerEnabled:           getEnvBool("WORKER_ENABLED", true),
		WorkerConcurrency:       getEnvInt("WORKER_CONCURRENCY", 2),
		WorkerPollInterval:      getEnvDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerJobTimeout:        getEnvDuration("WORKER_JOB_TIMEOUT", 5*time.Minute),
		WorkerReconcileInterval: getEnvDuration("WORKER_RECONCILE_INTERVAL", 6*time.Hour),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),

		// Metrics authentication
		MetricsUsername: getEnv("METRICS_USERNAME", ""),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),
	}

	if cfg.StoragePublicURL == "" && cfg.StorageProvider == "local" {
		cfg.StoragePublicURL = strings.TrimRight(cfg.BaseURL, "/") + "/files"
	}

	// Required
	cfg.DatabaseUrl = os.Getenv("DATABASE_URL")
	if cfg.DatabaseUrl == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}

	// Validate storage configuration
	if cfg.StorageProvider == "r2" {
		if cfg.R2AccountID == "" {
			return nil, fmt.Errorf("R2_ACCOUNT_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2AccessKeyID == "" {
			return nil, fmt.Errorf("R2_ACCESS_KEY_ID is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2SecretAccessKey == "" {
			return nil, fmt.Errorf("R2_SECRET_ACCESS_KEY is required when STORAGE_PROVIDER is 'r2'")
		}
		if cfg.R2BucketName == "" {
			return nil, fmt.Errorf("R2_BUCKET_NAME is required when STORAGE_PROVIDER is 'r2'")
		}
	} else if cfg.StorageProvider != "local" {
		return nil, fmt.Errorf("STORAGE_PROVIDER must be either 'local' or 'r2', got: %s", cfg.StorageProvider)
	}

	// Validate AI provider configuration
	switch cfg.AIProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is 'openai'")
		}
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is 'anthropic'")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("AI_PROVIDER must be one of 'openai', 'anthropic' or 'mock', got: %s", cfg.AIProvider)
	}

	if cfg.BillingEnabled() && cfg.StripeWebhookSecret == "" {
		return nil, fmt.Errorf("STRIPE_WEBHOOK_SECRET is required when STRIPE_SECRET_KEY is set")
	}
	if cfg.FreeAIRequestsPerMonth < 0 {
		return nil, fmt.Errorf("FREE_AI_REQUESTS_PER_MONTH must not be negative, got: %d", cfg.FreeAIRequestsPerMonth)
	}
	if cfg.APIRateLimitRequests <= 0 || cfg.APIRateLimitWindow <= 0 {
		return nil, fmt.Errorf("API_RATE_LIMIT_REQUESTS and API_RATE_LIMIT_WINDOW must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
