package app

import (
	"strings"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/data/db"
	"github.com/whytv-ai/whytv-backend/internal/observability"
	"github.com/whytv-ai/whytv-backend/internal/platform/envutil"
	"github.com/whytv-ai/whytv-backend/internal/platform/gcp"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

const (
	StoreMemory    = "memory"
	StoreFirestore = "firestore"
)

type Config struct {
	ServiceName string
	Environment string
	Version     string
	Port        string

	StoreMode         string
	ProjectID         string
	FirestoreDatabase string

	YouTubeAPIKey    string
	MaxSearchResults int

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	GeminiAPIKey    string
	GeminiModel     string
	DefaultProvider string
	PromptCatalog   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	DedupeTTL     time.Duration

	AdminJWTSecret string
	CORSOrigins    []string

	CleanupSchedule string
	StuckPending    time.Duration
	RunRetention    time.Duration

	DispatchConcurrency int
	DispatchMaxAttempts int

	DB   db.Config
	Otel observability.OtelConfig
}

func LoadConfig(log *logger.Logger) Config {
	env := envutil.String("APP_ENV", "development")
	cfg := Config{
		ServiceName: envutil.String("SERVICE_NAME", "whytv-pipeline"),
		Environment: env,
		Version:     envutil.String("APP_VERSION", "dev"),
		Port:        envutil.String("PORT", "8080"),

		StoreMode:         strings.ToLower(envutil.String("STORE_MODE", StoreFirestore)),
		ProjectID:         gcp.ProjectID(),
		FirestoreDatabase: envutil.String("FIRESTORE_DATABASE", ""),

		YouTubeAPIKey:    envutil.String("YOUTUBE_API_KEY", ""),
		MaxSearchResults: envutil.Int("YOUTUBE_MAX_RESULTS", 10),

		OpenAIAPIKey:    envutil.String("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   envutil.String("OPENAI_BASE_URL", ""),
		OpenAIModel:     envutil.String("OPENAI_MODEL", ""),
		GeminiAPIKey:    envutil.String("GEMINI_API_KEY", ""),
		GeminiModel:     envutil.String("GEMINI_MODEL", ""),
		DefaultProvider: strings.ToLower(envutil.String("DEFAULT_PROVIDER", "openai")),
		PromptCatalog:   envutil.String("PROMPT_CATALOG_PATH", ""),

		RedisAddr:     envutil.String("REDIS_ADDR", ""),
		RedisPassword: envutil.String("REDIS_PASSWORD", ""),
		RedisDB:       envutil.Int("REDIS_DB", 0),
		DedupeTTL:     envutil.Seconds("EVENT_DEDUPE_TTL_SECONDS", 24*time.Hour),

		AdminJWTSecret: envutil.String("ADMIN_JWT_SECRET", ""),
		CORSOrigins:    envutil.CSV("CORS_ORIGINS", nil),

		CleanupSchedule: envutil.String("CLEANUP_SCHEDULE", "@every 24h"),
		StuckPending:    envutil.Seconds("STUCK_PENDING_SECONDS", 24*time.Hour),
		RunRetention:    envutil.Seconds("RUN_RETENTION_SECONDS", 30*24*time.Hour),

		DispatchConcurrency: envutil.Int("DISPATCH_CONCURRENCY", 8),
		DispatchMaxAttempts: envutil.Int("DISPATCH_MAX_ATTEMPTS", 3),

		DB: db.ConfigFromEnv(),
	}
	cfg.Otel = observability.OtelConfigFromEnv(cfg.ServiceName, env, cfg.Version)

	if cfg.StoreMode != StoreMemory && cfg.StoreMode != StoreFirestore {
		if log != nil {
			log.Warn("Unknown STORE_MODE; using firestore", "store_mode", cfg.StoreMode)
		}
		cfg.StoreMode = StoreFirestore
	}
	return cfg
}

// Local reports whether triggers are emulated in-process.
func (c Config) Local() bool { return c.StoreMode == StoreMemory }

func (c Config) Addr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}
