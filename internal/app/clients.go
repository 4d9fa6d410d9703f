package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/whytv-ai/whytv-backend/internal/data/db"
	"github.com/whytv-ai/whytv-backend/internal/docstore"
	"github.com/whytv-ai/whytv-backend/internal/docstore/firestore"
	"github.com/whytv-ai/whytv-backend/internal/docstore/memstore"
	"github.com/whytv-ai/whytv-backend/internal/llm"
	"github.com/whytv-ai/whytv-backend/internal/pipeline/stages"
	"github.com/whytv-ai/whytv-backend/internal/platform/gcp"
	"github.com/whytv-ai/whytv-backend/internal/platform/gemini"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
	"github.com/whytv-ai/whytv-backend/internal/platform/openai"
	"github.com/whytv-ai/whytv-backend/internal/platform/youtube"
	"github.com/whytv-ai/whytv-backend/internal/triggers"
)

type Clients struct {
	Store     docstore.Store
	Memstore  *memstore.Store
	Firestore *firestore.Store
	LLM       *llm.Router
	Gemini    *gemini.Client
	// Search stays nil without a YouTube key; query execution then leaves queries untouched.
	Search stages.Searcher
	Dedupe triggers.Deduper
	Redis  *triggers.RedisDeduper
	DB     *gorm.DB
}

func wireClients(ctx context.Context, log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	// Document store
	switch cfg.StoreMode {
	case StoreMemory:
		c.Memstore = memstore.New()
		c.Store = c.Memstore
		log.Warn("Using in-memory document store; data is lost on exit")
	default:
		fs, err := firestore.New(ctx, log, cfg.ProjectID, cfg.FirestoreDatabase, gcp.ClientOptionsFromEnv()...)
		if err != nil {
			return Clients{}, fmt.Errorf("init firestore: %w", err)
		}
		c.Firestore = fs
		c.Store = fs
	}

	// Generation providers
	if cfg.PromptCatalog != "" {
		n, err := llm.LoadOverrides(cfg.PromptCatalog)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("load prompt catalog: %w", err)
		}
		log.Info("Prompt overrides loaded", "path", cfg.PromptCatalog, "prompts", n)
	}
	c.LLM = llm.NewRouter(cfg.DefaultProvider)
	if cfg.OpenAIAPIKey != "" {
		oc, err := openai.NewClient(log, openai.Config{APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Model: cfg.OpenAIModel})
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init openai client: %w", err)
		}
		c.LLM.Register(oc)
	}
	if cfg.GeminiAPIKey != "" {
		gc, err := gemini.NewClient(ctx, log, gemini.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init gemini client: %w", err)
		}
		c.Gemini = gc
		c.LLM.Register(gc)
	}
	if len(c.LLM.Names()) == 0 {
		log.Warn("No generation provider configured; channels will fail at bootstrap")
	}

	// Search
	if cfg.YouTubeAPIKey != "" {
		s, err := youtube.NewSearcher(ctx, log, cfg.YouTubeAPIKey)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init youtube search: %w", err)
		}
		c.Search = s
	} else {
		log.Warn("YOUTUBE_API_KEY not set; query execution is disabled")
	}

	// Event de-duplication
	if cfg.RedisAddr != "" {
		d, err := triggers.NewRedisDeduper(log, triggers.RedisDeduperConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.DedupeTTL,
		})
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init redis deduper: %w", err)
		}
		c.Redis = d
		c.Dedupe = d
	}

	// Stage-run ledger
	if cfg.DB.Enabled() {
		gdb, err := db.Open(log, cfg.DB)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init ledger db: %w", err)
		}
		if err := db.AutoMigrateAll(gdb); err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("ledger automigrate: %w", err)
		}
		c.DB = gdb
	}

	return c, nil
}

func (c *Clients) Close() {
	if c == nil {
		return
	}
	if c.Redis != nil {
		_ = c.Redis.Close()
	}
	if c.Gemini != nil {
		_ = c.Gemini.Close()
	}
	if c.Firestore != nil {
		_ = c.Firestore.Close()
	}
	if c.DB != nil {
		if sqlDB, err := c.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
