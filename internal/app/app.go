package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/whytv-ai/whytv-backend/internal/http"
	"github.com/whytv-ai/whytv-backend/internal/observability"
	"github.com/whytv-ai/whytv-backend/internal/platform/envutil"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	Router   *gin.Engine
	Cfg      Config
	Clients  Clients
	Services Services

	shutdownOtel func(context.Context) error
	cancel       context.CancelFunc
	workers      *errgroup.Group
}

func New(ctx context.Context) (*App, error) {
	log, err := logger.New(envutil.String("LOG_MODE", "development"))
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)
	if cfg.Environment == "production" || cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	shutdownOtel := observability.InitOTel(ctx, log, cfg.Otel)

	clients, err := wireClients(ctx, log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}
	serviceset, err := wireServices(log, cfg, clients)
	if err != nil {
		clients.Close()
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, cfg, serviceset)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(log, cfg, handlerset, middleware)

	log.Info("App wired",
		"store_mode", cfg.StoreMode,
		"providers", clients.LLM.Names(),
		"search", clients.Search != nil,
		"dedupe", clients.Redis != nil,
		"ledger", clients.DB != nil,
	)
	return &App{
		Log:          log,
		Router:       router,
		Cfg:          cfg,
		Clients:      clients,
		Services:     serviceset,
		shutdownOtel: shutdownOtel,
	}, nil
}

// Start launches the local trigger runtime. It is a no-op against Firestore, where the
// platform delivers events over HTTP.
func (a *App) Start(ctx context.Context) {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.workers = &errgroup.Group{}

	if d := a.Services.Dispatcher; d != nil {
		a.workers.Go(func() error { return d.Run(ctx) })
	}
	if s := a.Services.Scheduler; s != nil {
		s.Start(ctx)
	}
}

// Run serves HTTP until ctx is done, then shuts the server down gracefully.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	srv := &http.Server{Engine: a.Router}
	errc := make(chan error, 1)
	go func() { errc <- srv.Run(a.Cfg.Addr()) }()
	a.Log.Info("HTTP server listening", "addr", a.Cfg.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errc
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Services.Scheduler != nil {
		a.Services.Scheduler.Stop()
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.workers != nil {
		if err := a.workers.Wait(); err != nil {
			a.Log.Warn("Worker exited with error", "error", err)
		}
	}
	a.Clients.Close()
	if a.shutdownOtel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.shutdownOtel(ctx); err != nil {
			a.Log.Warn("OTel shutdown failed", "error", err)
		}
		cancel()
	}
	a.Log.Sync()
}
