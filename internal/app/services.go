package app

import (
	"context"
	"fmt"
	"time"

	"github.com/whytv-ai/whytv-backend/internal/data/runs"
	"github.com/whytv-ai/whytv-backend/internal/pipeline"
	"github.com/whytv-ai/whytv-backend/internal/pipeline/stages"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
	"github.com/whytv-ai/whytv-backend/internal/services"
	"github.com/whytv-ai/whytv-backend/internal/triggers"
)

type Services struct {
	Runs     runs.Repo
	Registry *pipeline.Registry
	Cleanup  *stages.Cleanup
	Ingress  *triggers.Ingress
	Channels services.ChannelService
	Auth     services.AuthService

	// Local runtime only.
	Dispatcher *triggers.Dispatcher
	Scheduler  *triggers.Scheduler
}

func wireServices(log *logger.Logger, cfg Config, clients Clients) (Services, error) {
	log.Info("Wiring services...")
	var s Services

	var recorder pipeline.Recorder
	if clients.DB != nil {
		s.Runs = runs.NewRepo(clients.DB, log)
		recorder = s.Runs
	}

	deps := stages.Deps{
		Store:             clients.Store,
		LLM:               clients.LLM,
		Search:            clients.Search,
		Log:               log,
		MaxSearchResults:  cfg.MaxSearchResults,
		StuckPendingAfter: cfg.StuckPending,
	}
	s.Registry = pipeline.NewRegistry(pipeline.NewRunner(log, recorder))
	if err := s.Registry.Register(stages.All(deps)...); err != nil {
		return Services{}, fmt.Errorf("register stages: %w", err)
	}
	s.Cleanup = stages.NewCleanup(deps)
	s.Ingress = triggers.NewIngress(log, s.Registry, clients.Dedupe)
	s.Channels = services.NewChannelService(clients.Store, log, clients.LLM.Names())
	s.Auth = services.NewAuthService(log, cfg.AdminJWTSecret)

	if cfg.Local() {
		s.Dispatcher = triggers.NewDispatcher(log, s.Ingress, triggers.DispatcherConfig{
			Concurrency: cfg.DispatchConcurrency,
			MaxAttempts: cfg.DispatchMaxAttempts,
		})
		clients.Memstore.Subscribe(s.Dispatcher.OnChange)

		s.Scheduler = triggers.NewScheduler(log)
		if err := s.Scheduler.Add(cleanupJob(cfg, s)); err != nil {
			return Services{}, err
		}
	}
	return s, nil
}

// cleanupJob runs the sweep through the pipeline so it is traced and recorded like any stage.
func cleanupJob(cfg Config, s Services) triggers.Job {
	return triggers.Job{
		Name:  pipeline.StageCleanup,
		Spec:  cfg.CleanupSchedule,
		Retry: triggers.CleanupRetry,
		Run: func(ctx context.Context) error {
			now := time.Now().UTC()
			ev := pipeline.NewScheduledEvent("cleanup-"+now.Format(time.RFC3339), pipeline.CleanupTick, now)
			if err := s.Registry.Dispatch(ctx, ev); err != nil {
				return err
			}
			if s.Runs != nil && cfg.RunRetention > 0 {
				if _, err := s.Runs.Prune(ctx, now.Add(-cfg.RunRetention)); err != nil {
					return fmt.Errorf("prune stage runs: %w", err)
				}
			}
			return nil
		},
	}
}
