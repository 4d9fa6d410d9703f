package app

import (
	"github.com/gin-gonic/gin"

	"github.com/whytv-ai/whytv-backend/internal/http"
	httpH "github.com/whytv-ai/whytv-backend/internal/http/handlers"
	httpMW "github.com/whytv-ai/whytv-backend/internal/http/middleware"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
	"github.com/whytv-ai/whytv-backend/internal/triggers"
)

type Middleware struct {
	Auth *httpMW.AuthMiddleware
}

type Handlers struct {
	Health  *httpH.HealthHandler
	Event   *httpH.EventHandler
	Task    *httpH.TaskHandler
	Channel *httpH.ChannelHandler
	Admin   *httpH.AdminHandler
}

func wireHandlers(log *logger.Logger, cfg Config, services Services) Handlers {
	log.Info("Wiring handlers...")
	var pruner httpH.RunPruner
	if services.Runs != nil {
		pruner = services.Runs
	}
	return Handlers{
		Health:  httpH.NewHealthHandler(cfg.Version, cfg.StoreMode),
		Event:   httpH.NewEventHandler(log, services.Ingress),
		Task:    httpH.NewTaskHandler(log, services.Cleanup, triggers.CleanupRetry, pruner, cfg.RunRetention),
		Channel: httpH.NewChannelHandler(services.Channels),
		Admin:   httpH.NewAdminHandler(services.Channels, services.Runs),
	}
}

func wireMiddleware(log *logger.Logger, services Services) Middleware {
	log.Info("Wiring middleware...")
	return Middleware{
		Auth: httpMW.NewAuthMiddleware(log, services.Auth),
	}
}

func wireRouter(log *logger.Logger, cfg Config, handlers Handlers, middleware Middleware) *gin.Engine {
	serviceName := ""
	if cfg.Otel.Enabled {
		serviceName = cfg.ServiceName
	}
	return http.NewRouter(http.RouterConfig{
		Log:            log,
		ServiceName:    serviceName,
		CORSOrigins:    cfg.CORSOrigins,
		AuthMiddleware: middleware.Auth,
		HealthHandler:  handlers.Health,
		EventHandler:   handlers.Event,
		TaskHandler:    handlers.Task,
		ChannelHandler: handlers.Channel,
		AdminHandler:   handlers.Admin,
	})
}
