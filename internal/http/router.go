package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/whytv-ai/whytv-backend/internal/http/handlers"
	httpMW "github.com/whytv-ai/whytv-backend/internal/http/middleware"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	CORSOrigins []string

	AuthMiddleware *httpMW.AuthMiddleware

	HealthHandler  *httpH.HealthHandler
	EventHandler   *httpH.EventHandler
	TaskHandler    *httpH.TaskHandler
	ChannelHandler *httpH.ChannelHandler
	AdminHandler   *httpH.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}

	// Trigger deliveries (Eventarc, Cloud Scheduler)
	if cfg.EventHandler != nil {
		r.POST("/events/firestore", cfg.EventHandler.Firestore)
	}
	if cfg.TaskHandler != nil {
		r.POST("/tasks/cleanup", cfg.TaskHandler.Cleanup)
	}

	api := r.Group("/api")
	{
		if cfg.ChannelHandler != nil {
			api.POST("/channels", cfg.ChannelHandler.CreateChannel)
			api.GET("/channels/:id", cfg.ChannelHandler.GetChannel)
		}
	}

	admin := api.Group("/admin")
	{
		if cfg.AuthMiddleware != nil {
			admin.Use(cfg.AuthMiddleware.RequireAdmin())
		}
		if cfg.AdminHandler != nil {
			admin.POST("/channels/:id/retry", cfg.AdminHandler.RetryChannel)
			admin.GET("/channels/:id/runs", cfg.AdminHandler.ListRuns)
		}
	}

	return r
}
