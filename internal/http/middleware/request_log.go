package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/whytv-ai/whytv-backend/internal/platform/ctxutil"
	"github.com/whytv-ai/whytv-backend/internal/platform/logger"
)

// RequestLogger writes one line per request. Health probes log at debug.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	log = log.With("component", "HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		fields := append(requestFields(c), "method", c.Request.Method, "route", route,
			"status", status, "duration_ms", time.Since(start).Milliseconds())
		if len(c.Errors) > 0 {
			fields = append(fields, "error", c.Errors.String())
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		case route == "/healthz":
			log.Debug("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

func requestFields(c *gin.Context) []interface{} {
	var fields []interface{}
	if td := ctxutil.GetTraceData(c.Request.Context()); td != nil {
		fields = append(fields, "trace_id", td.TraceID, "request_id", td.RequestID)
		if td.EventID != "" {
			fields = append(fields, "event_id", td.EventID)
		}
	}
	for _, key := range []string{"event_type", "scheduler_job"} {
		if v := c.GetString(key); v != "" {
			fields = append(fields, key, v)
		}
	}
	if rd := ctxutil.GetRequestData(c.Request.Context()); rd != nil && rd.Subject != "" {
		fields = append(fields, "operator", rd.Subject)
	}
	return fields
}
