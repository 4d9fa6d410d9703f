package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/whytv-ai/whytv-backend/internal/platform/ctxutil"
)

const (
	headerTraceID      = "X-Trace-Id"
	headerRequestID    = "X-Request-Id"
	headerCloudTrace   = "X-Cloud-Trace-Context"
	headerEventID      = "Ce-Id"
	headerEventType    = "Ce-Type"
	headerSchedulerJob = "X-CloudScheduler-JobName"
)

// AttachTraceContext stamps each request with a request id and a trace id and records the
// CloudEvent id when the request is an Eventarc delivery.
func AttachTraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := strings.TrimSpace(c.GetHeader(headerRequestID))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		traceID := resolveTraceID(c)

		td := &ctxutil.TraceData{
			TraceID:   traceID,
			RequestID: reqID,
			EventID:   strings.TrimSpace(c.GetHeader(headerEventID)),
		}
		c.Request = c.Request.WithContext(ctxutil.WithTraceData(c.Request.Context(), td))
		c.Set("trace_id", traceID)
		c.Set("request_id", reqID)
		if typ := strings.TrimSpace(c.GetHeader(headerEventType)); typ != "" {
			c.Set("event_type", typ)
		}
		if job := strings.TrimSpace(c.GetHeader(headerSchedulerJob)); job != "" {
			c.Set("scheduler_job", job)
		}
		c.Writer.Header().Set(headerTraceID, traceID)
		c.Writer.Header().Set(headerRequestID, reqID)
		c.Next()
	}
}

func resolveTraceID(c *gin.Context) string {
	if id := strings.TrimSpace(c.GetHeader(headerTraceID)); id != "" {
		return id
	}
	if sc := trace.SpanContextFromContext(c.Request.Context()); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if id := cloudTraceID(c.GetHeader(headerCloudTrace)); id != "" {
		return id
	}
	return uuid.NewString()
}

// cloudTraceID extracts TRACE_ID from "TRACE_ID/SPAN_ID;o=OPTIONS".
func cloudTraceID(h string) string {
	h = strings.TrimSpace(h)
	if i := strings.IndexAny(h, "/;"); i >= 0 {
		h = h[:i]
	}
	return h
}
