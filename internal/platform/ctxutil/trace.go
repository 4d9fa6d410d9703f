package ctxutil

import "context"

type traceDataKey struct{}

type TraceData struct {
	TraceID   string
	RequestID string
	// EventID is the trigger delivery id (CloudEvent ce-id or local change id).
	EventID string
	Attempt int
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}

// EventID returns the delivery id stored on ctx, or "".
func EventID(ctx context.Context) string {
	if td := GetTraceData(ctx); td != nil {
		return td.EventID
	}
	return ""
}
