package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type EventEnvelope struct {
	EventType  string      `json:"event_type"`
	EventName  string      `json:"event_name"`
	OccurredAt string      `json:"occurred_at"`
	RequestID  string      `json:"request_id,omitempty"`
	TraceID    string      `json:"trace_id,omitempty"`
	Payload    interface{} `json:"payload"`
}

// NewEnvelope stamps payload with the current time and the trace id carried by ctx, if any.
func NewEnvelope(ctx context.Context, eventType, eventName, requestID string, payload interface{}) EventEnvelope {
	env := EventEnvelope{
		EventType:  eventType,
		EventName:  eventName,
		OccurredAt: time.Now().UTC().Format(time.RFC3339Nano),
		RequestID:  requestID,
		Payload:    payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	return env
}
