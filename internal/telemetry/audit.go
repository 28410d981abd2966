// Package telemetry publishes audit records of user-driven mutations to the event exchange.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// Record is one audited action. Subject is the id of the friendship or chat it touched.
type Record struct {
	Level   Level
	Action  string
	Subject string
	Text    string
}

// Actor identifies who triggered a record.
type Actor struct {
	RequestID string
	UserID    *string
}

// AuditEmitter publishes audit records for ledger and directory mutations.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
	logger      *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	TraceID       string       `json:"trace_id,omitempty"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level   Level  `json:"level"`
	Action  string `json:"action"`
	Subject string `json:"subject,omitempty"`
	Text    string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
		logger:      logger,
	}
}

// Emit publishes rec on behalf of actor. A nil emitter is valid and does nothing.
// Publish failures are logged and not returned.
func (e *AuditEmitter) Emit(ctx context.Context, actor Actor, rec Record) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     actor.RequestID,
		UserID:        actor.UserID,
		Payload: AuditPayload{
			Level:   rec.Level,
			Action:  rec.Action,
			Subject: rec.Subject,
			Text:    rec.Text,
		},
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		envelope.TraceID = sc.TraceID().String()
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.logger.Warn("audit publish failed",
			zap.String("action", rec.Action), zap.String("subject", rec.Subject), zap.Error(err))
		return
	}
	e.logger.Debug("audit emitted", zap.String("action", rec.Action), zap.String("request_id", actor.RequestID))
}
