package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hive-chat/internal/observability"
)

const (
	wsKind       = "session"
	wsRoutingKey = "ws_events.sessions"
)

func newConnID() string {
	return uuid.NewString()
}

// publishWSEvent counts a connection lifecycle event and mirrors it to the broker export.
func publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(wsKind, event)
	envelope := observability.NewEnvelope(ctx, "ws_events", event, info.RequestID, map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        wsKind,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":    info.UserID,
			"device_id":  info.DeviceID,
			"ip":         info.IP,
			"user_agent": info.UserAgent,
		},
	})
	if envelope.TraceID == "" {
		envelope.TraceID = info.TraceID
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey, envelope)
}
