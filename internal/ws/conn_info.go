package ws

import (
	"time"

	"hive-chat/internal/observability"
)

// ConnInfo identifies one websocket session in logs and lifecycle events.
type ConnInfo struct {
	observability.RequestMeta
	ConnID      string
	UserID      string
	TraceID     string
	ConnectedAt time.Time
}
