package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"hive-chat/internal/telemetry"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if uid := currentUID(c); uid != "" {
		return &uid
	}
	return nil
}

func emitAudit(c *gin.Context, audit *telemetry.AuditEmitter, rec telemetry.Record) {
	audit.Emit(c.Request.Context(), telemetry.Actor{RequestID: requestIDFromContext(c), UserID: userIDFromContext(c)}, rec)
}

func auditFailure(action, subject, text string) telemetry.Record {
	return telemetry.Record{Level: telemetry.LevelError, Action: action, Subject: subject, Text: text}
}
