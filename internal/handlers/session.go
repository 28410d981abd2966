package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hive-chat/internal/telemetry"
)

// SessionHandler covers the per-user state outside chats: profile sync, logout, presence and
// the notification inbox.
type SessionHandler struct {
	friends       FriendService
	presence      PresenceService
	typing        TypingService
	notifications NotificationService
	audit         *telemetry.AuditEmitter
	logger        *zap.Logger
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(friends FriendService, presence PresenceService, typing TypingService, notifications NotificationService, audit *telemetry.AuditEmitter, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		friends:       friends,
		presence:      presence,
		typing:        typing,
		notifications: notifications,
		audit:         audit,
		logger:        loggerOrNop(logger),
	}
}

// StartSession writes the caller's public profile from the token claims.
func (h *SessionHandler) StartSession(c *gin.Context) {
	profile, err := h.friends.UpsertProfile(c.Request.Context(), currentProfile(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, profile)
}

// Logout marks the caller offline on every device and drops its typing flags.
func (h *SessionHandler) Logout(c *gin.Context) {
	uid := currentUID(c)
	if err := h.presence.Logout(c.Request.Context(), uid); err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.typing.ClearUser(c.Request.Context(), uid)
	emitAudit(c, h.audit, telemetry.Record{Action: "session.logout", Text: "User logged out"})
	c.Status(http.StatusNoContent)
}

// Presence returns the presence of :uid. Only the user and their accepted friends may see it.
func (h *SessionHandler) Presence(c *gin.Context) {
	uid, target := currentUID(c), c.Param("uid")
	if target != uid {
		ok, err := h.friends.AreFriends(c.Request.Context(), uid, target)
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a friend"})
			return
		}
	}
	status, err := h.presence.Status(c.Request.Context(), target)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// PendingNotifications lists the notifications the caller has not handled yet.
func (h *SessionHandler) PendingNotifications(c *gin.Context) {
	list, err := h.notifications.Pending(c.Request.Context(), currentUID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

// AcknowledgeNotification removes the caller from the notification's recipients.
func (h *SessionHandler) AcknowledgeNotification(c *gin.Context) {
	if err := h.notifications.Acknowledge(c.Request.Context(), c.Param("notification_id"), currentUID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
