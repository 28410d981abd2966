package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/middleware"
	"hive-chat/internal/models"
)

// FriendService is the friendship ledger as the HTTP layer sees it.
type FriendService interface {
	SendRequest(ctx context.Context, requester models.Profile, targetDisplayName string) (models.Friendship, error)
	Respond(ctx context.Context, friendshipID, responderUID string, decision models.FriendshipStatus) (models.Friendship, error)
	Friends(ctx context.Context, uid string) ([]models.Friend, error)
	Invitations(ctx context.Context, uid string) (models.Invitations, error)
	SearchProfiles(ctx context.Context, prefix string, limit int) ([]models.Profile, error)
	UpsertProfile(ctx context.Context, profile models.Profile) (models.Profile, error)
	Profile(ctx context.Context, uid string) (models.Profile, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

type ChatService interface {
	StartPrivateChat(ctx context.Context, self, friend models.Profile) (string, error)
	StartGroupChat(ctx context.Context, self models.Profile, groupName string, members []models.Friend) (string, error)
	Summaries(ctx context.Context, uid string) ([]models.ChatSummary, error)
	GetChat(ctx context.Context, chatID, viewer string) (models.Chat, error)
	TotalUnread(ctx context.Context, uid string) (int, error)
}

type MessageService interface {
	PostMessage(ctx context.Context, chatID, senderID, text string) (models.Message, error)
	Page(ctx context.Context, chatID, viewer string, before *models.Cursor, limit int) (models.MessagePage, error)
	MarkSeen(ctx context.Context, chatID, viewer string) (int, error)
	ViewChat(ctx context.Context, chatID, viewer string) error
	ResetUnread(ctx context.Context, chatID, viewer string) error
}

type TypingService interface {
	SetTyping(ctx context.Context, chatID, uid string, typing bool) error
	ClearUser(ctx context.Context, uid string)
}

type NotificationService interface {
	Pending(ctx context.Context, uid string) ([]models.Notification, error)
	Acknowledge(ctx context.Context, notificationID, uid string) error
}

type PresenceService interface {
	Status(ctx context.Context, uid string) (models.PresenceStatus, error)
	Logout(ctx context.Context, uid string) error
}

// respondError writes err with the status of its kind. Unclassified errors are logged and
// hidden behind a generic message.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	kind := errorx.KindOf(err)
	status := errorx.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("kind", kind.String()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": errorx.Message(err)})
}

func currentUID(c *gin.Context) string {
	return c.GetString(middleware.UserIDKey)
}

// currentProfile returns the caller as described by its token claims.
func currentProfile(c *gin.Context) models.Profile {
	if id, ok := middleware.IdentityFrom(c); ok {
		return id.Profile()
	}
	return models.Profile{UID: currentUID(c)}
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
