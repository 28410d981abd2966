package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/models"
	"hive-chat/internal/services"
	"hive-chat/internal/telemetry"
)

// ChatHandler manages the chat directory endpoints.
type ChatHandler struct {
	chats   ChatService
	friends FriendService
	audit   *telemetry.AuditEmitter
	logger  *zap.Logger
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(chats ChatService, friends FriendService, audit *telemetry.AuditEmitter, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chats: chats, friends: friends, audit: audit, logger: loggerOrNop(logger)}
}

// ListChats returns the caller's chats as list entries, most recent first.
func (h *ChatHandler) ListChats(c *gin.Context) {
	list, err := h.chats.Summaries(c.Request.Context(), currentUID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chats": list})
}

// StartPrivateChat opens the private chat with a friend, creating a draft if none exists.
func (h *ChatHandler) StartPrivateChat(c *gin.Context) {
	var req struct {
		FriendUID string `json:"friend_uid" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	self := currentProfile(c)
	if req.FriendUID == self.UID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot chat with yourself"})
		return
	}

	friends, err := h.friendsByUID(c, self.UID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	friend, ok := friends[req.FriendUID]
	if !ok {
		c.JSON(http.StatusForbidden, gin.H{"error": "users are not friends"})
		return
	}

	chatID, err := h.chats.StartPrivateChat(c.Request.Context(), self, models.Profile{
		UID:         friend.UID,
		DisplayName: friend.DisplayName,
		PhotoURL:    friend.PhotoURL,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat_id": chatID})
}

// StartGroupChat creates a group with the caller and the listed friends.
func (h *ChatHandler) StartGroupChat(c *gin.Context) {
	var req struct {
		Name       string   `json:"name" binding:"required"`
		MemberUIDs []string `json:"member_uids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, auditFailure("chat.group_create", "", "invalid request payload"))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	self := currentProfile(c)
	friends, err := h.friendsByUID(c, self.UID)
	if err != nil {
		emitAudit(c, h.audit, auditFailure("chat.group_create", "", "internal error"))
		respondError(c, h.logger, err)
		return
	}

	members := make([]models.Friend, 0, len(req.MemberUIDs))
	for _, uid := range req.MemberUIDs {
		if uid == self.UID {
			continue
		}
		friend, ok := friends[uid]
		if !ok {
			emitAudit(c, h.audit, auditFailure("chat.group_create", "", "not allowed"))
			c.JSON(http.StatusForbidden, gin.H{"error": "group members must be friends"})
			return
		}
		members = append(members, friend)
	}

	chatID, err := h.chats.StartGroupChat(c.Request.Context(), self, req.Name, members)
	if err != nil {
		emitAudit(c, h.audit, auditFailure("chat.group_create", "", errorx.Message(err)))
		respondError(c, h.logger, err)
		return
	}

	emitAudit(c, h.audit, telemetry.Record{Action: "chat.group_create", Subject: chatID, Text: "Group created"})
	c.JSON(http.StatusCreated, gin.H{"chat_id": chatID})
}

// GetChat returns one chat with its display fields for the caller.
func (h *ChatHandler) GetChat(c *gin.Context) {
	uid := currentUID(c)
	chat, err := h.chats.GetChat(c.Request.Context(), c.Param("chat_id"), uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, models.ChatSummary{
		Chat:       chat,
		Display:    services.DisplayFor(chat, uid),
		Unread:     services.UnreadFor(chat, uid),
		TypingText: services.TypingText(chat, uid),
	})
}

// TotalUnread returns the caller's unread count across all chats.
func (h *ChatHandler) TotalUnread(c *gin.Context) {
	total, err := h.chats.TotalUnread(c.Request.Context(), currentUID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unread": total})
}

func (h *ChatHandler) friendsByUID(c *gin.Context, uid string) (map[string]models.Friend, error) {
	list, err := h.friends.Friends(c.Request.Context(), uid)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.Friend, len(list))
	for _, f := range list {
		out[f.UID] = f
	}
	return out, nil
}
