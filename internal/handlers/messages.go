package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hive-chat/internal/models"
)

// MessageHandler serves message history, posting and read state.
type MessageHandler struct {
	messages MessageService
	typing   TypingService
	logger   *zap.Logger
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages MessageService, typing TypingService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, typing: typing, logger: loggerOrNop(logger)}
}

// ListMessages returns one page of history. before_ts and before_id position the page strictly
// before a message; both are omitted for the newest page.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	cursor, ok := parseCursor(c)
	if !ok {
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	page, err := h.messages.Page(c.Request.Context(), c.Param("chat_id"), currentUID(c), cursor, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func parseCursor(c *gin.Context) (*models.Cursor, bool) {
	rawTS, rawID := c.Query("before_ts"), c.Query("before_id")
	if rawTS == "" && rawID == "" {
		return nil, true
	}
	if rawTS == "" || rawID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before_ts and before_id go together"})
		return nil, false
	}
	ts, err := time.Parse(time.RFC3339Nano, rawTS)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before_ts"})
		return nil, false
	}
	return &models.Cursor{Timestamp: ts, ID: rawID}, true
}

// PostMessage appends a text message to the chat.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.PostMessage(c.Request.Context(), c.Param("chat_id"), currentUID(c), req.Text)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkSeen adds the caller to seenBy of every message in the chat.
func (h *MessageHandler) MarkSeen(c *gin.Context) {
	updated, err := h.messages.MarkSeen(c.Request.Context(), c.Param("chat_id"), currentUID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

// ViewChat marks the chat as read and seen by the caller.
func (h *MessageHandler) ViewChat(c *gin.Context) {
	if err := h.messages.ViewChat(c.Request.Context(), c.Param("chat_id"), currentUID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetUnread zeroes the caller's unread count without touching seenBy.
func (h *MessageHandler) ResetUnread(c *gin.Context) {
	if err := h.messages.ResetUnread(c.Request.Context(), c.Param("chat_id"), currentUID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// SetTyping sets or clears the caller's typing flag.
func (h *MessageHandler) SetTyping(c *gin.Context) {
	var req struct {
		Typing *bool `json:"typing" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.typing.SetTyping(c.Request.Context(), c.Param("chat_id"), currentUID(c), *req.Typing); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
