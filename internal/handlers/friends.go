package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/models"
	"hive-chat/internal/telemetry"
)

const defaultSearchLimit = 20

// FriendHandler exposes friend requests and the public profile directory.
type FriendHandler struct {
	friends     FriendService
	audit       *telemetry.AuditEmitter
	searchLimit int
	logger      *zap.Logger
}

// NewFriendHandler builds a FriendHandler.
func NewFriendHandler(friends FriendService, audit *telemetry.AuditEmitter, searchLimit int, logger *zap.Logger) *FriendHandler {
	if searchLimit <= 0 {
		searchLimit = defaultSearchLimit
	}
	return &FriendHandler{friends: friends, audit: audit, searchLimit: searchLimit, logger: loggerOrNop(logger)}
}

// SendRequest sends a friend request to the user with the given display name.
func (h *FriendHandler) SendRequest(c *gin.Context) {
	var req struct {
		DisplayName string `json:"display_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, auditFailure("friend.request", "", "invalid request payload"))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := h.friends.SendRequest(c.Request.Context(), currentProfile(c), req.DisplayName)
	if err != nil {
		emitAudit(c, h.audit, auditFailure("friend.request", "", errorx.Message(err)))
		respondError(c, h.logger, err)
		return
	}

	emitAudit(c, h.audit, telemetry.Record{Action: "friend.request", Subject: f.ID, Text: "Friend request sent"})
	c.JSON(http.StatusCreated, f)
}

// Respond accepts or declines the request identified by :friendship_id.
func (h *FriendHandler) Respond(c *gin.Context) {
	var req struct {
		Decision models.FriendshipStatus `json:"decision" binding:"required,oneof=accepted declined"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		emitAudit(c, h.audit, auditFailure("friend.respond", c.Param("friendship_id"), "invalid request payload"))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := h.friends.Respond(c.Request.Context(), c.Param("friendship_id"), currentUID(c), req.Decision)
	if err != nil {
		emitAudit(c, h.audit, auditFailure("friend.respond", c.Param("friendship_id"), errorx.Message(err)))
		respondError(c, h.logger, err)
		return
	}

	emitAudit(c, h.audit, telemetry.Record{Action: "friend.respond", Subject: f.ID, Text: "Friend request " + string(f.Status)})
	c.JSON(http.StatusOK, f)
}

// ListFriends returns the caller's accepted friends.
func (h *FriendHandler) ListFriends(c *gin.Context) {
	list, err := h.friends.Friends(c.Request.Context(), currentUID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"friends": list})
}

// Invitations returns the caller's pending requests split by direction.
func (h *FriendHandler) Invitations(c *gin.Context) {
	inv, err := h.friends.Invitations(c.Request.Context(), currentUID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

// SearchProfiles looks up profiles by display name prefix.
func (h *FriendHandler) SearchProfiles(c *gin.Context) {
	limit := h.searchLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}

	list, err := h.friends.SearchProfiles(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": list})
}

// GetProfile returns the public profile of :uid.
func (h *FriendHandler) GetProfile(c *gin.Context) {
	p, err := h.friends.Profile(c.Request.Context(), c.Param("uid"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
