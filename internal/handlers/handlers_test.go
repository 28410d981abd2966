package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"hive-chat/internal/errorx"
	"hive-chat/internal/identity"
	"hive-chat/internal/middleware"
	"hive-chat/internal/mocks"
	"hive-chat/internal/models"
	"hive-chat/internal/telemetry"
)

var (
	_ FriendService       = (*mocks.FriendServiceMock)(nil)
	_ ChatService         = (*mocks.ChatServiceMock)(nil)
	_ MessageService      = (*mocks.MessageServiceMock)(nil)
	_ TypingService       = (*mocks.TypingServiceMock)(nil)
	_ NotificationService = (*mocks.NotificationServiceMock)(nil)
	_ PresenceService     = (*mocks.PresenceServiceMock)(nil)
)

var ann = identity.Identity{UID: "u1", DisplayName: "Ann", PhotoURL: "ann.png"}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.UserIDKey, ann.UID)
		c.Set(middleware.IdentityKey, ann)
		c.Next()
	})
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestSendRequestMapsDomainErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "not found", err: errorx.NotFound("user not found"), status: http.StatusNotFound},
		{name: "self", err: errorx.ErrSelfRequest, status: http.StatusBadRequest},
		{name: "already friends", err: errorx.ErrAlreadyFriends, status: http.StatusConflict},
		{name: "backend down", err: errorx.Transient(assert.AnError, "storage unavailable"), status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			friends := new(mocks.FriendServiceMock)
			h := NewFriendHandler(friends, nil, 0, nil)
			r := newRouter()
			r.POST("/friends/requests", h.SendRequest)

			friends.On("SendRequest", mock.Anything, ann.Profile(), "Bob").Return(nil, tt.err).Once()

			rec := do(r, http.MethodPost, "/friends/requests", `{"display_name":"Bob"}`)
			require.Equal(t, tt.status, rec.Code)
			assert.Equal(t, errorx.Message(tt.err), decode(t, rec)["error"])
			friends.AssertExpectations(t)
		})
	}
}

func TestSendRequestEmitsAudit(t *testing.T) {
	friends := new(mocks.FriendServiceMock)
	pub := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(pub, "audit.chat", "hive-chat", "test", nil)
	h := NewFriendHandler(friends, audit, 0, nil)
	r := newRouter()
	r.POST("/friends/requests", h.SendRequest)

	f := models.Friendship{ID: "f1", Participants: []string{"u1", "u2"}, Status: models.FriendshipPending, InitiatedBy: "u1"}
	friends.On("SendRequest", mock.Anything, ann.Profile(), "Bob").Return(f, nil).Once()
	pub.On("Publish", mock.Anything, "audit.chat", mock.MatchedBy(func(ev any) bool {
		env, ok := ev.(telemetry.AuditEnvelope)
		return ok && env.Payload.Action == "friend.request" && env.Payload.Subject == "f1" &&
			env.UserID != nil && *env.UserID == "u1"
	})).Return(nil).Once()

	rec := do(r, http.MethodPost, "/friends/requests", `{"display_name":"Bob"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "f1", decode(t, rec)["id"])
	friends.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestSendRequestRejectsEmptyBody(t *testing.T) {
	h := NewFriendHandler(new(mocks.FriendServiceMock), nil, 0, nil)
	r := newRouter()
	r.POST("/friends/requests", h.SendRequest)

	rec := do(r, http.MethodPost, "/friends/requests", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRespondValidatesDecision(t *testing.T) {
	friends := new(mocks.FriendServiceMock)
	h := NewFriendHandler(friends, nil, 0, nil)
	r := newRouter()
	r.POST("/friends/requests/:friendship_id/respond", h.Respond)

	rec := do(r, http.MethodPost, "/friends/requests/f1/respond", `{"decision":"maybe"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	friends.On("Respond", mock.Anything, "f1", "u1", models.FriendshipAccepted).
		Return(nil, errorx.Forbidden("only the invited user can respond")).Once()
	rec = do(r, http.MethodPost, "/friends/requests/f1/respond", `{"decision":"accepted"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	friends.AssertExpectations(t)
}

func TestSearchProfilesCapsLimit(t *testing.T) {
	friends := new(mocks.FriendServiceMock)
	h := NewFriendHandler(friends, nil, 20, nil)
	r := newRouter()
	r.GET("/profiles/search", h.SearchProfiles)

	friends.On("SearchProfiles", mock.Anything, "Bo", 20).Return([]models.Profile{{UID: "u2", DisplayName: "Bob"}}, nil).Once()
	friends.On("SearchProfiles", mock.Anything, "Bo", 5).Return([]models.Profile{}, nil).Once()

	rec := do(r, http.MethodGet, "/profiles/search?q=Bo&limit=500", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["profiles"], 1)

	rec = do(r, http.MethodGet, "/profiles/search?q=Bo&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodGet, "/profiles/search?q=Bo&limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	friends.AssertExpectations(t)
}

func TestStartPrivateChatRequiresFriendship(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	friends := new(mocks.FriendServiceMock)
	h := NewChatHandler(chats, friends, nil, nil)
	r := newRouter()
	r.POST("/chats/private", h.StartPrivateChat)

	bob := models.Friend{FriendshipID: "f1", UID: "u2", DisplayName: "Bob", PhotoURL: "bob.png"}
	friends.On("Friends", mock.Anything, "u1").Return([]models.Friend{bob}, nil)

	rec := do(r, http.MethodPost, "/chats/private", `{"friend_uid":"u3"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(r, http.MethodPost, "/chats/private", `{"friend_uid":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	chats.On("StartPrivateChat", mock.Anything, ann.Profile(), models.Profile{UID: "u2", DisplayName: "Bob", PhotoURL: "bob.png"}).
		Return("c1", nil).Once()
	rec = do(r, http.MethodPost, "/chats/private", `{"friend_uid":"u2"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1", decode(t, rec)["chat_id"])
	chats.AssertExpectations(t)
}

func TestStartGroupChatResolvesFriends(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	friends := new(mocks.FriendServiceMock)
	h := NewChatHandler(chats, friends, nil, nil)
	r := newRouter()
	r.POST("/chats/group", h.StartGroupChat)

	bob := models.Friend{UID: "u2", DisplayName: "Bob"}
	cat := models.Friend{UID: "u3", DisplayName: "Cat"}
	friends.On("Friends", mock.Anything, "u1").Return([]models.Friend{bob, cat}, nil)

	rec := do(r, http.MethodPost, "/chats/group", `{"name":"Crew","member_uids":["u2","u9"]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	chats.On("StartGroupChat", mock.Anything, ann.Profile(), "Crew", []models.Friend{cat, bob}).Return("g1", nil).Once()
	rec = do(r, http.MethodPost, "/chats/group", `{"name":"Crew","member_uids":["u3","u1","u2"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "g1", decode(t, rec)["chat_id"])

	chats.On("StartGroupChat", mock.Anything, ann.Profile(), " ", []models.Friend{}).
		Return("", errorx.Validation("group name is required")).Once()
	rec = do(r, http.MethodPost, "/chats/group", `{"name":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	chats.AssertExpectations(t)
}

func TestGetChatIncludesViewerFields(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	h := NewChatHandler(chats, new(mocks.FriendServiceMock), nil, nil)
	r := newRouter()
	r.GET("/chats/:chat_id", h.GetChat)

	chat := models.Chat{
		ID:            "c1",
		Type:          models.ChatTypePrivate,
		Participants:  []string{"u1", "u2"},
		FriendlyNames: map[string]string{"u1": "Ann", "u2": "Bob"},
		UnreadCounts:  map[string]int{"u1": 3, "u2": 0},
		TypingUsers:   []string{"u2"},
	}
	chats.On("GetChat", mock.Anything, "c1", "u1").Return(chat, nil).Once()
	chats.On("GetChat", mock.Anything, "c2", "u1").Return(nil, errorx.Forbidden("not a chat participant")).Once()

	rec := do(r, http.MethodGet, "/chats/c1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["unread"])
	assert.Equal(t, "Bob is typing…", body["typing_text"])
	assert.Equal(t, "Bob", body["display"].(map[string]any)["name"])

	rec = do(r, http.MethodGet, "/chats/c2", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	chats.AssertExpectations(t)
}

func TestListChatsAndUnread(t *testing.T) {
	chats := new(mocks.ChatServiceMock)
	h := NewChatHandler(chats, new(mocks.FriendServiceMock), nil, nil)
	r := newRouter()
	r.GET("/chats", h.ListChats)
	r.GET("/chats/unread", h.TotalUnread)

	chats.On("Summaries", mock.Anything, "u1").Return([]models.ChatSummary{{Chat: models.Chat{ID: "c1"}, Unread: 2}}, nil).Once()
	chats.On("TotalUnread", mock.Anything, "u1").Return(2, nil).Once()

	rec := do(r, http.MethodGet, "/chats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["chats"], 1)

	rec = do(r, http.MethodGet, "/chats/unread", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode(t, rec)["unread"])

	chats.On("Summaries", mock.Anything, "u1").Return(nil, assert.AnError).Once()
	rec = do(r, http.MethodGet, "/chats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec)["error"])
	chats.AssertExpectations(t)
}

func TestListMessagesCursor(t *testing.T) {
	messages := new(mocks.MessageServiceMock)
	h := NewMessageHandler(messages, new(mocks.TypingServiceMock), nil)
	r := newRouter()
	r.GET("/chats/:chat_id/messages", h.ListMessages)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 123000, time.UTC)
	messages.On("Page", mock.Anything, "c1", "u1", (*models.Cursor)(nil), 0).
		Return(models.MessagePage{Messages: []models.Message{{ID: "m1"}}, HasMore: true}, nil).Once()
	messages.On("Page", mock.Anything, "c1", "u1", &models.Cursor{Timestamp: ts, ID: "m1"}, 10).
		Return(models.MessagePage{Messages: []models.Message{}}, nil).Once()

	rec := do(r, http.MethodGet, "/chats/c1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["has_more"])

	rec = do(r, http.MethodGet, "/chats/c1/messages?limit=10&before_id=m1&before_ts="+ts.Format(time.RFC3339Nano), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodGet, "/chats/c1/messages?before_id=m1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(r, http.MethodGet, "/chats/c1/messages?before_id=m1&before_ts=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	messages.AssertExpectations(t)
}

func TestPostMessage(t *testing.T) {
	messages := new(mocks.MessageServiceMock)
	h := NewMessageHandler(messages, new(mocks.TypingServiceMock), nil)
	r := newRouter()
	r.POST("/chats/:chat_id/messages", h.PostMessage)

	messages.On("PostMessage", mock.Anything, "c1", "u1", "hi").Return(models.Message{ID: "m1", Text: "hi"}, nil).Once()
	messages.On("PostMessage", mock.Anything, "c2", "u1", "hi").
		Return(nil, errorx.Transient(assert.AnError, "chat is busy, retry")).Once()

	rec := do(r, http.MethodPost, "/chats/c1/messages", `{"text":"hi"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "m1", decode(t, rec)["id"])

	rec = do(r, http.MethodPost, "/chats/c2/messages", `{"text":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(r, http.MethodPost, "/chats/c1/messages", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	messages.AssertExpectations(t)
}

func TestSeenViewAndTyping(t *testing.T) {
	messages := new(mocks.MessageServiceMock)
	typing := new(mocks.TypingServiceMock)
	h := NewMessageHandler(messages, typing, nil)
	r := newRouter()
	r.POST("/chats/:chat_id/seen", h.MarkSeen)
	r.POST("/chats/:chat_id/view", h.ViewChat)
	r.POST("/chats/:chat_id/unread/reset", h.ResetUnread)
	r.POST("/chats/:chat_id/typing", h.SetTyping)

	messages.On("MarkSeen", mock.Anything, "c1", "u1").Return(4, nil).Once()
	messages.On("ViewChat", mock.Anything, "c1", "u1").Return(nil).Once()
	messages.On("ResetUnread", mock.Anything, "c1", "u1").Return(nil).Once()
	messages.On("ResetUnread", mock.Anything, "c2", "u1").Return(errorx.Forbidden("not a participant")).Once()
	typing.On("SetTyping", mock.Anything, "c1", "u1", false).Return(nil).Once()

	rec := do(r, http.MethodPost, "/chats/c1/seen", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), decode(t, rec)["updated"])

	rec = do(r, http.MethodPost, "/chats/c1/view", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(r, http.MethodPost, "/chats/c1/unread/reset", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(r, http.MethodPost, "/chats/c2/unread/reset", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(r, http.MethodPost, "/chats/c1/typing", `{"typing":false}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(r, http.MethodPost, "/chats/c1/typing", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	messages.AssertExpectations(t)
	typing.AssertExpectations(t)
}

func TestSessionEndpoints(t *testing.T) {
	friends := new(mocks.FriendServiceMock)
	presence := new(mocks.PresenceServiceMock)
	typing := new(mocks.TypingServiceMock)
	notices := new(mocks.NotificationServiceMock)
	h := NewSessionHandler(friends, presence, typing, notices, nil, nil)
	r := newRouter()
	r.POST("/session", h.StartSession)
	r.POST("/session/logout", h.Logout)
	r.GET("/presence/:uid", h.Presence)
	r.GET("/notifications", h.PendingNotifications)
	r.POST("/notifications/:notification_id/ack", h.AcknowledgeNotification)

	friends.On("UpsertProfile", mock.Anything, ann.Profile()).Return(models.Profile{UID: "u1", DisplayName: "Ann"}, nil).Once()
	presence.On("Logout", mock.Anything, "u1").Return(nil).Once()
	typing.On("ClearUser", mock.Anything, "u1").Once()
	friends.On("AreFriends", mock.Anything, "u1", "u2").Return(true, nil).Once()
	friends.On("AreFriends", mock.Anything, "u1", "u3").Return(false, nil).Once()
	presence.On("Status", mock.Anything, "u2").Return(models.PresenceStatus{UID: "u2", State: models.PresenceOnline}, nil).Once()
	presence.On("Status", mock.Anything, "u1").Return(models.PresenceStatus{UID: "u1", State: models.PresenceOnline}, nil).Once()
	notices.On("Pending", mock.Anything, "u1").Return([]models.Notification{{ID: "n1", Text: "hi"}}, nil).Once()
	notices.On("Acknowledge", mock.Anything, "n1", "u1").Return(nil).Once()

	rec := do(r, http.MethodPost, "/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Ann", decode(t, rec)["display_name"])

	rec = do(r, http.MethodPost, "/session/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(r, http.MethodGet, "/presence/u2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "online", decode(t, rec)["state"])

	rec = do(r, http.MethodGet, "/presence/u3", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(r, http.MethodGet, "/presence/u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodGet, "/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["notifications"], 1)

	rec = do(r, http.MethodPost, "/notifications/n1/ack", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	friends.AssertExpectations(t)
	presence.AssertExpectations(t)
	typing.AssertExpectations(t)
	notices.AssertExpectations(t)
}

func TestLogoutKeepsTypingWhenPresenceFails(t *testing.T) {
	presence := new(mocks.PresenceServiceMock)
	typing := new(mocks.TypingServiceMock)
	h := NewSessionHandler(new(mocks.FriendServiceMock), presence, typing, new(mocks.NotificationServiceMock), nil, nil)
	r := newRouter()
	r.POST("/session/logout", h.Logout)

	presence.On("Logout", mock.Anything, "u1").Return(errorx.Transient(assert.AnError, "presence store unavailable")).Once()

	rec := do(r, http.MethodPost, "/session/logout", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	typing.AssertNotCalled(t, "ClearUser", mock.Anything, mock.Anything)
}

func TestDebugRoutes(t *testing.T) {
	r := newRouter()
	RegisterDebugRoutes(r, nil, false)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/debug/audit-test", "").Code)

	r = newRouter()
	RegisterDebugRoutes(r, nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, do(r, http.MethodGet, "/debug/audit-test", "").Code)

	pub := new(mocks.PublisherMock)
	pub.On("Publish", mock.Anything, "audit.chat", mock.Anything).Return(nil).Once()
	r = newRouter()
	RegisterDebugRoutes(r, telemetry.NewAuditEmitter(pub, "audit.chat", "hive-chat", "test", nil), true)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/debug/audit-test", "").Code)
	pub.AssertExpectations(t)
}
