package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hive-chat/internal/client"
	"hive-chat/internal/events"
	"hive-chat/internal/middleware"
	"hive-chat/internal/models"
	"hive-chat/internal/presence"
	"hive-chat/internal/repositories"
	"hive-chat/internal/services"
)

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub()
	a, b := &Client{done: make(chan struct{})}, &Client{done: make(chan struct{})}

	hub.Add("u1", a, ConnInfo{ConnID: "a"})
	hub.Add("u1", b, ConnInfo{ConnID: "b"})
	assert.Equal(t, 2, hub.Count("u1"))
	assert.Len(t, hub.Info("u1"), 2)

	hub.Remove("u1", a)
	assert.Equal(t, 1, hub.Count("u1"))
	hub.Remove("u1", b)
	assert.Equal(t, 0, hub.Count("u1"))
	assert.Empty(t, hub.users)

	hub.Add("u2", a, ConnInfo{})
	hub.CloseAll()
	select {
	case <-a.done:
	default:
		t.Fatal("expected client to be closed")
	}
}

type wsEnv struct {
	server   *httptest.Server
	hub      *Hub
	tracker  *presence.Tracker
	chats    *services.ChatDirectory
	log      *services.MessageLog
	ledger   *services.FriendshipLedger
	chatID   string
	presence *presence.MemoryStore
	broker   *events.Broker
}

func newWSEnv(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := repositories.NewMemoryStore()
	broker := events.NewBroker(256, nil)
	clock := services.NewClock()
	notices := services.NewNotificationDispatcher(store, broker, clock, 5*time.Minute, nil)
	typing := services.NewTypingTracker(store, broker, 6*time.Second, nil)
	chats := services.NewChatDirectory(store, broker, clock, nil)
	log := services.NewMessageLog(store, store, notices, typing, broker, clock, services.DefaultPageSize, 100, nil)
	presenceStore := presence.NewMemoryStore()
	tracker := presence.NewTracker(presenceStore, broker, 0, nil)
	ledger := services.NewFriendshipLedger(store, store, notices, broker, clock, nil)

	e := &wsEnv{hub: NewHub(), tracker: tracker, chats: chats, log: log, ledger: ledger, presence: presenceStore, broker: broker}
	var err error
	e.chatID, err = chats.StartPrivateChat(context.Background(), models.Profile{UID: "u1", DisplayName: "Ann"}, models.Profile{UID: "u2", DisplayName: "Bob"})
	require.NoError(t, err)

	deps := client.Deps{Messages: log, Typing: typing, Notifications: notices, Broker: broker, TypingIdle: time.Minute}
	handler := NewSessionWebSocketHandler(e.hub, deps, tracker, ledger, nil)

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		if uid := c.Query("uid"); uid != "" {
			c.Set(middleware.UserIDKey, uid)
		}
		c.Next()
	}, handler.Handle)
	e.server = httptest.NewServer(r)
	t.Cleanup(e.server.Close)
	return e
}

func (e *wsEnv) befriend(t *testing.T, a, b models.Profile) {
	t.Helper()
	ctx := context.Background()
	_, err := e.ledger.UpsertProfile(ctx, a)
	require.NoError(t, err)
	_, err = e.ledger.UpsertProfile(ctx, b)
	require.NoError(t, err)
	req, err := e.ledger.SendRequest(ctx, a, b.DisplayName)
	require.NoError(t, err)
	_, err = e.ledger.Respond(ctx, req.ID, b.UID, models.FriendshipAccepted)
	require.NoError(t, err)
}

func (e *wsEnv) dial(t *testing.T, uid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?uid=" + uid
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next reads frames until one of the given type arrives.
func next(t *testing.T, conn *websocket.Conn, frameType string) OutFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame OutFrame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == frameType {
			return frame
		}
	}
}

func TestSessionWebSocketRequiresUser(t *testing.T) {
	e := newWSEnv(t)
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionWebSocketSelectAndLiveAppend(t *testing.T) {
	e := newWSEnv(t)
	ctx := context.Background()
	_, err := e.log.PostMessage(ctx, e.chatID, "u1", "hello")
	require.NoError(t, err)

	conn := e.dial(t, "u2")
	require.Eventually(t, func() bool { return e.tracker.Online("u2") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, e.hub.Count("u2"))

	alert := next(t, conn, FrameAlert)
	require.NotNil(t, alert.Notification)
	assert.Equal(t, "New message from Ann", alert.Notification.Text)

	require.NoError(t, conn.WriteJSON(InFrame{Type: FrameSelectChat, ChatID: e.chatID}))
	window := next(t, conn, FrameWindow)
	require.NotNil(t, window.Window)
	require.Len(t, window.Window.Messages, 1)
	assert.Equal(t, "hello", window.Window.Messages[0].Text)

	_, err = e.log.PostMessage(ctx, e.chatID, "u1", "again")
	require.NoError(t, err)
	for {
		frame := next(t, conn, FrameWindow)
		if len(frame.Window.Messages) == 2 {
			assert.Equal(t, "again", frame.Window.Messages[1].Text)
			break
		}
	}

	conn.Close()
	require.Eventually(t, func() bool { return !e.tracker.Online("u2") && e.hub.Count("u2") == 0 }, 2*time.Second, 5*time.Millisecond)
	st, err := e.presence.Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOffline, st.State)
}

func TestSessionWebSocketRejectsInvalidFrames(t *testing.T) {
	e := newWSEnv(t)
	conn := e.dial(t, "u1")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{nope")))
	assert.Equal(t, "malformed frame", next(t, conn, FrameError).Error)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	assert.Contains(t, next(t, conn, FrameError).Error, "invalid frame")

	require.NoError(t, conn.WriteJSON(map[string]string{"type": FrameSelectChat}))
	assert.Contains(t, next(t, conn, FrameError).Error, "invalid frame")

	require.NoError(t, conn.WriteJSON(InFrame{Type: FrameLoadOlder}))
	assert.Equal(t, "no chat selected", next(t, conn, FrameError).Error)

	require.NoError(t, conn.WriteJSON(InFrame{Type: FrameSelectChat, ChatID: "missing"}))
	assert.NotEmpty(t, next(t, conn, FrameError).Error)
}

func TestSessionWebSocketWatchPresence(t *testing.T) {
	e := newWSEnv(t)
	e.befriend(t, models.Profile{UID: "u1", DisplayName: "Ann"}, models.Profile{UID: "u2", DisplayName: "Bob"})
	watcher := e.dial(t, "u1")

	require.NoError(t, watcher.WriteJSON(InFrame{Type: FrameWatchPresence, UIDs: []string{"u2"}}))
	// Frames are handled in order, so the error reply to this one means the watch is installed.
	require.NoError(t, watcher.WriteJSON(InFrame{Type: FrameLoadOlder}))
	next(t, watcher, FrameError)

	conn, err := e.tracker.Connect(context.Background(), "u2")
	require.NoError(t, err)
	defer conn.Close()

	for {
		frame := next(t, watcher, FrameEvent)
		if frame.Event.Kind == events.KindPresenceChanged && frame.Event.Presence.UID == "u2" {
			assert.Equal(t, models.PresenceOnline, frame.Event.Presence.State)
			break
		}
	}
}

func TestSessionWebSocketWatchPresenceSkipsStrangers(t *testing.T) {
	e := newWSEnv(t)
	e.befriend(t, models.Profile{UID: "u1", DisplayName: "Ann"}, models.Profile{UID: "u2", DisplayName: "Bob"})
	watcher := e.dial(t, "u1")

	require.NoError(t, watcher.WriteJSON(InFrame{Type: FrameWatchPresence, UIDs: []string{"u3", "u2"}}))
	assert.Equal(t, "not a friend: u3", next(t, watcher, FrameError).Error)

	stranger, err := e.tracker.Connect(context.Background(), "u3")
	require.NoError(t, err)
	defer stranger.Close()
	friend, err := e.tracker.Connect(context.Background(), "u2")
	require.NoError(t, err)
	defer friend.Close()

	// u3 went online first; the first presence frame must already be the friend's
	for {
		frame := next(t, watcher, FrameEvent)
		if frame.Event.Kind == events.KindPresenceChanged {
			assert.Equal(t, "u2", frame.Event.Presence.UID)
			break
		}
	}
}
