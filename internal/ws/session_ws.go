package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"hive-chat/internal/client"
	"hive-chat/internal/errorx"
	"hive-chat/internal/events"
	"hive-chat/internal/middleware"
	"hive-chat/internal/observability"
	"hive-chat/internal/presence"
)

// Inbound frame types.
const (
	FrameSelectChat    = "select_chat"
	FrameDeselectChat  = "deselect_chat"
	FrameLoadOlder     = "load_older"
	FrameKeystroke     = "keystroke"
	FrameStopTyping    = "stop_typing"
	FrameWatchPresence = "watch_presence"
)

// InFrame is a client to server message.
type InFrame struct {
	Type   string   `json:"type" validate:"required,oneof=select_chat deselect_chat load_older keystroke stop_typing watch_presence"`
	ChatID string   `json:"chat_id" validate:"required_if=Type select_chat,max=128"`
	UIDs   []string `json:"uids" validate:"max=200,dive,required,max=128"`
}

// Presence registers connections with the presence tracker.
type Presence interface {
	Connect(ctx context.Context, uid string) (*presence.Connection, error)
}

// Friends answers whether two users are accepted friends.
type Friends interface {
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// SessionWebSocketHandler serves GET /ws: one client session per connection.
type SessionWebSocketHandler struct {
	hub      *Hub
	deps     client.Deps
	presence Presence
	friends  Friends
	validate *validator.Validate
	logger   *zap.Logger
}

// NewSessionWebSocketHandler constructs a SessionWebSocketHandler.
func NewSessionWebSocketHandler(hub *Hub, deps client.Deps, presence Presence, friends Friends, logger *zap.Logger) *SessionWebSocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionWebSocketHandler{
		hub:      hub,
		deps:     deps,
		presence: presence,
		friends:  friends,
		validate: validator.New(),
		logger:   logger,
	}
}

// Handle upgrades an authenticated request and runs the session until the peer goes away.
func (h *SessionWebSocketHandler) Handle(c *gin.Context) {
	uid := c.GetString(middleware.UserIDKey)
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
		return
	}

	ctx, span := otel.Tracer("hive-chat/ws").Start(c.Request.Context(), "ws.session")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", uid))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Debug("ws upgrade failed", zap.String("uid", uid), zap.Error(err))
		return
	}

	info := ConnInfo{
		RequestMeta: observability.RequestMetaFrom(c.Request),
		ConnID:      newConnID(),
		UserID:      uid,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	logger := h.logger.With(zap.String("uid", uid), zap.String("conn_id", info.ConnID))

	// The request context ends when this handler returns; the session lives on the connection.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	cl := newClient(conn, logger)
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		cl.writePump()
	}()

	presenceConn, err := h.presence.Connect(sessionCtx, uid)
	if err != nil {
		logger.Warn("presence connect failed", zap.Error(err))
		cl.Send(OutFrame{Type: FrameError, Error: errorx.Message(err)})
		cl.Close()
		writer.Wait()
		return
	}

	h.hub.Add(uid, cl, info)
	observability.IncWSActive(wsKind)
	publishWSEvent(sessionCtx, "ws_connect", info, "")
	logger.Info("ws session opened", zap.String("ip", info.IP), zap.String("device_id", info.DeviceID))

	session := client.NewSession(sessionCtx, uid, h.deps, observer{client: cl}, logger)
	watch := &presenceWatch{client: cl, broker: h.deps.Broker}

	reason := h.readLoop(sessionCtx, conn, session, watch)

	session.Close()
	watch.close()
	presenceConn.Close()
	cl.Close()
	writer.Wait()

	h.hub.Remove(uid, cl)
	observability.DecWSActive(wsKind)
	publishWSEvent(sessionCtx, "ws_disconnect", info, reason)
	logger.Info("ws session closed", zap.String("reason", reason))
}

func (h *SessionWebSocketHandler) readLoop(ctx context.Context, conn *websocket.Conn, session *client.Session, watch *presenceWatch) string {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(wsKind, "ws_error")
			}
			return err.Error()
		}

		var frame InFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			watch.client.Send(OutFrame{Type: FrameError, Error: "malformed frame"})
			continue
		}
		if err := h.validate.Struct(frame); err != nil {
			watch.client.Send(OutFrame{Type: FrameError, Error: "invalid frame: " + err.Error()})
			continue
		}
		if err := h.dispatch(ctx, session, watch, frame); err != nil {
			watch.client.Send(OutFrame{Type: FrameError, Error: errorx.Message(err)})
		}
	}
}

func (h *SessionWebSocketHandler) dispatch(ctx context.Context, session *client.Session, watch *presenceWatch, frame InFrame) error {
	switch frame.Type {
	case FrameSelectChat:
		return session.Select(ctx, frame.ChatID)
	case FrameDeselectChat:
		session.Deselect(ctx)
	case FrameLoadOlder:
		return session.LoadOlder(ctx)
	case FrameKeystroke:
		return session.Keystroke(ctx, frame.ChatID)
	case FrameStopTyping:
		session.StopTyping(ctx)
	case FrameWatchPresence:
		allowed, denied, err := h.watchable(ctx, session.UID(), frame.UIDs)
		if err != nil {
			return err
		}
		watch.set(allowed)
		if len(denied) > 0 {
			return errorx.Forbidden("not a friend: " + strings.Join(denied, ","))
		}
	}
	return nil
}

// watchable splits uids into the ones uid may watch (itself and accepted friends) and the rest.
func (h *SessionWebSocketHandler) watchable(ctx context.Context, uid string, uids []string) (allowed, denied []string, err error) {
	for _, target := range uids {
		if target == uid {
			allowed = append(allowed, target)
			continue
		}
		ok, err := h.friends.AreFriends(ctx, uid, target)
		if err != nil {
			return nil, nil, errorx.Transient(err, "friendship lookup failed")
		}
		if ok {
			allowed = append(allowed, target)
		} else {
			denied = append(denied, target)
		}
	}
	return allowed, denied, nil
}

// presenceWatch forwards presence changes of a chosen set of users.
type presenceWatch struct {
	client *Client
	broker client.Subscriber

	mu   sync.Mutex
	sub  *events.Subscription
	done chan struct{}
}

func (w *presenceWatch) set(uids []string) {
	w.close()
	if len(uids) == 0 {
		return
	}
	filters := make([]events.Filter, 0, len(uids))
	for _, uid := range uids {
		filters = append(filters, events.ForPresence(uid))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	sub := w.broker.Subscribe(events.Any(filters...))
	done := make(chan struct{})
	w.sub, w.done = sub, done
	go func() {
		defer close(done)
		for ev := range sub.C {
			ev := ev
			w.client.Send(OutFrame{Type: FrameEvent, Event: &ev})
		}
	}()
}

func (w *presenceWatch) close() {
	w.mu.Lock()
	sub, done := w.sub, w.done
	w.sub, w.done = nil, nil
	w.mu.Unlock()
	if sub != nil {
		sub.Close()
		<-done
	}
}
