package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"hive-chat/internal/client"
	"hive-chat/internal/events"
	"hive-chat/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxFrameSize   = 4096
	sendBufferSize = 64
)

// Outbound frame types.
const (
	FrameWindow = "window"
	FrameAlert  = "alert"
	FrameEvent  = "event"
	FrameError  = "error"
)

// OutFrame is a server to client message.
type OutFrame struct {
	Type         string               `json:"type"`
	Window       *client.WindowState  `json:"window,omitempty"`
	Notification *models.Notification `json:"notification,omitempty"`
	Event        *events.ChangeEvent  `json:"event,omitempty"`
	Error        string               `json:"error,omitempty"`
}

// Client owns the write side of one websocket connection. gorilla connections allow a single
// concurrent writer, so every frame goes through the send queue.
type Client struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

func newClient(conn *websocket.Conn, logger *zap.Logger) *Client {
	return &Client{
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Send queues a frame. A client that cannot keep up is disconnected rather than blocking the
// session that feeds it.
func (c *Client) Send(frame OutFrame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		c.logger.Error("marshal ws frame failed", zap.String("type", frame.Type), zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.logger.Warn("ws send buffer full, closing", zap.String("type", frame.Type))
		c.Close()
	}
}

// Close stops the writer, which then closes the connection.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("ws write failed", zap.Error(err))
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		}
	}
}

// observer adapts session callbacks to frames.
type observer struct {
	client *Client
}

func (o observer) OnWindow(state client.WindowState) {
	o.client.Send(OutFrame{Type: FrameWindow, Window: &state})
}

func (o observer) OnAlert(n models.Notification) {
	o.client.Send(OutFrame{Type: FrameAlert, Notification: &n})
}

func (o observer) OnEvent(ev events.ChangeEvent) {
	o.client.Send(OutFrame{Type: FrameEvent, Event: &ev})
}
