// Package client holds the per-connection view state of a chat client: the selected chat's
// message window, incoming notification alerts and the typing debounce.
package client

import (
	"context"
	"time"

	"hive-chat/internal/events"
	"hive-chat/internal/models"
)

// Messages is the part of the message log a client reads through.
type Messages interface {
	Page(ctx context.Context, chatID, viewer string, before *models.Cursor, limit int) (models.MessagePage, error)
	ViewChat(ctx context.Context, chatID, viewer string) error
	PageSize() int
}

// Typing flags a user as typing in a chat.
type Typing interface {
	SetTyping(ctx context.Context, chatID, uid string, typing bool) error
}

// Notifications is the pending queue of a user.
type Notifications interface {
	Pending(ctx context.Context, uid string) ([]models.Notification, error)
	Acknowledge(ctx context.Context, notificationID, uid string) error
	Window() time.Duration
}

// Subscriber opens filtered event subscriptions.
type Subscriber interface {
	Subscribe(filter events.Filter) *events.Subscription
}

// Observer receives everything a session wants shown to the user. Calls may come from
// several goroutines.
type Observer interface {
	OnWindow(state WindowState)
	OnAlert(n models.Notification)
	OnEvent(ev events.ChangeEvent)
}
