package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"hive-chat/internal/events"
	"hive-chat/internal/models"
)

// NotificationListener turns a user's pending notifications into alerts, at most once per
// notification for the lifetime of the listener.
type NotificationListener struct {
	uid      string
	repo     Notifications
	selected func() string
	alert    func(models.Notification)
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.Mutex
	shown map[string]struct{}

	sub  *events.Subscription
	done chan struct{}
}

// StartNotificationListener handles the notifications already pending for uid and then every
// new one pushed to it, until ctx ends or Close is called. selected reports the chat the user
// is looking at; notifications about it are acknowledged without an alert.
func StartNotificationListener(ctx context.Context, uid string, repo Notifications, broker Subscriber, selected func() string, alert func(models.Notification), logger *zap.Logger) *NotificationListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &NotificationListener{
		uid:      uid,
		repo:     repo,
		selected: selected,
		alert:    alert,
		now:      time.Now,
		logger:   logger,
		shown:    make(map[string]struct{}),
		sub:      broker.Subscribe(events.All(events.ForUser(uid), events.Kinds(events.KindNotificationCreated))),
		done:     make(chan struct{}),
	}

	pending, err := repo.Pending(ctx, uid)
	if err != nil {
		logger.Warn("load pending notifications failed", zap.String("uid", uid), zap.Error(err))
	}
	for _, n := range pending {
		l.Handle(ctx, n)
	}

	go func() {
		defer close(l.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-l.sub.C:
				if !ok {
					return
				}
				if ev.Notification != nil {
					l.Handle(ctx, *ev.Notification)
				}
			}
		}
	}()
	return l
}

// Handle processes one notification. It reports whether an alert was raised.
func (l *NotificationListener) Handle(ctx context.Context, n models.Notification) bool {
	if l.now().Sub(n.CreatedAt) > l.repo.Window() {
		return false
	}

	l.mu.Lock()
	if _, seen := l.shown[n.ID]; seen {
		l.mu.Unlock()
		return false
	}
	l.shown[n.ID] = struct{}{}
	l.mu.Unlock()

	alerted := false
	if n.ChatID == nil || *n.ChatID != l.selected() {
		if l.alert != nil {
			l.alert(n)
		}
		alerted = true
	}
	if err := l.repo.Acknowledge(ctx, n.ID, l.uid); err != nil {
		l.logger.Warn("acknowledge notification failed", zap.String("notification_id", n.ID), zap.Error(err))
	}
	return alerted
}

// Close stops listening and waits for the loop to exit.
func (l *NotificationListener) Close() {
	l.sub.Close()
	<-l.done
}
