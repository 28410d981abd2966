package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hive-chat/internal/events"
	"hive-chat/internal/models"
	"hive-chat/internal/observability"
	"hive-chat/internal/repositories"
)

const notificationRoutingKey = "notifications.created"

// NotificationDispatcher persists activity notifications and pushes them to recipients.
type NotificationDispatcher struct {
	repo      repositories.NotificationRepository
	publisher events.Publisher
	clock     Clock
	window    time.Duration
	logger    *zap.Logger
}

func NewNotificationDispatcher(repo repositories.NotificationRepository, publisher events.Publisher, clock Clock, window time.Duration, logger *zap.Logger) *NotificationDispatcher {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &NotificationDispatcher{
		repo:      repo,
		publisher: publisherOrNop(publisher),
		clock:     clock,
		window:    window,
		logger:    loggerOrNop(logger),
	}
}

// Window is how long a notification stays deliverable.
func (d *NotificationDispatcher) Window() time.Duration {
	return d.window
}

// Notify stores a notification for recipients other than actor. With nobody left to notify it
// does nothing and returns nil.
func (d *NotificationDispatcher) Notify(ctx context.Context, actor, text string, recipients []string, chatID *string) (*models.Notification, error) {
	seen := map[string]struct{}{actor: {}}
	var targets []string
	for _, uid := range recipients {
		if uid == "" {
			continue
		}
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		targets = append(targets, uid)
	}
	if len(targets) == 0 {
		return nil, nil
	}

	n, err := d.repo.CreateNotification(ctx, models.Notification{
		ID:           uuid.NewString(),
		Text:         text,
		Participants: targets,
		CreatedAt:    d.clock.Now(),
		ChatID:       chatID,
	})
	if err != nil {
		return nil, err
	}
	observability.IncNotification("created")

	d.publisher.Publish(events.ChangeEvent{
		Kind:         events.KindNotificationCreated,
		Recipients:   append([]string(nil), targets...),
		Notification: &n,
	})
	env := observability.NewEnvelope(ctx, "notification", "created", "", n)
	if err := observability.PublishEvent(ctx, notificationRoutingKey, env); err != nil {
		d.logger.Warn("notification mirror failed", zap.String("notification_id", n.ID), zap.Error(err))
	}
	return &n, nil
}

// Pending lists notifications uid has not handled yet that are still inside the window,
// oldest first.
func (d *NotificationDispatcher) Pending(ctx context.Context, uid string) ([]models.Notification, error) {
	list, err := d.repo.ListPending(ctx, uid, d.clock.Now().Add(-d.window))
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Notification{}
	}
	return list, nil
}

// Acknowledge removes uid from the notification's recipients. Repeating it is harmless.
func (d *NotificationDispatcher) Acknowledge(ctx context.Context, notificationID, uid string) error {
	if err := d.repo.RemoveParticipant(ctx, notificationID, uid); err != nil {
		return err
	}
	observability.IncNotification("acknowledged")
	return nil
}
