// Package services holds the chat domain: the friendship ledger, chat directory, message log,
// typing and unread tracking and notification dispatch. Every service is safe for concurrent use.
package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/events"
	"hive-chat/internal/models"
)

var tracer = otel.Tracer("hive-chat/services")

// Notifier dispatches activity notifications.
type Notifier interface {
	Notify(ctx context.Context, actor, text string, recipients []string, chatID *string) (*models.Notification, error)
}

type nopPublisher struct{}

func (nopPublisher) Publish(events.ChangeEvent) {}

func publisherOrNop(p events.Publisher) events.Publisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}

func loggerOrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errorx.KindOf(err).String())
	}
	span.End()
}

func participantChat(ctx context.Context, chats interface {
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
}, chatID, uid string) (models.Chat, error) {
	if chatID == "" {
		return models.Chat{}, errorx.Validation("chat id is required")
	}
	chat, err := chats.GetChat(ctx, chatID)
	if err != nil {
		return models.Chat{}, err
	}
	if !chat.HasParticipant(uid) {
		return models.Chat{}, errorx.Forbidden("not a participant of this chat")
	}
	return chat, nil
}
