package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/events"
	"hive-chat/internal/models"
	"hive-chat/internal/observability"
	"hive-chat/internal/repositories"
)

const (
	// DefaultPageSize is the number of messages per history page.
	DefaultPageSize = 30

	maxPostAttempts = 5
)

// typingForgetter drops typing heartbeats when a user posts.
type typingForgetter interface {
	Forget(chatID, uid string)
}

// MessageLog appends messages and maintains read state.
type MessageLog struct {
	chats       repositories.ChatRepository
	messages    repositories.MessageRepository
	notifier    Notifier
	typing      typingForgetter
	publisher   events.Publisher
	clock       Clock
	pageSize    int
	maxPageSize int
	logger      *zap.Logger
}

func NewMessageLog(
	chats repositories.ChatRepository,
	messages repositories.MessageRepository,
	notifier Notifier,
	typing typingForgetter,
	publisher events.Publisher,
	clock Clock,
	pageSize, maxPageSize int,
	logger *zap.Logger,
) *MessageLog {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if maxPageSize < pageSize {
		maxPageSize = pageSize
	}
	return &MessageLog{
		chats:       chats,
		messages:    messages,
		notifier:    notifier,
		typing:      typing,
		publisher:   publisherOrNop(publisher),
		clock:       clock,
		pageSize:    pageSize,
		maxPageSize: maxPageSize,
		logger:      loggerOrNop(logger),
	}
}

// PageSize is the default page length.
func (l *MessageLog) PageSize() int {
	return l.pageSize
}

// PostMessage appends a text message. The message insert and the chat's last message, unread
// counts, draft ownership and typing set change together, conditional on the chat version read
// beforehand; a concurrent writer forces a re-read and retry.
func (l *MessageLog) PostMessage(ctx context.Context, chatID, senderID, text string) (msg models.Message, err error) {
	ctx, span := tracer.Start(ctx, "MessageLog.PostMessage")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.String("chat.id", chatID))

	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, errorx.Validation("message text is required")
	}

	for attempt := 1; attempt <= maxPostAttempts; attempt++ {
		chat, err := participantChat(ctx, l.chats, chatID, senderID)
		if err != nil {
			return models.Message{}, err
		}

		now := l.clock.Now()
		msg = models.Message{
			ID:        newMessageID(),
			ChatID:    chatID,
			SenderID:  senderID,
			Text:      text,
			Timestamp: now,
			Type:      models.MessageTypeText,
			SeenBy:    []string{senderID},
		}
		createdBy := chat.CreatedBy
		if chat.IsDraft() {
			createdBy = senderID
		}
		activity := models.ChatActivity{
			LastMessage:  models.LastMessage{Text: text, SenderID: senderID, Timestamp: now},
			UnreadCounts: NextUnreadCounts(chat.Participants, chat.UnreadCounts, senderID),
			CreatedBy:    createdBy,
			UpdatedAt:    now,
		}

		updated, err := l.chats.RecordMessage(ctx, msg, activity, chat.Version)
		if errors.Is(err, repositories.ErrVersionConflict) {
			observability.IncVersionConflict()
			l.logger.Debug("chat version moved, retrying post", zap.String("chat_id", chatID), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return models.Message{}, err
		}

		span.SetAttributes(attribute.String("message.id", msg.ID), attribute.Int("post.attempts", attempt))
		observability.IncMessagePosted(string(chat.Type))
		l.afterPost(ctx, chat, updated, msg)
		return msg, nil
	}
	return models.Message{}, errorx.Transient(repositories.ErrVersionConflict, "chat is busy, try again")
}

func newMessageID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func (l *MessageLog) afterPost(ctx context.Context, before, updated models.Chat, msg models.Message) {
	recipients := append([]string(nil), updated.Participants...)
	l.publisher.Publish(events.ChangeEvent{
		Kind:       events.KindMessageAppended,
		ChatID:     msg.ChatID,
		Recipients: recipients,
		Message:    &msg,
	})
	l.publisher.Publish(events.ChangeEvent{
		Kind:       events.KindChatUpdated,
		ChatID:     msg.ChatID,
		Recipients: recipients,
		Chat:       &updated,
	})
	if len(before.TypingUsers) != len(updated.TypingUsers) {
		l.publisher.Publish(events.ChangeEvent{
			Kind:        events.KindTypingChanged,
			ChatID:      msg.ChatID,
			Recipients:  recipients,
			TypingUsers: append([]string{}, updated.TypingUsers...),
		})
	}
	if l.typing != nil {
		l.typing.Forget(msg.ChatID, msg.SenderID)
	}

	if l.notifier == nil {
		return
	}
	chatID := msg.ChatID
	if _, err := l.notifier.Notify(ctx, msg.SenderID, messageNotificationText(updated, msg.SenderID), updated.Participants, &chatID); err != nil {
		l.logger.Warn("message notification failed", zap.String("chat_id", chatID), zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func messageNotificationText(chat models.Chat, sender string) string {
	name := chat.FriendlyNames[sender]
	if name == "" {
		name = someone
	}
	if chat.Type == models.ChatTypeGroup {
		return fmt.Sprintf("New message from %s in %s", name, DisplayFor(chat, sender).Name)
	}
	return "New message from " + name
}

// MarkSeen adds viewer to the seen set of every message in the chat. It returns how many
// messages changed.
func (l *MessageLog) MarkSeen(ctx context.Context, chatID, viewer string) (int, error) {
	chat, err := participantChat(ctx, l.chats, chatID, viewer)
	if err != nil {
		return 0, err
	}
	return l.markSeen(ctx, chat, viewer)
}

func (l *MessageLog) markSeen(ctx context.Context, chat models.Chat, viewer string) (int, error) {
	n, err := l.messages.MarkSeen(ctx, chat.ID, viewer)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.publisher.Publish(events.ChangeEvent{
			Kind:       events.KindMessagesSeen,
			ChatID:     chat.ID,
			Recipients: append([]string(nil), chat.Participants...),
			SeenBy:     viewer,
		})
	}
	return int(n), nil
}

// ResetUnread zeroes viewer's unread count.
func (l *MessageLog) ResetUnread(ctx context.Context, chatID, viewer string) error {
	chat, err := participantChat(ctx, l.chats, chatID, viewer)
	if err != nil {
		return err
	}
	return l.resetUnread(ctx, chat, viewer)
}

func (l *MessageLog) resetUnread(ctx context.Context, chat models.Chat, viewer string) error {
	if err := l.chats.ResetUnread(ctx, chat.ID, viewer); err != nil {
		return err
	}
	if chat.UnreadCounts[viewer] == 0 {
		return nil
	}
	updated, err := l.chats.GetChat(ctx, chat.ID)
	if err != nil {
		l.logger.Debug("reload after unread reset failed", zap.String("chat_id", chat.ID), zap.Error(err))
		return nil
	}
	l.publisher.Publish(events.ChangeEvent{
		Kind:       events.KindChatUpdated,
		ChatID:     chat.ID,
		Recipients: []string{viewer},
		Chat:       &updated,
	})
	return nil
}

// ViewChat records that viewer looked at the chat: every message is marked seen and the unread
// count reset. Only access errors are returned; storage failures are logged.
func (l *MessageLog) ViewChat(ctx context.Context, chatID, viewer string) error {
	chat, err := participantChat(ctx, l.chats, chatID, viewer)
	if err != nil {
		return err
	}
	if _, err := l.markSeen(ctx, chat, viewer); err != nil {
		l.logger.Warn("mark seen failed", zap.String("chat_id", chatID), zap.String("uid", viewer), zap.Error(err))
	}
	if err := l.resetUnread(ctx, chat, viewer); err != nil {
		l.logger.Warn("reset unread failed", zap.String("chat_id", chatID), zap.String("uid", viewer), zap.Error(err))
	}
	return nil
}

// Page returns up to limit messages strictly older than before, in ascending order. A nil
// cursor starts from the newest message.
func (l *MessageLog) Page(ctx context.Context, chatID, viewer string, before *models.Cursor, limit int) (models.MessagePage, error) {
	if _, err := participantChat(ctx, l.chats, chatID, viewer); err != nil {
		return models.MessagePage{}, err
	}
	if limit <= 0 {
		limit = l.pageSize
	}
	if limit > l.maxPageSize {
		limit = l.maxPageSize
	}

	newest, err := l.messages.ListMessages(ctx, chatID, before, limit)
	if err != nil {
		return models.MessagePage{}, err
	}
	out := make([]models.Message, len(newest))
	for i, m := range newest {
		out[len(newest)-1-i] = m
	}
	return models.MessagePage{Messages: out, HasMore: len(newest) == limit}, nil
}
