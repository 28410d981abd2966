package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/events"
	"hive-chat/internal/models"
	"hive-chat/internal/repositories"
)

const (
	unnamedGroup   = "Unnamed Group"
	unknownContact = "Unknown"
)

// ChatDirectory creates and lists chats.
type ChatDirectory struct {
	chats     repositories.ChatRepository
	publisher events.Publisher
	clock     Clock
	logger    *zap.Logger
}

func NewChatDirectory(chats repositories.ChatRepository, publisher events.Publisher, clock Clock, logger *zap.Logger) *ChatDirectory {
	return &ChatDirectory{
		chats:     chats,
		publisher: publisherOrNop(publisher),
		clock:     clock,
		logger:    loggerOrNop(logger),
	}
}

// StartPrivateChat returns the private chat between self and friend, creating it when missing.
// A draft started by friend is handed over to self.
func (d *ChatDirectory) StartPrivateChat(ctx context.Context, self, friend models.Profile) (chatID string, err error) {
	ctx, span := tracer.Start(ctx, "ChatDirectory.StartPrivateChat")
	defer func() { finishSpan(span, err) }()

	if self.UID == "" || friend.UID == "" {
		return "", errorx.Validation("both participants are required")
	}
	if self.UID == friend.UID {
		return "", errorx.Validation("cannot start a chat with yourself")
	}

	existing, err := d.findPrivate(ctx, self.UID, friend.UID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		span.SetAttributes(attribute.String("chat.id", existing.ID), attribute.Bool("chat.existing", true))
		d.claimDraft(ctx, *existing, self.UID)
		return existing.ID, nil
	}

	now := d.clock.Now()
	chat := models.Chat{
		ID:           uuid.NewString(),
		Type:         models.ChatTypePrivate,
		Participants: []string{self.UID, friend.UID},
		FriendlyNames: map[string]string{
			self.UID:   self.DisplayName,
			friend.UID: friend.DisplayName,
		},
		PhotoURLs: map[string]string{
			self.UID:   self.PhotoURL,
			friend.UID: friend.PhotoURL,
		},
		CreatedBy:    self.UID,
		CreatedAt:    now,
		UpdatedAt:    now,
		UnreadCounts: map[string]int{self.UID: 0, friend.UID: 0},
		TypingUsers:  []string{},
	}

	created, err := d.chats.CreateChat(ctx, chat)
	if errors.Is(err, repositories.ErrDuplicateChat) {
		// lost the race against the other participant; converge on their chat
		existing, err = d.findPrivate(ctx, self.UID, friend.UID)
		if err != nil {
			return "", err
		}
		if existing == nil {
			return "", errorx.Transient(repositories.ErrDuplicateChat, "private chat is being created, try again")
		}
		return existing.ID, nil
	}
	if err != nil {
		return "", err
	}

	span.SetAttributes(attribute.String("chat.id", created.ID), attribute.Bool("chat.existing", false))
	d.publishChat(events.KindChatCreated, created)
	return created.ID, nil
}

func (d *ChatDirectory) findPrivate(ctx context.Context, a, b string) (*models.Chat, error) {
	list, err := d.chats.ListPrivateChats(ctx, a)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].IsPrivatePair(a, b) {
			return &list[i], nil
		}
	}
	return nil, nil
}

func (d *ChatDirectory) claimDraft(ctx context.Context, chat models.Chat, uid string) {
	if !chat.IsDraft() || chat.CreatedBy == uid {
		return
	}
	claimed, err := d.chats.ClaimDraft(ctx, chat.ID, uid, d.clock.Now())
	if err != nil {
		d.logger.Warn("draft handoff failed", zap.String("chat_id", chat.ID), zap.Error(err))
		return
	}
	if !claimed {
		return
	}
	updated, err := d.chats.GetChat(ctx, chat.ID)
	if err != nil {
		d.logger.Debug("reload after draft handoff failed", zap.String("chat_id", chat.ID), zap.Error(err))
		return
	}
	d.publishChat(events.KindChatUpdated, updated)
}

// StartGroupChat creates a group of self and members. Groups are never deduplicated.
func (d *ChatDirectory) StartGroupChat(ctx context.Context, self models.Profile, groupName string, members []models.Friend) (chatID string, err error) {
	ctx, span := tracer.Start(ctx, "ChatDirectory.StartGroupChat")
	defer func() { finishSpan(span, err) }()

	name := strings.TrimSpace(groupName)
	if name == "" {
		return "", errorx.Validation("group name is required")
	}
	if self.UID == "" {
		return "", errorx.Validation("creator is required")
	}

	participants := []string{self.UID}
	names := map[string]string{self.UID: self.DisplayName}
	photos := map[string]string{self.UID: self.PhotoURL}
	for _, m := range members {
		if m.UID == "" {
			continue
		}
		if _, dup := names[m.UID]; dup {
			continue
		}
		participants = append(participants, m.UID)
		names[m.UID] = m.DisplayName
		photos[m.UID] = m.PhotoURL
	}

	unread := make(map[string]int, len(participants))
	for _, uid := range participants {
		unread[uid] = 0
	}

	now := d.clock.Now()
	created, err := d.chats.CreateChat(ctx, models.Chat{
		ID:            uuid.NewString(),
		Type:          models.ChatTypeGroup,
		Participants:  participants,
		FriendlyNames: names,
		PhotoURLs:     photos,
		Name:          name,
		CreatedBy:     self.UID,
		CreatedAt:     now,
		UpdatedAt:     now,
		UnreadCounts:  unread,
		TypingUsers:   []string{},
	})
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.String("chat.id", created.ID), attribute.Int("chat.participants", len(participants)))
	d.publishChat(events.KindChatCreated, created)
	return created.ID, nil
}

// ListChats returns uid's chats, most recently active first.
func (d *ChatDirectory) ListChats(ctx context.Context, uid string) ([]models.Chat, error) {
	list, err := d.chats.ListChats(ctx, uid)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.Chat{}
	}
	return list, nil
}

// GetChat returns the chat if viewer participates in it.
func (d *ChatDirectory) GetChat(ctx context.Context, chatID, viewer string) (models.Chat, error) {
	return participantChat(ctx, d.chats, chatID, viewer)
}

// Display resolves the name and photo of chat for viewer.
func (d *ChatDirectory) Display(chat models.Chat, viewer string) models.ChatDisplay {
	return DisplayFor(chat, viewer)
}

// DisplayFor resolves the name and photo of chat for viewer from the creation snapshots.
func DisplayFor(chat models.Chat, viewer string) models.ChatDisplay {
	if chat.Type == models.ChatTypeGroup {
		name := chat.Name
		if name == "" {
			name = unnamedGroup
		}
		return models.ChatDisplay{Name: name, PhotoURL: chat.AvatarURL}
	}
	other := chat.OtherParticipant(viewer)
	name := chat.FriendlyNames[other]
	if name == "" {
		name = unknownContact
	}
	return models.ChatDisplay{Name: name, PhotoURL: chat.PhotoURLs[other]}
}

// Summaries builds the chat list of uid with display data, unread counts and typing text.
func (d *ChatDirectory) Summaries(ctx context.Context, uid string) ([]models.ChatSummary, error) {
	list, err := d.ListChats(ctx, uid)
	if err != nil {
		return nil, err
	}
	out := make([]models.ChatSummary, 0, len(list))
	for _, c := range list {
		out = append(out, models.ChatSummary{
			Chat:       c,
			Display:    DisplayFor(c, uid),
			Unread:     UnreadFor(c, uid),
			TypingText: TypingText(c, uid),
		})
	}
	return out, nil
}

// TotalUnread sums uid's unread messages over all chats.
func (d *ChatDirectory) TotalUnread(ctx context.Context, uid string) (int, error) {
	list, err := d.chats.ListChats(ctx, uid)
	if err != nil {
		return 0, err
	}
	return TotalUnread(list, uid), nil
}

func (d *ChatDirectory) publishChat(kind events.Kind, chat models.Chat) {
	d.publisher.Publish(events.ChangeEvent{
		Kind:       kind,
		ChatID:     chat.ID,
		Recipients: append([]string(nil), chat.Participants...),
		Chat:       &chat,
	})
}
