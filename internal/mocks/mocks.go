package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"hive-chat/internal/models"
)

type FriendServiceMock struct {
	mock.Mock
}

func (m *FriendServiceMock) SendRequest(ctx context.Context, requester models.Profile, targetDisplayName string) (models.Friendship, error) {
	args := m.Called(ctx, requester, targetDisplayName)
	var f models.Friendship
	if val := args.Get(0); val != nil {
		f = val.(models.Friendship)
	}
	return f, args.Error(1)
}

func (m *FriendServiceMock) Respond(ctx context.Context, friendshipID, responderUID string, decision models.FriendshipStatus) (models.Friendship, error) {
	args := m.Called(ctx, friendshipID, responderUID, decision)
	var f models.Friendship
	if val := args.Get(0); val != nil {
		f = val.(models.Friendship)
	}
	return f, args.Error(1)
}

func (m *FriendServiceMock) Friends(ctx context.Context, uid string) ([]models.Friend, error) {
	args := m.Called(ctx, uid)
	var list []models.Friend
	if val := args.Get(0); val != nil {
		list = val.([]models.Friend)
	}
	return list, args.Error(1)
}

func (m *FriendServiceMock) Invitations(ctx context.Context, uid string) (models.Invitations, error) {
	args := m.Called(ctx, uid)
	var inv models.Invitations
	if val := args.Get(0); val != nil {
		inv = val.(models.Invitations)
	}
	return inv, args.Error(1)
}

func (m *FriendServiceMock) SearchProfiles(ctx context.Context, prefix string, limit int) ([]models.Profile, error) {
	args := m.Called(ctx, prefix, limit)
	var list []models.Profile
	if val := args.Get(0); val != nil {
		list = val.([]models.Profile)
	}
	return list, args.Error(1)
}

func (m *FriendServiceMock) UpsertProfile(ctx context.Context, profile models.Profile) (models.Profile, error) {
	args := m.Called(ctx, profile)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

func (m *FriendServiceMock) Profile(ctx context.Context, uid string) (models.Profile, error) {
	args := m.Called(ctx, uid)
	var p models.Profile
	if val := args.Get(0); val != nil {
		p = val.(models.Profile)
	}
	return p, args.Error(1)
}

func (m *FriendServiceMock) AreFriends(ctx context.Context, a, b string) (bool, error) {
	args := m.Called(ctx, a, b)
	return args.Bool(0), args.Error(1)
}

type ChatServiceMock struct {
	mock.Mock
}

func (m *ChatServiceMock) StartPrivateChat(ctx context.Context, self, friend models.Profile) (string, error) {
	args := m.Called(ctx, self, friend)
	return args.String(0), args.Error(1)
}

func (m *ChatServiceMock) StartGroupChat(ctx context.Context, self models.Profile, groupName string, members []models.Friend) (string, error) {
	args := m.Called(ctx, self, groupName, members)
	return args.String(0), args.Error(1)
}

func (m *ChatServiceMock) Summaries(ctx context.Context, uid string) ([]models.ChatSummary, error) {
	args := m.Called(ctx, uid)
	var list []models.ChatSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ChatSummary)
	}
	return list, args.Error(1)
}

func (m *ChatServiceMock) GetChat(ctx context.Context, chatID, viewer string) (models.Chat, error) {
	args := m.Called(ctx, chatID, viewer)
	var chat models.Chat
	if val := args.Get(0); val != nil {
		chat = val.(models.Chat)
	}
	return chat, args.Error(1)
}

func (m *ChatServiceMock) TotalUnread(ctx context.Context, uid string) (int, error) {
	args := m.Called(ctx, uid)
	return args.Int(0), args.Error(1)
}

type MessageServiceMock struct {
	mock.Mock
}

func (m *MessageServiceMock) PostMessage(ctx context.Context, chatID, senderID, text string) (models.Message, error) {
	args := m.Called(ctx, chatID, senderID, text)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageServiceMock) Page(ctx context.Context, chatID, viewer string, before *models.Cursor, limit int) (models.MessagePage, error) {
	args := m.Called(ctx, chatID, viewer, before, limit)
	var page models.MessagePage
	if val := args.Get(0); val != nil {
		page = val.(models.MessagePage)
	}
	return page, args.Error(1)
}

func (m *MessageServiceMock) MarkSeen(ctx context.Context, chatID, viewer string) (int, error) {
	args := m.Called(ctx, chatID, viewer)
	return args.Int(0), args.Error(1)
}

func (m *MessageServiceMock) ViewChat(ctx context.Context, chatID, viewer string) error {
	args := m.Called(ctx, chatID, viewer)
	return args.Error(0)
}

func (m *MessageServiceMock) ResetUnread(ctx context.Context, chatID, viewer string) error {
	args := m.Called(ctx, chatID, viewer)
	return args.Error(0)
}

type TypingServiceMock struct {
	mock.Mock
}

func (m *TypingServiceMock) SetTyping(ctx context.Context, chatID, uid string, typing bool) error {
	args := m.Called(ctx, chatID, uid, typing)
	return args.Error(0)
}

func (m *TypingServiceMock) ClearUser(ctx context.Context, uid string) {
	m.Called(ctx, uid)
}

type NotificationServiceMock struct {
	mock.Mock
}

func (m *NotificationServiceMock) Pending(ctx context.Context, uid string) ([]models.Notification, error) {
	args := m.Called(ctx, uid)
	var list []models.Notification
	if val := args.Get(0); val != nil {
		list = val.([]models.Notification)
	}
	return list, args.Error(1)
}

func (m *NotificationServiceMock) Acknowledge(ctx context.Context, notificationID, uid string) error {
	args := m.Called(ctx, notificationID, uid)
	return args.Error(0)
}

type PresenceServiceMock struct {
	mock.Mock
}

func (m *PresenceServiceMock) Status(ctx context.Context, uid string) (models.PresenceStatus, error) {
	args := m.Called(ctx, uid)
	var st models.PresenceStatus
	if val := args.Get(0); val != nil {
		st = val.(models.PresenceStatus)
	}
	return st, args.Error(1)
}

func (m *PresenceServiceMock) Logout(ctx context.Context, uid string) error {
	args := m.Called(ctx, uid)
	return args.Error(0)
}
