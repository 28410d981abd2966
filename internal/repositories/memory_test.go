package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hive-chat/internal/models"
)

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newPrivateChat(id, a, b string) models.Chat {
	return models.Chat{
		ID:           id,
		Type:         models.ChatTypePrivate,
		Participants: []string{a, b},
		CreatedBy:    a,
		CreatedAt:    baseTime,
		UpdatedAt:    baseTime,
		UnreadCounts: map[string]int{a: 0, b: 0},
	}
}

func TestMemoryCreateChatRejectsDuplicatePair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.CreateChat(ctx, newPrivateChat("c1", "u1", "u2"))
	require.NoError(t, err)

	_, err = store.CreateChat(ctx, newPrivateChat("c2", "u2", "u1"))
	require.ErrorIs(t, err, ErrDuplicateChat)

	group := models.Chat{ID: "g1", Type: models.ChatTypeGroup, Participants: []string{"u1", "u2"}, CreatedAt: baseTime, UpdatedAt: baseTime}
	_, err = store.CreateChat(ctx, group)
	require.NoError(t, err)
	group.ID = "g2"
	_, err = store.CreateChat(ctx, group)
	require.NoError(t, err)
}

func TestMemoryRecordMessageVersionCheck(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.CreateChat(ctx, newPrivateChat("c1", "u1", "u2"))
	require.NoError(t, err)
	_, err = store.SetTyping(ctx, "c1", "u2", true)
	require.NoError(t, err)

	msg := models.Message{ID: "m1", ChatID: "c1", SenderID: "u2", Text: "hi", Timestamp: baseTime.Add(time.Second), Type: models.MessageTypeText, SeenBy: []string{"u2"}}
	activity := models.ChatActivity{
		LastMessage:  models.LastMessage{Text: "hi", SenderID: "u2", Timestamp: msg.Timestamp},
		UnreadCounts: map[string]int{"u1": 1, "u2": 0},
		CreatedBy:    "u2",
		UpdatedAt:    msg.Timestamp,
	}

	_, err = store.RecordMessage(ctx, msg, activity, 5)
	require.ErrorIs(t, err, ErrVersionConflict)

	chat, err := store.RecordMessage(ctx, msg, activity, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), chat.Version)
	assert.Equal(t, "u2", chat.CreatedBy)
	assert.Empty(t, chat.TypingUsers)
	require.NotNil(t, chat.LastMessage)
	assert.Equal(t, "hi", chat.LastMessage.Text)

	msgs, err := store.ListMessages(ctx, "c1", nil, 30)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestMemoryListMessagesCursor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.CreateChat(ctx, newPrivateChat("c1", "u1", "u2"))
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		chat, err := store.GetChat(ctx, "c1")
		require.NoError(t, err)
		ts := baseTime.Add(time.Duration(i) * time.Second)
		msg := models.Message{ID: fmt.Sprintf("m%d", i), ChatID: "c1", SenderID: "u1", Text: "x", Timestamp: ts, SeenBy: []string{"u1"}}
		_, err = store.RecordMessage(ctx, msg, models.ChatActivity{LastMessage: models.LastMessage{Timestamp: ts}, CreatedBy: "u1", UpdatedAt: ts}, chat.Version)
		require.NoError(t, err)
	}

	newest, err := store.ListMessages(ctx, "c1", nil, 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "m4", newest[0].ID)
	assert.Equal(t, "m3", newest[1].ID)

	cursor := models.CursorOf(newest[1])
	older, err := store.ListMessages(ctx, "c1", &cursor, 10)
	require.NoError(t, err)
	require.Len(t, older, 3)
	assert.Equal(t, "m2", older[0].ID)
	assert.Equal(t, "m0", older[2].ID)
}

func TestMemoryMarkSeenIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.CreateChat(ctx, newPrivateChat("c1", "u1", "u2"))
	require.NoError(t, err)
	msg := models.Message{ID: "m1", ChatID: "c1", SenderID: "u1", Timestamp: baseTime, SeenBy: []string{"u1"}}
	_, err = store.RecordMessage(ctx, msg, models.ChatActivity{CreatedBy: "u1", UpdatedAt: baseTime}, 0)
	require.NoError(t, err)

	n, err := store.MarkSeen(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = store.MarkSeen(ctx, "c1", "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	msgs, err := store.ListMessages(ctx, "c1", nil, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, msgs[0].SeenBy)
}

func TestMemoryListChatsOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	older := newPrivateChat("b", "u1", "u2")
	tieA := newPrivateChat("z", "u1", "u3")
	tieA.UpdatedAt = baseTime.Add(time.Minute)
	tieB := newPrivateChat("a", "u1", "u4")
	tieB.UpdatedAt = baseTime.Add(time.Minute)
	for _, c := range []models.Chat{older, tieA, tieB} {
		_, err := store.CreateChat(ctx, c)
		require.NoError(t, err)
	}

	chats, err := store.ListChats(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, chats, 3)
	assert.Equal(t, []string{"a", "z", "b"}, []string{chats[0].ID, chats[1].ID, chats[2].ID})
}

func TestMemoryResetUnreadBumpsVersionOnlyWhenNeeded(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	chat := newPrivateChat("c1", "u1", "u2")
	chat.UnreadCounts["u1"] = 3
	_, err := store.CreateChat(ctx, chat)
	require.NoError(t, err)

	require.NoError(t, store.ResetUnread(ctx, "c1", "u1"))
	got, err := store.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.UnreadCounts["u1"])
	assert.Equal(t, int64(1), got.Version)

	require.NoError(t, store.ResetUnread(ctx, "c1", "u1"))
	got, err = store.GetChat(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryFriendshipLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	f, err := store.CreateFriendship(ctx, models.Friendship{ID: "f1", Participants: []string{"u2", "u1"}, Status: models.FriendshipPending, InitiatedBy: "u2", CreatedAt: baseTime})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, f.Participants)

	found, err := store.FindByPair(ctx, "u1", "u2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "f1", found.ID)

	_, err = store.UpdateFriendshipStatus(ctx, "f1", models.FriendshipPending, models.FriendshipAccepted, baseTime)
	require.NoError(t, err)
	_, err = store.UpdateFriendshipStatus(ctx, "f1", models.FriendshipPending, models.FriendshipDeclined, baseTime)
	require.ErrorIs(t, err, ErrStatusChanged)

	accepted, err := store.ListFriendships(ctx, "u2", models.FriendshipAccepted)
	require.NoError(t, err)
	assert.Len(t, accepted, 1)
}

func TestMemoryNotifications(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	chatID := "c1"
	_, err := store.CreateNotification(ctx, models.Notification{ID: "n1", Text: "hi", Participants: []string{"u2", "u3"}, CreatedAt: baseTime, ChatID: &chatID})
	require.NoError(t, err)
	_, err = store.CreateNotification(ctx, models.Notification{ID: "n0", Text: "old", Participants: []string{"u2"}, CreatedAt: baseTime.Add(-10 * time.Minute)})
	require.NoError(t, err)

	pending, err := store.ListPending(ctx, "u2", baseTime.Add(-5*time.Minute))
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "n1", pending[0].ID)

	require.NoError(t, store.RemoveParticipant(ctx, "n1", "u2"))
	require.NoError(t, store.RemoveParticipant(ctx, "n1", "u2"))
	pending, err = store.ListPending(ctx, "u2", baseTime.Add(-5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.ErrorIs(t, store.RemoveParticipant(ctx, "missing", "u2"), ErrNotificationNotFound)
}

func TestMemoryProfileLookup(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.UpsertProfile(ctx, models.Profile{UID: "u2", DisplayName: "Bob", CreatedAt: baseTime})
	_, _ = store.UpsertProfile(ctx, models.Profile{UID: "u3", DisplayName: "Bobby", CreatedAt: baseTime.Add(time.Hour)})
	_, _ = store.UpsertProfile(ctx, models.Profile{UID: "u4", DisplayName: "Bob", CreatedAt: baseTime.Add(time.Minute)})

	exact, err := store.FindByDisplayName(ctx, "Bob")
	require.NoError(t, err)
	require.Len(t, exact, 2)
	assert.Equal(t, "u2", exact[0].UID)

	prefix, err := store.SearchByPrefix(ctx, "Bo", 2)
	require.NoError(t, err)
	require.Len(t, prefix, 2)
	assert.Equal(t, "u3", prefix[0].UID)

	updated, err := store.UpsertProfile(ctx, models.Profile{UID: "u2", DisplayName: "Robert", CreatedAt: baseTime.Add(48 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, baseTime, updated.CreatedAt)
}
