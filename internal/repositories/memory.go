package repositories

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"hive-chat/internal/models"
)

// MemoryStore keeps every collection in process memory. It serves the "memory" storage backend
// and tests, and follows the same contracts as the sqlx repositories.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]models.Profile
	friendships   map[string]models.Friendship
	chats         map[string]models.Chat
	pairKeys      map[string]string
	messages      map[string][]models.Message
	notifications map[string]models.Notification
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]models.Profile),
		friendships:   make(map[string]models.Friendship),
		chats:         make(map[string]models.Chat),
		pairKeys:      make(map[string]string),
		messages:      make(map[string][]models.Message),
		notifications: make(map[string]models.Notification),
	}
}

var (
	_ ProfileRepository      = (*MemoryStore)(nil)
	_ FriendshipRepository   = (*MemoryStore)(nil)
	_ ChatRepository         = (*MemoryStore)(nil)
	_ MessageRepository      = (*MemoryStore)(nil)
	_ NotificationRepository = (*MemoryStore)(nil)
)

// UpsertProfile implements ProfileRepository.
func (s *MemoryStore) UpsertProfile(_ context.Context, profile models.Profile) (models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.profiles[profile.UID]; ok {
		profile.CreatedAt = existing.CreatedAt
	}
	s.profiles[profile.UID] = profile
	return profile, nil
}

// GetProfile implements ProfileRepository.
func (s *MemoryStore) GetProfile(_ context.Context, uid string) (models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[uid]
	if !ok {
		return models.Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// FindByDisplayName implements ProfileRepository.
func (s *MemoryStore) FindByDisplayName(_ context.Context, displayName string) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Profile
	for _, p := range s.profiles {
		if p.DisplayName == displayName {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UID < out[j].UID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SearchByPrefix implements ProfileRepository.
func (s *MemoryStore) SearchByPrefix(_ context.Context, prefix string, limit int) ([]models.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Profile
	for _, p := range s.profiles {
		if strings.HasPrefix(p.DisplayName, prefix) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UID < out[j].UID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CreateFriendship implements FriendshipRepository.
func (s *MemoryStore) CreateFriendship(_ context.Context, friendship models.Friendship) (models.Friendship, error) {
	pair := models.CanonicalPair(friendship.Participants[0], friendship.Participants[1])
	friendship.Participants = []string{pair[0], pair[1]}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.friendships[friendship.ID] = cloneFriendship(friendship)
	return cloneFriendship(friendship), nil
}

// GetFriendship implements FriendshipRepository.
func (s *MemoryStore) GetFriendship(_ context.Context, id string) (models.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.friendships[id]
	if !ok {
		return models.Friendship{}, ErrFriendshipNotFound
	}
	return cloneFriendship(f), nil
}

// FindByPair implements FriendshipRepository.
func (s *MemoryStore) FindByPair(_ context.Context, a, b string) (*models.Friendship, error) {
	pair := models.CanonicalPair(a, b)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *models.Friendship
	for _, f := range s.friendships {
		if f.Participants[0] != pair[0] || f.Participants[1] != pair[1] {
			continue
		}
		if found == nil || f.CreatedAt.Before(found.CreatedAt) {
			c := cloneFriendship(f)
			found = &c
		}
	}
	return found, nil
}

// UpdateFriendshipStatus implements FriendshipRepository.
func (s *MemoryStore) UpdateFriendshipStatus(_ context.Context, id string, from, to models.FriendshipStatus, at time.Time) (models.Friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.friendships[id]
	if !ok || f.Status != from {
		return models.Friendship{}, ErrStatusChanged
	}
	f.Status = to
	f.UpdatedAt = at
	s.friendships[id] = f
	return cloneFriendship(f), nil
}

// ListFriendships implements FriendshipRepository.
func (s *MemoryStore) ListFriendships(_ context.Context, uid string, status models.FriendshipStatus) ([]models.Friendship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Friendship
	for _, f := range s.friendships {
		if f.Status == status && f.HasParticipant(uid) {
			out = append(out, cloneFriendship(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CreateChat implements ChatRepository.
func (s *MemoryStore) CreateChat(_ context.Context, chat models.Chat) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if chat.Type == models.ChatTypePrivate && len(chat.Participants) == 2 {
		key := models.PairKey(chat.Participants[0], chat.Participants[1])
		if _, exists := s.pairKeys[key]; exists {
			return models.Chat{}, ErrDuplicateChat
		}
		s.pairKeys[key] = chat.ID
	}
	chat = chat.Clone()
	chat.LastMessage = nil
	chat.TypingUsers = []string{}
	chat.Version = 0
	s.chats[chat.ID] = chat
	return chat.Clone(), nil
}

// GetChat implements ChatRepository.
func (s *MemoryStore) GetChat(_ context.Context, chatID string) (models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	return chat.Clone(), nil
}

// ListChats implements ChatRepository.
func (s *MemoryStore) ListChats(_ context.Context, uid string) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Chat
	for _, chat := range s.chats {
		if chat.HasParticipant(uid) {
			out = append(out, chat.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// ListPrivateChats implements ChatRepository.
func (s *MemoryStore) ListPrivateChats(_ context.Context, uid string) ([]models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Chat
	for _, chat := range s.chats {
		if chat.Type == models.ChatTypePrivate && chat.HasParticipant(uid) {
			out = append(out, chat.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// ClaimDraft implements ChatRepository.
func (s *MemoryStore) ClaimDraft(_ context.Context, chatID string, uid string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.LastMessage != nil || chat.CreatedBy == uid {
		return false, nil
	}
	chat.CreatedBy = uid
	chat.UpdatedAt = at
	chat.Version++
	s.chats[chatID] = chat
	return true, nil
}

// RecordMessage implements ChatRepository.
func (s *MemoryStore) RecordMessage(_ context.Context, msg models.Message, activity models.ChatActivity, expectedVersion int64) (models.Chat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[msg.ChatID]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	if chat.Version != expectedVersion {
		return models.Chat{}, ErrVersionConflict
	}

	msg.SeenBy = append([]string(nil), msg.SeenBy...)
	list := s.messages[msg.ChatID]
	idx := sort.Search(len(list), func(i int) bool { return models.MessageLess(msg, list[i]) })
	list = append(list, models.Message{})
	copy(list[idx+1:], list[idx:])
	list[idx] = msg
	s.messages[msg.ChatID] = list

	lm := activity.LastMessage
	chat.LastMessage = &lm
	chat.UpdatedAt = activity.UpdatedAt
	chat.UnreadCounts = make(map[string]int, len(activity.UnreadCounts))
	for k, v := range activity.UnreadCounts {
		chat.UnreadCounts[k] = v
	}
	chat.CreatedBy = activity.CreatedBy
	chat.TypingUsers = removeString(chat.TypingUsers, msg.SenderID)
	chat.Version++
	s.chats[msg.ChatID] = chat
	return chat.Clone(), nil
}

// ResetUnread implements ChatRepository.
func (s *MemoryStore) ResetUnread(_ context.Context, chatID string, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok || chat.UnreadCounts[uid] == 0 {
		return nil
	}
	chat.UnreadCounts[uid] = 0
	chat.Version++
	s.chats[chatID] = chat
	return nil
}

// SetTyping implements ChatRepository.
func (s *MemoryStore) SetTyping(_ context.Context, chatID string, uid string, typing bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, ErrChatNotFound
	}
	if typing {
		if !containsString(chat.TypingUsers, uid) {
			chat.TypingUsers = append(chat.TypingUsers, uid)
		}
	} else {
		chat.TypingUsers = removeString(chat.TypingUsers, uid)
	}
	s.chats[chatID] = chat
	return append([]string{}, chat.TypingUsers...), nil
}

// ListMessages implements MessageRepository.
func (s *MemoryStore) ListMessages(_ context.Context, chatID string, before *models.Cursor, limit int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.messages[chatID]
	out := make([]models.Message, 0, limit)
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		if before != nil && !before.Older(list[i]) {
			continue
		}
		m := list[i]
		m.SeenBy = append([]string(nil), m.SeenBy...)
		out = append(out, m)
	}
	return out, nil
}

// MarkSeen implements MessageRepository.
func (s *MemoryStore) MarkSeen(_ context.Context, chatID string, uid string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	list := s.messages[chatID]
	for i := range list {
		if !containsString(list[i].SeenBy, uid) {
			list[i].SeenBy = append(list[i].SeenBy, uid)
			count++
		}
	}
	return count, nil
}

// CreateNotification implements NotificationRepository.
func (s *MemoryStore) CreateNotification(_ context.Context, n models.Notification) (models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n = cloneNotification(n)
	s.notifications[n.ID] = n
	return cloneNotification(n), nil
}

// ListPending implements NotificationRepository.
func (s *MemoryStore) ListPending(_ context.Context, uid string, since time.Time) ([]models.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Notification
	for _, n := range s.notifications {
		if containsString(n.Participants, uid) && !n.CreatedAt.Before(since) {
			out = append(out, cloneNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// RemoveParticipant implements NotificationRepository.
func (s *MemoryStore) RemoveParticipant(_ context.Context, notificationID string, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[notificationID]
	if !ok {
		return ErrNotificationNotFound
	}
	n.Participants = removeString(n.Participants, uid)
	s.notifications[notificationID] = n
	return nil
}

func cloneFriendship(f models.Friendship) models.Friendship {
	out := f
	out.Participants = append([]string(nil), f.Participants...)
	out.FriendlyNames = make(map[string]string, len(f.FriendlyNames))
	for k, v := range f.FriendlyNames {
		out.FriendlyNames[k] = v
	}
	out.PhotoURLs = make(map[string]string, len(f.PhotoURLs))
	for k, v := range f.PhotoURLs {
		out.PhotoURLs[k] = v
	}
	return out
}

func cloneNotification(n models.Notification) models.Notification {
	out := n
	out.Participants = append([]string{}, n.Participants...)
	if n.ChatID != nil {
		chatID := *n.ChatID
		out.ChatID = &chatID
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
