package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"hive-chat/internal/events"
	"hive-chat/internal/models"
	"hive-chat/internal/observability"
	"hive-chat/internal/repositories"
)

const someone = "Someone"

type typingKey struct {
	chatID string
	uid    string
}

// TypingTracker maintains the typing set of each chat. A user flagged as typing who sends no
// heartbeat for ttl is cleared by the sweeper, so a client that vanishes mid-keystroke does
// not leave a stale indicator.
type TypingTracker struct {
	chats     repositories.ChatRepository
	publisher events.Publisher
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu    sync.Mutex
	beats map[typingKey]time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTypingTracker(chats repositories.ChatRepository, publisher events.Publisher, ttl time.Duration, logger *zap.Logger) *TypingTracker {
	if ttl <= 0 {
		ttl = 6 * time.Second
	}
	return &TypingTracker{
		chats:     chats,
		publisher: publisherOrNop(publisher),
		ttl:       ttl,
		now:       time.Now,
		logger:    loggerOrNop(logger),
		beats:     make(map[typingKey]time.Time),
	}
}

// SetTyping adds uid to or removes it from the chat's typing set.
func (t *TypingTracker) SetTyping(ctx context.Context, chatID, uid string, typing bool) error {
	chat, err := participantChat(ctx, t.chats, chatID, uid)
	if err != nil {
		return err
	}

	key := typingKey{chatID: chatID, uid: uid}
	t.mu.Lock()
	if typing {
		t.beats[key] = t.now()
	} else {
		delete(t.beats, key)
	}
	t.mu.Unlock()

	users, err := t.chats.SetTyping(ctx, chatID, uid, typing)
	if err != nil {
		return err
	}
	t.publish(chat, users)
	return nil
}

// Forget drops the heartbeat of uid in chatID without touching the stored typing set.
func (t *TypingTracker) Forget(chatID, uid string) {
	t.mu.Lock()
	delete(t.beats, typingKey{chatID: chatID, uid: uid})
	t.mu.Unlock()
}

// ClearUser stops every typing indicator uid has on this instance.
func (t *TypingTracker) ClearUser(ctx context.Context, uid string) {
	t.mu.Lock()
	var keys []typingKey
	for k := range t.beats {
		if k.uid == uid {
			keys = append(keys, k)
			delete(t.beats, k)
		}
	}
	t.mu.Unlock()

	for _, k := range keys {
		t.clear(ctx, k)
	}
}

// Start runs the idle sweeper until Stop.
func (t *TypingTracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	interval := t.ttl / 2
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.Sweep(ctx)
			}
		}
	}()
}

func (t *TypingTracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// Sweep clears every typing entry whose last heartbeat is older than the ttl.
func (t *TypingTracker) Sweep(ctx context.Context) {
	cutoff := t.now().Add(-t.ttl)
	t.mu.Lock()
	var expired []typingKey
	for k, at := range t.beats {
		if at.Before(cutoff) {
			expired = append(expired, k)
			delete(t.beats, k)
		}
	}
	t.mu.Unlock()

	for _, k := range expired {
		observability.IncTypingExpired()
		t.clear(ctx, k)
	}
}

func (t *TypingTracker) clear(ctx context.Context, k typingKey) {
	users, err := t.chats.SetTyping(ctx, k.chatID, k.uid, false)
	if err != nil {
		t.logger.Warn("clear typing failed", zap.String("chat_id", k.chatID), zap.String("uid", k.uid), zap.Error(err))
		return
	}
	chat, err := t.chats.GetChat(ctx, k.chatID)
	if err != nil {
		t.logger.Debug("reload after typing clear failed", zap.String("chat_id", k.chatID), zap.Error(err))
		return
	}
	t.publish(chat, users)
}

func (t *TypingTracker) publish(chat models.Chat, users []string) {
	t.publisher.Publish(events.ChangeEvent{
		Kind:        events.KindTypingChanged,
		ChatID:      chat.ID,
		Recipients:  append([]string(nil), chat.Participants...),
		TypingUsers: append([]string{}, users...),
	})
}

// TypingText renders who is typing in chat, as seen by viewer. Names come from the chat's
// snapshots in typing order.
func TypingText(chat models.Chat, viewer string) string {
	return TypingTextFor(chat.TypingUsers, chat.FriendlyNames, viewer)
}

// TypingTextFor renders the typing line for an explicit typing set.
func TypingTextFor(typingUsers []string, names map[string]string, viewer string) string {
	var typists []string
	for _, uid := range typingUsers {
		if uid == viewer {
			continue
		}
		name := names[uid]
		if name == "" {
			name = someone
		}
		typists = append(typists, name)
	}

	switch n := len(typists); n {
	case 0:
		return ""
	case 1:
		return typists[0] + " is typing…"
	case 2:
		return typists[0] + " and " + typists[1] + " are typing…"
	default:
		rest := n - 2
		noun := "others"
		if rest == 1 {
			noun = "other"
		}
		return fmt.Sprintf("%s, %s, and %d %s are typing…", typists[0], typists[1], rest, noun)
	}
}
