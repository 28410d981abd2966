package events

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"hive-chat/internal/models"
	"hive-chat/internal/observability"
)

// Kind names a change observed by subscribers.
type Kind string

const (
	KindChatCreated         Kind = "chat.created"
	KindChatUpdated         Kind = "chat.updated"
	KindMessageAppended     Kind = "message.appended"
	KindMessagesSeen        Kind = "messages.seen"
	KindTypingChanged       Kind = "typing.changed"
	KindPresenceChanged     Kind = "presence.changed"
	KindNotificationCreated Kind = "notification.created"
	KindFriendshipChanged   Kind = "friendship.changed"
)

// ChangeEvent is the unit pushed to subscribers. Recipients lists the users the event is
// addressed to; the payload fields are set according to Kind.
type ChangeEvent struct {
	Kind         Kind                   `json:"kind"`
	ChatID       string                 `json:"chat_id,omitempty"`
	Recipients   []string               `json:"recipients,omitempty"`
	Chat         *models.Chat           `json:"chat,omitempty"`
	Message      *models.Message        `json:"message,omitempty"`
	Friendship   *models.Friendship     `json:"friendship,omitempty"`
	Notification *models.Notification   `json:"notification,omitempty"`
	Presence     *models.PresenceStatus `json:"presence,omitempty"`
	TypingUsers  []string               `json:"typing_users,omitempty"`
	SeenBy       string                 `json:"seen_by,omitempty"`
	At           time.Time              `json:"at"`
	Origin       string                 `json:"origin,omitempty"`
}

// Publisher accepts change events.
type Publisher interface {
	Publish(ev ChangeEvent)
}

// Subscription is a registered listener. C is closed after Close.
type Subscription struct {
	C      <-chan ChangeEvent
	ch     chan ChangeEvent
	filter Filter
	broker *Broker
	once   sync.Once
}

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.remove(s)
	})
}

// Broker fans events out to in-process subscribers. Delivery never blocks the publisher: when a
// subscriber's buffer is full the event is dropped for that subscriber.
type Broker struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	hooks  []func(ChangeEvent)
	buffer int
	logger *zap.Logger
}

// NewBroker creates a broker whose subscriptions buffer up to buffer events.
func NewBroker(buffer int, logger *zap.Logger) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{subs: make(map[*Subscription]struct{}), buffer: buffer, logger: logger}
}

// Subscribe registers a listener for events matching filter. A nil filter matches everything.
func (b *Broker) Subscribe(filter Filter) *Subscription {
	ch := make(chan ChangeEvent, b.buffer)
	sub := &Subscription{C: ch, ch: ch, filter: filter, broker: b}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	observability.SetEventSubscribers(b.count())
	return sub
}

// OnPublish registers a hook called for every locally published event, used by relays.
func (b *Broker) OnPublish(hook func(ChangeEvent)) {
	b.mu.Lock()
	b.hooks = append(b.hooks, hook)
	b.mu.Unlock()
}

// Publish delivers ev to local subscribers and hooks.
func (b *Broker) Publish(ev ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.deliver(ev)

	b.mu.RLock()
	hooks := append([]func(ChangeEvent){}, b.hooks...)
	b.mu.RUnlock()
	for _, hook := range hooks {
		hook(ev)
	}
}

// Deliver hands ev to local subscribers only. Relays use it for events from other instances.
func (b *Broker) Deliver(ev ChangeEvent) {
	b.deliver(ev)
}

func (b *Broker) deliver(ev ChangeEvent) {
	observability.IncEventPublished(string(ev.Kind))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			observability.IncEventDropped(string(ev.Kind))
			b.logger.Warn("subscriber buffer full, dropping event", zap.String("kind", string(ev.Kind)), zap.String("chat_id", ev.ChatID))
		}
	}
}

func (b *Broker) remove(sub *Subscription) {
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
	observability.SetEventSubscribers(b.count())
}

func (b *Broker) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
