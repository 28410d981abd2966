package client

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"hive-chat/internal/events"
	"hive-chat/internal/models"
)

// WindowState is a snapshot of the messages a client shows for one chat.
type WindowState struct {
	ChatID   string           `json:"chat_id"`
	Messages []models.Message `json:"messages"`
	HasMore  bool             `json:"has_more"`
	Loading  bool             `json:"loading"`
}

// MessageWindow keeps the loaded tail of a chat's history in ascending order. It starts with
// the newest page, merges live messages and older pages on demand.
type MessageWindow struct {
	ctx      context.Context
	chatID   string
	viewer   string
	messages Messages
	pageSize int
	onChange func(WindowState)
	logger   *zap.Logger

	mu      sync.Mutex
	list    []models.Message
	ids     map[string]struct{}
	hasMore bool
	loading bool

	sub  *events.Subscription
	done chan struct{}
}

// OpenWindow subscribes to the chat, loads the newest page and starts applying live updates.
// The subscription is taken before the first page is read so no append falls in between.
func OpenWindow(ctx context.Context, chatID, viewer string, messages Messages, broker Subscriber, pageSize int, onChange func(WindowState), logger *zap.Logger) (*MessageWindow, error) {
	if pageSize <= 0 {
		pageSize = messages.PageSize()
	}
	if onChange == nil {
		onChange = func(WindowState) {}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &MessageWindow{
		ctx:      ctx,
		chatID:   chatID,
		viewer:   viewer,
		messages: messages,
		pageSize: pageSize,
		onChange: onChange,
		logger:   logger,
		ids:      make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	w.sub = broker.Subscribe(events.All(
		events.ForChat(chatID),
		events.Kinds(events.KindMessageAppended, events.KindMessagesSeen),
	))

	page, err := messages.Page(ctx, chatID, viewer, nil, pageSize)
	if err != nil {
		w.sub.Close()
		return nil, err
	}

	w.mu.Lock()
	w.merge(page.Messages)
	w.hasMore = len(page.Messages) == pageSize
	w.mu.Unlock()

	w.emit()
	go w.run()
	return w, nil
}

func (w *MessageWindow) run() {
	defer close(w.done)
	for {
		select {
		case <-w.ctx.Done():
			return
		case ev, ok := <-w.sub.C:
			if !ok {
				return
			}
			w.apply(ev)
		}
	}
}

func (w *MessageWindow) apply(ev events.ChangeEvent) {
	switch ev.Kind {
	case events.KindMessageAppended:
		if ev.Message == nil {
			return
		}
		w.mu.Lock()
		added := w.merge([]models.Message{*ev.Message})
		w.mu.Unlock()
		if added {
			w.emit()
			w.view()
		}
	case events.KindMessagesSeen:
		if ev.SeenBy == "" {
			return
		}
		w.mu.Lock()
		changed := false
		for i := range w.list {
			if !w.list[i].SeenByUser(ev.SeenBy) {
				w.list[i].SeenBy = append(w.list[i].SeenBy, ev.SeenBy)
				changed = true
			}
		}
		w.mu.Unlock()
		if changed {
			w.emit()
		}
	}
}

// merge inserts msgs that are not loaded yet at their (timestamp, id) position, so live
// messages that arrive out of order still land in ascending order. It reports whether anything
// was added. Callers hold w.mu.
func (w *MessageWindow) merge(msgs []models.Message) bool {
	added := false
	for _, m := range msgs {
		if _, dup := w.ids[m.ID]; dup {
			continue
		}
		w.ids[m.ID] = struct{}{}
		idx := sort.Search(len(w.list), func(i int) bool { return models.MessageLess(m, w.list[i]) })
		w.list = append(w.list, models.Message{})
		copy(w.list[idx+1:], w.list[idx:])
		w.list[idx] = m
		added = true
	}
	return added
}

// LoadOlder fetches the page before the oldest loaded message. It does nothing while a load is
// already running or when the history is exhausted.
func (w *MessageWindow) LoadOlder(ctx context.Context) error {
	w.mu.Lock()
	if w.loading || !w.hasMore {
		w.mu.Unlock()
		return nil
	}
	w.loading = true
	var cursor *models.Cursor
	if len(w.list) > 0 {
		c := models.CursorOf(w.list[0])
		cursor = &c
	}
	w.mu.Unlock()
	w.emit()

	page, err := w.messages.Page(ctx, w.chatID, w.viewer, cursor, w.pageSize)

	w.mu.Lock()
	w.loading = false
	added := false
	if err == nil {
		added = w.merge(page.Messages)
		w.hasMore = len(page.Messages) == w.pageSize
	}
	w.mu.Unlock()
	w.emit()

	if err != nil {
		return err
	}
	if added {
		w.view()
	}
	return nil
}

// State returns a copy of the current window.
func (w *MessageWindow) State() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := make([]models.Message, len(w.list))
	for i, m := range w.list {
		m.SeenBy = append([]string(nil), m.SeenBy...)
		list[i] = m
	}
	return WindowState{ChatID: w.chatID, Messages: list, HasMore: w.hasMore, Loading: w.loading}
}

func (w *MessageWindow) ChatID() string {
	return w.chatID
}

// Close drops the subscription and waits for the update loop to exit.
func (w *MessageWindow) Close() {
	w.sub.Close()
	<-w.done
}

func (w *MessageWindow) emit() {
	w.onChange(w.State())
}

func (w *MessageWindow) view() {
	if err := w.messages.ViewChat(w.ctx, w.chatID, w.viewer); err != nil {
		w.logger.Debug("view chat failed", zap.String("chat_id", w.chatID), zap.Error(err))
	}
}
