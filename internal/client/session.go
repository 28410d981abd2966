package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/events"
)

// Deps are the services a session talks to.
type Deps struct {
	Messages      Messages
	Typing        Typing
	Notifications Notifications
	Broker        Subscriber
	PageSize      int
	TypingIdle    time.Duration
}

// Session is the state of one connected client: which chat is selected, its message window,
// the typing debounce and the notification listener. Every user-addressed event that is not a
// notification is forwarded to the observer as is.
type Session struct {
	uid      string
	deps     Deps
	observer Observer
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	window   *MessageWindow
	selected string
	gen      uint64
	closed   bool

	debouncer *TypingDebouncer
	listener  *NotificationListener
	userSub   *events.Subscription
	wg        sync.WaitGroup
}

// NewSession starts a session for uid. It lives until Close or until ctx ends.
func NewSession(ctx context.Context, uid string, deps Deps, observer Observer, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		uid:      uid,
		deps:     deps,
		observer: observer,
		logger:   logger.With(zap.String("uid", uid)),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.debouncer = NewTypingDebouncer(ctx, uid, deps.Typing, deps.TypingIdle, s.logger)

	s.userSub = deps.Broker.Subscribe(func(ev events.ChangeEvent) bool {
		return ev.Kind != events.KindNotificationCreated && events.ForUser(uid)(ev)
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-s.userSub.C:
				if !ok {
					return
				}
				observer.OnEvent(ev)
			}
		}
	}()

	s.listener = StartNotificationListener(ctx, uid, deps.Notifications, deps.Broker, s.Selected, observer.OnAlert, s.logger)
	return s
}

func (s *Session) UID() string {
	return s.uid
}

// Selected returns the selected chat id, or "" when none is selected.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Select switches the session to chatID: the previous window is torn down, a new one opened
// and the chat marked as viewed. The window is built without holding the session lock, so
// Selected already reports chatID while the first page loads.
func (s *Session) Select(ctx context.Context, chatID string) error {
	if chatID == "" {
		return errorx.Validation("chat id is required")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errorx.New(errorx.KindConflict, "session closed")
	}
	prev, prevChat := s.detachLocked()
	s.selected = chatID
	gen := s.gen
	s.mu.Unlock()

	s.release(ctx, prev, prevChat)

	w, err := OpenWindow(s.ctx, chatID, s.uid, s.deps.Messages, s.deps.Broker, s.deps.PageSize, s.observer.OnWindow, s.logger)
	if err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.selected = ""
		}
		s.mu.Unlock()
		return err
	}
	if err := s.deps.Messages.ViewChat(ctx, chatID, s.uid); err != nil {
		s.logger.Debug("view chat on select failed", zap.String("chat_id", chatID), zap.Error(err))
	}

	s.mu.Lock()
	if s.closed || s.gen != gen {
		// closed or superseded by a later Select or Deselect while opening
		closed := s.closed
		s.mu.Unlock()
		w.Close()
		if closed {
			return errorx.New(errorx.KindConflict, "session closed")
		}
		return nil
	}
	s.window = w
	s.mu.Unlock()
	return nil
}

// Deselect closes the current window, if any.
func (s *Session) Deselect(ctx context.Context) {
	s.mu.Lock()
	w, chatID := s.detachLocked()
	s.mu.Unlock()
	s.release(ctx, w, chatID)
}

// detachLocked unhooks the current window and selection and invalidates any Select still
// opening. Callers hold s.mu and pass the result to release after unlocking.
func (s *Session) detachLocked() (*MessageWindow, string) {
	w, chatID := s.window, s.selected
	s.window, s.selected = nil, ""
	s.gen++
	return w, chatID
}

func (s *Session) release(ctx context.Context, w *MessageWindow, chatID string) {
	if active, ok := s.debouncer.Active(); ok && chatID != "" && active == chatID {
		s.debouncer.Stop(ctx)
	}
	if w != nil {
		w.Close()
	}
}

// LoadOlder loads the previous page of the selected chat.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mu.Lock()
	w := s.window
	s.mu.Unlock()
	if w == nil {
		return errorx.Validation("no chat selected")
	}
	return w.LoadOlder(ctx)
}

// Window returns the state of the selected chat's window.
func (s *Session) Window() (WindowState, bool) {
	s.mu.Lock()
	w := s.window
	s.mu.Unlock()
	if w == nil {
		return WindowState{}, false
	}
	return w.State(), true
}

// Keystroke reports typing activity; an empty chatID means the selected chat.
func (s *Session) Keystroke(ctx context.Context, chatID string) error {
	if chatID == "" {
		chatID = s.Selected()
	}
	if chatID == "" {
		return errorx.Validation("no chat selected")
	}
	return s.debouncer.Keystroke(ctx, chatID)
}

// StopTyping clears the typing flag immediately.
func (s *Session) StopTyping(ctx context.Context) {
	s.debouncer.Stop(ctx)
}

// Close releases every subscription and timer of the session. It is safe to call twice.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	w, _ := s.detachLocked()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.debouncer.Stop(ctx)
	if w != nil {
		w.Close()
	}

	s.listener.Close()
	s.userSub.Close()
	s.cancel()
	s.wg.Wait()
}
