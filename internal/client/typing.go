package client

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTypingIdle is how long after the last keystroke a user stops counting as typing.
const DefaultTypingIdle = 2 * time.Second

// TypingDebouncer turns keystrokes into typing flags: each keystroke marks the user as typing
// and restarts an idle timer whose expiry clears the flag.
type TypingDebouncer struct {
	ctx    context.Context
	uid    string
	typing Typing
	idle   time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	chatID string
	active bool
	timer  *time.Timer
	gen    uint64
}

func NewTypingDebouncer(ctx context.Context, uid string, typing Typing, idle time.Duration, logger *zap.Logger) *TypingDebouncer {
	if idle <= 0 {
		idle = DefaultTypingIdle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TypingDebouncer{ctx: ctx, uid: uid, typing: typing, idle: idle, logger: logger}
}

// Keystroke records typing activity in chatID. Typing in another chat first clears the flag
// in the previous one.
func (d *TypingDebouncer) Keystroke(ctx context.Context, chatID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active && d.chatID != chatID {
		d.clearLocked(ctx)
	}
	if err := d.typing.SetTyping(ctx, chatID, d.uid, true); err != nil {
		return err
	}
	d.chatID = chatID
	d.active = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.idle, func() { d.expire(gen) })
	return nil
}

// Active reports the chat the user is flagged as typing in.
func (d *TypingDebouncer) Active() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.chatID, d.active
}

func (d *TypingDebouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || !d.active {
		return
	}
	d.clearLocked(d.ctx)
}

// Stop cancels the idle timer and clears the typing flag if it is set.
func (d *TypingDebouncer) Stop(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.active {
		d.clearLocked(ctx)
	}
}

func (d *TypingDebouncer) clearLocked(ctx context.Context) {
	if err := d.typing.SetTyping(ctx, d.chatID, d.uid, false); err != nil {
		d.logger.Debug("clear typing failed", zap.String("chat_id", d.chatID), zap.Error(err))
	}
	d.active = false
}
