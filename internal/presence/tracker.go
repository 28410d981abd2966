// Package presence tracks whether users have a live connection and persists the result to a
// store shared by every instance.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hive-chat/internal/errorx"
	"hive-chat/internal/events"
	"hive-chat/internal/models"
	"hive-chat/internal/observability"
)

const disconnectTimeout = 5 * time.Second

// Connection is one live client of a user. Closing it runs the offline action registered
// when it was opened.
type Connection struct {
	uid     string
	tracker *Tracker
	once    sync.Once
}

// UID returns the connected user.
func (c *Connection) UID() string {
	return c.uid
}

// Close releases the connection. The user goes offline when this was the last one on every
// instance.
func (c *Connection) Close() {
	c.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		c.tracker.release(ctx, c)
	})
}

// Tracker maintains presence from connection lifecycle. Connections are counted per user on
// this instance and the instance holds one store lease per connected user, so a user stays
// online while any instance still has a connection.
type Tracker struct {
	store     Store
	publisher events.Publisher
	logger    *zap.Logger
	now       func() time.Time
	refresh   time.Duration
	instance  string

	mu     sync.Mutex
	conns  map[string]map[*Connection]struct{}
	leases map[string]Lease

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTracker builds a tracker. refresh is how often leases are renewed and lapsed users are
// swept offline; zero disables the loop.
func NewTracker(store Store, publisher events.Publisher, refresh time.Duration, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		refresh:   refresh,
		instance:  uuid.NewString(),
		conns:     make(map[string]map[*Connection]struct{}),
		leases:    make(map[string]Lease),
	}
}

// Connect registers a connection for uid and marks the user online.
func (t *Tracker) Connect(ctx context.Context, uid string) (*Connection, error) {
	if uid == "" {
		return nil, errorx.Validation("uid is required")
	}
	conn := &Connection{uid: uid, tracker: t}
	at := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	if lease, ok := t.leases[uid]; ok {
		res, err := t.store.Renew(ctx, lease, at)
		if err != nil {
			return nil, errorx.Transient(err, "presence store unavailable")
		}
		if res != RenewRevoked {
			t.conns[uid][conn] = struct{}{}
			if res == RenewRevived {
				t.publish(models.PresenceStatus{UID: uid, State: models.PresenceOnline, LastChanged: at})
			}
			return conn, nil
		}
		// logged out elsewhere since the lease was taken
		t.dropLocked(uid)
	}

	// the offline action is registered before online is written
	t.conns[uid] = map[*Connection]struct{}{conn: {}}
	lease, wasOnline, err := t.store.Join(ctx, uid, t.instance, at)
	if err != nil {
		delete(t.conns, uid)
		return nil, errorx.Transient(err, "presence store unavailable")
	}
	t.leases[uid] = lease
	observability.SetPresenceOnline(len(t.conns))
	if !wasOnline {
		t.publish(models.PresenceStatus{UID: uid, State: models.PresenceOnline, LastChanged: at})
	}
	return conn, nil
}

func (t *Tracker) release(ctx context.Context, conn *Connection) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.conns[conn.uid]
	if !ok {
		return
	}
	if _, ok := set[conn]; !ok {
		return
	}
	delete(set, conn)
	if len(set) > 0 {
		return
	}
	lease := t.leases[conn.uid]
	t.dropLocked(conn.uid)
	t.leave(ctx, lease)
}

// Logout forces uid offline on every instance. Other instances drop their connections of the
// user at their next renewal.
func (t *Tracker) Logout(ctx context.Context, uid string) error {
	at := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.dropLocked(uid)
	if err := t.store.Logout(ctx, uid, at); err != nil {
		return errorx.Transient(err, "presence store unavailable")
	}
	t.publish(models.PresenceStatus{UID: uid, State: models.PresenceOffline, LastChanged: at})
	return nil
}

// Status returns the stored presence of uid.
func (t *Tracker) Status(ctx context.Context, uid string) (models.PresenceStatus, error) {
	st, err := t.store.Get(ctx, uid)
	if err != nil {
		return models.PresenceStatus{}, errorx.Transient(err, "presence store unavailable")
	}
	return st, nil
}

// Online reports whether uid has a live connection on this instance.
func (t *Tracker) Online(uid string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns[uid]) > 0
}

// Start runs the refresh loop until Stop.
func (t *Tracker) Start(ctx context.Context) {
	if t.refresh <= 0 {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.refresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.refreshOnline(ctx)
			}
		}
	}()
}

// Stop ends the refresh loop and fires the offline action of every open connection.
func (t *Tracker) Stop(ctx context.Context) {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, lease := range t.leases {
		t.leave(ctx, lease)
	}
	t.conns = make(map[string]map[*Connection]struct{})
	t.leases = make(map[string]Lease)
	observability.SetPresenceOnline(0)
}

// refreshOnline renews the leases held by this instance, then turns users whose leases lapsed
// on any instance offline.
func (t *Tracker) refreshOnline(ctx context.Context) {
	at := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	for uid, lease := range t.leases {
		res, err := t.store.Renew(ctx, lease, at)
		if err != nil {
			t.logger.Debug("presence lease renewal failed", zap.String("uid", uid), zap.Error(err))
			continue
		}
		switch res {
		case RenewRevoked:
			t.logger.Debug("presence lease revoked by logout", zap.String("uid", uid))
			t.dropLocked(uid)
		case RenewRevived:
			t.publish(models.PresenceStatus{UID: uid, State: models.PresenceOnline, LastChanged: at})
		}
	}

	expired, err := t.store.Expire(ctx, at)
	if err != nil {
		t.logger.Debug("presence sweep failed", zap.Error(err))
	}
	for _, st := range expired {
		t.publish(st)
	}
}

// dropLocked forgets the local connections and lease of uid. Callers hold t.mu.
func (t *Tracker) dropLocked(uid string) {
	delete(t.conns, uid)
	delete(t.leases, uid)
	observability.SetPresenceOnline(len(t.conns))
}

// leave returns the lease and publishes offline when no instance holds the user anymore.
// Callers hold t.mu so transitions of one user reach the store in order.
func (t *Tracker) leave(ctx context.Context, lease Lease) {
	at := t.now()
	offline, err := t.store.Leave(ctx, lease, at)
	if err != nil {
		t.logger.Warn("presence offline write failed", zap.String("uid", lease.UID), zap.Error(err))
		return
	}
	if offline {
		t.publish(models.PresenceStatus{UID: lease.UID, State: models.PresenceOffline, LastChanged: at})
	}
}

func (t *Tracker) publish(st models.PresenceStatus) {
	if t.publisher == nil {
		return
	}
	t.publisher.Publish(events.ChangeEvent{
		Kind:       events.KindPresenceChanged,
		Recipients: []string{st.UID},
		Presence:   &st,
	})
}
