package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hive-chat/internal/errorx"
	"hive-chat/internal/events"
	"hive-chat/internal/models"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) (models.PresenceStatus, error) {
	return models.PresenceStatus{}, assert.AnError
}

func (failingStore) Join(context.Context, string, string, time.Time) (Lease, bool, error) {
	return Lease{}, false, assert.AnError
}

func (failingStore) Renew(context.Context, Lease, time.Time) (RenewResult, error) {
	return RenewKept, assert.AnError
}

func (failingStore) Leave(context.Context, Lease, time.Time) (bool, error) {
	return false, assert.AnError
}

func (failingStore) Logout(context.Context, string, time.Time) error {
	return assert.AnError
}

func (failingStore) Expire(context.Context, time.Time) ([]models.PresenceStatus, error) {
	return nil, assert.AnError
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, time.Minute), mr
}

func state(t *testing.T, tr *Tracker, uid string) models.PresenceState {
	t.Helper()
	st, err := tr.Status(context.Background(), uid)
	require.NoError(t, err)
	return st.State
}

func TestTrackerLifecycleWithRedis(t *testing.T) {
	store, mr := newRedisStore(t)
	broker := events.NewBroker(8, nil)
	sub := broker.Subscribe(events.ForPresence("u1"))
	defer sub.Close()
	tr := NewTracker(store, broker, 0, nil)
	ctx := context.Background()

	assert.Equal(t, models.PresenceUnknown, state(t, tr, "u1"))

	conn, err := tr.Connect(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOnline, state(t, tr, "u1"))
	assert.Equal(t, "online", mr.HGet("presence:u1", "state"))
	assert.Equal(t, time.Duration(0), mr.TTL("presence:u1"))
	assert.Greater(t, mr.TTL("presence:leases:u1"), time.Duration(0))

	ev := <-sub.C
	assert.Equal(t, models.PresenceOnline, ev.Presence.State)

	conn.Close()
	conn.Close()
	assert.Equal(t, models.PresenceOffline, state(t, tr, "u1"))
	assert.Equal(t, "offline", mr.HGet("presence:u1", "state"))

	ev = <-sub.C
	assert.Equal(t, models.PresenceOffline, ev.Presence.State)

	_, err = tr.Connect(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOnline, state(t, tr, "u1"))
}

func TestTrackerCountsConnections(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), nil, 0, nil)
	ctx := context.Background()

	first, err := tr.Connect(ctx, "u1")
	require.NoError(t, err)
	second, err := tr.Connect(ctx, "u1")
	require.NoError(t, err)

	first.Close()
	assert.Equal(t, models.PresenceOnline, state(t, tr, "u1"))
	assert.True(t, tr.Online("u1"))

	second.Close()
	assert.Equal(t, models.PresenceOffline, state(t, tr, "u1"))
	assert.False(t, tr.Online("u1"))
}

func TestTrackerLogoutForcesOffline(t *testing.T) {
	tr := NewTracker(NewMemoryStore(), nil, 0, nil)
	ctx := context.Background()

	conn, err := tr.Connect(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, tr.Logout(ctx, "u1"))
	assert.Equal(t, models.PresenceOffline, state(t, tr, "u1"))

	other, err := tr.Connect(ctx, "u1")
	require.NoError(t, err)
	conn.Close()
	assert.Equal(t, models.PresenceOnline, state(t, tr, "u1"))
	other.Close()
	assert.Equal(t, models.PresenceOffline, state(t, tr, "u1"))
}

func TestTrackerConnectFailureDropsRegistration(t *testing.T) {
	tr := NewTracker(failingStore{}, nil, 0, nil)

	conn, err := tr.Connect(context.Background(), "u1")
	assert.Nil(t, conn)
	require.True(t, errorx.Is(err, errorx.KindTransientIO))
	assert.False(t, tr.Online("u1"))

	_, err = tr.Connect(context.Background(), "")
	require.True(t, errorx.Is(err, errorx.KindValidation))
}

func TestTrackerStopMarksEveryoneOffline(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(store, nil, 10*time.Millisecond, nil)
	ctx := context.Background()
	tr.Start(ctx)

	_, err := tr.Connect(ctx, "u1")
	require.NoError(t, err)
	_, err = tr.Connect(ctx, "u2")
	require.NoError(t, err)

	tr.Stop(ctx)
	assert.Equal(t, models.PresenceOffline, state(t, tr, "u1"))
	assert.Equal(t, models.PresenceOffline, state(t, tr, "u2"))
}

func TestRedisStoreLapsedLeaseReadsOffline(t *testing.T) {
	store, mr := newRedisStore(t)
	broker := events.NewBroker(8, nil)
	sub := broker.Subscribe(events.ForPresence("u1"))
	defer sub.Close()
	tr := NewTracker(store, broker, 0, nil)
	other := NewTracker(store, nil, 0, nil)
	ctx := context.Background()

	_, err := tr.Connect(ctx, "u1")
	require.NoError(t, err)
	<-sub.C

	// the instance stops renewing without closing anything
	mr.FastForward(2 * time.Minute)
	assert.Equal(t, models.PresenceOffline, state(t, other, "u1"))

	tr.refreshOnline(ctx)
	assert.Equal(t, models.PresenceOnline, state(t, other, "u1"))
	ev := <-sub.C
	assert.Equal(t, models.PresenceOnline, ev.Presence.State)
}

func TestTrackerSweepPublishesOfflineForLapsedLeases(t *testing.T) {
	store, _ := newRedisStore(t)
	broker := events.NewBroker(8, nil)
	sub := broker.Subscribe(events.ForPresence("u1"))
	defer sub.Close()
	ctx := context.Background()

	crashed := NewTracker(store, nil, 0, nil)
	_, err := crashed.Connect(ctx, "u1")
	require.NoError(t, err)

	sweeper := NewTracker(store, broker, 0, nil)
	sweeper.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }
	sweeper.refreshOnline(ctx)

	ev := <-sub.C
	assert.Equal(t, models.PresenceOffline, ev.Presence.State)
	assert.Equal(t, "u1", ev.Presence.UID)
	assert.Equal(t, models.PresenceOffline, state(t, sweeper, "u1"))

	// a second sweep finds nothing left to expire
	sweeper.refreshOnline(ctx)
	assert.Len(t, sub.C, 0)
}

func TestTrackersShareConnectionsAcrossInstances(t *testing.T) {
	store, _ := newRedisStore(t)
	broker := events.NewBroker(8, nil)
	sub := broker.Subscribe(events.ForPresence("u1"))
	defer sub.Close()
	a := NewTracker(store, broker, 0, nil)
	b := NewTracker(store, broker, 0, nil)
	ctx := context.Background()

	onA, err := a.Connect(ctx, "u1")
	require.NoError(t, err)
	onB, err := b.Connect(ctx, "u1")
	require.NoError(t, err)

	onB.Close()
	assert.Equal(t, models.PresenceOnline, state(t, a, "u1"))
	assert.Equal(t, models.PresenceOnline, state(t, b, "u1"))
	require.Len(t, sub.C, 1)
	ev := <-sub.C
	assert.Equal(t, models.PresenceOnline, ev.Presence.State)

	onA.Close()
	assert.Equal(t, models.PresenceOffline, state(t, b, "u1"))
	ev = <-sub.C
	assert.Equal(t, models.PresenceOffline, ev.Presence.State)
}

func TestLogoutRevokesLeasesOnOtherInstances(t *testing.T) {
	store, _ := newRedisStore(t)
	a := NewTracker(store, nil, 0, nil)
	b := NewTracker(store, nil, 0, nil)
	ctx := context.Background()

	_, err := a.Connect(ctx, "u1")
	require.NoError(t, err)
	_, err = b.Connect(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, b.Logout(ctx, "u1"))
	assert.Equal(t, models.PresenceOffline, state(t, a, "u1"))

	a.refreshOnline(ctx)
	assert.Equal(t, models.PresenceOffline, state(t, a, "u1"))
	assert.False(t, a.Online("u1"))

	// a connection opened after the logout counts again
	_, err = a.Connect(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOnline, state(t, b, "u1"))
}

func TestMemoryStoreLeasesLapseWithTTL(t *testing.T) {
	store := NewMemoryStore()
	store.ttl = time.Minute
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }
	ctx := context.Background()

	lease, was, err := store.Join(ctx, "u1", "i1", base)
	require.NoError(t, err)
	assert.False(t, was)

	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	st, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, models.PresenceOffline, st.State)

	expired, err := store.Expire(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "u1", expired[0].UID)

	res, err := store.Renew(ctx, lease, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, RenewRevived, res)
}
