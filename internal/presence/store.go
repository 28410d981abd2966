package presence

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"hive-chat/internal/models"
)

// Lease is one instance's claim that uid has a live connection on it. Epoch is the user's
// logout generation at the time the lease was taken.
type Lease struct {
	UID      string
	Instance string
	Epoch    int64
}

type RenewResult int

const (
	// RenewKept extends a lease that was still valid.
	RenewKept RenewResult = iota
	// RenewRevived re-establishes a lease that had lapsed; the user is online again.
	RenewRevived
	// RenewRevoked means the user logged out after the lease was taken.
	RenewRevoked
)

// Store persists presence shared by every instance. The state record never expires: a user
// whose leases all lapse reads as offline, never as unknown.
type Store interface {
	Get(ctx context.Context, uid string) (models.PresenceStatus, error)
	// Join takes a lease for instance and reports whether uid was already online elsewhere.
	Join(ctx context.Context, uid, instance string, at time.Time) (Lease, bool, error)
	Renew(ctx context.Context, lease Lease, at time.Time) (RenewResult, error)
	// Leave drops the lease and reports whether uid went offline as a result.
	Leave(ctx context.Context, lease Lease, at time.Time) (bool, error)
	// Logout drops every lease of uid, bumps its epoch and stores offline.
	Logout(ctx context.Context, uid string, at time.Time) error
	// Expire turns users whose leases all lapsed into offline records and returns them.
	Expire(ctx context.Context, at time.Time) ([]models.PresenceStatus, error)
}

const defaultLeaseTTL = 90 * time.Second

// RedisStore layout per user:
//
//	presence:{uid}         hash {state, changed}, no expiry
//	presence:leases:{uid}  zset instance -> lease expiry (unix ms)
//	presence:epoch:{uid}   logout counter
//	presence:live          zset uid -> latest lease expiry, scanned by Expire
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

const liveKey = "presence:live"

func recordKey(uid string) string { return "presence:" + uid }
func leasesKey(uid string) string { return "presence:leases:" + uid }
func epochKey(uid string) string  { return "presence:epoch:" + uid }

func ms(t time.Time) int64 { return t.UnixMilli() }

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

var joinScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
local before = redis.call('ZCARD', KEYS[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[6])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[4])
if before == 0 then
  redis.call('HSET', KEYS[1], 'state', 'online', 'changed', ARGV[5])
end
local epoch = tonumber(redis.call('GET', KEYS[3]) or '0')
return {before, epoch}
`)

var renewScript = redis.NewScript(`
local epoch = tonumber(redis.call('GET', KEYS[3]) or '0')
if epoch ~= tonumber(ARGV[7]) then return 2 end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
local had = redis.call('ZSCORE', KEYS[2], ARGV[1])
local others = redis.call('ZCARD', KEYS[2])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
redis.call('PEXPIRE', KEYS[2], ARGV[6])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[4])
if (not had) and others == 0 then
  redis.call('HSET', KEYS[1], 'state', 'online', 'changed', ARGV[5])
  return 1
end
return 0
`)

var leaveScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[2], ARGV[1]) then return 0 end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
if redis.call('ZCARD', KEYS[2]) > 0 then return 0 end
redis.call('ZREM', KEYS[3], ARGV[3])
redis.call('HSET', KEYS[1], 'state', 'offline', 'changed', ARGV[4])
return 1
`)

var logoutScript = redis.NewScript(`
redis.call('DEL', KEYS[2])
redis.call('ZREM', KEYS[4], ARGV[1])
redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], 'state', 'offline', 'changed', ARGV[2])
return 1
`)

var expireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
local top = redis.call('ZRANGE', KEYS[2], -1, -1, 'WITHSCORES')
if #top > 0 then
  redis.call('ZADD', KEYS[3], top[2], ARGV[2])
  return 0
end
redis.call('ZREM', KEYS[3], ARGV[2])
if redis.call('HGET', KEYS[1], 'state') ~= 'online' then return 0 end
redis.call('HSET', KEYS[1], 'state', 'offline', 'changed', ARGV[3])
return 1
`)

func (s *RedisStore) Get(ctx context.Context, uid string) (models.PresenceStatus, error) {
	rec, err := s.client.HGetAll(ctx, recordKey(uid)).Result()
	if err != nil {
		return models.PresenceStatus{}, err
	}
	if len(rec) == 0 {
		return models.PresenceStatus{UID: uid, State: models.PresenceUnknown}, nil
	}
	st := models.PresenceStatus{UID: uid, State: models.PresenceState(rec["state"])}
	if changed, err := time.Parse(time.RFC3339Nano, rec["changed"]); err == nil {
		st.LastChanged = changed
	}
	if st.State != models.PresenceOnline {
		return st, nil
	}

	live, err := s.client.ZCount(ctx, leasesKey(uid), "("+strconv.FormatInt(ms(s.now()), 10), "+inf").Result()
	if err != nil {
		return models.PresenceStatus{}, err
	}
	if live == 0 {
		st.State = models.PresenceOffline
	}
	return st, nil
}

func (s *RedisStore) Join(ctx context.Context, uid, instance string, at time.Time) (Lease, bool, error) {
	keys := []string{recordKey(uid), leasesKey(uid), epochKey(uid), liveKey}
	res, err := joinScript.Run(ctx, s.client, keys,
		instance, ms(at), ms(at.Add(s.ttl)), uid, stamp(at), s.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Lease{}, false, err
	}
	return Lease{UID: uid, Instance: instance, Epoch: res[1]}, res[0] > 0, nil
}

func (s *RedisStore) Renew(ctx context.Context, lease Lease, at time.Time) (RenewResult, error) {
	keys := []string{recordKey(lease.UID), leasesKey(lease.UID), epochKey(lease.UID), liveKey}
	res, err := renewScript.Run(ctx, s.client, keys,
		lease.Instance, ms(at), ms(at.Add(s.ttl)), lease.UID, stamp(at), s.ttl.Milliseconds(), lease.Epoch).Int()
	if err != nil {
		return RenewKept, err
	}
	return RenewResult(res), nil
}

func (s *RedisStore) Leave(ctx context.Context, lease Lease, at time.Time) (bool, error) {
	keys := []string{recordKey(lease.UID), leasesKey(lease.UID), liveKey}
	res, err := leaveScript.Run(ctx, s.client, keys, lease.Instance, ms(at), lease.UID, stamp(at)).Int()
	return res == 1, err
}

func (s *RedisStore) Logout(ctx context.Context, uid string, at time.Time) error {
	keys := []string{recordKey(uid), leasesKey(uid), epochKey(uid), liveKey}
	return logoutScript.Run(ctx, s.client, keys, uid, stamp(at)).Err()
}

func (s *RedisStore) Expire(ctx context.Context, at time.Time) ([]models.PresenceStatus, error) {
	uids, err := s.client.ZRangeByScore(ctx, liveKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(ms(at), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	var out []models.PresenceStatus
	for _, uid := range uids {
		keys := []string{recordKey(uid), leasesKey(uid), liveKey}
		res, err := expireScript.Run(ctx, s.client, keys, ms(at), uid, stamp(at)).Int()
		if err != nil {
			return out, err
		}
		if res == 1 {
			out = append(out, models.PresenceStatus{UID: uid, State: models.PresenceOffline, LastChanged: at})
		}
	}
	return out, nil
}

type memoryUser struct {
	status models.PresenceStatus
	leases map[string]time.Time
	epoch  int64
}

// prune drops lapsed leases. A zero expiry never lapses.
func (u *memoryUser) prune(at time.Time) {
	for inst, exp := range u.leases {
		if !exp.IsZero() && !exp.After(at) {
			delete(u.leases, inst)
		}
	}
}

func (u *memoryUser) live(at time.Time) int {
	n := 0
	for _, exp := range u.leases {
		if exp.IsZero() || exp.After(at) {
			n++
		}
	}
	return n
}

// MemoryStore is the single-instance presence store. Leases expire only when ttl is set.
type MemoryStore struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	users map[string]*memoryUser
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, users: make(map[string]*memoryUser)}
}

func (s *MemoryStore) user(uid string) *memoryUser {
	u, ok := s.users[uid]
	if !ok {
		u = &memoryUser{
			status: models.PresenceStatus{UID: uid, State: models.PresenceUnknown},
			leases: make(map[string]time.Time),
		}
		s.users[uid] = u
	}
	return u
}

func (s *MemoryStore) expiry(at time.Time) time.Time {
	if s.ttl <= 0 {
		return time.Time{}
	}
	return at.Add(s.ttl)
}

func (s *MemoryStore) Get(_ context.Context, uid string) (models.PresenceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[uid]
	if !ok {
		return models.PresenceStatus{UID: uid, State: models.PresenceUnknown}, nil
	}
	st := u.status
	if st.State == models.PresenceOnline && u.live(s.now()) == 0 {
		st.State = models.PresenceOffline
	}
	return st, nil
}

func (s *MemoryStore) Join(_ context.Context, uid, instance string, at time.Time) (Lease, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(uid)
	u.prune(at)
	before := len(u.leases)
	u.leases[instance] = s.expiry(at)
	if before == 0 {
		u.status = models.PresenceStatus{UID: uid, State: models.PresenceOnline, LastChanged: at}
	}
	return Lease{UID: uid, Instance: instance, Epoch: u.epoch}, before > 0, nil
}

func (s *MemoryStore) Renew(_ context.Context, lease Lease, at time.Time) (RenewResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(lease.UID)
	if u.epoch != lease.Epoch {
		return RenewRevoked, nil
	}
	u.prune(at)
	_, had := u.leases[lease.Instance]
	others := len(u.leases)
	u.leases[lease.Instance] = s.expiry(at)
	if !had && others == 0 {
		u.status = models.PresenceStatus{UID: lease.UID, State: models.PresenceOnline, LastChanged: at}
		return RenewRevived, nil
	}
	return RenewKept, nil
}

func (s *MemoryStore) Leave(_ context.Context, lease Lease, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[lease.UID]
	if !ok {
		return false, nil
	}
	if _, ok := u.leases[lease.Instance]; !ok {
		return false, nil
	}
	delete(u.leases, lease.Instance)
	u.prune(at)
	if len(u.leases) > 0 {
		return false, nil
	}
	u.status = models.PresenceStatus{UID: lease.UID, State: models.PresenceOffline, LastChanged: at}
	return true, nil
}

func (s *MemoryStore) Logout(_ context.Context, uid string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.user(uid)
	u.leases = make(map[string]time.Time)
	u.epoch++
	u.status = models.PresenceStatus{UID: uid, State: models.PresenceOffline, LastChanged: at}
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, at time.Time) ([]models.PresenceStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PresenceStatus
	for uid, u := range s.users {
		if u.status.State != models.PresenceOnline {
			continue
		}
		u.prune(at)
		if len(u.leases) == 0 {
			u.status = models.PresenceStatus{UID: uid, State: models.PresenceOffline, LastChanged: at}
			out = append(out, u.status)
		}
	}
	return out, nil
}
