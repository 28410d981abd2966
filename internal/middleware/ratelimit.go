package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"hive-chat/internal/observability"
)

const (
	limiterIdleTTL  = 30 * time.Minute
	limiterSweepInt = 5 * time.Minute
)

type limiterEntry struct {
	limiter *rate.Limiter
	lastUse time.Time
}

// RateLimiter keeps one token bucket per caller. Authenticated callers are keyed by uid,
// anonymous ones by client IP.
type RateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	entries map[string]*limiterEntry

	stop chan struct{}
	once sync.Once
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
		entries: make(map[string]*limiterEntry),
		stop:    make(chan struct{}),
	}
}

// Allow consumes one token for key.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.lastUse = l.now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Start evicts idle buckets until Stop.
func (l *RateLimiter) Start() {
	go func() {
		ticker := time.NewTicker(limiterSweepInt)
		defer ticker.Stop()
		for {
			select {
			case <-l.stop:
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

func (l *RateLimiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Sweep drops buckets unused for longer than the idle TTL.
func (l *RateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for k, e := range l.entries {
		if now.Sub(e.lastUse) > limiterIdleTTL {
			delete(l.entries, k)
		}
	}
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// RateLimit rejects callers that exceed the limiter with 429.
func RateLimit(l *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetString(UserIDKey)
		if key == "" {
			key = "ip:" + observability.IPFromRequest(c.Request)
		}
		if !l.Allow(key) {
			c.Header("X-RateLimit-Limit", strconv.Itoa(l.burst))
			c.Header("X-RateLimit-Remaining", "0")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
