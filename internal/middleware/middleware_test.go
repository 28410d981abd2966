package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hive-chat/internal/identity"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(v TokenVerifier) *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(v))
	r.GET("/me", func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"uid": c.GetString(UserIDKey), "name": id.DisplayName})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	v := identity.NewVerifier("secret", "")
	token, err := v.Issue(identity.Identity{UID: "u1", DisplayName: "Ann"}, time.Minute)
	require.NoError(t, err)
	router := newAuthRouter(v)

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{name: "missing", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "header", header: "Bearer " + token, status: http.StatusOK},
		{name: "lowercase scheme", header: "bearer " + token, status: http.StatusOK},
		{name: "query", query: "?token=" + token, status: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"uid":"u1","name":"Ann"}`, rec.Body.String())
			}
		})
	}
}

func TestRateLimitPerCaller(t *testing.T) {
	limiter := NewRateLimiter(0.001, 2)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if uid := c.GetHeader("X-Test-User"); uid != "" {
			c.Set(UserIDKey, uid)
		}
		c.Next()
	})
	r.Use(RateLimit(limiter))
	r.POST("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(uid string) int {
		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set("X-Test-User", uid)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("u1"))
	assert.Equal(t, http.StatusNoContent, send("u1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
	assert.Equal(t, http.StatusNoContent, send("u2"))
}

func TestRateLimiterSweep(t *testing.T) {
	limiter := NewRateLimiter(1, 1)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	limiter.Allow("a")
	limiter.Allow("b")
	require.Equal(t, 2, limiter.size())

	now = now.Add(limiterIdleTTL / 2)
	limiter.Allow("b")
	now = now.Add(limiterIdleTTL/2 + time.Second)
	limiter.Sweep()
	assert.Equal(t, 1, limiter.size())

	limiter.Start()
	limiter.Stop()
	limiter.Stop()
}
