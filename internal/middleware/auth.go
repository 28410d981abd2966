package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"hive-chat/internal/identity"
)

const (
	UserIDKey   = "userID"
	IdentityKey = "identity"
)

// TokenVerifier validates an identity provider token.
type TokenVerifier interface {
	Verify(token string) (identity.Identity, error)
}

// AuthMiddleware validates the bearer token of the request. Websocket upgrades cannot carry
// headers from browsers, so a token query parameter is accepted as well.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(UserIDKey, id.UID)
		c.Set(IdentityKey, id)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if q := c.Query("token"); q != "" {
			return q, true
		}
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", true
	}
	return strings.TrimSpace(parts[1]), true
}

// IdentityFrom returns the identity stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (identity.Identity, bool) {
	val, ok := c.Get(IdentityKey)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := val.(identity.Identity)
	return id, ok
}
