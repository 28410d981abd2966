// Package identity verifies the tokens issued by the identity provider.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"hive-chat/internal/models"
)

var (
	ErrMissingSubject = errors.New("token has no subject")
	ErrInvalidToken   = errors.New("invalid token")
)

// Claims are the fields the identity provider puts in its tokens.
type Claims struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
	jwt.RegisteredClaims
}

// Identity is the verified caller.
type Identity struct {
	UID         string
	DisplayName string
	PhotoURL    string
}

// Profile converts the identity into the public profile written on session start.
func (i Identity) Profile() models.Profile {
	return models.Profile{UID: i.UID, DisplayName: i.DisplayName, PhotoURL: i.PhotoURL}
}

// Verifier checks HS256 tokens against a shared secret.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier constructs a Verifier. An empty issuer accepts any iss claim.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses and validates token.
func (v *Verifier) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.Subject == "" {
		return Identity{}, ErrMissingSubject
	}
	return Identity{UID: claims.Subject, DisplayName: claims.Name, PhotoURL: claims.Picture}, nil
}

// Issue signs a token for id. The service never issues tokens to users; tests and local tooling
// use it to mint tokens the verifier accepts.
func (v *Verifier) Issue(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name:    id.DisplayName,
		Picture: id.PhotoURL,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
