package devbackend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"p3am/internal/platform/middleware"
)

const (
	tokenIssuer   = "p3am-devbackend"
	tokenAudience = "p3am-session"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// Claims are carried by session tokens.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 session tokens. Logout revokes a token
// by its jti until the token would have expired anyway.
type Tokens struct {
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

func NewTokens(signingKey string, ttl time.Duration) *Tokens {
	return &Tokens{
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
		revoked:    make(map[string]time.Time),
	}
}

// Issue returns a signed token for username.
func (t *Tokens) Issue(username string) (string, error) {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			Issuer:    tokenIssuer,
			Audience:  []string{tokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(t.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (t *Tokens) parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return t.signingKey, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(tokenAudience),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateToken implements middleware.TokenValidator.
func (t *Tokens) ValidateToken(_ context.Context, tokenString string) (*middleware.TokenClaims, error) {
	claims, err := t.parse(tokenString)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	_, revoked := t.revoked[claims.ID]
	t.mu.Unlock()
	if revoked {
		return nil, ErrTokenRevoked
	}
	return &middleware.TokenClaims{Username: claims.Username, TokenID: claims.ID}, nil
}

// Revoke blacklists a token id until expiresAt.
func (t *Tokens) Revoke(tokenID string, expiresAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for id, exp := range t.revoked {
		if !exp.After(now) {
			delete(t.revoked, id)
		}
	}
	t.revoked[tokenID] = expiresAt
}

// RevokeToken parses tokenString and revokes it.
func (t *Tokens) RevokeToken(tokenString string) error {
	claims, err := t.parse(tokenString)
	if err != nil {
		return err
	}
	t.Revoke(claims.ID, claims.ExpiresAt.Time)
	return nil
}
