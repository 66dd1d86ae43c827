package verification

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	idTokenIssuer   = "p3am-local-verifier"
	idTokenAudience = "p3am"
	idTokenTTL      = 5 * time.Minute
)

// ErrInvalidIDToken is returned by ParseIDToken for any token it will not accept.
var ErrInvalidIDToken = errors.New("invalid id token")

// IDTokenClaims are carried by ID tokens minted by the local provider.
type IDTokenClaims struct {
	PhoneNumber string `json:"phone_number"`
	jwt.RegisteredClaims
}

func signIDToken(key []byte, phoneNumber string, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, IDTokenClaims{
		PhoneNumber: phoneNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   phoneNumber,
			Issuer:    idTokenIssuer,
			Audience:  []string{idTokenAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(idTokenTTL)),
			ID:        uuid.NewString(),
		},
	})
	signed, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("sign id token: %w", err)
	}
	return signed, nil
}

// ParseIDToken validates an ID token minted by the local provider and
// returns its claims.
func ParseIDToken(key []byte, tokenString string) (*IDTokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &IDTokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return key, nil
	},
		jwt.WithIssuer(idTokenIssuer),
		jwt.WithAudience(idTokenAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	claims, ok := parsed.Claims.(*IDTokenClaims)
	if !ok || !parsed.Valid || claims.PhoneNumber == "" {
		return nil, ErrInvalidIDToken
	}
	return claims, nil
}
