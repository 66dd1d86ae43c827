package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"p3am/pkg/platform/httputil"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*TokenClaims, error)
}

// TokenClaims is what RequireAuth stores for downstream handlers.
type TokenClaims struct {
	Username string
	TokenID  string
}

type contextKeyClaims struct{}

// GetClaims returns the claims stored by RequireAuth, or nil.
func GetClaims(ctx context.Context) *TokenClaims {
	claims, _ := ctx.Value(contextKeyClaims{}).(*TokenClaims)
	return claims
}

// WithClaims is exported for handler tests.
func WithClaims(ctx context.Context, claims *TokenClaims) context.Context {
	return context.WithValue(ctx, contextKeyClaims{}, claims)
}

// RequireAuth rejects requests without a valid "Authorization: Bearer" token
// with 401.
func RequireAuth(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", GetRequestID(ctx),
				)
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", GetRequestID(ctx),
				)
				httputil.WriteError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
		})
	}
}
