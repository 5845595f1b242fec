package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const actorKey ctxKey = iota

// Claims carries the caller identity: the JWT subject is the actor id.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Authenticator validates HS256 bearer tokens and stores the caller in the request
// context. Requests without a valid token are rejected with 401.
func Authenticator(secret []byte) func(http.Handler) http.Handler {
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || raw == "" {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "missing bearer token")
				return
			}

			var claims Claims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token expired"
				}
				respondError(w, http.StatusUnauthorized, "unauthenticated", msg)
				return
			}
			role, ok := domain.ParseRole(claims.Role)
			if !ok || claims.Subject == "" {
				respondError(w, http.StatusUnauthorized, "unauthenticated", "token lacks subject or role")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), domain.Actor{ID: claims.Subject, Role: role})))
		})
	}
}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func actorFromContext(ctx context.Context) domain.Actor {
	actor, _ := ctx.Value(actorKey).(domain.Actor)
	return actor
}
