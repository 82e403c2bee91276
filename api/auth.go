package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warp/crm-workflow/generic"
)

// =============================================================================
// BEARER AUTHENTICATION
// =============================================================================

// Authenticator verifies HS256 bearer tokens whose subject is a user id in
// the directory. Archived users are refused.
type Authenticator struct {
	secret    []byte
	Directory generic.UserDirectory
	Clock     generic.Clock
	Issuer    string
	Logger    *slog.Logger
}

func NewAuthenticator(secret string, directory generic.UserDirectory, clock generic.Clock) *Authenticator {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Authenticator{
		secret:    []byte(secret),
		Directory: directory,
		Clock:     clock,
		Issuer:    "crm-workflow",
		Logger:    slog.Default().With("component", "api"),
	}
}

var errUnauthenticated = errors.New("unauthenticated")

type actorKey struct{}

// Mint issues a token for userID valid for ttl. Used by tests and the dev
// token flag of cmd/server.
func (a *Authenticator) Mint(userID generic.EntityID, ttl time.Duration) (string, error) {
	now := a.Clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   string(userID),
		Issuer:    a.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	return token.SignedString(a.secret)
}

// Verify parses raw and returns the active user it names.
func (a *Authenticator) Verify(ctx context.Context, raw string) (generic.User, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.Issuer),
		jwt.WithTimeFunc(a.Clock.Now),
		jwt.WithLeeway(30*time.Second),
	)
	if err != nil {
		return generic.User{}, fmt.Errorf("%w: %v", errUnauthenticated, err)
	}
	if claims.Subject == "" {
		return generic.User{}, fmt.Errorf("%w: token has no subject", errUnauthenticated)
	}
	user, err := a.Directory.GetUser(ctx, generic.EntityID(claims.Subject))
	if err != nil {
		if generic.IsNotFound(err) {
			return generic.User{}, fmt.Errorf("%w: unknown user", errUnauthenticated)
		}
		return generic.User{}, generic.Storage("load user", err)
	}
	if !user.Active() {
		return generic.User{}, fmt.Errorf("%w: user is archived", errUnauthenticated)
	}
	return user, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(a.Logger, w, r, fmt.Errorf("%w: missing bearer token", errUnauthenticated))
			return
		}
		user, err := a.Verify(r.Context(), strings.TrimSpace(raw))
		if err != nil {
			writeError(a.Logger, w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, user)))
	})
}

// actor returns the authenticated caller.
func actor(r *http.Request) generic.User {
	u, _ := r.Context().Value(actorKey{}).(generic.User)
	return u
}
