// Package identity resolves bearer credentials into the caller's user identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teamup-messaging/internal/storage"
)

const issuer = "teamup"

var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is the verified caller
type Identity struct {
	ID       int64
	Username string
}

// UserFinder looks users up by username; *storage.Store implements it
type UserFinder interface {
	UserByUsername(ctx context.Context, username string) (storage.User, error)
}

// Resolver turns a signed token into an Identity
type Resolver struct {
	secret []byte
	users  UserFinder
}

// NewResolver returns Resolver verifying HS256 tokens signed with secret
func NewResolver(secret string, users UserFinder) *Resolver {
	return &Resolver{
		secret: []byte(secret),
		users:  users,
	}
}

// Resolve verifies token and loads the user named by its subject.
// Every failure is reported as ErrUnauthenticated.
func (r *Resolver) Resolve(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", ErrUnauthenticated)
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}

	u, err := r.users.UserByUsername(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return Identity{}, fmt.Errorf("%w: user not found", ErrUnauthenticated)
		}
		return Identity{}, err
	}

	return Identity{ID: u.ID, Username: u.Username}, nil
}

// TokenFromRequest extracts the credential from the "Authorization: Bearer" header, falling back to
// the token query parameter used by browser websocket clients
func TokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Issuer signs tokens accepted by Resolver. Used by tests and local tooling.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// NewIssuer returns Issuer signing with secret tokens valid for ttl
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token whose subject is username
func (i *Issuer) Issue(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying id
func NewContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the Identity stored by NewContext
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}
