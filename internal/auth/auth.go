// Package auth carries the acting user's identity and permissions explicitly
// through service calls.
package auth

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Permissions understood by the approval-chain service.
const (
	PermissionRead  = "approval-chains:read"
	PermissionWrite = "approval-chains:write"
	// PermissionAdmin implies every other permission.
	PermissionAdmin = "approval-chains:admin"
)

// Actor identifies who is calling and on behalf of which organization.
type Actor struct {
	UserID         string
	OrganizationID string
	Permissions    []string
}

// Can reports whether the actor holds permission.
func (a Actor) Can(permission string) bool {
	return slices.Contains(a.Permissions, permission) || slices.Contains(a.Permissions, PermissionAdmin)
}

// Claims is the JWT payload issued by the identity service.
type Claims struct {
	OrganizationID string   `json:"org_id"`
	Permissions    []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Actor converts the claims into an Actor.
func (c *Claims) Actor() Actor {
	return Actor{
		UserID:         c.Subject,
		OrganizationID: c.OrganizationID,
		Permissions:    c.Permissions,
	}
}

// TokenVerifier validates HMAC-signed bearer tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier creates a verifier for the given shared secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Verify parses and validates a token, returning its Actor.
func (v *TokenVerifier) Verify(token string) (Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Actor{}, fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid {
		return Actor{}, fmt.Errorf("invalid token")
	}
	if claims.Subject == "" || claims.OrganizationID == "" {
		return Actor{}, fmt.Errorf("token is missing sub or org_id")
	}
	return claims.Actor(), nil
}

// Issue signs a token for actor. Used by tooling and tests.
func (v *TokenVerifier) Issue(actor Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		OrganizationID: actor.OrganizationID,
		Permissions:    actor.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

type actorKey struct{}

// WithActor stores actor in ctx.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor stored by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}

type tokenKey struct{}

// WithToken stores the raw bearer token so outgoing calls can forward it.
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token stored by WithToken.
func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenKey{}).(string)
	return token
}
