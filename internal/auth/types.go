package auth

import (
	"context"
	"time"
)

// Method names registered in the Registry.
const (
	MethodFallbackToken = "fallbackToken"
	MethodTokenBased    = "token-based"
	MethodKubernetes    = "kubernetes"
)

// Config identifies what a provider authenticates as. Method selects the
// Vault auth backend, Role is the role requested at login (unused by the
// token-based method) and Endpoint is the Vault base URL.
type Config struct {
	Method   string
	Role     string
	Endpoint string
}

// Token is a Vault client token as returned by a login or renew call.
// A zero TTL means the token does not expire.
type Token struct {
	Value     string
	Accessor  string
	Policies  []string
	IssuedAt  time.Time
	TTL       time.Duration
	Renewable bool
}

// ExpiresAt returns the zero time for non-expiring tokens.
func (t Token) ExpiresAt() time.Time {
	if t.TTL <= 0 {
		return time.Time{}
	}
	return t.IssuedAt.Add(t.TTL)
}

// ValidAt reports whether the token can still be handed out at now, leaving
// margin before its expiry.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	if t.Value == "" {
		return false
	}
	if t.TTL <= 0 {
		return true
	}
	return now.Before(t.ExpiresAt().Add(-margin))
}

// Auth supplies the token attached to Vault requests.
type Auth interface {
	VaultToken(ctx context.Context) (string, error)
}

// Invalidator is implemented by auths that cache a token which the backend
// may reject before its expiry.
type Invalidator interface {
	Invalidate()
}

// Authenticator performs the login exchange for one auth method.
type Authenticator interface {
	ObtainToken(ctx context.Context, cfg Config) (Token, error)
}

// Refresher extends a still-valid renewable token without a new login.
type Refresher interface {
	RefreshToken(ctx context.Context, cfg Config, current Token) (Token, error)
}
