// Package kubernetes logs in to Vault with the pod's service account token.
package kubernetes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vaultauth/internal/auth"
)

const (
	DefaultTokenPath           = "/var/run/secrets/kubernetes.io/serviceaccount/token"
	DefaultMount               = "kubernetes"
	DefaultExpirationThreshold = 30 * time.Second
)

var readFile = os.ReadFile

// LoginClient is the part of the Vault client this method needs.
type LoginClient interface {
	LoginKubernetes(ctx context.Context, mount, role, jwt string) (auth.Token, error)
	RenewSelf(ctx context.Context, token string, increment time.Duration) (auth.Token, error)
}

// Settings configure the kubernetes method. Token is used when TokenPath
// cannot be read. ExpirationThreshold is how long before expiry the Vault
// token is replaced.
type Settings struct {
	Role                string
	Mount               string
	TokenPath           string
	Token               string
	ExpirationThreshold time.Duration
}

func (s Settings) WithDefaults() Settings {
	if strings.TrimSpace(s.Mount) == "" {
		s.Mount = DefaultMount
	}
	if strings.TrimSpace(s.TokenPath) == "" {
		s.TokenPath = DefaultTokenPath
	}
	if s.ExpirationThreshold == 0 {
		s.ExpirationThreshold = DefaultExpirationThreshold
	}
	return s
}

func (s Settings) Validate() error {
	if strings.TrimSpace(s.Role) == "" {
		return errors.New("kubernetes auth role must not be empty")
	}
	if s.ExpirationThreshold < 0 {
		return errors.New("kubernetes expiration threshold must not be negative")
	}
	return nil
}

type Authenticator struct {
	Client   LoginClient
	Settings Settings
	Logger   *slog.Logger
	Now      func() time.Time
}

func New(client LoginClient, settings Settings) (*Authenticator, error) {
	if client == nil {
		return nil, errors.New("vault client required")
	}
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Authenticator{
		Client:   client,
		Settings: settings,
		Logger:   slog.Default().With(slog.String("auth_method", auth.MethodKubernetes)),
		Now:      time.Now,
	}, nil
}

// ObtainToken logs in with the current service account token. cfg.Role
// overrides the configured role when set.
func (a *Authenticator) ObtainToken(ctx context.Context, cfg auth.Config) (auth.Token, error) {
	sa, err := a.serviceAccountToken()
	if err != nil {
		return auth.Token{}, err
	}
	role := strings.TrimSpace(cfg.Role)
	if role == "" {
		role = a.Settings.Role
	}
	return a.Client.LoginKubernetes(ctx, a.Settings.Mount, role, sa)
}

// RefreshToken extends current by its default lease.
func (a *Authenticator) RefreshToken(ctx context.Context, _ auth.Config, current auth.Token) (auth.Token, error) {
	return a.Client.RenewSelf(ctx, current.Value, 0)
}

// serviceAccountToken reads the first line of TokenPath, falling back to the
// configured literal token, and rejects an expired JWT before it reaches
// Vault.
func (a *Authenticator) serviceAccountToken() (string, error) {
	const op = "service account token"
	sa := ""
	data, err := readFile(a.Settings.TokenPath)
	if err != nil {
		a.Logger.Warn("cannot read service account token file, using configured token", "path", a.Settings.TokenPath, "error", err)
	} else {
		sa = firstLine(string(data))
	}
	if sa == "" {
		sa = strings.TrimSpace(a.Settings.Token)
	}
	if sa == "" {
		return "", auth.InvalidCredentials(op, errors.New("no service account token available"))
	}
	if err := a.checkExpiry(sa); err != nil {
		return "", auth.InvalidCredentials(op, err)
	}
	return sa, nil
}

func (a *Authenticator) checkExpiry(raw string) error {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return fmt.Errorf("malformed jwt: %w", err)
	}
	if claims.ExpiresAt == nil {
		return nil
	}
	now := time.Now
	if a.Now != nil {
		now = a.Now
	}
	if !now().Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("jwt expired at %s", claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
