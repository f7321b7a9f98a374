// Package tokenbased authenticates with a pre-issued Vault token. The token
// is validated through lookup-self and kept alive through renew-self.
package tokenbased

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"vaultauth/internal/auth"
	"vaultauth/internal/vault"
)

const (
	DefaultTTL         = 300 * time.Second
	DefaultRenewBuffer = 30 * time.Second
	MinTTL             = 5 * time.Second
)

// TokenClient is the part of the Vault client this method needs.
type TokenClient interface {
	LookupSelf(ctx context.Context, token string) (auth.Token, error)
	RenewSelf(ctx context.Context, token string, increment time.Duration) (auth.Token, error)
}

// Settings configure the token-based method. TTL is the increment requested
// on each renewal and RenewBuffer how long before expiry renewal happens.
type Settings struct {
	URL         string
	Token       string
	TTL         time.Duration
	RenewBuffer time.Duration
}

func (s Settings) WithDefaults() Settings {
	if s.TTL == 0 {
		s.TTL = DefaultTTL
	}
	if s.RenewBuffer == 0 {
		s.RenewBuffer = DefaultRenewBuffer
	}
	return s
}

func (s Settings) Validate() error {
	if err := vault.ValidateURL(s.URL); err != nil {
		return err
	}
	if strings.TrimSpace(s.Token) == "" {
		return errors.New("vault token must not be empty")
	}
	if s.TTL < MinTTL {
		return errors.New("vault token ttl minimum value is 5")
	}
	if s.RenewBuffer >= s.TTL {
		return errors.New("vault token renew buffer value must be less than ttl value")
	}
	return nil
}

type Authenticator struct {
	Client   TokenClient
	Settings Settings
	Logger   *slog.Logger
}

func New(client TokenClient, settings Settings) (*Authenticator, error) {
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
		Logger:   slog.Default().With(slog.String("auth_method", auth.MethodTokenBased)),
	}, nil
}

// ObtainToken validates the configured token. A renewable token already
// inside the renew buffer is renewed straight away.
func (a *Authenticator) ObtainToken(ctx context.Context, _ auth.Config) (auth.Token, error) {
	tok, err := a.Client.LookupSelf(ctx, a.Settings.Token)
	if err != nil {
		return auth.Token{}, err
	}
	if tok.Renewable && tok.TTL > 0 && tok.TTL <= a.Settings.RenewBuffer {
		a.Logger.Info("vault token close to expiry, renewing", "ttl", tok.TTL)
		return a.Client.RenewSelf(ctx, a.Settings.Token, a.Settings.TTL)
	}
	return tok, nil
}

// RefreshToken renews current by the configured TTL.
func (a *Authenticator) RefreshToken(ctx context.Context, _ auth.Config, current auth.Token) (auth.Token, error) {
	value := current.Value
	if value == "" {
		value = a.Settings.Token
	}
	return a.Client.RenewSelf(ctx, value, a.Settings.TTL)
}
