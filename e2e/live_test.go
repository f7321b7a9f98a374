//go:build integration

package e2e_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"vaultauth/internal/auth"
	"vaultauth/internal/bootstrap"
	"vaultauth/internal/config"
	"vaultauth/internal/vault"
)

// liveConfig targets the Vault named by VAULT_ADDR, typically a dev server
// started with `vault server -dev`.
func liveConfig(t *testing.T) config.Config {
	t.Helper()
	addr, token := os.Getenv("VAULT_ADDR"), os.Getenv("VAULT_TOKEN")
	if addr == "" || token == "" {
		t.Skip("VAULT_ADDR and VAULT_TOKEN required")
	}
	cfg := config.Config{}
	cfg.Vault.URL = addr
	cfg.Vault.AuthMethod = auth.MethodTokenBased
	cfg.Vault.FallbackToken = token
	cfg.Vault.DisableRenew = true
	cfg.Health.Disabled = true
	cfg.TokenAuth.Token = token
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func TestLiveHealth(t *testing.T) {
	s, err := bootstrap.Build(liveConfig(t), nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Close()
	hs, err := s.Client.Health(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !hs.Initialized || hs.Sealed {
		t.Fatalf("status: %#v", hs)
	}
	t.Log("vault version: ", hs.Version)
}

func TestLiveTokenBased(t *testing.T) {
	s, err := bootstrap.Build(liveConfig(t), nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Close()
	p, ok := s.Provider()
	if !ok {
		t.Fatalf("token-based provider missing")
	}
	tok, err := p.ValidToken(context.Background())
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	again, err := p.ValidToken(context.Background())
	if err != nil || again.Value != tok.Value {
		t.Fatalf("cached token changed: %v", err)
	}
}

func TestLiveSecretRoundTrip(t *testing.T) {
	s, err := bootstrap.Build(liveConfig(t), nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	key := fmt.Sprintf("vaultauth-e2e/%d", time.Now().UnixNano())
	meta, err := s.Client.SetSecret(ctx, key, "live-value")
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if meta.Version < 1 {
		t.Fatalf("meta: %#v", meta)
	}
	value, err := s.Client.GetSecret(ctx, key)
	if err != nil || value != "live-value" {
		t.Fatalf("value=%s err=%v", value, err)
	}
	if err := s.Client.DestroySecret(ctx, key); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := s.Client.GetSecret(ctx, key); !errors.Is(err, vault.ErrSecretNotFound) {
		t.Fatalf("after destroy: %v", err)
	}
}

func TestLiveBadTokenRejected(t *testing.T) {
	cfg := liveConfig(t)
	cfg.TokenAuth.Token = "s.definitely-not-valid"
	s, err := bootstrap.Build(cfg, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer s.Close()
	if _, err := s.Auth.VaultToken(context.Background()); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err: %v", err)
	}
}
