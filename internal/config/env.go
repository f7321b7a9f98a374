package config

import (
	"os"
	"strings"

	"vaultauth/internal/auth"
)

// Standard Vault client environment variables.
const (
	EnvVaultAddr      = "VAULT_ADDR"
	EnvVaultToken     = "VAULT_TOKEN"
	EnvVaultNamespace = "VAULT_NAMESPACE"
)

var getenv = os.Getenv

// ApplyEnv fills vault settings left empty in the file from the standard
// Vault environment. VAULT_TOKEN seeds both the fallback token and, for the
// token-based method, the token to renew.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(getenv(EnvVaultAddr)); v != "" && strings.TrimSpace(c.Vault.URL) == "" {
		c.Vault.URL = v
	}
	if v := strings.TrimSpace(getenv(EnvVaultNamespace)); v != "" && strings.TrimSpace(c.Vault.Namespace) == "" {
		c.Vault.Namespace = v
	}
	token := strings.TrimSpace(getenv(EnvVaultToken))
	if token == "" {
		return
	}
	if strings.TrimSpace(c.Vault.FallbackToken) == "" {
		c.Vault.FallbackToken = token
	}
	if c.Vault.AuthMethod == auth.MethodTokenBased && strings.TrimSpace(c.TokenAuth.Token) == "" {
		c.TokenAuth.Token = token
	}
}
