package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"vaultauth/internal/auth"
	"vaultauth/internal/auth/kubernetes"
	"vaultauth/internal/auth/tokenbased"
	"vaultauth/internal/vault"
)

const (
	DefaultHealthCheckPath = "/v1/sys/health"
	DefaultSecretPath      = "/v1/secret"
	DefaultAuthMethod      = auth.MethodFallbackToken
	DefaultHealthSchedule  = "@every 30s"
	DefaultHTTPAddr        = ":9102"
	DefaultTimeoutSecs     = 10
)

type Config struct {
	Vault          VaultConfig          `json:"vault"`
	TokenAuth      TokenAuthConfig      `json:"token_auth"`
	KubernetesAuth KubernetesAuthConfig `json:"kubernetes_auth"`
	Retry          RetryConfig          `json:"retry"`
	Health         HealthConfig         `json:"health"`
	Audit          AuditConfig          `json:"audit"`
	Server         ServerConfig         `json:"server"`
}

type VaultConfig struct {
	URL             string `json:"url"`
	Namespace       string `json:"namespace"`
	AuthMethod      string `json:"auth_method"`
	FallbackToken   string `json:"fallback_token"`
	HealthCheckPath string `json:"health_check_path"`
	HealthStandbyOK bool   `json:"health_standby_ok"`
	SecretPath      string `json:"secret_path"`
	FolderPath      string `json:"folder_path"`
	TimeoutSecs     int    `json:"timeout_secs"`
	DisableRenew    bool   `json:"disable_renew"`
}

type TokenAuthConfig struct {
	Token           string `json:"token"`
	TTLSecs         int    `json:"ttl_secs"`
	RenewBufferSecs int    `json:"renew_buffer_secs"`
}

type KubernetesAuthConfig struct {
	Role                    string `json:"role"`
	Mount                   string `json:"mount"`
	TokenPath               string `json:"token_path"`
	Token                   string `json:"token"`
	ExpirationThresholdSecs int    `json:"expiration_threshold_secs"`
}

type RetryConfig struct {
	MaxAttempts int `json:"max_attempts"`
	BaseDelayMS int `json:"base_delay_ms"`
	MaxDelayMS  int `json:"max_delay_ms"`
}

type HealthConfig struct {
	Disabled bool   `json:"disabled"`
	Schedule string `json:"schedule"`
}

type AuditConfig struct {
	PostgresDSN string `json:"postgres_dsn"`
}

type ServerConfig struct {
	HTTPAddr string `json:"http_addr"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := validateSchema(data); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg, cfg.Validate()
}

// ApplyDefaults fills every unset field that has a default.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Vault.AuthMethod) == "" {
		c.Vault.AuthMethod = DefaultAuthMethod
	}
	if strings.TrimSpace(c.Vault.HealthCheckPath) == "" {
		c.Vault.HealthCheckPath = DefaultHealthCheckPath
	}
	if strings.TrimSpace(c.Vault.SecretPath) == "" {
		c.Vault.SecretPath = DefaultSecretPath
	}
	if c.Vault.TimeoutSecs == 0 {
		c.Vault.TimeoutSecs = DefaultTimeoutSecs
	}
	if c.TokenAuth.TTLSecs == 0 {
		c.TokenAuth.TTLSecs = int(tokenbased.DefaultTTL / time.Second)
	}
	if c.TokenAuth.RenewBufferSecs == 0 {
		c.TokenAuth.RenewBufferSecs = int(tokenbased.DefaultRenewBuffer / time.Second)
	}
	if strings.TrimSpace(c.KubernetesAuth.Mount) == "" {
		c.KubernetesAuth.Mount = kubernetes.DefaultMount
	}
	if strings.TrimSpace(c.KubernetesAuth.TokenPath) == "" {
		c.KubernetesAuth.TokenPath = kubernetes.DefaultTokenPath
	}
	if c.KubernetesAuth.ExpirationThresholdSecs == 0 {
		c.KubernetesAuth.ExpirationThresholdSecs = int(kubernetes.DefaultExpirationThreshold / time.Second)
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = auth.DefaultMaxAttempts
	}
	if c.Retry.BaseDelayMS == 0 {
		c.Retry.BaseDelayMS = int(auth.DefaultBaseDelay / time.Millisecond)
	}
	if c.Retry.MaxDelayMS == 0 {
		c.Retry.MaxDelayMS = int(auth.DefaultMaxDelay / time.Millisecond)
	}
	if strings.TrimSpace(c.Health.Schedule) == "" {
		c.Health.Schedule = DefaultHealthSchedule
	}
	if strings.TrimSpace(c.Server.HTTPAddr) == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
}

// Validate checks a config with defaults applied.
func (c Config) Validate() error {
	if err := vault.ValidateURL(c.Vault.URL); err != nil {
		return err
	}
	if c.Vault.TimeoutSecs < 0 {
		return errors.New("vault.timeout_secs must not be negative")
	}
	switch c.Vault.AuthMethod {
	case auth.MethodFallbackToken:
		if strings.TrimSpace(c.Vault.FallbackToken) == "" {
			return errors.New("vault.fallback_token required for auth method " + auth.MethodFallbackToken)
		}
	case auth.MethodTokenBased:
		if err := c.TokenBased().Validate(); err != nil {
			return err
		}
	case auth.MethodKubernetes:
		if err := c.Kubernetes().Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("vault.auth_method %q not supported", c.Vault.AuthMethod)
	}
	if c.Retry.MaxAttempts < 0 || c.Retry.BaseDelayMS < 0 || c.Retry.MaxDelayMS < 0 {
		return errors.New("retry values must not be negative")
	}
	if c.Retry.MaxDelayMS < c.Retry.BaseDelayMS {
		return errors.New("retry.max_delay_ms must not be less than retry.base_delay_ms")
	}
	return nil
}

func (c Config) TokenBased() tokenbased.Settings {
	return tokenbased.Settings{
		URL:         c.Vault.URL,
		Token:       c.TokenAuth.Token,
		TTL:         time.Duration(c.TokenAuth.TTLSecs) * time.Second,
		RenewBuffer: time.Duration(c.TokenAuth.RenewBufferSecs) * time.Second,
	}
}

func (c Config) Kubernetes() kubernetes.Settings {
	return kubernetes.Settings{
		Role:                c.KubernetesAuth.Role,
		Mount:               c.KubernetesAuth.Mount,
		TokenPath:           c.KubernetesAuth.TokenPath,
		Token:               c.KubernetesAuth.Token,
		ExpirationThreshold: time.Duration(c.KubernetesAuth.ExpirationThresholdSecs) * time.Second,
	}
}

// Margin is how long before expiry the configured method replaces its token.
func (c Config) Margin() time.Duration {
	switch c.Vault.AuthMethod {
	case auth.MethodTokenBased:
		return time.Duration(c.TokenAuth.RenewBufferSecs) * time.Second
	case auth.MethodKubernetes:
		return time.Duration(c.KubernetesAuth.ExpirationThresholdSecs) * time.Second
	default:
		return auth.DefaultMargin
	}
}

func (c Config) Timeout() time.Duration {
	return time.Duration(c.Vault.TimeoutSecs) * time.Second
}
