// Package bootstrap assembles the Vault client, auth providers and background
// tasks described by a config.Config.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"vaultauth/internal/audit"
	"vaultauth/internal/auth"
	"vaultauth/internal/auth/kubernetes"
	"vaultauth/internal/auth/tokenbased"
	"vaultauth/internal/config"
	"vaultauth/internal/health"
	"vaultauth/internal/vault"
)

var openAudit = func(dsn string) (audit.Writer, func() error, error) {
	pg, err := audit.NewPostgres(dsn)
	if err != nil {
		return nil, nil, err
	}
	return pg, pg.Close, nil
}

// Stack is everything a process needs to talk to Vault.
type Stack struct {
	Config   config.Config
	Registry *auth.Registry
	// Providers holds the caching provider of every registered method
	// except fallbackToken.
	Providers map[string]*auth.Provider
	Auth      auth.Auth
	Client    *vault.Client
	Renew     *auth.RenewTask
	Monitor   *health.Monitor
	Audit     *audit.Store
	Logger    *slog.Logger

	closers []func() error
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// Build wires a Stack from cfg. A nil doer uses an http.Client with the
// configured timeout.
func Build(cfg config.Config, doer vault.Doer) (*Stack, error) {
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout()}
	}
	s := &Stack{
		Config:    cfg,
		Registry:  auth.NewRegistry(cfg.Vault.FallbackToken),
		Providers: map[string]*auth.Provider{},
		Audit:     audit.New(),
		Logger:    slog.Default(),
	}
	if dsn := strings.TrimSpace(cfg.Audit.PostgresDSN); dsn != "" {
		w, closeFn, err := openAudit(dsn)
		if err != nil {
			return nil, fmt.Errorf("audit: %w", err)
		}
		s.Audit = audit.NewWithDB(w)
		s.closers = append(s.closers, closeFn)
	}

	client, err := vault.NewClient(vault.Settings{
		URL:             cfg.Vault.URL,
		Namespace:       cfg.Vault.Namespace,
		HealthCheckPath: cfg.Vault.HealthCheckPath,
		HealthStandbyOK: cfg.Vault.HealthStandbyOK,
		SecretPath:      cfg.Vault.SecretPath,
		FolderPath:      cfg.Vault.FolderPath,
	}, doer, nil)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Client = client

	if err := s.registerMethods(); err != nil {
		s.Close()
		return nil, err
	}
	a, err := s.Registry.Resolve(cfg.Vault.AuthMethod)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Auth = a
	client.Auth = a

	if p, ok := s.Providers[cfg.Vault.AuthMethod]; ok && !cfg.Vault.DisableRenew {
		s.Renew = auth.NewRenewTask(p, cfg.Margin())
	}
	if !cfg.Health.Disabled {
		if _, err := health.ParseSchedule(cfg.Health.Schedule); err != nil {
			s.Close()
			return nil, fmt.Errorf("health.schedule: %w", err)
		}
		s.Monitor = health.NewMonitor(client, cfg.Health.Schedule)
	}
	return s, nil
}

// registerMethods registers every method whose settings are complete. The
// configured method has already been validated by config.Validate.
func (s *Stack) registerMethods() error {
	cfg := s.Config
	if tb := cfg.TokenBased().WithDefaults(); tb.Validate() == nil {
		authn, err := tokenbased.New(s.Client, tb)
		if err != nil {
			return err
		}
		if err := s.registerProvider(auth.MethodTokenBased, "", authn, tb.RenewBuffer); err != nil {
			return err
		}
	}
	if k := cfg.Kubernetes().WithDefaults(); k.Validate() == nil {
		authn, err := kubernetes.New(s.Client, k)
		if err != nil {
			return err
		}
		if err := s.registerProvider(auth.MethodKubernetes, k.Role, authn, k.ExpirationThreshold); err != nil {
			return err
		}
	}
	return nil
}

func (s *Stack) registerProvider(method, role string, authn auth.Authenticator, margin time.Duration) error {
	p, err := auth.NewProvider(auth.Config{Method: method, Role: role, Endpoint: s.Config.Vault.URL}, authn, auth.ProviderOptions{
		Margin:      margin,
		Timeout:     s.Config.Timeout(),
		MaxAttempts: s.Config.Retry.MaxAttempts,
		BaseDelay:   time.Duration(s.Config.Retry.BaseDelayMS) * time.Millisecond,
		MaxDelay:    time.Duration(s.Config.Retry.MaxDelayMS) * time.Millisecond,
		Audit:       s.Audit,
	})
	if err != nil {
		return err
	}
	s.Providers[method] = p
	return s.Registry.Register(method, p)
}

// Provider returns the caching provider of the configured method, if any.
func (s *Stack) Provider() (*auth.Provider, bool) {
	p, ok := s.Providers[s.Config.Vault.AuthMethod]
	return p, ok
}

// Start launches the renew task and health monitor. Both stop when ctx is
// done or Close is called.
func (s *Stack) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	if s.Renew != nil {
		if err := s.Renew.Start(ctx); err != nil {
			cancel()
			return err
		}
	}
	if s.Monitor != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.Monitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.Logger.Error("health monitor stopped", "error", err)
			}
		}()
	}
	return nil
}

// Ready reports whether Vault answered the last health check. Without a
// monitor the stack is always ready.
func (s *Stack) Ready() bool {
	if s.Monitor == nil {
		return true
	}
	return s.Monitor.Ready()
}

func (s *Stack) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.Renew != nil {
		s.Renew.Stop()
	}
	s.wg.Wait()
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
