package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"

	"vaultauth/internal/audit"
	"vaultauth/internal/metrics"
)

const (
	DefaultMargin      = 30 * time.Second
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
)

const flightKey = "token"

// ProviderOptions tunes a Provider. Zero values take the package defaults.
type ProviderOptions struct {
	// Margin is how long before expiry a cached token stops being handed
	// out.
	Margin time.Duration
	// Timeout bounds each individual backend call.
	Timeout time.Duration
	// MaxAttempts caps calls per login or renewal, first attempt included.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// NewBackoff overrides the delay sequence between attempts. The result
	// is still capped at MaxAttempts.
	NewBackoff func() retry.Backoff
	Now        func() time.Time
	Logger     *slog.Logger
	Audit      *audit.Store
}

func (o ProviderOptions) withDefaults() ProviderOptions {
	if o.Margin <= 0 {
		o.Margin = DefaultMargin
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = DefaultMaxDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Provider caches one Vault token and refreshes it on demand. Concurrent
// callers that find the cache stale share a single backend refresh.
type Provider struct {
	cfg   Config
	authn Authenticator
	opts  ProviderOptions

	mu    sync.RWMutex
	token Token

	group singleflight.Group
}

func NewProvider(cfg Config, authn Authenticator, opts ProviderOptions) (*Provider, error) {
	if strings.TrimSpace(cfg.Method) == "" {
		return nil, errors.New("auth method required")
	}
	if authn == nil {
		return nil, errors.New("authenticator required")
	}
	opts = opts.withDefaults()
	opts.Logger = opts.Logger.With(slog.String("auth_method", cfg.Method))
	return &Provider{cfg: cfg, authn: authn, opts: opts}, nil
}

// Config returns a copy of the provider's configuration.
func (p *Provider) Config() Config {
	return p.cfg
}

// Margin returns the renewal margin in effect.
func (p *Provider) Margin() time.Duration {
	return p.opts.Margin
}

// Cached returns the cached token, valid or not.
func (p *Provider) Cached() (Token, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.token, p.token.Value != ""
}

// VaultToken implements Auth.
func (p *Provider) VaultToken(ctx context.Context) (string, error) {
	tok, err := p.ValidToken(ctx)
	if err != nil {
		return "", err
	}
	return tok.Value, nil
}

// ValidToken returns the cached token while it is valid with margin and
// refreshes it synchronously otherwise.
func (p *Provider) ValidToken(ctx context.Context) (Token, error) {
	if tok, ok := p.fresh(); ok {
		metrics.TokenCacheTotal.WithLabelValues(p.cfg.Method, "hit").Inc()
		return tok, nil
	}
	metrics.TokenCacheTotal.WithLabelValues(p.cfg.Method, "miss").Inc()
	return p.refresh(ctx, false)
}

// ObtainToken performs a fresh login regardless of the cached token.
func (p *Provider) ObtainToken(ctx context.Context) (Token, error) {
	return p.do(ctx, func(ctx context.Context) (Token, error) {
		return p.login(ctx)
	})
}

// Refresh renews the cached token when possible and logs in otherwise. The
// renew task calls it ahead of expiry.
func (p *Provider) Refresh(ctx context.Context) (Token, error) {
	return p.refresh(ctx, true)
}

// Invalidate drops the cached token so the next caller logs in again.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	old := p.token
	p.token = Token{}
	p.mu.Unlock()
	if old.Value == "" {
		return
	}
	metrics.TokenInvalidationsTotal.WithLabelValues(p.cfg.Method).Inc()
	p.opts.Logger.Warn("vault token invalidated", "accessor", old.Accessor)
	p.record(context.Background(), audit.Event{
		Action:   audit.ActionInvalidate,
		Outcome:  audit.OutcomeSuccess,
		Accessor: old.Accessor,
	})
}

func (p *Provider) fresh() (Token, bool) {
	p.mu.RLock()
	tok := p.token
	p.mu.RUnlock()
	return tok, tok.ValidAt(p.opts.Now(), p.opts.Margin)
}

func (p *Provider) refresh(ctx context.Context, force bool) (Token, error) {
	return p.do(ctx, func(ctx context.Context) (Token, error) {
		// A refresh may have completed between the cache check and joining.
		if tok, ok := p.fresh(); ok && !force {
			return tok, nil
		}
		return p.renewOrLogin(ctx)
	})
}

// do runs fn at most once at a time. The shared call is detached from the
// caller's cancellation; each caller still stops waiting when its own ctx
// is done.
func (p *Provider) do(ctx context.Context, fn func(context.Context) (Token, error)) (Token, error) {
	shared := context.WithoutCancel(ctx)
	ch := p.group.DoChan(flightKey, func() (any, error) {
		return fn(shared)
	})
	select {
	case <-ctx.Done():
		return Token{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

func (p *Provider) renewOrLogin(ctx context.Context) (Token, error) {
	p.mu.RLock()
	current := p.token
	p.mu.RUnlock()

	if r, ok := p.authn.(Refresher); ok && current.Renewable && current.ValidAt(p.opts.Now(), 0) {
		tok, err := p.attempt(ctx, audit.ActionRenew, func(ctx context.Context) (Token, error) {
			return r.RefreshToken(ctx, p.cfg, current)
		})
		switch {
		case err == nil:
			return p.store(tok), nil
		case KindOf(err) == KindTokenExpired:
			// Vault caps renewals at the role's max TTL.
			p.opts.Logger.Info("renewed vault token expires within margin, logging in again", "error", err)
		case IsTransient(err):
			return Token{}, err
		default:
			p.opts.Logger.Info("vault token renewal rejected, logging in again", "error", err)
		}
	}
	return p.login(ctx)
}

func (p *Provider) login(ctx context.Context) (Token, error) {
	tok, err := p.attempt(ctx, audit.ActionLogin, func(ctx context.Context) (Token, error) {
		return p.authn.ObtainToken(ctx, p.cfg)
	})
	if err != nil {
		return Token{}, err
	}
	return p.store(tok), nil
}

// check stamps IssuedAt and rejects a token that is already inside the
// margin.
func (p *Provider) check(tok Token) (Token, error) {
	now := p.opts.Now()
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = now
	}
	if !tok.ValidAt(now, p.opts.Margin) {
		err := fmt.Errorf("token ttl %s does not exceed renewal margin %s", tok.TTL, p.opts.Margin)
		return Token{}, TokenExpired("store", err)
	}
	return tok, nil
}

// store caches a token that passed check.
func (p *Provider) store(tok Token) Token {
	p.mu.Lock()
	p.token = tok
	p.mu.Unlock()
	metrics.TokenTTLSeconds.WithLabelValues(p.cfg.Method).Set(tok.TTL.Seconds())
	return tok
}

func (p *Provider) attempt(ctx context.Context, action string, fn func(context.Context) (Token, error)) (Token, error) {
	start := time.Now()
	attempts := 0
	var tok Token
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempts++
		metrics.TokenOperationAttempts.WithLabelValues(p.cfg.Method, action).Inc()
		callCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
		t, err := fn(callCtx)
		if err != nil {
			if IsTransient(err) {
				p.opts.Logger.Warn("vault "+action+" failed, retrying", "attempt", attempts, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		tok = t
		return nil
	})
	if err == nil {
		tok, err = p.check(tok)
	}
	err = withMethod(err, p.cfg.Method)

	metrics.TokenOperationsTotal.WithLabelValues(p.cfg.Method, action, metrics.Outcome(err)).Inc()
	metrics.TokenOperationDuration.WithLabelValues(p.cfg.Method, action).Observe(time.Since(start).Seconds())

	ev := audit.Event{Action: action, Attempts: attempts}
	if err != nil {
		ev.Outcome = audit.OutcomeFailure
		ev.Detail = err.Error()
		p.opts.Logger.Error("vault "+action+" failed", "attempts", attempts, "error", err)
	} else {
		ev.Outcome = audit.OutcomeSuccess
		ev.Accessor = tok.Accessor
		ev.TTL = tok.TTL
		p.opts.Logger.Debug("vault "+action+" succeeded", "attempts", attempts, "ttl", tok.TTL, "renewable", tok.Renewable)
	}
	p.record(ctx, ev)
	return tok, err
}

func (p *Provider) backoff() retry.Backoff {
	var b retry.Backoff
	if p.opts.NewBackoff != nil {
		b = p.opts.NewBackoff()
	} else {
		b = retry.WithCappedDuration(p.opts.MaxDelay, retry.NewExponential(p.opts.BaseDelay))
	}
	return retry.WithMaxRetries(uint64(p.opts.MaxAttempts-1), b)
}

func (p *Provider) record(ctx context.Context, ev audit.Event) {
	ev.Method = p.cfg.Method
	if err := p.opts.Audit.Record(ctx, ev); err != nil {
		p.opts.Logger.Warn("audit record failed", "action", ev.Action, "error", err)
	}
}
