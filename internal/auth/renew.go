package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	renewMinDelay   = time.Second
	renewMaxBackoff = 5 * time.Minute
)

// RenewTask keeps a provider's token fresh in the background by refreshing
// it Buffer before expiry. Call Stop before shutdown.
type RenewTask struct {
	Provider *Provider
	// Buffer defaults to the provider margin.
	Buffer time.Duration
	Logger *slog.Logger
	Now    func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRenewTask(p *Provider, buffer time.Duration) *RenewTask {
	return &RenewTask{Provider: p, Buffer: buffer}
}

// Start launches the renewal loop. Starting a running task is a no-op.
func (t *RenewTask) Start(ctx context.Context) error {
	if t.Provider == nil {
		return errors.New("provider required")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running() {
		return nil
	}
	if t.Logger == nil {
		t.Logger = slog.Default().With(slog.String("auth_method", t.Provider.Config().Method))
	}
	if t.Now == nil {
		t.Now = time.Now
	}
	if t.Buffer <= 0 {
		t.Buffer = t.Provider.Margin()
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	go func() {
		defer close(done)
		t.run(runCtx)
	}()
	return nil
}

// Stop cancels the loop and waits for it to exit.
func (t *RenewTask) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (t *RenewTask) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running()
}

func (t *RenewTask) running() bool {
	if t.done == nil {
		return false
	}
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

func (t *RenewTask) run(ctx context.Context) {
	backoff := renewMinDelay
	tok, err := t.Provider.ValidToken(ctx)
	for {
		var delay time.Duration
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.Logger.Warn("scheduled token renewal failed", "error", err, "retry_in", backoff)
			delay = backoff
			backoff *= 2
			if backoff > renewMaxBackoff {
				backoff = renewMaxBackoff
			}
		} else {
			backoff = renewMinDelay
			if tok.TTL <= 0 {
				t.Logger.Info("vault token does not expire, scheduled renewal stopped")
				return
			}
			delay = tok.ExpiresAt().Add(-t.Buffer).Sub(t.Now())
			if delay < renewMinDelay {
				delay = renewMinDelay
			}
			t.Logger.Debug("next vault token renewal scheduled", "in", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		tok, err = t.Provider.Refresh(ctx)
	}
}
