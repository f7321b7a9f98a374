// Package health polls Vault's health endpoint on a cron schedule and keeps
// the latest result for readiness checks.
package health

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"vaultauth/internal/metrics"
	"vaultauth/internal/vault"
)

const DefaultSchedule = "@every 30s"

type Checker interface {
	Health(ctx context.Context) (vault.HealthStatus, error)
}

// Result is the outcome of one health check.
type Result struct {
	Healthy   bool               `json:"healthy"`
	CheckedAt time.Time          `json:"checked_at"`
	Status    vault.HealthStatus `json:"status"`
	Error     string             `json:"error,omitempty"`
}

type Monitor struct {
	Checker  Checker
	Schedule string
	Parser   *cron.Parser
	Now      func() time.Time
	Logger   *slog.Logger

	mu   sync.RWMutex
	last Result
}

func NewMonitor(checker Checker, schedule string) *Monitor {
	return &Monitor{Checker: checker, Schedule: schedule}
}

// ParseSchedule accepts five-field cron expressions and descriptors such as
// "@every 30s".
func ParseSchedule(expr string) (cron.Schedule, error) {
	return newParser().Parse(strings.TrimSpace(expr))
}

func newParser() *cron.Parser {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &parser
}

func (m *Monitor) defaults() {
	if m.Now == nil {
		m.Now = time.Now
	}
	if m.Parser == nil {
		m.Parser = newParser()
	}
	if strings.TrimSpace(m.Schedule) == "" {
		m.Schedule = DefaultSchedule
	}
	if m.Logger == nil {
		m.Logger = slog.Default()
	}
}

// Run checks once immediately and then on every schedule tick until ctx is
// done.
func (m *Monitor) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.Checker == nil {
		return errors.New("checker required")
	}
	m.defaults()
	spec, err := m.Parser.Parse(strings.TrimSpace(m.Schedule))
	if err != nil {
		return err
	}
	m.RunOnce(ctx)
	for {
		now := m.Now()
		wait := spec.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single check and records the result.
func (m *Monitor) RunOnce(ctx context.Context) Result {
	m.defaults()
	res := Result{CheckedAt: m.Now().UTC()}
	if m.Checker == nil {
		res.Error = "checker required"
	} else {
		status, err := m.Checker.Health(ctx)
		res.Status = status
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Healthy = true
		}
	}
	if res.Healthy {
		metrics.VaultUp.Set(1)
	} else {
		metrics.VaultUp.Set(0)
		m.Logger.Warn("vault health check failed", "error", res.Error, "status_code", res.Status.StatusCode)
	}
	m.mu.Lock()
	prev := m.last
	m.last = res
	m.mu.Unlock()
	if res.Healthy && !prev.CheckedAt.IsZero() && !prev.Healthy {
		m.Logger.Info("vault healthy again")
	}
	return res
}

// Last returns the most recent result and whether any check ran yet.
func (m *Monitor) Last() (Result, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, !m.last.CheckedAt.IsZero()
}

// Ready reports whether the latest check succeeded.
func (m *Monitor) Ready() bool {
	res, ok := m.Last()
	return ok && res.Healthy
}
