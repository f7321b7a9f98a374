package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// StaticToken hands out a fixed token. It backs the fallbackToken method,
// which is meant for development and tests only.
type StaticToken string

func (s StaticToken) VaultToken(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", InvalidCredentials("static token", errors.New("token not configured"))
	}
	return string(s), nil
}

// Registry maps auth method names to their implementation.
type Registry struct {
	mu       sync.RWMutex
	services map[string]Auth
}

// NewRegistry returns a registry with the fallbackToken method registered.
func NewRegistry(fallbackToken string) *Registry {
	return &Registry{services: map[string]Auth{
		MethodFallbackToken: StaticToken(fallbackToken),
	}}
}

func (r *Registry) Register(method string, a Auth) error {
	method = strings.TrimSpace(method)
	if method == "" {
		return errors.New("auth method required")
	}
	if a == nil {
		return errors.New("auth implementation required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.services == nil {
		r.services = map[string]Auth{}
	}
	r.services[method] = a
	return nil
}

func (r *Registry) Resolve(method string) (Auth, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.services[strings.TrimSpace(method)]
	if !ok {
		return nil, fmt.Errorf("vault auth method %q not registered", method)
	}
	return a, nil
}

func (r *Registry) HasService(method string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.services[strings.TrimSpace(method)]
	return ok
}

// Methods lists registered method names in sorted order.
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services))
	for m := range r.services {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
