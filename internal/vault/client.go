package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vaultauth/internal/auth"
)

const (
	HeaderToken     = "X-Vault-Token"
	HeaderNamespace = "X-Vault-Namespace"
	HeaderRequest   = "X-Vault-Request"

	DefaultHealthPath = "/v1/sys/health"
	DefaultSecretPath = "/v1/secret"
	DefaultTimeout    = 10 * time.Second

	maxErrorBody = 4 << 10
)

// Doer is the HTTP capability the client needs. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Settings describes where the Vault API lives.
type Settings struct {
	URL             string
	Namespace       string
	HealthCheckPath string
	HealthStandbyOK bool
	SecretPath      string
	FolderPath      string
}

// Client talks to the Vault HTTP API. Secret operations authenticate through
// Auth; login and token endpoints take their credential explicitly.
type Client struct {
	HTTP     Doer
	Settings Settings
	Auth     auth.Auth
	Logger   *slog.Logger

	base *url.URL
}

func NewClient(settings Settings, doer Doer, a auth.Auth) (*Client, error) {
	base, err := parseBaseURL(settings.URL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(settings.HealthCheckPath) == "" {
		settings.HealthCheckPath = DefaultHealthPath
	}
	if strings.TrimSpace(settings.SecretPath) == "" {
		settings.SecretPath = DefaultSecretPath
	}
	if doer == nil {
		doer = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{
		HTTP:     doer,
		Settings: settings,
		Auth:     a,
		Logger:   slog.Default(),
		base:     base,
	}, nil
}

// ValidateURL checks that raw is an absolute http or https URL.
func ValidateURL(raw string) error {
	_, err := parseBaseURL(raw)
	return err
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("vault url must not be empty")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.New("vault url must be valid")
	}
	return u, nil
}

// endpoint joins path segments onto the base URL, trimming stray slashes.
func (c *Client) endpoint(segments ...string) *url.URL {
	parts := []string{strings.TrimRight(c.base.Path, "/")}
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	u := *c.base
	u.Path = strings.Join(parts, "/")
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	u.RawPath = ""
	u.RawQuery = ""
	return &u
}

func (c *Client) newRequest(ctx context.Context, method string, u *url.URL, token string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	req.Header.Set(HeaderRequest, "true")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(HeaderToken, token)
	}
	if ns := strings.TrimSpace(c.Settings.Namespace); ns != "" {
		req.Header.Set(HeaderNamespace, ns)
	}
	return req, nil
}

// do executes req and returns the response with its body read. Transport
// failures are reported as backend unavailable.
func (c *Client) do(req *http.Request, op string) (int, []byte, error) {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, nil, auth.BackendUnavailable(op, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, auth.BackendUnavailable(op, fmt.Errorf("read body: %w", err))
	}
	return resp.StatusCode, data, nil
}

// StatusError is a non-2xx Vault response.
type StatusError struct {
	Op     string
	Status int
	Errors []string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("vault returned status %d", e.Status)
	if len(e.Errors) > 0 {
		msg += ": " + strings.Join(e.Errors, "; ")
	}
	return msg
}

// classify wraps a non-2xx status in the auth error taxonomy.
func classify(op string, status int, body []byte) error {
	se := &StatusError{Op: op, Status: status, Errors: decodeErrors(body)}
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnauthorized, status == http.StatusForbidden:
		return auth.InvalidCredentials(op, se)
	case status == http.StatusTooManyRequests, status >= 500:
		return auth.BackendUnavailable(op, se)
	default:
		return se
	}
}

func decodeErrors(body []byte) []string {
	if len(body) == 0 {
		return nil
	}
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	var payload struct {
		Errors []string `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload.Errors
}

func success(status int) bool {
	return status >= 200 && status < 300
}
