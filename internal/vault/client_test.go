package vault

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vaultauth/internal/auth"
)

func newTestClient(t *testing.T, h http.HandlerFunc, a auth.Auth) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Settings{URL: srv.URL, Namespace: "ns1"}, srv.Client(), a)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return c
}

func TestNewClientValidatesURL(t *testing.T) {
	if _, err := NewClient(Settings{}, nil, nil); err == nil || err.Error() != "vault url must not be empty" {
		t.Fatalf("err: %v", err)
	}
	for _, raw := range []string{"vault.local", "ftp://vault", "http://"} {
		if _, err := NewClient(Settings{URL: raw}, nil, nil); err == nil || err.Error() != "vault url must be valid" {
			t.Fatalf("%s: err: %v", raw, err)
		}
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(Settings{URL: "https://vault.local:8200"}, nil, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if c.Settings.HealthCheckPath != DefaultHealthPath || c.Settings.SecretPath != DefaultSecretPath {
		t.Fatalf("settings: %#v", c.Settings)
	}
	hc, ok := c.HTTP.(*http.Client)
	if !ok || hc.Timeout != DefaultTimeout {
		t.Fatalf("http: %#v", c.HTTP)
	}
}

func TestEndpointJoinsSegments(t *testing.T) {
	c, err := NewClient(Settings{URL: "https://vault.local/prefix/"}, nil, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	u := c.endpoint("/v1/secret/", "data", "", "app/db password")
	if got := u.String(); got != "https://vault.local/prefix/v1/secret/data/app/db%20password" {
		t.Fatalf("url: %s", got)
	}
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte(`{"data":{"ttl":60}}`))
	}, nil)
	if _, err := c.LookupSelf(context.Background(), "s.abc"); err != nil {
		t.Fatalf("err: %v", err)
	}
	if got.Get(HeaderToken) != "s.abc" || got.Get(HeaderNamespace) != "ns1" || got.Get(HeaderRequest) != "true" {
		t.Fatalf("headers: %#v", got)
	}
}

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		kind   auth.Kind
	}{
		{http.StatusBadRequest, auth.KindInvalidCredentials},
		{http.StatusUnauthorized, auth.KindInvalidCredentials},
		{http.StatusForbidden, auth.KindInvalidCredentials},
		{http.StatusTooManyRequests, auth.KindBackendUnavailable},
		{http.StatusInternalServerError, auth.KindBackendUnavailable},
		{http.StatusBadGateway, auth.KindBackendUnavailable},
		{http.StatusConflict, auth.KindUnknown},
	}
	for _, tc := range cases {
		err := classify("op", tc.status, []byte(`{"errors":["permission denied"]}`))
		if auth.KindOf(err) != tc.kind {
			t.Fatalf("status %d: kind %v", tc.status, auth.KindOf(err))
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Status != tc.status {
			t.Fatalf("status %d: err %v", tc.status, err)
		}
		if !strings.Contains(err.Error(), "permission denied") {
			t.Fatalf("message: %v", err)
		}
	}
}

func TestDecodeErrorsIgnoresJunk(t *testing.T) {
	if errs := decodeErrors([]byte("<html>")); errs != nil {
		t.Fatalf("errs: %v", errs)
	}
	if errs := decodeErrors(nil); errs != nil {
		t.Fatalf("errs: %v", errs)
	}
}

type failingDoer struct{}

func (failingDoer) Do(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func TestTransportErrorIsBackendUnavailable(t *testing.T) {
	c, err := NewClient(Settings{URL: "http://vault.local"}, failingDoer{}, nil)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	_, err = c.LookupSelf(context.Background(), "s.abc")
	if !errors.Is(err, auth.ErrBackendUnavailable) {
		t.Fatalf("err: %v", err)
	}
}
