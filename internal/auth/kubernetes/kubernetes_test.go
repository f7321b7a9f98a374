package kubernetes

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vaultauth/internal/auth"
)

type fakeClient struct {
	mount, role, jwt string
	logins           int
	renewed          string
	loginErr         error
}

func (f *fakeClient) LoginKubernetes(_ context.Context, mount, role, jwt string) (auth.Token, error) {
	f.logins++
	f.mount, f.role, f.jwt = mount, role, jwt
	if f.loginErr != nil {
		return auth.Token{}, f.loginErr
	}
	return auth.Token{Value: "s.k8s", TTL: time.Hour, Renewable: true}, nil
}

func (f *fakeClient) RenewSelf(_ context.Context, token string, _ time.Duration) (auth.Token, error) {
	f.renewed = token
	return auth.Token{Value: token, TTL: time.Hour, Renewable: true}, nil
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{Subject: "system:serviceaccount:apps:web"}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func writeToken(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestSettingsDefaultsAndValidate(t *testing.T) {
	s := Settings{Role: "web"}.WithDefaults()
	if s.Mount != DefaultMount || s.TokenPath != DefaultTokenPath || s.ExpirationThreshold != DefaultExpirationThreshold {
		t.Fatalf("settings: %#v", s)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := (Settings{}).WithDefaults().Validate(); err == nil {
		t.Fatalf("expected role error")
	}
	if _, err := New(nil, s); err == nil {
		t.Fatalf("expected client error")
	}
}

func TestObtainTokenReadsFirstLine(t *testing.T) {
	sa := signedToken(t, time.Now().Add(time.Hour))
	client := &fakeClient{}
	a, err := New(client, Settings{Role: "web", TokenPath: writeToken(t, sa+"\nignored\n")})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tok, err := a.ObtainToken(context.Background(), auth.Config{Method: auth.MethodKubernetes})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if client.jwt != sa || client.role != "web" || client.mount != DefaultMount || tok.Value != "s.k8s" {
		t.Fatalf("client=%#v token=%#v", client, tok)
	}
}

func TestObtainTokenConfigRoleOverrides(t *testing.T) {
	client := &fakeClient{}
	a, err := New(client, Settings{Role: "web", TokenPath: writeToken(t, signedToken(t, time.Time{}))})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := a.ObtainToken(context.Background(), auth.Config{Role: "admin"}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if client.role != "admin" {
		t.Fatalf("role: %s", client.role)
	}
}

func TestObtainTokenFallsBackToLiteral(t *testing.T) {
	sa := signedToken(t, time.Now().Add(time.Hour))
	client := &fakeClient{}
	a, err := New(client, Settings{Role: "web", TokenPath: filepath.Join(t.TempDir(), "missing"), Token: sa})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := a.ObtainToken(context.Background(), auth.Config{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if client.jwt != sa {
		t.Fatalf("jwt: %s", client.jwt)
	}
}

func TestObtainTokenNoToken(t *testing.T) {
	client := &fakeClient{}
	a, err := New(client, Settings{Role: "web", TokenPath: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := a.ObtainToken(context.Background(), auth.Config{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err: %v", err)
	}
	if client.logins != 0 {
		t.Fatalf("logins: %d", client.logins)
	}
}

func TestObtainTokenExpiredJWT(t *testing.T) {
	client := &fakeClient{}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	a, err := New(client, Settings{Role: "web", TokenPath: writeToken(t, signedToken(t, now.Add(-time.Minute)))})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	a.Now = func() time.Time { return now }
	if _, err := a.ObtainToken(context.Background(), auth.Config{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err: %v", err)
	}
	if client.logins != 0 {
		t.Fatalf("logins: %d", client.logins)
	}
}

func TestObtainTokenMalformedJWT(t *testing.T) {
	client := &fakeClient{}
	a, err := New(client, Settings{Role: "web", TokenPath: writeToken(t, "not-a-jwt")})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := a.ObtainToken(context.Background(), auth.Config{}); !errors.Is(err, auth.ErrInvalidCredentials) {
		t.Fatalf("err: %v", err)
	}
}

func TestReadFileOverride(t *testing.T) {
	sa := signedToken(t, time.Time{})
	orig := readFile
	readFile = func(string) ([]byte, error) { return []byte("  " + sa + "\r\n"), nil }
	t.Cleanup(func() { readFile = orig })

	client := &fakeClient{}
	a, err := New(client, Settings{Role: "web"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if _, err := a.ObtainToken(context.Background(), auth.Config{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if client.jwt != sa {
		t.Fatalf("jwt: %q", client.jwt)
	}
}

func TestRefreshTokenRenewsSelf(t *testing.T) {
	client := &fakeClient{}
	a, err := New(client, Settings{Role: "web"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	tok, err := a.RefreshToken(context.Background(), auth.Config{}, auth.Token{Value: "s.cur"})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if client.renewed != "s.cur" || tok.Value != "s.cur" {
		t.Fatalf("renewed=%s token=%#v", client.renewed, tok)
	}
}
