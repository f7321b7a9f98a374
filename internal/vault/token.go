package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vaultauth/internal/auth"
)

// DefaultKubernetesMount is the mount path of the kubernetes auth backend.
const DefaultKubernetesMount = "kubernetes"

type authBlock struct {
	ClientToken   string   `json:"client_token"`
	Accessor      string   `json:"accessor"`
	Policies      []string `json:"policies"`
	LeaseDuration int64    `json:"lease_duration"`
	Renewable     bool     `json:"renewable"`
}

type authResponse struct {
	Auth *authBlock `json:"auth"`
}

func (a *authBlock) token(fallback string) auth.Token {
	value := a.ClientToken
	if value == "" {
		value = fallback
	}
	return auth.Token{
		Value:     value,
		Accessor:  a.Accessor,
		Policies:  a.Policies,
		TTL:       time.Duration(a.LeaseDuration) * time.Second,
		Renewable: a.Renewable,
	}
}

type lookupResponse struct {
	Data struct {
		Accessor  string   `json:"accessor"`
		Policies  []string `json:"policies"`
		TTL       int64    `json:"ttl"`
		Renewable bool     `json:"renewable"`
	} `json:"data"`
}

// LoginKubernetes exchanges a service account JWT for a Vault token.
func (c *Client) LoginKubernetes(ctx context.Context, mount, role, jwt string) (auth.Token, error) {
	const op = "kubernetes login"
	if strings.TrimSpace(mount) == "" {
		mount = DefaultKubernetesMount
	}
	if strings.TrimSpace(jwt) == "" {
		return auth.Token{}, auth.InvalidCredentials(op, errors.New("service account token required"))
	}
	body := map[string]string{"role": role, "jwt": jwt}
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("v1/auth", mount, "login"), "", body)
	if err != nil {
		return auth.Token{}, err
	}
	return c.doAuth(req, op, "")
}

// LookupSelf validates token and reports its remaining TTL.
func (c *Client) LookupSelf(ctx context.Context, token string) (auth.Token, error) {
	const op = "token lookup"
	if strings.TrimSpace(token) == "" {
		return auth.Token{}, auth.InvalidCredentials(op, errors.New("token required"))
	}
	req, err := c.newRequest(ctx, http.MethodGet, c.endpoint("v1/auth/token/lookup-self"), token, nil)
	if err != nil {
		return auth.Token{}, err
	}
	status, data, err := c.do(req, op)
	if err != nil {
		return auth.Token{}, err
	}
	if !success(status) {
		return auth.Token{}, classify(op, status, data)
	}
	var payload lookupResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return auth.Token{}, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return auth.Token{
		Value:     token,
		Accessor:  payload.Data.Accessor,
		Policies:  payload.Data.Policies,
		TTL:       time.Duration(payload.Data.TTL) * time.Second,
		Renewable: payload.Data.Renewable,
	}, nil
}

// RenewSelf extends token by increment. Vault may grant less than asked.
func (c *Client) RenewSelf(ctx context.Context, token string, increment time.Duration) (auth.Token, error) {
	const op = "token renew"
	if strings.TrimSpace(token) == "" {
		return auth.Token{}, auth.InvalidCredentials(op, errors.New("token required"))
	}
	var body any
	if increment > 0 {
		body = map[string]string{"increment": fmt.Sprintf("%ds", int64(increment/time.Second))}
	}
	req, err := c.newRequest(ctx, http.MethodPost, c.endpoint("v1/auth/token/renew-self"), token, body)
	if err != nil {
		return auth.Token{}, err
	}
	return c.doAuth(req, op, token)
}

func (c *Client) doAuth(req *http.Request, op, fallback string) (auth.Token, error) {
	status, data, err := c.do(req, op)
	if err != nil {
		return auth.Token{}, err
	}
	if !success(status) {
		return auth.Token{}, classify(op, status, data)
	}
	var payload authResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return auth.Token{}, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if payload.Auth == nil || (payload.Auth.ClientToken == "" && fallback == "") {
		return auth.Token{}, fmt.Errorf("%s: response has no auth block", op)
	}
	return payload.Auth.token(fallback), nil
}
