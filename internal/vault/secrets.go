package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"vaultauth/internal/auth"
	"vaultauth/internal/metrics"
)

// Secrets are stored under this field of a KV v2 entry.
const secretDataField = "content"

var ErrSecretNotFound = errors.New("secret not found")

// SecretMetadata is the version information Vault returns for a write.
type SecretMetadata struct {
	Version      int       `json:"version"`
	CreatedTime  time.Time `json:"created_time"`
	DeletionTime string    `json:"deletion_time"`
	Destroyed    bool      `json:"destroyed"`
}

type readSecretResponse struct {
	Data struct {
		Data map[string]any `json:"data"`
	} `json:"data"`
}

type writeSecretResponse struct {
	Data SecretMetadata `json:"data"`
}

func (c *Client) GetSecret(ctx context.Context, key string) (string, error) {
	const op = "get secret"
	value, err := c.getSecret(ctx, op, key)
	metrics.SecretRequestsTotal.WithLabelValues("get", secretOutcome(err)).Inc()
	return value, err
}

func (c *Client) getSecret(ctx context.Context, op, key string) (string, error) {
	u, err := c.secretURL("data", key)
	if err != nil {
		return "", err
	}
	status, data, err := c.authorized(ctx, op, func(token string) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodGet, u, token, nil)
	})
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", ErrSecretNotFound
	}
	if !success(status) {
		return "", classify(op, status, data)
	}
	var payload readSecretResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", op, err)
	}
	raw, ok := payload.Data.Data[secretDataField]
	if !ok {
		return "", ErrSecretNotFound
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s: field %q is not a string", op, secretDataField)
	}
	return value, nil
}

func (c *Client) SetSecret(ctx context.Context, key, value string) (SecretMetadata, error) {
	const op = "set secret"
	meta, err := c.setSecret(ctx, op, key, value)
	metrics.SecretRequestsTotal.WithLabelValues("set", secretOutcome(err)).Inc()
	return meta, err
}

func (c *Client) setSecret(ctx context.Context, op, key, value string) (SecretMetadata, error) {
	u, err := c.secretURL("data", key)
	if err != nil {
		return SecretMetadata{}, err
	}
	body := map[string]any{"data": map[string]string{secretDataField: value}}
	status, data, err := c.authorized(ctx, op, func(token string) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodPost, u, token, body)
	})
	if err != nil {
		return SecretMetadata{}, err
	}
	if !success(status) {
		return SecretMetadata{}, classify(op, status, data)
	}
	var payload writeSecretResponse
	if len(data) == 0 {
		return SecretMetadata{}, fmt.Errorf("%s: empty response body", op)
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return SecretMetadata{}, fmt.Errorf("%s: decode response: %w", op, err)
	}
	return payload.Data, nil
}

// DestroySecret removes every version and the metadata of key. A missing
// key is not an error.
func (c *Client) DestroySecret(ctx context.Context, key string) error {
	const op = "destroy secret"
	err := c.destroySecret(ctx, op, key)
	metrics.SecretRequestsTotal.WithLabelValues("destroy", secretOutcome(err)).Inc()
	return err
}

func (c *Client) destroySecret(ctx context.Context, op, key string) error {
	u, err := c.secretURL("metadata", key)
	if err != nil {
		return err
	}
	status, data, err := c.authorized(ctx, op, func(token string) (*http.Request, error) {
		return c.newRequest(ctx, http.MethodDelete, u, token, nil)
	})
	if err != nil {
		return err
	}
	if success(status) || status == http.StatusNotFound {
		return nil
	}
	return classify(op, status, data)
}

func (c *Client) secretURL(entryType, key string) (*url.URL, error) {
	key = strings.Trim(strings.TrimSpace(key), "/")
	if key == "" {
		return nil, errors.New("secret key required")
	}
	return c.endpoint(c.Settings.SecretPath, entryType, c.Settings.FolderPath, key), nil
}

// authorized sends the request built by build with the current token. A 403
// means the token was revoked behind our back: the cached token is dropped
// and the request is sent once more with a fresh one.
func (c *Client) authorized(ctx context.Context, op string, build func(token string) (*http.Request, error)) (int, []byte, error) {
	if c.Auth == nil {
		return 0, nil, errors.New("vault auth not configured")
	}
	send := func() (int, []byte, error) {
		token, err := c.Auth.VaultToken(ctx)
		if err != nil {
			return 0, nil, err
		}
		req, err := build(token)
		if err != nil {
			return 0, nil, err
		}
		return c.do(req, op)
	}
	status, data, err := send()
	if err != nil || status != http.StatusForbidden {
		return status, data, err
	}
	inv, ok := c.Auth.(auth.Invalidator)
	if !ok {
		return status, data, nil
	}
	c.Logger.Warn("vault rejected token, re-authenticating", "op", op)
	inv.Invalidate()
	return send()
}

func secretOutcome(err error) string {
	if errors.Is(err, ErrSecretNotFound) {
		return "not_found"
	}
	return metrics.Outcome(err)
}
