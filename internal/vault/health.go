package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"vaultauth/internal/auth"
)

// HealthStatus is the body of sys/health.
type HealthStatus struct {
	Initialized                bool   `json:"initialized"`
	Sealed                     bool   `json:"sealed"`
	Standby                    bool   `json:"standby"`
	PerformanceStandby         bool   `json:"performance_standby"`
	ReplicationPerformanceMode string `json:"replication_performance_mode"`
	ReplicationDRMode          string `json:"replication_dr_mode"`
	ServerTimeUTC              int64  `json:"server_time_utc"`
	Version                    string `json:"version"`
	ClusterName                string `json:"cluster_name"`
	ClusterID                  string `json:"cluster_id"`

	StatusCode int `json:"-"`
}

var healthReasons = map[int]string{
	http.StatusTooManyRequests:    "vault is unsealed and in standby mode",
	472:                           "vault is in data recovery mode",
	473:                           "vault is in performance standby mode",
	http.StatusNotImplemented:     "vault is not initialized",
	http.StatusServiceUnavailable: "vault is sealed",
}

// HealthReason describes a non-200 sys/health status code.
func HealthReason(status int) string {
	if r, ok := healthReasons[status]; ok {
		return r
	}
	return "unexpected vault health status " + strconv.Itoa(status)
}

// Health checks sys/health. Standby nodes count as healthy when
// HealthStandbyOK is set. Any unhealthy status is reported as backend
// unavailable together with the decoded body.
func (c *Client) Health(ctx context.Context) (HealthStatus, error) {
	const op = "health"
	u := c.endpoint(c.Settings.HealthCheckPath)
	q := u.Query()
	q.Set("standbyok", strconv.FormatBool(c.Settings.HealthStandbyOK))
	q.Set("perfstandbyok", strconv.FormatBool(c.Settings.HealthStandbyOK))
	u.RawQuery = q.Encode()

	req, err := c.newRequest(ctx, http.MethodGet, u, "", nil)
	if err != nil {
		return HealthStatus{}, err
	}
	status, data, err := c.do(req, op)
	if err != nil {
		return HealthStatus{}, err
	}
	var hs HealthStatus
	if len(data) > 0 {
		if err := json.Unmarshal(data, &hs); err != nil && status == http.StatusOK {
			return HealthStatus{}, fmt.Errorf("%s: decode response: %w", op, err)
		}
	}
	hs.StatusCode = status
	if status != http.StatusOK {
		return hs, auth.BackendUnavailable(op, fmt.Errorf("%s (status %d)", HealthReason(status), status))
	}
	return hs, nil
}
