// Package pamhttp implements the privileged-access-management port over HTTP.
package pamhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/domain/elevation"
)

const (
	checkTimeout   = 5 * time.Second
	requestTimeout = 10 * time.Second
)

// Client talks to an external PAM service. Elevation checks use a short
// timeout so an unresponsive PAM degrades to the local grant cache instead
// of stalling the request pipeline.
type Client struct {
	baseURL   string
	checkHTTP *http.Client
	grantHTTP *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClients overrides both underlying HTTP clients, mainly for tests.
func WithHTTPClients(check, grant *http.Client) Option {
	return func(c *Client) {
		c.checkHTTP = check
		c.grantHTTP = grant
	}
}

// New returns a client for the PAM service at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		checkHTTP: &http.Client{Timeout: checkTimeout},
		grantHTTP: &http.Client{Timeout: requestTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type checkRequest struct {
	UserID   string `json:"user_id"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

type checkResponse struct {
	Elevated bool `json:"elevated"`
}

// CheckElevation asks PAM whether the user currently holds elevation for
// the resource.
func (c *Client) CheckElevation(ctx context.Context, userID, resource string) (bool, error) {
	var resp checkResponse
	err := c.post(ctx, c.checkHTTP, "/check-elevation", checkRequest{
		UserID:   userID,
		Resource: resource,
		Action:   "execute",
	}, &resp)
	if err != nil {
		return false, err
	}
	return resp.Elevated, nil
}

type grantRequest struct {
	UserID          string `json:"user_id"`
	Resource        string `json:"resource"`
	Reason          string `json:"reason"`
	DurationSeconds int    `json:"duration_seconds"`
}

// RequestElevation asks PAM to grant time-bounded elevation.
func (c *Client) RequestElevation(ctx context.Context, userID, resource, reason string, duration time.Duration) (elevation.PAMGrant, error) {
	var grant elevation.PAMGrant
	err := c.post(ctx, c.grantHTTP, "/request-elevation", grantRequest{
		UserID:          userID,
		Resource:        resource,
		Reason:          reason,
		DurationSeconds: int(duration.Seconds()),
	}, &grant)
	if err != nil {
		return elevation.PAMGrant{}, err
	}
	return grant, nil
}

func (c *Client) post(ctx context.Context, hc *http.Client, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal pam request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build pam request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("call pam %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return fmt.Errorf("pam %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode pam response: %w", err)
	}
	return nil
}

// Compile-time interface verification.
var _ elevation.PAMClient = (*Client)(nil)
