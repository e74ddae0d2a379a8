// Package policyhttp implements the external policy service port over HTTP.
package policyhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/toolgate/toolgate/internal/domain/policy"
)

const defaultTimeout = 5 * time.Second

// Client posts evaluation inputs to an external policy decision endpoint.
// The endpoint receives {"input": {...}} and answers {"result": bool, ...};
// any transport or decode failure is returned to the caller, which falls
// back to the in-process permission table.
type Client struct {
	endpoint string
	http     *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout overrides the default 5s request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// New returns a client for the given decision endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type evaluateRequest struct {
	Input policy.ExternalInput `json:"input"`
}

type evaluateResponse struct {
	Result   bool     `json:"result"`
	Reason   string   `json:"reason"`
	Policies []string `json:"policies"`
}

// Evaluate posts the input and returns the service's decision.
func (c *Client) Evaluate(ctx context.Context, input policy.ExternalInput) (policy.ExternalResult, error) {
	body, err := json.Marshal(evaluateRequest{Input: input})
	if err != nil {
		return policy.ExternalResult{}, fmt.Errorf("marshal policy input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return policy.ExternalResult{}, fmt.Errorf("build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return policy.ExternalResult{}, fmt.Errorf("call policy service: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return policy.ExternalResult{}, fmt.Errorf("policy service returned status %d", resp.StatusCode)
	}

	var decoded evaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return policy.ExternalResult{}, fmt.Errorf("decode policy response: %w", err)
	}
	return policy.ExternalResult{
		Result:   decoded.Result,
		Reason:   decoded.Reason,
		Policies: decoded.Policies,
	}, nil
}

// Compile-time interface verification.
var _ policy.ExternalClient = (*Client)(nil)
