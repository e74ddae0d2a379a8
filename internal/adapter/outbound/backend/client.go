// Package backend performs the raw HTTP call for one tool invocation.
// Retries and circuit breaking live above this layer; the client's job is
// URL construction, auth headers, and error classification.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/toolgate/toolgate/internal/domain/execute"
	"github.com/toolgate/toolgate/internal/domain/tool"
)

const defaultTimeout = 30 * time.Second

// Config holds backend gateway settings.
type Config struct {
	// BaseURL is prepended to every tool endpoint.
	BaseURL string

	// APIKey is sent as X-API-Key for tools with auth type api_key.
	APIKey string

	// SubscriptionKey is sent as Ocp-Apim-Subscription-Key for tools with
	// auth type subscription_key.
	SubscriptionKey string

	// Timeout bounds one HTTP attempt. Defaults to 30s.
	Timeout time.Duration
}

// Client issues one backend HTTP request per call. All failures come back
// as *execute.BackendError; the Transient flag tells the resilience layer
// whether a retry can help.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// New returns a backend client for the configured gateway.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call executes the tool's backend request once and decodes the response.
// Path parameters of the form {name} are substituted from arguments; the
// full argument map is still forwarded as query parameters (GET) or JSON
// body (POST/PUT), matching the backend contract.
func (c *Client) Call(ctx context.Context, t tool.Tool, arguments map[string]any, correlationID, executionID string) (any, error) {
	endpoint := substitutePathParams(t.Endpoint, arguments)
	target := c.cfg.BaseURL + endpoint

	method := strings.ToUpper(t.HTTPMethod)
	req, err := c.buildRequest(ctx, method, target, t, arguments)
	if err != nil {
		return nil, &execute.BackendError{ToolName: t.Name, Err: err}
	}
	req.Header.Set("X-Correlation-ID", correlationID)
	req.Header.Set("X-Execution-ID", executionID)

	c.logger.InfoContext(ctx, "executing backend call",
		slog.String("tool", t.Name),
		slog.String("method", method),
		slog.String("url", target),
		slog.String("correlation_id", correlationID))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &execute.BackendError{
			ToolName:  t.Name,
			Transient: isTransient(err),
			Err:       err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, &execute.BackendError{
			ToolName:  t.Name,
			Transient: isTransient(err),
			Err:       fmt.Errorf("read response: %w", err),
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &execute.BackendError{
			ToolName:   t.Name,
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		// Non-JSON 2xx bodies are passed through untouched.
		data = map[string]any{"raw_response": string(body)}
	}
	return data, nil
}

func (c *Client) buildRequest(ctx context.Context, method, target string, t tool.Tool, arguments map[string]any) (*http.Request, error) {
	var reqBody io.Reader
	switch method {
	case http.MethodGet, http.MethodDelete:
		if len(arguments) > 0 {
			q := url.Values{}
			for k, v := range arguments {
				q.Set(k, fmt.Sprint(v))
			}
			sep := "?"
			if strings.Contains(target, "?") {
				sep = "&"
			}
			target += sep + q.Encode()
		}
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		encoded, err := json.Marshal(arguments)
		if err != nil {
			return nil, fmt.Errorf("marshal arguments: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	default:
		return nil, fmt.Errorf("unsupported HTTP method %q", t.HTTPMethod)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	switch t.AuthType {
	case tool.AuthTypeSubscriptionKey:
		if c.cfg.SubscriptionKey != "" {
			req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.SubscriptionKey)
		}
	default:
		if c.cfg.APIKey != "" {
			req.Header.Set("X-API-Key", c.cfg.APIKey)
		}
	}
	return req, nil
}

// substitutePathParams replaces {name} placeholders in the endpoint with
// argument values.
func substitutePathParams(endpoint string, arguments map[string]any) string {
	for k, v := range arguments {
		placeholder := "{" + k + "}"
		if strings.Contains(endpoint, placeholder) {
			endpoint = strings.ReplaceAll(endpoint, placeholder, url.PathEscape(fmt.Sprint(v)))
		}
	}
	return endpoint
}

// isTransient reports whether a transport error belongs to the retryable
// class: connection failures and timeouts. HTTP status failures never
// reach here and are never retried.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
