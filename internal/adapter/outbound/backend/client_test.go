package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/domain/execute"
	"github.com/toolgate/toolgate/internal/domain/tool"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCallGetSubstitutesPathParams(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("customer_id")
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("X-API-Key = %q, want secret", r.Header.Get("X-API-Key"))
		}
		if r.Header.Get("X-Correlation-ID") != "corr-1" {
			t.Errorf("X-Correlation-ID = %q", r.Header.Get("X-Correlation-ID"))
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "active"})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, APIKey: "secret"}, discardLogger())
	data, err := client.Call(context.Background(), tool.Tool{
		Name:       "get_customer",
		HTTPMethod: "GET",
		Endpoint:   "/customers/{customer_id}",
		AuthType:   tool.AuthTypeAPIKey,
	}, map[string]any{"customer_id": "c-42"}, "corr-1", "exec-1")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if gotPath != "/customers/c-42" {
		t.Errorf("path = %q, want /customers/c-42", gotPath)
	}
	// Substituted arguments are still forwarded as query parameters.
	if gotQuery != "c-42" {
		t.Errorf("query customer_id = %q, want c-42", gotQuery)
	}
	m, ok := data.(map[string]any)
	if !ok || m["status"] != "active" {
		t.Errorf("data = %v, want status=active", data)
	}
}

func TestCallPostSendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["amount"] != float64(100) {
			t.Errorf("body = %v", body)
		}
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "sub-key" {
			t.Errorf("subscription key header missing")
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"inv-1"}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, SubscriptionKey: "sub-key"}, discardLogger())
	_, err := client.Call(context.Background(), tool.Tool{
		Name:       "create_invoice",
		HTTPMethod: "POST",
		Endpoint:   "/invoices",
		AuthType:   tool.AuthTypeSubscriptionKey,
	}, map[string]any{"amount": 100}, "corr-2", "exec-2")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
}

func TestCall4xxIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such customer", http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, discardLogger())
	_, err := client.Call(context.Background(), tool.Tool{
		Name:       "get_customer",
		HTTPMethod: "GET",
		Endpoint:   "/customers/{id}",
	}, map[string]any{"id": "missing"}, "corr", "exec")

	var backendErr *execute.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("Call() error = %v, want *BackendError", err)
	}
	if backendErr.Transient {
		t.Error("4xx classified as transient, want permanent")
	}
	if backendErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", backendErr.StatusCode)
	}
}

func TestCallTimeoutIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, discardLogger())
	_, err := client.Call(context.Background(), tool.Tool{
		Name:       "slow_tool",
		HTTPMethod: "GET",
		Endpoint:   "/slow",
	}, nil, "corr", "exec")

	var backendErr *execute.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("Call() error = %v, want *BackendError", err)
	}
	if !backendErr.Transient {
		t.Error("timeout classified as permanent, want transient")
	}
}

func TestCallConnectionRefusedIsTransient(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1"}, discardLogger())
	_, err := client.Call(context.Background(), tool.Tool{
		Name:       "unreachable",
		HTTPMethod: "GET",
		Endpoint:   "/x",
	}, nil, "corr", "exec")

	var backendErr *execute.BackendError
	if !errors.As(err, &backendErr) {
		t.Fatalf("Call() error = %v, want *BackendError", err)
	}
	if !backendErr.Transient {
		t.Error("connection refused classified as permanent, want transient")
	}
}

func TestCallNonJSONResponseWrapped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("OK"))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL}, discardLogger())
	data, err := client.Call(context.Background(), tool.Tool{
		Name:       "ping",
		HTTPMethod: "GET",
		Endpoint:   "/ping",
	}, nil, "corr", "exec")
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	m, ok := data.(map[string]any)
	if !ok || m["raw_response"] != "OK" {
		t.Errorf("data = %v, want raw_response=OK", data)
	}
}
