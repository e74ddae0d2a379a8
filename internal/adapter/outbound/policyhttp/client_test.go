package policyhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/toolgate/toolgate/internal/domain/policy"
)

func TestEvaluateAllow(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result":   true,
			"reason":   "matched allow rule",
			"policies": []string{"tool_access"},
		})
	}))
	defer srv.Close()

	client := New(srv.URL)
	result, err := client.Evaluate(context.Background(), policy.ExternalInput{
		Action:   "invoke",
		Resource: "get_invoice",
		User:     "alice",
		Roles:    []string{"analyst"},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !result.Result || result.Reason != "matched allow rule" {
		t.Errorf("Evaluate() = %+v, want allow with reason", result)
	}

	input, ok := gotBody["input"].(map[string]any)
	if !ok {
		t.Fatalf("request body missing input envelope: %v", gotBody)
	}
	if input["action"] != "invoke" || input["resource"] != "get_invoice" {
		t.Errorf("input envelope = %v", input)
	}
}

func TestEvaluateNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(srv.URL)
	_, err := client.Evaluate(context.Background(), policy.ExternalInput{Action: "invoke"})
	if err == nil {
		t.Fatal("Evaluate() error = nil, want error on 500")
	}
}

func TestEvaluateUnreachableIsError(t *testing.T) {
	client := New("http://127.0.0.1:1")
	_, err := client.Evaluate(context.Background(), policy.ExternalInput{Action: "invoke"})
	if err == nil {
		t.Fatal("Evaluate() error = nil, want connection error")
	}
}
