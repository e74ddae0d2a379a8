package service

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/adapter/outbound/memory"
)

func TestIdempotencyRoundTrip(t *testing.T) {
	cache := memory.NewCache()
	defer cache.Close()
	svc := NewIdempotencyService(cache, testLogger())
	ctx := context.Background()

	response := map[string]any{"success": true, "data": map[string]any{"id": "inv-1"}}
	svc.StoreResponse(ctx, "alice", "key-1", response)

	stored, found := svc.GetResponse(ctx, "alice", "key-1")
	if !found {
		t.Fatal("GetResponse() miss after store")
	}
	var decoded map[string]any
	if err := json.Unmarshal(stored, &decoded); err != nil {
		t.Fatalf("stored response not JSON: %v", err)
	}
	if decoded["success"] != true {
		t.Errorf("stored response = %v", decoded)
	}

	// Replays keep yielding byte-identical responses.
	again, found := svc.GetResponse(ctx, "alice", "key-1")
	if !found || !bytes.Equal(stored, again) {
		t.Error("replay returned a different stored response")
	}
}

func TestIdempotencyNamespacedByCaller(t *testing.T) {
	cache := memory.NewCache()
	defer cache.Close()
	svc := NewIdempotencyService(cache, testLogger())
	ctx := context.Background()

	svc.StoreResponse(ctx, "alice", "shared-key", map[string]string{"owner": "alice"})

	if _, found := svc.GetResponse(ctx, "bob", "shared-key"); found {
		t.Error("caller bob read alice's record through the same literal key")
	}
}

func TestIdempotencyTTLExpiry(t *testing.T) {
	cache := memory.NewCache()
	defer cache.Close()
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cache.SetNow(func() time.Time { return now })
	svc := NewIdempotencyService(cache, testLogger(), WithIdempotencyTTL(time.Hour))
	ctx := context.Background()

	svc.StoreResponse(ctx, "alice", "key-1", map[string]bool{"ok": true})
	if _, found := svc.GetResponse(ctx, "alice", "key-1"); !found {
		t.Fatal("record missing before TTL")
	}

	now = now.Add(2 * time.Hour)
	if _, found := svc.GetResponse(ctx, "alice", "key-1"); found {
		t.Error("record served after TTL expiry")
	}
}

func TestIdempotencyStoreFailureSwallowed(t *testing.T) {
	svc := NewIdempotencyService(failingCache{}, testLogger())
	ctx := context.Background()

	// Neither call may panic or surface an error path to the caller.
	svc.StoreResponse(ctx, "alice", "key-1", map[string]bool{"ok": true})
	if _, found := svc.GetResponse(ctx, "alice", "key-1"); found {
		t.Error("GetResponse() hit on a failing store")
	}
}

func TestGenerateKeyDeterministic(t *testing.T) {
	a, err := GenerateKey(map[string]any{"tool": "create_invoice", "amount": 100})
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	b, err := GenerateKey(map[string]any{"amount": 100, "tool": "create_invoice"})
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if a != b {
		t.Errorf("key order changed the derived key: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("derived key length = %d, want 64 hex chars", len(a))
	}

	c, _ := GenerateKey(map[string]any{"tool": "create_invoice", "amount": 101})
	if a == c {
		t.Error("different payloads produced the same derived key")
	}
}
