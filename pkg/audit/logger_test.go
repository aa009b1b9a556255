package audit

import (
	"context"
	"path/filepath"
	"testing"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLogAndRecent(t *testing.T) {
	l := newTestLogger(t)

	entries := []Entry{
		{RequestID: "r1", Tier: "customer", Model: "gpt-4o-mini", Endpoint: "primary", Outcome: "ok", CacheResult: "miss", LatencyMs: 120},
		{RequestID: "r2", Tier: "business", Model: "gpt-4o-mini", Outcome: "upstream_unavailable", LatencyMs: 4000},
	}
	for i := range entries {
		entries[i].APIKeyHash, entries[i].APIKeyPrefix = HashAPIKey("rk-cust-secret")
		if err := l.Log(context.Background(), entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].RequestID != "r2" {
		t.Errorf("expected newest first, got %q", got[0].RequestID)
	}
}

func TestSubmitFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := New(path)
	if err != nil {
		t.Fatal(err)
	}

	hash, prefix := HashAPIKey("rk-cust-secret")
	l.Submit(Entry{RequestID: "r1", APIKeyHash: hash, APIKeyPrefix: prefix, Outcome: "ok"})
	l.Submit(Entry{RequestID: "r2", APIKeyHash: hash, APIKeyPrefix: prefix, Outcome: "ok"})

	// Close must drain the queue before releasing the database.
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reopened.Close() })

	got, err := reopened.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 flushed entries, got %d", len(got))
	}
}

func TestHashAPIKey(t *testing.T) {
	hash, prefix := HashAPIKey("rk-cust-verysecret")
	if prefix != "rk-cust-" {
		t.Errorf("prefix = %q", prefix)
	}
	if len(hash) != 64 {
		t.Errorf("expected sha256 hex, got %d chars", len(hash))
	}
	hash2, _ := HashAPIKey("rk-cust-verysecret")
	if hash != hash2 {
		t.Error("hash must be deterministic")
	}
}
