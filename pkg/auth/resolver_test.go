package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/rampart-ai/rampart/pkg/config"
)

func testTiers() []config.TierConfig {
	return []config.TierConfig{
		{Name: "customer", KeyPrefix: "rk-cust-", Requests: 2, Window: time.Minute},
		{Name: "business", KeyPrefix: "rk-biz-", Requests: 100, Window: time.Minute},
	}
}

func TestResolve(t *testing.T) {
	r := NewResolver(testTiers())

	id, err := r.Resolve("rk-cust-abc123")
	if err != nil {
		t.Fatal(err)
	}
	if id.Tier.Name != "customer" || id.Tier.Requests != 2 {
		t.Errorf("unexpected tier: %+v", id.Tier)
	}

	id, err = r.Resolve("rk-biz-xyz")
	if err != nil {
		t.Fatal(err)
	}
	if id.Tier.Name != "business" {
		t.Errorf("unexpected tier: %+v", id.Tier)
	}
}

func TestResolveUnknownKey(t *testing.T) {
	r := NewResolver(testTiers())

	for _, key := range []string{"", "sk-something-else", "rk-"} {
		if _, err := r.Resolve(key); !errors.Is(err, ErrUnknownKey) {
			t.Errorf("key %q: expected ErrUnknownKey, got %v", key, err)
		}
	}
}

func TestSetTiersReplacesBudgets(t *testing.T) {
	r := NewResolver(testTiers())

	r.SetTiers([]config.TierConfig{
		{Name: "customer", KeyPrefix: "rk-cust-", Requests: 10, Window: time.Hour},
	})

	id, err := r.Resolve("rk-cust-abc123")
	if err != nil {
		t.Fatal(err)
	}
	if id.Tier.Requests != 10 || id.Tier.Window != time.Hour {
		t.Errorf("reloaded budget not applied: %+v", id.Tier)
	}

	if _, err := r.Resolve("rk-biz-xyz"); !errors.Is(err, ErrUnknownKey) {
		t.Error("removed tier should no longer resolve")
	}
}
