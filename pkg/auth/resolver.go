// Package auth resolves presented API keys to access tiers.
package auth

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rampart-ai/rampart/pkg/config"
)

// ErrUnknownKey is returned when a key matches no configured tier prefix.
var ErrUnknownKey = errors.New("auth: key does not resolve to a tier")

// Tier carries the rate-budget parameters of an access class.
type Tier struct {
	Name     string
	Requests int64
	Window   time.Duration
}

// Identity is a resolved client: the raw key plus its tier.
type Identity struct {
	Key  string
	Tier Tier
}

// Resolver maps raw API keys to tiers by configured key prefix.
type Resolver struct {
	mu    sync.RWMutex
	tiers []tierEntry
}

type tierEntry struct {
	prefix string
	tier   Tier
}

// NewResolver creates a Resolver from tier configuration. Prefixes are
// matched in configuration order; the first match wins.
func NewResolver(tiers []config.TierConfig) *Resolver {
	r := &Resolver{}
	r.SetTiers(tiers)
	return r
}

// SetTiers replaces the tier table. Used by config reload.
func (r *Resolver) SetTiers(tiers []config.TierConfig) {
	entries := make([]tierEntry, 0, len(tiers))
	for _, t := range tiers {
		entries = append(entries, tierEntry{
			prefix: t.KeyPrefix,
			tier:   Tier{Name: t.Name, Requests: t.Requests, Window: t.Window},
		})
	}
	r.mu.Lock()
	r.tiers = entries
	r.mu.Unlock()
}

// Resolve returns the identity for a raw key, or ErrUnknownKey if the key
// is empty or matches no tier prefix.
func (r *Resolver) Resolve(key string) (Identity, error) {
	if key == "" {
		return Identity{}, ErrUnknownKey
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.tiers {
		if strings.HasPrefix(key, e.prefix) {
			return Identity{Key: key, Tier: e.tier}, nil
		}
	}
	return Identity{}, ErrUnknownKey
}
