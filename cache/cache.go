// Package cache provides the time-bounded claims cache that limits the rate
// of provider calls per token value.
//
// Entries are keyed by the exact token string (namespaced per claim kind)
// and expire after a fixed TTL. Within the window, repeated validations of
// the same token are served from memory; after expiry the next call
// re-fetches. Stale entries are never served past expiry.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize bounds the number of cached entries when callers do not pick
// their own limit.
const DefaultSize = 4096

// TTL is an in-process claims cache backed by an expirable LRU. It is safe
// for concurrent use.
type TTL struct {
	lru *expirable.LRU[string, map[string]any]
}

// New creates a TTL cache holding at most size entries for at most ttl each.
func New(ttl time.Duration, size int) *TTL {
	if size <= 0 {
		size = DefaultSize
	}
	return &TTL{lru: expirable.NewLRU[string, map[string]any](size, nil, ttl)}
}

// Get returns the cached claims for key, if present and unexpired.
func (t *TTL) Get(_ context.Context, key string) (map[string]any, bool) {
	return t.lru.Get(key)
}

// Set stores claims under key for one TTL window.
func (t *TTL) Set(_ context.Context, key string, claims map[string]any) {
	t.lru.Add(key, claims)
}
