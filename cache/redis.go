package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a claims cache shared between processes through a Redis server,
// for deployments running several replicas behind one Keycloak client.
// Expiry is delegated to Redis key TTLs. Cache errors degrade to misses:
// an unreachable Redis slows authentication down but never breaks it.
type Redis struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedis creates a Redis-backed claims cache with the given TTL.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{
		rdb:    rdb,
		ttl:    ttl,
		prefix: "keycloak:claims:",
		logger: slog.Default(),
	}
}

// Get returns the cached claims for key, if present and unexpired.
func (r *Redis) Get(ctx context.Context, key string) (map[string]any, bool) {
	raw, err := r.rdb.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.logger.Warn("claims cache read failed", "error", err)
		}
		return nil, false
	}
	var claims map[string]any
	if err := json.Unmarshal(raw, &claims); err != nil {
		return nil, false
	}
	return claims, true
}

// Set stores claims under key for one TTL window.
func (r *Redis) Set(ctx context.Context, key string, claims map[string]any) {
	raw, err := json.Marshal(claims)
	if err != nil {
		return
	}
	if err := r.rdb.Set(ctx, r.prefix+key, raw, r.ttl).Err(); err != nil {
		r.logger.Warn("claims cache write failed", "error", err)
	}
}
