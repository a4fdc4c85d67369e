package actors

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedDirectory is a read-through Redis cache in front of a Directory.
// Directory entries change rarely; a short TTL keeps renames from going
// stale for long.
type CachedDirectory struct {
	inner  Directory
	client *redis.Client
	ttl    time.Duration
}

// NewCachedDirectory wraps inner with a Redis cache.
func NewCachedDirectory(inner Directory, client *redis.Client, ttl time.Duration) *CachedDirectory {
	return &CachedDirectory{inner: inner, client: client, ttl: ttl}
}

func cacheKey(id string) string { return "actor:" + id }

func (d *CachedDirectory) Lookup(ctx context.Context, ids []string) (map[string]Actor, error) {
	out := make(map[string]Actor, len(ids))
	var misses []string

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(id)
	}
	vals, err := d.client.MGet(ctx, keys...).Result()
	if err != nil {
		// Cache unavailability degrades to a direct lookup.
		slog.WarnContext(ctx, "actor cache read failed", "error", err)
		return d.inner.Lookup(ctx, ids)
	}
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			misses = append(misses, ids[i])
			continue
		}
		var a Actor
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			misses = append(misses, ids[i])
			continue
		}
		out[ids[i]] = a
	}

	if len(misses) == 0 {
		return out, nil
	}

	resolved, err := d.inner.Lookup(ctx, misses)
	if err != nil {
		return nil, err
	}
	for id, a := range resolved {
		out[id] = a
		if raw, err := json.Marshal(a); err == nil {
			if err := d.client.Set(ctx, cacheKey(id), raw, d.ttl).Err(); err != nil {
				slog.WarnContext(ctx, "actor cache write failed", "actor_id", id, "error", err)
			}
		}
	}
	return out, nil
}
