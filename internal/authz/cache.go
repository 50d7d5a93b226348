package authz

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheGlobalGenKey  = "authz:gen:global"
	cacheUserGenPrefix = "authz:gen:user:"
)

// Cache memoizes permission decisions and reachability lookups in Redis.
// Keys embed a global generation and a per-user generation; bumping either
// makes every dependent entry unreachable, so invalidation is targeted and
// immediate while stale entries age out via TTL.
//
// A nil Cache (or a cache without a client) is a no-op: every lookup
// misses and every store is skipped. Cache faults are logged and treated
// as misses; a broken Redis must never break a permission check.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	slide  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewCache instantiates the cache helper. ttl is the absolute lifetime of
// a decision entry; slide is the sliding window a read renews, clamped so
// no entry outlives its absolute deadline. A slide of zero disables the
// renewal and entries simply live for ttl.
func NewCache(client *redis.Client, ttl, slide time.Duration, logger *slog.Logger) *Cache {
	return &Cache{client: client, ttl: ttl, slide: slide, logger: logger, now: time.Now}
}

// PermKey composes the cache key for a permission check tuple.
func (c *Cache) PermKey(ctx context.Context, userID int64, resource, action string, centerID, appID *int64) string {
	parts := []string{
		"authz", "perm",
		c.generationToken(ctx, userID),
		strconv.FormatInt(userID, 10),
		strings.ToLower(resource),
		strings.ToLower(action),
		optionalToken(centerID),
		optionalToken(appID),
	}
	return strings.Join(parts, ":")
}

// AppsKey composes the cache key for a user's accessible-apps lookup.
func (c *Cache) AppsKey(ctx context.Context, userID int64) string {
	return strings.Join([]string{"authz", "apps", c.generationToken(ctx, userID), strconv.FormatInt(userID, 10)}, ":")
}

// CentersKey composes the cache key for a user's accessible-centers lookup.
func (c *Cache) CentersKey(ctx context.Context, userID int64) string {
	return strings.Join([]string{"authz", "centers", c.generationToken(ctx, userID), strconv.FormatInt(userID, 10)}, ":")
}

// GetBool returns a cached decision and whether it was present. A hit
// inside the sliding window renews the entry, never past the absolute
// deadline stamped when it was stored.
func (c *Cache) GetBool(ctx context.Context, key string) (bool, bool) {
	if c == nil || c.client == nil {
		return false, false
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.warn("cache get", err)
		}
		return false, false
	}
	value, stamp, found := strings.Cut(raw, "|")
	if !found {
		return false, false
	}
	deadline, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return false, false
	}
	remaining := time.Unix(0, deadline).Sub(c.now())
	if remaining <= 0 {
		return false, false
	}
	if c.slide > 0 {
		if err := c.client.Expire(ctx, key, min(c.slide, remaining)).Err(); err != nil {
			c.warn("cache refresh", err)
		}
	}
	return value == "1", true
}

// SetBool stores a decision under the key, stamped with its absolute
// deadline so renewals know where to stop.
func (c *Cache) SetBool(ctx context.Context, key string, value bool) {
	if c == nil || c.client == nil {
		return
	}
	raw := "0"
	if value {
		raw = "1"
	}
	raw += "|" + strconv.FormatInt(c.now().Add(c.ttl).UnixNano(), 10)
	life := c.ttl
	if c.slide > 0 && c.slide < c.ttl {
		life = c.slide
	}
	if err := c.client.Set(ctx, key, raw, life).Err(); err != nil {
		c.warn("cache set", err)
	}
}

// FetchIDs loads a cached ID list or populates it from the loader. Cache
// faults fall through to a direct load.
func (c *Cache) FetchIDs(ctx context.Context, key string, loader func(context.Context) ([]int64, error)) ([]int64, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var ids []int64
		if err := json.Unmarshal(payload, &ids); err == nil {
			return ids, nil
		}
	} else if err != redis.Nil {
		c.warn("cache get", err)
	}
	ids, err := loader(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return ids, nil
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		c.warn("cache set", err)
	}
	return ids, nil
}

// InvalidateUser bumps the user's generation so every cached decision for
// that user becomes unreachable. Must be called whenever the user's role,
// role permissions, grants, or matrix rows change.
func (c *Cache) InvalidateUser(ctx context.Context, userID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheUserGenPrefix+strconv.FormatInt(userID, 10)).Err()
}

// InvalidateAll bumps the global generation, invalidating every user.
func (c *Cache) InvalidateAll(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheGlobalGenKey).Err()
}

// generationToken reads the global and per-user generation counters. A
// missing counter reads as zero; a Redis fault yields a one-off token so
// the lookup misses instead of serving a stale entry.
func (c *Cache) generationToken(ctx context.Context, userID int64) string {
	if c == nil || c.client == nil {
		return "0.0"
	}
	global, err := c.client.Get(ctx, cacheGlobalGenKey).Int64()
	if err != nil && err != redis.Nil {
		c.warn("cache generation", err)
		return "miss-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	user, err := c.client.Get(ctx, cacheUserGenPrefix+strconv.FormatInt(userID, 10)).Int64()
	if err != nil && err != redis.Nil {
		c.warn("cache generation", err)
		return "miss-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return strconv.FormatInt(global, 10) + "." + strconv.FormatInt(user, 10)
}

func (c *Cache) warn(stage string, err error) {
	if c.logger != nil {
		c.logger.Warn(stage, slog.Any("error", err))
	}
}

func optionalToken(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}
