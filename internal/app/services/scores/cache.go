package scores

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const flagKeyPrefix = "scores:flag:"

func flagKey(identity string) string {
	return flagKeyPrefix + identity
}

// RedisFlagCache keeps anomaly verdicts in Redis so every instance of the
// service shares the same flagging window.
type RedisFlagCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisFlagCache wraps an existing client. A non-positive ttl takes the
// default flagging window.
func NewRedisFlagCache(rdb *redis.Client, ttl time.Duration) *RedisFlagCache {
	if ttl <= 0 {
		ttl = DefaultFlagTTL
	}
	return &RedisFlagCache{rdb: rdb, ttl: ttl}
}

func (c *RedisFlagCache) Get(ctx context.Context, identity string) (bool, bool, error) {
	val, err := c.rdb.Get(ctx, flagKey(identity)).Result()
	if err == redis.Nil {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("flag cache get: %w", err)
	}
	return val == "1", true, nil
}

func (c *RedisFlagCache) Set(ctx context.Context, identity string, flagged bool) error {
	val := "0"
	if flagged {
		val = "1"
	}
	if err := c.rdb.Set(ctx, flagKey(identity), val, c.ttl).Err(); err != nil {
		return fmt.Errorf("flag cache set: %w", err)
	}
	return nil
}

// MemoryFlagCache is the in-process fallback used when no Redis client is
// configured. Entries expire lazily on read.
type MemoryFlagCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]flagEntry
	now     func() time.Time
}

type flagEntry struct {
	flagged bool
	expires time.Time
}

func NewMemoryFlagCache(ttl time.Duration) *MemoryFlagCache {
	if ttl <= 0 {
		ttl = DefaultFlagTTL
	}
	return &MemoryFlagCache{
		ttl:     ttl,
		entries: make(map[string]flagEntry),
		now:     time.Now,
	}
}

func (c *MemoryFlagCache) Get(_ context.Context, identity string) (bool, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[identity]
	if !ok {
		return false, false, nil
	}
	if c.now().After(entry.expires) {
		delete(c.entries, identity)
		return false, false, nil
	}
	return entry.flagged, true, nil
}

func (c *MemoryFlagCache) Set(_ context.Context, identity string, flagged bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity] = flagEntry{flagged: flagged, expires: c.now().Add(c.ttl)}
	return nil
}
