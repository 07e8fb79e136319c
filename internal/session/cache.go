package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/penaltyvision/overlay-server/internal/posture"
)

// DefaultCacheTTL bounds how long a fetched posture sequence is reused.
const DefaultCacheTTL = 10 * time.Minute

// PostureCache stores posture sequences by penalty id. A miss returns
// (nil, false, nil).
type PostureCache interface {
	Get(ctx context.Context, penaltyID string) (*posture.Sequence, bool, error)
	Set(ctx context.Context, penaltyID string, seq *posture.Sequence) error
}

func cacheKey(penaltyID string) string {
	return "penalty:" + penaltyID + ":postures"
}

type memoryEntry struct {
	seq     *posture.Sequence
	expires time.Time
}

// MemoryCache is an in-process PostureCache.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
}

// NewMemoryCache returns a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, penaltyID string) (*posture.Sequence, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[cacheKey(penaltyID)]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, cacheKey(penaltyID))
		return nil, false, nil
	}
	return e.seq, true, nil
}

func (c *MemoryCache) Set(_ context.Context, penaltyID string, seq *posture.Sequence) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(penaltyID)] = memoryEntry{seq: seq, expires: c.now().Add(c.ttl)}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache keeps posture sequences in redis as the backend's JSON array.
type RedisCache struct {
	rc  redis.Cmdable
	ttl time.Duration
}

// NewRedisCache wraps a redis client.
func NewRedisCache(rc redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{rc: rc, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, penaltyID string) (*posture.Sequence, bool, error) {
	raw, err := c.rc.Get(ctx, cacheKey(penaltyID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", cacheKey(penaltyID), err)
	}
	seq, err := posture.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, false, fmt.Errorf("decode cached postures: %w", err)
	}
	return seq, true, nil
}

func (c *RedisCache) Set(ctx context.Context, penaltyID string, seq *posture.Sequence) error {
	data, err := json.Marshal(seq)
	if err != nil {
		return fmt.Errorf("encode postures: %w", err)
	}
	if err := c.rc.Set(ctx, cacheKey(penaltyID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", cacheKey(penaltyID), err)
	}
	return nil
}
