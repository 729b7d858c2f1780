package attest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// decisionKey is where the latest gate decision lives in Redis.
const decisionKey = "omen:live_gate:decision"

// DecisionCache stores the most recent gate decision for a bounded TTL
// so bursts of LIVE requests do not re-run the service checks.
type DecisionCache interface {
	Get(ctx context.Context) (GateDecision, bool, error)
	Put(ctx context.Context, d GateDecision) error
}

// NewAuto selects the cache backend: Redis when an address is
// configured, in-process memory otherwise.
func NewAuto(redisAddr string, ttl time.Duration) DecisionCache {
	if redisAddr == "" {
		return NewMemoryCache(ttl)
	}
	return NewRedisCache(redis.NewClient(&redis.Options{Addr: redisAddr}), ttl)
}

// MemoryCache holds one decision in process memory.
type MemoryCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	d      GateDecision
	expiry time.Time
	now    func() time.Time
}

// NewMemoryCache builds an in-process cache with the given TTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now}
}

// Get implements DecisionCache.
func (c *MemoryCache) Get(_ context.Context) (GateDecision, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expiry.IsZero() || c.now().After(c.expiry) {
		return GateDecision{}, false, nil
	}
	return c.d, true, nil
}

// Put implements DecisionCache.
func (c *MemoryCache) Put(_ context.Context, d GateDecision) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.d = d
	c.expiry = c.now().Add(c.ttl)
	return nil
}

// RedisCache shares one decision across service instances.
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisCache builds a Redis-backed cache with the given TTL.
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get implements DecisionCache. A missing key is a miss, not an error.
func (c *RedisCache) Get(ctx context.Context) (GateDecision, bool, error) {
	val, err := c.client.Get(ctx, decisionKey).Result()
	if errors.Is(err, redis.Nil) {
		return GateDecision{}, false, nil
	}
	if err != nil {
		return GateDecision{}, false, fmt.Errorf("gate cache get: %w", err)
	}
	var d GateDecision
	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return GateDecision{}, false, fmt.Errorf("gate cache decode: %w", err)
	}
	return d, true, nil
}

// Put implements DecisionCache. Redis expires the key after the TTL.
func (c *RedisCache) Put(ctx context.Context, d GateDecision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("gate cache encode: %w", err)
	}
	if err := c.client.Set(ctx, decisionKey, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("gate cache set: %w", err)
	}
	return nil
}
