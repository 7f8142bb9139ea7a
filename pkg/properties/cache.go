package properties

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 5 * time.Minute

// Cache stores flattened properties in Redis, one key per organization.
type Cache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl, prefix: "hull:properties:"}
}

// Get returns the cached properties of organization. A miss is not an error.
func (c *Cache) Get(ctx context.Context, organization string) (map[string]Property, bool, error) {
	raw, err := c.rdb.Get(ctx, c.prefix+organization).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var props map[string]Property
	if err := json.Unmarshal(raw, &props); err != nil {
		return nil, false, err
	}
	return props, true, nil
}

func (c *Cache) Set(ctx context.Context, organization string, props map[string]Property) error {
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+organization, raw, c.ttl).Err()
}

// Invalidate drops the cached properties of organization.
func (c *Cache) Invalidate(ctx context.Context, organization string) error {
	return c.rdb.Del(ctx, c.prefix+organization).Err()
}
