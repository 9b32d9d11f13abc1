package reports

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockledger/internal/inventory"
)

const (
	keyPrefix         = "stockledger:reports"
	generationKey     = keyPrefix + ":generation"
	invalidateChannel = keyPrefix + ":invalidate"
)

// Cache stores rendered reports under a generation number. Any ledger or
// stock change bumps the generation, which orphans every cached report at
// once; orphans expire by TTL. A nil Cache, or one without a client, only
// deduplicates concurrent builds.
type Cache struct {
	client redis.UniversalClient
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache returns a cache over client with entries living for ttl.
func NewCache(client redis.UniversalClient, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) remote() bool { return c != nil && c.client != nil }

// Generation reads the current generation. A missing key is generation 0.
func (c *Cache) Generation(ctx context.Context) (int64, error) {
	if !c.remote() {
		return 0, nil
	}
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Key names a report within the current generation.
func (c *Cache) Key(ctx context.Context, parts ...string) (string, error) {
	gen, err := c.Generation(ctx)
	if err != nil {
		return "", err
	}
	return keyPrefix + ":g" + strconv.FormatInt(gen, 10) + ":" + strings.Join(parts, ":"), nil
}

// Load decodes the entry at key into dest, running build on a miss.
// Concurrent misses on one key share a single build.
func (c *Cache) Load(ctx context.Context, key string, dest any, build func(context.Context) (any, error)) error {
	if build == nil {
		return errors.New("reports: cache build func required")
	}
	if c == nil {
		return buildInto(ctx, dest, build)
	}
	if c.remote() {
		raw, err := c.client.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			return json.Unmarshal(raw, dest)
		case !errors.Is(err, redis.Nil):
			return err
		}
	}
	res := c.group.DoChan(key, func() (any, error) {
		value, err := build(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		if c.remote() {
			if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
				return nil, err
			}
		}
		return raw, nil
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case r := <-res:
		if r.Err != nil {
			return r.Err
		}
		return json.Unmarshal(r.Val.([]byte), dest)
	}
}

func buildInto(ctx context.Context, dest any, build func(context.Context) (any, error)) error {
	value, err := build(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump starts a new generation and tells peers about it.
func (c *Cache) Bump(ctx context.Context) error {
	if !c.remote() {
		return nil
	}
	gen, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, invalidateChannel, gen).Err()
}

// HandleStockChanged bumps the generation on every inventory change.
func (c *Cache) HandleStockChanged(ctx context.Context, _ inventory.StockChangedEvent) error {
	return c.Bump(ctx)
}

// Follow subscribes to peer bumps until ctx ends. A peer announcing a
// higher generation than the shared key holds (a failover replica, say)
// raises the key to match; a garbled announcement forces a fresh bump.
func (c *Cache) Follow(ctx context.Context) error {
	if !c.remote() {
		return nil
	}
	sub := c.client.Subscribe(ctx, invalidateChannel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return err
	}
	go func() {
		defer func() { _ = sub.Close() }()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				c.adopt(ctx, msg.Payload)
			}
		}
	}()
	return nil
}

func (c *Cache) adopt(ctx context.Context, payload string) {
	announced, err := strconv.ParseInt(payload, 10, 64)
	if err != nil {
		_ = c.client.Incr(ctx, generationKey).Err()
		return
	}
	if current, err := c.Generation(ctx); err == nil && current >= announced {
		return
	}
	_ = c.client.Set(ctx, generationKey, announced, 0).Err()
}
