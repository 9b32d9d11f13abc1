package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// RedisConfig tunes the distributed locker.
type RedisConfig struct {
	TTL        time.Duration
	RetryEvery time.Duration
	Prefix     string
}

// Redis serializes work across instances with bsm/redislock.
type Redis struct {
	client *redislock.Client
	cfg    RedisConfig
}

// NewRedis builds a Redis-backed locker.
func NewRedis(rdb redis.UniversalClient, cfg RedisConfig) *Redis {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = 25 * time.Millisecond
	}
	return &Redis{client: redislock.New(rdb), cfg: cfg}
}

// WithLock implements Locker. The lock is refreshed at half its TTL while fn
// runs so long commits do not lose it.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	lk, err := r.client.Obtain(ctx, r.cfg.Prefix+key, r.cfg.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.cfg.RetryEvery),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", ErrNotObtained, key)
		}
		return fmt.Errorf("lock: obtain %s: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.cfg.TTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				_ = lk.Refresh(context.WithoutCancel(ctx), r.cfg.TTL, nil)
			}
		}
	}()

	defer func() {
		close(stop)
		<-done
		_ = lk.Release(context.WithoutCancel(ctx))
	}()

	return fn(ctx)
}
