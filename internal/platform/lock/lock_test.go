package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertExclusive(t *testing.T, l Locker) {
	t.Helper()
	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "stock:1:1", func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), peak)
}

func TestLocalExclusive(t *testing.T) {
	l := NewLocal()
	assertExclusive(t, l)
	require.Empty(t, l.locks)
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "k", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)
}

func TestWithAllOrdersKeys(t *testing.T) {
	l := NewLocal()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		keys := []string{"a", "b"}
		if i%2 == 1 {
			keys = []string{"b", "a", "b"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, WithAll(context.Background(), l, keys, func(ctx context.Context) error {
				time.Sleep(time.Millisecond)
				return nil
			}))
		}()
	}
	wg.Wait()
}

func TestRedisExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedis(rdb, RedisConfig{TTL: time.Second, RetryEvery: time.Millisecond, Prefix: "test:"})
	assertExclusive(t, l)
	require.Empty(t, mr.Keys())
}

func TestRedisNotObtained(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, mr.Set("test:busy", "someone-else"))

	l := NewRedis(rdb, RedisConfig{TTL: time.Second, RetryEvery: time.Millisecond, Prefix: "test:"})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "busy", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrNotObtained)
}
