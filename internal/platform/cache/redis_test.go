package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := New(context.Background(), Options{Addr: srv.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := srv.Get("k")
	require.NoError(t, err)
	require.Equal(t, "v", got)
}

func TestNewRejectsUnreachable(t *testing.T) {
	srv := miniredis.RunT(t)
	addr := srv.Addr()
	srv.Close()

	_, err := New(context.Background(), Options{Addr: addr})
	require.Error(t, err)

	_, err = New(context.Background(), Options{})
	require.Error(t, err)
}

func TestAsynqOptionsMirrorClient(t *testing.T) {
	opts := Options{Addr: "redis:6379", Password: "secret", DB: 2, PoolSize: 8}
	q := opts.Asynq()
	require.Equal(t, opts.Addr, q.Addr)
	require.Equal(t, opts.Password, q.Password)
	require.Equal(t, 2, q.DB)
	require.Equal(t, 8, q.PoolSize)
}
