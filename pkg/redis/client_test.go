package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kitchenops/kitchenops-backend/pkg/config"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := NewFromAddr(srv.Addr())
	t.Cleanup(func() { _ = client.Close() })
	return client, srv
}

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	client, srv := newTestClient(t)

	allowed, count, err := client.FixedWindowAllow(ctx, "signup:ip:1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 1, count)
	assert.Equal(t, time.Minute, srv.TTL("ko:rate_limit:signup:ip:1.2.3.4"))

	allowed, count, err = client.FixedWindowAllow(ctx, "signup:ip:1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 2, count)

	allowed, _, err = client.FixedWindowAllow(ctx, "signup:ip:1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)

	srv.FastForward(time.Minute + time.Second)
	allowed, count, err = client.FixedWindowAllow(ctx, "signup:ip:1.2.3.4", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.EqualValues(t, 1, count)
}

func TestSetNXAndDel(t *testing.T) {
	ctx := context.Background()
	client, _ := newTestClient(t)
	key := client.IdempotencyKey("stripe", "evt_1")

	ok, err := client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = client.SetNX(ctx, key, "1", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.Del(ctx, key))
	_, err = client.Get(ctx, key)
	assert.ErrorIs(t, err, goredis.Nil)
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	assert.Equal(t, "ko:idempotency:stripe:evt_1", client.IdempotencyKey("stripe", "evt_1"))
	assert.Equal(t, "ko:rate_limit:signup", client.RateLimitKey(" signup "))
	assert.Equal(t, "ko:lock:worker:prod", client.LockKey("worker", "", "prod"))
}

func TestUninitializedClient(t *testing.T) {
	client := &Client{}
	assert.Error(t, client.Ping(context.Background()))
	_, err := client.SetNX(context.Background(), "k", "v", 0)
	assert.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	_, err := optionsFromConfig(config.RedisConfig{})
	assert.Error(t, err)

	opts, err := optionsFromConfig(config.RedisConfig{URL: "redis://localhost:6379/2", PoolSize: 7})
	require.NoError(t, err)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)

	opts, err = optionsFromConfig(config.RedisConfig{Address: "cache:6379", DB: 3})
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
}

func TestNewPingsServer(t *testing.T) {
	srv := miniredis.RunT(t)
	client, err := New(context.Background(), config.RedisConfig{Address: srv.Addr()}, nil)
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())
}
