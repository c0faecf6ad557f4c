package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitchenops/kitchenops-backend/pkg/redis"
)

func newGuard(t *testing.T, ttl time.Duration) (*IdempotencyGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewFromAddr(mr.Addr())
	t.Cleanup(func() { _ = client.Close() })
	guard, err := NewIdempotencyGuard(client, ttl, "stripe")
	require.NoError(t, err)
	return guard, mr
}

func TestIdempotencyGuardClaimLifecycle(t *testing.T) {
	ctx := context.Background()
	guard, mr := newGuard(t, 72*time.Hour)
	key := "ko:idempotency:stripe:evt_1"

	claim, err := guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, claim)
	assert.Equal(t, defaultProcessingLease, mr.TTL(key))

	claim, err = guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimInProgress, claim)

	require.NoError(t, guard.Complete(ctx, "evt_1"))
	assert.Equal(t, 72*time.Hour, mr.TTL(key))

	claim, err = guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ClaimDuplicate, claim)
}

func TestIdempotencyGuardReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	guard, _ := newGuard(t, time.Hour)

	_, err := guard.Claim(ctx, "evt_2")
	require.NoError(t, err)
	require.NoError(t, guard.Release(ctx, "evt_2"))

	claim, err := guard.Claim(ctx, "evt_2")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, claim)
}

func TestIdempotencyGuardLeaseExpires(t *testing.T) {
	ctx := context.Background()
	guard, mr := newGuard(t, time.Hour)

	_, err := guard.Claim(ctx, "evt_3")
	require.NoError(t, err)
	mr.FastForward(defaultProcessingLease + time.Second)

	claim, err := guard.Claim(ctx, "evt_3")
	require.NoError(t, err)
	assert.Equal(t, ClaimAcquired, claim)
}

func TestIdempotencyGuardValidation(t *testing.T) {
	_, err := NewIdempotencyGuard(nil, time.Hour, "stripe")
	assert.Error(t, err)

	guard, _ := newGuard(t, time.Minute)
	assert.Equal(t, time.Minute, guard.lease)
	_, err = guard.Claim(context.Background(), "")
	assert.Error(t, err)
}
