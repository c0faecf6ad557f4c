package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kitchenops/kitchenops-backend/pkg/redis"
)

const (
	markerProcessing = "processing"
	markerDone       = "done"

	defaultProcessingLease = 2 * time.Minute
)

// Claim is the result of reserving a webhook event for processing.
type Claim int

const (
	ClaimAcquired Claim = iota
	ClaimDuplicate
	ClaimInProgress
)

// IdempotencyGuard records which processor events have been applied. A claim
// holds a short processing lease; Complete upgrades it to a done marker that
// lives for the full TTL.
type IdempotencyGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	lease time.Duration
	scope string
}

func NewIdempotencyGuard(store redis.IdempotencyStore, ttl time.Duration, scope string) (*IdempotencyGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	lease := defaultProcessingLease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &IdempotencyGuard{store: store, ttl: ttl, lease: lease, scope: scope}, nil
}

// Claim reserves eventID. A concurrent delivery of the same event sees
// ClaimInProgress until the first one completes or releases it.
func (g *IdempotencyGuard) Claim(ctx context.Context, eventID string) (Claim, error) {
	if eventID == "" {
		return ClaimAcquired, errors.New("event id is required")
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	set, err := g.store.SetNX(ctx, key, markerProcessing, g.lease)
	if err != nil {
		return ClaimAcquired, fmt.Errorf("claim webhook event: %w", err)
	}
	if set {
		return ClaimAcquired, nil
	}
	marker, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, goredis.Nil):
		return ClaimInProgress, nil
	case err != nil:
		return ClaimAcquired, fmt.Errorf("read webhook marker: %w", err)
	case marker == markerDone:
		return ClaimDuplicate, nil
	default:
		return ClaimInProgress, nil
	}
}

// Complete marks eventID as applied.
func (g *IdempotencyGuard) Complete(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Set(ctx, g.store.IdempotencyKey(g.scope, eventID), markerDone, g.ttl)
}

// Release drops the claim so the processor's redelivery is applied.
func (g *IdempotencyGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.IdempotencyKey(g.scope, eventID))
}
