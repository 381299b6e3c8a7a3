package resource

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore is a read-through Redis decorator over a registry store.
// Registry data is sensitive, so entries carry a short TTL. Cache failures
// fall through to the underlying store: a degraded cache must never change
// an authorization outcome, only its latency.
type CachedStore struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedStore(inner Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	return &CachedStore{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(resourceID string) string {
	return "accord:policy:" + resourceID
}

func (s *CachedStore) Get(ctx context.Context, resourceID string) (*Policy, error) {
	raw, err := s.client.Get(ctx, cacheKey(resourceID)).Bytes()
	if err == nil {
		var policy Policy
		if jsonErr := json.Unmarshal(raw, &policy); jsonErr == nil {
			return &policy, nil
		}
		// Corrupt entry: drop it and fall through.
		s.client.Del(ctx, cacheKey(resourceID))
	} else if !errors.Is(err, redis.Nil) {
		s.logger.WarnContext(ctx, "policy cache read failed, falling through",
			"resource_id", resourceID,
			"error", err.Error(),
		)
	}

	policy, err := s.inner.Get(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	if encoded, jsonErr := json.Marshal(policy); jsonErr == nil {
		if setErr := s.client.Set(ctx, cacheKey(resourceID), encoded, s.ttl).Err(); setErr != nil {
			s.logger.WarnContext(ctx, "policy cache write failed",
				"resource_id", resourceID,
				"error", setErr.Error(),
			)
		}
	}

	return policy, nil
}

// Put writes through to the underlying store and invalidates the cached
// entry so the next read observes the new policy.
func (s *CachedStore) Put(ctx context.Context, policy *Policy) error {
	if err := s.inner.Put(ctx, policy); err != nil {
		return err
	}
	if err := s.client.Del(ctx, cacheKey(policy.ResourceID)).Err(); err != nil {
		s.logger.WarnContext(ctx, "policy cache invalidation failed",
			"resource_id", policy.ResourceID,
			"error", err.Error(),
		)
	}
	return nil
}
