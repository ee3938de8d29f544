package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "guardrail:ratelimit:"

// RedisStore keeps timestamps in a sorted set per user, scored by Unix
// microseconds, so limits hold across instances.
type RedisStore struct {
	client    redis.Cmdable
	retention time.Duration
}

// NewRedisStore creates a RedisStore. Keys expire after retention of inactivity.
func NewRedisStore(client redis.Cmdable, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = time.Hour
	}
	return &RedisStore{client: client, retention: retention}
}

func (s *RedisStore) key(userID string) string {
	return redisKeyPrefix + userID
}

// Durable reports that history is shared and survives restarts
func (s *RedisStore) Durable() bool { return true }

// Record adds a timestamp, trims entries older than the retention and
// refreshes the key TTL in one pipeline.
func (s *RedisStore) Record(ctx context.Context, userID string, at time.Time) error {
	key := s.key(userID)
	micros := at.UnixMicro()
	cutoff := at.Add(-s.retention).UnixMicro()

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(micros),
		Member: fmt.Sprintf("%d-%s", micros, uuid.New().String()),
	})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, s.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record request: %w", err)
	}
	return nil
}

// Count returns the number of entries scored after now-window
func (s *RedisStore) Count(ctx context.Context, userID string, window time.Duration, now time.Time) (int, error) {
	lower := "(" + strconv.FormatInt(now.Add(-window).UnixMicro(), 10)
	n, err := s.client.ZCount(ctx, s.key(userID), lower, "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count requests: %w", err)
	}
	return int(n), nil
}

// Reset clears a user's history
func (s *RedisStore) Reset(ctx context.Context, userID string) error {
	return s.client.Del(ctx, s.key(userID)).Err()
}
