package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RotationStore implements channel.RotationStore: the sequential-rotation
// pointer for an account's round-robin selection, keyed by
// `PaymentChannelAccountSort:{channel_id}`.
type RotationStore struct {
	rdb redis.UniversalClient
}

// NewRotationStore builds a RotationStore.
func NewRotationStore(rdb redis.UniversalClient) *RotationStore {
	return &RotationStore{rdb: rdb}
}

func rotationKey(channelID string) string { return fmt.Sprintf("PaymentChannelAccountSort:%s", channelID) }

// NextSequential implements channel.RotationStore.
func (s *RotationStore) NextSequential(ctx context.Context, channelID string, sortedAccountIDs []string) (string, error) {
	if len(sortedAccountIDs) == 0 {
		return "", fmt.Errorf("redis: no eligible accounts for channel %s", channelID)
	}
	if len(sortedAccountIDs) == 1 {
		return sortedAccountIDs[0], nil
	}

	key := rotationKey(channelID)
	last, err := s.rdb.Get(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("redis: get rotation pointer: %w", err)
	}

	next := sortedAccountIDs[0]
	for i, id := range sortedAccountIDs {
		if id == last {
			next = sortedAccountIDs[(i+1)%len(sortedAccountIDs)]
			break
		}
	}

	if err := s.rdb.Set(ctx, key, next, 24*time.Hour).Err(); err != nil {
		return "", fmt.Errorf("redis: set rotation pointer: %w", err)
	}
	return next, nil
}
