package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/plm/aggpay/money"
)

// DailyLimitStore implements channel.DailyLimitStore: per-day channel/account
// usage totals keyed by `PaymentDailyLimit:{kind}:{id}:{date}`, adapted from
// the teacher's sliding-window rate limiter but storing an exact decimal
// running total instead of a request count, since usage caps are amounts.
type DailyLimitStore struct {
	rdb redis.UniversalClient
}

// NewDailyLimitStore builds a DailyLimitStore.
func NewDailyLimitStore(rdb redis.UniversalClient) *DailyLimitStore {
	return &DailyLimitStore{rdb: rdb}
}

func dailyTotalKey(key, date string) string { return fmt.Sprintf("%s:%s", key, date) }

// GetDailyTotal implements channel.DailyLimitStore.
func (s *DailyLimitStore) GetDailyTotal(ctx context.Context, key string, date string) (money.Money, error) {
	val, err := s.rdb.Get(ctx, dailyTotalKey(key, date)).Result()
	if errors.Is(err, redis.Nil) {
		return money.Zero(money.ScaleAmount), nil
	}
	if err != nil {
		return money.Money{}, fmt.Errorf("redis: get daily total: %w", err)
	}
	return money.FromString(val, money.ScaleAmount)
}

// AddDailyTotal implements channel.DailyLimitStore. It uses an optimistic
// WATCH/MULTI transaction rather than INCRBYFLOAT because the running total
// is an exact decimal string, not a Redis float.
func (s *DailyLimitStore) AddDailyTotal(ctx context.Context, key string, date string, amount money.Money) error {
	redisKey := dailyTotalKey(key, date)

	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, redisKey).Result()
		if errors.Is(err, redis.Nil) {
			current = "0"
		} else if err != nil {
			return err
		}

		existing, err := money.FromString(current, money.ScaleAmount)
		if err != nil {
			return err
		}
		updated := existing.Add(amount)

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey, updated.String(), 24*time.Hour)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.rdb.Watch(ctx, txf, redisKey)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("redis: add daily total: %w", err)
	}
	return fmt.Errorf("redis: add daily total: too much contention on %s", redisKey)
}
