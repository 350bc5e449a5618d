package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is one of a circuit's three states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// breakerConfig holds the fixed thresholds applied to every account's
// circuit. A per-account CircuitBreakerConfig (as the teacher had) isn't
// needed here: every payment driver account is guarded with the same
// thresholds, only the Redis key (the account ID) varies.
type breakerConfig struct {
	FailureThreshold int64
	SuccessThreshold int64
	Timeout          time.Duration
	FailureWindow    time.Duration
}

func defaultBreakerConfig() breakerConfig {
	return breakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          30 * time.Second,
		FailureWindow:    60 * time.Second,
	}
}

// CircuitState is the persisted state in Redis.
type CircuitState struct {
	State           State     `json:"state"`
	Failures        int64     `json:"failures"`
	Successes       int64     `json:"successes"`
	LastFailure     time.Time `json:"last_failure"`
	LastStateChange time.Time `json:"last_state_change"`
}

// CircuitBreaker implements driver.Breaker using a Redis-persisted state
// machine per account key, kept close to the teacher's shape (state blob in
// a string key, failure count in a sliding-window sorted set).
type CircuitBreaker struct {
	rdb    redis.UniversalClient
	mu     sync.RWMutex
	prefix string
	cfg    breakerConfig
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// NewCircuitBreaker creates a new distributed circuit breaker.
func NewCircuitBreaker(rdb redis.UniversalClient) *CircuitBreaker {
	return &CircuitBreaker{rdb: rdb, prefix: "aggpay:circuit:", cfg: defaultBreakerConfig()}
}

func (cb *CircuitBreaker) key(name string) string         { return cb.prefix + name }
func (cb *CircuitBreaker) failuresKey(name string) string { return cb.prefix + name + ":failures" }

func (cb *CircuitBreaker) getState(ctx context.Context, name string) (*CircuitState, error) {
	data, err := cb.rdb.Get(ctx, cb.key(name)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &CircuitState{State: StateClosed, LastStateChange: time.Now()}, nil
		}
		return nil, fmt.Errorf("failed to get circuit state: %w", err)
	}

	var state CircuitState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal circuit state: %w", err)
	}

	if state.State == StateOpen && time.Since(state.LastStateChange) >= cb.cfg.Timeout {
		state.State = StateHalfOpen
		state.Successes = 0
		state.LastStateChange = time.Now()
		if err := cb.saveState(ctx, name, &state); err != nil {
			return nil, err
		}
	}

	return &state, nil
}

func (cb *CircuitBreaker) saveState(ctx context.Context, name string, state *CircuitState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal circuit state: %w", err)
	}
	return cb.rdb.Set(ctx, cb.key(name), data, 24*time.Hour).Err()
}

// Allow implements driver.Breaker: reports whether a call against key may
// proceed (closed or half-open probes allowed through, open rejected).
func (cb *CircuitBreaker) Allow(ctx context.Context, key string) (bool, error) {
	state, err := cb.getState(ctx, key)
	if err != nil {
		return false, err
	}
	return state.State != StateOpen, nil
}

// RecordSuccess implements driver.Breaker.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, err := cb.getState(ctx, key)
	if err != nil {
		return err
	}

	if state.State == StateHalfOpen {
		state.Successes++
		if state.Successes >= cb.cfg.SuccessThreshold {
			state.State = StateClosed
			state.Failures = 0
			state.Successes = 0
			state.LastStateChange = time.Now()
		}
		return cb.saveState(ctx, key, state)
	}

	return nil
}

// RecordFailure implements driver.Breaker.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, err := cb.getState(ctx, key)
	if err != nil {
		return err
	}

	now := time.Now()
	state.LastFailure = now
	state.Failures++

	failureCount, err := cb.incrementFailureCount(ctx, key)
	if err != nil {
		return err
	}

	if state.State == StateHalfOpen {
		state.State = StateOpen
		state.LastStateChange = now
		state.Successes = 0
	} else if state.State == StateClosed && failureCount >= cb.cfg.FailureThreshold {
		state.State = StateOpen
		state.LastStateChange = now
	}

	return cb.saveState(ctx, key, state)
}

func (cb *CircuitBreaker) incrementFailureCount(ctx context.Context, name string) (int64, error) {
	key := cb.failuresKey(name)
	now := time.Now()
	windowStart := now.Add(-cb.cfg.FailureWindow).UnixMilli()

	pipe := cb.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: fmt.Sprintf("%d", now.UnixNano())})
	countCmd := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, cb.cfg.FailureWindow)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to record failure: %w", err)
	}
	return countCmd.Val(), nil
}

// Reset resets a circuit to closed state (used by admin tooling and tests).
func (cb *CircuitBreaker) Reset(ctx context.Context, key string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	pipe := cb.rdb.Pipeline()
	pipe.Del(ctx, cb.key(key))
	pipe.Del(ctx, cb.failuresKey(key))
	_, err := pipe.Exec(ctx)
	return err
}
