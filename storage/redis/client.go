// Package redis provides Redis Sentinel integration for the payment gateway:
// daily channel/account usage counters, sequential-rotation pointers, and a
// distributed circuit breaker guarding upstream payment drivers.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	// Sentinel configuration
	MasterName    string
	SentinelAddrs []string

	// Standalone configuration (fallback)
	Addr     string
	Password string
	DB       int

	// Pool configuration
	PoolSize     int
	MinIdleConns int

	// Timeouts
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns a default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		MasterName:    "mymaster",
		SentinelAddrs: []string{"localhost:26379"},
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      100,
		MinIdleConns:  10,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
	}
}

// Client wraps a Redis client shared by the daily-limit store, rotation
// store, and circuit breaker.
type Client struct {
	rdb             redis.UniversalClient
	dailyLimits     *DailyLimitStore
	rotation        *RotationStore
	circuitBreaker  *CircuitBreaker
}

// NewClient creates a new Redis client with Sentinel support.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	var rdb redis.UniversalClient

	if len(cfg.SentinelAddrs) > 0 && cfg.MasterName != "" {
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    cfg.MasterName,
			SentinelAddrs: cfg.SentinelAddrs,
			Password:      cfg.Password,
			DB:            cfg.DB,
			PoolSize:      cfg.PoolSize,
			MinIdleConns:  cfg.MinIdleConns,
			ReadTimeout:   cfg.ReadTimeout,
			WriteTimeout:  cfg.WriteTimeout,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	client := &Client{
		rdb:            rdb,
		dailyLimits:    NewDailyLimitStore(rdb),
		rotation:       NewRotationStore(rdb),
		circuitBreaker: NewCircuitBreaker(rdb),
	}

	return client, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis returns the underlying Redis client.
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// DailyLimits returns the channel.DailyLimitStore implementation.
func (c *Client) DailyLimits() *DailyLimitStore {
	return c.dailyLimits
}

// Rotation returns the channel.RotationStore implementation.
func (c *Client) Rotation() *RotationStore {
	return c.rotation
}

// CircuitBreaker returns the driver.Breaker implementation.
func (c *Client) CircuitBreaker() *CircuitBreaker {
	return c.circuitBreaker
}
