// Package postgres provides the PostgreSQL connection pool and the
// concrete repository implementations every domain engine depends on.
// Connection/pool setup is kept close to verbatim from the ledger client
// this was adapted from; the ledger-specific hash-chain methods are
// replaced by one repository type per entity.
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultConfig returns a default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Host:         "localhost",
		Port:         5432,
		User:         "postgres",
		Password:     "postgres",
		Database:     "aggpay",
		SSLMode:      "disable",
		MaxOpenConns: 100,
		MaxIdleConns: 10,
	}
}

// Client wraps a PostgreSQL connection pool.
type Client struct {
	db *sql.DB
}

// NewClient opens and verifies a PostgreSQL connection pool.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &Client{db: db}, nil
}

// Close closes the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// DB returns the underlying *sql.DB for engines/repositories to use.
func (c *Client) DB() *sql.DB { return c.db }
