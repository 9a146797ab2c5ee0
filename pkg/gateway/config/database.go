package config

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pingTimeout     = 5 * time.Second
	connectDelay    = time.Second
	connectMaxDelay = 250 * time.Millisecond
)

// DatabaseURL builds a postgres:// connection string from the config
func (c DBConfig) DatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.Name,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
	}
	return u.String()
}

// PoolConfig parses the connection string and applies pool sizing and the
// optional search_path.
func (c DBConfig) PoolConfig() (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	if c.PoolSize > 0 {
		cfg.MaxConns = c.PoolSize
	}
	if c.Schema != "" {
		schema := pgx.Identifier{c.Schema}.Sanitize()
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+schema)
			return err
		}
	}
	return cfg, nil
}

// NewPool opens a pool and pings it, retrying while the database comes up.
func NewPool(ctx context.Context, c DBConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := c.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}

	attempts := c.ConnectRetries
	if attempts == 0 {
		attempts = 1
	}

	err = retry.Do(
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
			defer cancel()
			return pool.Ping(pingCtx)
		},
		retry.Attempts(attempts),
		retry.Delay(connectDelay),
		retry.MaxJitter(connectMaxDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WarnContext(ctx, "Database not ready, retrying",
				"attempt", n+1,
				"host", c.Host,
				"database", c.Name,
				"error", err)
		}),
		retry.Context(ctx),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	logger.InfoContext(ctx, "Connected to database", "host", c.Host, "database", c.Name, "max_conns", cfg.MaxConns)
	return pool, nil
}
