// Package redis connects growrack core to Redis, which backs the shared
// cooldown store when several core instances serve the same racks.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/nerrad567/growrack-core/internal/infrastructure/config"
)

const defaultPingTimeout = 5 * time.Second

var (
	// ErrConnectionFailed indicates the initial ping failed.
	ErrConnectionFailed = errors.New("redis: connection failed")

	// ErrNotConnected is returned by HealthCheck on a closed client.
	ErrNotConnected = errors.New("redis: not connected")
)

// Client wraps a go-redis client. It satisfies goredis.UniversalClient
// through embedding, so it can be handed to anything that runs scripts.
type Client struct {
	*goredis.Client
	keyPrefix string
}

// Connect creates a client and verifies the server answers PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("%w: %s: %w", ErrConnectionFailed, cfg.Addr, err)
	}

	return &Client{Client: rdb, keyPrefix: cfg.KeyPrefix}, nil
}

// KeyPrefix returns the configured key namespace.
func (c *Client) KeyPrefix() string {
	return c.keyPrefix
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c == nil || c.Client == nil {
		return ErrNotConnected
	}
	if err := c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// Close releases the connection pool. Safe on a nil client.
func (c *Client) Close() error {
	if c == nil || c.Client == nil {
		return nil
	}
	return c.Client.Close()
}
