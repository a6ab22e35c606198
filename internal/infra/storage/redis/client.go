// Package redis stores the record streams as Redis lists, one list per record
// type, so that several processes can share them.
package redis

import (
	"context"

	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "rpcparity"

type client struct {
	conn      *redis.Client
	keyPrefix string
}

func (c *client) Close() error {
	return c.conn.Close()
}

type config struct {
	keyPrefix string
}

type Option func(*config)

// WithKeyPrefix sets the namespace of the stream keys.
func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.keyPrefix = prefix
	}
}

// NewClient connects to Redis and checks the connection with a PING.
func NewClient(ctx context.Context, addr, username, password string, db int, opts ...Option) (*client, error) {
	cfg := config{keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(&cfg)
	}

	conn := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})

	if err := conn.Ping(ctx).Err(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &client{
		conn:      conn,
		keyPrefix: cfg.keyPrefix,
	}, nil
}
