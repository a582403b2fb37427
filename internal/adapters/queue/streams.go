// Package queue carries domain.Message envelopes over a Redis Stream with a
// consumer group, retries and a dead-letter stream.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultConnectionTimeout = 2 * time.Second
	payloadField             = "payload"
)

// Client wraps a Redis client with the stream names one queue uses.
type Client struct {
	rdb    *redis.Client
	stream string
}

type Config struct {
	Addr     string
	Password string `json:"-"`
	DB       int
	Stream   string // e.g. "lamudi:messages"
}

// NewClient connects and pings. The caller owns the client and must Close it.
func NewClient(cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewClientFromRedis(rdb, cfg.Stream), nil
}

// NewClientFromRedis wraps an existing client.
func NewClientFromRedis(rdb *redis.Client, stream string) *Client {
	if stream == "" {
		stream = "lamudi:messages"
	}
	return &Client{rdb: rdb, stream: stream}
}

func (c *Client) Stream() string    { return c.stream }
func (c *Client) DeadLetter() string { return c.stream + ":dlq" }
func (c *Client) Close() error      { return c.rdb.Close() }

func (c *Client) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

// EnsureGroup creates the consumer group (and the stream) if missing.
func (c *Client) EnsureGroup(ctx context.Context, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.stream, group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", group, err)
	}
	return nil
}

// Len returns the number of entries in the main and dead-letter streams.
func (c *Client) Len(ctx context.Context) (main, dead int64, err error) {
	if main, err = c.rdb.XLen(ctx, c.stream).Result(); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	if dead, err = c.rdb.XLen(ctx, c.DeadLetter()).Result(); err != nil && !errors.Is(err, redis.Nil) {
		return 0, 0, err
	}
	return main, dead, nil
}
