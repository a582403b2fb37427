package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"lamudi_ingest/internal/domain"
)

// Producer publishes envelopes onto the queue stream.
type Producer struct{ c *Client }

func NewProducer(c *Client) *Producer { return &Producer{c: c} }

// Publish appends msg and returns the stream entry id.
func (p *Producer) Publish(ctx context.Context, msg domain.Message) (string, error) {
	return p.c.add(ctx, p.c.stream, msg, nil)
}

func (c *Client) add(ctx context.Context, stream string, msg domain.Message, extra map[string]any) (string, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}
	values := map[string]any{
		payloadField: string(b),
		"type":       string(msg.Type),
	}
	for k, v := range extra {
		values[k] = v
	}
	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{Stream: stream, Values: values}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}
