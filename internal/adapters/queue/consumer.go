package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/domain"
)

const (
	defaultGroup        = "lamudi-workers"
	defaultBlockTimeout = 2 * time.Second
	defaultBatchSize    = 10
	defaultMaxRetry     = 5
	defaultClaimMinIdle = 15 * time.Minute
	defaultBaseBackoff  = 500 * time.Millisecond
	defaultMaxBackoff   = 30 * time.Second
	readErrorPause      = time.Second
)

// Handler processes one message. Errors for which domain.IsPermanent holds
// go straight to the dead-letter stream.
type Handler func(ctx context.Context, msg domain.Message) error

type ConsumerConfig struct {
	Group        string
	ConsumerID   string        // unique per process
	Block        time.Duration // XREADGROUP block; must be > 0
	BatchSize    int64
	MaxRetry     int
	ClaimMinIdle time.Duration // pending entries idle this long are taken over; refreshed while handling
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
}

// Consumer reads the stream as one member of a consumer group. Delivery is
// at least once: an entry is acked only after it was handled, re-published
// for retry, or dead-lettered.
type Consumer struct {
	c     *Client
	cfg   ConsumerConfig
	sleep func(ctx context.Context, d time.Duration) error
}

func NewConsumer(c *Client, cfg ConsumerConfig) (*Consumer, error) {
	if cfg.ConsumerID == "" {
		return nil, errors.New("consumer ID is required")
	}
	if cfg.Group == "" {
		cfg.Group = defaultGroup
	}
	if cfg.Block <= 0 {
		cfg.Block = defaultBlockTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.MaxRetry <= 0 {
		cfg.MaxRetry = defaultMaxRetry
	}
	if cfg.ClaimMinIdle <= 0 {
		cfg.ClaimMinIdle = defaultClaimMinIdle
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = defaultBaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &Consumer{c: c, cfg: cfg, sleep: sleepCtx}, nil
}

// Run polls until ctx is cancelled. It returns nil on shutdown.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if err := c.c.EnsureGroup(ctx, c.cfg.Group); err != nil {
		return err
	}
	log.Info().Str("stream", c.c.stream).Str("group", c.cfg.Group).Str("consumer", c.cfg.ConsumerID).Msg("queue consumer started")
	for ctx.Err() == nil {
		if _, err := c.Poll(ctx, h); err != nil {
			if ctx.Err() != nil {
				break
			}
			log.Warn().Err(err).Msg("queue poll")
			_ = c.sleep(ctx, readErrorPause)
		}
	}
	log.Info().Str("consumer", c.cfg.ConsumerID).Msg("queue consumer stopped")
	return nil
}

// Poll handles one round: stale entries of dead consumers first, otherwise
// new entries. It returns how many entries were taken.
func (c *Consumer) Poll(ctx context.Context, h Handler) (int, error) {
	entries, err := c.reclaim(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("reclaim pending")
	}
	if len(entries) == 0 {
		if entries, err = c.read(ctx); err != nil {
			return 0, err
		}
	}
	for _, e := range entries {
		c.handle(ctx, h, e)
	}
	return len(entries), nil
}

func (c *Consumer) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.ConsumerID,
		Streams:  []string{c.c.stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read from stream %s: %w", c.c.stream, err)
	}
	var out []redis.XMessage
	for _, s := range streams {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (c *Consumer) reclaim(ctx context.Context) ([]redis.XMessage, error) {
	msgs, _, err := c.c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.c.stream,
		Group:    c.cfg.Group,
		Consumer: c.cfg.ConsumerID,
		MinIdle:  c.cfg.ClaimMinIdle,
		Start:    "0-0",
		Count:    c.cfg.BatchSize,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		log.Info().Int("count", len(msgs)).Msg("reclaimed idle queue entries")
	}
	return msgs, nil
}

func (c *Consumer) handle(ctx context.Context, h Handler, e redis.XMessage) {
	var msg domain.Message
	payload, _ := e.Values[payloadField].(string)
	if err := json.Unmarshal([]byte(payload), &msg); err != nil || msg.Type == "" {
		if err == nil {
			err = errors.New("message has no type")
		}
		log.Warn().Err(err).Str("entry_id", e.ID).Msg("malformed queue entry")
		c.deadLetter(ctx, e.ID, domain.Message{Type: "MALFORMED", Data: json.RawMessage(quoteJSON(payload))}, err)
		return
	}

	lg := log.With().Str("msg_id", msg.ID).Str("msg_type", string(msg.Type)).Int("retry", msg.Retry).Logger()
	stop := c.keepClaimed(ctx, e.ID)
	defer stop()
	err := h(ctx, msg)
	switch {
	case err == nil:
		observability.ObserveQueue(string(msg.Type), "ok")
		c.ack(ctx, e.ID)

	case ctx.Err() != nil:
		// shutting down; the entry stays pending and is reclaimed later
		lg.Info().Err(err).Msg("message left pending on shutdown")

	case domain.IsPermanent(err) || msg.Retry >= c.cfg.MaxRetry:
		lg.Error().Err(err).Msg("message dead-lettered")
		c.deadLetter(ctx, e.ID, msg, err)

	default:
		wait := c.backoff(msg.Retry)
		lg.Warn().Err(err).Dur("backoff", wait).Msg("message failed, retrying")
		if c.sleep(ctx, wait) != nil {
			return
		}
		msg.Retry++
		if _, perr := c.c.add(ctx, c.c.stream, msg, nil); perr != nil {
			lg.Error().Err(perr).Msg("re-publish failed; entry stays pending")
			return
		}
		observability.ObserveQueue(string(msg.Type), "retry")
		c.ack(ctx, e.ID)
	}
}

// keepClaimed resets the idle time of an in-flight entry every third of
// ClaimMinIdle so no other consumer reclaims it while a slow handler runs.
func (c *Consumer) keepClaimed(ctx context.Context, entryID string) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(max(c.cfg.ClaimMinIdle/3, time.Millisecond))
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				err := c.c.rdb.XClaimJustID(ctx, &redis.XClaimArgs{
					Stream:   c.c.stream,
					Group:    c.cfg.Group,
					Consumer: c.cfg.ConsumerID,
					MinIdle:  0,
					Messages: []string{entryID},
				}).Err()
				if err != nil && ctx.Err() == nil {
					log.Debug().Err(err).Str("entry_id", entryID).Msg("refresh claim")
				}
			}
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func (c *Consumer) deadLetter(ctx context.Context, entryID string, msg domain.Message, cause error) {
	extra := map[string]any{"error": cause.Error(), "entry_id": entryID}
	if _, err := c.c.add(ctx, c.c.DeadLetter(), msg, extra); err != nil {
		log.Error().Err(err).Str("entry_id", entryID).Msg("dead-letter publish failed; entry stays pending")
		return
	}
	observability.ObserveQueue(string(msg.Type), "dead")
	c.ack(ctx, entryID)
}

func (c *Consumer) ack(ctx context.Context, entryID string) {
	if err := c.c.rdb.XAck(context.WithoutCancel(ctx), c.c.stream, c.cfg.Group, entryID).Err(); err != nil {
		log.Warn().Err(err).Str("entry_id", entryID).Msg("xack")
	}
}

// backoff doubles from BaseBackoff per retry, capped at MaxBackoff.
func (c *Consumer) backoff(retry int) time.Duration {
	d := c.cfg.BaseBackoff
	for i := 0; i < retry && d < c.cfg.MaxBackoff; i++ {
		d *= 2
	}
	return min(d, c.cfg.MaxBackoff)
}

func quoteJSON(s string) []byte {
	b, _ := json.Marshal(s)
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
