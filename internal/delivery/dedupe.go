package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper remembers handled message IDs.
type Deduper interface {
	// Seen reports whether id was marked within the retention window.
	Seen(ctx context.Context, id string) (bool, error)
	// Mark records id as handled.
	Mark(ctx context.Context, id string) error
}

// LRUDeduper remembers IDs in process. It only catches re-deliveries to
// the same instance.
type LRUDeduper struct {
	cache *expirable.LRU[string, struct{}]
}

// NewLRUDeduper creates an LRUDeduper holding up to size IDs for ttl.
func NewLRUDeduper(size int, ttl time.Duration) *LRUDeduper {
	if size <= 0 {
		size = 100_000
	}
	return &LRUDeduper{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen implements Deduper.
func (d *LRUDeduper) Seen(_ context.Context, id string) (bool, error) {
	return d.cache.Contains(id), nil
}

// Mark implements Deduper.
func (d *LRUDeduper) Mark(_ context.Context, id string) error {
	d.cache.Add(id, struct{}{})
	return nil
}

// RedisDeduper shares handled IDs across instances.
type RedisDeduper struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a RedisDeduper. Keys are "<prefix><id>".
func NewRedisDeduper(client redis.Cmdable, prefix string, ttl time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "secpipeline:seen:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{client: client, prefix: prefix, ttl: ttl}
}

// Seen implements Deduper.
func (d *RedisDeduper) Seen(ctx context.Context, id string) (bool, error) {
	_, err := d.client.Get(ctx, d.prefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get: %w", err)
	}
	return true, nil
}

// Mark implements Deduper.
func (d *RedisDeduper) Mark(ctx context.Context, id string) error {
	if err := d.client.SetNX(ctx, d.prefix+id, 1, d.ttl).Err(); err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	return nil
}

// Deduplicated wraps a Source and acks re-deliveries of handled records
// without returning them. A failing Deduper lets records through.
type Deduplicated struct {
	Source
	deduper Deduper
	logger  *zap.Logger
}

// NewDeduplicated wraps src.
func NewDeduplicated(src Source, deduper Deduper, logger *zap.Logger) *Deduplicated {
	return &Deduplicated{Source: src, deduper: deduper, logger: logger}
}

// Receive implements Source.
func (d *Deduplicated) Receive(ctx context.Context) (*Message, error) {
	for {
		msg, err := d.Source.Receive(ctx)
		if err != nil {
			return nil, err
		}
		seen, err := d.deduper.Seen(ctx, msg.ID)
		if err != nil {
			d.logger.Warn("dedupe lookup failed; processing anyway",
				zap.String("message_id", msg.ID), zap.Error(err))
			return msg, nil
		}
		if !seen {
			return msg, nil
		}
		metrics.RecordCollected(metrics.RecordDuplicate)
		d.logger.Debug("dropping re-delivered record", zap.String("message_id", msg.ID))
		if err := d.Source.Ack(ctx, msg); err != nil {
			d.logger.Warn("ack duplicate", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

// Ack implements Source. The ID is marked before the underlying ack.
func (d *Deduplicated) Ack(ctx context.Context, msg *Message) error {
	d.mark(ctx, msg)
	return d.Source.Ack(ctx, msg)
}

// Reject implements Source.
func (d *Deduplicated) Reject(ctx context.Context, msg *Message, reason string) error {
	d.mark(ctx, msg)
	return d.Source.Reject(ctx, msg, reason)
}

func (d *Deduplicated) mark(ctx context.Context, msg *Message) {
	if err := d.deduper.Mark(ctx, msg.ID); err != nil {
		d.logger.Warn("dedupe mark failed", zap.String("message_id", msg.ID), zap.Error(err))
	}
}
