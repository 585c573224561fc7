package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"reelchain/internal/config"
	"reelchain/internal/logging"
)

const redisPublishTimeout = 2 * time.Second

// RedisPublisher forwards events to a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedisPublisher connects to the configured Redis server. It returns
// nil, nil when no address is configured.
func NewRedisPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*RedisPublisher, error) {
	if cfg == nil || cfg.Events.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Events.RedisAddr,
		Password: cfg.Events.RedisPassword,
		DB:       cfg.Events.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Events.RedisAddr, err)
	}
	return NewRedisPublisherWithClient(client, cfg.Events.RedisChannel, logger), nil
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, channel string, logger *slog.Logger) *RedisPublisher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		logger:  logger.With(logging.String(logging.FieldComponent, "events")),
	}
}

// Channel returns the pub/sub channel name.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Append publishes evt as JSON. Failures are logged and otherwise ignored;
// Redis is an optional mirror of the in-process stream.
func (p *RedisPublisher) Append(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		p.logger.Warn("encode event failed", logging.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisPublishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		p.logger.Warn("redis publish failed",
			logging.Error(err),
			logging.String("channel", p.channel),
			logging.String(logging.FieldEventType, "event_publish_failed"),
			logging.String(logging.FieldErrorHint, "check events.redis_addr"),
			logging.String(logging.FieldImpact, "external subscribers miss this event"),
		)
	}
}

// Close releases the Redis connection pool.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
