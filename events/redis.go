package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig holds configuration for the Redis event publisher.
type RedisConfig struct {
	// Enabled turns the Redis publisher on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Addr is the Redis address.
	Addr string `yaml:"addr" json:"addr"`

	// Password is the Redis password.
	Password string `yaml:"password" json:"password"`

	// DB is the Redis database number.
	DB int `yaml:"db" json:"db"`

	// ChannelPrefix prefixes every published pub/sub channel.
	ChannelPrefix string `yaml:"channel_prefix" json:"channel_prefix"`

	// PublishTimeout bounds a single PUBLISH call.
	PublishTimeout time.Duration `yaml:"publish_timeout" json:"publish_timeout"`
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:        false,
		Addr:           "localhost:6379",
		ChannelPrefix:  "agentnet",
		PublishTimeout: 2 * time.Second,
	}
}

// RedisPublisher republishes bus events on Redis pub/sub channels so
// external subscribers (dashboards, log collectors) can consume them
// without linking the core. One channel per event type, prefixed with
// ChannelPrefix.
type RedisPublisher struct {
	client *redis.Client
	config RedisConfig
	logger *zap.Logger
}

// NewRedisPublisher connects to Redis and returns a publisher.
func NewRedisPublisher(config RedisConfig, logger *zap.Logger) (*RedisPublisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultRedisConfig().PublishTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisPublisher{
		client: client,
		config: config,
		logger: logger.With(zap.String("component", "redis_publisher")),
	}, nil
}

// Handle is the bus Handler. Publish errors are logged and dropped; the
// transition that produced the event has already committed.
func (p *RedisPublisher) Handle(event *Event) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.Error(err))
		return
	}

	channel := p.channelFor(event)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("failed to publish event to redis",
			zap.String("channel", channel),
			zap.String("event_id", event.ID),
			zap.Error(err),
		)
	}
}

// Attach subscribes the publisher to the bus and returns the subscription id.
func (p *RedisPublisher) Attach(bus *Bus) string {
	return bus.Subscribe(p.Handle)
}

// Ping verifies the Redis connection is alive.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

func (p *RedisPublisher) channelFor(event *Event) string {
	return fmt.Sprintf("%s:%s", p.config.ChannelPrefix, event.Type)
}
