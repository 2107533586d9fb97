package quotestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/dtc-feed/internal/model"
)

// RedisConfig holds Redis mirror configuration.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // Default: "dtc:"
	Channel   string // Pub/sub channel, empty disables publishing (default: "dtc:quotes")
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		KeyPrefix: "dtc:",
		Channel:   "dtc:quotes",
	}
}

// NewRedisClient creates a client and checks the connection.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Redis mirrors a Memory store into Redis.
type Redis struct {
	*Memory

	client *redis.Client
	cfg    RedisConfig
	logger *slog.Logger
}

// NewRedis wraps client. The caller owns the client.
func NewRedis(client *redis.Client, cfg RedisConfig, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		Memory: NewMemory(),
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// HashKey is the Redis hash holding the latest quote per instrument.
func (r *Redis) HashKey() string {
	return r.cfg.KeyPrefix + "quotes"
}

// Put stores q in memory, then mirrors and publishes it.
func (r *Redis) Put(ctx context.Context, q model.Quote) error {
	if err := r.Memory.Put(ctx, q); err != nil {
		return err
	}

	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote: %w", err)
	}

	pipe := r.client.Pipeline()
	pipe.HSet(ctx, r.HashKey(), q.Key(), data)
	if r.cfg.Channel != "" {
		pipe.Publish(ctx, r.cfg.Channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror quote %s: %w", q.Key(), err)
	}
	return nil
}

// Load warms memory from the Redis hash, for restarts.
func (r *Redis) Load(ctx context.Context) (int, error) {
	entries, err := r.client.HGetAll(ctx, r.HashKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("load quotes: %w", err)
	}

	n := 0
	for key, raw := range entries {
		var q model.Quote
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			r.logger.Warn("skipping unreadable quote", "key", key, "error", err)
			continue
		}
		r.Memory.Put(ctx, q)
		n++
	}
	return n, nil
}

// Ping checks the Redis connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
