package redis

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"corsgate/config"

	"github.com/redis/go-redis/v9"
)

// InitRedis initializes a Redis client with the provided logger and Redis configuration.
// It attempts to connect to the Redis server and logs the connection status.
//
// Parameters:
// - logger: A pointer to the slog.Logger instance for logging messages.
// - redisConfig: The Redis configuration containing host, port, password and database.
//
// Returns:
// - *redis.Client: A pointer to the initialized Redis client.
// - error: An error if the server could not be reached; the client is closed in that case.
func InitRedis(logger *slog.Logger, redisConfig config.RedisConfig) (*redis.Client, error) {
	addr := net.JoinHostPort(redisConfig.Host, redisConfig.Port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: redisConfig.Password,
		DB:       redisConfig.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", addr, err)
	}

	logger.Info("Successfully connected to Redis", slog.String("address", addr), slog.Int("db", redisConfig.DB))
	return client, nil
}

// RedisHealthCheck pings the Redis server.
//
// Parameters:
// - ctx: Bounds the ping.
// - client: A pointer to the Redis client to be checked.
//
// Returns:
// - error: Nil when the server answered.
func RedisHealthCheck(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis down: %w", err)
	}
	return nil
}
