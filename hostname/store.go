package hostname

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoSnapshot is returned by a SnapshotStore that holds no valid list.
var ErrNoSnapshot = errors.New("no shared TLD snapshot")

// SnapshotStore shares the fetched TLD list between gateway replicas so that
// only one of them has to download it per validity window.
type SnapshotStore interface {
	// Load returns the shared labels and how long they remain valid.
	Load(ctx context.Context) ([]string, time.Duration, error)
	// Save publishes labels for ttl.
	Save(ctx context.Context, labels []string, ttl time.Duration) error
}

// RedisStore keeps the list as a newline-joined string under a single key
// whose expiry matches the list's validity.
type RedisStore struct {
	client redis.Cmdable
	key    string
}

// NewRedisStore returns a store writing to key.
func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Load reads the shared list.
//
// Parameters:
// - ctx: Bounds the Redis round trip.
//
// Returns:
// - []string: The shared labels.
// - time.Duration: The remaining validity.
// - error: ErrNoSnapshot when the key is missing, empty or has no expiry.
func (s *RedisStore) Load(ctx context.Context) ([]string, time.Duration, error) {
	var get *redis.StringCmd
	var ttl *redis.DurationCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, s.key)
		ttl = pipe.PTTL(ctx, s.key)
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, 0, ErrNoSnapshot
	}
	if err != nil {
		return nil, 0, err
	}

	remaining := ttl.Val()
	if remaining <= 0 || get.Val() == "" {
		return nil, 0, ErrNoSnapshot
	}
	return strings.Split(get.Val(), "\n"), remaining, nil
}

// Save writes labels with the given time to live.
func (s *RedisStore) Save(ctx context.Context, labels []string, ttl time.Duration) error {
	if ttl <= 0 || len(labels) == 0 {
		return nil
	}
	return s.client.Set(ctx, s.key, strings.Join(labels, "\n"), ttl).Err()
}
