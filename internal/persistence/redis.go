package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Backend = (*RedisBackend)(nil)

type RedisBackend struct {
	client *redis.Client
	key    string
}

func NewRedisBackend(options *redis.Options, key string) (*RedisBackend, error) {
	client := redis.NewClient(options)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	if key == "" {
		key = "vanish:snapshot"
	}
	return &RedisBackend{client: client, key: key}, nil
}

// Save writes the snapshot and its timestamp in one MULTI/EXEC.
func (r *RedisBackend) Save(ctx context.Context, data []byte) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.key, data, 0)
		pipe.Set(ctx, r.key+":saved_at", time.Now().UTC().Format(time.RFC3339Nano), 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save snapshot: %w", err)
	}
	return nil
}

func (r *RedisBackend) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("redis load snapshot: %w", err)
	}
	return data, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}
