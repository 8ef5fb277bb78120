package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const queryKeyPrefix = "ragquery:"

// Redis caches query responses in Redis.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and pings the server.
func NewRedis(addr, password string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &Redis{client: client}, nil
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, queryKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil // cache miss
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Redis) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	return c.client.Set(ctx, queryKeyPrefix+key, payload, ttl).Err()
}

// InvalidateDocument drops every cached query response. Cached entries do
// not record which documents they touched, so a document deletion has to
// clear the whole query namespace to avoid serving its chunks afterwards.
func (c *Redis) InvalidateDocument(ctx context.Context, _ string) error {
	iter := c.client.Scan(ctx, 0, queryKeyPrefix+"*", 0).Iterator()

	pipe := c.client.Pipeline()
	count := 0
	for iter.Next(ctx) {
		pipe.Del(ctx, iter.Val())
		count++
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if count > 0 {
		_, err := pipe.Exec(ctx)
		return err
	}
	return nil
}

func (c *Redis) Close() error {
	return c.client.Close()
}
