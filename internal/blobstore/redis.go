package blobstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "dossier:artifact:"

// redisCmdable is the subset of redis.Cmdable the store needs.
type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisStore keeps blobs as string values under a key prefix.
type RedisStore struct {
	client redisCmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps a go-redis client. ttl 0 keeps blobs until deleted.
func NewRedisStore(client redisCmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string { return s.prefix + id }

func (s *RedisStore) Store(ctx context.Context, id string, data []byte) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, s.key(id), data, s.ttl).Err(); err != nil {
		return "", err
	}
	return "redis://" + s.key(id), nil
}

func (s *RedisStore) Retrieve(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	return s.client.Del(ctx, s.key(id)).Err()
}
