package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRedisPrefix namespaces the relay's keys in a shared redis.
	DefaultRedisPrefix = "eip712:nonce:"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps consumed nonces as redis keys set with SETNX.
//
// A non-zero TTL lets old nonces expire. That is only safe when every request
// type carries an expiry shorter than the TTL, otherwise an expired nonce
// could be replayed.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store using prefix for its keys. A ttl of zero keeps
// nonces forever.
func NewRedisStore(rdb redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) redisKey(key Key) string {
	return s.prefix + key.String()
}

func (s *RedisStore) IsUsed(ctx context.Context, key Key) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Consume(ctx context.Context, key Key) error {
	ok, err := s.rdb.SetNX(ctx, s.redisKey(key), time.Now().Unix(), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return ErrNonceUsed
	}
	return nil
}
