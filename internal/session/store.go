// Package session owns both tiers of client state: the ephemeral OTP
// challenge markers kept in a TTL key-value store, and the durable token
// material sealed into an encrypted cookie.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned by every Store implementation when a key is
// missing or has expired.
var ErrKeyNotFound = errors.New("key not found")

// Store is the TTL key-value storage behind the ephemeral tier. A miss is
// always reported as ErrKeyNotFound so callers can tell an absent
// challenge from a store failure.
type Store interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// keyPrefix namespaces gateway keys when Redis is shared with other
// services.
const keyPrefix = "authgate:"

type redisStore struct {
	client *redis.Client
}

// NewRedisStore connects a Redis-backed store.
func NewRedisStore(addr, password string, db int) Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisStore{client: client}
}

func (s *redisStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return s.client.Set(ctx, keyPrefix+key, value, ttl).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return value, err
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, keyPrefix+key).Err()
}
