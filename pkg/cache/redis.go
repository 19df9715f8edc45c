package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"go.uber.org/multierr"
)

const defaultTagTTL = 24 * time.Hour

type redisClient interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	CacheKey(parts ...string) string
	TagKey(tag string) string
}

// RedisStore keeps values as JSON strings and each tag as a Redis set of member keys.
type RedisStore struct {
	client redisClient
	tagTTL time.Duration
}

// NewRedisStore builds a Store on the shared redis client.
func NewRedisStore(client *redis.Client) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	return &RedisStore{client: client, tagTTL: defaultTagTTL}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	raw, err := s.client.Get(ctx, s.client.CacheKey(key))
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration, tags ...string) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	fullKey := s.client.CacheKey(key)
	ttl = withJitter(ttl)
	if err := s.client.Set(ctx, fullKey, string(payload), ttl); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	tagTTL := s.tagTTL
	if ttl > tagTTL {
		tagTTL = ttl
	}
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		tagKey := s.client.TagKey(tag)
		if err := s.client.SAdd(ctx, tagKey, fullKey); err != nil {
			return fmt.Errorf("cache tag %s: %w", tag, err)
		}
		if err := s.client.Expire(ctx, tagKey, tagTTL); err != nil {
			return fmt.Errorf("cache tag ttl %s: %w", tag, err)
		}
	}
	return nil
}

// RemoveByTag deletes every key tracked by tag, then the tag set itself.
func (s *RedisStore) RemoveByTag(ctx context.Context, tag string) error {
	if tag == "" {
		return nil
	}
	tagKey := s.client.TagKey(tag)
	members, err := s.client.SMembers(ctx, tagKey)
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("cache tag members %s: %w", tag, err)
	}
	if len(members) > 0 {
		if err := s.client.Del(ctx, members...); err != nil {
			return fmt.Errorf("cache evict %s: %w", tag, err)
		}
	}
	return s.client.Del(ctx, tagKey)
}

func (s *RedisStore) RemoveByTags(ctx context.Context, tags ...string) error {
	var errs error
	for _, tag := range tags {
		errs = multierr.Append(errs, s.RemoveByTag(ctx, tag))
	}
	return errs
}
