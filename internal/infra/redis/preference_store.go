package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pulsequiz-sync/internal/domain"
)

// PreferenceStore keeps client preferences in Redis so several terminals on
// one machine (or a kiosk fleet) can share tokens and resume pointers.
type PreferenceStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPreferenceStore builds a store. defaultTTL applies when Set is called
// with a zero ttl; zero there means no expiry.
func NewPreferenceStore(client *redis.Client, prefix string, defaultTTL time.Duration) *PreferenceStore {
	if prefix == "" {
		prefix = "pulsequiz:pref:"
	}
	return &PreferenceStore{client: client, prefix: prefix, ttl: defaultTTL}
}

func (s *PreferenceStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrPreferenceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get preference %s: %w", key, err)
	}
	return v, nil
}

func (s *PreferenceStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set preference %s: %w", key, err)
	}
	return nil
}

func (s *PreferenceStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *PreferenceStore) key(k string) string {
	return s.prefix + k
}
