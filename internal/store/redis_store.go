package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"relentless-tracks/internal/models"
)

// RedisStore keeps the whole crawl state as one JSON value. A single SET
// replaces it, so readers never observe a partial write.
type RedisStore struct {
	client  *redis.Client
	key     string
	crawlID string
	ttl     time.Duration
}

// NewRedisStore initializes a Redis-backed StateStore.
func NewRedisStore(client *redis.Client, prefix, crawlID string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		client:  client,
		key:     prefix + crawlID,
		crawlID: crawlID,
		ttl:     ttl,
	}
}

// NewRedisStoreFromURL parses a redis:// URL and checks the server answers.
func NewRedisStoreFromURL(ctx context.Context, rawURL, prefix, crawlID string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisStore(client, prefix, crawlID, ttl), nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Save writes the state under the crawl key.
func (s *RedisStore) Save(ctx context.Context, state models.CrawlState) error {
	if state.CrawlID == "" {
		state.CrawlID = s.crawlID
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key, payload, s.ttl).Err()
}

// Load reads the state; found is false when nothing was saved yet.
func (s *RedisStore) Load(ctx context.Context) (models.CrawlState, bool, error) {
	val, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return models.CrawlState{}, false, nil
		}
		return models.CrawlState{}, false, err
	}

	var state models.CrawlState
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return models.CrawlState{}, false, fmt.Errorf("decode crawl state: %w", err)
	}
	normalizeLoaded(&state, s.crawlID)
	return state, true, nil
}

// Clear deletes the crawl key.
func (s *RedisStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}
