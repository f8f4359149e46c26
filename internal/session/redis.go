package session

import (
	"context"
	"fmt"
	"time"

	"github.com/estate-predictor/backend/internal/cache/redis"
	"github.com/estate-predictor/backend/internal/prediction"
)

// RedisStore keeps results as JSON so any API replica can serve them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func resultKey(id string) string {
	return fmt.Sprintf("session:%s:result", id)
}

func (s *RedisStore) Save(ctx context.Context, id string, result *prediction.Result) error {
	return s.client.SetJSON(ctx, resultKey(id), result, s.ttl)
}

func (s *RedisStore) Load(ctx context.Context, id string) (*prediction.Result, error) {
	var result prediction.Result
	ok, err := s.client.GetJSON(ctx, resultKey(id), &result)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return &result, nil
}

func (s *RedisStore) Clear(ctx context.Context, id string) error {
	return s.client.Delete(ctx, resultKey(id))
}
