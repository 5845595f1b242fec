package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_marketplace/internal/domain"
	"github.com/redis/go-redis/v9"
)

var ErrIntentNotFound = errors.New("payment intent not found")

type IntentStore interface {
	Save(ctx context.Context, intent *domain.PaymentIntent) error
	Get(ctx context.Context, externalOrderID string) (*domain.PaymentIntent, error)
	Delete(ctx context.Context, externalOrderID string) error
}

type RedisIntentStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisIntentStore(client redis.UniversalClient, ttl time.Duration) *RedisIntentStore {
	return &RedisIntentStore{client: client, ttl: ttl}
}

func intentKey(externalOrderID string) string {
	return fmt.Sprintf("payment_intent:%s", externalOrderID)
}

func (s *RedisIntentStore) Save(ctx context.Context, intent *domain.PaymentIntent) error {
	expires := intent.CreatedAt.Add(s.ttl)
	intent.ExpiresAt = &expires

	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent failed: %w", err)
	}
	if err := s.client.Set(ctx, intentKey(intent.ExternalOrderID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisIntentStore) Get(ctx context.Context, externalOrderID string) (*domain.PaymentIntent, error) {
	data, err := s.client.Get(ctx, intentKey(externalOrderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrIntentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var intent domain.PaymentIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return nil, fmt.Errorf("unmarshal intent failed: %w", err)
	}
	return &intent, nil
}

func (s *RedisIntentStore) Delete(ctx context.Context, externalOrderID string) error {
	if err := s.client.Del(ctx, intentKey(externalOrderID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}
