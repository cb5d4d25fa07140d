package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

var ErrInFlight = fmt.Errorf("a request with the same idempotency key is in progress")

const pendingMarker string = "pending"

// Response is what gets replayed to a client retrying a request.
type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

type Store interface {
	// Begin claims the key. It returns nil if the caller should handle the request,
	// the stored response if the key has already completed, or ErrInFlight.
	Begin(ctx context.Context, key string) (*Response, error)
	Complete(ctx context.Context, key string, response Response) error
	Release(ctx context.Context, key string) error
}

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewStore(client *redis.Client, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}

	return &redisStore{
		client: client,
		ttl:    ttl,
	}
}

func (s *redisStore) Begin(ctx context.Context, key string) (*Response, error) {
	for attempt := 0; attempt < 2; attempt++ {
		claimed, err := s.client.SetNX(ctx, key, pendingMarker, s.ttl).Result()
		if err != nil {
			return nil, err
		}
		if claimed {
			return nil, nil
		}

		value, err := s.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			// expired between the two calls, try to claim it again
			continue
		}
		if err != nil {
			return nil, err
		}

		if value == pendingMarker {
			return nil, ErrInFlight
		}

		response := Response{}
		err = json.Unmarshal([]byte(value), &response)
		if err != nil {
			return nil, fmt.Errorf("stored response for %s is corrupt: %w", key, err)
		}

		return &response, nil
	}

	return nil, ErrInFlight
}

func (s *redisStore) Complete(ctx context.Context, key string, response Response) error {
	b, err := json.Marshal(response)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, b, s.ttl).Err()
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}
