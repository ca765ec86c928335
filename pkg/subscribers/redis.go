// Package subscribers provides subscriber snapshot stores. The publishing
// platform owns the canonical subscriber records; the automation engine reads
// a Redis-mirrored snapshot and writes tag mutations back to it.
package subscribers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/inkletter/inkletter/pkg/models"
)

// ErrSubscriberNotFound is returned when no snapshot exists for the ID.
var ErrSubscriberNotFound = errors.New("subscriber not found")

const keyPrefix = "inkletter:subscribers:"

// RedisStore reads and mutates subscriber snapshots in Redis. It implements
// both protocol.SubscriberProvider and protocol.TagStore.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisStore(redisURL string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &RedisStore{
		client: redis.NewClient(opts),
		logger: logger.With("module", "subscribers"),
	}, nil
}

func (s *RedisStore) Subscriber(ctx context.Context, subscriberID string) (*models.Subscriber, error) {
	payload, err := s.client.Get(ctx, keyPrefix+subscriberID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSubscriberNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriber %s: %w", subscriberID, err)
	}

	var subscriber models.Subscriber

	err = json.Unmarshal(payload, &subscriber)
	if err != nil {
		return nil, fmt.Errorf("failed to decode subscriber %s: %w", subscriberID, err)
	}

	return &subscriber, nil
}

func (s *RedisStore) AddTag(ctx context.Context, subscriberID, tag string) error {
	return s.mutate(ctx, subscriberID, func(subscriber *models.Subscriber) {
		if !subscriber.HasTag(tag) {
			subscriber.Tags = append(subscriber.Tags, tag)
		}
	})
}

func (s *RedisStore) RemoveTag(ctx context.Context, subscriberID, tag string) error {
	return s.mutate(ctx, subscriberID, func(subscriber *models.Subscriber) {
		subscriber.Tags = slices.DeleteFunc(subscriber.Tags, func(t string) bool {
			return t == tag
		})
	})
}

// mutate applies fn under a WATCH transaction so concurrent tag mutations on
// the same subscriber do not lose writes.
func (s *RedisStore) mutate(ctx context.Context, subscriberID string, fn func(*models.Subscriber)) error {
	key := keyPrefix + subscriberID

	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		payload, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSubscriberNotFound
		}

		if err != nil {
			return fmt.Errorf("failed to fetch subscriber %s: %w", subscriberID, err)
		}

		var subscriber models.Subscriber

		err = json.Unmarshal(payload, &subscriber)
		if err != nil {
			return fmt.Errorf("failed to decode subscriber %s: %w", subscriberID, err)
		}

		fn(&subscriber)

		updated, err := json.Marshal(&subscriber)
		if err != nil {
			return fmt.Errorf("failed to encode subscriber %s: %w", subscriberID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)

			return nil
		})

		return err
	}, key)
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
