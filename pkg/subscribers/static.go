package subscribers

import (
	"context"
	"slices"
	"sync"

	"github.com/inkletter/inkletter/pkg/models"
)

// StaticStore is an in-memory subscriber store for development and tests. It
// implements the same provider and tag store contracts RedisStore does.
type StaticStore struct {
	mu          sync.RWMutex
	subscribers map[string]*models.Subscriber
}

func NewStaticStore(subscribers ...*models.Subscriber) *StaticStore {
	store := &StaticStore{
		subscribers: make(map[string]*models.Subscriber, len(subscribers)),
	}

	for _, subscriber := range subscribers {
		store.subscribers[subscriber.ID] = subscriber
	}

	return store
}

func (s *StaticStore) Subscriber(ctx context.Context, subscriberID string) (*models.Subscriber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subscriber, ok := s.subscribers[subscriberID]
	if !ok {
		return nil, ErrSubscriberNotFound
	}

	clone := *subscriber
	clone.Tags = slices.Clone(subscriber.Tags)

	if subscriber.CustomFields != nil {
		clone.CustomFields = make(map[string]any, len(subscriber.CustomFields))
		for k, v := range subscriber.CustomFields {
			clone.CustomFields[k] = v
		}
	}

	return &clone, nil
}

func (s *StaticStore) AddTag(ctx context.Context, subscriberID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[subscriberID]
	if !ok {
		return ErrSubscriberNotFound
	}

	if !subscriber.HasTag(tag) {
		subscriber.Tags = append(subscriber.Tags, tag)
	}

	return nil
}

func (s *StaticStore) RemoveTag(ctx context.Context, subscriberID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[subscriberID]
	if !ok {
		return ErrSubscriberNotFound
	}

	subscriber.Tags = slices.DeleteFunc(subscriber.Tags, func(t string) bool {
		return t == tag
	})

	return nil
}
