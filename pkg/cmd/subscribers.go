package cmd

import (
	"log/slog"

	"github.com/inkletter/inkletter/pkg/protocol"
	"github.com/inkletter/inkletter/pkg/subscribers"
)

// SubscriberStore combines the two contracts the engine consumes from the
// subscriber side: snapshot reads and tag mutations.
type SubscriberStore interface {
	protocol.SubscriberProvider
	protocol.TagStore
}

// NewSubscriberStore picks the Redis-backed snapshot store when a Redis URL
// is configured, or an empty in-memory store for local development. The
// returned closer releases the underlying connection.
func NewSubscriberStore(redisURL string, logger *slog.Logger) (SubscriberStore, func() error, error) {
	if redisURL == "" {
		return subscribers.NewStaticStore(), func() error { return nil }, nil
	}

	store, err := subscribers.NewRedisStore(redisURL, logger)
	if err != nil {
		return nil, nil, err
	}

	return store, store.Close, nil
}
