// Package eventbus carries subscriber lifecycle events between the
// publishing platform and the automation worker.
package eventbus

import (
	"context"

	"github.com/inkletter/inkletter/pkg/events"
)

// Handler consumes one domain event. Returning an error nacks the message so
// the transport redelivers it.
type Handler func(ctx context.Context, event events.DomainEvent) error

type EventPublisher interface {
	Publish(ctx context.Context, event events.DomainEvent) error
}

type EventSubscriber interface {
	Handle(handler Handler)
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
