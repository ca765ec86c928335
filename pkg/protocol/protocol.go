// Package protocol defines the interfaces the engine consumes from the rest
// of the platform. Email delivery, tag storage and subscriber data live in
// other services; the engine only holds these contracts.
package protocol

import (
	"context"

	"github.com/inkletter/inkletter/pkg/models"
)

// EmailSender dispatches one rendered email. Delivery is at-least-once; the
// engine retries failures with bounded backoff.
type EmailSender interface {
	Send(ctx context.Context, to, subject, htmlContent string) error
}

// TagStore mutates a subscriber's tags.
type TagStore interface {
	AddTag(ctx context.Context, subscriberID, tag string) error
	RemoveTag(ctx context.Context, subscriberID, tag string) error
}

// SubscriberProvider resolves the current subscriber snapshot used by
// condition nodes and personalization tokens.
type SubscriberProvider interface {
	Subscriber(ctx context.Context, subscriberID string) (*models.Subscriber, error)
}
