// Package events defines the subscriber lifecycle events consumed by the automation engine.
package events

import (
	"errors"
	"time"
)

// Topic is the event bus topic carrying subscriber lifecycle events.
const Topic = "inkletter.subscriber.events"

const (
	EventIDMetadataKey   = "event_id"
	EventKindMetadataKey = "event_kind"
)

// Kind identifies the lifecycle action that produced an event. Workflow
// triggers are keyed by the same kind values.
type Kind string

const (
	KindSubscribe      Kind = "subscriber.subscribed"
	KindUnsubscribe    Kind = "subscriber.unsubscribed"
	KindPostPublished  Kind = "post.published"
	KindCourseEnrolled Kind = "course.enrolled"
	KindTagAdded       Kind = "tag.added"
	KindTagRemoved     Kind = "tag.removed"
	KindTierChanged    Kind = "tier.changed"
	KindCustomDate     Kind = "custom.date"
	KindFormSubmitted  Kind = "form.submitted"
	KindPostViewed     Kind = "post.viewed"
)

// Kinds lists every known event kind.
func Kinds() []Kind {
	return []Kind{
		KindSubscribe,
		KindUnsubscribe,
		KindPostPublished,
		KindCourseEnrolled,
		KindTagAdded,
		KindTagRemoved,
		KindTierChanged,
		KindCustomDate,
		KindFormSubmitted,
		KindPostViewed,
	}
}

// IsValid reports whether k is a known event kind.
func (k Kind) IsValid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}

	return false
}

var ErrMissingEventID = errors.New("domain event has no event ID")

// DomainEvent is one subscriber lifecycle occurrence emitted by the rest of
// the platform. The ID is the idempotency key: redelivery of an event with
// the same ID must not start a second execution of the same workflow.
type DomainEvent struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	PublicationID string    `json:"publication_id"`
	SubscriberID  string    `json:"subscriber_id"`
	TargetID      string    `json:"target_id,omitempty"`
	TagName       string    `json:"tag_name,omitempty"`
	FromTier      string    `json:"from_tier,omitempty"`
	ToTier        string    `json:"to_tier,omitempty"`
	FormID        string    `json:"form_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Validate checks the fields every event must carry regardless of kind.
func (e DomainEvent) Validate() error {
	if e.ID == "" {
		return ErrMissingEventID
	}

	if !e.Kind.IsValid() {
		return errors.New("unknown event kind: " + string(e.Kind))
	}

	if e.PublicationID == "" {
		return errors.New("domain event has no publication ID")
	}

	if e.SubscriberID == "" {
		return errors.New("domain event has no subscriber ID")
	}

	return nil
}
