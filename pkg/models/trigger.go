package models

import (
	"encoding/json"
	"fmt"

	"github.com/inkletter/inkletter/pkg/events"
)

// SubscriptionAudience narrows subscribe/unsubscribe triggers to a
// publication, a single course, or a single post.
type SubscriptionAudience string

const (
	AudiencePublication SubscriptionAudience = "publication"
	AudienceCourse      SubscriptionAudience = "course"
	AudiencePost        SubscriptionAudience = "post"
)

// TriggerScope is the kind-specific narrowing configuration on a trigger.
// Each trigger kind carries exactly one scope variant; Matches decides
// whether a lifecycle event falls inside the scope. The matcher only calls
// Matches for events whose kind already equals the trigger kind.
type TriggerScope interface {
	Matches(event events.DomainEvent) bool
}

// SubscriptionScope scopes Subscribe/Unsubscribe triggers. A publication
// audience matches every event in the publication; course and post audiences
// require the event target to equal TargetID.
type SubscriptionScope struct {
	Audience SubscriptionAudience `json:"audience"`
	TargetID string               `json:"target_id,omitempty"`
}

func (s SubscriptionScope) Matches(event events.DomainEvent) bool {
	switch s.Audience {
	case AudiencePublication:
		return true
	case AudienceCourse, AudiencePost:
		return s.TargetID != "" && event.TargetID == s.TargetID
	default:
		return false
	}
}

// TagScope scopes TagAdded/TagRemoved triggers to one tag name,
// case-sensitive exact match.
type TagScope struct {
	Tag string `json:"tag"`
}

func (s TagScope) Matches(event events.DomainEvent) bool {
	return event.TagName == s.Tag
}

// TierScope scopes TierChanged triggers. Empty fields are wildcards.
type TierScope struct {
	FromTier string `json:"from_tier,omitempty"`
	ToTier   string `json:"to_tier,omitempty"`
}

func (s TierScope) Matches(event events.DomainEvent) bool {
	if s.FromTier != "" && event.FromTier != s.FromTier {
		return false
	}

	if s.ToTier != "" && event.ToTier != s.ToTier {
		return false
	}

	return true
}

// DateScope scopes CustomDate triggers to a recurring yearly month/day.
type DateScope struct {
	Month int `json:"month"`
	Day   int `json:"day"`
}

func (s DateScope) Matches(event events.DomainEvent) bool {
	occurred := event.OccurredAt.UTC()

	return int(occurred.Month()) == s.Month && occurred.Day() == s.Day
}

// FormScope scopes FormSubmitted triggers to one form.
type FormScope struct {
	FormID string `json:"form_id"`
}

func (s FormScope) Matches(event events.DomainEvent) bool {
	return event.FormID == s.FormID
}

// TargetScope scopes CourseEnrolled/PostPublished/PostViewed triggers to a
// single course or post.
type TargetScope struct {
	TargetID string `json:"target_id"`
}

func (s TargetScope) Matches(event events.DomainEvent) bool {
	return event.TargetID == s.TargetID
}

// Trigger is a workflow's entry condition: an event kind plus the scope
// variant for that kind. The JSON form is an envelope; the scope payload
// shape is determined by the kind.
type Trigger struct {
	Kind  events.Kind
	Scope TriggerScope
}

// Matches reports whether event starts executions of this trigger's workflow.
func (t Trigger) Matches(event events.DomainEvent) bool {
	if event.Kind != t.Kind {
		return false
	}

	if t.Scope == nil {
		return false
	}

	return t.Scope.Matches(event)
}

type triggerEnvelope struct {
	Kind  events.Kind     `json:"kind"`
	Scope json.RawMessage `json:"scope"`
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	scope, err := json.Marshal(t.Scope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal trigger scope: %w", err)
	}

	return json.Marshal(triggerEnvelope{Kind: t.Kind, Scope: scope})
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	var envelope triggerEnvelope

	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal trigger: %w", err)
	}

	scope, err := scopeForKind(envelope.Kind)
	if err != nil {
		return err
	}

	if len(envelope.Scope) > 0 {
		if err := json.Unmarshal(envelope.Scope, scope); err != nil {
			return fmt.Errorf("failed to unmarshal %s trigger scope: %w", envelope.Kind, err)
		}
	}

	t.Kind = envelope.Kind
	t.Scope = deref(scope)

	return nil
}

// scopeForKind returns a pointer to the zero scope variant for kind so the
// envelope payload can be decoded into it.
func scopeForKind(kind events.Kind) (TriggerScope, error) {
	switch kind {
	case events.KindSubscribe, events.KindUnsubscribe:
		return &SubscriptionScope{}, nil
	case events.KindTagAdded, events.KindTagRemoved:
		return &TagScope{}, nil
	case events.KindTierChanged:
		return &TierScope{}, nil
	case events.KindCustomDate:
		return &DateScope{}, nil
	case events.KindFormSubmitted:
		return &FormScope{}, nil
	case events.KindCourseEnrolled, events.KindPostPublished, events.KindPostViewed:
		return &TargetScope{}, nil
	default:
		return nil, fmt.Errorf("unknown trigger kind: %q", kind)
	}
}

// deref stores scope variants by value so triggers compare and copy cleanly.
func deref(scope TriggerScope) TriggerScope {
	switch s := scope.(type) {
	case *SubscriptionScope:
		return *s
	case *TagScope:
		return *s
	case *TierScope:
		return *s
	case *DateScope:
		return *s
	case *FormScope:
		return *s
	case *TargetScope:
		return *s
	default:
		return scope
	}
}
