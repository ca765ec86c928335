package models

import "slices"

// Subscriber is the snapshot shape the context provider resolves for
// condition evaluation and personalization. The platform owns subscriber
// CRUD; the engine only reads.
type Subscriber struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Name         string         `json:"name"`
	Tier         string         `json:"tier"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// HasTag reports whether the subscriber currently carries tag, case-sensitive.
func (s *Subscriber) HasTag(tag string) bool {
	return slices.Contains(s.Tags, tag)
}
