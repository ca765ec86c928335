package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDomainEventValidate(t *testing.T) {
	valid := DomainEvent{
		ID:            "evt-1",
		Kind:          KindSubscribe,
		PublicationID: "pub-1",
		SubscriberID:  "sub-1",
		OccurredAt:    time.Now().UTC(),
	}

	assert.NoError(t, valid.Validate())

	missingID := valid
	missingID.ID = ""
	assert.ErrorIs(t, missingID.Validate(), ErrMissingEventID)

	unknownKind := valid
	unknownKind.Kind = "subscriber.teleported"
	assert.Error(t, unknownKind.Validate())

	missingPublication := valid
	missingPublication.PublicationID = ""
	assert.Error(t, missingPublication.Validate())

	missingSubscriber := valid
	missingSubscriber.SubscriberID = ""
	assert.Error(t, missingSubscriber.Validate())
}

func TestKindIsValid(t *testing.T) {
	for _, kind := range Kinds() {
		assert.True(t, kind.IsValid(), string(kind))
	}

	assert.False(t, Kind("subscriber.teleported").IsValid())
}
