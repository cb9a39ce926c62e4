package lifecycle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

func TestEventBus_Publish(t *testing.T) {
	bus := lifecycle.NewEventBus(nil)
	first, last := &recorder{}, &recorder{}
	bus.Subscribe(first.record)
	bus.Subscribe(func(context.Context, lifecycle.ChangeEvent) { panic("boom") })
	bus.Subscribe(last.record)

	surveyID := int64(3)
	ev := lifecycle.ChangeEvent{
		Type:     lifecycle.EventAutoArchived,
		SurveyID: &surveyID,
		Metadata: lifecycle.Metadata{"run_id": "r1"},
	}
	assert.NotPanics(t, func() { bus.Publish(ctx, ev) })

	assert.Equal(t, []lifecycle.EventType{lifecycle.EventAutoArchived}, first.types())
	assert.Equal(t, []lifecycle.EventType{lifecycle.EventAutoArchived}, last.types(), "a panicking subscriber does not stop delivery")
}

func TestEventType_Valid(t *testing.T) {
	for _, typ := range lifecycle.EventTypes {
		assert.True(t, typ.Valid(), typ)
	}
	assert.False(t, lifecycle.EventType("survey_deleted").Valid())
}
