package lifecycle_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	"github.com/trezcool/masomo-lifecycle/tests"
)

func TestAuditLogger_RecordBestEffort(t *testing.T) {
	f := setup(t)
	sv := testutil.CreateSurvey(t, f.store, lifecycle.Survey{})
	req := f.pendingRequest(t, sv.ID, testutil.Now.Add(-time.Hour), nil)
	event := func(at time.Time) lifecycle.DeadlineEvent {
		return lifecycle.DeadlineEvent{
			SurveyID:          &sv.ID,
			ApprovalRequestID: &req.ID,
			Type:              lifecycle.EventOverdueFlagged,
			OccurredAt:        at,
		}
	}

	tests := []struct {
		name       string
		occurredAt time.Time
		wantEvents int
	}{
		{name: "first occurrence", occurredAt: testutil.Now, wantEvents: 1},
		{name: "same occurrence", occurredAt: testutil.Now, wantEvents: 1},
		{name: "later occurrence", occurredAt: testutil.Now.Add(48 * time.Hour), wantEvents: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warn := f.engine.Audit.RecordBestEffort(ctx, event(tt.occurredAt))
			assert.Nil(t, warn)
			assert.Len(t, f.eventsOf(t, lifecycle.EventOverdueFlagged), tt.wantEvents)
		})
	}
}

func TestController_FlagOverdue_flaggedAgain(t *testing.T) {
	f := setup(t)
	sv := testutil.CreateSurvey(t, f.store, lifecycle.Survey{})
	req := f.pendingRequest(t, sv.ID, testutil.Now.Add(-time.Hour), nil)

	// an earlier flag, cleared by hand since
	earlier := testutil.Now.Add(-30 * time.Minute)
	_, err := f.store.AppendEvent(ctx, lifecycle.DeadlineEvent{
		SurveyID:          &sv.ID,
		ApprovalRequestID: &req.ID,
		Type:              lifecycle.EventOverdueFlagged,
		OccurredAt:        earlier,
	})
	require.NoError(t, err)

	res, err := f.engine.Controller.FlagOverdue(ctx, lifecycle.FlagOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{req.ID}, res.Flagged)
	assert.Empty(t, res.Warnings)

	evs := f.eventsOf(t, lifecycle.EventOverdueFlagged)
	require.Len(t, evs, 2)
	assert.True(t, evs[0].OccurredAt.Equal(earlier))
	assert.True(t, evs[1].OccurredAt.Equal(testutil.Now))
	assert.Equal(t, res.RunID, evs[1].Metadata["run_id"])
}
