package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	"github.com/trezcool/masomo-lifecycle/tests"
)

// collectResponses adds n submitted responses to the survey.
func collectResponses(t *testing.T, store testutil.Store, surveyID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		testutil.CreateResponse(t, store, surveyID, lifecycle.ResponseSubmitted, int64(100+i))
	}
}

func TestController_AutoArchiveEligibleSurveys(t *testing.T) {
	f := setup(t)
	now := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	f.setNow(now)
	sv := testutil.EndedSurvey(t, f.store, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC))
	collectResponses(t, f.store, sv.ID, 12)
	testutil.CreateResponse(t, f.store, sv.ID, lifecycle.ResponseDraft, 99) // not collected

	res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.DryRun)
	assert.Equal(t, []int64{sv.ID}, res.Archived)
	assert.Empty(t, res.Skipped)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, lifecycle.ArchiveDecision{
		SurveyID:  sv.ID,
		Title:     sv.Title,
		Responses: 12,
		Archived:  true,
		Note:      "archived",
	}, res.Decisions[0])

	got := f.getSurvey(t, sv.ID)
	assert.Equal(t, lifecycle.SurveyArchived, got.Status)
	require.NotNil(t, got.ArchivedAt)
	assert.True(t, got.ArchivedAt.Equal(now))
	assert.Equal(t, lifecycle.DefaultArchiveReason, got.ArchiveReason)

	evs := f.eventsOf(t, lifecycle.EventAutoArchived)
	require.Len(t, evs, 1)
	assert.Equal(t, sv.ID, *evs[0].SurveyID)
	assert.Nil(t, evs[0].ApprovalRequestID)
	assert.Nil(t, evs[0].ActorID)
	assert.Equal(t, res.RunID, evs[0].Metadata["run_id"])
	assert.Equal(t, []lifecycle.EventType{lifecycle.EventAutoArchived}, f.events.types())

	t.Run("second run is a no-op", func(t *testing.T) {
		res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{})
		require.NoError(t, err)
		assert.Empty(t, res.Archived)
		assert.Empty(t, res.Decisions)
		assert.Len(t, f.eventsOf(t, lifecycle.EventAutoArchived), 1)
	})
}

func TestController_AutoArchiveEligibleSurveys_candidates(t *testing.T) {
	f := setup(t)
	ended := testutil.Now.Add(-24 * time.Hour)

	empty := testutil.EndedSurvey(t, f.store, ended)
	rejectedOnly := testutil.EndedSurvey(t, f.store, ended)
	testutil.CreateResponse(t, f.store, rejectedOnly.ID, lifecycle.ResponseRejected, 7)
	approved := testutil.EndedSurvey(t, f.store, ended)
	testutil.CreateResponse(t, f.store, approved.ID, lifecycle.ResponseApproved, 7)

	running := testutil.EndedSurvey(t, f.store, testutil.Now.Add(24*time.Hour))
	collectResponses(t, f.store, running.ID, 1)
	manual := testutil.CreateSurvey(t, f.store, lifecycle.Survey{EndDate: &ended})
	collectResponses(t, f.store, manual.ID, 1)
	open := testutil.CreateSurvey(t, f.store, lifecycle.Survey{AutoArchive: true})
	collectResponses(t, f.store, open.ID, 1)

	res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{Reason: "term ended"})
	require.NoError(t, err)

	assert.Equal(t, []int64{approved.ID}, res.Archived)
	assert.Equal(t, []int64{empty.ID, rejectedOnly.ID}, res.Skipped)
	for _, d := range res.Decisions {
		if !d.Archived {
			assert.Equal(t, "not enough responses", d.Note)
		}
	}
	assert.Equal(t, "term ended", f.getSurvey(t, approved.ID).ArchiveReason)
	for _, id := range []int64{empty.ID, running.ID, manual.ID, open.ID} {
		assert.Equal(t, lifecycle.SurveyPublished, f.getSurvey(t, id).Status, "survey %d", id)
	}
}

func TestController_AutoArchiveEligibleSurveys_dryRun(t *testing.T) {
	f := setup(t)
	ended := testutil.Now.Add(-24 * time.Hour)
	ready := testutil.EndedSurvey(t, f.store, ended)
	collectResponses(t, f.store, ready.ID, 2)
	testutil.EndedSurvey(t, f.store, ended)

	before := testutil.TakeSnapshot(t, f.store)
	res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{DryRun: true})
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Equal(t, []int64{ready.ID}, res.Archived)
	assert.Len(t, res.Skipped, 1)
	assert.Equal(t, "would archive", res.Decisions[0].Note)
	assert.Equal(t, before, testutil.TakeSnapshot(t, f.store))
	assert.Empty(t, f.events.types())
}

func TestController_AutoArchiveEligibleSurveys_invalidStatus(t *testing.T) {
	ended := testutil.Now.Add(-24 * time.Hour)
	for _, dryRun := range []bool{false, true} {
		f := setup(t)
		draft := testutil.CreateSurvey(t, f.store, lifecycle.Survey{
			Status:      lifecycle.SurveyDraft,
			EndDate:     &ended,
			AutoArchive: true,
		})
		collectResponses(t, f.store, draft.ID, 1)
		ok := testutil.EndedSurvey(t, f.store, ended)
		collectResponses(t, f.store, ok.ID, 1)

		res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{DryRun: dryRun})
		require.NoError(t, err)

		assert.Equal(t, []int64{ok.ID}, res.Archived, "dry run: %v", dryRun)
		require.Len(t, res.Failed, 1)
		assert.True(t, errors.Is(res.Failed[0], lifecycle.ErrInvalidTransition), "error = %v", res.Failed[0])
		var itemErr *lifecycle.ItemError
		require.True(t, errors.As(res.Failed[0], &itemErr))
		assert.Equal(t, draft.ID, itemErr.ID)
		assert.Equal(t, lifecycle.SurveyDraft, f.getSurvey(t, draft.ID).Status)
	}
}

func TestController_AutoArchiveEligibleSurveys_limit(t *testing.T) {
	f := setup(t)
	var ids []int64
	for i := 3; i > 0; i-- {
		sv := testutil.EndedSurvey(t, f.store, testutil.Now.Add(-time.Duration(i)*24*time.Hour))
		collectResponses(t, f.store, sv.ID, 1)
		ids = append(ids, sv.ID)
	}

	res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{Limit: 2, ChunkSize: 1})
	require.NoError(t, err)
	assert.Equal(t, ids[:2], res.Archived)
	assert.Nil(t, f.getSurvey(t, ids[2]).ArchivedAt)
}

func TestController_AutoArchiveEligibleSurveys_policy(t *testing.T) {
	minResponses := func(n int) lifecycle.ArchivePolicy {
		return lifecycle.ArchivePolicyFunc(func(s lifecycle.Survey, now time.Time) bool {
			return s.IsArchiveEligible(now) && s.CollectedResponses >= n
		})
	}
	f := setup(t, func(o *lifecycle.Options) { o.Policy = minResponses(3) })
	ended := testutil.Now.Add(-24 * time.Hour)
	few := testutil.EndedSurvey(t, f.store, ended)
	collectResponses(t, f.store, few.ID, 2)
	many := testutil.EndedSurvey(t, f.store, ended)
	collectResponses(t, f.store, many.ID, 3)

	res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int64{many.ID}, res.Archived)
	assert.Equal(t, []int64{few.ID}, res.Skipped)
}

func TestController_AutoArchiveEligibleSurveys_auditFailure(t *testing.T) {
	store := &faultyStore{Store: testutil.NewMemStore(t), failAppend: true}
	f := setupWithStore(t, store)
	sv := testutil.EndedSurvey(t, f.store, testutil.Now.Add(-time.Hour))
	collectResponses(t, f.store, sv.ID, 1)

	res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{})
	require.NoError(t, err)

	assert.Equal(t, []int64{sv.ID}, res.Archived)
	assert.Empty(t, res.Failed)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, sv.ID, res.Warnings[0].ID)
	assert.Equal(t, lifecycle.SurveyArchived, f.getSurvey(t, sv.ID).Status)

	// the event is written by a later run once the store recovers
	store.failAppend = false
	warn := f.engine.Audit.RecordBestEffort(ctx, lifecycle.DeadlineEvent{
		SurveyID:   &sv.ID,
		Type:       lifecycle.EventAutoArchived,
		OccurredAt: testutil.Now,
	})
	assert.Nil(t, warn)
	assert.Len(t, f.eventsOf(t, lifecycle.EventAutoArchived), 1)
}

// racingStore changes every survey it scans after the scan returns and before the
// controller locks it.
type racingStore struct {
	testutil.Store
	change func(sv lifecycle.Survey) lifecycle.Survey
}

func (s *racingStore) ArchiveEligibleSurveys(ctx context.Context, now time.Time, after lifecycle.Cursor, n int) ([]lifecycle.Survey, error) {
	surveys, err := s.Store.ArchiveEligibleSurveys(ctx, now, after, n)
	if err != nil {
		return nil, err
	}
	for _, sv := range surveys {
		if err := s.Store.UpdateSurvey(ctx, s.change(sv)); err != nil {
			return nil, err
		}
	}
	return surveys, nil
}

func TestController_AutoArchiveEligibleSurveys_changedSinceScanned(t *testing.T) {
	archivedAt := testutil.Now.Add(-time.Minute)

	tests := []struct {
		name   string
		change func(sv lifecycle.Survey) lifecycle.Survey
		check  func(t *testing.T, got lifecycle.Survey)
	}{
		{
			name: "archived by hand",
			change: func(sv lifecycle.Survey) lifecycle.Survey {
				sv.Status, sv.ArchivedAt, sv.ArchiveReason = lifecycle.SurveyArchived, &archivedAt, "closed early"
				return sv
			},
			check: func(t *testing.T, got lifecycle.Survey) {
				assert.Equal(t, "closed early", got.ArchiveReason)
				require.NotNil(t, got.ArchivedAt)
				assert.True(t, got.ArchivedAt.Equal(archivedAt))
			},
		},
		{
			name: "auto archive turned off",
			change: func(sv lifecycle.Survey) lifecycle.Survey {
				sv.AutoArchive = false
				return sv
			},
			check: func(t *testing.T, got lifecycle.Survey) {
				assert.Equal(t, lifecycle.SurveyPublished, got.Status)
				assert.Nil(t, got.ArchivedAt)
			},
		},
		{
			name: "end date extended",
			change: func(sv lifecycle.Survey) lifecycle.Survey {
				sv.EndDate = testutil.TimePtr(testutil.Now.Add(7 * 24 * time.Hour))
				return sv
			},
			check: func(t *testing.T, got lifecycle.Survey) {
				assert.Equal(t, lifecycle.SurveyPublished, got.Status)
				assert.Nil(t, got.ArchivedAt)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := testutil.NewMemStore(t)
			f := setupWithStore(t, &racingStore{Store: mem, change: tt.change})
			sv := testutil.EndedSurvey(t, mem, testutil.Now.Add(-24*time.Hour))
			collectResponses(t, mem, sv.ID, 3)

			res, err := f.engine.Controller.AutoArchiveEligibleSurveys(ctx, lifecycle.ArchiveOptions{})
			require.NoError(t, err)

			assert.Empty(t, res.Archived)
			assert.Equal(t, []int64{sv.ID}, res.Skipped)
			assert.Empty(t, res.Failed)
			assert.Empty(t, res.Warnings)
			require.Len(t, res.Decisions, 1)
			assert.Equal(t, "changed since scanned", res.Decisions[0].Note)
			assert.False(t, res.Decisions[0].Archived)

			assert.Empty(t, f.eventsOf(t, lifecycle.EventAutoArchived))
			assert.Empty(t, f.events.types())
			tt.check(t, f.getSurvey(t, sv.ID))
		})
	}
}
