package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

// RunStoreSuite checks the behaviour every lifecycle store must share.
func RunStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		store := newStore(t)

		_, err := store.GetSurvey(ctx, 404)
		assert.True(t, errors.Is(err, lifecycle.ErrNotFound), "GetSurvey() error = %v", err)
		_, err = store.GetResponse(ctx, 404)
		assert.True(t, errors.Is(err, lifecycle.ErrNotFound), "GetResponse() error = %v", err)
		_, err = store.GetApprovalRequest(ctx, 404)
		assert.True(t, errors.Is(err, lifecycle.ErrNotFound), "GetApprovalRequest() error = %v", err)
		_, err = store.ActiveApprovalRequest(ctx, 404)
		assert.True(t, errors.Is(err, lifecycle.ErrNotFound), "ActiveApprovalRequest() error = %v", err)
		_, err = store.FlagOverdue(ctx, 404, Now)
		assert.True(t, errors.Is(err, lifecycle.ErrNotFound), "FlagOverdue() error = %v", err)
	})

	t.Run("at most one active request per response", func(t *testing.T) {
		store := newStore(t)
		sv := CreateSurvey(t, store, lifecycle.Survey{})
		resp := CreateResponse(t, store, sv.ID, lifecycle.ResponseSubmitted, 7)

		first := CreateApprovalRequest(t, store, lifecycle.ApprovalRequest{ResponseID: resp.ID, SubmitterID: 7})
		_, err := store.CreateApprovalRequest(ctx, lifecycle.ApprovalRequest{
			ResponseID:  resp.ID,
			Status:      lifecycle.ApprovalInProgress,
			Priority:    lifecycle.PriorityNormal,
			SubmitterID: 7,
			CreatedAt:   Now,
			UpdatedAt:   Now,
		})
		assert.True(t, errors.Is(err, lifecycle.ErrAlreadyExists), "CreateApprovalRequest() error = %v", err)

		// a decided request no longer counts
		first.Status = lifecycle.ApprovalRejected
		first.UpdatedAt = Now
		require.NoError(t, store.UpdateApprovalRequest(ctx, first))
		second := CreateApprovalRequest(t, store, lifecycle.ApprovalRequest{ResponseID: resp.ID, SubmitterID: 7})

		active, err := store.ActiveApprovalRequest(ctx, resp.ID)
		require.NoError(t, err)
		assert.Equal(t, second.ID, active.ID)
	})

	t.Run("overdue scan", func(t *testing.T) {
		store := newStore(t)
		sv := CreateSurvey(t, store, lifecycle.Survey{})
		deadline := Now.Add(-time.Hour)

		newReq := func(status lifecycle.ApprovalStatus, deadline *time.Time) lifecycle.ApprovalRequest {
			resp := CreateResponse(t, store, sv.ID, lifecycle.ResponseSubmitted, 7)
			return CreateApprovalRequest(t, store, lifecycle.ApprovalRequest{
				ResponseID: resp.ID, Status: status, Deadline: deadline, SubmitterID: 7,
			})
		}
		tie1 := newReq(lifecycle.ApprovalPending, &deadline)
		tie2 := newReq(lifecycle.ApprovalInProgress, &deadline)
		older := newReq(lifecycle.ApprovalPending, TimePtr(Now.Add(-48*time.Hour)))
		// ignored: decided, not due yet, without deadline, due exactly now
		newReq(lifecycle.ApprovalApproved, &deadline)
		newReq(lifecycle.ApprovalPending, TimePtr(Now.Add(time.Hour)))
		newReq(lifecycle.ApprovalPending, nil)
		newReq(lifecycle.ApprovalPending, TimePtr(Now))

		var got []int64
		after := lifecycle.Cursor{}
		for {
			chunk, err := store.OverdueApprovals(ctx, Now, after, 2)
			require.NoError(t, err)
			if len(chunk) == 0 {
				break
			}
			for _, req := range chunk {
				got = append(got, req.ID)
			}
			last := chunk[len(chunk)-1]
			after = lifecycle.Cursor{At: *last.Deadline, ID: last.ID}
		}
		assert.Equal(t, []int64{older.ID, tie1.ID, tie2.ID}, got)
	})

	t.Run("flag overdue is conditional and monotonic", func(t *testing.T) {
		store := newStore(t)
		sv := CreateSurvey(t, store, lifecycle.Survey{})
		resp := CreateResponse(t, store, sv.ID, lifecycle.ResponseSubmitted, 7)
		req := CreateApprovalRequest(t, store, lifecycle.ApprovalRequest{
			ResponseID: resp.ID, Deadline: TimePtr(Now.Add(-time.Hour)), SubmitterID: 7,
		})

		flagged, err := store.FlagOverdue(ctx, req.ID, Now.Add(-2*time.Hour))
		require.NoError(t, err)
		assert.False(t, flagged, "not yet due")

		flagged, err = store.FlagOverdue(ctx, req.ID, Now)
		require.NoError(t, err)
		assert.True(t, flagged)

		flagged, err = store.FlagOverdue(ctx, req.ID, Now)
		require.NoError(t, err)
		assert.False(t, flagged, "already flagged")

		got, err := store.GetApprovalRequest(ctx, req.ID)
		require.NoError(t, err)
		require.True(t, got.IsOverdue)
		require.NotNil(t, got.OverdueFlaggedAt)
		assert.True(t, got.OverdueFlaggedAt.Equal(Now))

		got.IsOverdue = false
		got.OverdueFlaggedAt = nil
		got.Status = lifecycle.ApprovalApproved
		require.NoError(t, store.UpdateApprovalRequest(ctx, got))
		got, err = store.GetApprovalRequest(ctx, req.ID)
		require.NoError(t, err)
		assert.True(t, got.IsOverdue, "overdue flag was cleared")
		assert.NotNil(t, got.OverdueFlaggedAt)
		assert.Equal(t, lifecycle.ApprovalApproved, got.Status)
	})

	t.Run("archive scan", func(t *testing.T) {
		store := newStore(t)
		end := Now.Add(-24 * time.Hour)

		withResponses := EndedSurvey(t, store, end)
		CreateResponse(t, store, withResponses.ID, lifecycle.ResponseSubmitted, 7)
		CreateResponse(t, store, withResponses.ID, lifecycle.ResponseApproved, 8)
		CreateResponse(t, store, withResponses.ID, lifecycle.ResponseDraft, 9)
		empty := EndedSurvey(t, store, end)
		// ignored: not ended yet, archived manually, already archived
		EndedSurvey(t, store, Now.Add(time.Hour))
		CreateSurvey(t, store, lifecycle.Survey{EndDate: &end})
		CreateSurvey(t, store, lifecycle.Survey{
			EndDate: &end, AutoArchive: true, Status: lifecycle.SurveyArchived, ArchivedAt: &end,
		})

		got, err := store.ArchiveEligibleSurveys(ctx, Now, lifecycle.Cursor{}, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, withResponses.ID, got[0].ID)
		assert.Equal(t, 2, got[0].CollectedResponses)
		assert.Equal(t, empty.ID, got[1].ID)
		assert.Equal(t, 0, got[1].CollectedResponses)

		rest, err := store.ArchiveEligibleSurveys(ctx, Now, lifecycle.Cursor{At: *got[0].EndDate, ID: got[0].ID}, 10)
		require.NoError(t, err)
		require.Len(t, rest, 1)
		assert.Equal(t, empty.ID, rest[0].ID)
	})

	t.Run("submitted without active request", func(t *testing.T) {
		store := newStore(t)
		sv := CreateSurvey(t, store, lifecycle.Survey{})
		missing1 := CreateResponse(t, store, sv.ID, lifecycle.ResponseSubmitted, 7)
		covered := CreateResponse(t, store, sv.ID, lifecycle.ResponseSubmitted, 8)
		CreateApprovalRequest(t, store, lifecycle.ApprovalRequest{ResponseID: covered.ID, SubmitterID: 8})
		CreateResponse(t, store, sv.ID, lifecycle.ResponseDraft, 9)
		missing2 := CreateResponse(t, store, sv.ID, lifecycle.ResponseSubmitted, 10)

		got, err := store.SubmittedWithoutActiveRequest(ctx, lifecycle.ResponseFilter{}, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{missing1.ID, missing2.ID}, responseIDs(got))

		got, err = store.SubmittedWithoutActiveRequest(ctx, lifecycle.ResponseFilter{}, missing1.ID, 10)
		require.NoError(t, err)
		assert.Equal(t, []int64{missing2.ID}, responseIDs(got))

		got, err = store.SubmittedWithoutActiveRequest(ctx, lifecycle.ResponseFilter{ResponseID: &covered.ID}, 0, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("transaction rollback", func(t *testing.T) {
		store := newStore(t)
		sv := EndedSurvey(t, store, Now.Add(-time.Hour))
		boom := errors.New("boom")

		err := store.RunInTx(ctx, func(tx lifecycle.Repository) error {
			locked, err := tx.LockSurvey(ctx, sv.ID)
			if err != nil {
				return err
			}
			locked.Status = lifecycle.SurveyArchived
			locked.ArchivedAt = TimePtr(Now)
			if err := tx.UpdateSurvey(ctx, locked); err != nil {
				return err
			}
			if _, err := tx.AppendEvent(ctx, lifecycle.DeadlineEvent{
				SurveyID: &sv.ID, Type: lifecycle.EventAutoArchived, OccurredAt: Now,
			}); err != nil {
				return err
			}
			return boom
		})
		assert.Equal(t, boom, err)

		got, err := store.GetSurvey(ctx, sv.ID)
		require.NoError(t, err)
		assert.Equal(t, lifecycle.SurveyPublished, got.Status)
		assert.Nil(t, got.ArchivedAt)
		assert.Empty(t, ListEvents(t, store, lifecycle.EventFilter{SurveyID: &sv.ID}))
	})

	t.Run("events", func(t *testing.T) {
		store := newStore(t)
		sv := CreateSurvey(t, store, lifecycle.Survey{})
		other := CreateSurvey(t, store, lifecycle.Survey{})
		actor := int64(3)

		saved, err := store.AppendEvent(ctx, lifecycle.DeadlineEvent{
			SurveyID:   &sv.ID,
			Type:       lifecycle.EventAutoArchived,
			OccurredAt: Now,
			ActorID:    &actor,
			Metadata:   lifecycle.Metadata{"reason": "done"},
		})
		require.NoError(t, err)
		assert.NotZero(t, saved.ID)
		_, err = store.AppendEvent(ctx, lifecycle.DeadlineEvent{SurveyID: &other.ID, Type: lifecycle.EventAutoArchived, OccurredAt: Now})
		require.NoError(t, err)

		exists, err := store.HasEvent(ctx, lifecycle.EventAutoArchived, &sv.ID, nil, Now)
		require.NoError(t, err)
		assert.True(t, exists)
		exists, err = store.HasEvent(ctx, lifecycle.EventAutoArchived, &sv.ID, nil, Now.Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, exists, "another occurrence")
		exists, err = store.HasEvent(ctx, lifecycle.EventOverdueFlagged, &sv.ID, nil, Now)
		require.NoError(t, err)
		assert.False(t, exists)

		evs := ListEvents(t, store, lifecycle.EventFilter{SurveyID: &sv.ID, Types: []lifecycle.EventType{lifecycle.EventAutoArchived}})
		require.Len(t, evs, 1)
		assert.Equal(t, "done", evs[0].Metadata["reason"])
		require.NotNil(t, evs[0].ActorID)
		assert.Equal(t, actor, *evs[0].ActorID)
		assert.True(t, evs[0].OccurredAt.Equal(Now))

		assert.Len(t, ListEvents(t, store, lifecycle.EventFilter{Limit: 1}), 1)
	})
}

func responseIDs(resps []lifecycle.SurveyResponse) []int64 {
	ids := make([]int64, 0, len(resps))
	for _, r := range resps {
		ids = append(ids, r.ID)
	}
	return ids
}
