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

func TestScanner_ScanOverdueApprovals(t *testing.T) {
	f := setup(t)
	sv := testutil.CreateSurvey(t, f.store, lifecycle.Survey{})
	var want []int64
	for i := 5; i > 0; i-- {
		want = append(want, f.pendingRequest(t, sv.ID, testutil.Now.Add(-time.Duration(i)*time.Hour), nil).ID)
	}
	f.pendingRequest(t, sv.ID, testutil.Now.Add(time.Hour), nil)

	var (
		sizes []int
		got   []int64
	)
	it := f.engine.Scanner.ScanOverdueApprovals(2)
	for it.Next(ctx) {
		sizes = append(sizes, len(it.Chunk()))
		for _, req := range it.Chunk() {
			assert.True(t, req.IsOverdueAt(testutil.Now), "request %d", req.ID)
			got = append(got, req.ID)
		}
	}
	require.NoError(t, it.Err())
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, want, got)
}

func TestScanner_cancellation(t *testing.T) {
	f := setup(t)
	sv := testutil.CreateSurvey(t, f.store, lifecycle.Survey{})
	for i := 0; i < 3; i++ {
		f.pendingRequest(t, sv.ID, testutil.Now.Add(-time.Hour), nil)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	it := f.engine.Scanner.ScanOverdueApprovals(2)
	require.True(t, it.Next(cctx))
	assert.Len(t, it.Chunk(), 2)

	cancel()
	assert.False(t, it.Next(cctx))
	assert.Empty(t, it.Chunk())
	assert.True(t, errors.Is(it.Err(), context.Canceled), "error = %v", it.Err())
	assert.False(t, it.Next(ctx), "a failed scan stays failed")
}

func TestScanner_ScanArchiveEligibleSurveys(t *testing.T) {
	f := setup(t)
	ended := testutil.Now.Add(-time.Hour)
	archivedAt := testutil.Now.Add(-30 * time.Minute)

	candidates := []lifecycle.Survey{
		{AutoArchive: true, EndDate: &ended},
		{AutoArchive: true, EndDate: testutil.TimePtr(testutil.Now)},
		{AutoArchive: true, EndDate: testutil.TimePtr(testutil.Now.Add(time.Hour))},
		{AutoArchive: true},
		{AutoArchive: false, EndDate: &ended},
		{AutoArchive: true, EndDate: &ended, ArchivedAt: &archivedAt, Status: lifecycle.SurveyArchived},
		{AutoArchive: true, EndDate: testutil.TimePtr(testutil.Now.Add(-48 * time.Hour)), Status: lifecycle.SurveyDraft},
	}
	var want []int64
	for _, s := range candidates {
		s = testutil.CreateSurvey(t, f.store, s)
		if s.IsArchiveEligible(testutil.Now) {
			want = append(want, s.ID)
		}
	}
	require.Len(t, want, 2)
	want[0], want[1] = want[1], want[0] // ordered by end date

	var got []int64
	it := f.engine.Scanner.ScanArchiveEligibleSurveys(1)
	for it.Next(ctx) {
		for _, s := range it.Chunk() {
			got = append(got, s.ID)
		}
	}
	require.NoError(t, it.Err())
	assert.Equal(t, want, got)
}

func TestScanner_ScanMissingApprovalRequests(t *testing.T) {
	f := setup(t)
	sv := testutil.CreateSurvey(t, f.store, lifecycle.Survey{})
	var want []int64
	for i := 0; i < 3; i++ {
		want = append(want, testutil.CreateResponse(t, f.store, sv.ID, lifecycle.ResponseSubmitted, 7).ID)
	}
	f.pendingRequest(t, sv.ID, testutil.Now, nil)

	var got []int64
	it := f.engine.Scanner.ScanMissingApprovalRequests(lifecycle.ResponseFilter{}, 2)
	for it.Next(ctx) {
		for _, resp := range it.Chunk() {
			got = append(got, resp.ID)
		}
	}
	require.NoError(t, it.Err())
	assert.Equal(t, want, got)
}

func TestScanner_previews(t *testing.T) {
	f := setup(t)
	sv := testutil.CreateSurvey(t, f.store, lifecycle.Survey{})
	for i := 0; i < 3; i++ {
		f.pendingRequest(t, sv.ID, testutil.Now.Add(-time.Hour), nil)
		testutil.EndedSurvey(t, f.store, testutil.Now.Add(-time.Hour))
	}

	tests := []struct {
		name string
		max  int
		want int
	}{
		{name: "bounded", max: 2, want: 2},
		{name: "unbounded", max: 0, want: 3},
		{name: "more than available", max: 10, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqs, err := f.engine.Scanner.PreviewOverdueApprovals(ctx, tt.max)
			require.NoError(t, err)
			assert.Len(t, reqs, tt.want)

			surveys, err := f.engine.Scanner.PreviewArchiveEligibleSurveys(ctx, tt.max)
			require.NoError(t, err)
			assert.Len(t, surveys, tt.want)
		})
	}

	// previews never write
	for _, req := range testutil.TakeSnapshot(t, f.store).Requests {
		assert.False(t, req.IsOverdue)
	}
}
