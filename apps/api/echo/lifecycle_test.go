package echoapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/trezcool/masomo-lifecycle/apps/api/echo"
	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	"github.com/trezcool/masomo-lifecycle/tests"
)

func Test_home(t *testing.T) {
	srv, _ := setup(t)
	req, rec := newAuthRequest(http.MethodGet, "/", "")
	srv.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to Masomo Lifecycle API!", rec.Body.String())
}

func Test_lifecycleApi_overdueApprovals(t *testing.T) {
	srv, store := setup(t)
	sv := testutil.CreateSurvey(t, store, lifecycle.Survey{})

	newRequest := func(deadline time.Duration, status lifecycle.ApprovalStatus) lifecycle.ApprovalRequest {
		resp := testutil.CreateResponse(t, store, sv.ID, lifecycle.ResponseSubmitted, 7)
		req := testutil.CreateApprovalRequest(t, store, lifecycle.ApprovalRequest{
			ResponseID: resp.ID,
			Status:     status,
			Deadline:   testutil.TimePtr(testutil.Now.Add(deadline)),
		})
		req, err := store.GetApprovalRequest(context.Background(), req.ID)
		require.NoError(t, err)
		return req
	}
	newRequest(-3*time.Hour, lifecycle.ApprovalApproved)
	oldest := newRequest(-2*time.Hour, lifecycle.ApprovalPending)
	older := newRequest(-1*time.Hour, lifecycle.ApprovalInProgress)
	newRequest(time.Hour, lifecycle.ApprovalPending)

	adminToken := getToken(t, 1, true)
	limitErr := map[string]string{"limit": "limit must be a number between 1 and 500"}

	runHTTPTests(t, srv, []httpTest{
		{name: "Auth required", path: "/v1/approvals/overdue", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/approvals/overdue", token: getToken(t, 7, false),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "invalid limit", path: "/v1/approvals/overdue?limit=lol", token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, limitErr),
		},
		{
			name: "limit too big", path: "/v1/approvals/overdue?limit=501", token: adminToken,
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, limitErr),
		},
		{
			name: "all", path: "/v1/approvals/overdue", token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, []lifecycle.ApprovalRequest{oldest, older}),
		},
		{
			name: "limited", path: "/v1/approvals/overdue?limit=1", token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, []lifecycle.ApprovalRequest{oldest}),
		},
	})

	// previews write nothing
	for _, id := range []int64{oldest.ID, older.ID} {
		req, err := store.GetApprovalRequest(context.Background(), id)
		require.NoError(t, err)
		assert.False(t, req.IsOverdue)
	}

	req, rec := newAuthRequest(http.MethodGet, "/metrics", "")
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `masomo_lifecycle_preview_items{kind="overdue"} 1`)
}

func Test_lifecycleApi_archiveEligibleSurveys(t *testing.T) {
	srv, store := setup(t)
	recent := testutil.EndedSurvey(t, store, testutil.Now.Add(-24*time.Hour))
	testutil.CreateResponse(t, store, recent.ID, lifecycle.ResponseApproved, 7)
	empty := testutil.EndedSurvey(t, store, testutil.Now.Add(-48*time.Hour))
	testutil.EndedSurvey(t, store, testutil.Now.Add(24*time.Hour))
	testutil.CreateSurvey(t, store, lifecycle.Survey{EndDate: testutil.TimePtr(testutil.Now.Add(-72 * time.Hour))})

	get := func(id int64) lifecycle.Survey {
		sv, err := store.GetSurvey(context.Background(), id)
		require.NoError(t, err)
		return sv
	}
	adminToken := getToken(t, 1, true)

	runHTTPTests(t, srv, []httpTest{
		{name: "Auth required", path: "/v1/surveys/archive-eligible", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Admin required", path: "/v1/surveys/archive-eligible", token: getToken(t, 7, false),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden),
		},
		{
			name: "all", path: "/v1/surveys/archive-eligible", token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, []lifecycle.Survey{get(empty.ID), get(recent.ID)}),
		},
		{
			name: "limited", path: "/v1/surveys/archive-eligible?limit=1", token: adminToken,
			wantCode: http.StatusOK, wantData: marchallObj(t, []lifecycle.Survey{get(empty.ID)}),
		},
	})

	assert.Equal(t, lifecycle.SurveyPublished, get(recent.ID).Status)
}

func Test_lifecycleApi_queryEvents(t *testing.T) {
	srv, store := setup(t)
	surveyID, requestID := int64(1), int64(1)

	appendEvent := func(ev lifecycle.DeadlineEvent) int64 {
		ev.OccurredAt = testutil.Now
		saved, err := store.AppendEvent(context.Background(), ev)
		require.NoError(t, err)
		return saved.ID
	}
	archived := appendEvent(lifecycle.DeadlineEvent{SurveyID: &surveyID, Type: lifecycle.EventAutoArchived})
	flagged := appendEvent(lifecycle.DeadlineEvent{ApprovalRequestID: &requestID, Type: lifecycle.EventOverdueFlagged})
	created := appendEvent(lifecycle.DeadlineEvent{SurveyID: &surveyID, ApprovalRequestID: &requestID, Type: lifecycle.EventApprovalCreated})

	adminToken := getToken(t, 1, true)
	tests := []struct {
		name     string
		query    string
		wantCode int
		wantIDs  []int64
		wantErr  map[string]string
	}{
		{name: "all", wantIDs: []int64{archived, flagged, created}},
		{name: "survey", query: "?survey_id=1", wantIDs: []int64{archived, created}},
		{name: "approval request", query: "?approval_request_id=1", wantIDs: []int64{flagged, created}},
		{name: "type", query: "?type=overdue_flagged", wantIDs: []int64{flagged}},
		{name: "types", query: "?type=auto_archived&type=APPROVAL_CREATED", wantIDs: []int64{archived, created}},
		{name: "limit", query: "?limit=2", wantIDs: []int64{archived, flagged}},
		{name: "no match", query: "?survey_id=2", wantIDs: []int64{}},
		{
			name: "invalid filters", query: "?survey_id=lol&type=lol",
			wantCode: http.StatusBadRequest,
			wantErr: map[string]string{
				"survey_id": "survey_id must be a number",
				"type":      `unknown event type "lol"`,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/events"+tt.query, adminToken)
			srv.ServeHTTP(rec, req)

			if tt.wantErr != nil {
				checkCodeAndData(t, httpTest{wantCode: tt.wantCode, wantData: marchallObj(t, tt.wantErr)}, rec)
				return
			}
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var evs []lifecycle.DeadlineEvent
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
			ids := make([]int64, 0, len(evs))
			for _, ev := range evs {
				ids = append(ids, ev.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}

	t.Run("Admin required", func(t *testing.T) {
		req, rec := newAuthRequest(http.MethodGet, "/v1/events", getToken(t, 7, false))
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func Test_lifecycleApi_retrieveApproval(t *testing.T) {
	srv, store := setup(t)
	sv := testutil.CreateSurvey(t, store, lifecycle.Survey{})
	resp := testutil.CreateResponse(t, store, sv.ID, lifecycle.ResponseSubmitted, 7)
	approverID := int64(42)
	req := testutil.CreateApprovalRequest(t, store, lifecycle.ApprovalRequest{
		ResponseID:  resp.ID,
		SubmitterID: 7,
		ApproverID:  &approverID,
		Deadline:    testutil.TimePtr(testutil.Now.Add(24 * time.Hour)),
	})
	_, err := store.CreateDelegation(context.Background(), lifecycle.ApprovalDelegation{
		ApprovalRequestID: req.ID,
		DelegatorID:       approverID,
		DelegateID:        50,
		Reason:            "on leave",
		ExpiresAt:         testutil.Now.Add(72 * time.Hour),
		CreatedAt:         testutil.Now,
	})
	require.NoError(t, err)

	req, err = store.GetApprovalRequest(context.Background(), req.ID)
	require.NoError(t, err)
	delegations, err := store.Delegations(context.Background(), req.ID)
	require.NoError(t, err)
	detail := marchallObj(t, ApprovalDetail{ApprovalRequest: req, Delegations: delegations})
	path := "/v1/approvals/" + strconv.FormatInt(req.ID, 10)

	runHTTPTests(t, srv, []httpTest{
		{name: "Auth required", path: path, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "admin", path: path, token: getToken(t, 1, true), wantCode: http.StatusOK, wantData: detail},
		{name: "submitter", path: path, token: getToken(t, 7, false), wantCode: http.StatusOK, wantData: detail},
		{name: "approver", path: path, token: getToken(t, approverID, false), wantCode: http.StatusOK, wantData: detail},
		{name: "delegate", path: path, token: getToken(t, 50, false), wantCode: http.StatusOK, wantData: detail},
		{name: "stranger", path: path, token: getToken(t, 99, false), wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound)},
		{
			name: "unknown", path: "/v1/approvals/999", token: getToken(t, 1, true),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound),
		},
		{
			name: "invalid id", path: "/v1/approvals/lol", token: getToken(t, 1, true),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, errNotFound),
		},
	})
}
