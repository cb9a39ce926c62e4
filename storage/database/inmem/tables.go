package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

// tableRepo implements lifecycle.Repository over the tables. Callers hold the DB lock.
type tableRepo struct {
	t *tables
}

var _ lifecycle.Repository = (*tableRepo)(nil)

func (r *tableRepo) withCount(s lifecycle.Survey) lifecycle.Survey {
	s.CollectedResponses = 0
	for _, resp := range r.t.responses {
		if resp.SurveyID == s.ID && (resp.Status == lifecycle.ResponseSubmitted || resp.Status == lifecycle.ResponseApproved) {
			s.CollectedResponses++
		}
	}
	return s
}

func (r *tableRepo) GetSurvey(_ context.Context, id int64) (lifecycle.Survey, error) {
	s, ok := r.t.surveys[id]
	if !ok {
		return lifecycle.Survey{}, errors.Wrapf(lifecycle.ErrNotFound, "survey %d", id)
	}
	return r.withCount(s), nil
}

func (r *tableRepo) LockSurvey(ctx context.Context, id int64) (lifecycle.Survey, error) {
	return r.GetSurvey(ctx, id)
}

func (r *tableRepo) UpdateSurvey(_ context.Context, s lifecycle.Survey) error {
	if _, ok := r.t.surveys[s.ID]; !ok {
		return errors.Wrapf(lifecycle.ErrNotFound, "survey %d", s.ID)
	}
	s.CollectedResponses = 0
	s.EndDate = utc(s.EndDate)
	s.ArchivedAt = utc(s.ArchivedAt)
	r.t.surveys[s.ID] = s
	return nil
}

func (r *tableRepo) ArchiveEligibleSurveys(_ context.Context, now time.Time, after lifecycle.Cursor, n int) ([]lifecycle.Survey, error) {
	surveys := make([]lifecycle.Survey, 0)
	for _, s := range r.t.surveys {
		if s.IsArchiveEligible(now) && after.After(*s.EndDate, s.ID) {
			surveys = append(surveys, r.withCount(s))
		}
	}
	sort.Slice(surveys, func(i, j int) bool {
		if surveys[i].EndDate.Equal(*surveys[j].EndDate) {
			return surveys[i].ID < surveys[j].ID
		}
		return surveys[i].EndDate.Before(*surveys[j].EndDate)
	})
	return head(surveys, n), nil
}

func (r *tableRepo) GetResponse(_ context.Context, id int64) (lifecycle.SurveyResponse, error) {
	resp, ok := r.t.responses[id]
	if !ok {
		return lifecycle.SurveyResponse{}, errors.Wrapf(lifecycle.ErrNotFound, "survey response %d", id)
	}
	return resp, nil
}

func (r *tableRepo) LockResponse(ctx context.Context, id int64) (lifecycle.SurveyResponse, error) {
	return r.GetResponse(ctx, id)
}

func (r *tableRepo) UpdateResponse(_ context.Context, resp lifecycle.SurveyResponse) error {
	if _, ok := r.t.responses[resp.ID]; !ok {
		return errors.Wrapf(lifecycle.ErrNotFound, "survey response %d", resp.ID)
	}
	resp.SubmittedAt = utc(resp.SubmittedAt)
	r.t.responses[resp.ID] = resp
	return nil
}

func (r *tableRepo) SubmittedWithoutActiveRequest(_ context.Context, filter lifecycle.ResponseFilter, afterID int64, n int) ([]lifecycle.SurveyResponse, error) {
	resps := make([]lifecycle.SurveyResponse, 0)
	for _, resp := range r.t.responses {
		if resp.Status != lifecycle.ResponseSubmitted || resp.ID <= afterID {
			continue
		}
		if filter.ResponseID != nil && resp.ID != *filter.ResponseID {
			continue
		}
		if _, ok := r.activeRequest(resp.ID); ok {
			continue
		}
		resps = append(resps, resp)
	}
	sort.Slice(resps, func(i, j int) bool { return resps[i].ID < resps[j].ID })
	return head(resps, n), nil
}

func (r *tableRepo) activeRequest(responseID int64) (lifecycle.ApprovalRequest, bool) {
	for _, req := range r.t.requests {
		if req.ResponseID == responseID && req.Status.IsActive() {
			return req, true
		}
	}
	return lifecycle.ApprovalRequest{}, false
}

func (r *tableRepo) CreateApprovalRequest(_ context.Context, req lifecycle.ApprovalRequest) (lifecycle.ApprovalRequest, error) {
	if _, ok := r.t.responses[req.ResponseID]; !ok {
		return lifecycle.ApprovalRequest{}, errors.Wrapf(lifecycle.ErrNotFound, "survey response %d", req.ResponseID)
	}
	// mirrors the partial unique index on active requests
	if req.Status.IsActive() {
		if _, ok := r.activeRequest(req.ResponseID); ok {
			return lifecycle.ApprovalRequest{}, errors.Wrapf(lifecycle.ErrAlreadyExists, "survey response %d", req.ResponseID)
		}
	}

	r.t.pk.request++
	req.ID = r.t.pk.request
	req.Deadline = utc(req.Deadline)
	req.OverdueFlaggedAt = utc(req.OverdueFlaggedAt)
	req.CreatedAt = req.CreatedAt.UTC()
	req.UpdatedAt = req.UpdatedAt.UTC()
	req.Metadata = cloneMetadata(req.Metadata)
	r.t.requests[req.ID] = req
	return r.getRequest(req.ID), nil
}

func (r *tableRepo) getRequest(id int64) lifecycle.ApprovalRequest {
	req := r.t.requests[id]
	req.Metadata = cloneMetadata(req.Metadata)
	return req
}

func (r *tableRepo) GetApprovalRequest(_ context.Context, id int64) (lifecycle.ApprovalRequest, error) {
	if _, ok := r.t.requests[id]; !ok {
		return lifecycle.ApprovalRequest{}, errors.Wrapf(lifecycle.ErrNotFound, "approval request %d", id)
	}
	return r.getRequest(id), nil
}

func (r *tableRepo) LockApprovalRequest(ctx context.Context, id int64) (lifecycle.ApprovalRequest, error) {
	return r.GetApprovalRequest(ctx, id)
}

func (r *tableRepo) ActiveApprovalRequest(_ context.Context, responseID int64) (lifecycle.ApprovalRequest, error) {
	req, ok := r.activeRequest(responseID)
	if !ok {
		return lifecycle.ApprovalRequest{}, errors.Wrapf(lifecycle.ErrNotFound, "active approval request of response %d", responseID)
	}
	return r.getRequest(req.ID), nil
}

func (r *tableRepo) UpdateApprovalRequest(_ context.Context, req lifecycle.ApprovalRequest) error {
	orig, ok := r.t.requests[req.ID]
	if !ok {
		return errors.Wrapf(lifecycle.ErrNotFound, "approval request %d", req.ID)
	}
	if orig.IsOverdue {
		req.IsOverdue = true
		req.OverdueFlaggedAt = orig.OverdueFlaggedAt
	}
	req.Deadline = utc(req.Deadline)
	req.OverdueFlaggedAt = utc(req.OverdueFlaggedAt)
	req.CreatedAt = orig.CreatedAt
	req.UpdatedAt = req.UpdatedAt.UTC()
	req.Metadata = cloneMetadata(req.Metadata)
	r.t.requests[req.ID] = req
	return nil
}

func (r *tableRepo) FlagOverdue(_ context.Context, id int64, now time.Time) (bool, error) {
	req, ok := r.t.requests[id]
	if !ok {
		return false, errors.Wrapf(lifecycle.ErrNotFound, "approval request %d", id)
	}
	if !req.IsOverdueAt(now) {
		return false, nil
	}
	flaggedAt := now.UTC()
	req.IsOverdue = true
	req.OverdueFlaggedAt = &flaggedAt
	req.UpdatedAt = flaggedAt
	r.t.requests[id] = req
	return true, nil
}

func (r *tableRepo) OverdueApprovals(_ context.Context, now time.Time, after lifecycle.Cursor, n int) ([]lifecycle.ApprovalRequest, error) {
	reqs := make([]lifecycle.ApprovalRequest, 0)
	for id, req := range r.t.requests {
		if req.IsOverdueAt(now) && after.After(*req.Deadline, req.ID) {
			reqs = append(reqs, r.getRequest(id))
		}
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].Deadline.Equal(*reqs[j].Deadline) {
			return reqs[i].ID < reqs[j].ID
		}
		return reqs[i].Deadline.Before(*reqs[j].Deadline)
	})
	return head(reqs, n), nil
}

func (r *tableRepo) CreateDelegation(_ context.Context, d lifecycle.ApprovalDelegation) (lifecycle.ApprovalDelegation, error) {
	if _, ok := r.t.requests[d.ApprovalRequestID]; !ok {
		return lifecycle.ApprovalDelegation{}, errors.Wrapf(lifecycle.ErrNotFound, "approval request %d", d.ApprovalRequestID)
	}
	r.t.pk.delegation++
	d.ID = r.t.pk.delegation
	d.ExpiresAt = d.ExpiresAt.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	r.t.delegations[d.ID] = d
	return d, nil
}

func (r *tableRepo) Delegations(_ context.Context, requestID int64) ([]lifecycle.ApprovalDelegation, error) {
	ds := make([]lifecycle.ApprovalDelegation, 0)
	for _, d := range r.t.delegations {
		if d.ApprovalRequestID == requestID {
			ds = append(ds, d)
		}
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].ID < ds[j].ID })
	return ds, nil
}

func (r *tableRepo) AppendEvent(_ context.Context, ev lifecycle.DeadlineEvent) (lifecycle.DeadlineEvent, error) {
	if !ev.Type.Valid() {
		return lifecycle.DeadlineEvent{}, errors.Errorf("invalid event type %q", ev.Type)
	}
	r.t.pk.event++
	ev.ID = r.t.pk.event
	ev.OccurredAt = ev.OccurredAt.UTC()
	ev.Metadata = cloneMetadata(ev.Metadata)
	r.t.events = append(r.t.events, ev)
	return ev, nil
}

func (r *tableRepo) HasEvent(_ context.Context, typ lifecycle.EventType, surveyID, requestID *int64, occurredAt time.Time) (bool, error) {
	for _, ev := range r.t.events {
		if ev.Type == typ && sameRef(ev.SurveyID, surveyID) && sameRef(ev.ApprovalRequestID, requestID) &&
			ev.OccurredAt.Equal(occurredAt) {
			return true, nil
		}
	}
	return false, nil
}

func (r *tableRepo) ListEvents(_ context.Context, filter lifecycle.EventFilter) ([]lifecycle.DeadlineEvent, error) {
	evs := make([]lifecycle.DeadlineEvent, 0)
	for _, ev := range r.t.events {
		if filter.SurveyID != nil && !sameRef(ev.SurveyID, filter.SurveyID) {
			continue
		}
		if filter.ApprovalRequestID != nil && !sameRef(ev.ApprovalRequestID, filter.ApprovalRequestID) {
			continue
		}
		if len(filter.Types) > 0 && !hasType(filter.Types, ev.Type) {
			continue
		}
		ev.Metadata = cloneMetadata(ev.Metadata)
		evs = append(evs, ev)
	}
	return head(evs, filter.Limit), nil
}

func head[T any](rows []T, n int) []T {
	if n > 0 && len(rows) > n {
		return rows[:n]
	}
	return rows
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func hasType(types []lifecycle.EventType, typ lifecycle.EventType) bool {
	for _, t := range types {
		if t == typ {
			return true
		}
	}
	return false
}

func cloneMetadata(md lifecycle.Metadata) lifecycle.Metadata {
	if md == nil {
		return nil
	}
	cp := make(lifecycle.Metadata, len(md))
	for k, v := range md {
		cp[k] = v
	}
	return cp
}
