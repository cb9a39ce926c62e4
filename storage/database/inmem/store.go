package inmemdb

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

var _ lifecycle.Store = (*DB)(nil)

// RunInTx serializes fn with every other access to db. Returning an error restores the
// tables as they were before fn ran.
func (db *DB) RunInTx(_ context.Context, fn func(tx lifecycle.Repository) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	snapshot := db.t.clone()
	if err := fn(&tableRepo{t: db.t}); err != nil {
		db.t = snapshot
		return err
	}
	return nil
}

func (db *DB) GetSurvey(ctx context.Context, id int64) (s lifecycle.Survey, err error) {
	err = db.view(func(r *tableRepo) error {
		s, err = r.GetSurvey(ctx, id)
		return err
	})
	return s, err
}

func (db *DB) LockSurvey(ctx context.Context, id int64) (lifecycle.Survey, error) {
	return db.GetSurvey(ctx, id)
}

func (db *DB) UpdateSurvey(ctx context.Context, s lifecycle.Survey) error {
	return db.update(func(r *tableRepo) error { return r.UpdateSurvey(ctx, s) })
}

func (db *DB) ArchiveEligibleSurveys(ctx context.Context, now time.Time, after lifecycle.Cursor, n int) (ss []lifecycle.Survey, err error) {
	err = db.view(func(r *tableRepo) error {
		ss, err = r.ArchiveEligibleSurveys(ctx, now, after, n)
		return err
	})
	return ss, err
}

func (db *DB) GetResponse(ctx context.Context, id int64) (resp lifecycle.SurveyResponse, err error) {
	err = db.view(func(r *tableRepo) error {
		resp, err = r.GetResponse(ctx, id)
		return err
	})
	return resp, err
}

func (db *DB) LockResponse(ctx context.Context, id int64) (lifecycle.SurveyResponse, error) {
	return db.GetResponse(ctx, id)
}

func (db *DB) UpdateResponse(ctx context.Context, resp lifecycle.SurveyResponse) error {
	return db.update(func(r *tableRepo) error { return r.UpdateResponse(ctx, resp) })
}

func (db *DB) SubmittedWithoutActiveRequest(ctx context.Context, filter lifecycle.ResponseFilter, afterID int64, n int) (resps []lifecycle.SurveyResponse, err error) {
	err = db.view(func(r *tableRepo) error {
		resps, err = r.SubmittedWithoutActiveRequest(ctx, filter, afterID, n)
		return err
	})
	return resps, err
}

func (db *DB) CreateApprovalRequest(ctx context.Context, req lifecycle.ApprovalRequest) (created lifecycle.ApprovalRequest, err error) {
	err = db.update(func(r *tableRepo) error {
		created, err = r.CreateApprovalRequest(ctx, req)
		return err
	})
	return created, err
}

func (db *DB) GetApprovalRequest(ctx context.Context, id int64) (req lifecycle.ApprovalRequest, err error) {
	err = db.view(func(r *tableRepo) error {
		req, err = r.GetApprovalRequest(ctx, id)
		return err
	})
	return req, err
}

func (db *DB) LockApprovalRequest(ctx context.Context, id int64) (lifecycle.ApprovalRequest, error) {
	return db.GetApprovalRequest(ctx, id)
}

func (db *DB) ActiveApprovalRequest(ctx context.Context, responseID int64) (req lifecycle.ApprovalRequest, err error) {
	err = db.view(func(r *tableRepo) error {
		req, err = r.ActiveApprovalRequest(ctx, responseID)
		return err
	})
	return req, err
}

func (db *DB) UpdateApprovalRequest(ctx context.Context, req lifecycle.ApprovalRequest) error {
	return db.update(func(r *tableRepo) error { return r.UpdateApprovalRequest(ctx, req) })
}

func (db *DB) FlagOverdue(ctx context.Context, id int64, now time.Time) (flagged bool, err error) {
	err = db.update(func(r *tableRepo) error {
		flagged, err = r.FlagOverdue(ctx, id, now)
		return err
	})
	return flagged, err
}

func (db *DB) OverdueApprovals(ctx context.Context, now time.Time, after lifecycle.Cursor, n int) (reqs []lifecycle.ApprovalRequest, err error) {
	err = db.view(func(r *tableRepo) error {
		reqs, err = r.OverdueApprovals(ctx, now, after, n)
		return err
	})
	return reqs, err
}

func (db *DB) CreateDelegation(ctx context.Context, d lifecycle.ApprovalDelegation) (created lifecycle.ApprovalDelegation, err error) {
	err = db.update(func(r *tableRepo) error {
		created, err = r.CreateDelegation(ctx, d)
		return err
	})
	return created, err
}

func (db *DB) Delegations(ctx context.Context, requestID int64) (ds []lifecycle.ApprovalDelegation, err error) {
	err = db.view(func(r *tableRepo) error {
		ds, err = r.Delegations(ctx, requestID)
		return err
	})
	return ds, err
}

func (db *DB) AppendEvent(ctx context.Context, ev lifecycle.DeadlineEvent) (saved lifecycle.DeadlineEvent, err error) {
	err = db.update(func(r *tableRepo) error {
		saved, err = r.AppendEvent(ctx, ev)
		return err
	})
	return saved, err
}

func (db *DB) HasEvent(ctx context.Context, typ lifecycle.EventType, surveyID, requestID *int64, occurredAt time.Time) (exists bool, err error) {
	err = db.view(func(r *tableRepo) error {
		exists, err = r.HasEvent(ctx, typ, surveyID, requestID, occurredAt)
		return err
	})
	return exists, err
}

func (db *DB) ListEvents(ctx context.Context, filter lifecycle.EventFilter) (evs []lifecycle.DeadlineEvent, err error) {
	err = db.view(func(r *tableRepo) error {
		evs, err = r.ListEvents(ctx, filter)
		return err
	})
	return evs, err
}

// Seeding, used by fixtures and the import tooling stand-ins.

func (db *DB) CreateSurvey(_ context.Context, s lifecycle.Survey) (lifecycle.Survey, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.t.pk.survey++
	s.ID = db.t.pk.survey
	s.EndDate = utc(s.EndDate)
	s.ArchivedAt = utc(s.ArchivedAt)
	s.CollectedResponses = 0
	db.t.surveys[s.ID] = s
	return s, nil
}

func (db *DB) CreateResponse(_ context.Context, resp lifecycle.SurveyResponse) (lifecycle.SurveyResponse, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, ok := db.t.surveys[resp.SurveyID]; !ok {
		return lifecycle.SurveyResponse{}, errors.Wrapf(lifecycle.ErrNotFound, "survey %d", resp.SurveyID)
	}
	db.t.pk.response++
	resp.ID = db.t.pk.response
	resp.SubmittedAt = utc(resp.SubmittedAt)
	db.t.responses[resp.ID] = resp
	return resp, nil
}

func (db *DB) ListSurveys(_ context.Context) ([]lifecycle.Survey, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	r := &tableRepo{t: db.t}
	surveys := make([]lifecycle.Survey, 0, len(db.t.surveys))
	for _, s := range db.t.surveys {
		surveys = append(surveys, r.withCount(s))
	}
	sort.Slice(surveys, func(i, j int) bool { return surveys[i].ID < surveys[j].ID })
	return surveys, nil
}

func (db *DB) ListApprovalRequests(_ context.Context) ([]lifecycle.ApprovalRequest, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	r := &tableRepo{t: db.t}
	reqs := make([]lifecycle.ApprovalRequest, 0, len(db.t.requests))
	for id := range db.t.requests {
		reqs = append(reqs, r.getRequest(id))
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
	return reqs, nil
}
