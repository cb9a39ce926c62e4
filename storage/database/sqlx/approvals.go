package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

const (
	approvalColumns = `a.id, a.subject_response_id, a.current_status, a.deadline, a.is_overdue, a.overdue_flagged_at,
		a.priority, a.submitter_id, a.approver_id, a.description, a.metadata, a.created_at, a.updated_at`
	delegationColumns = `id, approval_request_id, delegator_id, delegate_id, reason, expires_at, created_at`

	activeStatuses = `('pending', 'in_progress')`
)

func (r *repo) CreateApprovalRequest(ctx context.Context, req lifecycle.ApprovalRequest) (lifecycle.ApprovalRequest, error) {
	md, err := boilMetadata(req.Metadata)
	if err != nil {
		return lifecycle.ApprovalRequest{}, err
	}

	var row approvalRequestRow
	err = sqlxGet(ctx, r, &row, `
		INSERT INTO approval_requests AS a (
			subject_response_id, current_status, deadline, is_overdue, overdue_flagged_at, priority,
			submitter_id, approver_id, description, metadata, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12)
		RETURNING `+approvalColumns,
		req.ResponseID, string(req.Status), null.TimeFromPtr(req.Deadline), req.IsOverdue, null.TimeFromPtr(req.OverdueFlaggedAt),
		string(req.Priority), req.SubmitterID, null.Int64FromPtr(req.ApproverID), nullString(req.Description), md,
		req.CreatedAt.UTC(), req.UpdatedAt.UTC(),
	)
	if err != nil {
		return lifecycle.ApprovalRequest{}, trapUniqueViolation(errors.Wrap(err, "inserting approval request"))
	}
	return row.unboil()
}

func (r *repo) GetApprovalRequest(ctx context.Context, id int64) (lifecycle.ApprovalRequest, error) {
	var row approvalRequestRow
	q := psql.Select(approvalColumns).From("approval_requests a").Where(sq.Eq{"a.id": id}).Suffix(r.forUpdate("a"))
	if err := r.get(ctx, &row, q); err != nil {
		return lifecycle.ApprovalRequest{}, trapNoRowsErr(errors.Wrap(err, "fetching approval request"), "approval request", id)
	}
	return row.unboil()
}

func (r *repo) LockApprovalRequest(ctx context.Context, id int64) (lifecycle.ApprovalRequest, error) {
	return r.GetApprovalRequest(ctx, id)
}

func (r *repo) ActiveApprovalRequest(ctx context.Context, responseID int64) (lifecycle.ApprovalRequest, error) {
	var row approvalRequestRow
	q := psql.Select(approvalColumns).From("approval_requests a").
		Where(sq.Eq{"a.subject_response_id": responseID}).
		Where("a.current_status IN " + activeStatuses)
	if err := r.get(ctx, &row, q); err != nil {
		return lifecycle.ApprovalRequest{}, trapNoRowsErr(
			errors.Wrap(err, "fetching active approval request"), "active approval request of response", responseID,
		)
	}
	return row.unboil()
}

func (r *repo) UpdateApprovalRequest(ctx context.Context, req lifecycle.ApprovalRequest) error {
	md, err := boilMetadata(req.Metadata)
	if err != nil {
		return err
	}
	// the overdue flag only ever goes from false to true
	res, err := r.q.ExecContext(ctx, `
		UPDATE approval_requests
		SET current_status = $2, deadline = $3,
			is_overdue = (COALESCE(is_overdue, false) OR $4),
			overdue_flagged_at = COALESCE(overdue_flagged_at, $5),
			priority = $6, approver_id = $7, description = $8, metadata = $9::jsonb, updated_at = $10
		WHERE id = $1`,
		req.ID, string(req.Status), null.TimeFromPtr(req.Deadline), req.IsOverdue, null.TimeFromPtr(req.OverdueFlaggedAt),
		string(req.Priority), null.Int64FromPtr(req.ApproverID), nullString(req.Description), md, req.UpdatedAt.UTC(),
	)
	return errors.Wrap(mustAffectOne(res, err, "approval request", req.ID), "updating approval request")
}

func (r *repo) FlagOverdue(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE approval_requests
		SET is_overdue = true, overdue_flagged_at = $2, updated_at = $2
		WHERE id = $1 AND current_status IN `+activeStatuses+`
			AND is_overdue IS NOT TRUE AND deadline < $2`,
		id, now.UTC(),
	)
	if err != nil {
		return false, errors.Wrap(err, "flagging approval request")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "reading affected rows")
	}
	if n > 0 {
		return true, nil
	}

	// lost race, or no such request
	exists, err := r.exists(ctx, "approval_requests", id)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, errors.Wrapf(lifecycle.ErrNotFound, "approval request %d", id)
	}
	return false, nil
}

func (r *repo) OverdueApprovals(ctx context.Context, now time.Time, after lifecycle.Cursor, n int) ([]lifecycle.ApprovalRequest, error) {
	q := psql.Select(approvalColumns).From("approval_requests a").
		Where("a.current_status IN " + activeStatuses).
		Where("a.is_overdue IS NOT TRUE").
		Where(sq.Lt{"a.deadline": now}).
		OrderBy("a.deadline ASC", "a.id ASC").
		Limit(uint64(n))
	if !after.IsZero() {
		q = q.Where(sq.Expr("(a.deadline, a.id) > (?, ?)", after.At, after.ID))
	}

	rows := make([]approvalRequestRow, 0)
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying overdue approval requests")
	}
	return unboilRequests(rows)
}

func (r *repo) CreateDelegation(ctx context.Context, d lifecycle.ApprovalDelegation) (lifecycle.ApprovalDelegation, error) {
	var row delegationRow
	err := sqlxGet(ctx, r, &row, `
		INSERT INTO approval_delegations (approval_request_id, delegator_id, delegate_id, reason, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+delegationColumns,
		d.ApprovalRequestID, d.DelegatorID, d.DelegateID, d.Reason, d.ExpiresAt.UTC(), d.CreatedAt.UTC(),
	)
	if err != nil {
		return lifecycle.ApprovalDelegation{}, errors.Wrap(err, "inserting approval delegation")
	}
	return row.unboil(), nil
}

func (r *repo) Delegations(ctx context.Context, requestID int64) ([]lifecycle.ApprovalDelegation, error) {
	rows := make([]delegationRow, 0)
	q := psql.Select(delegationColumns).From("approval_delegations").
		Where(sq.Eq{"approval_request_id": requestID}).
		OrderBy("id ASC")
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying approval delegations")
	}
	ds := make([]lifecycle.ApprovalDelegation, 0, len(rows))
	for _, row := range rows {
		ds = append(ds, row.unboil())
	}
	return ds, nil
}

func (s *Store) ListApprovalRequests(ctx context.Context) ([]lifecycle.ApprovalRequest, error) {
	rows := make([]approvalRequestRow, 0)
	if err := s.selectAll(ctx, &rows, psql.Select(approvalColumns).From("approval_requests a").OrderBy("a.id ASC")); err != nil {
		return nil, errors.Wrap(err, "querying approval requests")
	}
	return unboilRequests(rows)
}

func unboilRequests(rows []approvalRequestRow) ([]lifecycle.ApprovalRequest, error) {
	reqs := make([]lifecycle.ApprovalRequest, 0, len(rows))
	for _, row := range rows {
		req, err := row.unboil()
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
