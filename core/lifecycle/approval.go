package lifecycle

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
)

// ApprovalManager owns the approval request lifecycle of survey responses.
type ApprovalManager struct {
	*base
	scanner   *Scanner
	validate  *validator.Validate
	authority AuthorityChecker
}

type (
	NewApprovalRequest struct {
		ResponseID  int64      `json:"response_id" validate:"required"`
		Description string     `json:"description" validate:"max=2000"`
		Priority    Priority   `json:"priority" validate:"omitempty,oneof=low normal medium high"`
		Metadata    Metadata   `json:"metadata"`
		Deadline    *time.Time `json:"deadline"`
		ApproverID  *int64     `json:"approver_id"`
	}

	Decision struct {
		Approve bool   `json:"approve"`
		Comment string `json:"comment" validate:"max=2000"`
	}
)

var highPriorityCategories = []string{"urgent", "finance"}

// CreateApprovalRequest opens an approval request for a submitted response.
// It fails with ErrInvalidState if the response is not submitted and with ErrAlreadyExists
// if the response already has an active request.
func (m *ApprovalManager) CreateApprovalRequest(ctx context.Context, actor Actor, in NewApprovalRequest) (ApprovalRequest, error) {
	if err := m.validate.Struct(in); err != nil {
		return ApprovalRequest{}, err
	}

	var (
		created ApprovalRequest
		ev      DeadlineEvent
	)
	err := m.store.RunInTx(ctx, func(tx Repository) error {
		var err error
		created, ev, err = m.create(ctx, tx, actor, in)
		return err
	})
	if err != nil {
		return ApprovalRequest{}, err
	}
	m.publish(ctx, ev)
	return created, nil
}

// SubmitResponse submits a draft response and opens its approval request in the same transaction.
// A request left active by an earlier submission is reused.
func (m *ApprovalManager) SubmitResponse(ctx context.Context, actor Actor, responseID int64, in NewApprovalRequest) (SurveyResponse, ApprovalRequest, error) {
	in.ResponseID = responseID
	if err := m.validate.Struct(in); err != nil {
		return SurveyResponse{}, ApprovalRequest{}, err
	}

	var (
		resp    SurveyResponse
		req     ApprovalRequest
		ev      DeadlineEvent
		created bool
	)
	err := m.store.RunInTx(ctx, func(tx Repository) error {
		var err error
		if resp, err = tx.LockResponse(ctx, responseID); err != nil {
			return errors.Wrapf(err, "locking survey response %d", responseID)
		}
		if resp.RespondentID != actor.ID {
			return errors.Wrapf(ErrUnauthorized, "only the respondent may submit response %d", responseID)
		}
		status, err := TransitionResponse(resp.Status, ResponseSubmit)
		if err != nil {
			return err
		}
		submittedAt := m.now()
		resp.Status = status
		resp.SubmittedAt = &submittedAt
		if err := tx.UpdateResponse(ctx, resp); err != nil {
			return errors.Wrapf(err, "submitting survey response %d", responseID)
		}

		req, ev, err = m.create(ctx, tx, actor, in)
		if errors.Is(err, ErrAlreadyExists) {
			req, err = tx.ActiveApprovalRequest(ctx, responseID)
			return errors.Wrapf(err, "fetching active approval request of response %d", responseID)
		}
		created = err == nil
		return err
	})
	if err != nil {
		return SurveyResponse{}, ApprovalRequest{}, err
	}
	if created {
		m.publish(ctx, ev)
	}
	return resp, req, nil
}

// DecideApproval approves or rejects an active request and its response.
// The actor must hold authority directly or through a delegation that has not expired.
func (m *ApprovalManager) DecideApproval(ctx context.Context, actor Actor, requestID int64, d Decision) (ApprovalRequest, error) {
	if err := m.validate.Struct(d); err != nil {
		return ApprovalRequest{}, err
	}

	reqEv, respEv := ApprovalReject, ResponseReject
	if d.Approve {
		reqEv, respEv = ApprovalApprove, ResponseApprove
	}

	var (
		req ApprovalRequest
		ev  DeadlineEvent
	)
	err := m.store.RunInTx(ctx, func(tx Repository) error {
		var err error
		if req, err = tx.LockApprovalRequest(ctx, requestID); err != nil {
			return errors.Wrapf(err, "locking approval request %d", requestID)
		}
		if !req.Status.IsActive() {
			return errors.Wrapf(ErrInvalidState, "approval request %d is %s", req.ID, req.Status)
		}

		now := m.now()
		delegated, err := m.authorize(ctx, tx, actor, req, now)
		if err != nil {
			return err
		}

		status, err := TransitionApproval(req.Status, reqEv)
		if err != nil {
			return err
		}
		resp, err := tx.LockResponse(ctx, req.ResponseID)
		if err != nil {
			return errors.Wrapf(err, "locking survey response %d", req.ResponseID)
		}
		if resp.Status != ResponseSubmitted {
			return errors.Wrapf(ErrInvalidState, "survey response %d is %s until resubmitted", resp.ID, resp.Status)
		}
		respStatus, err := TransitionResponse(resp.Status, respEv)
		if err != nil {
			return err
		}

		req.Status = status
		req.UpdatedAt = now
		if err := tx.UpdateApprovalRequest(ctx, req); err != nil {
			return errors.Wrapf(err, "updating approval request %d", req.ID)
		}
		resp.Status = respStatus
		if err := tx.UpdateResponse(ctx, resp); err != nil {
			return errors.Wrapf(err, "updating survey response %d", resp.ID)
		}

		ev, err = m.audit.Record(ctx, tx, DeadlineEvent{
			SurveyID:          int64Ptr(resp.SurveyID),
			ApprovalRequestID: int64Ptr(req.ID),
			Type:              EventApprovalDecided,
			OccurredAt:        now,
			ActorID:           actor.Ref(),
			Metadata: Metadata{
				"status":         string(req.Status),
				"comment":        d.Comment,
				"via_delegation": delegated,
			},
		})
		return err
	})
	if err != nil {
		return ApprovalRequest{}, err
	}
	m.publish(ctx, ev)
	return req, nil
}

// ReopenResponse sends a submitted or rejected response back to draft.
// SubmittedAt is kept unless clearSubmittedAt is set.
// An active approval request stays open and keeps its deadline: it may still be flagged
// overdue, it cannot be decided until the response is resubmitted, and SubmitResponse
// reuses it.
func (m *ApprovalManager) ReopenResponse(ctx context.Context, actor Actor, responseID int64, clearSubmittedAt bool) (SurveyResponse, error) {
	var resp SurveyResponse
	err := m.store.RunInTx(ctx, func(tx Repository) error {
		var err error
		if resp, err = tx.LockResponse(ctx, responseID); err != nil {
			return errors.Wrapf(err, "locking survey response %d", responseID)
		}
		if resp.RespondentID != actor.ID {
			return errors.Wrapf(ErrUnauthorized, "only the respondent may reopen response %d", responseID)
		}
		status, err := TransitionResponse(resp.Status, ResponseReopen)
		if err != nil {
			return err
		}
		resp.Status = status
		if clearSubmittedAt {
			resp.SubmittedAt = nil
		}
		return errors.Wrapf(tx.UpdateResponse(ctx, resp), "reopening survey response %d", responseID)
	})
	if err != nil {
		return SurveyResponse{}, err
	}
	return resp, nil
}

// create opens the request through tx. The caller owns the transaction.
func (m *ApprovalManager) create(ctx context.Context, tx Repository, actor Actor, in NewApprovalRequest) (ApprovalRequest, DeadlineEvent, error) {
	resp, err := tx.LockResponse(ctx, in.ResponseID)
	if err != nil {
		return ApprovalRequest{}, DeadlineEvent{}, errors.Wrapf(err, "locking survey response %d", in.ResponseID)
	}
	if resp.Status != ResponseSubmitted {
		return ApprovalRequest{}, DeadlineEvent{}, errors.Wrapf(ErrInvalidState, "survey response %d is %s, not submitted", resp.ID, resp.Status)
	}

	active, err := tx.ActiveApprovalRequest(ctx, resp.ID)
	switch {
	case err == nil:
		return ApprovalRequest{}, DeadlineEvent{}, errors.Wrapf(ErrAlreadyExists, "survey response %d has request %d", resp.ID, active.ID)
	case !errors.Is(err, ErrNotFound):
		return ApprovalRequest{}, DeadlineEvent{}, errors.Wrapf(err, "checking active approval request of response %d", resp.ID)
	}

	survey, err := tx.GetSurvey(ctx, resp.SurveyID)
	if err != nil {
		return ApprovalRequest{}, DeadlineEvent{}, errors.Wrapf(err, "fetching survey %d", resp.SurveyID)
	}

	now := m.now()
	deadline := now.Add(m.conf.ApprovalDeadline)
	if in.Deadline != nil {
		deadline = in.Deadline.UTC()
	}
	priority := in.Priority
	if priority == "" {
		priority = derivePriority(survey, now)
	}

	req, err := tx.CreateApprovalRequest(ctx, ApprovalRequest{
		ResponseID:  resp.ID,
		Status:      ApprovalPending,
		Deadline:    &deadline,
		Priority:    priority,
		SubmitterID: actor.ID,
		ApproverID:  in.ApproverID,
		Description: in.Description,
		// survey_id is read back by escalation and delegation; caller keys never replace it
		Metadata: in.Metadata.merge(Metadata{
			"survey_id":      survey.ID,
			"institution_id": resp.InstitutionID,
			"respondent_id":  resp.RespondentID,
		}),
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return ApprovalRequest{}, DeadlineEvent{}, errors.Wrapf(err, "creating approval request for response %d", resp.ID)
	}

	ev, err := m.audit.Record(ctx, tx, DeadlineEvent{
		SurveyID:          int64Ptr(survey.ID),
		ApprovalRequestID: int64Ptr(req.ID),
		Type:              EventApprovalCreated,
		OccurredAt:        now,
		ActorID:           actor.Ref(),
		Metadata: Metadata{
			"response_id": resp.ID,
			"priority":    string(req.Priority),
			"deadline":    deadline.Format(time.RFC3339),
		}.merge(runIDOf(in.Metadata)),
	})
	if err != nil {
		return ApprovalRequest{}, DeadlineEvent{}, err
	}
	return req, ev, nil
}

// authorize reports whether actor may act on req and whether it does so through a delegation.
func (m *ApprovalManager) authorize(ctx context.Context, tx Repository, actor Actor, req ApprovalRequest, now time.Time) (bool, error) {
	if actor.IsSystem() {
		return false, errors.Wrap(ErrUnauthorized, "the system cannot decide approvals")
	}
	holder, err := m.authority.IsHolder(ctx, actor, req)
	if err != nil {
		return false, errors.Wrap(err, "checking approval authority")
	}
	if holder {
		return false, nil
	}

	delegations, err := tx.Delegations(ctx, req.ID)
	if err != nil {
		return false, errors.Wrapf(err, "fetching delegations of request %d", req.ID)
	}
	var expired bool
	for _, d := range delegations {
		if d.DelegateID != actor.ID {
			continue
		}
		if d.ActiveAt(now) {
			return true, nil
		}
		expired = true
	}
	if expired {
		return false, errors.Wrapf(ErrExpiredDelegation, "user %d on approval request %d", actor.ID, req.ID)
	}
	return false, errors.Wrapf(ErrUnauthorized, "user %d on approval request %d", actor.ID, req.ID)
}

// derivePriority: urgent/finance surveys are high priority, surveys ending within 3 days medium.
func derivePriority(s Survey, now time.Time) Priority {
	category := strings.ToLower(strings.TrimSpace(s.Category))
	for _, c := range highPriorityCategories {
		if category == c {
			return PriorityHigh
		}
	}
	if s.EndDate != nil && s.EndDate.Sub(now) <= mediumPriorityEndDateHorizon {
		return PriorityMedium
	}
	return PriorityNormal
}

func runIDOf(md Metadata) Metadata {
	if runID, ok := md["run_id"]; ok {
		return Metadata{"run_id": runID}
	}
	return nil
}
