package lifecycle

import (
	"context"
	"time"
)

// Cursor positions a keyset scan strictly after the last row of the previous chunk.
// The zero Cursor starts from the beginning.
type Cursor struct {
	At time.Time
	ID int64
}

func (c Cursor) IsZero() bool { return c.At.IsZero() && c.ID == 0 }

// After reports whether the (at, id) key sorts strictly after c.
func (c Cursor) After(at time.Time, id int64) bool {
	if c.IsZero() {
		return true
	}
	if at.Equal(c.At) {
		return id > c.ID
	}
	return at.After(c.At)
}

type ResponseFilter struct {
	ResponseID *int64
}

type EventFilter struct {
	SurveyID          *int64
	ApprovalRequestID *int64
	Types             []EventType
	Limit             int
}

// Repository is the lifecycle persistence port. It holds no policy:
// predicates are evaluated against the `now` supplied by the caller.
type Repository interface {
	GetSurvey(ctx context.Context, id int64) (Survey, error)
	// LockSurvey re-reads a survey; inside a transaction its row stays locked until commit.
	LockSurvey(ctx context.Context, id int64) (Survey, error)
	UpdateSurvey(ctx context.Context, s Survey) error
	// ArchiveEligibleSurveys returns up to n surveys matching the archive predicate at `now`,
	// ordered by (end_date, id) and strictly after cursor `after`.
	ArchiveEligibleSurveys(ctx context.Context, now time.Time, after Cursor, n int) ([]Survey, error)

	GetResponse(ctx context.Context, id int64) (SurveyResponse, error)
	LockResponse(ctx context.Context, id int64) (SurveyResponse, error)
	UpdateResponse(ctx context.Context, r SurveyResponse) error
	// SubmittedWithoutActiveRequest returns up to n submitted responses with no active
	// approval request, ordered by id and strictly after afterID.
	SubmittedWithoutActiveRequest(ctx context.Context, filter ResponseFilter, afterID int64, n int) ([]SurveyResponse, error)

	// CreateApprovalRequest fails with ErrAlreadyExists if the response already has an active request.
	CreateApprovalRequest(ctx context.Context, req ApprovalRequest) (ApprovalRequest, error)
	GetApprovalRequest(ctx context.Context, id int64) (ApprovalRequest, error)
	LockApprovalRequest(ctx context.Context, id int64) (ApprovalRequest, error)
	// ActiveApprovalRequest fails with ErrNotFound when the response has no active request.
	ActiveApprovalRequest(ctx context.Context, responseID int64) (ApprovalRequest, error)
	// UpdateApprovalRequest never clears a set overdue flag.
	UpdateApprovalRequest(ctx context.Context, req ApprovalRequest) error
	// FlagOverdue sets the overdue flag only while the request still matches the overdue
	// predicate at `now`, and reports whether it did.
	FlagOverdue(ctx context.Context, id int64, now time.Time) (bool, error)
	// OverdueApprovals returns up to n requests matching the overdue predicate at `now`,
	// ordered by (deadline, id) and strictly after cursor `after`.
	OverdueApprovals(ctx context.Context, now time.Time, after Cursor, n int) ([]ApprovalRequest, error)

	CreateDelegation(ctx context.Context, d ApprovalDelegation) (ApprovalDelegation, error)
	Delegations(ctx context.Context, requestID int64) ([]ApprovalDelegation, error)

	AppendEvent(ctx context.Context, ev DeadlineEvent) (DeadlineEvent, error)
	// HasEvent reports whether an event of type typ was recorded for the entity at occurredAt.
	HasEvent(ctx context.Context, typ EventType, surveyID, requestID *int64, occurredAt time.Time) (bool, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]DeadlineEvent, error)
}

// Store is a Repository able to run units of work atomically.
type Store interface {
	Repository

	// RunInTx runs fn in a transaction. Any error returned by fn rolls back every write made through tx.
	RunInTx(ctx context.Context, fn func(tx Repository) error) error
}
