package lifecycle

import "time"

type (
	SurveyStatus   string
	ResponseStatus string
	ApprovalStatus string
	Priority       string
	EventType      string
)

// Survey statuses
const (
	SurveyDraft     SurveyStatus = "draft"
	SurveyPublished SurveyStatus = "published"
	SurveyArchived  SurveyStatus = "archived"
)

// SurveyResponse statuses
const (
	ResponseDraft     ResponseStatus = "draft"
	ResponseSubmitted ResponseStatus = "submitted"
	ResponseApproved  ResponseStatus = "approved"
	ResponseRejected  ResponseStatus = "rejected"
)

// ApprovalRequest statuses
const (
	ApprovalPending    ApprovalStatus = "pending"
	ApprovalInProgress ApprovalStatus = "in_progress"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalRejected   ApprovalStatus = "rejected"
)

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// DeadlineEvent types
const (
	EventAutoArchived      EventType = "auto_archived"
	EventOverdueFlagged    EventType = "overdue_flagged"
	EventApprovalCreated   EventType = "approval_created"
	EventApprovalDelegated EventType = "approval_delegated"
	EventApprovalDecided   EventType = "approval_decided"
)

var (
	SurveyStatuses   = []SurveyStatus{SurveyDraft, SurveyPublished, SurveyArchived}
	ResponseStatuses = []ResponseStatus{ResponseDraft, ResponseSubmitted, ResponseApproved, ResponseRejected}
	ApprovalStatuses = []ApprovalStatus{ApprovalPending, ApprovalInProgress, ApprovalApproved, ApprovalRejected}
	EventTypes       = []EventType{EventAutoArchived, EventOverdueFlagged, EventApprovalCreated, EventApprovalDelegated, EventApprovalDecided}

	// ActiveApprovalStatuses are the statuses of a request still waiting for a decision.
	ActiveApprovalStatuses = []ApprovalStatus{ApprovalPending, ApprovalInProgress}
)

// IsActive reports whether a request in this status still awaits a decision.
func (s ApprovalStatus) IsActive() bool {
	return s == ApprovalPending || s == ApprovalInProgress
}

func (t EventType) Valid() bool {
	for _, et := range EventTypes {
		if et == t {
			return true
		}
	}
	return false
}

// Metadata holds free-form, JSON serializable details.
type Metadata map[string]interface{}

func (md Metadata) clone() Metadata {
	if md == nil {
		return nil
	}
	cp := make(Metadata, len(md))
	for k, v := range md {
		cp[k] = v
	}
	return cp
}

// merge returns a copy of md overlaid with other.
func (md Metadata) merge(other Metadata) Metadata {
	cp := md.clone()
	if cp == nil {
		cp = make(Metadata, len(other))
	}
	for k, v := range other {
		cp[k] = v
	}
	return cp
}

// Actor is the user an operation is performed on behalf of.
// The zero Actor is the system (scheduled jobs).
type Actor struct {
	ID int64 `json:"id"`
}

var SystemActor = Actor{}

func (a Actor) IsSystem() bool { return a.ID == 0 }

// Ref returns the actor ID for audit rows (nil for the system).
func (a Actor) Ref() *int64 {
	if a.IsSystem() {
		return nil
	}
	id := a.ID
	return &id
}

type Survey struct {
	ID            int64        `json:"id"`
	Title         string       `json:"title"`
	Category      string       `json:"category,omitempty"`
	Status        SurveyStatus `json:"status"`
	EndDate       *time.Time   `json:"end_date"`
	AutoArchive   bool         `json:"auto_archive"`
	ArchivedAt    *time.Time   `json:"archived_at"`
	ArchiveReason string       `json:"archive_reason,omitempty"`

	// CollectedResponses counts submitted & approved responses; computed by the store on read.
	CollectedResponses int `json:"collected_responses"`
}

// IsArchiveEligible reports whether s matches the archive scan predicate at `now`.
func (s Survey) IsArchiveEligible(now time.Time) bool {
	return s.AutoArchive && s.ArchivedAt == nil && s.EndDate != nil && s.EndDate.Before(now)
}

// ShouldAutoArchive is the survey's own sufficiency rule: eligible and at least one collected response.
func (s Survey) ShouldAutoArchive(now time.Time) bool {
	return s.IsArchiveEligible(now) && s.CollectedResponses > 0
}

type SurveyResponse struct {
	ID            int64          `json:"id"`
	SurveyID      int64          `json:"survey_id"`
	Status        ResponseStatus `json:"status"`
	SubmittedAt   *time.Time     `json:"submitted_at"`
	InstitutionID int64          `json:"institution_id"`
	RespondentID  int64          `json:"respondent_id"`
}

type ApprovalRequest struct {
	ID               int64          `json:"id"`
	ResponseID       int64          `json:"subject_response_id"`
	Status           ApprovalStatus `json:"current_status"`
	Deadline         *time.Time     `json:"deadline"`
	IsOverdue        bool           `json:"is_overdue"`
	OverdueFlaggedAt *time.Time     `json:"overdue_flagged_at"`
	Priority         Priority       `json:"priority"`
	SubmitterID      int64          `json:"submitter_id"`
	ApproverID       *int64         `json:"approver_id"`
	Description      string         `json:"description"`
	Metadata         Metadata       `json:"metadata"`
	CreatedAt        time.Time      `json:"created_at"` // UTC
	UpdatedAt        time.Time      `json:"updated_at"` // UTC
}

// IsOverdueAt reports whether r matches the overdue scan predicate at `now`.
func (r ApprovalRequest) IsOverdueAt(now time.Time) bool {
	return r.Status.IsActive() && !r.IsOverdue && r.Deadline != nil && r.Deadline.Before(now)
}

type ApprovalDelegation struct {
	ID                int64     `json:"id"`
	ApprovalRequestID int64     `json:"approval_request_id"`
	DelegatorID       int64     `json:"delegator_id"`
	DelegateID        int64     `json:"delegate_id"`
	Reason            string    `json:"reason"`
	ExpiresAt         time.Time `json:"expires_at"` // UTC
	CreatedAt         time.Time `json:"created_at"` // UTC
}

// ActiveAt reports whether the delegation still confers authority at `now`.
func (d ApprovalDelegation) ActiveAt(now time.Time) bool {
	return now.Before(d.ExpiresAt)
}

// DeadlineEvent is an immutable audit row.
type DeadlineEvent struct {
	ID                int64     `json:"id"`
	SurveyID          *int64    `json:"survey_id"`
	ApprovalRequestID *int64    `json:"approval_request_id"`
	Type              EventType `json:"event_type"`
	OccurredAt        time.Time `json:"occurred_at"` // UTC
	ActorID           *int64    `json:"actor_id"`
	Metadata          Metadata  `json:"metadata"`
}

func int64Ptr(i int64) *int64 { return &i }
