package sqlxrepos

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

// Row types mirror the tables; boil/unboil convert between them and lifecycle models.

type (
	surveyRow struct {
		ID                 int64       `db:"id"`
		Title              string      `db:"title"`
		Category           null.String `db:"category"`
		Status             string      `db:"status"`
		EndDate            null.Time   `db:"end_date"`
		AutoArchive        bool        `db:"auto_archive"`
		ArchivedAt         null.Time   `db:"archived_at"`
		ArchiveReason      null.String `db:"archive_reason"`
		CollectedResponses int         `db:"collected_responses"`
	}

	responseRow struct {
		ID            int64     `db:"id"`
		SurveyID      int64     `db:"survey_id"`
		Status        string    `db:"status"`
		SubmittedAt   null.Time `db:"submitted_at"`
		InstitutionID int64     `db:"institution_id"`
		RespondentID  int64     `db:"respondent_id"`
	}

	approvalRequestRow struct {
		ID               int64       `db:"id"`
		ResponseID       int64       `db:"subject_response_id"`
		Status           string      `db:"current_status"`
		Deadline         null.Time   `db:"deadline"`
		IsOverdue        null.Bool   `db:"is_overdue"`
		OverdueFlaggedAt null.Time   `db:"overdue_flagged_at"`
		Priority         string      `db:"priority"`
		SubmitterID      int64       `db:"submitter_id"`
		ApproverID       null.Int64  `db:"approver_id"`
		Description      null.String `db:"description"`
		Metadata         null.JSON   `db:"metadata"`
		CreatedAt        time.Time   `db:"created_at"`
		UpdatedAt        time.Time   `db:"updated_at"`
	}

	delegationRow struct {
		ID                int64     `db:"id"`
		ApprovalRequestID int64     `db:"approval_request_id"`
		DelegatorID       int64     `db:"delegator_id"`
		DelegateID        int64     `db:"delegate_id"`
		Reason            string    `db:"reason"`
		ExpiresAt         time.Time `db:"expires_at"`
		CreatedAt         time.Time `db:"created_at"`
	}

	eventRow struct {
		ID                int64      `db:"id"`
		SurveyID          null.Int64 `db:"survey_id"`
		ApprovalRequestID null.Int64 `db:"approval_request_id"`
		Type              string     `db:"event_type"`
		OccurredAt        time.Time  `db:"occurred_at"`
		ActorID           null.Int64 `db:"actor_id"`
		Metadata          null.JSON  `db:"metadata"`
	}
)

func (row surveyRow) unboil() lifecycle.Survey {
	return lifecycle.Survey{
		ID:                 row.ID,
		Title:              row.Title,
		Category:           row.Category.String,
		Status:             lifecycle.SurveyStatus(row.Status),
		EndDate:            utcPtr(row.EndDate),
		AutoArchive:        row.AutoArchive,
		ArchivedAt:         utcPtr(row.ArchivedAt),
		ArchiveReason:      row.ArchiveReason.String,
		CollectedResponses: row.CollectedResponses,
	}
}

func (row responseRow) unboil() lifecycle.SurveyResponse {
	return lifecycle.SurveyResponse{
		ID:            row.ID,
		SurveyID:      row.SurveyID,
		Status:        lifecycle.ResponseStatus(row.Status),
		SubmittedAt:   utcPtr(row.SubmittedAt),
		InstitutionID: row.InstitutionID,
		RespondentID:  row.RespondentID,
	}
}

func (row approvalRequestRow) unboil() (lifecycle.ApprovalRequest, error) {
	md, err := unboilMetadata(row.Metadata)
	if err != nil {
		return lifecycle.ApprovalRequest{}, errors.Wrapf(err, "approval request %d", row.ID)
	}
	return lifecycle.ApprovalRequest{
		ID:               row.ID,
		ResponseID:       row.ResponseID,
		Status:           lifecycle.ApprovalStatus(row.Status),
		Deadline:         utcPtr(row.Deadline),
		IsOverdue:        row.IsOverdue.Valid && row.IsOverdue.Bool,
		OverdueFlaggedAt: utcPtr(row.OverdueFlaggedAt),
		Priority:         lifecycle.Priority(row.Priority),
		SubmitterID:      row.SubmitterID,
		ApproverID:       row.ApproverID.Ptr(),
		Description:      row.Description.String,
		Metadata:         md,
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}, nil
}

func (row delegationRow) unboil() lifecycle.ApprovalDelegation {
	return lifecycle.ApprovalDelegation{
		ID:                row.ID,
		ApprovalRequestID: row.ApprovalRequestID,
		DelegatorID:       row.DelegatorID,
		DelegateID:        row.DelegateID,
		Reason:            row.Reason,
		ExpiresAt:         row.ExpiresAt.UTC(),
		CreatedAt:         row.CreatedAt.UTC(),
	}
}

func (row eventRow) unboil() (lifecycle.DeadlineEvent, error) {
	md, err := unboilMetadata(row.Metadata)
	if err != nil {
		return lifecycle.DeadlineEvent{}, errors.Wrapf(err, "deadline event %d", row.ID)
	}
	return lifecycle.DeadlineEvent{
		ID:                row.ID,
		SurveyID:          row.SurveyID.Ptr(),
		ApprovalRequestID: row.ApprovalRequestID.Ptr(),
		Type:              lifecycle.EventType(row.Type),
		OccurredAt:        row.OccurredAt.UTC(),
		ActorID:           row.ActorID.Ptr(),
		Metadata:          md,
	}, nil
}

// boilMetadata encodes md as text; lib/pq would send a []byte as bytea, which jsonb rejects.
func boilMetadata(md lifecycle.Metadata) (null.String, error) {
	if md == nil {
		return null.String{}, nil
	}
	b, err := json.Marshal(md)
	if err != nil {
		return null.String{}, errors.Wrap(err, "encoding metadata")
	}
	return null.StringFrom(string(b)), nil
}

func unboilMetadata(j null.JSON) (lifecycle.Metadata, error) {
	if !j.Valid || len(j.JSON) == 0 {
		return nil, nil
	}
	var md lifecycle.Metadata
	if err := j.Unmarshal(&md); err != nil {
		return nil, errors.Wrap(err, "decoding metadata")
	}
	return md, nil
}

func utcPtr(t null.Time) *time.Time {
	if !t.Valid {
		return nil
	}
	u := t.Time.UTC()
	return &u
}

func nullString(s string) null.String {
	return null.NewString(s, s != "")
}
