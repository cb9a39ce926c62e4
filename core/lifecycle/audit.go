package lifecycle

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core"
)

// AuditLogger appends DeadlineEvents.
type AuditLogger struct {
	store  Repository
	logger core.Logger
}

func NewAuditLogger(store Repository, logger core.Logger) *AuditLogger {
	return &AuditLogger{store: store, logger: logger}
}

// Record appends ev through repo (usually a transaction) so that it commits or rolls back
// together with the mutation it describes.
func (a *AuditLogger) Record(ctx context.Context, repo Repository, ev DeadlineEvent) (DeadlineEvent, error) {
	saved, err := repo.AppendEvent(ctx, ev)
	if err != nil {
		return DeadlineEvent{}, errors.Wrapf(err, "recording %s event", ev.Type)
	}
	a.logger.Debug("lifecycle event recorded", eventFields(saved))
	return saved, nil
}

// RecordBestEffort appends ev after the mutation it describes has been committed.
// The event is skipped if the same occurrence (type, entity and OccurredAt) is already
// recorded, so a request flagged overdue again later gets a new event. Failures are
// logged and returned as a *NonFatalError.
func (a *AuditLogger) RecordBestEffort(ctx context.Context, ev DeadlineEvent) *NonFatalError {
	id := eventEntityID(ev)
	op := "audit " + string(ev.Type)

	exists, err := a.store.HasEvent(ctx, ev.Type, ev.SurveyID, ev.ApprovalRequestID, ev.OccurredAt)
	if err == nil && exists {
		return nil
	}
	if err == nil {
		_, err = a.store.AppendEvent(ctx, ev)
	}
	if err != nil {
		a.logger.Warn("could not record lifecycle event", err, eventFields(ev))
		return &NonFatalError{Op: op, ID: id, Err: err}
	}
	a.logger.Debug("lifecycle event recorded", eventFields(ev))
	return nil
}

func eventEntityID(ev DeadlineEvent) int64 {
	switch {
	case ev.ApprovalRequestID != nil:
		return *ev.ApprovalRequestID
	case ev.SurveyID != nil:
		return *ev.SurveyID
	}
	return 0
}

func eventFields(ev DeadlineEvent) map[string]interface{} {
	flds := map[string]interface{}{
		"event_type":  string(ev.Type),
		"occurred_at": ev.OccurredAt,
	}
	if ev.SurveyID != nil {
		flds["survey_id"] = *ev.SurveyID
	}
	if ev.ApprovalRequestID != nil {
		flds["approval_request_id"] = *ev.ApprovalRequestID
	}
	if ev.ActorID != nil {
		flds["actor_id"] = *ev.ActorID
	}
	return flds
}
