package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

const eventColumns = `id, survey_id, approval_request_id, event_type, occurred_at, actor_id, metadata`

func (r *repo) AppendEvent(ctx context.Context, ev lifecycle.DeadlineEvent) (lifecycle.DeadlineEvent, error) {
	md, err := boilMetadata(ev.Metadata)
	if err != nil {
		return lifecycle.DeadlineEvent{}, err
	}

	var row eventRow
	err = sqlxGet(ctx, r, &row, `
		INSERT INTO deadline_events (survey_id, approval_request_id, event_type, occurred_at, actor_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb)
		RETURNING `+eventColumns,
		null.Int64FromPtr(ev.SurveyID), null.Int64FromPtr(ev.ApprovalRequestID), string(ev.Type), ev.OccurredAt.UTC(),
		null.Int64FromPtr(ev.ActorID), md,
	)
	if err != nil {
		return lifecycle.DeadlineEvent{}, errors.Wrap(err, "inserting deadline event")
	}
	return row.unboil()
}

func (r *repo) HasEvent(ctx context.Context, typ lifecycle.EventType, surveyID, requestID *int64, occurredAt time.Time) (bool, error) {
	var exists bool
	err := sqlxGet(ctx, r, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM deadline_events
			WHERE event_type = $1
				AND survey_id IS NOT DISTINCT FROM $2::bigint
				AND approval_request_id IS NOT DISTINCT FROM $3::bigint
				AND occurred_at = $4::timestamptz
		)`,
		string(typ), null.Int64FromPtr(surveyID), null.Int64FromPtr(requestID), occurredAt.UTC(),
	)
	if err != nil {
		return false, errors.Wrap(err, "checking deadline event")
	}
	return exists, nil
}

func (r *repo) ListEvents(ctx context.Context, filter lifecycle.EventFilter) ([]lifecycle.DeadlineEvent, error) {
	q := psql.Select(eventColumns).From("deadline_events").OrderBy("occurred_at ASC", "id ASC")
	if filter.SurveyID != nil {
		q = q.Where(sq.Eq{"survey_id": *filter.SurveyID})
	}
	if filter.ApprovalRequestID != nil {
		q = q.Where(sq.Eq{"approval_request_id": *filter.ApprovalRequestID})
	}
	if len(filter.Types) > 0 {
		types := make([]string, 0, len(filter.Types))
		for _, t := range filter.Types {
			types = append(types, string(t))
		}
		q = q.Where(sq.Eq{"event_type": types})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit))
	}

	rows := make([]eventRow, 0)
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying deadline events")
	}
	evs := make([]lifecycle.DeadlineEvent, 0, len(rows))
	for _, row := range rows {
		ev, err := row.unboil()
		if err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, nil
}

func sqlxGet(ctx context.Context, r *repo, dest interface{}, query string, args ...interface{}) error {
	return sqlx.GetContext(ctx, r.q, dest, query, args...)
}
