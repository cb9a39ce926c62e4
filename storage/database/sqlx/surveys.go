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
	surveyColumns = `s.id, s.title, s.category, s.status, s.end_date, s.auto_archive, s.archived_at, s.archive_reason,
		(SELECT count(*) FROM survey_responses r WHERE r.survey_id = s.id AND r.status IN ('submitted', 'approved')) AS collected_responses`
	responseColumns = `r.id, r.survey_id, r.status, r.submitted_at, r.institution_id, r.respondent_id`
)

func (r *repo) GetSurvey(ctx context.Context, id int64) (lifecycle.Survey, error) {
	var row surveyRow
	q := psql.Select(surveyColumns).From("surveys s").Where(sq.Eq{"s.id": id}).Suffix(r.forUpdate("s"))
	if err := r.get(ctx, &row, q); err != nil {
		return lifecycle.Survey{}, trapNoRowsErr(errors.Wrap(err, "fetching survey"), "survey", id)
	}
	return row.unboil(), nil
}

func (r *repo) LockSurvey(ctx context.Context, id int64) (lifecycle.Survey, error) {
	return r.GetSurvey(ctx, id)
}

func (r *repo) UpdateSurvey(ctx context.Context, s lifecycle.Survey) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE surveys
		SET title = $2, category = $3, status = $4, end_date = $5, auto_archive = $6, archived_at = $7, archive_reason = $8
		WHERE id = $1`,
		s.ID, s.Title, nullString(s.Category), string(s.Status), null.TimeFromPtr(s.EndDate), s.AutoArchive,
		null.TimeFromPtr(s.ArchivedAt), nullString(s.ArchiveReason),
	)
	return errors.Wrap(mustAffectOne(res, err, "survey", s.ID), "updating survey")
}

func (r *repo) ArchiveEligibleSurveys(ctx context.Context, now time.Time, after lifecycle.Cursor, n int) ([]lifecycle.Survey, error) {
	q := psql.Select(surveyColumns).From("surveys s").
		Where("s.auto_archive AND s.archived_at IS NULL").
		Where(sq.Lt{"s.end_date": now}).
		OrderBy("s.end_date ASC", "s.id ASC").
		Limit(uint64(n))
	if !after.IsZero() {
		q = q.Where(sq.Expr("(s.end_date, s.id) > (?, ?)", after.At, after.ID))
	}

	rows := make([]surveyRow, 0)
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying archive-eligible surveys")
	}
	surveys := make([]lifecycle.Survey, 0, len(rows))
	for _, row := range rows {
		surveys = append(surveys, row.unboil())
	}
	return surveys, nil
}

func (r *repo) GetResponse(ctx context.Context, id int64) (lifecycle.SurveyResponse, error) {
	var row responseRow
	q := psql.Select(responseColumns).From("survey_responses r").Where(sq.Eq{"r.id": id}).Suffix(r.forUpdate("r"))
	if err := r.get(ctx, &row, q); err != nil {
		return lifecycle.SurveyResponse{}, trapNoRowsErr(errors.Wrap(err, "fetching survey response"), "survey response", id)
	}
	return row.unboil(), nil
}

func (r *repo) LockResponse(ctx context.Context, id int64) (lifecycle.SurveyResponse, error) {
	return r.GetResponse(ctx, id)
}

func (r *repo) UpdateResponse(ctx context.Context, resp lifecycle.SurveyResponse) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE survey_responses SET status = $2, submitted_at = $3 WHERE id = $1`,
		resp.ID, string(resp.Status), null.TimeFromPtr(resp.SubmittedAt),
	)
	return errors.Wrap(mustAffectOne(res, err, "survey response", resp.ID), "updating survey response")
}

func (r *repo) SubmittedWithoutActiveRequest(ctx context.Context, filter lifecycle.ResponseFilter, afterID int64, n int) ([]lifecycle.SurveyResponse, error) {
	q := psql.Select(responseColumns).From("survey_responses r").
		Where(sq.Eq{"r.status": string(lifecycle.ResponseSubmitted)}).
		Where(sq.Gt{"r.id": afterID}).
		Where(`NOT EXISTS (
			SELECT 1 FROM approval_requests a
			WHERE a.subject_response_id = r.id AND a.current_status IN ('pending', 'in_progress'))`).
		OrderBy("r.id ASC").
		Limit(uint64(n))
	if filter.ResponseID != nil {
		q = q.Where(sq.Eq{"r.id": *filter.ResponseID})
	}

	rows := make([]responseRow, 0)
	if err := r.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying responses missing approval requests")
	}
	resps := make([]lifecycle.SurveyResponse, 0, len(rows))
	for _, row := range rows {
		resps = append(resps, row.unboil())
	}
	return resps, nil
}

// Seeding, used by fixtures and the import tooling stand-ins.

func (s *Store) CreateSurvey(ctx context.Context, sv lifecycle.Survey) (lifecycle.Survey, error) {
	status := sv.Status
	if status == "" {
		status = lifecycle.SurveyDraft
	}
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO surveys (title, category, status, end_date, auto_archive, archived_at, archive_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		sv.Title, nullString(sv.Category), string(status), null.TimeFromPtr(sv.EndDate), sv.AutoArchive,
		null.TimeFromPtr(sv.ArchivedAt), nullString(sv.ArchiveReason),
	).Scan(&id)
	if err != nil {
		return lifecycle.Survey{}, errors.Wrap(err, "inserting survey")
	}
	return s.GetSurvey(ctx, id)
}

func (s *Store) CreateResponse(ctx context.Context, resp lifecycle.SurveyResponse) (lifecycle.SurveyResponse, error) {
	status := resp.Status
	if status == "" {
		status = lifecycle.ResponseDraft
	}
	var id int64
	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO survey_responses (survey_id, status, submitted_at, institution_id, respondent_id)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		resp.SurveyID, string(status), null.TimeFromPtr(resp.SubmittedAt), resp.InstitutionID, resp.RespondentID,
	).Scan(&id)
	if err != nil {
		return lifecycle.SurveyResponse{}, errors.Wrap(err, "inserting survey response")
	}
	return s.GetResponse(ctx, id)
}

func (s *Store) ListSurveys(ctx context.Context) ([]lifecycle.Survey, error) {
	rows := make([]surveyRow, 0)
	if err := s.selectAll(ctx, &rows, psql.Select(surveyColumns).From("surveys s").OrderBy("s.id ASC")); err != nil {
		return nil, errors.Wrap(err, "querying surveys")
	}
	surveys := make([]lifecycle.Survey, 0, len(rows))
	for _, row := range rows {
		surveys = append(surveys, row.unboil())
	}
	return surveys, nil
}
