package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

type ArchiveOptions struct {
	DryRun    bool
	ChunkSize int
	Limit     int    // max surveys archived; 0 = no limit
	Reason    string // defaults to the configured archive reason
}

// ArchiveDecision explains what happened (or would happen) to one candidate.
type ArchiveDecision struct {
	SurveyID  int64  `json:"survey_id"`
	Title     string `json:"title"`
	Responses int    `json:"collected_responses"`
	Archived  bool   `json:"archived"`
	Note      string `json:"note"`
}

type ArchiveResult struct {
	RunID     string
	DryRun    bool
	Archived  []int64
	Skipped   []int64
	Decisions []ArchiveDecision
	Failed    []error
	Warnings  []*NonFatalError
}

const (
	noteArchived       = "archived"
	noteWouldArchive   = "would archive"
	noteInsufficient   = "not enough responses"
	noteChanged        = "changed since scanned"
	noteTransitionFail = "cannot be archived from its current status"
)

// AutoArchiveEligibleSurveys archives every auto-archive survey whose end date has passed
// and which the ArchivePolicy deems complete. With DryRun set, nothing is written and the
// result lists what would have been archived.
func (c *Controller) AutoArchiveEligibleSurveys(ctx context.Context, opts ArchiveOptions) (ArchiveResult, error) {
	now := c.now()
	reason := opts.Reason
	if reason == "" {
		reason = c.conf.ArchiveReason
	}
	res := ArchiveResult{RunID: newRunID(), DryRun: opts.DryRun}

	it := c.scanner.archiveEligibleAt(now, opts.ChunkSize)
	for it.Next(ctx) {
		chunkCtx := context.WithoutCancel(ctx)
		for _, sv := range it.Chunk() {
			if opts.Limit > 0 && len(res.Archived) >= opts.Limit {
				return res, nil
			}

			decision := ArchiveDecision{SurveyID: sv.ID, Title: sv.Title, Responses: sv.CollectedResponses}
			if !c.policy.ShouldAutoArchive(sv, now) {
				decision.Note = noteInsufficient
				res.skip(decision)
				continue
			}
			if opts.DryRun {
				if _, err := TransitionSurvey(sv.Status, SurveyArchive); err != nil {
					decision.Note = noteTransitionFail
					res.Failed = append(res.Failed, &ItemError{Op: "archive survey", ID: sv.ID, Err: err})
					res.Decisions = append(res.Decisions, decision)
					continue
				}
				decision.Archived, decision.Note = true, noteWouldArchive
				res.archive(decision)
				continue
			}

			archived, err := c.archiveOne(chunkCtx, sv.ID, now, reason)
			if err != nil {
				c.logger.Error("archiving survey", err, map[string]interface{}{"survey_id": sv.ID})
				decision.Note = err.Error()
				res.Failed = append(res.Failed, &ItemError{Op: "archive survey", ID: sv.ID, Err: err})
				res.Decisions = append(res.Decisions, decision)
				continue
			}
			if !archived {
				decision.Note = noteChanged
				res.skip(decision)
				continue
			}
			decision.Archived, decision.Note = true, noteArchived
			res.archive(decision)

			ev := DeadlineEvent{
				SurveyID:   int64Ptr(sv.ID),
				Type:       EventAutoArchived,
				OccurredAt: now,
				Metadata: Metadata{
					"run_id":              res.RunID,
					"reason":              reason,
					"collected_responses": sv.CollectedResponses,
				},
			}
			if warn := c.audit.RecordBestEffort(chunkCtx, ev); warn != nil {
				res.Warnings = append(res.Warnings, warn)
			}
			c.publish(chunkCtx, ev)
		}
	}
	if err := it.Err(); err != nil {
		return res, err
	}

	c.logger.Info("auto-archive run finished", map[string]interface{}{
		"run_id":   res.RunID,
		"dry_run":  res.DryRun,
		"archived": len(res.Archived),
		"skipped":  len(res.Skipped),
		"failed":   len(res.Failed),
	})
	return res, nil
}

// archiveOne re-reads the survey under lock and archives it if it is still eligible.
func (c *Controller) archiveOne(ctx context.Context, id int64, now time.Time, reason string) (bool, error) {
	var archived bool
	err := c.store.RunInTx(ctx, func(tx Repository) error {
		sv, err := tx.LockSurvey(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "locking survey %d", id)
		}
		if !sv.IsArchiveEligible(now) || !c.policy.ShouldAutoArchive(sv, now) {
			return nil
		}

		status, err := TransitionSurvey(sv.Status, SurveyArchive)
		if err != nil {
			return err
		}
		archivedAt := now
		sv.Status = status
		sv.ArchivedAt = &archivedAt
		sv.ArchiveReason = reason
		if err := tx.UpdateSurvey(ctx, sv); err != nil {
			return errors.Wrapf(err, "archiving survey %d", id)
		}
		archived = true
		return nil
	})
	return archived, err
}

func (r *ArchiveResult) archive(d ArchiveDecision) {
	r.Archived = append(r.Archived, d.SurveyID)
	r.Decisions = append(r.Decisions, d)
}

func (r *ArchiveResult) skip(d ArchiveDecision) {
	r.Skipped = append(r.Skipped, d.SurveyID)
	r.Decisions = append(r.Decisions, d)
}
