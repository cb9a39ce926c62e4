package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Controller applies deadline-driven mutations to the candidates found by the Scanner.
// Every candidate is handled in its own transaction; a failure is recorded and the run goes on.
type Controller struct {
	*base
	scanner *Scanner
	policy  ArchivePolicy
}

type FlagOptions struct {
	Limit     int // max records flagged; 0 = no limit
	ChunkSize int
}

type FlagResult struct {
	RunID     string
	Processed int
	Flagged   []int64
	Failed    []error
	Warnings  []*NonFatalError
}

// FlagOverdue marks every active approval request past its deadline as overdue.
// Running it again without new overdue requests changes nothing.
func (c *Controller) FlagOverdue(ctx context.Context, opts FlagOptions) (FlagResult, error) {
	now := c.now()
	res := FlagResult{RunID: newRunID()}

	it := c.scanner.overdueAt(now, opts.ChunkSize)
	for it.Next(ctx) {
		// a started chunk runs to completion
		chunkCtx := context.WithoutCancel(ctx)
		for _, req := range it.Chunk() {
			if opts.Limit > 0 && res.Processed >= opts.Limit {
				return res, nil
			}

			flagged, err := c.flagOne(chunkCtx, req.ID, now)
			if err != nil {
				c.logger.Error("flagging overdue approval request", err, map[string]interface{}{"approval_request_id": req.ID})
				res.Failed = append(res.Failed, &ItemError{Op: "flag overdue", ID: req.ID, Err: err})
				continue
			}
			if !flagged {
				continue // changed since scanned
			}
			res.Processed++
			res.Flagged = append(res.Flagged, req.ID)

			ev := DeadlineEvent{
				SurveyID:          surveyIDFromMetadata(req.Metadata),
				ApprovalRequestID: int64Ptr(req.ID),
				Type:              EventOverdueFlagged,
				OccurredAt:        now,
				Metadata: Metadata{
					"run_id":   res.RunID,
					"deadline": req.Deadline.UTC().Format(time.RFC3339),
					"priority": string(req.Priority),
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

	c.logger.Info("overdue approval requests flagged", map[string]interface{}{
		"run_id":    res.RunID,
		"processed": res.Processed,
		"failed":    len(res.Failed),
	})
	return res, nil
}

func (c *Controller) flagOne(ctx context.Context, id int64, now time.Time) (bool, error) {
	var flagged bool
	err := c.store.RunInTx(ctx, func(tx Repository) error {
		var err error
		flagged, err = tx.FlagOverdue(ctx, id, now)
		return errors.Wrapf(err, "flagging approval request %d", id)
	})
	return flagged, err
}

// surveyIDFromMetadata reads the survey_id stored on requests at creation time.
func surveyIDFromMetadata(md Metadata) *int64 {
	switch v := md["survey_id"].(type) {
	case int64:
		return int64Ptr(v)
	case int:
		return int64Ptr(int64(v))
	case float64: // decoded from JSON
		return int64Ptr(int64(v))
	}
	return nil
}
