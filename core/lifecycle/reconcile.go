package lifecycle

import "context"

type ReconcileOptions struct {
	ResponseID *int64 // restrict the run to a single response
	ApproverID *int64 // defaults to the configured approver
	DryRun     bool
	ChunkSize  int
}

type ReconcileResult struct {
	RunID      string
	DryRun     bool
	Candidates []int64
	Created    int
	Failed     []error
}

// ReconcileMissingRequests opens the approval request missing from every submitted response
// lacking an active one. Each request is created on behalf of the response's respondent and
// assigned to opts.ApproverID, or the configured default approver. Without either, only
// admins hold authority on them.
// Failures are collected per response and a later run picks them up again.
func (m *ApprovalManager) ReconcileMissingRequests(ctx context.Context, opts ReconcileOptions) (ReconcileResult, error) {
	res := ReconcileResult{RunID: newRunID(), DryRun: opts.DryRun}
	approverID := opts.ApproverID
	if approverID == nil && m.conf.DefaultApproverID > 0 {
		approverID = int64Ptr(m.conf.DefaultApproverID)
	}

	it := m.scanner.ScanMissingApprovalRequests(ResponseFilter{ResponseID: opts.ResponseID}, opts.ChunkSize)
	for it.Next(ctx) {
		chunkCtx := context.WithoutCancel(ctx)
		for _, resp := range it.Chunk() {
			res.Candidates = append(res.Candidates, resp.ID)
			if opts.DryRun {
				continue
			}

			_, err := m.CreateApprovalRequest(chunkCtx, Actor{ID: resp.RespondentID}, NewApprovalRequest{
				ResponseID:  resp.ID,
				Description: "Created by reconciliation of missing approval requests",
				ApproverID:  approverID,
				Metadata: Metadata{
					"run_id":     res.RunID,
					"reconciled": true,
				},
			})
			if err != nil {
				m.logger.Error("reconciling approval request", err, map[string]interface{}{"response_id": resp.ID})
				res.Failed = append(res.Failed, &ItemError{Op: "reconcile approval request", ID: resp.ID, Err: err})
				continue
			}
			res.Created++
		}
	}
	if err := it.Err(); err != nil {
		return res, err
	}

	m.logger.Info("approval request reconciliation finished", map[string]interface{}{
		"run_id":     res.RunID,
		"dry_run":    res.DryRun,
		"candidates": len(res.Candidates),
		"created":    res.Created,
		"failed":     len(res.Failed),
	})
	return res, nil
}
