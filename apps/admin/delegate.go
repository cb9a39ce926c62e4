package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core"
	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

func delegationInput(requestID, delegateID, reason string, days int) (lifecycle.DelegationInput, error) {
	reqID, err := strconv.ParseInt(requestID, 10, 64)
	if err != nil {
		return lifecycle.DelegationInput{}, fmt.Errorf("request id must be a number (got '%s')", requestID)
	}
	delID, err := strconv.ParseInt(delegateID, 10, 64)
	if err != nil {
		return lifecycle.DelegationInput{}, fmt.Errorf("delegate id must be a number (got '%s')", delegateID)
	}
	return lifecycle.DelegationInput{
		RequestID:     reqID,
		DelegateID:    delID,
		Reason:        reason,
		ExpiresInDays: days,
	}, nil
}

func (cli *commandLine) delegate(ctx context.Context, actor lifecycle.Actor, in lifecycle.DelegationInput) error {
	d, err := cli.engine.Approvals.DelegateApproval(ctx, actor, in)
	if err != nil {
		var vErr *core.ValidationError
		if errors.As(err, &vErr) {
			for _, f := range vErr.Fields {
				_, _ = fmt.Fprintf(cli.out, "%s: %s\n", f.Field, f.Error)
			}
		}
		return err
	}
	_, _ = fmt.Fprintf(cli.out, "approval request %d delegated to user %d until %s\n",
		d.ApprovalRequestID, d.DelegateID, d.ExpiresAt.Format(time.RFC3339))
	return nil
}
