package lifecycle

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core"
)

// DelegationInput hands approval authority on a request over to another user until it expires.
// Exactly one of ExpiresInDays or ExpiresAt is expected; ExpiresAt wins when both are set.
type DelegationInput struct {
	RequestID     int64      `json:"request_id" validate:"required"`
	DelegateID    int64      `json:"delegate_id" validate:"required"`
	Reason        string     `json:"reason" validate:"required,notblank,max=500"`
	ExpiresInDays int        `json:"expires_in_days"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

func (in DelegationInput) expiration(now time.Time) (time.Time, error) {
	if in.ExpiresAt != nil {
		if !in.ExpiresAt.After(now) {
			return time.Time{}, core.NewValidationError(errInvalidExpiration, core.FieldError{
				Field: "expires_at",
				Error: "expiration must be in the future",
			})
		}
		return in.ExpiresAt.UTC(), nil
	}
	if in.ExpiresInDays < 1 {
		return time.Time{}, core.NewValidationError(errInvalidExpiration, core.FieldError{
			Field: "expires_in_days",
			Error: "expires_in_days must be at least 1",
		})
	}
	return now.AddDate(0, 0, in.ExpiresInDays), nil
}

// DelegateApproval delegates the actor's approval authority on a request.
// Only the original holder may delegate: a delegate cannot pass authority further.
// Input is fully validated before anything is written.
func (m *ApprovalManager) DelegateApproval(ctx context.Context, actor Actor, in DelegationInput) (ApprovalDelegation, error) {
	if err := m.validate.Struct(in); err != nil {
		return ApprovalDelegation{}, err
	}
	now := m.now()
	expiresAt, err := in.expiration(now)
	if err != nil {
		return ApprovalDelegation{}, err
	}
	if in.DelegateID == actor.ID {
		return ApprovalDelegation{}, core.NewValidationError(errSelfDelegation, core.FieldError{
			Field: "delegate_id",
			Error: "cannot delegate to yourself",
		})
	}
	if actor.IsSystem() {
		return ApprovalDelegation{}, errors.Wrap(ErrUnauthorized, "the system cannot delegate approvals")
	}

	var (
		delegation ApprovalDelegation
		ev         DeadlineEvent
	)
	err = m.store.RunInTx(ctx, func(tx Repository) error {
		req, err := tx.LockApprovalRequest(ctx, in.RequestID)
		if err != nil {
			return errors.Wrapf(err, "locking approval request %d", in.RequestID)
		}
		if !req.Status.IsActive() {
			return errors.Wrapf(ErrInvalidState, "approval request %d is %s", req.ID, req.Status)
		}

		holder, err := m.authority.IsHolder(ctx, actor, req)
		if err != nil {
			return errors.Wrap(err, "checking approval authority")
		}
		if !holder {
			return errors.Wrapf(ErrUnauthorized, "user %d cannot delegate approval request %d", actor.ID, req.ID)
		}

		delegation, err = tx.CreateDelegation(ctx, ApprovalDelegation{
			ApprovalRequestID: req.ID,
			DelegatorID:       actor.ID,
			DelegateID:        in.DelegateID,
			Reason:            core.CleanString(in.Reason),
			ExpiresAt:         expiresAt,
			CreatedAt:         now,
		})
		if err != nil {
			return errors.Wrapf(err, "delegating approval request %d", req.ID)
		}

		ev, err = m.audit.Record(ctx, tx, DeadlineEvent{
			SurveyID:          surveyIDFromMetadata(req.Metadata),
			ApprovalRequestID: int64Ptr(req.ID),
			Type:              EventApprovalDelegated,
			OccurredAt:        now,
			ActorID:           actor.Ref(),
			Metadata: Metadata{
				"delegation_id": delegation.ID,
				"delegate_id":   delegation.DelegateID,
				"reason":        delegation.Reason,
				"expires_at":    expiresAt.Format(time.RFC3339),
			},
		})
		return err
	})
	if err != nil {
		return ApprovalDelegation{}, err
	}

	m.publish(ctx, ev)
	return delegation, nil
}
