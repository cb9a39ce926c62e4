package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

const (
	objectContextKey      = "object"
	delegationsContextKey = "delegations"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// approvalAccessMiddleware loads the approval request named by the `id` path param.
// Admins see every request; other users only the ones they submitted, hold or were delegated.
func approvalAccessMiddleware(store lifecycle.Repository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			id, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
			if err != nil {
				return errHttpNotFound
			}

			req, err := store.GetApprovalRequest(ctx.Request().Context(), id)
			if err != nil {
				if errors.Is(err, lifecycle.ErrNotFound) {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding approval request by ID")
			}
			delegations, err := store.Delegations(ctx.Request().Context(), id)
			if err != nil {
				return errors.Wrap(err, "listing delegations")
			}

			if claims.IsAdmin || isParty(claims, req, delegations) {
				ctx.Set(objectContextKey, req)
				ctx.Set(delegationsContextKey, delegations)
				return next(ctx)
			}
			return errHttpNotFound
		}
	}
}

func isParty(claims Claims, req lifecycle.ApprovalRequest, delegations []lifecycle.ApprovalDelegation) bool {
	userID, err := claims.UserID()
	if err != nil {
		return false
	}
	if req.SubmitterID == userID || (req.ApproverID != nil && *req.ApproverID == userID) {
		return true
	}
	for _, d := range delegations {
		if d.DelegateID == userID {
			return true
		}
	}
	return false
}
