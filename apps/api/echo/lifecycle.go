package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-lifecycle/core"
	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
	"github.com/trezcool/masomo-lifecycle/services/metrics"
)

var errObjNotFoundInCtx = errors.New("approval request not found in echo.Context")

type lifecycleApi struct {
	scanner *lifecycle.Scanner
	store   lifecycle.Repository
	metrics *metrics.Recorder
}

func registerLifecycleAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	scanner *lifecycle.Scanner,
	store lifecycle.Repository,
	recorder *metrics.Recorder,
) {
	api := lifecycleApi{
		scanner: scanner,
		store:   store,
		metrics: recorder,
	}

	ag := g.Group("/approvals", jwt)
	ag.GET("/overdue", api.overdueApprovals, adminMiddleware())
	ag.GET("/:id", api.retrieveApproval, approvalAccessMiddleware(store))

	g.GET("/surveys/archive-eligible", api.archiveEligibleSurveys, jwt, adminMiddleware())
	g.GET("/events", api.queryEvents, jwt, adminMiddleware())
}

// Handlers

func (api *lifecycleApi) overdueApprovals(ctx echo.Context) error {
	limit, fErr := bindLimit(ctx)
	if fErr != nil {
		return core.NewValidationError(nil, *fErr)
	}
	reqs, err := api.scanner.PreviewOverdueApprovals(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "previewing overdue approvals")
	}
	api.observe("overdue", len(reqs))
	return ctx.JSON(http.StatusOK, reqs)
}

func (api *lifecycleApi) archiveEligibleSurveys(ctx echo.Context) error {
	limit, fErr := bindLimit(ctx)
	if fErr != nil {
		return core.NewValidationError(nil, *fErr)
	}
	surveys, err := api.scanner.PreviewArchiveEligibleSurveys(ctx.Request().Context(), limit)
	if err != nil {
		return errors.Wrap(err, "previewing archive-eligible surveys")
	}
	api.observe("archive_eligible", len(surveys))
	return ctx.JSON(http.StatusOK, surveys)
}

func (api *lifecycleApi) queryEvents(ctx echo.Context) error {
	query := new(EventQuery)
	if err := query.Bind(ctx); err != nil {
		return err
	}
	evs, err := api.store.ListEvents(ctx.Request().Context(), query.Filter)
	if err != nil {
		return errors.Wrap(err, "listing deadline events")
	}
	return ctx.JSON(http.StatusOK, evs)
}

func (api *lifecycleApi) retrieveApproval(ctx echo.Context) error {
	req, ok := ctx.Get(objectContextKey).(lifecycle.ApprovalRequest)
	if !ok {
		return errors.Wrap(errObjNotFoundInCtx, "retrieving object from context")
	}
	delegations, _ := ctx.Get(delegationsContextKey).([]lifecycle.ApprovalDelegation)
	if delegations == nil {
		delegations = []lifecycle.ApprovalDelegation{}
	}
	return ctx.JSON(http.StatusOK, ApprovalDetail{ApprovalRequest: req, Delegations: delegations})
}

func (api *lifecycleApi) observe(kind string, n int) {
	if api.metrics != nil {
		api.metrics.ObservePreview(kind, n)
	}
}

type ApprovalDetail struct {
	ApprovalRequest lifecycle.ApprovalRequest      `json:"approval_request"`
	Delegations     []lifecycle.ApprovalDelegation `json:"delegations"`
}
