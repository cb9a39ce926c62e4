package echoapi

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/masomo-lifecycle/core"
	"github.com/trezcool/masomo-lifecycle/core/lifecycle"
)

var (
	limitParam   = "limit"
	defaultLimit = 50
	maxLimit     = 500
)

// bindLimit reads the `limit` query param, defaulting to defaultLimit.
func bindLimit(ctx echo.Context) (int, *core.FieldError) {
	val := ctx.QueryParam(limitParam)
	if val == "" {
		return defaultLimit, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 || n > maxLimit {
		return 0, &core.FieldError{
			Field: limitParam,
			Error: fmt.Sprintf("limit must be a number between 1 and %d", maxLimit),
		}
	}
	return n, nil
}

func bindID(ctx echo.Context, param string) (*int64, *core.FieldError) {
	val := ctx.QueryParam(param)
	if val == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, &core.FieldError{Field: param, Error: param + " must be a number"}
	}
	return &id, nil
}

type EventQuery struct {
	Filter lifecycle.EventFilter
}

// Bind reads the event filter from the query params:
// survey_id, approval_request_id, type (repeatable) and limit.
func (q *EventQuery) Bind(ctx echo.Context) error {
	var flds []core.FieldError

	if limit, fErr := bindLimit(ctx); fErr != nil {
		flds = append(flds, *fErr)
	} else {
		q.Filter.Limit = limit
	}

	var fErr *core.FieldError
	if q.Filter.SurveyID, fErr = bindID(ctx, "survey_id"); fErr != nil {
		flds = append(flds, *fErr)
	}
	if q.Filter.ApprovalRequestID, fErr = bindID(ctx, "approval_request_id"); fErr != nil {
		flds = append(flds, *fErr)
	}

	for _, val := range ctx.QueryParams()["type"] {
		typ := lifecycle.EventType(core.CleanString(val, true /* lower */))
		if !typ.Valid() {
			flds = append(flds, core.FieldError{Field: "type", Error: fmt.Sprintf("unknown event type %q", val)})
			continue
		}
		q.Filter.Types = append(q.Filter.Types, typ)
	}

	if len(flds) > 0 {
		return core.NewValidationError(nil, flds...)
	}
	return nil
}
