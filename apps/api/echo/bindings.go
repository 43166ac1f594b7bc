package echoapi

import (
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/rubric"
	"github.com/trezcool/convoca/core/submission"
)

// bindBody decodes the request body into dst. Malformed bodies are validation errors.
func bindBody(ctx echo.Context, dst interface{}, what string) error {
	if err := ctx.Bind(dst); err != nil {
		var herr *echo.HTTPError
		if errors.As(err, &herr) {
			return core.NewValidationError(errors.Errorf("invalid %s: %v", what, herr.Message))
		}
		return errors.Wrap(err, "binding to "+what)
	}
	return nil
}

func bindTemplateFilter(ctx echo.Context) (rubric.QueryFilter, error) {
	filter := rubric.QueryFilter{
		Search: ctx.QueryParam("search"),
		CallID: ctx.QueryParam("call_id"),
		Kind:   submission.Kind(ctx.QueryParam("kind")),
	}
	if s := ctx.QueryParam("is_active"); s != "" {
		active, err := strconv.ParseBool(s)
		if err != nil {
			return rubric.QueryFilter{}, core.NewValidationError(nil, core.FieldError{Field: "is_active", Error: "must be a boolean"})
		}
		filter.IsActive = &active
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		return rubric.QueryFilter{}, core.NewValidationError(submission.ErrInvalidKind, core.FieldError{Field: "kind", Error: submission.ErrInvalidKind.Error()})
	}
	filter.Clean()
	return filter, nil
}

func bindEvaluationFilter(ctx echo.Context) evaluation.QueryFilter {
	return evaluation.QueryFilter{
		TargetKind:  submission.Kind(core.CleanString(ctx.QueryParam("target_kind"))),
		TargetID:    core.CleanString(ctx.QueryParam("target_id")),
		EvaluatorID: core.CleanString(ctx.QueryParam("evaluator_id")),
		TemplateID:  core.CleanString(ctx.QueryParam("template_id")),
		Status:      evaluation.Status(core.CleanString(ctx.QueryParam("status"))),
	}
}
