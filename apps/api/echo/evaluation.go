package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/evaluation"
)

type evaluationApi struct {
	svc *evaluation.Service
}

type submitResponse struct {
	Evaluation evaluation.Evaluation `json:"evaluation"`
	Approved   bool                  `json:"target_approved"`
}

func registerEvaluationAPI(g *echo.Group, svc *evaluation.Service) {
	api := evaluationApi{svc: svc}
	coord := roleMiddleware(core.RoleCoordinator)
	evaluator := roleMiddleware(core.RoleEvaluator)

	eg := g.Group("/evaluations")
	eg.GET("", api.query, coord)
	eg.POST("", api.assign, coord)
	eg.GET("/:id", api.retrieve, coord)
	eg.PATCH("/:id", api.review, coord)
	eg.DELETE("/:id", api.destroy, coord)
	eg.GET("/:id/responses", api.responses, coord)

	mg := g.Group("/me/evaluations")
	mg.GET("", api.queryOwn, evaluator)
	mg.GET("/:id", api.retrieveOwn, evaluator)
	mg.POST("/:id/start", api.start, evaluator)
	mg.POST("/:id/submit", api.submit, evaluator)
}

// Coordinator

func (api *evaluationApi) query(ctx echo.Context) error {
	evals, err := api.svc.Query(ctx.Request().Context(), bindEvaluationFilter(ctx))
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}
	return ctx.JSON(http.StatusOK, evals)
}

func (api *evaluationApi) assign(ctx echo.Context) error {
	var data evaluation.Assignment
	if err := bindBody(ctx, &data, "assignment"); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	data.AssignedBy = actor.ID

	ev, created, err := api.svc.Assign(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "assigning evaluator")
	}
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	return ctx.JSON(code, ev)
}

func (api *evaluationApi) retrieve(ctx echo.Context) error {
	ev, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) review(ctx echo.Context) error {
	var data evaluation.Review
	if err := bindBody(ctx, &data, "review"); err != nil {
		return err
	}
	ev, err := api.svc.Review(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "reviewing evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) destroy(ctx echo.Context) error {
	if err := api.svc.Delete(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "deleting evaluation")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *evaluationApi) responses(ctx echo.Context) error {
	resps, err := api.svc.Responses(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting responses")
	}
	return ctx.JSON(http.StatusOK, resps)
}

// Evaluator

func (api *evaluationApi) queryOwn(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	status := evaluation.Status(core.CleanString(ctx.QueryParam("status")))
	evals, err := api.svc.QueryByEvaluator(ctx.Request().Context(), actor.ID, status)
	if err != nil {
		return errors.Wrap(err, "querying evaluator evaluations")
	}
	return ctx.JSON(http.StatusOK, evals)
}

func (api *evaluationApi) retrieveOwn(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	ev, err := api.svc.Get(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting evaluation")
	}
	if ev.EvaluatorID != actor.ID {
		return errHttpNotFound
	}
	resps, err := api.svc.Responses(ctx.Request().Context(), ev.ID)
	if err != nil {
		return errors.Wrap(err, "getting responses")
	}
	return ctx.JSON(http.StatusOK, echo.Map{"evaluation": ev, "responses": resps})
}

func (api *evaluationApi) start(ctx echo.Context) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	ev, err := api.svc.Start(ctx.Request().Context(), ctx.Param("id"), actor.ID)
	if err != nil {
		return errors.Wrap(err, "starting evaluation")
	}
	return ctx.JSON(http.StatusOK, ev)
}

func (api *evaluationApi) submit(ctx echo.Context) error {
	var data evaluation.Answers
	if err := bindBody(ctx, &data, "answers"); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	ev, approved, err := api.svc.Submit(ctx.Request().Context(), ctx.Param("id"), actor.ID, data)
	if err != nil {
		return errors.Wrap(err, "submitting evaluation")
	}
	return ctx.JSON(http.StatusOK, submitResponse{Evaluation: ev, Approved: approved})
}
