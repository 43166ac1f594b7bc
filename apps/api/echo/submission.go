package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/approval"
	"github.com/trezcool/convoca/core/submission"
)

type (
	submissionApi struct {
		svc      *submission.Service
		approver *approval.Controller
	}

	approvalResult struct {
		Approved bool                  `json:"approved"`
		Target   submission.Submission `json:"target"`
	}
)

func registerSubmissionAPI(g *echo.Group, svc *submission.Service, approver *approval.Controller) {
	api := submissionApi{svc: svc, approver: approver}
	researcher := roleMiddleware(core.RoleResearcher)
	coordinator := roleMiddleware(core.RoleCoordinator)
	readers := roleMiddleware(core.RoleResearcher, core.RoleCoordinator)

	xg := g.Group("/expressions")
	xg.POST("", api.createExpression, researcher)
	xg.GET("/:id", api.retrieveExpression, readers)
	xg.POST("/:id/submit", api.submitExpression, researcher)
	xg.GET("/:id/proposal", api.retrieveProposalByExpression, readers)
	xg.POST("/:id/approve", api.approveExpression, coordinator)

	pg := g.Group("/proposals")
	pg.GET("/:id", api.retrieveProposal, readers)
	pg.PUT("/:id", api.updateProposal, researcher)
	pg.POST("/:id/submit", api.submitProposal, researcher)
	pg.POST("/:id/approve", api.approveProposal, coordinator)
}

// checkOwner hides the submissions of other researchers. Coordinators see everything.
func checkOwner(ctx echo.Context, sub submission.Submission) error {
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	if actor.IsCoordinator() || sub.OwnerID() == actor.ID {
		return nil
	}
	return errHttpNotFound
}

func (api *submissionApi) ownExpression(ctx echo.Context) (submission.Expression, error) {
	expr, err := api.svc.GetExpression(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return submission.Expression{}, errors.Wrap(err, "getting expression")
	}
	return expr, checkOwner(ctx, &expr)
}

func (api *submissionApi) ownProposal(ctx echo.Context) (submission.Proposal, error) {
	prop, err := api.svc.GetProposal(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return submission.Proposal{}, errors.Wrap(err, "getting proposal")
	}
	return prop, checkOwner(ctx, &prop)
}

// Expressions

func (api *submissionApi) createExpression(ctx echo.Context) error {
	var data submission.NewExpression
	if err := bindBody(ctx, &data, "expression"); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	data.OwnerID = actor.ID
	if data.OwnerEmail == "" {
		data.OwnerEmail = actor.Email
	}

	expr, err := api.svc.CreateExpression(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "creating expression")
	}
	return ctx.JSON(http.StatusCreated, expr)
}

func (api *submissionApi) retrieveExpression(ctx echo.Context) error {
	expr, err := api.ownExpression(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, expr)
}

func (api *submissionApi) submitExpression(ctx echo.Context) error {
	if _, err := api.ownExpression(ctx); err != nil {
		return err
	}
	expr, err := api.svc.SubmitExpression(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "submitting expression")
	}
	return ctx.JSON(http.StatusOK, expr)
}

func (api *submissionApi) retrieveProposalByExpression(ctx echo.Context) error {
	if _, err := api.ownExpression(ctx); err != nil {
		return err
	}
	prop, err := api.svc.GetProposalByExpression(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting proposal")
	}
	return ctx.JSON(http.StatusOK, prop)
}

// Proposals

func (api *submissionApi) retrieveProposal(ctx echo.Context) error {
	prop, err := api.ownProposal(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, prop)
}

func (api *submissionApi) updateProposal(ctx echo.Context) error {
	var data submission.UpdateProposal
	if err := bindBody(ctx, &data, "proposal"); err != nil {
		return err
	}
	if _, err := api.ownProposal(ctx); err != nil {
		return err
	}
	prop, err := api.svc.UpdateProposal(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating proposal")
	}
	return ctx.JSON(http.StatusOK, prop)
}

func (api *submissionApi) submitProposal(ctx echo.Context) error {
	if _, err := api.ownProposal(ctx); err != nil {
		return err
	}
	prop, err := api.svc.SubmitProposal(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "submitting proposal")
	}
	return ctx.JSON(http.StatusOK, prop)
}

// Approvals

func (api *submissionApi) approve(ctx echo.Context, target submission.Target) error {
	var data approval.ManualApproval
	if err := bindBody(ctx, &data, "approval"); err != nil {
		return err
	}
	actor, err := getContextActor(ctx)
	if err != nil {
		return err
	}
	reqCtx := ctx.Request().Context()
	approved, err := api.approver.ApproveManually(reqCtx, target, actor, data)
	if err != nil {
		return errors.Wrap(err, "approving "+target.String())
	}
	sub, err := api.svc.Load(reqCtx, target)
	if err != nil {
		return errors.Wrap(err, "loading "+target.String())
	}
	return ctx.JSON(http.StatusOK, approvalResult{Approved: approved, Target: sub})
}

func (api *submissionApi) approveExpression(ctx echo.Context) error {
	return api.approve(ctx, submission.ExpressionTarget(ctx.Param("id")))
}

func (api *submissionApi) approveProposal(ctx echo.Context) error {
	return api.approve(ctx, submission.ProposalTarget(ctx.Param("id")))
}
