// Package approval advances submissions through their lifecycle once enough evaluators scored them positively.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/submission"
)

// Quorum is the number of evaluations, and of positive evaluations, needed to approve a target.
const Quorum = 2

// SystemActor is recorded as the approver of auto-approvals and the creator of the evaluations they carry forward.
const SystemActor = "system:auto-approval"

type (
	// Event describes an approval. ProposalID is set when an expression got promoted.
	Event struct {
		Target       submission.Target `json:"target"`
		Status       submission.Status `json:"status"`
		ProjectTitle string            `json:"project_title"`
		CallID       string            `json:"call_id"`
		OwnerID      string            `json:"owner_id"`
		OwnerEmail   string            `json:"owner_email"`
		ProposalID   string            `json:"proposal_id,omitempty"`
		Evaluators   []string          `json:"evaluators"`
		ApprovedBy   string            `json:"approved_by"`
		OccurredAt   time.Time         `json:"occurred_at"`
	}

	// Notifier observes approvals. Notify runs once the approving transaction committed, and must not block.
	Notifier interface {
		Notify(evt Event)
	}

	Submissions interface {
		LockAndLoad(ctx context.Context, target submission.Target) (submission.Submission, error)
		Approve(ctx context.Context, target submission.Target) error
		Promote(ctx context.Context, expr submission.Expression) (submission.Proposal, error)
	}

	Rubrics interface {
		MaxPossibleScore(ctx context.Context, templateID string) (decimal.Decimal, error)
		AppliesTo(ctx context.Context, templateID, callID string, kind submission.Kind) (bool, error)
	}

	// ManualApproval contains the choices of a coordinator approving a target.
	// ProposalTemplateID, when set, replaces the template of the evaluations carried to the new proposal.
	ManualApproval struct {
		ProposalTemplateID string `json:"proposal_template_id"`
	}

	Controller struct {
		tx          core.Transactor
		evaluations evaluation.Repository
		submissions Submissions
		rubrics     Rubrics
		notifier    Notifier
		logger      core.Logger
	}

	// pendingApproval is one approval being applied within a transaction.
	pendingApproval struct {
		sub        submission.Submission
		evs        []evaluation.Evaluation
		positives  []evaluation.Evaluation
		templateID string
		by         string
	}
)

var _ evaluation.AutoApprover = (*Controller)(nil) // interface compliance check

func NewController(
	tx core.Transactor,
	evaluations evaluation.Repository,
	submissions Submissions,
	rubrics Rubrics,
	notifier Notifier,
	logger core.Logger,
) *Controller {
	return &Controller{
		tx:          tx,
		evaluations: evaluations,
		submissions: submissions,
		rubrics:     rubrics,
		notifier:    notifier,
		logger:      logger,
	}
}

// TryAutoApprove approves the target when it has at least Quorum evaluations, at least Quorum of them positive.
// Every evaluation of the target is then validated. An approved expression is promoted to a draft proposal on
// which each positive evaluator gets a pending evaluation with the same template; an approved proposal is
// approved for funding.
// The target stays locked until the transaction ends, so concurrent calls are serialized; calls on an approved
// target are no-ops. It returns true iff the target was approved.
func (ctrl *Controller) TryAutoApprove(ctx context.Context, target submission.Target) (approved bool, err error) {
	var evt Event
	err = ctrl.tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := ctrl.submissions.LockAndLoad(ctx, target)
		if err != nil {
			return err
		}
		if sub.IsApproved() || sub.CurrentStatus() == submission.StatusRejected {
			return nil
		}

		a := pendingApproval{sub: sub, by: SystemActor}
		if err = ctrl.loadEvaluations(ctx, target, &a); err != nil {
			return err
		}
		if len(a.evs) < Quorum || len(a.positives) < Quorum {
			return nil
		}

		now := time.Now().UTC()
		for _, ev := range a.evs {
			if ev.IsValidated {
				continue
			}
			ev.IsValidated = true
			ev.UpdatedAt = now
			if _, err = ctrl.evaluations.UpdateEvaluation(ctx, ev); err != nil {
				return errors.Wrap(err, "validating evaluation")
			}
		}
		if evt, err = ctrl.approve(ctx, target, a, now); err != nil {
			return err
		}
		approved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if approved {
		ctrl.logger.Info(fmt.Sprintf("approval: %s auto-approved (%s)", target, evt.Status))
		ctrl.notify(ctx, evt)
	}
	return approved, nil
}

// ApproveManually approves a submitted target on behalf of a coordinator, whatever its evaluations say.
// An approved expression is promoted and its positive evaluators are carried forward as with TryAutoApprove,
// on ma.ProposalTemplateID when set. Evaluations are left unvalidated.
// It is a no-op on an approved target and returns true iff the target was approved.
func (ctrl *Controller) ApproveManually(ctx context.Context, target submission.Target, actor core.Actor, ma ManualApproval) (approved bool, err error) {
	ma.ProposalTemplateID = core.CleanString(ma.ProposalTemplateID)
	var evt Event
	err = ctrl.tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := ctrl.submissions.LockAndLoad(ctx, target)
		if err != nil {
			return err
		}
		if sub.IsApproved() {
			return nil
		}
		if sub.CurrentStatus() != submission.StatusSubmitted {
			return core.NewStateError(fmt.Sprintf("only submitted %ss can be approved", target.Kind))
		}

		a := pendingApproval{sub: sub, by: actor.ID}
		if ma.ProposalTemplateID != "" {
			if err = ctrl.checkProposalTemplate(ctx, sub, ma.ProposalTemplateID); err != nil {
				return err
			}
			a.templateID = ma.ProposalTemplateID
		}
		if err = ctrl.loadEvaluations(ctx, target, &a); err != nil {
			return err
		}
		if evt, err = ctrl.approve(ctx, target, a, time.Now().UTC()); err != nil {
			return err
		}
		approved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if approved {
		ctrl.logger.Info(fmt.Sprintf("approval: %s approved by %s (%s)", target, actor.ID, evt.Status), actor)
		ctrl.notify(ctx, evt)
	}
	return approved, nil
}

func (ctrl *Controller) checkProposalTemplate(ctx context.Context, sub submission.Submission, templateID string) error {
	fieldErr := func(err error, msg string) error {
		return core.NewValidationError(err, core.FieldError{Field: "proposal_template_id", Error: msg})
	}
	if sub.Target().Kind != submission.KindExpression {
		return fieldErr(nil, "only expressions are promoted to proposals")
	}
	ok, err := ctrl.rubrics.AppliesTo(ctx, templateID, sub.CallID(), submission.KindProposal)
	switch {
	case core.IsNotFound(err):
		return fieldErr(err, err.Error())
	case err != nil:
		return err
	case !ok:
		return fieldErr(nil, "template is not active for this call or does not apply to proposals")
	}
	return nil
}

func (ctrl *Controller) loadEvaluations(ctx context.Context, target submission.Target, a *pendingApproval) error {
	evs, err := ctrl.evaluations.QueryEvaluations(ctx, evaluation.QueryFilter{TargetKind: target.Kind, TargetID: target.ID})
	if err != nil {
		return errors.Wrap(err, "querying evaluations")
	}
	a.evs = evs
	for _, ev := range evs {
		if ev.IsPositive {
			a.positives = append(a.positives, ev)
		}
	}
	return nil
}

// approve moves the target to its approved status and promotes an approved expression.
func (ctrl *Controller) approve(ctx context.Context, target submission.Target, a pendingApproval, now time.Time) (Event, error) {
	if err := ctrl.submissions.Approve(ctx, target); err != nil {
		return Event{}, errors.Wrap(err, "approving "+target.String())
	}

	evt := Event{
		Target:       target,
		Status:       submission.StatusApprovedForFunding,
		ProjectTitle: a.sub.ProjectTitle(),
		CallID:       a.sub.CallID(),
		OwnerID:      a.sub.OwnerID(),
		OwnerEmail:   a.sub.OwnerEmail(),
		ApprovedBy:   a.by,
		OccurredAt:   now,
	}
	for _, ev := range a.evs {
		evt.Evaluators = append(evt.Evaluators, ev.EvaluatorID)
	}

	if target.Kind == submission.KindExpression {
		evt.Status = submission.StatusApproved
		expr, ok := a.sub.(*submission.Expression)
		if !ok {
			return Event{}, errors.Errorf("unexpected submission type %T", a.sub)
		}
		prop, err := ctrl.promote(ctx, *expr, a)
		if err != nil {
			return Event{}, err
		}
		evt.ProposalID = prop.ID
	}
	return evt, nil
}

// promote creates the proposal of an approved expression and carries the positive evaluators forward.
func (ctrl *Controller) promote(ctx context.Context, expr submission.Expression, a pendingApproval) (submission.Proposal, error) {
	prop, err := ctrl.submissions.Promote(ctx, expr)
	if err != nil {
		return submission.Proposal{}, errors.Wrap(err, "creating proposal")
	}
	for _, ev := range a.positives {
		if !ev.IsCompleted() || !ev.TemplateID.Valid {
			continue
		}
		templateID := ev.TemplateID.String
		if a.templateID != "" {
			templateID = a.templateID
		}
		max, err := ctrl.rubrics.MaxPossibleScore(ctx, templateID)
		if err != nil {
			return submission.Proposal{}, errors.Wrap(err, "computing max possible score")
		}
		carried := evaluation.NewEvaluation(prop.Target(), ev.EvaluatorID, templateID, max, a.by)
		if _, err = ctrl.evaluations.CreateEvaluation(ctx, carried); err != nil {
			return submission.Proposal{}, errors.Wrap(err, "carrying evaluator forward")
		}
	}
	return prop, nil
}

func (ctrl *Controller) notify(ctx context.Context, evt Event) {
	if ctrl.notifier != nil {
		core.OnCommit(ctx, func() { ctrl.notifier.Notify(evt) })
	}
}
