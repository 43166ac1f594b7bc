package evaluation

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/rubric"
	"github.com/trezcool/convoca/core/submission"
)

type (
	Rubrics interface {
		GetTemplate(ctx context.Context, id string) (rubric.Template, error)
		GetTree(ctx context.Context, templateID string) (rubric.Tree, error)
	}

	Submissions interface {
		Load(ctx context.Context, target submission.Target) (submission.Submission, error)
	}

	// AutoApprover advances a target when enough positive evaluations are in.
	AutoApprover interface {
		TryAutoApprove(ctx context.Context, target submission.Target) (bool, error)
	}

	Service struct {
		tx           core.Transactor
		repo         Repository
		recalculator *Recalculator
		rubrics      Rubrics
		submissions  Submissions
		approver     AutoApprover
		validator    *core.Validator
		logger       core.Logger
	}
)

func NewService(
	tx core.Transactor,
	repo Repository,
	recalculator *Recalculator,
	rubrics Rubrics,
	submissions Submissions,
	approver AutoApprover,
	validator *core.Validator,
	logger core.Logger,
) *Service {
	submission.RegisterValidators(validator)
	return &Service{
		tx:           tx,
		repo:         repo,
		recalculator: recalculator,
		rubrics:      rubrics,
		submissions:  submissions,
		approver:     approver,
		validator:    validator,
		logger:       logger,
	}
}

// Assign assigns an evaluator to a submitted target, or returns the existing assignment.
// created is false when the evaluator was already assigned; a different template then replaces the previous one.
func (svc *Service) Assign(ctx context.Context, a Assignment) (ev Evaluation, created bool, err error) {
	if err = a.Validate(svc.validator); err != nil {
		return Evaluation{}, false, err
	}

	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := svc.submissions.Load(ctx, a.Target())
		if err != nil {
			return err
		}
		if sub.CurrentStatus() != submission.StatusSubmitted {
			return core.NewStateError(fmt.Sprintf("only submitted %ss can be assigned to evaluators", a.TargetKind))
		}
		tpl, err := svc.rubrics.GetTemplate(ctx, a.TemplateID)
		if err != nil {
			if core.IsNotFound(err) {
				return core.NewValidationError(err, core.FieldError{Field: "template_id", Error: err.Error()})
			}
			return err
		}
		if !tpl.AppliesTo(sub.CallID(), a.TargetKind) {
			return core.NewValidationError(nil, core.FieldError{
				Field: "template_id",
				Error: fmt.Sprintf("template is not active for this call or does not apply to %ss", a.TargetKind),
			})
		}
		tree, err := svc.rubrics.GetTree(ctx, tpl.ID)
		if err != nil {
			return err
		}
		max := tree.MaxPossibleScore()

		ev, err = svc.repo.GetEvaluationByAssignment(ctx, a.Target(), a.EvaluatorID)
		switch {
		case err == nil:
			if ev.TemplateID.Valid && ev.TemplateID.String == tpl.ID {
				return nil
			}
			if ev.IsCompleted() {
				return core.NewStateError("the template of a completed evaluation cannot be changed")
			}
			ev.TemplateID = null.StringFrom(tpl.ID)
			ev.MaxPossibleScore = max
			ev.UpdatedAt = time.Now().UTC()
			ev, err = svc.repo.UpdateEvaluation(ctx, ev)
			return err
		case !core.IsNotFound(err):
			return err
		}

		ev, err = svc.repo.CreateEvaluation(ctx, NewEvaluation(a.Target(), a.EvaluatorID, tpl.ID, max, a.AssignedBy))
		if errors.Cause(err) == ErrExists {
			// assigned concurrently
			ev, err = svc.repo.GetEvaluationByAssignment(ctx, a.Target(), a.EvaluatorID)
			return err
		}
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return Evaluation{}, false, err
	}
	if created {
		svc.logger.Info(fmt.Sprintf("evaluation: evaluator %s assigned to %s", a.EvaluatorID, a.Target()))
	}
	return ev, created, nil
}

func (svc *Service) Get(ctx context.Context, id string) (Evaluation, error) {
	return svc.repo.GetEvaluation(ctx, id)
}

func (svc *Service) Query(ctx context.Context, filter QueryFilter) ([]Evaluation, error) {
	return svc.repo.QueryEvaluations(ctx, filter)
}

func (svc *Service) QueryByTarget(ctx context.Context, target submission.Target) ([]Evaluation, error) {
	return svc.repo.QueryEvaluations(ctx, QueryFilter{TargetKind: target.Kind, TargetID: target.ID})
}

func (svc *Service) QueryByEvaluator(ctx context.Context, evaluatorID string, status Status) ([]Evaluation, error) {
	return svc.repo.QueryEvaluations(ctx, QueryFilter{EvaluatorID: evaluatorID, Status: status})
}

func (svc *Service) Responses(ctx context.Context, evaluationID string) ([]Response, error) {
	if _, err := svc.repo.GetEvaluation(ctx, evaluationID); err != nil {
		return nil, err
	}
	return svc.repo.GetResponses(ctx, evaluationID)
}

// lockOwn locks an evaluation on behalf of its evaluator; other evaluators do not see it.
func (svc *Service) lockOwn(ctx context.Context, id, evaluatorID string) (Evaluation, error) {
	ev, err := svc.repo.LockEvaluation(ctx, id)
	if err != nil {
		return Evaluation{}, err
	}
	if ev.EvaluatorID != evaluatorID {
		return Evaluation{}, ErrNotFound
	}
	return ev, nil
}

// Start marks a pending evaluation in progress. It is a no-op on evaluations already in progress.
func (svc *Service) Start(ctx context.Context, id, evaluatorID string) (Evaluation, error) {
	var ev Evaluation
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if ev, err = svc.lockOwn(ctx, id, evaluatorID); err != nil {
			return err
		}
		switch ev.Status {
		case StatusInProgress:
			return nil
		case StatusCompleted:
			return core.NewStateError("evaluation is already completed")
		}
		ev.Status = StatusInProgress
		ev.UpdatedAt = time.Now().UTC()
		ev, err = svc.repo.UpdateEvaluation(ctx, ev)
		return err
	})
	return ev, err
}

// Submit saves the evaluator's answers, scores the evaluation against the live template, completes it
// and runs the auto-approval of its target. Nothing is saved when any step fails.
func (svc *Service) Submit(ctx context.Context, id, evaluatorID string, answers Answers) (ev Evaluation, approved bool, err error) {
	if err = answers.Validate(svc.validator); err != nil {
		return Evaluation{}, false, err
	}

	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if ev, err = svc.lockOwn(ctx, id, evaluatorID); err != nil {
			return err
		}
		if ev.IsCompleted() {
			return core.NewStateError("evaluation is already completed")
		}
		if !ev.TemplateID.Valid {
			return core.NewStateError("evaluation has no template")
		}

		tree, err := svc.rubrics.GetTree(ctx, ev.TemplateID.String)
		if err != nil {
			return err
		}
		responses, err := ScoreAnswers(tree, answers.Answers)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for i := range responses {
			responses[i].EvaluationID = ev.ID
			responses[i].CreatedAt = now
			responses[i].UpdatedAt = now
		}
		if responses, err = svc.repo.SaveResponses(ctx, ev.ID, responses); err != nil {
			return errors.Wrap(err, "saving responses")
		}

		res := ComputeResult(responses, tree.MaxPossibleScore())
		ev.TotalScore.Decimal, ev.TotalScore.Valid = res.TotalScore, true
		ev.MaxPossibleScore = res.MaxPossibleScore
		ev.IsPositive = res.IsPositive
		ev.Status = StatusCompleted
		ev.SubmittedAt = null.TimeFrom(now)
		ev.UpdatedAt = now
		if ev, err = svc.repo.UpdateEvaluation(ctx, ev); err != nil {
			return err
		}

		approved, err = svc.approver.TryAutoApprove(ctx, ev.Target())
		return err
	})
	if err != nil {
		return Evaluation{}, false, err
	}
	svc.logger.Info(fmt.Sprintf(
		"evaluation: %s submitted by %s for %s (%s/%s, positive=%t)",
		ev.ID, evaluatorID, ev.Target(), ev.TotalScore.Decimal, ev.MaxPossibleScore, ev.IsPositive,
	))
	if approved {
		// the approval may have validated this evaluation
		if ev, err = svc.repo.GetEvaluation(ctx, ev.ID); err != nil {
			return Evaluation{}, true, err
		}
	}
	return ev, approved, nil
}

// Review updates the coordinator-side fields of an evaluation. Scoring fields are never touched.
func (svc *Service) Review(ctx context.Context, id string, rv Review) (Evaluation, error) {
	var ev Evaluation
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if ev, err = svc.repo.GetEvaluation(ctx, id); err != nil {
			return err
		}
		if rv.IsValidated != nil {
			ev.IsValidated = *rv.IsValidated
		}
		if rv.CoordinatorNotes != nil {
			ev.CoordinatorNotes = core.CleanString(*rv.CoordinatorNotes)
		}
		ev.UpdatedAt = time.Now().UTC()
		ev, err = svc.repo.UpdateEvaluation(ctx, ev)
		return err
	})
	return ev, err
}

// Delete deletes an evaluation and its responses.
func (svc *Service) Delete(ctx context.Context, id string) error {
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		ev, err := svc.repo.GetEvaluation(ctx, id)
		if err != nil {
			return err
		}
		if err = svc.repo.DeleteEvaluation(ctx, id); err != nil {
			return err
		}
		svc.logger.Info(fmt.Sprintf("evaluation: %s of %s by %s deleted", ev.ID, ev.Target(), ev.EvaluatorID))
		return nil
	})
}

// UpdateEvaluationsForTemplate recalculates the cached scores of every evaluation of a template.
func (svc *Service) UpdateEvaluationsForTemplate(ctx context.Context, templateID string) (n int, err error) {
	err = svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		n, err = svc.recalculator.UpdateEvaluationsForTemplate(ctx, templateID)
		return err
	})
	return n, err
}
