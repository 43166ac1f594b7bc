package approval_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/approval"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/rubric"
	"github.com/trezcool/convoca/core/submission"
	"github.com/trezcool/convoca/tests"
)

func setup(t *testing.T) (*testutil.Env, rubric.Tree, submission.Expression) {
	env := testutil.NewEnv(t)
	tree := testutil.CreateScoredTemplate(t, env.RubricSvc, "5", "5")
	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	return env, tree, expr
}

func TestController_TryAutoApprove_quorum(t *testing.T) {
	tests := []struct {
		name         string
		ratios       []string // one completed evaluation per ratio; "" leaves it pending
		wantApproved bool
		wantCarried  int
	}{
		{name: "single positive evaluation", ratios: []string{"1"}},
		{name: "one positive, one negative", ratios: []string{"1", "0.5"}},
		{name: "one positive, one pending", ratios: []string{"0.8", ""}},
		{name: "both at the threshold", ratios: []string{"0.7", "0.7"}, wantApproved: true, wantCarried: 2},
		{name: "two positives out of three", ratios: []string{"1", "0.2", "0.9"}, wantApproved: true, wantCarried: 2},
		{name: "late positive is not carried", ratios: []string{"1", "1", "1"}, wantApproved: true, wantCarried: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, tree, expr := setup(t)
			ctx := context.Background()

			var evs []evaluation.Evaluation
			for i := range tt.ratios {
				evs = append(evs, testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-"+string(rune('a'+i)), tree.Template.ID))
			}
			var approved bool
			for i, ratio := range tt.ratios {
				if ratio == "" {
					continue
				}
				_, ok := testutil.Complete(t, env.EvaluationSvc, tree, evs[i], ratio)
				approved = approved || ok
			}
			assert.Equal(t, tt.wantApproved, approved)

			got, err := env.SubmissionSvc.GetExpression(ctx, expr.ID)
			require.NoError(t, err)
			prop, propErr := env.SubmissionSvc.GetProposalByExpression(ctx, expr.ID)
			if !tt.wantApproved {
				assert.Equal(t, submission.StatusSubmitted, got.Status)
				assert.Equal(t, submission.ErrProposalNotFound, propErr)
				assert.Empty(t, env.Notifier.Events())
				return
			}
			assert.Equal(t, submission.StatusApproved, got.Status)
			require.NoError(t, propErr)
			carried, err := env.EvaluationSvc.QueryByTarget(ctx, prop.Target())
			require.NoError(t, err)
			assert.Len(t, carried, tt.wantCarried)
			assert.Len(t, env.Notifier.Events(), 1)
		})
	}
}

// Two positive expression evaluations promote the expression to a draft proposal on which both evaluators
// get a pending evaluation.
func TestController_TryAutoApprove_promotion(t *testing.T) {
	env, tree, expr := setup(t)
	ctx := context.Background()

	ev1 := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)
	ev2 := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-2", tree.Template.ID)

	_, approved := testutil.Complete(t, env.EvaluationSvc, tree, ev1, "1")
	require.False(t, approved)
	done, approved := testutil.Complete(t, env.EvaluationSvc, tree, ev2, "0.8")
	require.True(t, approved)
	assert.True(t, done.IsValidated)

	got, err := env.SubmissionSvc.GetExpression(ctx, expr.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusApproved, got.Status)

	evs, err := env.EvaluationSvc.QueryByTarget(ctx, expr.Target())
	require.NoError(t, err)
	for _, ev := range evs {
		assert.True(t, ev.IsValidated, "evaluation %s not validated", ev.ID)
	}

	prop, err := env.SubmissionSvc.GetProposalByExpression(ctx, expr.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusDraft, prop.Status)
	assert.Equal(t, expr.Base, prop.Base)

	carried, err := env.EvaluationSvc.QueryByTarget(ctx, prop.Target())
	require.NoError(t, err)
	require.Len(t, carried, 2)
	var evaluators []string
	for _, ev := range carried {
		evaluators = append(evaluators, ev.EvaluatorID)
		assert.Equal(t, evaluation.StatusPending, ev.Status)
		assert.Equal(t, tree.Template.ID, ev.TemplateID.String)
		assert.True(t, ev.MaxPossibleScore.Equal(testutil.D("10")))
		assert.Equal(t, approval.SystemActor, ev.CreatedBy)
		assert.False(t, ev.IsPositive)
	}
	assert.ElementsMatch(t, []string{"evaluator-1", "evaluator-2"}, evaluators)

	events := env.Notifier.Events()
	require.Len(t, events, 1)
	evt := events[0]
	assert.Equal(t, expr.Target(), evt.Target)
	assert.Equal(t, submission.StatusApproved, evt.Status)
	assert.Equal(t, prop.ID, evt.ProposalID)
	assert.Equal(t, expr.Title, evt.ProjectTitle)
	assert.Equal(t, "researcher@test.cd", evt.OwnerEmail)
	assert.ElementsMatch(t, []string{"evaluator-1", "evaluator-2"}, evt.Evaluators)
	assert.Equal(t, approval.SystemActor, evt.ApprovedBy)

	t.Run("approving again is a no-op", func(t *testing.T) {
		approved, err := env.ApprovalCtrl.TryAutoApprove(ctx, expr.Target())
		require.NoError(t, err)
		assert.False(t, approved)
		assert.Len(t, env.Notifier.Events(), 1)
	})

	t.Run("the proposal gets approved for funding", func(t *testing.T) {
		_, err := env.SubmissionSvc.UpdateProposal(ctx, prop.ID, submission.UpdateProposal{DurationMonths: 24, Summary: "Two years of field work"})
		require.NoError(t, err)
		_, err = env.SubmissionSvc.SubmitProposal(ctx, prop.ID)
		require.NoError(t, err)

		_, approved := testutil.Complete(t, env.EvaluationSvc, tree, carried[0], "0.9")
		assert.False(t, approved)
		_, approved = testutil.Complete(t, env.EvaluationSvc, tree, carried[1], "0.7")
		assert.True(t, approved)

		got, err := env.SubmissionSvc.GetProposal(ctx, prop.ID)
		require.NoError(t, err)
		assert.Equal(t, submission.StatusApprovedForFunding, got.Status)

		events := env.Notifier.Events()
		require.Len(t, events, 2)
		assert.Equal(t, submission.StatusApprovedForFunding, events[1].Status)
		assert.Equal(t, prop.Target(), events[1].Target)
		assert.Empty(t, events[1].ProposalID)
	})
}

func TestController_TryAutoApprove_rejected(t *testing.T) {
	env, tree, expr := setup(t)
	ctx := context.Background()

	ev1 := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)
	ev2 := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-2", tree.Template.ID)
	testutil.Complete(t, env.EvaluationSvc, tree, ev1, "1")

	expr.Status = submission.StatusRejected
	_, err := env.Repos.Submissions.UpdateExpression(ctx, expr)
	require.NoError(t, err)

	_, approved := testutil.Complete(t, env.EvaluationSvc, tree, ev2, "1")
	assert.False(t, approved)
	_, err = env.SubmissionSvc.GetProposalByExpression(ctx, expr.ID)
	assert.Equal(t, submission.ErrProposalNotFound, err)
	assert.Empty(t, env.Notifier.Events())
}

func TestController_TryAutoApprove_invalidTarget(t *testing.T) {
	env, _, _ := setup(t)
	ctx := context.Background()

	_, err := env.ApprovalCtrl.TryAutoApprove(ctx, submission.ExpressionTarget("lol"))
	assert.Equal(t, submission.ErrExpressionNotFound, err)
	_, err = env.ApprovalCtrl.TryAutoApprove(ctx, submission.Target{Kind: "lol", ID: "x"})
	assert.Error(t, err)
}

func TestController_TryAutoApprove_concurrent(t *testing.T) {
	env, tree, expr := setup(t)
	ctx := context.Background()

	for _, evaluatorID := range []string{"evaluator-1", "evaluator-2"} {
		ev := testutil.Assign(t, env.EvaluationSvc, expr.Target(), evaluatorID, tree.Template.ID)
		// score without running the approval
		responses, err := evaluation.ScoreAnswers(tree, testutil.Answers(tree, "1").Answers)
		require.NoError(t, err)
		res := evaluation.ComputeResult(responses, tree.MaxPossibleScore())
		ev.Status = evaluation.StatusCompleted
		ev.TotalScore.Decimal, ev.TotalScore.Valid = res.TotalScore, true
		ev.IsPositive = res.IsPositive
		_, err = env.Repos.Evaluations.UpdateEvaluation(ctx, ev)
		require.NoError(t, err)
	}

	const workers = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := env.ApprovalCtrl.TryAutoApprove(ctx, expr.Target())
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, approved)
	assert.Len(t, env.Notifier.Events(), 1)
	prop, err := env.SubmissionSvc.GetProposalByExpression(ctx, expr.ID)
	require.NoError(t, err)
	carried, err := env.EvaluationSvc.QueryByTarget(ctx, prop.Target())
	require.NoError(t, err)
	assert.Len(t, carried, 2)
}

func TestController_ApproveManually(t *testing.T) {
	coordinator := core.Actor{ID: testutil.Coordinator, Role: core.RoleCoordinator}

	t.Run("draft expression", func(t *testing.T) {
		env := testutil.NewEnv(t)
		ctx := context.Background()
		draft := testutil.CreateExpression(t, env.SubmissionSvc, false)

		approved, err := env.ApprovalCtrl.ApproveManually(ctx, draft.Target(), coordinator, approval.ManualApproval{})
		require.True(t, core.IsState(err), "got %v", err)
		assert.False(t, approved)
		_, err = env.SubmissionSvc.GetProposalByExpression(ctx, draft.ID)
		assert.True(t, core.IsNotFound(err))
	})

	t.Run("unknown expression", func(t *testing.T) {
		env := testutil.NewEnv(t)
		_, err := env.ApprovalCtrl.ApproveManually(context.Background(), submission.ExpressionTarget("lol"), coordinator, approval.ManualApproval{})
		assert.True(t, core.IsNotFound(err), "got %v", err)
	})

	t.Run("below quorum", func(t *testing.T) {
		env, tree, expr := setup(t)
		ctx := context.Background()

		positive := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)
		negative := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-2", tree.Template.ID)
		testutil.Complete(t, env.EvaluationSvc, tree, positive, "0.8")
		testutil.Complete(t, env.EvaluationSvc, tree, negative, "0.2")

		approved, err := env.ApprovalCtrl.ApproveManually(ctx, expr.Target(), coordinator, approval.ManualApproval{})
		require.NoError(t, err)
		assert.True(t, approved)

		got, err := env.SubmissionSvc.GetExpression(ctx, expr.ID)
		require.NoError(t, err)
		assert.Equal(t, submission.StatusApproved, got.Status)

		evs, err := env.EvaluationSvc.QueryByTarget(ctx, expr.Target())
		require.NoError(t, err)
		for _, ev := range evs {
			assert.False(t, ev.IsValidated)
		}

		prop, err := env.SubmissionSvc.GetProposalByExpression(ctx, expr.ID)
		require.NoError(t, err)
		carried, err := env.EvaluationSvc.QueryByTarget(ctx, prop.Target())
		require.NoError(t, err)
		require.Len(t, carried, 1)
		assert.Equal(t, "evaluator-1", carried[0].EvaluatorID)
		assert.Equal(t, tree.Template.ID, carried[0].TemplateID.String)
		assert.Equal(t, testutil.Coordinator, carried[0].CreatedBy)

		events := env.Notifier.Events()
		require.Len(t, events, 1)
		assert.Equal(t, testutil.Coordinator, events[0].ApprovedBy)
		assert.Equal(t, prop.ID, events[0].ProposalID)

		// approved already: no second proposal nor notification
		approved, err = env.ApprovalCtrl.ApproveManually(ctx, expr.Target(), coordinator, approval.ManualApproval{})
		require.NoError(t, err)
		assert.False(t, approved)
		assert.Len(t, env.Notifier.Events(), 1)

		// the draft proposal cannot be approved yet
		_, err = env.ApprovalCtrl.ApproveManually(ctx, prop.Target(), coordinator, approval.ManualApproval{})
		assert.True(t, core.IsState(err), "got %v", err)
	})

	t.Run("proposal template", func(t *testing.T) {
		env, tree, expr := setup(t)
		ctx := context.Background()
		proposalTree := testutil.CreateScoredTemplate(t, env.RubricSvc, "10", "10", "10")

		expressionsOnly := testutil.CreateTemplate(t, env.RubricSvc, "Expressions only", testutil.CallID)
		no := false
		_, err := env.RubricSvc.UpdateTemplate(ctx, expressionsOnly.ID, rubric.UpdateTemplate{AppliesToProposal: &no})
		require.NoError(t, err)
		otherCall := testutil.CreateTemplate(t, env.RubricSvc, "Other call", "call-1999")

		ev := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)
		testutil.Complete(t, env.EvaluationSvc, tree, ev, "1")

		for _, templateID := range []string{"lol", expressionsOnly.ID, otherCall.ID} {
			_, err = env.ApprovalCtrl.ApproveManually(ctx, expr.Target(), coordinator, approval.ManualApproval{ProposalTemplateID: templateID})
			require.True(t, core.IsValidation(err), "%s: got %v", templateID, err)
			assert.Contains(t, err.(*core.ValidationError).FieldMap(), "proposal_template_id")
		}
		got, err := env.SubmissionSvc.GetExpression(ctx, expr.ID)
		require.NoError(t, err)
		assert.Equal(t, submission.StatusSubmitted, got.Status)

		approved, err := env.ApprovalCtrl.ApproveManually(ctx, expr.Target(), coordinator, approval.ManualApproval{ProposalTemplateID: " " + proposalTree.Template.ID})
		require.NoError(t, err)
		require.True(t, approved)

		prop, err := env.SubmissionSvc.GetProposalByExpression(ctx, expr.ID)
		require.NoError(t, err)
		carried, err := env.EvaluationSvc.QueryByTarget(ctx, prop.Target())
		require.NoError(t, err)
		require.Len(t, carried, 1)
		assert.Equal(t, proposalTree.Template.ID, carried[0].TemplateID.String)
		assert.True(t, carried[0].MaxPossibleScore.Equal(testutil.D("30")))
	})
}
