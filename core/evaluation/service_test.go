package evaluation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/rubric"
	"github.com/trezcool/convoca/core/submission"
	"github.com/trezcool/convoca/tests"
)

func TestService_Assign(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()
	bPtr := func(b bool) *bool { return &b }

	tree := testutil.CreateScoredTemplate(t, env.RubricSvc, "5", "3")
	other := testutil.CreateScoredTemplate(t, env.RubricSvc, "10")
	unlinked := testutil.CreateTemplate(t, env.RubricSvc, "Unlinked")
	proposalsOnly, err := env.RubricSvc.CreateTemplate(ctx, rubric.NewTemplate{
		Name: "Proposals only", CallIDs: []string{testutil.CallID}, AppliesToExpression: bPtr(false),
	})
	require.NoError(t, err)

	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	draft := testutil.CreateExpression(t, env.SubmissionSvc, false)

	assignment := func(target submission.Target, evaluatorID, templateID string) evaluation.Assignment {
		return evaluation.Assignment{
			TargetKind: target.Kind, TargetID: target.ID, EvaluatorID: evaluatorID, TemplateID: templateID, AssignedBy: testutil.Coordinator,
		}
	}

	tests := []struct {
		name      string
		a         evaluation.Assignment
		wantField string
		wantErr   func(error) bool
	}{
		{name: "missing fields", a: evaluation.Assignment{TargetKind: submission.KindExpression}, wantField: "evaluator_id"},
		{name: "unknown kind", a: evaluation.Assignment{TargetKind: "lol", TargetID: "x", EvaluatorID: "e", TemplateID: "t"}, wantField: "target_kind"},
		{name: "unknown target", a: assignment(submission.ExpressionTarget("lol"), "evaluator-1", tree.Template.ID), wantErr: core.IsNotFound},
		{name: "draft target", a: assignment(draft.Target(), "evaluator-1", tree.Template.ID), wantErr: core.IsState},
		{name: "unknown template", a: assignment(expr.Target(), "evaluator-1", "lol"), wantField: "template_id"},
		{name: "template not linked to the call", a: assignment(expr.Target(), "evaluator-1", unlinked.ID), wantField: "template_id"},
		{name: "template not for expressions", a: assignment(expr.Target(), "evaluator-1", proposalsOnly.ID), wantField: "template_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, created, err := env.EvaluationSvc.Assign(ctx, tt.a)
			assert.False(t, created)
			if tt.wantField != "" {
				require.True(t, core.IsValidation(err), "got %v", err)
				assert.Contains(t, fieldErrors(err), tt.wantField)
				return
			}
			assert.True(t, tt.wantErr(err), "got %v", err)
		})
	}

	ev, created, err := env.EvaluationSvc.Assign(ctx, assignment(expr.Target(), "evaluator-1", tree.Template.ID))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, evaluation.StatusPending, ev.Status)
	assert.True(t, ev.MaxPossibleScore.Equal(testutil.D("8")))
	assert.Equal(t, testutil.Coordinator, ev.CreatedBy)
	assert.False(t, ev.TotalScore.Valid)

	t.Run("same assignment returns the existing evaluation", func(t *testing.T) {
		again, created, err := env.EvaluationSvc.Assign(ctx, assignment(expr.Target(), "evaluator-1", tree.Template.ID))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, ev.ID, again.ID)

		evs, err := env.EvaluationSvc.QueryByTarget(ctx, expr.Target())
		require.NoError(t, err)
		assert.Len(t, evs, 1)
	})

	t.Run("new template on an open evaluation", func(t *testing.T) {
		again, created, err := env.EvaluationSvc.Assign(ctx, assignment(expr.Target(), "evaluator-1", other.Template.ID))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, ev.ID, again.ID)
		assert.Equal(t, other.Template.ID, again.TemplateID.String)
		assert.True(t, again.MaxPossibleScore.Equal(testutil.D("10")))
	})

	t.Run("new template on a completed evaluation", func(t *testing.T) {
		ev, err := env.EvaluationSvc.Get(ctx, ev.ID)
		require.NoError(t, err)
		testutil.Complete(t, env.EvaluationSvc, other, ev, "0.5")

		_, _, err = env.EvaluationSvc.Assign(ctx, assignment(expr.Target(), "evaluator-1", tree.Template.ID))
		assert.True(t, core.IsState(err), "got %v", err)
	})
}

func fieldErrors(err error) map[string]string {
	return err.(*core.ValidationError).FieldMap()
}

func TestService_Start(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	tree := testutil.CreateScoredTemplate(t, env.RubricSvc, "5")
	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	ev := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)

	_, err := env.EvaluationSvc.Start(ctx, ev.ID, "evaluator-2")
	assert.Equal(t, evaluation.ErrNotFound, err)

	started, err := env.EvaluationSvc.Start(ctx, ev.ID, ev.EvaluatorID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusInProgress, started.Status)

	again, err := env.EvaluationSvc.Start(ctx, ev.ID, ev.EvaluatorID)
	require.NoError(t, err)
	assert.Equal(t, started, again)

	testutil.Complete(t, env.EvaluationSvc, tree, ev, "1")
	_, err = env.EvaluationSvc.Start(ctx, ev.ID, ev.EvaluatorID)
	assert.True(t, core.IsState(err), "got %v", err)
}

func TestService_Submit(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	tree := testutil.CreateScoredTemplate(t, env.RubricSvc, "5", "5")
	items := tree.Items()
	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	ev := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)
	started, err := env.EvaluationSvc.Start(ctx, ev.ID, ev.EvaluatorID)
	require.NoError(t, err)

	answers := func(scores ...string) evaluation.Answers {
		var as evaluation.Answers
		for i, s := range scores {
			as.Answers = append(as.Answers, evaluation.Answer{ItemID: items[i].ID, Score: decimal.NewNullDecimal(testutil.D(s))})
		}
		return as
	}

	tests := []struct {
		name      string
		evaluator string
		answers   evaluation.Answers
		wantField string
		wantErr   error
	}{
		{name: "foreign evaluator", evaluator: "evaluator-2", answers: answers("1", "1"), wantErr: evaluation.ErrNotFound},
		{name: "score above item max", evaluator: ev.EvaluatorID, answers: answers("6", "1"), wantField: "items." + items[0].ID},
		{name: "missing answer", evaluator: ev.EvaluatorID, answers: answers("1"), wantField: "items." + items[1].ID},
		{name: "no item id", evaluator: ev.EvaluatorID, answers: evaluation.Answers{Answers: []evaluation.Answer{{}}}, wantField: "answers[0].item_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, approved, err := env.EvaluationSvc.Submit(ctx, ev.ID, tt.evaluator, tt.answers)
			assert.False(t, approved)
			if tt.wantField != "" {
				require.True(t, core.IsValidation(err), "got %v", err)
				assert.Contains(t, fieldErrors(err), tt.wantField)
			} else {
				assert.Equal(t, tt.wantErr, err)
			}

			// nothing changed
			got, err := env.EvaluationSvc.Get(ctx, ev.ID)
			require.NoError(t, err)
			assert.Equal(t, started, got)
			responses, err := env.EvaluationSvc.Responses(ctx, ev.ID)
			require.NoError(t, err)
			assert.Empty(t, responses)
		})
	}

	done, approved, err := env.EvaluationSvc.Submit(ctx, ev.ID, ev.EvaluatorID, answers("3.5", "4"))
	require.NoError(t, err)
	assert.False(t, approved)
	assert.Equal(t, evaluation.StatusCompleted, done.Status)
	assert.True(t, done.TotalScore.Valid)
	assert.True(t, done.TotalScore.Decimal.Equal(testutil.D("7.5")))
	assert.True(t, done.MaxPossibleScore.Equal(testutil.D("10")))
	assert.True(t, done.IsPositive)
	assert.True(t, done.SubmittedAt.Valid)
	assert.False(t, done.IsValidated)

	responses, err := env.EvaluationSvc.Responses(ctx, ev.ID)
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, ev.ID, responses[0].EvaluationID)

	_, _, err = env.EvaluationSvc.Submit(ctx, ev.ID, ev.EvaluatorID, answers("5", "5"))
	assert.True(t, core.IsState(err), "got %v", err)

	mine, err := env.EvaluationSvc.QueryByEvaluator(ctx, ev.EvaluatorID, evaluation.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, done.ID, mine[0].ID)
	mine, err = env.EvaluationSvc.QueryByEvaluator(ctx, ev.EvaluatorID, evaluation.StatusPending)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

// Scoring 6 on an item worth 5 is refused and nothing is saved.
func TestService_Submit_outOfRange(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	tree := testutil.CreateScoredTemplate(t, env.RubricSvc, "5")
	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	ev := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)

	_, _, err := env.EvaluationSvc.Submit(ctx, ev.ID, ev.EvaluatorID, testutil.Answers(tree, "1.2"))
	require.True(t, core.IsValidation(err), "got %v", err)

	got, err := env.EvaluationSvc.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, evaluation.StatusPending, got.Status)
	assert.False(t, got.TotalScore.Valid)
	responses, err := env.EvaluationSvc.Responses(ctx, ev.ID)
	require.NoError(t, err)
	assert.Empty(t, responses)
}

func TestService_ReviewAndDelete(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	tree := testutil.CreateScoredTemplate(t, env.RubricSvc, "5")
	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	ev := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)
	done, _ := testutil.Complete(t, env.EvaluationSvc, tree, ev, "0.4")

	validated, notes := true, "  Too generous on the budget. "
	reviewed, err := env.EvaluationSvc.Review(ctx, ev.ID, evaluation.Review{IsValidated: &validated, CoordinatorNotes: &notes})
	require.NoError(t, err)
	assert.True(t, reviewed.IsValidated)
	assert.Equal(t, "Too generous on the budget.", reviewed.CoordinatorNotes)
	assert.Equal(t, done.TotalScore, reviewed.TotalScore)
	assert.Equal(t, done.IsPositive, reviewed.IsPositive)
	assert.Equal(t, done.Status, reviewed.Status)

	_, err = env.EvaluationSvc.Review(ctx, "lol", evaluation.Review{})
	assert.Equal(t, evaluation.ErrNotFound, err)

	require.NoError(t, env.EvaluationSvc.Delete(ctx, ev.ID))
	_, err = env.EvaluationSvc.Get(ctx, ev.ID)
	assert.Equal(t, evaluation.ErrNotFound, err)
	_, err = env.EvaluationSvc.Responses(ctx, ev.ID)
	assert.Equal(t, evaluation.ErrNotFound, err)
	assert.Equal(t, evaluation.ErrNotFound, env.EvaluationSvc.Delete(ctx, ev.ID))

	// without evaluations nor responses the rubric is free again
	require.NoError(t, env.RubricSvc.DeleteTemplate(ctx, tree.Template.ID))
}

func TestService_Query(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	tree := testutil.CreateScoredTemplate(t, env.RubricSvc, "5")
	expr1 := testutil.CreateExpression(t, env.SubmissionSvc, true)
	expr2 := testutil.CreateExpression(t, env.SubmissionSvc, true)
	ev1 := testutil.Assign(t, env.EvaluationSvc, expr1.Target(), "evaluator-1", tree.Template.ID)
	ev2 := testutil.Assign(t, env.EvaluationSvc, expr2.Target(), "evaluator-1", tree.Template.ID)
	ev3 := testutil.Assign(t, env.EvaluationSvc, expr1.Target(), "evaluator-2", tree.Template.ID)

	ids := func(evs []evaluation.Evaluation) []string {
		var ids []string
		for _, ev := range evs {
			ids = append(ids, ev.ID)
		}
		return ids
	}
	tests := []struct {
		name   string
		filter evaluation.QueryFilter
		want   []string
	}{
		{name: "all, in creation order", want: []string{ev1.ID, ev2.ID, ev3.ID}},
		{name: "by evaluator", filter: evaluation.QueryFilter{EvaluatorID: "evaluator-1"}, want: []string{ev1.ID, ev2.ID}},
		{name: "by target", filter: evaluation.QueryFilter{TargetKind: submission.KindExpression, TargetID: expr1.ID}, want: []string{ev1.ID, ev3.ID}},
		{name: "by template", filter: evaluation.QueryFilter{TemplateID: tree.Template.ID}, want: []string{ev1.ID, ev2.ID, ev3.ID}},
		{name: "by status", filter: evaluation.QueryFilter{Status: evaluation.StatusCompleted}},
		{name: "unknown target", filter: evaluation.QueryFilter{TargetID: "lol"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs, err := env.EvaluationSvc.Query(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(evs))
		})
	}
}

func TestService_Submit_concurrent(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	tree := testutil.CreateScoredTemplate(t, env.RubricSvc, "5", "5")
	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	ev := testutil.Assign(t, env.EvaluationSvc, expr.Target(), "evaluator-1", tree.Template.ID)

	const n = 5
	var (
		wg   sync.WaitGroup
		errs = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = env.EvaluationSvc.Submit(ctx, ev.ID, ev.EvaluatorID, testutil.Answers(tree, "0.8"))
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, core.IsState(err), "got %v", err)
	}
	assert.Equal(t, 1, succeeded)

	responses, err := env.EvaluationSvc.Responses(ctx, ev.ID)
	require.NoError(t, err)
	assert.Len(t, responses, 2)
}
