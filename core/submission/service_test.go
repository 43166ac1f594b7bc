package submission_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/submission"
	"github.com/trezcool/convoca/tests"
)

func TestService_CreateExpression(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		ne        submission.NewExpression
		wantField string
	}{
		{name: "missing call", ne: submission.NewExpression{OwnerID: "r", ProjectTitle: "T"}, wantField: "call_id"},
		{name: "missing owner", ne: submission.NewExpression{CallID: "c", ProjectTitle: "T"}, wantField: "owner_id"},
		{name: "blank title", ne: submission.NewExpression{CallID: "c", OwnerID: "r", ProjectTitle: " "}, wantField: "project_title"},
		{name: "invalid email", ne: submission.NewExpression{CallID: "c", OwnerID: "r", ProjectTitle: "T", OwnerEmail: "lol"}, wantField: "owner_email"},
		{name: "valid", ne: submission.NewExpression{CallID: " c ", OwnerID: "r", ProjectTitle: "Title", OwnerEmail: "R@Test.cd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := env.SubmissionSvc.CreateExpression(ctx, tt.ne)
			if tt.wantField != "" {
				require.True(t, core.IsValidation(err), "got %v", err)
				assert.Contains(t, err.(*core.ValidationError).FieldMap(), tt.wantField)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, submission.StatusDraft, expr.Status)
			assert.Equal(t, "c", expr.CallID())
			assert.Equal(t, "r@test.cd", expr.OwnerEmail())
			assert.False(t, expr.SubmittedAt.Valid)

			got, err := env.SubmissionSvc.GetExpression(ctx, expr.ID)
			require.NoError(t, err)
			assert.Equal(t, expr, got)
		})
	}
}

func TestService_SubmitExpression(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	expr := testutil.CreateExpression(t, env.SubmissionSvc, false)
	submitted, err := env.SubmissionSvc.SubmitExpression(ctx, expr.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSubmitted, submitted.Status)
	assert.True(t, submitted.SubmittedAt.Valid)

	_, err = env.SubmissionSvc.SubmitExpression(ctx, expr.ID)
	assert.True(t, core.IsState(err), "got %v", err)
	_, err = env.SubmissionSvc.SubmitExpression(ctx, "lol")
	assert.Equal(t, submission.ErrExpressionNotFound, err)
}

func TestService_proposals(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	prop, err := env.SubmissionSvc.Promote(ctx, expr)
	require.NoError(t, err)
	assert.Equal(t, expr.ID, prop.ExpressionID)
	assert.Equal(t, submission.StatusDraft, prop.Status)
	assert.Equal(t, expr.Base, prop.Base)

	_, err = env.SubmissionSvc.Promote(ctx, expr)
	assert.Equal(t, submission.ErrProposalExists, err)

	byExpr, err := env.SubmissionSvc.GetProposalByExpression(ctx, expr.ID)
	require.NoError(t, err)
	assert.Equal(t, prop.ID, byExpr.ID)

	tests := []struct {
		name      string
		up        submission.UpdateProposal
		wantField string
	}{
		{name: "no duration", up: submission.UpdateProposal{Summary: "S"}, wantField: "duration_months"},
		{name: "too long", up: submission.UpdateProposal{DurationMonths: 121, Summary: "S"}, wantField: "duration_months"},
		{name: "blank summary", up: submission.UpdateProposal{DurationMonths: 12, Summary: "  "}, wantField: "summary"},
		{name: "valid", up: submission.UpdateProposal{DurationMonths: 12, Summary: " Field work "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated, err := env.SubmissionSvc.UpdateProposal(ctx, prop.ID, tt.up)
			if tt.wantField != "" {
				require.True(t, core.IsValidation(err), "got %v", err)
				assert.Contains(t, err.(*core.ValidationError).FieldMap(), tt.wantField)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 12, updated.DurationMonths)
			assert.Equal(t, "Field work", updated.Summary)
			assert.Equal(t, expr.Base, updated.Base)
		})
	}

	submitted, err := env.SubmissionSvc.SubmitProposal(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.StatusSubmitted, submitted.Status)

	_, err = env.SubmissionSvc.UpdateProposal(ctx, prop.ID, submission.UpdateProposal{DurationMonths: 6, Summary: "S"})
	assert.True(t, core.IsState(err), "got %v", err)
	_, err = env.SubmissionSvc.SubmitProposal(ctx, prop.ID)
	assert.True(t, core.IsState(err), "got %v", err)

	require.NoError(t, env.SubmissionSvc.Approve(ctx, prop.Target()))
	approved, err := env.SubmissionSvc.GetProposal(ctx, prop.ID)
	require.NoError(t, err)
	assert.True(t, approved.IsApproved())
	assert.Equal(t, submission.StatusApprovedForFunding, approved.CurrentStatus())
}

func TestService_Load(t *testing.T) {
	env := testutil.NewEnv(t)
	ctx := context.Background()

	expr := testutil.CreateExpression(t, env.SubmissionSvc, true)
	prop, err := env.SubmissionSvc.Promote(ctx, expr)
	require.NoError(t, err)

	tests := []struct {
		name      string
		target    submission.Target
		wantTitle string
		wantErr   func(error) bool
	}{
		{name: "expression", target: expr.Target(), wantTitle: expr.Title},
		{name: "proposal", target: prop.Target(), wantTitle: prop.Title},
		{name: "unknown expression", target: submission.ExpressionTarget("lol"), wantErr: core.IsNotFound},
		{name: "unknown proposal", target: submission.ProposalTarget("lol"), wantErr: core.IsNotFound},
		{name: "unknown kind", target: submission.Target{Kind: "lol", ID: expr.ID}, wantErr: core.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := env.SubmissionSvc.Load(ctx, tt.target)
			if tt.wantErr != nil {
				assert.True(t, tt.wantErr(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, sub.Target())
			assert.Equal(t, tt.wantTitle, sub.ProjectTitle())
			assert.Equal(t, testutil.CallID, sub.CallID())
			assert.Equal(t, testutil.Researcher, sub.OwnerID())
			assert.False(t, sub.IsApproved())
		})
	}

	// locking needs a transaction
	_, err = env.SubmissionSvc.LockAndLoad(ctx, expr.Target())
	assert.Error(t, err)
	err = env.Repos.Tx.WithinTx(ctx, func(ctx context.Context) error {
		sub, err := env.SubmissionSvc.LockAndLoad(ctx, expr.Target())
		if err == nil {
			assert.Equal(t, submission.StatusSubmitted, sub.CurrentStatus())
		}
		return err
	})
	assert.NoError(t, err)
}
