package submission

import (
	"context"

	"github.com/trezcool/convoca/core"
)

var (
	// errors
	ErrExpressionNotFound = core.NewNotFoundError("expression")
	ErrProposalNotFound   = core.NewNotFoundError("proposal")
	ErrProposalExists     = core.NewStateError("a proposal already exists for this expression")
)

// Repository persists Expressions and Proposals.
// Implementations join the transaction carried by ctx, if any.
type Repository interface {
	CreateExpression(ctx context.Context, expr Expression) (Expression, error)
	GetExpression(ctx context.Context, id string) (Expression, error)
	UpdateExpression(ctx context.Context, expr Expression) (Expression, error)

	// CreateProposal fails with ErrProposalExists when the expression already has a proposal.
	CreateProposal(ctx context.Context, prop Proposal) (Proposal, error)
	GetProposal(ctx context.Context, id string) (Proposal, error)
	GetProposalByExpression(ctx context.Context, expressionID string) (Proposal, error)
	UpdateProposal(ctx context.Context, prop Proposal) (Proposal, error)

	// LockTarget holds an exclusive lock on the target until the transaction in ctx ends.
	LockTarget(ctx context.Context, target Target) error
}
