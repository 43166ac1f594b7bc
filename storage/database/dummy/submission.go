package dummydb

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core/submission"
)

type submissionRepository struct {
	db *DB
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db *DB) submission.Repository {
	return &submissionRepository{db: db}
}

func (repo *submissionRepository) CreateExpression(ctx context.Context, expr submission.Expression) (submission.Expression, error) {
	err := repo.db.write(ctx, func() error {
		repo.db.expressions[expr.ID] = expr
		return nil
	})
	return expr, err
}

func (repo *submissionRepository) GetExpression(ctx context.Context, id string) (submission.Expression, error) {
	var expr submission.Expression
	err := repo.db.read(ctx, func() error {
		var ok bool
		if expr, ok = repo.db.expressions[id]; !ok {
			return submission.ErrExpressionNotFound
		}
		return nil
	})
	return expr, err
}

func (repo *submissionRepository) UpdateExpression(ctx context.Context, expr submission.Expression) (submission.Expression, error) {
	err := repo.db.write(ctx, func() error {
		orig, ok := repo.db.expressions[expr.ID]
		if !ok {
			return submission.ErrExpressionNotFound
		}
		expr.Base.CallID = orig.Base.CallID
		expr.Base.OwnerID = orig.Base.OwnerID
		expr.Base.OwnerEmail = orig.Base.OwnerEmail
		expr.CreatedAt = orig.CreatedAt
		repo.db.expressions[expr.ID] = expr
		return nil
	})
	return expr, err
}

func (repo *submissionRepository) CreateProposal(ctx context.Context, prop submission.Proposal) (submission.Proposal, error) {
	err := repo.db.write(ctx, func() error {
		if _, ok := repo.db.expressions[prop.ExpressionID]; !ok {
			return submission.ErrExpressionNotFound
		}
		for _, p := range repo.db.proposals {
			if p.ExpressionID == prop.ExpressionID {
				return submission.ErrProposalExists
			}
		}
		repo.db.proposals[prop.ID] = prop
		return nil
	})
	return prop, err
}

func (repo *submissionRepository) GetProposal(ctx context.Context, id string) (submission.Proposal, error) {
	var prop submission.Proposal
	err := repo.db.read(ctx, func() error {
		var ok bool
		if prop, ok = repo.db.proposals[id]; !ok {
			return submission.ErrProposalNotFound
		}
		return nil
	})
	return prop, err
}

func (repo *submissionRepository) GetProposalByExpression(ctx context.Context, expressionID string) (submission.Proposal, error) {
	var prop submission.Proposal
	err := repo.db.read(ctx, func() error {
		for _, p := range repo.db.proposals {
			if p.ExpressionID == expressionID {
				prop = p
				return nil
			}
		}
		return submission.ErrProposalNotFound
	})
	return prop, err
}

func (repo *submissionRepository) UpdateProposal(ctx context.Context, prop submission.Proposal) (submission.Proposal, error) {
	err := repo.db.write(ctx, func() error {
		orig, ok := repo.db.proposals[prop.ID]
		if !ok {
			return submission.ErrProposalNotFound
		}
		prop.ExpressionID = orig.ExpressionID
		prop.Base.CallID = orig.Base.CallID
		prop.Base.OwnerID = orig.Base.OwnerID
		prop.Base.OwnerEmail = orig.Base.OwnerEmail
		prop.CreatedAt = orig.CreatedAt
		repo.db.proposals[prop.ID] = prop
		return nil
	})
	return prop, err
}

// LockTarget only checks the target exists: the transaction in ctx already holds the DB lock.
func (repo *submissionRepository) LockTarget(ctx context.Context, target submission.Target) error {
	if !repo.db.inTx(ctx) {
		return errors.New("locking a submission requires a transaction")
	}
	switch target.Kind {
	case submission.KindExpression:
		if _, ok := repo.db.expressions[target.ID]; !ok {
			return submission.ErrExpressionNotFound
		}
	case submission.KindProposal:
		if _, ok := repo.db.proposals[target.ID]; !ok {
			return submission.ErrProposalNotFound
		}
	default:
		return submission.ErrInvalidKind
	}
	return nil
}
