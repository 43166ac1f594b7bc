package submission

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/convoca/core"
)

var ErrInvalidKind = errors.New("invalid submission kind")

type Service struct {
	tx        core.Transactor
	repo      Repository
	validator *core.Validator
}

func NewService(tx core.Transactor, repo Repository, validator *core.Validator) *Service {
	return &Service{tx: tx, repo: repo, validator: validator}
}

func (svc *Service) CreateExpression(ctx context.Context, ne NewExpression) (Expression, error) {
	if err := ne.Validate(svc.validator); err != nil {
		return Expression{}, err
	}
	now := time.Now().UTC()
	return svc.repo.CreateExpression(ctx, Expression{
		ID: core.NewID(),
		Base: Base{
			CallID:           ne.CallID,
			OwnerID:          ne.OwnerID,
			OwnerEmail:       ne.OwnerEmail,
			Title:            ne.ProjectTitle,
			Problem:          ne.Problem,
			GeneralObjective: ne.GeneralObjective,
			Methodology:      ne.Methodology,
		},
		Status:    StatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (svc *Service) GetExpression(ctx context.Context, id string) (Expression, error) {
	return svc.repo.GetExpression(ctx, id)
}

func (svc *Service) GetProposal(ctx context.Context, id string) (Proposal, error) {
	return svc.repo.GetProposal(ctx, id)
}

func (svc *Service) GetProposalByExpression(ctx context.Context, expressionID string) (Proposal, error) {
	return svc.repo.GetProposalByExpression(ctx, expressionID)
}

// SubmitExpression moves a draft expression to submitted, which makes it assignable to evaluators.
func (svc *Service) SubmitExpression(ctx context.Context, id string) (Expression, error) {
	var expr Expression
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.LockTarget(ctx, ExpressionTarget(id)); err != nil {
			return err
		}
		var err error
		if expr, err = svc.repo.GetExpression(ctx, id); err != nil {
			return err
		}
		if expr.Status != StatusDraft {
			return core.NewStateError("only draft expressions can be submitted")
		}
		now := time.Now().UTC()
		expr.Status = StatusSubmitted
		expr.SubmittedAt = null.TimeFrom(now)
		expr.UpdatedAt = now
		expr, err = svc.repo.UpdateExpression(ctx, expr)
		return err
	})
	return expr, err
}

// UpdateProposal defines what a researcher completes on a draft Proposal.
type UpdateProposal struct {
	DurationMonths int    `json:"duration_months" validate:"min=1,max=120"`
	Summary        string `json:"summary" validate:"notblank"`
}

func (up *UpdateProposal) Validate(v *core.Validator) error {
	up.Summary = core.CleanString(up.Summary)
	return v.Struct(up)
}

func (svc *Service) UpdateProposal(ctx context.Context, id string, up UpdateProposal) (Proposal, error) {
	if err := up.Validate(svc.validator); err != nil {
		return Proposal{}, err
	}
	var prop Proposal
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if prop, err = svc.repo.GetProposal(ctx, id); err != nil {
			return err
		}
		if prop.Status != StatusDraft {
			return core.NewStateError("only draft proposals can be edited")
		}
		prop.DurationMonths = up.DurationMonths
		prop.Summary = up.Summary
		prop.UpdatedAt = time.Now().UTC()
		prop, err = svc.repo.UpdateProposal(ctx, prop)
		return err
	})
	return prop, err
}

func (svc *Service) SubmitProposal(ctx context.Context, id string) (Proposal, error) {
	var prop Proposal
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := svc.repo.LockTarget(ctx, ProposalTarget(id)); err != nil {
			return err
		}
		var err error
		if prop, err = svc.repo.GetProposal(ctx, id); err != nil {
			return err
		}
		if prop.Status != StatusDraft {
			return core.NewStateError("only draft proposals can be submitted")
		}
		now := time.Now().UTC()
		prop.Status = StatusSubmitted
		prop.SubmittedAt = null.TimeFrom(now)
		prop.UpdatedAt = now
		prop, err = svc.repo.UpdateProposal(ctx, prop)
		return err
	})
	return prop, err
}

// Load resolves a Target into the submission it points to.
func (svc *Service) Load(ctx context.Context, target Target) (Submission, error) {
	switch target.Kind {
	case KindExpression:
		expr, err := svc.repo.GetExpression(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		return &expr, nil
	case KindProposal:
		prop, err := svc.repo.GetProposal(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		return &prop, nil
	}
	return nil, core.NewValidationError(ErrInvalidKind, core.FieldError{Field: "target_kind", Error: ErrInvalidKind.Error()})
}

// LockAndLoad locks the target until the transaction in ctx ends, then loads it.
func (svc *Service) LockAndLoad(ctx context.Context, target Target) (Submission, error) {
	if !target.Kind.Valid() {
		return nil, core.NewValidationError(ErrInvalidKind, core.FieldError{Field: "target_kind", Error: ErrInvalidKind.Error()})
	}
	if err := svc.repo.LockTarget(ctx, target); err != nil {
		return nil, err
	}
	return svc.Load(ctx, target)
}

// Approve moves an expression to approved, or a proposal to approved for funding.
func (svc *Service) Approve(ctx context.Context, target Target) error {
	now := time.Now().UTC()
	switch target.Kind {
	case KindExpression:
		expr, err := svc.repo.GetExpression(ctx, target.ID)
		if err != nil {
			return err
		}
		expr.Status = StatusApproved
		expr.UpdatedAt = now
		_, err = svc.repo.UpdateExpression(ctx, expr)
		return err
	case KindProposal:
		prop, err := svc.repo.GetProposal(ctx, target.ID)
		if err != nil {
			return err
		}
		prop.Status = StatusApprovedForFunding
		prop.UpdatedAt = now
		_, err = svc.repo.UpdateProposal(ctx, prop)
		return err
	}
	return ErrInvalidKind
}

// Promote creates the draft Proposal extending an approved Expression.
func (svc *Service) Promote(ctx context.Context, expr Expression) (Proposal, error) {
	now := time.Now().UTC()
	return svc.repo.CreateProposal(ctx, Proposal{
		ID:           core.NewID(),
		ExpressionID: expr.ID,
		Base:         expr.Base,
		Status:       StatusDraft,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}
