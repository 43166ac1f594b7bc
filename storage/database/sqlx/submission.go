package sqlxrepos

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core/submission"
	"github.com/trezcool/convoca/storage/database"
)

type submissionRepository struct {
	db *sqlx.DB
}

var _ submission.Repository = (*submissionRepository)(nil) // interface compliance check

func NewSubmissionRepository(db *sqlx.DB) submission.Repository {
	return &submissionRepository{db: db}
}

func (repo *submissionRepository) exec(ctx context.Context) sqlx.ExtContext {
	return database.Executor(ctx, repo.db)
}

const (
	baseColumns       = `call_id, owner_id, owner_email, project_title, problem, general_objective, methodology`
	baseValues        = `:call_id, :owner_id, :owner_email, :project_title, :problem, :general_objective, :methodology`
	expressionColumns = `id, ` + baseColumns + `, status, submitted_at, created_at, updated_at`
	proposalColumns   = `id, expression_id, ` + baseColumns + `, duration_months, summary, status, submitted_at, created_at, updated_at`
)

func (repo *submissionRepository) CreateExpression(ctx context.Context, expr submission.Expression) (submission.Expression, error) {
	q := `INSERT INTO expression (` + expressionColumns + `)
		VALUES (:id, ` + baseValues + `, :status, :submitted_at, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, expr); err != nil {
		return submission.Expression{}, errors.Wrap(err, "inserting expression")
	}
	return expr, nil
}

func (repo *submissionRepository) GetExpression(ctx context.Context, id string) (submission.Expression, error) {
	var expr submission.Expression
	q := `SELECT ` + expressionColumns + ` FROM expression WHERE id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &expr, q, id); err != nil {
		return submission.Expression{}, notFound(err, submission.ErrExpressionNotFound)
	}
	return expr, nil
}

func (repo *submissionRepository) UpdateExpression(ctx context.Context, expr submission.Expression) (submission.Expression, error) {
	q := `UPDATE expression SET
			project_title = :project_title, problem = :problem, general_objective = :general_objective,
			methodology = :methodology, status = :status, submitted_at = :submitted_at, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, expr)
	if err = mustAffect(res, err, submission.ErrExpressionNotFound); err != nil {
		return submission.Expression{}, errors.Wrap(err, "updating expression")
	}
	return expr, nil
}

func (repo *submissionRepository) CreateProposal(ctx context.Context, prop submission.Proposal) (submission.Proposal, error) {
	q := `INSERT INTO proposal (` + proposalColumns + `)
		VALUES (:id, :expression_id, ` + baseValues + `, :duration_months, :summary, :status, :submitted_at, :created_at, :updated_at)
		ON CONFLICT (expression_id) DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, prop)
	if database.IsForeignKeyViolation(err) {
		return submission.Proposal{}, submission.ErrExpressionNotFound
	}
	if err = mustAffect(res, err, submission.ErrProposalExists); err != nil {
		return submission.Proposal{}, errors.Wrap(err, "inserting proposal")
	}
	return prop, nil
}

func (repo *submissionRepository) GetProposal(ctx context.Context, id string) (submission.Proposal, error) {
	var prop submission.Proposal
	q := `SELECT ` + proposalColumns + ` FROM proposal WHERE id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &prop, q, id); err != nil {
		return submission.Proposal{}, notFound(err, submission.ErrProposalNotFound)
	}
	return prop, nil
}

func (repo *submissionRepository) GetProposalByExpression(ctx context.Context, expressionID string) (submission.Proposal, error) {
	var prop submission.Proposal
	q := `SELECT ` + proposalColumns + ` FROM proposal WHERE expression_id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &prop, q, expressionID); err != nil {
		return submission.Proposal{}, notFound(err, submission.ErrProposalNotFound)
	}
	return prop, nil
}

func (repo *submissionRepository) UpdateProposal(ctx context.Context, prop submission.Proposal) (submission.Proposal, error) {
	q := `UPDATE proposal SET
			project_title = :project_title, problem = :problem, general_objective = :general_objective,
			methodology = :methodology, duration_months = :duration_months, summary = :summary,
			status = :status, submitted_at = :submitted_at, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, prop)
	if err = mustAffect(res, err, submission.ErrProposalNotFound); err != nil {
		return submission.Proposal{}, errors.Wrap(err, "updating proposal")
	}
	return prop, nil
}

// LockTarget takes a row lock (SELECT ... FOR UPDATE) held until the transaction ends.
func (repo *submissionRepository) LockTarget(ctx context.Context, target submission.Target) error {
	if !database.InTx(ctx) {
		return errors.New("locking a submission requires a transaction")
	}
	var (
		q           string
		errNotFound error
	)
	switch target.Kind {
	case submission.KindExpression:
		q, errNotFound = `SELECT id FROM expression WHERE id = $1 FOR UPDATE`, submission.ErrExpressionNotFound
	case submission.KindProposal:
		q, errNotFound = `SELECT id FROM proposal WHERE id = $1 FOR UPDATE`, submission.ErrProposalNotFound
	default:
		return submission.ErrInvalidKind
	}
	var id string
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &id, q, target.ID); err != nil {
		return notFound(err, errNotFound)
	}
	return nil
}
