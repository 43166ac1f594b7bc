package sqlxrepos

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/submission"
	"github.com/trezcool/convoca/storage/database"
)

type evaluationRepository struct {
	db *sqlx.DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil) // interface compliance check

func NewEvaluationRepository(db *sqlx.DB) evaluation.Repository {
	return &evaluationRepository{db: db}
}

func (repo *evaluationRepository) exec(ctx context.Context) sqlx.ExtContext {
	return database.Executor(ctx, repo.db)
}

const (
	evaluationColumns = `id, target_kind, target_id, evaluator_id, template_id, status, total_score, max_possible_score,
		submitted_at, is_positive, is_validated, coordinator_notes, created_by, created_at, updated_at`
	responseColumns = `id, evaluation_id, item_id, value, score, comment, created_at, updated_at`
)

func (repo *evaluationRepository) CreateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	q := `INSERT INTO evaluation (` + evaluationColumns + `)
		VALUES (:id, :target_kind, :target_id, :evaluator_id, :template_id, :status, :total_score, :max_possible_score,
			:submitted_at, :is_positive, :is_validated, :coordinator_notes, :created_by, :created_at, :updated_at)
		ON CONFLICT ON CONSTRAINT evaluation_assignment_key DO NOTHING`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, ev)
	if database.IsForeignKeyViolation(err) {
		return evaluation.Evaluation{}, core.NewValidationError(err, core.FieldError{Field: "template_id", Error: "template not found"})
	}
	if err = mustAffect(res, err, evaluation.ErrExists); err != nil {
		return evaluation.Evaluation{}, errors.Wrap(err, "inserting evaluation")
	}
	return ev, nil
}

func (repo *evaluationRepository) GetEvaluation(ctx context.Context, id string) (evaluation.Evaluation, error) {
	var ev evaluation.Evaluation
	q := `SELECT ` + evaluationColumns + ` FROM evaluation WHERE id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &ev, q, id); err != nil {
		return evaluation.Evaluation{}, notFound(err, evaluation.ErrNotFound)
	}
	return ev, nil
}

// LockEvaluation takes a row lock (SELECT ... FOR UPDATE) held until the transaction ends.
func (repo *evaluationRepository) LockEvaluation(ctx context.Context, id string) (evaluation.Evaluation, error) {
	if !database.InTx(ctx) {
		return evaluation.Evaluation{}, errors.New("locking an evaluation requires a transaction")
	}
	var ev evaluation.Evaluation
	q := `SELECT ` + evaluationColumns + ` FROM evaluation WHERE id = $1 FOR UPDATE`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &ev, q, id); err != nil {
		return evaluation.Evaluation{}, notFound(err, evaluation.ErrNotFound)
	}
	return ev, nil
}

func (repo *evaluationRepository) GetEvaluationByAssignment(ctx context.Context, target submission.Target, evaluatorID string) (evaluation.Evaluation, error) {
	var ev evaluation.Evaluation
	q := `SELECT ` + evaluationColumns + ` FROM evaluation WHERE target_kind = $1 AND target_id = $2 AND evaluator_id = $3`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &ev, q, target.Kind, target.ID, evaluatorID); err != nil {
		return evaluation.Evaluation{}, notFound(err, evaluation.ErrNotFound)
	}
	return ev, nil
}

func (repo *evaluationRepository) QueryEvaluations(ctx context.Context, filter evaluation.QueryFilter) ([]evaluation.Evaluation, error) {
	var (
		conds []string
		args  []interface{}
	)
	where := func(col string, val interface{}) {
		args = append(args, val)
		conds = append(conds, col+" = $"+itoa(len(args)))
	}
	if filter.TargetKind != "" {
		where("target_kind", filter.TargetKind)
	}
	if filter.TargetID != "" {
		where("target_id", filter.TargetID)
	}
	if filter.EvaluatorID != "" {
		where("evaluator_id", filter.EvaluatorID)
	}
	if filter.TemplateID != "" {
		where("template_id", filter.TemplateID)
	}
	if filter.Status != "" {
		where("status", filter.Status)
	}

	q := `SELECT ` + evaluationColumns + ` FROM evaluation`
	for i, c := range conds {
		if i == 0 {
			q += ` WHERE ` + c
		} else {
			q += ` AND ` + c
		}
	}
	q += ` ORDER BY id`

	evals := make([]evaluation.Evaluation, 0)
	if err := sqlx.SelectContext(ctx, repo.exec(ctx), &evals, q, args...); err != nil {
		if database.IsInvalidText(err) {
			return evals, nil
		}
		return nil, errors.Wrap(err, "selecting evaluations")
	}
	return evals, nil
}

func (repo *evaluationRepository) UpdateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	q := `UPDATE evaluation SET
			template_id = :template_id, status = :status, total_score = :total_score,
			max_possible_score = :max_possible_score, submitted_at = :submitted_at, is_positive = :is_positive,
			is_validated = :is_validated, coordinator_notes = :coordinator_notes, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, ev)
	if err = mustAffect(res, err, evaluation.ErrNotFound); err != nil {
		return evaluation.Evaluation{}, errors.Wrap(err, "updating evaluation")
	}
	return ev, nil
}

func (repo *evaluationRepository) UpdateScoreCache(ctx context.Context, id string, maxPossibleScore decimal.Decimal, isPositive bool) error {
	q := `UPDATE evaluation SET max_possible_score = $2, is_positive = $3, updated_at = $4 WHERE id = $1`
	res, err := repo.exec(ctx).ExecContext(ctx, q, id, maxPossibleScore, isPositive, time.Now().UTC())
	return errors.Wrap(mustAffect(res, err, evaluation.ErrNotFound), "updating evaluation score cache")
}

func (repo *evaluationRepository) DeleteEvaluation(ctx context.Context, id string) error {
	res, err := repo.exec(ctx).ExecContext(ctx, `DELETE FROM evaluation WHERE id = $1`, id)
	if database.IsInvalidText(err) {
		return evaluation.ErrNotFound
	}
	return errors.Wrap(mustAffect(res, err, evaluation.ErrNotFound), "deleting evaluation")
}

// Responses

func (repo *evaluationRepository) SaveResponses(ctx context.Context, evaluationID string, responses []evaluation.Response) ([]evaluation.Response, error) {
	if len(responses) == 0 {
		return repo.GetResponses(ctx, evaluationID)
	}
	now := time.Now().UTC()
	rows := make([]evaluation.Response, len(responses))
	for i, r := range responses {
		r.ID = core.NewID()
		r.EvaluationID = evaluationID
		r.CreatedAt = now
		r.UpdatedAt = now
		rows[i] = r
	}

	q := `INSERT INTO evaluation_response (` + responseColumns + `)
		VALUES (:id, :evaluation_id, :item_id, :value, :score, :comment, :created_at, :updated_at)
		ON CONFLICT (evaluation_id, item_id) DO UPDATE SET
			value = EXCLUDED.value, score = EXCLUDED.score, comment = EXCLUDED.comment, updated_at = EXCLUDED.updated_at`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, rows); err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, evaluation.ErrNotFound
		}
		return nil, errors.Wrap(err, "upserting responses")
	}
	return repo.GetResponses(ctx, evaluationID)
}

func (repo *evaluationRepository) GetResponses(ctx context.Context, evaluationID string) ([]evaluation.Response, error) {
	resps := make([]evaluation.Response, 0)
	q := `SELECT ` + responseColumns + ` FROM evaluation_response WHERE evaluation_id = $1 ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, repo.exec(ctx), &resps, q, evaluationID); err != nil {
		if database.IsInvalidText(err) {
			return resps, nil
		}
		return nil, errors.Wrap(err, "selecting responses")
	}
	return resps, nil
}

// Counts

func (repo *evaluationRepository) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	var n int
	q := `SELECT count(*) FROM evaluation WHERE template_id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &n, q, templateID); err != nil {
		if database.IsInvalidText(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "counting evaluations")
	}
	return n, nil
}

func (repo *evaluationRepository) CountResponsesByItems(ctx context.Context, itemIDs ...string) (int, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}
	var n int
	q := `SELECT count(*) FROM evaluation_response WHERE item_id = ANY($1::uuid[])`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &n, q, pq.Array(itemIDs)); err != nil {
		return 0, errors.Wrap(err, "counting responses")
	}
	return n, nil
}
