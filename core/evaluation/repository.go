package evaluation

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/submission"
)

var (
	// errors
	ErrNotFound = core.NewNotFoundError("evaluation")
	ErrExists   = core.NewStateError("this evaluator is already assigned to this target")
)

// Repository persists Evaluations and their Responses.
// Implementations join the transaction carried by ctx, if any.
type Repository interface {
	// CreateEvaluation fails with ErrExists when the evaluator is already assigned to the target,
	// without aborting the transaction in ctx.
	CreateEvaluation(ctx context.Context, ev Evaluation) (Evaluation, error)
	GetEvaluation(ctx context.Context, id string) (Evaluation, error)
	// LockEvaluation loads an evaluation and locks it until the transaction in ctx ends. It requires a transaction.
	LockEvaluation(ctx context.Context, id string) (Evaluation, error)
	GetEvaluationByAssignment(ctx context.Context, target submission.Target, evaluatorID string) (Evaluation, error)
	// QueryEvaluations applies AND operation on available QueryFilter fields, ordered by creation.
	QueryEvaluations(ctx context.Context, filter QueryFilter) ([]Evaluation, error)
	UpdateEvaluation(ctx context.Context, ev Evaluation) (Evaluation, error)
	// UpdateScoreCache only writes the cached score fields of an evaluation.
	UpdateScoreCache(ctx context.Context, id string, maxPossibleScore decimal.Decimal, isPositive bool) error
	// DeleteEvaluation cascades to the evaluation's responses.
	DeleteEvaluation(ctx context.Context, id string) error

	// SaveResponses upserts responses by (evaluation, item).
	SaveResponses(ctx context.Context, evaluationID string, responses []Response) ([]Response, error)
	GetResponses(ctx context.Context, evaluationID string) ([]Response, error)

	CountByTemplate(ctx context.Context, templateID string) (int, error)
	CountResponsesByItems(ctx context.Context, itemIDs ...string) (int, error)
}
