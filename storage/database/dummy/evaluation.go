package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/submission"
)

type evaluationRepository struct {
	db *DB
}

var _ evaluation.Repository = (*evaluationRepository)(nil) // interface compliance check

func NewEvaluationRepository(db *DB) evaluation.Repository {
	return &evaluationRepository{db: db}
}

func (repo *evaluationRepository) byAssignment(target submission.Target, evaluatorID string) (evaluation.Evaluation, bool) {
	for _, ev := range repo.db.evaluations {
		if ev.Target() == target && ev.EvaluatorID == evaluatorID {
			return ev, true
		}
	}
	return evaluation.Evaluation{}, false
}

func (repo *evaluationRepository) CreateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	err := repo.db.write(ctx, func() error {
		if _, exists := repo.byAssignment(ev.Target(), ev.EvaluatorID); exists {
			return evaluation.ErrExists
		}
		if ev.TemplateID.Valid {
			if _, ok := repo.db.templates[ev.TemplateID.String]; !ok {
				return core.NewValidationError(nil, core.FieldError{Field: "template_id", Error: "template not found"})
			}
		}
		repo.db.evaluations[ev.ID] = ev
		return nil
	})
	return ev, err
}

func (repo *evaluationRepository) GetEvaluation(ctx context.Context, id string) (evaluation.Evaluation, error) {
	var ev evaluation.Evaluation
	err := repo.db.read(ctx, func() error {
		var ok bool
		if ev, ok = repo.db.evaluations[id]; !ok {
			return evaluation.ErrNotFound
		}
		return nil
	})
	return ev, err
}

// LockEvaluation is GetEvaluation within a transaction, which already holds the DB lock.
func (repo *evaluationRepository) LockEvaluation(ctx context.Context, id string) (evaluation.Evaluation, error) {
	if !repo.db.inTx(ctx) {
		return evaluation.Evaluation{}, errors.New("locking an evaluation requires a transaction")
	}
	return repo.GetEvaluation(ctx, id)
}

func (repo *evaluationRepository) GetEvaluationByAssignment(ctx context.Context, target submission.Target, evaluatorID string) (evaluation.Evaluation, error) {
	var ev evaluation.Evaluation
	err := repo.db.read(ctx, func() error {
		var ok bool
		if ev, ok = repo.byAssignment(target, evaluatorID); !ok {
			return evaluation.ErrNotFound
		}
		return nil
	})
	return ev, err
}

func (repo *evaluationRepository) QueryEvaluations(ctx context.Context, filter evaluation.QueryFilter) ([]evaluation.Evaluation, error) {
	evals := make([]evaluation.Evaluation, 0)
	err := repo.db.read(ctx, func() error {
		for _, ev := range repo.db.evaluations {
			if filter.Matches(ev) {
				evals = append(evals, ev)
			}
		}
		return nil
	})
	sort.Slice(evals, func(i, j int) bool { return evals[i].ID < evals[j].ID })
	return evals, err
}

func (repo *evaluationRepository) UpdateEvaluation(ctx context.Context, ev evaluation.Evaluation) (evaluation.Evaluation, error) {
	err := repo.db.write(ctx, func() error {
		orig, ok := repo.db.evaluations[ev.ID]
		if !ok {
			return evaluation.ErrNotFound
		}
		ev.TargetKind = orig.TargetKind
		ev.TargetID = orig.TargetID
		ev.EvaluatorID = orig.EvaluatorID
		ev.CreatedBy = orig.CreatedBy
		ev.CreatedAt = orig.CreatedAt
		repo.db.evaluations[ev.ID] = ev
		return nil
	})
	return ev, err
}

func (repo *evaluationRepository) UpdateScoreCache(ctx context.Context, id string, maxPossibleScore decimal.Decimal, isPositive bool) error {
	return repo.db.write(ctx, func() error {
		ev, ok := repo.db.evaluations[id]
		if !ok {
			return evaluation.ErrNotFound
		}
		ev.MaxPossibleScore = maxPossibleScore
		ev.IsPositive = isPositive
		ev.UpdatedAt = time.Now().UTC()
		repo.db.evaluations[id] = ev
		return nil
	})
}

func (repo *evaluationRepository) DeleteEvaluation(ctx context.Context, id string) error {
	return repo.db.write(ctx, func() error {
		if _, ok := repo.db.evaluations[id]; !ok {
			return evaluation.ErrNotFound
		}
		for respID, resp := range repo.db.responses {
			if resp.EvaluationID == id {
				delete(repo.db.responses, respID)
			}
		}
		delete(repo.db.evaluations, id)
		return nil
	})
}

// Responses

func copyResponse(r evaluation.Response) evaluation.Response {
	r.Value = append(types.JSONText{}, r.Value...)
	return r
}

func (repo *evaluationRepository) SaveResponses(ctx context.Context, evaluationID string, responses []evaluation.Response) ([]evaluation.Response, error) {
	err := repo.db.write(ctx, func() error {
		if _, ok := repo.db.evaluations[evaluationID]; !ok {
			return evaluation.ErrNotFound
		}
		existing := make(map[string]evaluation.Response)
		for _, resp := range repo.db.responses {
			if resp.EvaluationID == evaluationID {
				existing[resp.ItemID] = resp
			}
		}

		now := time.Now().UTC()
		for _, r := range responses {
			if _, ok := repo.db.items[r.ItemID]; !ok {
				return core.NewReferentialIntegrityError("response item does not exist")
			}
			r = copyResponse(r)
			r.EvaluationID = evaluationID
			r.UpdatedAt = now
			if prev, ok := existing[r.ItemID]; ok {
				r.ID = prev.ID
				r.CreatedAt = prev.CreatedAt
			} else {
				r.ID = core.NewID()
				r.CreatedAt = now
			}
			repo.db.responses[r.ID] = r
			existing[r.ItemID] = r
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return repo.GetResponses(ctx, evaluationID)
}

func (repo *evaluationRepository) GetResponses(ctx context.Context, evaluationID string) ([]evaluation.Response, error) {
	resps := make([]evaluation.Response, 0)
	err := repo.db.read(ctx, func() error {
		for _, resp := range repo.db.responses {
			if resp.EvaluationID == evaluationID {
				resps = append(resps, copyResponse(resp))
			}
		}
		return nil
	})
	sort.Slice(resps, func(i, j int) bool {
		if !resps[i].CreatedAt.Equal(resps[j].CreatedAt) {
			return resps[i].CreatedAt.Before(resps[j].CreatedAt)
		}
		return resps[i].ID < resps[j].ID
	})
	return resps, err
}

// Counts

func (repo *evaluationRepository) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	var n int
	err := repo.db.read(ctx, func() error {
		for _, ev := range repo.db.evaluations {
			if ev.TemplateID.Valid && ev.TemplateID.String == templateID {
				n++
			}
		}
		return nil
	})
	return n, err
}

func (repo *evaluationRepository) CountResponsesByItems(ctx context.Context, itemIDs ...string) (int, error) {
	ids := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		ids[id] = true
	}
	var n int
	err := repo.db.read(ctx, func() error {
		for _, resp := range repo.db.responses {
			if ids[resp.ItemID] {
				n++
			}
		}
		return nil
	})
	return n, err
}
