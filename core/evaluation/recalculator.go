package evaluation

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/rubric"
)

// HierarchyLoader loads the stored rubric of a template.
type HierarchyLoader interface {
	GetHierarchy(ctx context.Context, templateID string) (rubric.Hierarchy, error)
}

// Recalculator keeps the cached scores of evaluations in sync with their template.
// It also tells the rubric which of its parts are still referenced.
type Recalculator struct {
	repo    Repository
	rubrics HierarchyLoader
	logger  core.Logger
}

var (
	_ rubric.Propagator = (*Recalculator)(nil) // interface compliance check
	_ rubric.Dependents = (*Recalculator)(nil)
)

func NewRecalculator(repo Repository, rubrics HierarchyLoader, logger core.Logger) *Recalculator {
	return &Recalculator{repo: repo, rubrics: rubrics, logger: logger}
}

// UpdateEvaluationsForTemplate pushes the live max possible score of the template into every evaluation
// referencing it and returns how many evaluations changed. Any failure is a *core.ConsistencyFault.
func (rc *Recalculator) UpdateEvaluationsForTemplate(ctx context.Context, templateID string) (int, error) {
	h, err := rc.rubrics.GetHierarchy(ctx, templateID)
	if err != nil {
		return 0, core.NewConsistencyFault(err, "loading template "+templateID)
	}
	max := rubric.BuildTree(h).MaxPossibleScore()

	evs, err := rc.repo.QueryEvaluations(ctx, QueryFilter{TemplateID: templateID})
	if err != nil {
		return 0, core.NewConsistencyFault(err, "querying evaluations of template "+templateID)
	}

	var n int
	for _, ev := range evs {
		updated, changed := Recompute(ev, max)
		if !changed {
			continue
		}
		if err = rc.repo.UpdateScoreCache(ctx, ev.ID, updated.MaxPossibleScore, updated.IsPositive); err != nil {
			return n, core.NewConsistencyFault(err, "updating evaluation "+ev.ID)
		}
		n++
	}
	if n > 0 {
		rc.logger.Info(fmt.Sprintf("evaluation: template %s max possible score is now %s, %d evaluation(s) updated", templateID, max, n))
	}
	return n, nil
}

func (rc *Recalculator) CountByTemplate(ctx context.Context, templateID string) (int, error) {
	n, err := rc.repo.CountByTemplate(ctx, templateID)
	return n, errors.Wrap(err, "counting evaluations")
}

func (rc *Recalculator) CountResponsesByItems(ctx context.Context, itemIDs ...string) (int, error) {
	n, err := rc.repo.CountResponsesByItems(ctx, itemIDs...)
	return n, errors.Wrap(err, "counting responses")
}
