package evaluation

import (
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/rubric"
)

// Result is the outcome of scoring a set of responses against a template.
type Result struct {
	TotalScore       decimal.Decimal `json:"total_score"`
	MaxPossibleScore decimal.Decimal `json:"max_possible_score"`
	IsPositive       bool            `json:"is_positive"`
}

// IsPositive reports whether total/max reaches PositiveThreshold. A zero max is never positive.
// The comparison is exact: total >= max * PositiveThreshold.
func IsPositive(total, max decimal.Decimal) bool {
	if !max.IsPositive() {
		return false
	}
	return total.GreaterThanOrEqual(max.Mul(PositiveThreshold))
}

// ComputeResult scores responses against the live max possible score of their template.
func ComputeResult(responses []Response, maxPossibleScore decimal.Decimal) Result {
	total := decimal.Zero
	for _, r := range responses {
		total = total.Add(r.Score)
	}
	return Result{
		TotalScore:       total,
		MaxPossibleScore: maxPossibleScore,
		IsPositive:       IsPositive(total, maxPossibleScore),
	}
}

// Recompute refreshes the cached fields of ev for a new max possible score.
// IsPositive is only recomputed for completed evaluations with a total score.
// changed is false when nothing needs to be saved.
func Recompute(ev Evaluation, maxPossibleScore decimal.Decimal) (updated Evaluation, changed bool) {
	updated = ev
	updated.MaxPossibleScore = maxPossibleScore
	if ev.IsCompleted() && ev.TotalScore.Valid {
		updated.IsPositive = IsPositive(ev.TotalScore.Decimal, maxPossibleScore)
	}
	changed = !updated.MaxPossibleScore.Equal(ev.MaxPossibleScore) || updated.IsPositive != ev.IsPositive
	return updated, changed
}

// ScoreAnswers checks answers against the rubric and turns them into responses (without ids).
// Every item of the tree needs exactly one answer. Choice items take the score of the selected option;
// free-entry items need a score within [0, item max score] with at most one decimal place.
// All violations are reported at once, keyed by "items.<item id>".
func ScoreAnswers(tree rubric.Tree, answers []Answer) ([]Response, error) {
	var flds []core.FieldError
	fail := func(itemID, format string, args ...interface{}) {
		flds = append(flds, core.FieldError{Field: "items." + itemID, Error: fmt.Sprintf(format, args...)})
	}

	byItem := make(map[string]Answer, len(answers))
	for _, a := range answers {
		if _, ok := tree.Item(a.ItemID); !ok {
			fail(a.ItemID, "item does not belong to this template")
			continue
		}
		if _, dup := byItem[a.ItemID]; dup {
			fail(a.ItemID, "item answered more than once")
			continue
		}
		byItem[a.ItemID] = a
	}

	items := tree.Items()
	responses := make([]Response, 0, len(items))
	for _, it := range items {
		a, ok := byItem[it.ID]
		if !ok {
			fail(it.ID, "this item requires an answer")
			continue
		}
		resp := Response{ItemID: it.ID, Value: a.Value, Comment: a.Comment}
		if len(resp.Value) == 0 {
			resp.Value = types.JSONText("null")
		}

		if it.FieldType.IsChoice() {
			if len(it.Options) == 0 {
				fail(it.ID, "this item has no options to choose from")
				continue
			}
			opt, ok := it.Option(a.OptionID)
			if !ok {
				fail(it.ID, "invalid option")
				continue
			}
			resp.Score = opt.Score
			resp.Value = optionValue(opt.ID)
		} else {
			if !a.Score.Valid {
				fail(it.ID, "a score is required")
				continue
			}
			resp.Score = a.Score.Decimal
		}

		if resp.Score.IsNegative() || resp.Score.GreaterThan(it.MaxScore) || !core.HasOneDecimal(resp.Score) {
			fail(it.ID, "score must be between 0 and %s with at most one decimal place", it.MaxScore.StringFixed(1))
			continue
		}
		responses = append(responses, resp)
	}

	if len(flds) > 0 {
		return nil, core.NewValidationError(nil, flds...)
	}
	return responses, nil
}

func optionValue(optionID string) types.JSONText {
	b, _ := json.Marshal(optionID)
	return types.JSONText(b)
}
