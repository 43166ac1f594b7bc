package evaluation

import (
	"testing"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/rubric"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func score(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(dec(s))
}

func treeOf(items ...rubric.ItemNode) rubric.Tree {
	return rubric.Tree{
		Template: rubric.Template{ID: "tpl"},
		Categories: []rubric.CategoryNode{{
			Category:      rubric.Category{ID: "cat", TemplateID: "tpl"},
			Subcategories: []rubric.SubcategoryNode{{Subcategory: rubric.Subcategory{ID: "sub", CategoryID: "cat"}, Items: items}},
		}},
	}
}

func choiceItem(id string, opts ...rubric.Option) rubric.ItemNode {
	for i := range opts {
		opts[i].ItemID = id
	}
	max, _ := rubric.MaxFromOptions(opts)
	return rubric.ItemNode{Item: rubric.Item{ID: id, FieldType: rubric.FieldRadio, MaxScore: max}, Options: opts}
}

func numberItem(id, max string) rubric.ItemNode {
	return rubric.ItemNode{Item: rubric.Item{ID: id, FieldType: rubric.FieldNumber, MaxScore: dec(max)}}
}

func TestIsPositive(t *testing.T) {
	tests := []struct {
		name       string
		total, max string
		want       bool
	}{
		{name: "exactly at threshold", total: "7", max: "10", want: true},
		{name: "just below threshold", total: "6.9", max: "10", want: false},
		{name: "full score", total: "5", max: "5", want: true},
		{name: "5 out of 8", total: "5", max: "8", want: false},
		{name: "zero max", total: "0", max: "0", want: false},
		{name: "positive total, zero max", total: "3", max: "0", want: false},
		{name: "negative max", total: "3", max: "-1", want: false},
		{name: "ratio rounds up to threshold", total: "2.09999999999999999997", max: "3", want: false},
		{name: "threshold of a large max", total: "699.3", max: "999", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPositive(dec(tt.total), dec(tt.max)))
		})
	}
}

func TestComputeResult(t *testing.T) {
	res := ComputeResult([]Response{{Score: dec("2.5")}, {Score: dec("3")}, {Score: dec("1.5")}}, dec("10"))
	assert.True(t, res.TotalScore.Equal(dec("7")))
	assert.True(t, res.MaxPossibleScore.Equal(dec("10")))
	assert.True(t, res.IsPositive)

	empty := ComputeResult(nil, decimal.Zero)
	assert.True(t, empty.TotalScore.IsZero())
	assert.False(t, empty.IsPositive)
}

func TestRecompute(t *testing.T) {
	completed := Evaluation{
		Status:           StatusCompleted,
		TotalScore:       score("5"),
		MaxPossibleScore: dec("5"),
		IsPositive:       true,
	}
	pending := Evaluation{Status: StatusPending, MaxPossibleScore: dec("5")}
	noTotal := Evaluation{Status: StatusCompleted, MaxPossibleScore: dec("5"), IsPositive: true}

	tests := []struct {
		name         string
		ev           Evaluation
		max          string
		wantPositive bool
		wantChanged  bool
	}{
		{name: "completed: max grows, flips to negative", ev: completed, max: "8", wantPositive: false, wantChanged: true},
		{name: "completed: unchanged max", ev: completed, max: "5", wantPositive: true, wantChanged: false},
		{name: "completed: max drops to zero", ev: completed, max: "0", wantPositive: false, wantChanged: true},
		{name: "pending: only the max moves", ev: pending, max: "8", wantPositive: false, wantChanged: true},
		{name: "pending: unchanged", ev: pending, max: "5", wantPositive: false, wantChanged: false},
		{name: "completed without total keeps its flag", ev: noTotal, max: "100", wantPositive: true, wantChanged: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			updated, changed := Recompute(tt.ev, dec(tt.max))
			assert.Equal(t, tt.wantChanged, changed)
			assert.Equal(t, tt.wantPositive, updated.IsPositive)
			assert.True(t, updated.MaxPossibleScore.Equal(dec(tt.max)))
			assert.Equal(t, tt.ev.TotalScore, updated.TotalScore)
			assert.Equal(t, tt.ev.Status, updated.Status)
		})
	}
}

func TestScoreAnswers(t *testing.T) {
	tree := treeOf(
		choiceItem("quality", rubric.Option{ID: "good", Score: dec("5")}, rubric.Option{ID: "bad", Score: dec("0")}),
		numberItem("budget", "5"),
		rubric.ItemNode{Item: rubric.Item{ID: "empty", FieldType: rubric.FieldDropdown, MaxScore: dec("2")}},
	)
	noEmpty := treeOf(tree.Items()[0], tree.Items()[1])

	tests := []struct {
		name       string
		tree       rubric.Tree
		answers    []Answer
		wantTotal  string
		wantFields map[string]string
	}{
		{
			name: "valid answers",
			tree: noEmpty,
			answers: []Answer{
				{ItemID: "quality", OptionID: "good", Comment: "convincing"},
				{ItemID: "budget", Score: score("3.5"), Value: types.JSONText(`"ok"`)},
			},
			wantTotal: "8.5",
		},
		{
			name:      "bounds are inclusive",
			tree:      noEmpty,
			answers:   []Answer{{ItemID: "quality", OptionID: "bad"}, {ItemID: "budget", Score: score("5")}},
			wantTotal: "5",
		},
		{
			name:       "score above item max",
			tree:       noEmpty,
			answers:    []Answer{{ItemID: "quality", OptionID: "good"}, {ItemID: "budget", Score: score("6")}},
			wantFields: map[string]string{"items.budget": "score must be between 0 and 5.0 with at most one decimal place"},
		},
		{
			name:       "negative score",
			tree:       noEmpty,
			answers:    []Answer{{ItemID: "quality", OptionID: "good"}, {ItemID: "budget", Score: score("-1")}},
			wantFields: map[string]string{"items.budget": "score must be between 0 and 5.0 with at most one decimal place"},
		},
		{
			name:       "two decimal places",
			tree:       noEmpty,
			answers:    []Answer{{ItemID: "quality", OptionID: "good"}, {ItemID: "budget", Score: score("2.25")}},
			wantFields: map[string]string{"items.budget": "score must be between 0 and 5.0 with at most one decimal place"},
		},
		{
			name:    "missing, unknown and invalid answers are all reported",
			tree:    noEmpty,
			answers: []Answer{{ItemID: "quality", OptionID: "lol"}, {ItemID: "ghost", Score: score("1")}},
			wantFields: map[string]string{
				"items.quality": "invalid option",
				"items.budget":  "this item requires an answer",
				"items.ghost":   "item does not belong to this template",
			},
		},
		{
			name: "duplicate answer",
			tree: noEmpty,
			answers: []Answer{
				{ItemID: "quality", OptionID: "good"},
				{ItemID: "quality", OptionID: "bad"},
				{ItemID: "budget", Score: score("1")},
			},
			wantFields: map[string]string{"items.quality": "item answered more than once"},
		},
		{
			name:       "free-entry item without score",
			tree:       noEmpty,
			answers:    []Answer{{ItemID: "quality", OptionID: "good"}, {ItemID: "budget"}},
			wantFields: map[string]string{"items.budget": "a score is required"},
		},
		{
			name: "choice item without options",
			tree: tree,
			answers: []Answer{
				{ItemID: "quality", OptionID: "good"},
				{ItemID: "budget", Score: score("1")},
				{ItemID: "empty", OptionID: "x"},
			},
			wantFields: map[string]string{"items.empty": "this item has no options to choose from"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			responses, err := ScoreAnswers(tt.tree, tt.answers)
			if tt.wantFields != nil {
				require.True(t, core.IsValidation(err), "got %v", err)
				vErr := err.(*core.ValidationError)
				assert.Equal(t, tt.wantFields, vErr.FieldMap())
				assert.Nil(t, responses)
				return
			}
			require.NoError(t, err)
			require.Len(t, responses, len(tt.tree.Items()))
			assert.True(t, ComputeResult(responses, tt.tree.MaxPossibleScore()).TotalScore.Equal(dec(tt.wantTotal)))
		})
	}
}

func TestScoreAnswers_responseValues(t *testing.T) {
	tree := treeOf(
		choiceItem("quality", rubric.Option{ID: "good", Score: dec("5")}),
		numberItem("budget", "5"),
	)
	responses, err := ScoreAnswers(tree, []Answer{
		{ItemID: "budget", Score: score("2"), Comment: "thin"},
		{ItemID: "quality", OptionID: "good", Value: types.JSONText(`"ignored"`)},
	})
	require.NoError(t, err)

	// display order, not answer order
	assert.Equal(t, "quality", responses[0].ItemID)
	assert.Equal(t, types.JSONText(`"good"`), responses[0].Value)
	assert.True(t, responses[0].Score.Equal(dec("5")))

	assert.Equal(t, "budget", responses[1].ItemID)
	assert.Equal(t, types.JSONText("null"), responses[1].Value)
	assert.Equal(t, "thin", responses[1].Comment)
}

func TestQueryFilter_Matches(t *testing.T) {
	ev := Evaluation{TargetKind: "expression", TargetID: "e1", EvaluatorID: "ev1", TemplateID: null.StringFrom("tpl"), Status: StatusPending}
	assert.True(t, QueryFilter{}.Matches(ev))
	assert.True(t, QueryFilter{TargetKind: "expression", TargetID: "e1", EvaluatorID: "ev1", TemplateID: "tpl"}.Matches(ev))
	assert.False(t, QueryFilter{TargetKind: "proposal"}.Matches(ev))
	assert.False(t, QueryFilter{Status: StatusCompleted}.Matches(ev))
	assert.False(t, QueryFilter{TemplateID: "tpl"}.Matches(Evaluation{}))
}
