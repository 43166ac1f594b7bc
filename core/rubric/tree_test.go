package rubric

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/submission"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestBuildTree(t *testing.T) {
	h := Hierarchy{
		Template: Template{ID: "tpl"},
		Categories: []Category{
			{ID: "c2", TemplateID: "tpl", Order: 1},
			{ID: "c1", TemplateID: "tpl", Order: 1},
			{ID: "c0", TemplateID: "tpl", Order: 0},
			{ID: "stray", TemplateID: "other"},
		},
		Subcategories: []Subcategory{
			{ID: "s1", CategoryID: "c1", Order: 2},
			{ID: "s0", CategoryID: "c1", Order: 1},
			{ID: "s2", CategoryID: "c0"},
		},
		Items: []Item{
			{ID: "i2", SubcategoryID: "s0", Order: 0, MaxScore: dec("3")},
			{ID: "i1", SubcategoryID: "s0", Order: 0, MaxScore: dec("5")},
			{ID: "i3", SubcategoryID: "s2", Order: 4, MaxScore: dec("1.5")},
			{ID: "orphan", SubcategoryID: "lost", MaxScore: dec("100")},
		},
		Options: []Option{
			{ID: "o2", ItemID: "i1", Score: dec("0")},
			{ID: "o1", ItemID: "i1", Score: dec("5")},
		},
	}
	tree := BuildTree(h)

	var catIDs []string
	for _, c := range tree.Categories {
		catIDs = append(catIDs, c.ID)
	}
	assert.Equal(t, []string{"c0", "c1", "c2"}, catIDs)
	assert.Equal(t, "s0", tree.Categories[1].Subcategories[0].ID)
	assert.Equal(t, "s1", tree.Categories[1].Subcategories[1].ID)
	assert.Empty(t, tree.Categories[2].Subcategories)

	var itemIDs []string
	for _, it := range tree.Items() {
		itemIDs = append(itemIDs, it.ID)
	}
	assert.Equal(t, []string{"i3", "i1", "i2"}, itemIDs)

	i1, ok := tree.Item("i1")
	require.True(t, ok)
	require.Len(t, i1.Options, 2)
	assert.Equal(t, "o1", i1.Options[0].ID)
	_, ok = tree.Item("orphan")
	assert.False(t, ok)

	assert.True(t, tree.MaxPossibleScore().Equal(dec("9.5")))
}

func TestTree_MaxPossibleScore_empty(t *testing.T) {
	tree := BuildTree(Hierarchy{Template: Template{ID: "tpl"}})
	assert.True(t, tree.MaxPossibleScore().IsZero())
	assert.NotNil(t, tree.Categories)
}

func TestMaxFromOptions(t *testing.T) {
	tests := []struct {
		name   string
		scores []string
		want   string
		wantOK bool
	}{
		{name: "no options", want: "0"},
		{name: "single", scores: []string{"2.5"}, want: "2.5", wantOK: true},
		{name: "highest wins", scores: []string{"1", "4.5", "3"}, want: "4.5", wantOK: true},
		{name: "all zero", scores: []string{"0", "0"}, want: "0", wantOK: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []Option
			for _, s := range tt.scores {
				opts = append(opts, Option{Score: dec(s)})
			}
			max, ok := MaxFromOptions(opts)
			assert.Equal(t, tt.wantOK, ok)
			assert.True(t, max.Equal(dec(tt.want)), "got %s", max)
		})
	}
}

func TestTemplate_AppliesTo(t *testing.T) {
	tpl := Template{IsActive: true, AppliesToExpression: true, CallIDs: []string{"call-1"}}

	assert.True(t, tpl.AppliesTo("call-1", submission.KindExpression))
	assert.False(t, tpl.AppliesTo("call-1", submission.KindProposal))
	assert.False(t, tpl.AppliesTo("call-2", submission.KindExpression))

	tpl.IsActive = false
	assert.False(t, tpl.AppliesTo("call-1", submission.KindExpression))
}

func TestQueryFilter_Matches(t *testing.T) {
	bPtr := func(b bool) *bool { return &b }
	tpl := Template{
		Name:                "Expression Grid",
		Description:         "Health research",
		IsActive:            true,
		AppliesToExpression: true,
		CallIDs:             []string{"call-1"},
	}
	tests := []struct {
		name   string
		filter QueryFilter
		want   bool
	}{
		{name: "empty", want: true},
		{name: "search name", filter: QueryFilter{Search: "grid"}, want: true},
		{name: "search description", filter: QueryFilter{Search: "HEALTH"}, want: true},
		{name: "search miss", filter: QueryFilter{Search: "lol"}},
		{name: "call", filter: QueryFilter{CallID: "call-1"}, want: true},
		{name: "other call", filter: QueryFilter{CallID: "call-2"}},
		{name: "kind", filter: QueryFilter{Kind: submission.KindExpression}, want: true},
		{name: "other kind", filter: QueryFilter{Kind: submission.KindProposal}},
		{name: "active", filter: QueryFilter{IsActive: bPtr(true)}, want: true},
		{name: "inactive", filter: QueryFilter{IsActive: bPtr(false)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(tpl))
		})
	}
}

func TestDecodeBlueprint(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr bool
	}{
		{
			name: "valid",
			doc: `
name: Grid
calls: [call-1]
categories:
  - name: Merit
    subcategories:
      - name: Relevance
        items:
          - question: Clear?
            field_type: number
            max_score: 2.5
`,
		},
		{name: "unknown field", doc: "name: Grid\nlol: true\n", wantErr: true},
		{name: "malformed", doc: "name: [", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bp, err := DecodeBlueprint(strings.NewReader(tt.doc))
			if tt.wantErr {
				assert.True(t, core.IsValidation(err), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Grid", bp.Name)
			assert.Equal(t, []string{"call-1"}, bp.Calls)
			item := bp.Categories[0].Subcategories[0].Items[0]
			assert.Equal(t, FieldNumber, item.FieldType)
			require.NotNil(t, item.MaxScore)
			assert.True(t, item.MaxScore.Equal(dec("2.5")))
		})
	}
}

func TestNewItem_Validate(t *testing.T) {
	v := core.NewValidator()
	RegisterValidators(v)

	tests := []struct {
		name      string
		item      NewItem
		wantField string
	}{
		{name: "valid", item: NewItem{Question: "Clear?", FieldType: FieldNumber, MaxScore: decimal.NewNullDecimal(dec("2.5"))}},
		{name: "blank question", item: NewItem{Question: "  ", FieldType: FieldNumber}, wantField: "question"},
		{name: "unknown field type", item: NewItem{Question: "Clear?", FieldType: "slider"}, wantField: "field_type"},
		{name: "dynamic without collection", item: NewItem{Question: "Where?", FieldType: FieldDynamicDropdown}, wantField: "source_collection"},
		{name: "negative max", item: NewItem{Question: "Clear?", FieldType: FieldNumber, MaxScore: decimal.NewNullDecimal(dec("-1"))}, wantField: "max_score"},
		{name: "two decimals", item: NewItem{Question: "Clear?", FieldType: FieldNumber, MaxScore: decimal.NewNullDecimal(dec("1.25"))}, wantField: "max_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate(v)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.True(t, core.IsValidation(err), "got %v", err)
			assert.Contains(t, err.(*core.ValidationError).FieldMap(), tt.wantField)
		})
	}
}
