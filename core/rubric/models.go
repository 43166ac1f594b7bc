package rubric

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/submission"
)

// FieldType is the kind of input an Item expects from an evaluator.
type FieldType string

const (
	FieldText            FieldType = "text"
	FieldShortText       FieldType = "short_text"
	FieldNumber          FieldType = "number"
	FieldBoolean         FieldType = "boolean"
	FieldDropdown        FieldType = "dropdown"
	FieldDynamicDropdown FieldType = "dynamic_dropdown"
	FieldRadio           FieldType = "radio"
)

var FieldTypes = []FieldType{
	FieldText, FieldShortText, FieldNumber, FieldBoolean, FieldDropdown, FieldDynamicDropdown, FieldRadio,
}

func (ft FieldType) Valid() bool {
	for _, t := range FieldTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// IsChoice reports whether answers to this field type select one of the Item's Options.
func (ft FieldType) IsChoice() bool {
	return ft == FieldDropdown || ft == FieldDynamicDropdown || ft == FieldRadio
}

var (
	DefaultItemMaxScore = decimal.NewFromInt(5)
)

type Template struct {
	ID                  string    `json:"id" db:"id"`
	Name                string    `json:"name" db:"name"`
	Description         string    `json:"description" db:"description"`
	IsActive            bool      `json:"is_active" db:"is_active"`
	AppliesToExpression bool      `json:"applies_to_expression" db:"applies_to_expression"`
	AppliesToProposal   bool      `json:"applies_to_proposal" db:"applies_to_proposal"`
	CallIDs             []string  `json:"call_ids" db:"-"`
	CreatedBy           string    `json:"created_by" db:"created_by"`
	CreatedAt           time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt           time.Time `json:"updated_at" db:"updated_at"` // UTC
}

func (t Template) AppliesToKind(kind submission.Kind) bool {
	switch kind {
	case submission.KindExpression:
		return t.AppliesToExpression
	case submission.KindProposal:
		return t.AppliesToProposal
	}
	return false
}

func (t Template) LinkedTo(callID string) bool {
	for _, id := range t.CallIDs {
		if id == callID {
			return true
		}
	}
	return false
}

// AppliesTo reports whether the template can be used to score a submission of the given kind within the given call.
func (t Template) AppliesTo(callID string, kind submission.Kind) bool {
	return t.IsActive && t.AppliesToKind(kind) && t.LinkedTo(callID)
}

type Category struct {
	ID          string    `json:"id" db:"id"`
	TemplateID  string    `json:"template_id" db:"template_id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Order       int       `json:"order" db:"position"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"` // UTC
}

type Subcategory struct {
	ID         string    `json:"id" db:"id"`
	CategoryID string    `json:"category_id" db:"category_id"`
	Name       string    `json:"name" db:"name"`
	Order      int       `json:"order" db:"position"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"` // UTC
}

type Item struct {
	ID               string          `json:"id" db:"id"`
	SubcategoryID    string          `json:"subcategory_id" db:"subcategory_id"`
	Question         string          `json:"question" db:"question"`
	FieldType        FieldType       `json:"field_type" db:"field_type"`
	SourceCollection null.String     `json:"source_collection" db:"source_collection"`
	MaxScore         decimal.Decimal `json:"max_score" db:"max_score"`
	Order            int             `json:"order" db:"position"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"` // UTC
	UpdatedAt        time.Time       `json:"updated_at" db:"updated_at"` // UTC
}

type Option struct {
	ID             string          `json:"id" db:"id"`
	ItemID         string          `json:"item_id" db:"item_id"`
	DisplayText    string          `json:"display_text" db:"display_text"`
	Score          decimal.Decimal `json:"score" db:"score"`
	SourceObjectID null.String     `json:"source_object_id" db:"source_object_id"`
}

// NewTemplate contains information needed to create a new Template.
type NewTemplate struct {
	Name                string   `json:"name" validate:"notblank,max=100"`
	Description         string   `json:"description"`
	IsActive            *bool    `json:"is_active"`
	AppliesToExpression *bool    `json:"applies_to_expression"`
	AppliesToProposal   *bool    `json:"applies_to_proposal"`
	CallIDs             []string `json:"call_ids" validate:"dive,required"`
	CreatedBy           string   `json:"-"`
}

func (nt *NewTemplate) Validate(v *core.Validator) error {
	nt.Name = core.CleanString(nt.Name)
	nt.Description = core.CleanString(nt.Description)
	return v.Struct(nt)
}

// UpdateTemplate defines what information may be provided to modify an existing Template.
type UpdateTemplate struct {
	Name                *string `json:"name" validate:"omitempty,notblank,max=100"`
	Description         *string `json:"description"`
	IsActive            *bool   `json:"is_active"`
	AppliesToExpression *bool   `json:"applies_to_expression"`
	AppliesToProposal   *bool   `json:"applies_to_proposal"`
}

func (ut *UpdateTemplate) Validate(v *core.Validator) error {
	if ut.Name != nil {
		name := core.CleanString(*ut.Name)
		ut.Name = &name
	}
	return v.Struct(ut)
}

func (ut UpdateTemplate) apply(t *Template) {
	if ut.Name != nil {
		t.Name = *ut.Name
	}
	if ut.Description != nil {
		t.Description = core.CleanString(*ut.Description)
	}
	if ut.IsActive != nil {
		t.IsActive = *ut.IsActive
	}
	if ut.AppliesToExpression != nil {
		t.AppliesToExpression = *ut.AppliesToExpression
	}
	if ut.AppliesToProposal != nil {
		t.AppliesToProposal = *ut.AppliesToProposal
	}
}

// NewCategory is used both to create and to update a Category.
type NewCategory struct {
	Name        string `json:"name" validate:"notblank,max=100"`
	Description string `json:"description"`
	Order       int    `json:"order" validate:"min=0"`
	IsActive    *bool  `json:"is_active"`
}

func (nc *NewCategory) Validate(v *core.Validator) error {
	nc.Name = core.CleanString(nc.Name)
	nc.Description = core.CleanString(nc.Description)
	return v.Struct(nc)
}

// NewSubcategory is used both to create and to update a Subcategory.
type NewSubcategory struct {
	Name     string `json:"name" validate:"notblank,max=100"`
	Order    int    `json:"order" validate:"min=0"`
	IsActive *bool  `json:"is_active"`
}

func (ns *NewSubcategory) Validate(v *core.Validator) error {
	ns.Name = core.CleanString(ns.Name)
	return v.Struct(ns)
}

// NewItem is used both to create and to update an Item.
// MaxScore is ignored when the Item owns Options.
type NewItem struct {
	Question         string              `json:"question" validate:"notblank"`
	FieldType        FieldType           `json:"field_type" validate:"required,fieldtype"`
	SourceCollection string              `json:"source_collection" validate:"required_if=FieldType dynamic_dropdown"`
	MaxScore         decimal.NullDecimal `json:"max_score" validate:"omitempty,score"`
	Order            int                 `json:"order" validate:"min=0"`
}

func (ni *NewItem) Validate(v *core.Validator) error {
	ni.Question = core.CleanString(ni.Question)
	ni.SourceCollection = core.CleanString(ni.SourceCollection)
	return v.Struct(ni)
}

type NewOption struct {
	DisplayText    string          `json:"display_text" validate:"notblank,max=200"`
	Score          decimal.Decimal `json:"score" validate:"onedecimal"`
	SourceObjectID string          `json:"source_object_id"`
}

type NewOptions struct {
	Options []NewOption `json:"options" validate:"dive"`
}

func (no *NewOptions) Validate(v *core.Validator) error {
	for i := range no.Options {
		no.Options[i].DisplayText = core.CleanString(no.Options[i].DisplayText)
	}
	return v.Struct(no)
}

type QueryFilter struct {
	Search   string          `query:"search"`
	CallID   string          `query:"call_id"`
	Kind     submission.Kind `query:"kind"`
	IsActive *bool           `query:"is_active"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.CallID = core.CleanString(qf.CallID)
}

// Matches applies the filter to t; Search is a case-insensitive match on the name or description.
func (qf QueryFilter) Matches(t Template) bool {
	if qf.Search != "" && !containsFold(t.Name, qf.Search) && !containsFold(t.Description, qf.Search) {
		return false
	}
	if qf.CallID != "" && !t.LinkedTo(qf.CallID) {
		return false
	}
	if qf.Kind != "" && !t.AppliesToKind(qf.Kind) {
		return false
	}
	if qf.IsActive != nil && t.IsActive != *qf.IsActive {
		return false
	}
	return true
}
