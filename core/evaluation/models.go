package evaluation

import (
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/submission"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var (
	// PositiveThreshold is the minimum score ratio of a positive evaluation.
	PositiveThreshold = decimal.RequireFromString("0.70")

	// DefaultMaxPossibleScore is used until a template is attached.
	DefaultMaxPossibleScore = decimal.NewFromInt(100)
)

// Evaluation is the assignment of one evaluator to one target.
// MaxPossibleScore and IsPositive cache values derived from the template and the responses;
// the Recalculator keeps them in sync with the rubric.
type Evaluation struct {
	ID               string              `json:"id" db:"id"`
	TargetKind       submission.Kind     `json:"target_kind" db:"target_kind"`
	TargetID         string              `json:"target_id" db:"target_id"`
	EvaluatorID      string              `json:"evaluator_id" db:"evaluator_id"`
	TemplateID       null.String         `json:"template_id" db:"template_id"`
	Status           Status              `json:"status" db:"status"`
	TotalScore       decimal.NullDecimal `json:"total_score" db:"total_score"`
	MaxPossibleScore decimal.Decimal     `json:"max_possible_score" db:"max_possible_score"`
	SubmittedAt      null.Time           `json:"submitted_at" db:"submitted_at"` // UTC
	IsPositive       bool                `json:"is_positive" db:"is_positive"`
	IsValidated      bool                `json:"is_validated" db:"is_validated"`
	CoordinatorNotes string              `json:"coordinator_notes" db:"coordinator_notes"`
	CreatedBy        string              `json:"created_by" db:"created_by"`
	CreatedAt        time.Time           `json:"created_at" db:"created_at"` // UTC
	UpdatedAt        time.Time           `json:"updated_at" db:"updated_at"` // UTC
}

func (ev Evaluation) Target() submission.Target {
	return submission.Target{Kind: ev.TargetKind, ID: ev.TargetID}
}

func (ev Evaluation) IsCompleted() bool { return ev.Status == StatusCompleted }

// NewEvaluation builds a pending evaluation of target by evaluatorID, scored against templateID.
func NewEvaluation(target submission.Target, evaluatorID, templateID string, maxPossibleScore decimal.Decimal, createdBy string) Evaluation {
	now := time.Now().UTC()
	return Evaluation{
		ID:               core.NewID(),
		TargetKind:       target.Kind,
		TargetID:         target.ID,
		EvaluatorID:      evaluatorID,
		TemplateID:       null.NewString(templateID, templateID != ""),
		Status:           StatusPending,
		MaxPossibleScore: maxPossibleScore,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Response is the answer of an evaluator to one rubric item.
// Value holds the free-form answer, or the selected option id for choice items.
type Response struct {
	ID           string          `json:"id" db:"id"`
	EvaluationID string          `json:"evaluation_id" db:"evaluation_id"`
	ItemID       string          `json:"item_id" db:"item_id"`
	Value        types.JSONText  `json:"value" db:"value"`
	Score        decimal.Decimal `json:"score" db:"score"`
	Comment      string          `json:"comment" db:"comment"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"` // UTC
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"` // UTC
}

// Answer is what an evaluator submits for one item.
// Choice items are answered with OptionID; free-entry items with Value and Score.
type Answer struct {
	ItemID   string              `json:"item_id" validate:"required"`
	OptionID string              `json:"option_id"`
	Value    types.JSONText      `json:"value"`
	Score    decimal.NullDecimal `json:"score"`
	Comment  string              `json:"comment"`
}

type Answers struct {
	Answers []Answer `json:"answers" validate:"dive"`
}

func (a *Answers) Validate(v *core.Validator) error {
	for i := range a.Answers {
		a.Answers[i].ItemID = core.CleanString(a.Answers[i].ItemID)
		a.Answers[i].OptionID = core.CleanString(a.Answers[i].OptionID)
		a.Answers[i].Comment = core.CleanString(a.Answers[i].Comment)
	}
	return v.Struct(a)
}

// Assignment contains information needed to assign an evaluator to a target.
type Assignment struct {
	TargetKind  submission.Kind `json:"target_kind" validate:"required,targetkind"`
	TargetID    string          `json:"target_id" validate:"required"`
	EvaluatorID string          `json:"evaluator_id" validate:"required"`
	TemplateID  string          `json:"template_id" validate:"required"`
	AssignedBy  string          `json:"-"`
}

func (a *Assignment) Validate(v *core.Validator) error {
	a.TargetID = core.CleanString(a.TargetID)
	a.EvaluatorID = core.CleanString(a.EvaluatorID)
	a.TemplateID = core.CleanString(a.TemplateID)
	return v.Struct(a)
}

func (a Assignment) Target() submission.Target {
	return submission.Target{Kind: a.TargetKind, ID: a.TargetID}
}

// Review holds the coordinator-side fields of an evaluation.
type Review struct {
	IsValidated      *bool   `json:"is_validated"`
	CoordinatorNotes *string `json:"coordinator_notes"`
}

type QueryFilter struct {
	TargetKind  submission.Kind `query:"target_kind"`
	TargetID    string          `query:"target_id"`
	EvaluatorID string          `query:"evaluator_id"`
	TemplateID  string          `query:"template_id"`
	Status      Status          `query:"status"`
}

// Matches applies AND operation on the set fields of the filter.
func (qf QueryFilter) Matches(ev Evaluation) bool {
	return (qf.TargetKind == "" || ev.TargetKind == qf.TargetKind) &&
		(qf.TargetID == "" || ev.TargetID == qf.TargetID) &&
		(qf.EvaluatorID == "" || ev.EvaluatorID == qf.EvaluatorID) &&
		(qf.TemplateID == "" || (ev.TemplateID.Valid && ev.TemplateID.String == qf.TemplateID)) &&
		(qf.Status == "" || ev.Status == qf.Status)
}
