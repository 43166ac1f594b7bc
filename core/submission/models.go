package submission

import (
	"time"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/convoca/core"
)

// Kind tells which variant of a submission a Target points to.
type Kind string

const (
	KindExpression Kind = "expression"
	KindProposal   Kind = "proposal"
)

func (k Kind) Valid() bool {
	return k == KindExpression || k == KindProposal
}

// Status of an Expression or a Proposal
type Status string

const (
	StatusDraft              Status = "draft"
	StatusSubmitted          Status = "submitted"
	StatusApproved           Status = "approved"
	StatusApprovedForFunding Status = "approved_for_funding"
	StatusRejected           Status = "rejected"
)

// Target is the polymorphic reference an Evaluation holds: an Expression or a Proposal.
type Target struct {
	Kind Kind   `json:"kind" db:"target_kind"`
	ID   string `json:"id" db:"target_id"`
}

func ExpressionTarget(id string) Target { return Target{Kind: KindExpression, ID: id} }
func ProposalTarget(id string) Target   { return Target{Kind: KindProposal, ID: id} }

func (t Target) String() string { return string(t.Kind) + ":" + t.ID }

// Submission is the capability shared by Expressions and Proposals.
// Everything the scoring and approval code needs from a target goes through it.
type Submission interface {
	Target() Target
	ProjectTitle() string
	CallID() string
	OwnerID() string
	OwnerEmail() string
	CurrentStatus() Status
	// IsApproved reports whether the submission reached its final approved state.
	IsApproved() bool
}

// Base holds the descriptive fields a Proposal copies from its Expression.
type Base struct {
	CallID           string `json:"call_id" db:"call_id"`
	OwnerID          string `json:"owner_id" db:"owner_id"`
	OwnerEmail       string `json:"owner_email" db:"owner_email"`
	Title            string `json:"project_title" db:"project_title"`
	Problem          string `json:"problem" db:"problem"`
	GeneralObjective string `json:"general_objective" db:"general_objective"`
	Methodology      string `json:"methodology" db:"methodology"`
}

type Expression struct {
	ID string `json:"id" db:"id"`
	Base
	Status      Status    `json:"status" db:"status"`
	SubmittedAt null.Time `json:"submitted_at" db:"submitted_at"` // UTC
	CreatedAt   time.Time `json:"created_at" db:"created_at"`     // UTC
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`     // UTC
}

var _ Submission = (*Expression)(nil)

func (e *Expression) Target() Target        { return ExpressionTarget(e.ID) }
func (e *Expression) ProjectTitle() string  { return e.Title }
func (e *Expression) CallID() string        { return e.Base.CallID }
func (e *Expression) OwnerID() string       { return e.Base.OwnerID }
func (e *Expression) OwnerEmail() string    { return e.Base.OwnerEmail }
func (e *Expression) CurrentStatus() Status { return e.Status }
func (e *Expression) IsApproved() bool      { return e.Status == StatusApproved }

// Proposal extends an approved Expression.
type Proposal struct {
	ID           string `json:"id" db:"id"`
	ExpressionID string `json:"expression_id" db:"expression_id"`
	Base
	DurationMonths int       `json:"duration_months" db:"duration_months"`
	Summary        string    `json:"summary" db:"summary"`
	Status         Status    `json:"status" db:"status"`
	SubmittedAt    null.Time `json:"submitted_at" db:"submitted_at"` // UTC
	CreatedAt      time.Time `json:"created_at" db:"created_at"`     // UTC
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`     // UTC
}

var _ Submission = (*Proposal)(nil)

func (p *Proposal) Target() Target        { return ProposalTarget(p.ID) }
func (p *Proposal) ProjectTitle() string  { return p.Title }
func (p *Proposal) CallID() string        { return p.Base.CallID }
func (p *Proposal) OwnerID() string       { return p.Base.OwnerID }
func (p *Proposal) OwnerEmail() string    { return p.Base.OwnerEmail }
func (p *Proposal) CurrentStatus() Status { return p.Status }
func (p *Proposal) IsApproved() bool      { return p.Status == StatusApprovedForFunding }

// NewExpression contains information needed to create a new Expression.
type NewExpression struct {
	CallID           string `json:"call_id" validate:"required"`
	OwnerID          string `json:"owner_id" validate:"required"`
	OwnerEmail       string `json:"owner_email" validate:"omitempty,email"`
	ProjectTitle     string `json:"project_title" validate:"notblank"`
	Problem          string `json:"problem"`
	GeneralObjective string `json:"general_objective"`
	Methodology      string `json:"methodology"`
}

func (ne *NewExpression) Validate(v *core.Validator) error {
	ne.CallID = core.CleanString(ne.CallID)
	ne.OwnerEmail = core.CleanString(ne.OwnerEmail, true /* lower */)
	ne.ProjectTitle = core.CleanString(ne.ProjectTitle)
	return v.Struct(ne)
}
