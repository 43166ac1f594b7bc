package rubric

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/convoca/core"
)

type (
	// Blueprint is the portable (yaml) form of a template and its rubric, used to seed and copy rubrics.
	Blueprint struct {
		Name                string              `yaml:"name"`
		Description         string              `yaml:"description,omitempty"`
		IsActive            *bool               `yaml:"is_active,omitempty"`
		AppliesToExpression *bool               `yaml:"applies_to_expression,omitempty"`
		AppliesToProposal   *bool               `yaml:"applies_to_proposal,omitempty"`
		Calls               []string            `yaml:"calls,omitempty"`
		Categories          []CategoryBlueprint `yaml:"categories"`
	}

	CategoryBlueprint struct {
		Name          string                 `yaml:"name"`
		Description   string                 `yaml:"description,omitempty"`
		Order         int                    `yaml:"order"`
		Subcategories []SubcategoryBlueprint `yaml:"subcategories"`
	}

	SubcategoryBlueprint struct {
		Name  string          `yaml:"name"`
		Order int             `yaml:"order"`
		Items []ItemBlueprint `yaml:"items"`
	}

	ItemBlueprint struct {
		Question         string            `yaml:"question"`
		FieldType        FieldType         `yaml:"field_type"`
		SourceCollection string            `yaml:"source_collection,omitempty"`
		MaxScore         *decimal.Decimal  `yaml:"max_score,omitempty"`
		Order            int               `yaml:"order"`
		Options          []OptionBlueprint `yaml:"options,omitempty"`
	}

	OptionBlueprint struct {
		Text           string          `yaml:"text"`
		Score          decimal.Decimal `yaml:"score"`
		SourceObjectID string          `yaml:"source_object_id,omitempty"`
	}
)

func DecodeBlueprint(r io.Reader) (Blueprint, error) {
	var bp Blueprint
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&bp); err != nil {
		return Blueprint{}, core.NewValidationError(errors.Wrap(err, "decoding blueprint"))
	}
	return bp, nil
}

func (bp Blueprint) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(bp); err != nil {
		return errors.Wrap(err, "encoding blueprint")
	}
	return enc.Close()
}

// ImportBlueprint creates a template and its whole rubric in one transaction.
func (svc *Service) ImportBlueprint(ctx context.Context, bp Blueprint, createdBy string) (Tree, error) {
	var tree Tree
	err := svc.Batch(ctx, func(ctx context.Context) error {
		tpl, err := svc.CreateTemplate(ctx, NewTemplate{
			Name:                bp.Name,
			Description:         bp.Description,
			IsActive:            bp.IsActive,
			AppliesToExpression: bp.AppliesToExpression,
			AppliesToProposal:   bp.AppliesToProposal,
			CallIDs:             bp.Calls,
			CreatedBy:           createdBy,
		})
		if err != nil {
			return err
		}

		for ci, cbp := range bp.Categories {
			prefix := fmt.Sprintf("categories[%d].", ci)
			cat, err := svc.CreateCategory(ctx, tpl.ID, NewCategory{Name: cbp.Name, Description: cbp.Description, Order: cbp.Order})
			if err != nil {
				return prefixFields(err, prefix)
			}
			for si, sbp := range cbp.Subcategories {
				prefix := fmt.Sprintf("%ssubcategories[%d].", prefix, si)
				sub, err := svc.CreateSubcategory(ctx, cat.ID, NewSubcategory{Name: sbp.Name, Order: sbp.Order})
				if err != nil {
					return prefixFields(err, prefix)
				}
				for ii, ibp := range sbp.Items {
					prefix := fmt.Sprintf("%sitems[%d].", prefix, ii)
					item, err := svc.CreateItem(ctx, sub.ID, NewItem{
						Question:         ibp.Question,
						FieldType:        ibp.FieldType,
						SourceCollection: ibp.SourceCollection,
						MaxScore:         nullDecimal(ibp.MaxScore),
						Order:            ibp.Order,
					})
					if err != nil {
						return prefixFields(err, prefix)
					}
					if len(ibp.Options) == 0 {
						continue
					}
					no := NewOptions{Options: make([]NewOption, 0, len(ibp.Options))}
					for _, obp := range ibp.Options {
						no.Options = append(no.Options, NewOption{DisplayText: obp.Text, Score: obp.Score, SourceObjectID: obp.SourceObjectID})
					}
					if _, err = svc.SetOptions(ctx, item.ID, no); err != nil {
						return prefixFields(err, prefix)
					}
				}
			}
		}

		tree, err = svc.GetTree(ctx, tpl.ID)
		return err
	})
	if err != nil {
		return Tree{}, err
	}
	svc.logger.Info(fmt.Sprintf("rubric: imported template %q (%s) with %d items", tree.Template.Name, tree.Template.ID, len(tree.Items())))
	return tree, nil
}

// ExportBlueprint dumps a template and its rubric.
func (svc *Service) ExportBlueprint(ctx context.Context, templateID string) (Blueprint, error) {
	tree, err := svc.GetTree(ctx, templateID)
	if err != nil {
		return Blueprint{}, err
	}
	isActive := tree.Template.IsActive
	expr := tree.Template.AppliesToExpression
	prop := tree.Template.AppliesToProposal
	bp := Blueprint{
		Name:                tree.Template.Name,
		Description:         tree.Template.Description,
		IsActive:            &isActive,
		AppliesToExpression: &expr,
		AppliesToProposal:   &prop,
		Calls:               tree.Template.CallIDs,
	}
	for _, c := range tree.Categories {
		cbp := CategoryBlueprint{Name: c.Name, Description: c.Description, Order: c.Order}
		for _, sc := range c.Subcategories {
			sbp := SubcategoryBlueprint{Name: sc.Name, Order: sc.Order}
			for _, it := range sc.Items {
				ibp := ItemBlueprint{
					Question:         it.Question,
					FieldType:        it.FieldType,
					SourceCollection: it.SourceCollection.String,
					Order:            it.Order,
				}
				if len(it.Options) == 0 {
					max := it.MaxScore
					ibp.MaxScore = &max
				}
				for _, o := range it.Options {
					ibp.Options = append(ibp.Options, OptionBlueprint{Text: o.DisplayText, Score: o.Score, SourceObjectID: o.SourceObjectID.String})
				}
				sbp.Items = append(sbp.Items, ibp)
			}
			cbp.Subcategories = append(cbp.Subcategories, sbp)
		}
		bp.Categories = append(bp.Categories, cbp)
	}
	return bp, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func prefixFields(err error, prefix string) error {
	vErr, ok := errors.Cause(err).(*core.ValidationError)
	if !ok {
		return err
	}
	flds := make([]core.FieldError, 0, len(vErr.Fields))
	for _, f := range vErr.Fields {
		flds = append(flds, core.FieldError{Field: prefix + f.Field, Error: f.Error})
	}
	return core.NewValidationError(vErr.Err, flds...)
}
