package rubric

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/submission"
)

var (
	ErrUnknownCollection = errors.New("unknown source collection")
)

type (
	// Propagator pushes the max possible score of a template into every evaluation that references it.
	Propagator interface {
		UpdateEvaluationsForTemplate(ctx context.Context, templateID string) (int, error)
	}

	// Dependents reports the scoring records that reference parts of a rubric.
	Dependents interface {
		CountByTemplate(ctx context.Context, templateID string) (int, error)
		CountResponsesByItems(ctx context.Context, itemIDs ...string) (int, error)
	}

	SourceEntry struct {
		ID    string `json:"id" yaml:"id"`
		Label string `json:"label" yaml:"label"`
	}

	// OptionSource resolves the external entity collections backing dynamic_dropdown items.
	OptionSource interface {
		Collections() []string
		Entries(ctx context.Context, collection string) ([]SourceEntry, error)
	}

	Service struct {
		tx         core.Transactor
		repo       Repository
		propagator Propagator
		dependents Dependents
		sources    OptionSource
		validator  *core.Validator
		logger     core.Logger
	}

	// editSession collects the templates touched by the edits of one transaction.
	editSession struct {
		templateIDs []string
	}

	editSessionKey struct{}
)

func NewService(
	tx core.Transactor,
	repo Repository,
	propagator Propagator,
	dependents Dependents,
	sources OptionSource,
	validator *core.Validator,
	logger core.Logger,
) *Service {
	RegisterValidators(validator)
	return &Service{
		tx:         tx,
		repo:       repo,
		propagator: propagator,
		dependents: dependents,
		sources:    sources,
		validator:  validator,
		logger:     logger,
	}
}

func (s *editSession) touch(templateID string) {
	for _, id := range s.templateIDs {
		if id == templateID {
			return
		}
	}
	s.templateIDs = append(s.templateIDs, templateID)
}

// edit runs fn within a transaction and propagates the touched templates once, when the outermost edit returns.
func (svc *Service) edit(ctx context.Context, fn func(ctx context.Context, sess *editSession) error) error {
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		sess, nested := ctx.Value(editSessionKey{}).(*editSession)
		if !nested {
			sess = new(editSession)
			ctx = context.WithValue(ctx, editSessionKey{}, sess)
		}
		if err := fn(ctx, sess); err != nil {
			return err
		}
		if nested {
			return nil
		}
		return svc.propagate(ctx, sess.templateIDs...)
	})
}

func (svc *Service) propagate(ctx context.Context, templateIDs ...string) error {
	for _, id := range templateIDs {
		n, err := svc.propagator.UpdateEvaluationsForTemplate(ctx, id)
		if err != nil {
			if core.IsConsistencyFault(err) {
				return err
			}
			return core.NewConsistencyFault(err, "updating evaluations of template "+id)
		}
		svc.logger.Debug(fmt.Sprintf("rubric: template %s propagated to %d evaluations", id, n))
	}
	return nil
}

// Batch runs many rubric edits in one transaction. Each touched template is propagated once, at the end.
func (svc *Service) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	return svc.edit(ctx, func(ctx context.Context, _ *editSession) error { return fn(ctx) })
}

// Recalculate propagates a template without editing it.
func (svc *Service) Recalculate(ctx context.Context, templateID string) error {
	return svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		if _, err := svc.repo.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		sess.touch(templateID)
		return nil
	})
}

// Templates

func (svc *Service) CreateTemplate(ctx context.Context, nt NewTemplate) (Template, error) {
	if err := nt.Validate(svc.validator); err != nil {
		return Template{}, err
	}
	boolOr := func(b *bool, def bool) bool {
		if b != nil {
			return *b
		}
		return def
	}
	now := time.Now().UTC()
	tpl := Template{
		ID:                  core.NewID(),
		Name:                nt.Name,
		Description:         nt.Description,
		IsActive:            boolOr(nt.IsActive, true),
		AppliesToExpression: boolOr(nt.AppliesToExpression, true),
		AppliesToProposal:   boolOr(nt.AppliesToProposal, true),
		CreatedBy:           nt.CreatedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		var err error
		if tpl, err = svc.repo.CreateTemplate(ctx, tpl); err != nil {
			return err
		}
		for _, callID := range nt.CallIDs {
			if err = svc.repo.LinkCall(ctx, tpl.ID, core.CleanString(callID)); err != nil {
				return err
			}
		}
		tpl, err = svc.repo.GetTemplate(ctx, tpl.ID)
		sess.touch(tpl.ID)
		return err
	})
	if err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func (svc *Service) UpdateTemplate(ctx context.Context, id string, ut UpdateTemplate) (Template, error) {
	if err := ut.Validate(svc.validator); err != nil {
		return Template{}, err
	}
	var tpl Template
	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		var err error
		if tpl, err = svc.repo.GetTemplate(ctx, id); err != nil {
			return err
		}
		ut.apply(&tpl)
		tpl.UpdatedAt = time.Now().UTC()
		if tpl, err = svc.repo.UpdateTemplate(ctx, tpl); err != nil {
			return err
		}
		sess.touch(tpl.ID)
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	return tpl, nil
}

func (svc *Service) GetTemplate(ctx context.Context, id string) (Template, error) {
	return svc.repo.GetTemplate(ctx, id)
}

func (svc *Service) QueryTemplates(ctx context.Context, filter QueryFilter) ([]Template, error) {
	filter.Clean()
	return svc.repo.QueryTemplates(ctx, filter)
}

// GetTree loads a template with its whole rubric, sorted.
func (svc *Service) GetTree(ctx context.Context, templateID string) (Tree, error) {
	h, err := svc.repo.GetHierarchy(ctx, templateID)
	if err != nil {
		return Tree{}, err
	}
	return BuildTree(h), nil
}

// MaxPossibleScore computes the max possible score of a template from its live rubric.
func (svc *Service) MaxPossibleScore(ctx context.Context, templateID string) (decimal.Decimal, error) {
	tree, err := svc.GetTree(ctx, templateID)
	if err != nil {
		return decimal.Zero, err
	}
	return tree.MaxPossibleScore(), nil
}

// DeleteTemplate deletes a template and its rubric. It fails while evaluations reference the template.
func (svc *Service) DeleteTemplate(ctx context.Context, id string) error {
	return svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.GetTemplate(ctx, id); err != nil {
			return err
		}
		n, err := svc.dependents.CountByTemplate(ctx, id)
		if err != nil {
			return errors.Wrap(err, "counting template evaluations")
		}
		if n > 0 {
			return core.NewReferentialIntegrityError(fmt.Sprintf("template is referenced by %d evaluation(s)", n))
		}
		h, err := svc.repo.GetHierarchy(ctx, id)
		if err != nil {
			return err
		}
		itemIDs := make([]string, 0, len(h.Items))
		for _, it := range h.Items {
			itemIDs = append(itemIDs, it.ID)
		}
		if err = svc.checkItemsUnreferenced(ctx, itemIDs); err != nil {
			return err
		}
		return svc.repo.DeleteTemplate(ctx, id)
	})
}

func (svc *Service) LinkCall(ctx context.Context, templateID, callID string) (Template, error) {
	callID = core.CleanString(callID)
	if callID == "" {
		return Template{}, core.NewValidationError(nil, core.FieldError{Field: "call_id", Error: "this field is required"})
	}
	var tpl Template
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		if err := svc.repo.LinkCall(ctx, templateID, callID); err != nil {
			return err
		}
		var err error
		tpl, err = svc.repo.GetTemplate(ctx, templateID)
		return err
	})
	return tpl, err
}

func (svc *Service) UnlinkCall(ctx context.Context, templateID, callID string) (Template, error) {
	var tpl Template
	err := svc.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := svc.repo.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		if err := svc.repo.UnlinkCall(ctx, templateID, core.CleanString(callID)); err != nil {
			return err
		}
		var err error
		tpl, err = svc.repo.GetTemplate(ctx, templateID)
		return err
	})
	return tpl, err
}

// AppliesTo reports whether the template is active, linked to the call and usable for the kind of submission.
func (svc *Service) AppliesTo(ctx context.Context, templateID, callID string, kind submission.Kind) (bool, error) {
	tpl, err := svc.repo.GetTemplate(ctx, templateID)
	if err != nil {
		return false, err
	}
	return tpl.AppliesTo(callID, kind), nil
}

// Categories

func (svc *Service) CreateCategory(ctx context.Context, templateID string, nc NewCategory) (Category, error) {
	if err := nc.Validate(svc.validator); err != nil {
		return Category{}, err
	}
	now := time.Now().UTC()
	cat := Category{
		ID:          core.NewID(),
		TemplateID:  templateID,
		Name:        nc.Name,
		Description: nc.Description,
		Order:       nc.Order,
		IsActive:    nc.IsActive == nil || *nc.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		if _, err := svc.repo.GetTemplate(ctx, templateID); err != nil {
			return err
		}
		var err error
		if cat, err = svc.repo.CreateCategory(ctx, cat); err != nil {
			return err
		}
		sess.touch(templateID)
		return nil
	})
	if err != nil {
		return Category{}, err
	}
	return cat, nil
}

func (svc *Service) UpdateCategory(ctx context.Context, id string, nc NewCategory) (Category, error) {
	if err := nc.Validate(svc.validator); err != nil {
		return Category{}, err
	}
	var cat Category
	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		var err error
		if cat, err = svc.repo.GetCategory(ctx, id); err != nil {
			return err
		}
		cat.Name = nc.Name
		cat.Description = nc.Description
		cat.Order = nc.Order
		if nc.IsActive != nil {
			cat.IsActive = *nc.IsActive
		}
		cat.UpdatedAt = time.Now().UTC()
		if cat, err = svc.repo.UpdateCategory(ctx, cat); err != nil {
			return err
		}
		sess.touch(cat.TemplateID)
		return nil
	})
	if err != nil {
		return Category{}, err
	}
	return cat, nil
}

func (svc *Service) DeleteCategory(ctx context.Context, id string) error {
	return svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		cat, err := svc.repo.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		h, err := svc.repo.GetHierarchy(ctx, cat.TemplateID)
		if err != nil {
			return err
		}
		if err = svc.checkItemsUnreferenced(ctx, itemsUnderCategory(h, id)); err != nil {
			return err
		}
		if err = svc.repo.DeleteCategory(ctx, id); err != nil {
			return err
		}
		sess.touch(cat.TemplateID)
		return nil
	})
}

// Subcategories

func (svc *Service) CreateSubcategory(ctx context.Context, categoryID string, ns NewSubcategory) (Subcategory, error) {
	if err := ns.Validate(svc.validator); err != nil {
		return Subcategory{}, err
	}
	now := time.Now().UTC()
	sub := Subcategory{
		ID:         core.NewID(),
		CategoryID: categoryID,
		Name:       ns.Name,
		Order:      ns.Order,
		IsActive:   ns.IsActive == nil || *ns.IsActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		cat, err := svc.repo.GetCategory(ctx, categoryID)
		if err != nil {
			return err
		}
		if sub, err = svc.repo.CreateSubcategory(ctx, sub); err != nil {
			return err
		}
		sess.touch(cat.TemplateID)
		return nil
	})
	if err != nil {
		return Subcategory{}, err
	}
	return sub, nil
}

func (svc *Service) UpdateSubcategory(ctx context.Context, id string, ns NewSubcategory) (Subcategory, error) {
	if err := ns.Validate(svc.validator); err != nil {
		return Subcategory{}, err
	}
	var sub Subcategory
	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		var err error
		if sub, err = svc.repo.GetSubcategory(ctx, id); err != nil {
			return err
		}
		sub.Name = ns.Name
		sub.Order = ns.Order
		if ns.IsActive != nil {
			sub.IsActive = *ns.IsActive
		}
		sub.UpdatedAt = time.Now().UTC()
		if sub, err = svc.repo.UpdateSubcategory(ctx, sub); err != nil {
			return err
		}
		templateID, err := svc.templateOfSubcategory(ctx, sub)
		if err != nil {
			return err
		}
		sess.touch(templateID)
		return nil
	})
	if err != nil {
		return Subcategory{}, err
	}
	return sub, nil
}

func (svc *Service) DeleteSubcategory(ctx context.Context, id string) error {
	return svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		sub, err := svc.repo.GetSubcategory(ctx, id)
		if err != nil {
			return err
		}
		templateID, err := svc.templateOfSubcategory(ctx, sub)
		if err != nil {
			return err
		}
		h, err := svc.repo.GetHierarchy(ctx, templateID)
		if err != nil {
			return err
		}
		if err = svc.checkItemsUnreferenced(ctx, itemsUnderSubcategory(h, id)); err != nil {
			return err
		}
		if err = svc.repo.DeleteSubcategory(ctx, id); err != nil {
			return err
		}
		sess.touch(templateID)
		return nil
	})
}

// Items

func (svc *Service) checkSourceCollection(ni NewItem) error {
	if ni.FieldType != FieldDynamicDropdown {
		return nil
	}
	if svc.sources != nil {
		for _, c := range svc.sources.Collections() {
			if c == ni.SourceCollection {
				return nil
			}
		}
	}
	return core.NewValidationError(ErrUnknownCollection, core.FieldError{Field: "source_collection", Error: ErrUnknownCollection.Error()})
}

func (svc *Service) CreateItem(ctx context.Context, subcategoryID string, ni NewItem) (Item, error) {
	if err := ni.Validate(svc.validator); err != nil {
		return Item{}, err
	}
	if err := svc.checkSourceCollection(ni); err != nil {
		return Item{}, err
	}
	now := time.Now().UTC()
	item := Item{
		ID:            core.NewID(),
		SubcategoryID: subcategoryID,
		Question:      ni.Question,
		FieldType:     ni.FieldType,
		MaxScore:      DefaultItemMaxScore,
		Order:         ni.Order,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if ni.SourceCollection != "" {
		item.SourceCollection = null.StringFrom(ni.SourceCollection)
	}
	if ni.MaxScore.Valid {
		item.MaxScore = ni.MaxScore.Decimal
	}

	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		sub, err := svc.repo.GetSubcategory(ctx, subcategoryID)
		if err != nil {
			return err
		}
		templateID, err := svc.templateOfSubcategory(ctx, sub)
		if err != nil {
			return err
		}
		if item, err = svc.repo.CreateItem(ctx, item); err != nil {
			return err
		}
		sess.touch(templateID)
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// UpdateItem saves the item. An explicit max score only sticks while the item owns no options.
func (svc *Service) UpdateItem(ctx context.Context, id string, ni NewItem) (Item, error) {
	if err := ni.Validate(svc.validator); err != nil {
		return Item{}, err
	}
	if err := svc.checkSourceCollection(ni); err != nil {
		return Item{}, err
	}
	var item Item
	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		var err error
		if item, err = svc.repo.GetItem(ctx, id); err != nil {
			return err
		}
		item.Question = ni.Question
		item.FieldType = ni.FieldType
		item.SourceCollection = null.NewString(ni.SourceCollection, ni.SourceCollection != "")
		item.Order = ni.Order
		if ni.MaxScore.Valid {
			item.MaxScore = ni.MaxScore.Decimal
		}
		opts, err := svc.repo.GetOptions(ctx, id)
		if err != nil {
			return err
		}
		if max, ok := MaxFromOptions(opts); ok {
			item.MaxScore = max
		}
		item.UpdatedAt = time.Now().UTC()
		if item, err = svc.repo.UpdateItem(ctx, item); err != nil {
			return err
		}
		templateID, err := svc.templateOfItem(ctx, item)
		if err != nil {
			return err
		}
		sess.touch(templateID)
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

func (svc *Service) DeleteItem(ctx context.Context, id string) error {
	return svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		item, err := svc.repo.GetItem(ctx, id)
		if err != nil {
			return err
		}
		if err = svc.checkItemsUnreferenced(ctx, []string{id}); err != nil {
			return err
		}
		templateID, err := svc.templateOfItem(ctx, item)
		if err != nil {
			return err
		}
		if err = svc.repo.DeleteItem(ctx, id); err != nil {
			return err
		}
		sess.touch(templateID)
		return nil
	})
}

func (svc *Service) GetItem(ctx context.Context, id string) (ItemNode, error) {
	item, err := svc.repo.GetItem(ctx, id)
	if err != nil {
		return ItemNode{}, err
	}
	opts, err := svc.repo.GetOptions(ctx, id)
	if err != nil {
		return ItemNode{}, err
	}
	return ItemNode{Item: item, Options: opts}, nil
}

// SetOptions replaces every option of an item, then syncs the item max score with the highest option score.
// An empty list leaves the max score as it was.
func (svc *Service) SetOptions(ctx context.Context, itemID string, no NewOptions) (ItemNode, error) {
	if err := no.Validate(svc.validator); err != nil {
		return ItemNode{}, err
	}
	opts := make([]Option, 0, len(no.Options))
	for _, o := range no.Options {
		opts = append(opts, Option{
			ID:             core.NewID(),
			ItemID:         itemID,
			DisplayText:    o.DisplayText,
			Score:          o.Score,
			SourceObjectID: null.NewString(o.SourceObjectID, o.SourceObjectID != ""),
		})
	}

	var item Item
	err := svc.edit(ctx, func(ctx context.Context, sess *editSession) error {
		var err error
		if item, err = svc.repo.GetItem(ctx, itemID); err != nil {
			return err
		}
		if err = svc.repo.ReplaceOptions(ctx, itemID, opts); err != nil {
			return err
		}
		if max, ok := MaxFromOptions(opts); ok && !max.Equal(item.MaxScore) {
			item.MaxScore = max
			item.UpdatedAt = time.Now().UTC()
			if item, err = svc.repo.UpdateItem(ctx, item); err != nil {
				return err
			}
		}
		templateID, err := svc.templateOfItem(ctx, item)
		if err != nil {
			return err
		}
		sess.touch(templateID)
		return nil
	})
	if err != nil {
		return ItemNode{}, err
	}
	return ItemNode{Item: item, Options: opts}, nil
}

// DynamicOptions lists the choices of a dynamic_dropdown item from its source collection.
// Nothing is saved: the options are scored 0 and meant to be edited then passed to SetOptions.
func (svc *Service) DynamicOptions(ctx context.Context, itemID string) ([]NewOption, error) {
	item, err := svc.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.FieldType != FieldDynamicDropdown || !item.SourceCollection.Valid || svc.sources == nil {
		return []NewOption{}, nil
	}
	entries, err := svc.sources.Entries(ctx, item.SourceCollection.String)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving source collection %q", item.SourceCollection.String)
	}
	opts := make([]NewOption, 0, len(entries))
	for _, e := range entries {
		opts = append(opts, NewOption{DisplayText: e.Label, Score: decimal.Zero, SourceObjectID: e.ID})
	}
	return opts, nil
}

// SourceCollections lists the collections usable by dynamic_dropdown items.
func (svc *Service) SourceCollections() []string {
	if svc.sources == nil {
		return []string{}
	}
	return svc.sources.Collections()
}

// helpers

func (svc *Service) templateOfSubcategory(ctx context.Context, sub Subcategory) (string, error) {
	cat, err := svc.repo.GetCategory(ctx, sub.CategoryID)
	if err != nil {
		return "", err
	}
	return cat.TemplateID, nil
}

func (svc *Service) templateOfItem(ctx context.Context, item Item) (string, error) {
	sub, err := svc.repo.GetSubcategory(ctx, item.SubcategoryID)
	if err != nil {
		return "", err
	}
	return svc.templateOfSubcategory(ctx, sub)
}

func (svc *Service) checkItemsUnreferenced(ctx context.Context, itemIDs []string) error {
	if len(itemIDs) == 0 {
		return nil
	}
	n, err := svc.dependents.CountResponsesByItems(ctx, itemIDs...)
	if err != nil {
		return errors.Wrap(err, "counting item responses")
	}
	if n > 0 {
		return core.NewReferentialIntegrityError(fmt.Sprintf("rubric items are referenced by %d response(s)", n))
	}
	return nil
}

func itemsUnderSubcategory(h Hierarchy, subcategoryID string) []string {
	var ids []string
	for _, it := range h.Items {
		if it.SubcategoryID == subcategoryID {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

func itemsUnderCategory(h Hierarchy, categoryID string) []string {
	var ids []string
	for _, sc := range h.Subcategories {
		if sc.CategoryID == categoryID {
			ids = append(ids, itemsUnderSubcategory(h, sc.ID)...)
		}
	}
	return ids
}
