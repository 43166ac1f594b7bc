package dummydb

import (
	"context"
	"sort"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/rubric"
)

type rubricRepository struct {
	db *DB
}

var _ rubric.Repository = (*rubricRepository)(nil) // interface compliance check

func NewRubricRepository(db *DB) rubric.Repository {
	return &rubricRepository{db: db}
}

func copyTemplate(t rubric.Template) rubric.Template {
	t.CallIDs = append([]string{}, t.CallIDs...)
	return t
}

func (repo *rubricRepository) CreateTemplate(ctx context.Context, tpl rubric.Template) (rubric.Template, error) {
	err := repo.db.write(ctx, func() error {
		tpl = copyTemplate(tpl)
		repo.db.templates[tpl.ID] = tpl
		return nil
	})
	return copyTemplate(tpl), err
}

func (repo *rubricRepository) GetTemplate(ctx context.Context, id string) (rubric.Template, error) {
	var tpl rubric.Template
	err := repo.db.read(ctx, func() error {
		t, ok := repo.db.templates[id]
		if !ok {
			return rubric.ErrTemplateNotFound
		}
		tpl = copyTemplate(t)
		return nil
	})
	return tpl, err
}

func (repo *rubricRepository) QueryTemplates(ctx context.Context, filter rubric.QueryFilter) ([]rubric.Template, error) {
	tpls := make([]rubric.Template, 0)
	err := repo.db.read(ctx, func() error {
		for _, t := range repo.db.templates {
			if filter.Matches(t) {
				tpls = append(tpls, copyTemplate(t))
			}
		}
		return nil
	})
	sort.Slice(tpls, func(i, j int) bool {
		if tpls[i].Name != tpls[j].Name {
			return tpls[i].Name < tpls[j].Name
		}
		return tpls[i].ID < tpls[j].ID
	})
	return tpls, err
}

func (repo *rubricRepository) UpdateTemplate(ctx context.Context, tpl rubric.Template) (rubric.Template, error) {
	var updated rubric.Template
	err := repo.db.write(ctx, func() error {
		orig, ok := repo.db.templates[tpl.ID]
		if !ok {
			return rubric.ErrTemplateNotFound
		}
		// call links are only changed through LinkCall / UnlinkCall
		tpl.CallIDs = orig.CallIDs
		tpl.CreatedBy = orig.CreatedBy
		tpl.CreatedAt = orig.CreatedAt
		repo.db.templates[tpl.ID] = tpl
		updated = copyTemplate(tpl)
		return nil
	})
	return updated, err
}

func (repo *rubricRepository) DeleteTemplate(ctx context.Context, id string) error {
	return repo.db.write(ctx, func() error {
		if _, ok := repo.db.templates[id]; !ok {
			return rubric.ErrTemplateNotFound
		}
		for _, ev := range repo.db.evaluations {
			if ev.TemplateID.Valid && ev.TemplateID.String == id {
				return core.NewReferentialIntegrityError("template is referenced by evaluations")
			}
		}
		for _, cat := range repo.db.categories {
			if cat.TemplateID == id {
				if err := repo.deleteCategory(cat.ID); err != nil {
					return err
				}
			}
		}
		delete(repo.db.templates, id)
		return nil
	})
}

func (repo *rubricRepository) LinkCall(ctx context.Context, templateID, callID string) error {
	return repo.db.write(ctx, func() error {
		tpl, ok := repo.db.templates[templateID]
		if !ok {
			return rubric.ErrTemplateNotFound
		}
		if tpl.LinkedTo(callID) {
			return nil
		}
		tpl.CallIDs = append(append([]string{}, tpl.CallIDs...), callID)
		sort.Strings(tpl.CallIDs)
		repo.db.templates[templateID] = tpl
		return nil
	})
}

func (repo *rubricRepository) UnlinkCall(ctx context.Context, templateID, callID string) error {
	return repo.db.write(ctx, func() error {
		tpl, ok := repo.db.templates[templateID]
		if !ok {
			return nil
		}
		calls := make([]string, 0, len(tpl.CallIDs))
		for _, id := range tpl.CallIDs {
			if id != callID {
				calls = append(calls, id)
			}
		}
		tpl.CallIDs = calls
		repo.db.templates[templateID] = tpl
		return nil
	})
}

func (repo *rubricRepository) GetHierarchy(ctx context.Context, templateID string) (rubric.Hierarchy, error) {
	var h rubric.Hierarchy
	err := repo.db.read(ctx, func() error {
		tpl, ok := repo.db.templates[templateID]
		if !ok {
			return rubric.ErrTemplateNotFound
		}
		h = rubric.Hierarchy{
			Template:      copyTemplate(tpl),
			Categories:    []rubric.Category{},
			Subcategories: []rubric.Subcategory{},
			Items:         []rubric.Item{},
			Options:       []rubric.Option{},
		}
		cats := make(map[string]bool)
		for _, cat := range repo.db.categories {
			if cat.TemplateID == templateID {
				h.Categories = append(h.Categories, cat)
				cats[cat.ID] = true
			}
		}
		subs := make(map[string]bool)
		for _, sub := range repo.db.subcategories {
			if cats[sub.CategoryID] {
				h.Subcategories = append(h.Subcategories, sub)
				subs[sub.ID] = true
			}
		}
		items := make(map[string]bool)
		for _, it := range repo.db.items {
			if subs[it.SubcategoryID] {
				h.Items = append(h.Items, it)
				items[it.ID] = true
			}
		}
		for _, opt := range repo.db.options {
			if items[opt.ItemID] {
				h.Options = append(h.Options, opt)
			}
		}
		return nil
	})
	return h, err
}

// Categories

func (repo *rubricRepository) CreateCategory(ctx context.Context, cat rubric.Category) (rubric.Category, error) {
	err := repo.db.write(ctx, func() error {
		if _, ok := repo.db.templates[cat.TemplateID]; !ok {
			return rubric.ErrTemplateNotFound
		}
		repo.db.categories[cat.ID] = cat
		return nil
	})
	return cat, err
}

func (repo *rubricRepository) GetCategory(ctx context.Context, id string) (rubric.Category, error) {
	var cat rubric.Category
	err := repo.db.read(ctx, func() error {
		var ok bool
		if cat, ok = repo.db.categories[id]; !ok {
			return rubric.ErrCategoryNotFound
		}
		return nil
	})
	return cat, err
}

func (repo *rubricRepository) UpdateCategory(ctx context.Context, cat rubric.Category) (rubric.Category, error) {
	err := repo.db.write(ctx, func() error {
		orig, ok := repo.db.categories[cat.ID]
		if !ok {
			return rubric.ErrCategoryNotFound
		}
		cat.TemplateID = orig.TemplateID
		cat.CreatedAt = orig.CreatedAt
		repo.db.categories[cat.ID] = cat
		return nil
	})
	return cat, err
}

func (repo *rubricRepository) DeleteCategory(ctx context.Context, id string) error {
	return repo.db.write(ctx, func() error {
		if _, ok := repo.db.categories[id]; !ok {
			return rubric.ErrCategoryNotFound
		}
		return repo.deleteCategory(id)
	})
}

func (repo *rubricRepository) deleteCategory(id string) error {
	for _, sub := range repo.db.subcategories {
		if sub.CategoryID == id {
			if err := repo.deleteSubcategory(sub.ID); err != nil {
				return err
			}
		}
	}
	delete(repo.db.categories, id)
	return nil
}

// Subcategories

func (repo *rubricRepository) CreateSubcategory(ctx context.Context, sub rubric.Subcategory) (rubric.Subcategory, error) {
	err := repo.db.write(ctx, func() error {
		if _, ok := repo.db.categories[sub.CategoryID]; !ok {
			return rubric.ErrCategoryNotFound
		}
		repo.db.subcategories[sub.ID] = sub
		return nil
	})
	return sub, err
}

func (repo *rubricRepository) GetSubcategory(ctx context.Context, id string) (rubric.Subcategory, error) {
	var sub rubric.Subcategory
	err := repo.db.read(ctx, func() error {
		var ok bool
		if sub, ok = repo.db.subcategories[id]; !ok {
			return rubric.ErrSubcategoryNotFound
		}
		return nil
	})
	return sub, err
}

func (repo *rubricRepository) UpdateSubcategory(ctx context.Context, sub rubric.Subcategory) (rubric.Subcategory, error) {
	err := repo.db.write(ctx, func() error {
		orig, ok := repo.db.subcategories[sub.ID]
		if !ok {
			return rubric.ErrSubcategoryNotFound
		}
		sub.CategoryID = orig.CategoryID
		sub.CreatedAt = orig.CreatedAt
		repo.db.subcategories[sub.ID] = sub
		return nil
	})
	return sub, err
}

func (repo *rubricRepository) DeleteSubcategory(ctx context.Context, id string) error {
	return repo.db.write(ctx, func() error {
		if _, ok := repo.db.subcategories[id]; !ok {
			return rubric.ErrSubcategoryNotFound
		}
		return repo.deleteSubcategory(id)
	})
}

func (repo *rubricRepository) deleteSubcategory(id string) error {
	for _, it := range repo.db.items {
		if it.SubcategoryID == id {
			if err := repo.deleteItem(it.ID); err != nil {
				return err
			}
		}
	}
	delete(repo.db.subcategories, id)
	return nil
}

// Items

func (repo *rubricRepository) CreateItem(ctx context.Context, item rubric.Item) (rubric.Item, error) {
	err := repo.db.write(ctx, func() error {
		if _, ok := repo.db.subcategories[item.SubcategoryID]; !ok {
			return rubric.ErrSubcategoryNotFound
		}
		repo.db.items[item.ID] = item
		return nil
	})
	return item, err
}

func (repo *rubricRepository) GetItem(ctx context.Context, id string) (rubric.Item, error) {
	var item rubric.Item
	err := repo.db.read(ctx, func() error {
		var ok bool
		if item, ok = repo.db.items[id]; !ok {
			return rubric.ErrItemNotFound
		}
		return nil
	})
	return item, err
}

func (repo *rubricRepository) UpdateItem(ctx context.Context, item rubric.Item) (rubric.Item, error) {
	err := repo.db.write(ctx, func() error {
		orig, ok := repo.db.items[item.ID]
		if !ok {
			return rubric.ErrItemNotFound
		}
		item.SubcategoryID = orig.SubcategoryID
		item.CreatedAt = orig.CreatedAt
		repo.db.items[item.ID] = item
		return nil
	})
	return item, err
}

func (repo *rubricRepository) DeleteItem(ctx context.Context, id string) error {
	return repo.db.write(ctx, func() error {
		if _, ok := repo.db.items[id]; !ok {
			return rubric.ErrItemNotFound
		}
		return repo.deleteItem(id)
	})
}

// deleteItem refuses to delete answered items, like the foreign key of responses does.
func (repo *rubricRepository) deleteItem(id string) error {
	for _, resp := range repo.db.responses {
		if resp.ItemID == id {
			return core.NewReferentialIntegrityError("item has responses")
		}
	}
	for optID, opt := range repo.db.options {
		if opt.ItemID == id {
			delete(repo.db.options, optID)
		}
	}
	delete(repo.db.items, id)
	return nil
}

// Options

func (repo *rubricRepository) GetOptions(ctx context.Context, itemID string) ([]rubric.Option, error) {
	opts := make([]rubric.Option, 0)
	err := repo.db.read(ctx, func() error {
		for _, opt := range repo.db.options {
			if opt.ItemID == itemID {
				opts = append(opts, opt)
			}
		}
		return nil
	})
	sort.Slice(opts, func(i, j int) bool { return opts[i].ID < opts[j].ID })
	return opts, err
}

func (repo *rubricRepository) ReplaceOptions(ctx context.Context, itemID string, opts []rubric.Option) error {
	return repo.db.write(ctx, func() error {
		for optID, opt := range repo.db.options {
			if opt.ItemID == itemID {
				delete(repo.db.options, optID)
			}
		}
		if len(opts) == 0 {
			return nil
		}
		if _, ok := repo.db.items[itemID]; !ok {
			return rubric.ErrItemNotFound
		}
		for _, opt := range opts {
			opt.ItemID = itemID
			repo.db.options[opt.ID] = opt
		}
		return nil
	})
}
