package rubric

import (
	"context"

	"github.com/trezcool/convoca/core"
)

var (
	// errors
	ErrTemplateNotFound    = core.NewNotFoundError("template")
	ErrCategoryNotFound    = core.NewNotFoundError("category")
	ErrSubcategoryNotFound = core.NewNotFoundError("subcategory")
	ErrItemNotFound        = core.NewNotFoundError("item")
)

// Repository persists the rubric hierarchy. Deleting a record cascades to everything below it.
// Implementations join the transaction carried by ctx, if any.
type Repository interface {
	CreateTemplate(ctx context.Context, tpl Template) (Template, error)
	GetTemplate(ctx context.Context, id string) (Template, error)
	// QueryTemplates applies AND operation on available QueryFilter fields, ordered by name.
	QueryTemplates(ctx context.Context, filter QueryFilter) ([]Template, error)
	UpdateTemplate(ctx context.Context, tpl Template) (Template, error)
	DeleteTemplate(ctx context.Context, id string) error
	// LinkCall is a no-op when the template is already linked to the call.
	LinkCall(ctx context.Context, templateID, callID string) error
	UnlinkCall(ctx context.Context, templateID, callID string) error

	// GetHierarchy loads the template and every record below it.
	GetHierarchy(ctx context.Context, templateID string) (Hierarchy, error)

	CreateCategory(ctx context.Context, cat Category) (Category, error)
	GetCategory(ctx context.Context, id string) (Category, error)
	UpdateCategory(ctx context.Context, cat Category) (Category, error)
	DeleteCategory(ctx context.Context, id string) error

	CreateSubcategory(ctx context.Context, sub Subcategory) (Subcategory, error)
	GetSubcategory(ctx context.Context, id string) (Subcategory, error)
	UpdateSubcategory(ctx context.Context, sub Subcategory) (Subcategory, error)
	DeleteSubcategory(ctx context.Context, id string) error

	CreateItem(ctx context.Context, item Item) (Item, error)
	GetItem(ctx context.Context, id string) (Item, error)
	UpdateItem(ctx context.Context, item Item) (Item, error)
	DeleteItem(ctx context.Context, id string) error

	GetOptions(ctx context.Context, itemID string) ([]Option, error)
	// ReplaceOptions deletes every option of the item then inserts opts.
	ReplaceOptions(ctx context.Context, itemID string, opts []Option) error
}
