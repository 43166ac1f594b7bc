package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core/rubric"
	"github.com/trezcool/convoca/storage/database"
)

type rubricRepository struct {
	db *sqlx.DB
}

var _ rubric.Repository = (*rubricRepository)(nil) // interface compliance check

func NewRubricRepository(db *sqlx.DB) rubric.Repository {
	return &rubricRepository{db: db}
}

func (repo *rubricRepository) exec(ctx context.Context) sqlx.ExtContext {
	return database.Executor(ctx, repo.db)
}

// notFound maps sql.ErrNoRows and malformed ids to errNotFound.
func notFound(err, errNotFound error) error {
	if errors.Is(err, sql.ErrNoRows) || database.IsInvalidText(err) {
		return errNotFound
	}
	return err
}

func itoa(i int) string { return strconv.Itoa(i) }

// mustAffect returns errNotFound when res affected no row.
func mustAffect(res sql.Result, err, errNotFound error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNotFound
	}
	return nil
}

// Templates

const templateColumns = `id, name, description, is_active, applies_to_expression, applies_to_proposal, created_by, created_at, updated_at`

func (repo *rubricRepository) callIDs(ctx context.Context, templateIDs ...string) (map[string][]string, error) {
	rows := []struct {
		TemplateID string `db:"template_id"`
		CallID     string `db:"call_id"`
	}{}
	q := `SELECT template_id, call_id FROM evaluation_template_call WHERE template_id = ANY($1) ORDER BY call_id`
	if err := sqlx.SelectContext(ctx, repo.exec(ctx), &rows, q, pq.Array(templateIDs)); err != nil {
		return nil, errors.Wrap(err, "selecting template calls")
	}
	calls := make(map[string][]string, len(templateIDs))
	for _, r := range rows {
		calls[r.TemplateID] = append(calls[r.TemplateID], r.CallID)
	}
	return calls, nil
}

func (repo *rubricRepository) CreateTemplate(ctx context.Context, tpl rubric.Template) (rubric.Template, error) {
	q := `INSERT INTO evaluation_template (` + templateColumns + `)
		VALUES (:id, :name, :description, :is_active, :applies_to_expression, :applies_to_proposal, :created_by, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, tpl); err != nil {
		return rubric.Template{}, errors.Wrap(err, "inserting template")
	}
	tpl.CallIDs = []string{}
	return tpl, nil
}

func (repo *rubricRepository) GetTemplate(ctx context.Context, id string) (rubric.Template, error) {
	var tpl rubric.Template
	q := `SELECT ` + templateColumns + ` FROM evaluation_template WHERE id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &tpl, q, id); err != nil {
		return rubric.Template{}, notFound(err, rubric.ErrTemplateNotFound)
	}
	calls, err := repo.callIDs(ctx, id)
	if err != nil {
		return rubric.Template{}, err
	}
	tpl.CallIDs = append([]string{}, calls[id]...)
	return tpl, nil
}

func (repo *rubricRepository) QueryTemplates(ctx context.Context, filter rubric.QueryFilter) ([]rubric.Template, error) {
	var (
		conds []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + itoa(len(args))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		conds = append(conds, "(name ILIKE "+p+" OR description ILIKE "+p+")")
	}
	if filter.CallID != "" {
		conds = append(conds, "id IN (SELECT template_id FROM evaluation_template_call WHERE call_id = "+arg(filter.CallID)+")")
	}
	switch filter.Kind {
	case "expression":
		conds = append(conds, "applies_to_expression")
	case "proposal":
		conds = append(conds, "applies_to_proposal")
	}
	if filter.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*filter.IsActive))
	}

	q := `SELECT ` + templateColumns + ` FROM evaluation_template`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY name, id"

	tpls := []rubric.Template{}
	if err := sqlx.SelectContext(ctx, repo.exec(ctx), &tpls, q, args...); err != nil {
		return nil, errors.Wrap(err, "selecting templates")
	}
	ids := make([]string, 0, len(tpls))
	for _, t := range tpls {
		ids = append(ids, t.ID)
	}
	calls, err := repo.callIDs(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for i := range tpls {
		tpls[i].CallIDs = append([]string{}, calls[tpls[i].ID]...)
	}
	return tpls, nil
}

func (repo *rubricRepository) UpdateTemplate(ctx context.Context, tpl rubric.Template) (rubric.Template, error) {
	q := `UPDATE evaluation_template SET
			name = :name, description = :description, is_active = :is_active,
			applies_to_expression = :applies_to_expression, applies_to_proposal = :applies_to_proposal,
			updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, tpl)
	if err = mustAffect(res, err, rubric.ErrTemplateNotFound); err != nil {
		return rubric.Template{}, errors.Wrap(err, "updating template")
	}
	return repo.GetTemplate(ctx, tpl.ID)
}

func (repo *rubricRepository) DeleteTemplate(ctx context.Context, id string) error {
	res, err := repo.exec(ctx).ExecContext(ctx, `DELETE FROM evaluation_template WHERE id = $1`, id)
	return errors.Wrap(mustAffect(res, err, rubric.ErrTemplateNotFound), "deleting template")
}

func (repo *rubricRepository) LinkCall(ctx context.Context, templateID, callID string) error {
	q := `INSERT INTO evaluation_template_call (template_id, call_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	_, err := repo.exec(ctx).ExecContext(ctx, q, templateID, callID)
	if database.IsForeignKeyViolation(err) {
		return rubric.ErrTemplateNotFound
	}
	return errors.Wrap(err, "linking call")
}

func (repo *rubricRepository) UnlinkCall(ctx context.Context, templateID, callID string) error {
	q := `DELETE FROM evaluation_template_call WHERE template_id = $1 AND call_id = $2`
	_, err := repo.exec(ctx).ExecContext(ctx, q, templateID, callID)
	return errors.Wrap(err, "unlinking call")
}

func (repo *rubricRepository) GetHierarchy(ctx context.Context, templateID string) (rubric.Hierarchy, error) {
	tpl, err := repo.GetTemplate(ctx, templateID)
	if err != nil {
		return rubric.Hierarchy{}, err
	}
	h := rubric.Hierarchy{
		Template:      tpl,
		Categories:    []rubric.Category{},
		Subcategories: []rubric.Subcategory{},
		Items:         []rubric.Item{},
		Options:       []rubric.Option{},
	}
	e := repo.exec(ctx)

	q := `SELECT ` + categoryColumns + ` FROM template_category WHERE template_id = $1`
	if err = sqlx.SelectContext(ctx, e, &h.Categories, q, templateID); err != nil {
		return rubric.Hierarchy{}, errors.Wrap(err, "selecting categories")
	}
	q = `SELECT s.id, s.category_id, s.name, s.position, s.is_active, s.created_at, s.updated_at
		FROM template_subcategory s JOIN template_category c ON c.id = s.category_id
		WHERE c.template_id = $1`
	if err = sqlx.SelectContext(ctx, e, &h.Subcategories, q, templateID); err != nil {
		return rubric.Hierarchy{}, errors.Wrap(err, "selecting subcategories")
	}
	q = `SELECT i.id, i.subcategory_id, i.question, i.field_type, i.source_collection, i.max_score, i.position, i.created_at, i.updated_at
		FROM template_item i
			JOIN template_subcategory s ON s.id = i.subcategory_id
			JOIN template_category c ON c.id = s.category_id
		WHERE c.template_id = $1`
	if err = sqlx.SelectContext(ctx, e, &h.Items, q, templateID); err != nil {
		return rubric.Hierarchy{}, errors.Wrap(err, "selecting items")
	}
	q = `SELECT o.id, o.item_id, o.display_text, o.score, o.source_object_id
		FROM template_item_option o
			JOIN template_item i ON i.id = o.item_id
			JOIN template_subcategory s ON s.id = i.subcategory_id
			JOIN template_category c ON c.id = s.category_id
		WHERE c.template_id = $1`
	if err = sqlx.SelectContext(ctx, e, &h.Options, q, templateID); err != nil {
		return rubric.Hierarchy{}, errors.Wrap(err, "selecting options")
	}
	return h, nil
}

// Categories

const categoryColumns = `id, template_id, name, description, position, is_active, created_at, updated_at`

func (repo *rubricRepository) CreateCategory(ctx context.Context, cat rubric.Category) (rubric.Category, error) {
	q := `INSERT INTO template_category (` + categoryColumns + `)
		VALUES (:id, :template_id, :name, :description, :position, :is_active, :created_at, :updated_at)`
	_, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, cat)
	if database.IsForeignKeyViolation(err) {
		return rubric.Category{}, rubric.ErrTemplateNotFound
	}
	if err != nil {
		return rubric.Category{}, errors.Wrap(err, "inserting category")
	}
	return cat, nil
}

func (repo *rubricRepository) GetCategory(ctx context.Context, id string) (rubric.Category, error) {
	var cat rubric.Category
	q := `SELECT ` + categoryColumns + ` FROM template_category WHERE id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &cat, q, id); err != nil {
		return rubric.Category{}, notFound(err, rubric.ErrCategoryNotFound)
	}
	return cat, nil
}

func (repo *rubricRepository) UpdateCategory(ctx context.Context, cat rubric.Category) (rubric.Category, error) {
	q := `UPDATE template_category SET
			name = :name, description = :description, position = :position, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, cat)
	if err = mustAffect(res, err, rubric.ErrCategoryNotFound); err != nil {
		return rubric.Category{}, errors.Wrap(err, "updating category")
	}
	return cat, nil
}

func (repo *rubricRepository) DeleteCategory(ctx context.Context, id string) error {
	res, err := repo.exec(ctx).ExecContext(ctx, `DELETE FROM template_category WHERE id = $1`, id)
	return errors.Wrap(mustAffect(res, err, rubric.ErrCategoryNotFound), "deleting category")
}

// Subcategories

const subcategoryColumns = `id, category_id, name, position, is_active, created_at, updated_at`

func (repo *rubricRepository) CreateSubcategory(ctx context.Context, sub rubric.Subcategory) (rubric.Subcategory, error) {
	q := `INSERT INTO template_subcategory (` + subcategoryColumns + `)
		VALUES (:id, :category_id, :name, :position, :is_active, :created_at, :updated_at)`
	_, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, sub)
	if database.IsForeignKeyViolation(err) {
		return rubric.Subcategory{}, rubric.ErrCategoryNotFound
	}
	if err != nil {
		return rubric.Subcategory{}, errors.Wrap(err, "inserting subcategory")
	}
	return sub, nil
}

func (repo *rubricRepository) GetSubcategory(ctx context.Context, id string) (rubric.Subcategory, error) {
	var sub rubric.Subcategory
	q := `SELECT ` + subcategoryColumns + ` FROM template_subcategory WHERE id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &sub, q, id); err != nil {
		return rubric.Subcategory{}, notFound(err, rubric.ErrSubcategoryNotFound)
	}
	return sub, nil
}

func (repo *rubricRepository) UpdateSubcategory(ctx context.Context, sub rubric.Subcategory) (rubric.Subcategory, error) {
	q := `UPDATE template_subcategory SET
			name = :name, position = :position, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, sub)
	if err = mustAffect(res, err, rubric.ErrSubcategoryNotFound); err != nil {
		return rubric.Subcategory{}, errors.Wrap(err, "updating subcategory")
	}
	return sub, nil
}

func (repo *rubricRepository) DeleteSubcategory(ctx context.Context, id string) error {
	res, err := repo.exec(ctx).ExecContext(ctx, `DELETE FROM template_subcategory WHERE id = $1`, id)
	return errors.Wrap(mustAffect(res, err, rubric.ErrSubcategoryNotFound), "deleting subcategory")
}

// Items

const itemColumns = `id, subcategory_id, question, field_type, source_collection, max_score, position, created_at, updated_at`

func (repo *rubricRepository) CreateItem(ctx context.Context, item rubric.Item) (rubric.Item, error) {
	q := `INSERT INTO template_item (` + itemColumns + `)
		VALUES (:id, :subcategory_id, :question, :field_type, :source_collection, :max_score, :position, :created_at, :updated_at)`
	_, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, item)
	if database.IsForeignKeyViolation(err) {
		return rubric.Item{}, rubric.ErrSubcategoryNotFound
	}
	if err != nil {
		return rubric.Item{}, errors.Wrap(err, "inserting item")
	}
	return item, nil
}

func (repo *rubricRepository) GetItem(ctx context.Context, id string) (rubric.Item, error) {
	var item rubric.Item
	q := `SELECT ` + itemColumns + ` FROM template_item WHERE id = $1`
	if err := sqlx.GetContext(ctx, repo.exec(ctx), &item, q, id); err != nil {
		return rubric.Item{}, notFound(err, rubric.ErrItemNotFound)
	}
	return item, nil
}

func (repo *rubricRepository) UpdateItem(ctx context.Context, item rubric.Item) (rubric.Item, error) {
	q := `UPDATE template_item SET
			question = :question, field_type = :field_type, source_collection = :source_collection,
			max_score = :max_score, position = :position, updated_at = :updated_at
		WHERE id = :id`
	res, err := sqlx.NamedExecContext(ctx, repo.exec(ctx), q, item)
	if err = mustAffect(res, err, rubric.ErrItemNotFound); err != nil {
		return rubric.Item{}, errors.Wrap(err, "updating item")
	}
	return item, nil
}

func (repo *rubricRepository) DeleteItem(ctx context.Context, id string) error {
	res, err := repo.exec(ctx).ExecContext(ctx, `DELETE FROM template_item WHERE id = $1`, id)
	return errors.Wrap(mustAffect(res, err, rubric.ErrItemNotFound), "deleting item")
}

// Options

func (repo *rubricRepository) GetOptions(ctx context.Context, itemID string) ([]rubric.Option, error) {
	opts := []rubric.Option{}
	q := `SELECT id, item_id, display_text, score, source_object_id FROM template_item_option WHERE item_id = $1 ORDER BY id`
	if err := sqlx.SelectContext(ctx, repo.exec(ctx), &opts, q, itemID); err != nil {
		return nil, errors.Wrap(err, "selecting options")
	}
	return opts, nil
}

func (repo *rubricRepository) ReplaceOptions(ctx context.Context, itemID string, opts []rubric.Option) error {
	e := repo.exec(ctx)
	if _, err := e.ExecContext(ctx, `DELETE FROM template_item_option WHERE item_id = $1`, itemID); err != nil {
		return errors.Wrap(err, "deleting options")
	}
	if len(opts) == 0 {
		return nil
	}
	q := `INSERT INTO template_item_option (id, item_id, display_text, score, source_object_id)
		VALUES (:id, :item_id, :display_text, :score, :source_object_id)`
	_, err := sqlx.NamedExecContext(ctx, e, q, opts)
	if database.IsForeignKeyViolation(err) {
		return rubric.ErrItemNotFound
	}
	return errors.Wrap(err, "inserting options")
}
