package dummydb

import (
	"context"
	"maps"
	"sync"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/rubric"
	"github.com/trezcool/convoca/core/submission"
)

type (
	// DB is an in-memory database. A transaction holds the single lock of the DB until it ends,
	// so transactions are fully serialized and every lock a repository takes is implied.
	DB struct {
		mu sync.Mutex
		tables
	}

	tables struct {
		templates     map[string]rubric.Template
		categories    map[string]rubric.Category
		subcategories map[string]rubric.Subcategory
		items         map[string]rubric.Item
		options       map[string]rubric.Option
		expressions   map[string]submission.Expression
		proposals     map[string]submission.Proposal
		evaluations   map[string]evaluation.Evaluation
		responses     map[string]evaluation.Response
	}

	txKey struct{}
)

func Open() (*DB, error) {
	db := &DB{
		tables: tables{
			templates:     make(map[string]rubric.Template),
			categories:    make(map[string]rubric.Category),
			subcategories: make(map[string]rubric.Subcategory),
			items:         make(map[string]rubric.Item),
			options:       make(map[string]rubric.Option),
			expressions:   make(map[string]submission.Expression),
			proposals:     make(map[string]submission.Proposal),
			evaluations:   make(map[string]evaluation.Evaluation),
			responses:     make(map[string]evaluation.Response),
		},
	}
	return db, nil
}

// snapshot copies every table. Rows are stored by value and never mutated in place,
// so copying the maps is enough to restore them.
func (t *tables) snapshot() tables {
	return tables{
		templates:     maps.Clone(t.templates),
		categories:    maps.Clone(t.categories),
		subcategories: maps.Clone(t.subcategories),
		items:         maps.Clone(t.items),
		options:       maps.Clone(t.options),
		expressions:   maps.Clone(t.expressions),
		proposals:     maps.Clone(t.proposals),
		evaluations:   maps.Clone(t.evaluations),
		responses:     maps.Clone(t.responses),
	}
}

func (db *DB) inTx(ctx context.Context) bool {
	owner, ok := ctx.Value(txKey{}).(*DB)
	return ok && owner == db
}

// read runs fn under the DB lock, unless ctx carries a transaction already holding it.
func (db *DB) read(ctx context.Context, fn func() error) error {
	if db.inTx(ctx) {
		return fn()
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn()
}

// write runs fn atomically: the tables are restored when fn fails outside a transaction.
func (db *DB) write(ctx context.Context, fn func() error) error {
	if db.inTx(ctx) {
		return fn()
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	snap := db.snapshot()
	if err := fn(); err != nil {
		db.tables = snap
		return err
	}
	return nil
}

// Transactor runs functions within in-memory transactions.
type Transactor struct {
	db *DB
}

var _ core.Transactor = (*Transactor)(nil) // interface compliance check

func NewTransactor(db *DB) *Transactor {
	return &Transactor{db: db}
}

func (t *Transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if t.db.inTx(ctx) {
		return fn(ctx)
	}

	t.db.mu.Lock()
	snap := t.db.snapshot()
	ctx, hooks := core.WithCommitHooks(context.WithValue(ctx, txKey{}, t.db))

	defer func() {
		if p := recover(); p != nil {
			t.db.tables = snap
			t.db.mu.Unlock()
			panic(p)
		}
	}()

	if err = fn(ctx); err != nil {
		t.db.tables = snap
		t.db.mu.Unlock()
		return err
	}
	t.db.mu.Unlock()
	hooks.Run()
	return nil
}
