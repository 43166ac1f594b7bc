package testutil

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/trezcool/convoca/apps/api/di"
	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/approval"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/rubric"
	"github.com/trezcool/convoca/core/submission"
	logsvc "github.com/trezcool/convoca/services/logger"
	"github.com/trezcool/convoca/services/optsource"
	dummydb "github.com/trezcool/convoca/storage/database/dummy"
)

const (
	CallID      = "call-2024"
	Coordinator = "coordinator-1"
	Researcher  = "researcher-1"
)

// Env is a whole application over the in-memory store.
type Env struct {
	*di.Container
	DB       *dummydb.DB
	Repos    di.Repositories
	Sources  *optsource.Source
	Notifier *RecordingNotifier
	Logger   core.Logger
}

func NewEnv(t *testing.T) *Env {
	t.Helper()
	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open() failed: %v", err)
	}
	env := &Env{
		DB: db,
		Repos: di.Repositories{
			Tx:          dummydb.NewTransactor(db),
			Rubrics:     dummydb.NewRubricRepository(db),
			Submissions: dummydb.NewSubmissionRepository(db),
			Evaluations: dummydb.NewEvaluationRepository(db),
		},
		Sources: optsource.New(map[string][]rubric.SourceEntry{
			"institutions": {
				{ID: "unikin", Label: "Université de Kinshasa"},
				{ID: "unilu", Label: "Université de Lubumbashi"},
			},
		}),
		Notifier: new(RecordingNotifier),
		Logger:   logsvc.NewDiscardLogger(),
	}
	env.Container = di.NewContainer(env.Repos, env.Sources, env.Notifier, env.Logger)
	return env
}

// RecordingNotifier keeps every approval event it is notified of.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []approval.Event
}

func (n *RecordingNotifier) Notify(evt approval.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, evt)
}

func (n *RecordingNotifier) Events() []approval.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]approval.Event(nil), n.events...)
}

func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func NumberItem(question string, max string) rubric.NewItem {
	return rubric.NewItem{Question: question, FieldType: rubric.FieldNumber, MaxScore: decimal.NewNullDecimal(D(max))}
}

func CreateTemplate(t *testing.T, svc *rubric.Service, name string, callIDs ...string) rubric.Template {
	t.Helper()
	tpl, err := svc.CreateTemplate(context.Background(), rubric.NewTemplate{Name: name, CallIDs: callIDs, CreatedBy: Coordinator})
	if err != nil {
		t.Fatalf("CreateTemplate() failed: %v", err)
	}
	return tpl
}

// AddItems creates one category holding one subcategory holding items.
func AddItems(t *testing.T, svc *rubric.Service, templateID string, items ...rubric.NewItem) []rubric.Item {
	t.Helper()
	ctx := context.Background()
	cat, err := svc.CreateCategory(ctx, templateID, rubric.NewCategory{Name: "Scientific merit"})
	if err != nil {
		t.Fatalf("CreateCategory() failed: %v", err)
	}
	sub, err := svc.CreateSubcategory(ctx, cat.ID, rubric.NewSubcategory{Name: "Relevance"})
	if err != nil {
		t.Fatalf("CreateSubcategory() failed: %v", err)
	}
	created := make([]rubric.Item, 0, len(items))
	for i, ni := range items {
		ni.Order = i
		item, err := svc.CreateItem(ctx, sub.ID, ni)
		if err != nil {
			t.Fatalf("CreateItem() failed: %v", err)
		}
		created = append(created, item)
	}
	return created
}

// CreateScoredTemplate creates a template linked to CallID with one number item per max score.
func CreateScoredTemplate(t *testing.T, svc *rubric.Service, maxScores ...string) rubric.Tree {
	t.Helper()
	tpl := CreateTemplate(t, svc, "Evaluation grid", CallID)
	items := make([]rubric.NewItem, 0, len(maxScores))
	for _, max := range maxScores {
		items = append(items, NumberItem("Question worth "+max, max))
	}
	AddItems(t, svc, tpl.ID, items...)
	tree, err := svc.GetTree(context.Background(), tpl.ID)
	if err != nil {
		t.Fatalf("GetTree() failed: %v", err)
	}
	return tree
}

// CreateExpression creates an expression for CallID, submitted when submit is true.
func CreateExpression(t *testing.T, svc *submission.Service, submit bool) submission.Expression {
	t.Helper()
	ctx := context.Background()
	expr, err := svc.CreateExpression(ctx, submission.NewExpression{
		CallID:       CallID,
		OwnerID:      Researcher,
		OwnerEmail:   "researcher@test.cd",
		ProjectTitle: "Malaria vectors in the Congo basin",
		Problem:      "Vector resistance",
	})
	if err != nil {
		t.Fatalf("CreateExpression() failed: %v", err)
	}
	if submit {
		if expr, err = svc.SubmitExpression(ctx, expr.ID); err != nil {
			t.Fatalf("SubmitExpression() failed: %v", err)
		}
	}
	return expr
}

func Assign(t *testing.T, svc *evaluation.Service, target submission.Target, evaluatorID, templateID string) evaluation.Evaluation {
	t.Helper()
	ev, _, err := svc.Assign(context.Background(), evaluation.Assignment{
		TargetKind:  target.Kind,
		TargetID:    target.ID,
		EvaluatorID: evaluatorID,
		TemplateID:  templateID,
		AssignedBy:  Coordinator,
	})
	if err != nil {
		t.Fatalf("Assign() failed: %v", err)
	}
	return ev
}

// Answers scores every number item of tree at ratio of its max score, rounded to one decimal.
func Answers(tree rubric.Tree, ratio string) evaluation.Answers {
	var as evaluation.Answers
	for _, it := range tree.Items() {
		as.Answers = append(as.Answers, evaluation.Answer{
			ItemID: it.ID,
			Score:  decimal.NewNullDecimal(it.MaxScore.Mul(D(ratio)).Round(1)),
		})
	}
	return as
}

// Complete submits answers scored at ratio on behalf of the evaluator of ev.
func Complete(t *testing.T, svc *evaluation.Service, tree rubric.Tree, ev evaluation.Evaluation, ratio string) (evaluation.Evaluation, bool) {
	t.Helper()
	done, approved, err := svc.Submit(context.Background(), ev.ID, ev.EvaluatorID, Answers(tree, ratio))
	if err != nil {
		t.Fatalf("Submit() failed: %v", err)
	}
	return done, approved
}
