// Package di wires the core services together. The API server, the admin CLI and the tests share it.
package di

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/core/approval"
	"github.com/trezcool/convoca/core/evaluation"
	"github.com/trezcool/convoca/core/rubric"
	"github.com/trezcool/convoca/core/submission"
	emailsvc "github.com/trezcool/convoca/services/email"
	logsvc "github.com/trezcool/convoca/services/logger"
	notifysvc "github.com/trezcool/convoca/services/notify"
	"github.com/trezcool/convoca/services/optsource"
	"github.com/trezcool/convoca/storage/database"
	sqlxrepos "github.com/trezcool/convoca/storage/database/sqlx"
)

type (
	// Repositories is a storage backend: postgres or in-memory.
	Repositories struct {
		Tx          core.Transactor
		Rubrics     rubric.Repository
		Submissions submission.Repository
		Evaluations evaluation.Repository
	}

	Container struct {
		Validator     *core.Validator
		Recalculator  *evaluation.Recalculator
		RubricSvc     *rubric.Service
		SubmissionSvc *submission.Service
		ApprovalCtrl  *approval.Controller
		EvaluationSvc *evaluation.Service
	}
)

func NewLogger(conf *core.Config, prefix string) core.Logger {
	stdLogger := log.New(os.Stdout, prefix+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(stdLogger, conf)
	logger.Enable(!conf.Debug)
	return logger
}

func NewEmailService(conf *core.Config, logger core.Logger) core.EmailService {
	if conf.Debug || conf.SendgridApiKey == "" {
		return emailsvc.NewConsoleService(conf, logger)
	}
	return emailsvc.NewSendgridService(conf, logger)
}

// NewDB creates the database if needed, opens it and runs the migrations.
func NewDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}
	if err = database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func PostgresRepositories(db *sqlx.DB) Repositories {
	return Repositories{
		Tx:          database.NewTransactor(db),
		Rubrics:     sqlxrepos.NewRubricRepository(db),
		Submissions: sqlxrepos.NewSubmissionRepository(db),
		Evaluations: sqlxrepos.NewEvaluationRepository(db),
	}
}

// NewContainer builds the services over repos. A nil notifier disables approval notifications.
func NewContainer(repos Repositories, sources rubric.OptionSource, notifier approval.Notifier, logger core.Logger) *Container {
	c := &Container{Validator: core.NewValidator()}
	c.Recalculator = evaluation.NewRecalculator(repos.Evaluations, repos.Rubrics, logger)
	c.RubricSvc = rubric.NewService(repos.Tx, repos.Rubrics, c.Recalculator, c.Recalculator, sources, c.Validator, logger)
	c.SubmissionSvc = submission.NewService(repos.Tx, repos.Submissions, c.Validator)
	c.ApprovalCtrl = approval.NewController(repos.Tx, repos.Evaluations, c.SubmissionSvc, c.RubricSvc, notifier, logger)
	c.EvaluationSvc = evaluation.NewService(
		repos.Tx, repos.Evaluations, c.Recalculator, c.RubricSvc, c.SubmissionSvc, c.ApprovalCtrl, c.Validator, logger,
	)
	return c
}

// NewPostgresContainer sets up the whole application over postgres.
func NewPostgresContainer(conf *core.Config, logger core.Logger) (*Container, *sqlx.DB, error) {
	db, err := NewDB(conf)
	if err != nil {
		return nil, nil, errors.Wrap(err, "setting up database")
	}
	sources, err := optsource.LoadFile(conf.OptionSourcesFile)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	notifier := notifysvc.NewEmailNotifier(conf, NewEmailService(conf, logger), logger)
	return NewContainer(PostgresRepositories(db), sources, notifier, logger), db, nil
}
