package main

import (
	"fmt"
	"os"

	"github.com/trezcool/convoca/apps/api/di"
	"github.com/trezcool/convoca/core"
	"github.com/trezcool/convoca/services/optsource"
	"github.com/trezcool/convoca/storage/database"
)

func main() {
	conf := core.NewConfig()
	logger := di.NewLogger(conf, "ADMIN")

	// set up DB (migrations are left to the migrate command)
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}
	defer db.Close()

	sources, err := optsource.LoadFile(conf.OptionSourcesFile)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading option sources: %v", err), err)
	}
	c := di.NewContainer(di.PostgresRepositories(db), sources, nil, logger)

	// start CLI
	cli := newCommandLine(c.RubricSvc, func(command string, args ...string) error {
		return database.RunMigrations(db, command, args...)
	}, os.Stdout)
	if err := cli.run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "\nerror: %v\n", err)
		db.Close()
		os.Exit(1)
	}
}
