package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/trezcool/convoca/core/rubric"
)

// migrateFunc runs a goose command; mockable in tests.
type migrateFunc func(command string, args ...string) error

type commandLine struct {
	rubrics *rubric.Service
	migrate migrateFunc
	out     io.Writer
	open    func(name string) (io.ReadCloser, error) // mockable
}

func newCommandLine(rubrics *rubric.Service, migrate migrateFunc, out io.Writer) *commandLine {
	return &commandLine{
		rubrics: rubrics,
		migrate: migrate,
		out:     out,
		open: func(name string) (io.ReadCloser, error) {
			if name == "-" {
				return io.NopCloser(os.Stdin), nil
			}
			return os.Open(name)
		},
	}
}

func (cli *commandLine) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Convoca administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(cli.out)
	root.AddCommand(cli.migrateCmd(), cli.templateCmd())
	return root
}

func (cli *commandLine) run(args []string) error {
	root := cli.rootCmd()
	root.SetArgs(args)
	return root.Execute()
}
