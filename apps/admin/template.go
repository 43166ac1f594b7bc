package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/trezcool/convoca/core/rubric"
)

const adminActor = "system:admin"

func (cli *commandLine) templateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage evaluation templates",
	}
	cmd.AddCommand(cli.templateImportCmd(), cli.templateExportCmd(), cli.templateRecalcCmd())
	return cmd
}

func (cli *commandLine) templateImportCmd() *cobra.Command {
	var file, createdBy string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create a template from a YAML blueprint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := cli.open(file)
			if err != nil {
				return errors.Wrap(err, "opening blueprint")
			}
			defer r.Close()

			bp, err := rubric.DecodeBlueprint(r)
			if err != nil {
				return err
			}
			tree, err := cli.rubrics.ImportBlueprint(cmd.Context(), bp, createdBy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "template %s created (%d items, max possible score %s)\n",
				tree.Template.ID, len(tree.Items()), tree.MaxPossibleScore())
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "blueprint file (- for stdin)")
	cmd.Flags().StringVar(&createdBy, "created-by", adminActor, "recorded creator of the template")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func (cli *commandLine) templateExportCmd() *cobra.Command {
	var id, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the YAML blueprint of a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			bp, err := cli.rubrics.ExportBlueprint(cmd.Context(), id)
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return errors.Wrap(err, "creating output file")
				}
				defer f.Close()
				w = f
			}
			return bp.Encode(w)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "template id")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (cli *commandLine) templateRecalcCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "recalc",
		Short: "Recalculate the cached scores of every evaluation of a template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cli.rubrics.Recalculate(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "template %s recalculated\n", id)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "template id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
