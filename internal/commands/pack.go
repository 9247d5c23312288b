package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/playbook"
)

// NewPackCmd imports domain packs (YAML bundles of playbooks).
func NewPackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pack",
		Short: "Import domain packs of playbooks",
	}

	cmd.AddCommand(newPackImportCmd())
	return cmd
}

func newPackImportCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import playbooks from a domain pack file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return cmdErr(fmt.Errorf("--file is required"))
			}
			return withDB(func(db *DB) error {
				result, err := playbook.ImportFile(db, file)
				if err != nil {
					return err
				}
				return output.PrintSuccess(result)
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Path to domain pack YAML")
	return cmd
}
