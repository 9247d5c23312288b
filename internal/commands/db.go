package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/app"
	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/store"
)

// NewDBCmd holds database maintenance subcommands.
func NewDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *DB) error {
				current, latest, err := store.SchemaVersion(db)
				if err != nil {
					return err
				}
				type resp struct {
					SchemaVersion int64 `json:"schema_version"`
					SchemaLatest  int64 `json:"schema_latest"`
				}
				return output.PrintSuccess(resp{SchemaVersion: current, SchemaLatest: latest})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the resolved database path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := app.GetDBPath()
			if err != nil {
				return err
			}
			type resp struct {
				DBPath string `json:"db_path"`
			}
			return output.PrintSuccess(resp{DBPath: dbPath})
		},
	})

	return cmd
}
