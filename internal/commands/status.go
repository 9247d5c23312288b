package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/app"
	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/store"
)

// NewStatusCmd summarizes the pipeline's persistent state.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pipeline status and record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *DB) error {
				exceptions, err := store.CountExceptions(db, "")
				if err != nil {
					return err
				}
				playbooks, err := store.CountPlaybooks(db)
				if err != nil {
					return err
				}
				deadLetters, err := store.CountDeadLetters(db)
				if err != nil {
					return err
				}
				current, latest, err := store.SchemaVersion(db)
				if err != nil {
					return err
				}
				dbPath, err := app.GetDBPath()
				if err != nil {
					return err
				}

				type resp struct {
					DBPath             string `json:"db_path"`
					SchemaVersion      int64  `json:"schema_version"`
					SchemaLatest       int64  `json:"schema_latest"`
					Exceptions         int64  `json:"exceptions"`
					Playbooks          int64  `json:"playbooks"`
					PendingDeadLetters int64  `json:"pending_dead_letters"`
				}
				return output.PrintSuccess(resp{
					DBPath:             dbPath,
					SchemaVersion:      current,
					SchemaLatest:       latest,
					Exceptions:         exceptions,
					Playbooks:          playbooks,
					PendingDeadLetters: deadLetters,
				})
			})
		},
	}
}
