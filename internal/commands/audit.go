package commands

import (
	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/store"
)

// NewAuditCmd lists the append-only audit trail.
func NewAuditCmd() *cobra.Command {
	var (
		kind    string
		tenant  string
		sinceID int64
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *DB) error {
				events, err := store.ListAudit(db, store.ListAuditParams{
					Kind:     kind,
					TenantID: tenant,
					SinceID:  sinceID,
					Limit:    limit,
				})
				if err != nil {
					return err
				}

				type resp struct {
					Count  int                  `json:"count"`
					Events []*models.AuditEvent `json:"events"`
				}
				return output.PrintSuccess(resp{Count: len(events), Events: events})
			})
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Filter by event kind")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Filter by tenant id")
	cmd.Flags().Int64Var(&sinceID, "since-id", 0, "Only events with id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max events (<= 1000)")
	return cmd
}
