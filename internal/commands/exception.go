package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/store"
)

// NewExceptionCmd is the read surface over persisted exceptions.
func NewExceptionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exception",
		Short: "Inspect persisted exceptions",
	}

	cmd.AddCommand(newExceptionShowCmd())
	cmd.AddCommand(newExceptionListCmd())
	return cmd
}

func newExceptionShowCmd() *cobra.Command {
	var id string
	var eventID string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show one exception by id or event id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" && eventID == "" {
				return cmdErr(fmt.Errorf("--id or --event-id is required"))
			}
			return withDB(func(db *DB) error {
				var exc *models.Exception
				var err error
				if id != "" {
					exc, err = store.GetException(db, id)
				} else {
					exc, err = store.GetExceptionByEventID(db, eventID)
				}
				if err != nil {
					return err
				}
				return output.PrintSuccess(exc)
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Exception id")
	cmd.Flags().StringVar(&eventID, "event-id", "", "Ingestion event id")
	return cmd
}

func newExceptionListCmd() *cobra.Command {
	var (
		tenant   string
		typeCode string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List exceptions (filterable)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *DB) error {
				excs, err := store.ListExceptions(db, store.ListExceptionsParams{
					TenantID: tenant,
					TypeCode: typeCode,
					Limit:    limit,
				})
				if err != nil {
					return err
				}

				type resp struct {
					Tenant     string              `json:"tenant,omitempty"`
					TypeCode   string              `json:"type_code,omitempty"`
					Count      int                 `json:"count"`
					Exceptions []*models.Exception `json:"exceptions"`
				}
				return output.PrintSuccess(resp{
					Tenant:     tenant,
					TypeCode:   typeCode,
					Count:      len(excs),
					Exceptions: excs,
				})
			})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Filter by tenant id")
	cmd.Flags().StringVar(&typeCode, "type", "", "Filter by canonical type code")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max exceptions (<= 1000)")
	return cmd
}
