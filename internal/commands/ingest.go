package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/bus"
	"github.com/dotcommander/exceptd/internal/demo"
	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/store"
)

// NewIngestCmd publishes ingestion events through the bus and drains the
// pipeline. There is no direct-write alternative: this is the one door.
func NewIngestCmd() *cobra.Command {
	var (
		tenant    string
		rawType   string
		payload   string
		eventID   string
		demoCount int
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Publish ingestion events and run the intake pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if demoCount <= 0 && (tenant == "" || rawType == "") {
				return cmdErr(fmt.Errorf("--tenant and --type are required (or use --demo N)"))
			}
			if payload != "" && !json.Valid([]byte(payload)) {
				return cmdErr(fmt.Errorf("--payload must be valid JSON"))
			}

			return withDB(func(db *DB) error {
				var eventIDs []string
				err := runPipeline(db, func(ctx context.Context, b bus.Bus) error {
					if demoCount > 0 {
						gen := &demo.Generator{Bus: b}
						ids, genErr := gen.Publish(ctx, demoCount)
						eventIDs = ids
						return genErr
					}

					id := eventID
					if id == "" {
						id = uuid.NewString()
					}
					ev := models.IngestionEvent{
						EventID:    id,
						TenantID:   tenant,
						RawType:    rawType,
						Payload:    json.RawMessage(payload),
						OccurredAt: time.Now().UTC(),
					}
					eventIDs = []string{id}
					return b.Publish(ctx, ev)
				})
				if err != nil {
					return err
				}

				type resp struct {
					Published  int                 `json:"published"`
					EventIDs   []string            `json:"event_ids"`
					Exceptions []*models.Exception `json:"exceptions,omitempty"`
				}
				r := resp{Published: len(eventIDs), EventIDs: eventIDs}
				// Demo output stays compact; single-event ingest echoes the record.
				if demoCount <= 0 && len(eventIDs) == 1 {
					exc, getErr := store.GetExceptionByEventID(db, eventIDs[0])
					if getErr == nil {
						r.Exceptions = []*models.Exception{exc}
					}
				}
				return output.PrintSuccess(r)
			})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&rawType, "type", "", "Raw exception type token")
	cmd.Flags().StringVar(&payload, "payload", "", "Event payload (JSON)")
	cmd.Flags().StringVar(&eventID, "event-id", "", "Explicit event id / idempotency key (default: random)")
	cmd.Flags().IntVar(&demoCount, "demo", 0, "Publish N synthetic demo events instead")

	return cmd
}
