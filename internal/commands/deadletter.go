package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/bus"
	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/store"
)

// NewDeadLetterCmd inspects and replays dead-lettered ingestion events.
func NewDeadLetterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deadletter",
		Short: "Inspect and replay dead-lettered events",
	}

	cmd.AddCommand(newDeadLetterListCmd())
	cmd.AddCommand(newDeadLetterReplayCmd())
	return cmd
}

func newDeadLetterListCmd() *cobra.Command {
	var (
		all   bool
		limit int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters (pending only by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *DB) error {
				letters, err := store.ListDeadLetters(db, !all, limit)
				if err != nil {
					return err
				}

				type resp struct {
					Count   int                  `json:"count"`
					Pending bool                 `json:"pending_only"`
					Letters []*models.DeadLetter `json:"dead_letters"`
				}
				return output.PrintSuccess(resp{Count: len(letters), Pending: !all, Letters: letters})
			})
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Include already-replayed letters")
	cmd.Flags().IntVar(&limit, "limit", 50, "Max letters (<= 1000)")
	return cmd
}

func newDeadLetterReplayCmd() *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a pending dead letter through the intake pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return cmdErr(fmt.Errorf("--id is required"))
			}
			return withDB(func(db *DB) error {
				letter, err := store.GetDeadLetter(db, id)
				if err != nil {
					return err
				}
				if letter.ReplayedAt != nil {
					return fmt.Errorf("%w: %d already replayed", store.ErrDeadLetterGone, id)
				}

				var ev models.IngestionEvent
				if err := json.Unmarshal(letter.Payload, &ev); err != nil {
					return fmt.Errorf("dead letter %d payload is not a valid event: %w", id, err)
				}

				// Exactly-once intake makes replays safe: if the original
				// event already produced an exception, the pipeline replays
				// the stored result instead of creating a second row.
				if err := runPipeline(db, func(ctx context.Context, b bus.Bus) error {
					return b.Publish(ctx, ev)
				}); err != nil {
					return err
				}

				if err := store.MarkDeadLetterReplayed(db, id); err != nil {
					return err
				}

				type resp struct {
					ID      int64             `json:"id"`
					EventID string            `json:"event_id"`
					Outcome string            `json:"outcome"`
					Result  *models.Exception `json:"exception,omitempty"`
				}
				r := resp{ID: id, EventID: ev.EventID, Outcome: "replayed"}
				if exc, getErr := store.GetExceptionByEventID(db, ev.EventID); getErr == nil {
					r.Result = exc
				} else {
					r.Outcome = "replayed_no_exception"
				}
				return output.PrintSuccess(r)
			})
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "Dead letter id")
	return cmd
}
