package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/catalog"
	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/playbook"
	"github.com/dotcommander/exceptd/internal/store"
)

// NewPlaybookCmd inspects remediation playbooks.
func NewPlaybookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Inspect remediation playbooks",
	}

	cmd.AddCommand(newPlaybookShowCmd())
	return cmd
}

// newPlaybookShowCmd shows a playbook either directly by id, or by running
// the same matcher the intake pipeline uses for (tenant, type).
func newPlaybookShowCmd() *cobra.Command {
	var (
		id       string
		tenant   string
		typeCode string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a playbook by id, or the one matched for --tenant/--type",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" && typeCode == "" {
				return cmdErr(fmt.Errorf("--id or --type is required"))
			}
			if typeCode != "" && typeCode != catalog.Normalize(typeCode) {
				return cmdErr(fmt.Errorf("type code %q is not canonical", typeCode))
			}
			return withDB(func(db *DB) error {
				if id != "" {
					pb, err := store.GetPlaybook(db, id)
					if err != nil {
						return err
					}
					return output.PrintSuccess(playbookView(pb))
				}

				pb, err := playbook.Match(db, tenant, typeCode)
				if err != nil {
					return err
				}

				type resp struct {
					Tenant   string `json:"tenant,omitempty"`
					TypeCode string `json:"type_code"`
					Matched  bool   `json:"matched"`
					Playbook any    `json:"playbook,omitempty"`
				}
				r := resp{Tenant: tenant, TypeCode: typeCode}
				if pb != nil {
					full, loadErr := store.GetPlaybook(db, pb.ID)
					if loadErr != nil {
						return loadErr
					}
					r.Matched = true
					r.Playbook = playbookView(full)
				}
				return output.PrintSuccess(r)
			})
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Playbook id")
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id (omit for the tenant-agnostic default)")
	cmd.Flags().StringVar(&typeCode, "type", "", "Canonical exception type code")
	return cmd
}

type playbookResp struct {
	Playbook *models.Playbook `json:"playbook"`
	Steps    string           `json:"steps_note,omitempty"`
}

// playbookView wraps a playbook so an empty step list reads as the normal
// operator-facing state rather than a blank field.
func playbookView(pb *models.Playbook) playbookResp {
	r := playbookResp{Playbook: pb}
	if len(pb.Steps) == 0 {
		r.Steps = "No steps available"
	}
	return r
}
