package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dotcommander/exceptd/internal/app"
	"github.com/dotcommander/exceptd/internal/catalog"
	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/output"
	"github.com/dotcommander/exceptd/internal/policy"
	"github.com/dotcommander/exceptd/internal/store"
)

// NewPolicyCmd administers tenant policy packs.
func NewPolicyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage tenant policy packs",
	}

	cmd.AddCommand(newPolicyCreateCmd())
	cmd.AddCommand(newPolicyAddRuleCmd())
	cmd.AddCommand(newPolicyActivateCmd())
	cmd.AddCommand(newPolicyDeactivateCmd())
	cmd.AddCommand(newPolicyShowCmd())
	return cmd
}

// newResolver builds a resolver for pack lifecycle commands so activation
// and deactivation always fire cache invalidation, same as in a long-lived
// consumer process.
func newResolver(db *DB) *policy.Resolver {
	cfg := app.EffectivePipelineSettings()
	return policy.NewResolver(db, cfg.PolicyCacheTTL, cfg.PolicyMissTTL)
}

func newPolicyCreateCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new DRAFT policy pack for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return cmdErr(fmt.Errorf("--tenant is required"))
			}
			return withDB(func(db *DB) error {
				pack, err := store.CreatePolicyPack(db, tenant)
				if err != nil {
					return err
				}
				return output.PrintSuccess(pack)
			})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	return cmd
}

func newPolicyAddRuleCmd() *cobra.Command {
	var (
		packID   string
		typeCode string
		field    string
		value    string
	)

	cmd := &cobra.Command{
		Use:   "add-rule",
		Short: "Add an override rule to a DRAFT pack",
		RunE: func(cmd *cobra.Command, args []string) error {
			if packID == "" || typeCode == "" || value == "" {
				return cmdErr(fmt.Errorf("--pack, --type, and --value are required"))
			}
			if typeCode != catalog.Normalize(typeCode) {
				return cmdErr(fmt.Errorf("type code %q is not canonical", typeCode))
			}
			return withDB(func(db *DB) error {
				rule := models.PolicyOverrideRule{TypeCode: typeCode, Field: field, Value: value}
				if err := store.AddPolicyRule(db, packID, rule); err != nil {
					return err
				}
				pack, err := store.GetPack(db, packID)
				if err != nil {
					return err
				}
				return output.PrintSuccess(pack)
			})
		},
	}

	cmd.Flags().StringVar(&packID, "pack", "", "Policy pack id")
	cmd.Flags().StringVar(&typeCode, "type", "", "Canonical exception type code")
	cmd.Flags().StringVar(&field, "field", models.OverrideFieldSeverity, "Field to override")
	cmd.Flags().StringVar(&value, "value", "", "Override value (e.g. LOW)")
	return cmd
}

func newPolicyActivateCmd() *cobra.Command {
	var packID string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Activate a pack (demotes the tenant's current ACTIVE pack)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if packID == "" {
				return cmdErr(fmt.Errorf("--pack is required"))
			}
			return withDB(func(db *DB) error {
				tenant, err := newResolver(db).Activate(packID)
				if err != nil {
					return err
				}
				pack, err := store.GetPack(db, packID)
				if err != nil {
					return err
				}
				type resp struct {
					Tenant string                   `json:"tenant"`
					Pack   *models.TenantPolicyPack `json:"pack"`
				}
				return output.PrintSuccess(resp{Tenant: tenant, Pack: pack})
			})
		},
	}

	cmd.Flags().StringVar(&packID, "pack", "", "Policy pack id")
	return cmd
}

func newPolicyDeactivateCmd() *cobra.Command {
	var packID string

	cmd := &cobra.Command{
		Use:   "deactivate",
		Short: "Deactivate an ACTIVE pack, leaving the tenant unoverridden",
		RunE: func(cmd *cobra.Command, args []string) error {
			if packID == "" {
				return cmdErr(fmt.Errorf("--pack is required"))
			}
			return withDB(func(db *DB) error {
				tenant, err := newResolver(db).Deactivate(packID)
				if err != nil {
					return err
				}
				pack, err := store.GetPack(db, packID)
				if err != nil {
					return err
				}
				type resp struct {
					Tenant string                   `json:"tenant"`
					Pack   *models.TenantPolicyPack `json:"pack"`
				}
				return output.PrintSuccess(resp{Tenant: tenant, Pack: pack})
			})
		},
	}

	cmd.Flags().StringVar(&packID, "pack", "", "Policy pack id")
	return cmd
}

func newPolicyShowCmd() *cobra.Command {
	var tenant string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show all policy packs for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tenant == "" {
				return cmdErr(fmt.Errorf("--tenant is required"))
			}
			return withDB(func(db *DB) error {
				packs, err := store.ListPacks(db, tenant)
				if err != nil {
					return err
				}
				for _, p := range packs {
					full, loadErr := store.GetPack(db, p.ID)
					if loadErr != nil {
						return loadErr
					}
					p.Rules = full.Rules
				}

				type resp struct {
					Tenant string                     `json:"tenant"`
					Count  int                        `json:"count"`
					Packs  []*models.TenantPolicyPack `json:"packs"`
				}
				return output.PrintSuccess(resp{Tenant: tenant, Count: len(packs), Packs: packs})
			})
		},
	}

	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	return cmd
}
