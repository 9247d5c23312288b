package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/exceptd/internal/models"
)

// CreatePolicyPack creates a new DRAFT pack for a tenant with the next
// version number. Rules are added while the pack is in DRAFT; activation
// freezes it.
func CreatePolicyPack(db *sql.DB, tenantID string) (*models.TenantPolicyPack, error) {
	if tenantID == "" {
		return nil, errors.New("tenant id is required")
	}

	var pack *models.TenantPolicyPack
	err := Transact(db, func(tx *sql.Tx) error {
		var version int
		if err := tx.QueryRowContext(context.Background(), `
			SELECT COALESCE(MAX(version), 0) + 1 FROM policy_packs WHERE tenant_id = ?
		`, tenantID).Scan(&version); err != nil {
			return fmt.Errorf("failed to compute next pack version: %w", err)
		}

		id := GeneratePackID()
		if _, err := tx.ExecContext(context.Background(), `
			INSERT INTO policy_packs (id, tenant_id, version, status)
			VALUES (?, ?, ?, ?)
		`, id, tenantID, version, string(models.PackStatusDraft)); err != nil {
			return fmt.Errorf("failed to insert policy pack: %w", err)
		}

		if _, err := InsertAuditTx(tx, models.AuditKindPackCreated, tenantID, "",
			fmt.Sprintf("policy pack %s v%d created", id, version), ""); err != nil {
			return err
		}

		pack = &models.TenantPolicyPack{
			ID:       id,
			TenantID: tenantID,
			Version:  version,
			Status:   models.PackStatusDraft,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GetPack(db, pack.ID)
}

// AddPolicyRule adds an override rule to a DRAFT pack. Re-adding a rule for
// the same (type_code, field) replaces the value.
func AddPolicyRule(db *sql.DB, packID string, rule models.PolicyOverrideRule) error {
	if rule.TypeCode == "" || rule.Field == "" || rule.Value == "" {
		return errors.New("rule type_code, field, and value are required")
	}
	if rule.Field == models.OverrideFieldSeverity && !models.Severity(rule.Value).Valid() {
		return fmt.Errorf("invalid severity value %q", rule.Value)
	}

	return Transact(db, func(tx *sql.Tx) error {
		status, _, _, err := packStatusTx(tx, packID)
		if err != nil {
			return err
		}
		if status != models.PackStatusDraft {
			return &PackStateError{PackID: packID, Status: status, Want: models.PackStatusDraft}
		}

		_, err = tx.ExecContext(context.Background(), `
			INSERT INTO policy_rules (pack_id, type_code, field, value)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (pack_id, type_code, field) DO UPDATE SET value = excluded.value
		`, packID, rule.TypeCode, rule.Field, rule.Value)
		if err != nil {
			return fmt.Errorf("failed to insert policy rule: %w", err)
		}
		return nil
	})
}

func packStatusTx(tx *sql.Tx, packID string) (models.PackStatus, string, int, error) {
	var status, tenantID string
	var version int
	err := tx.QueryRowContext(context.Background(), `
		SELECT status, tenant_id, version FROM policy_packs WHERE id = ?
	`, packID).Scan(&status, &tenantID, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", 0, fmt.Errorf("%w: %s", ErrPackNotFound, packID)
	}
	if err != nil {
		return "", "", 0, fmt.Errorf("failed to load policy pack: %w", err)
	}
	return models.PackStatus(status), tenantID, version, nil
}

// ActivatePolicyPack transitions a pack to ACTIVE, demoting the tenant's
// current ACTIVE pack (if any) to DEPRECATED in the same transaction, so the
// one-active-pack invariant holds at every commit point. Activating an
// already ACTIVE pack is a no-op.
//
// Callers that cache resolutions must invalidate the tenant's entry after
// this returns; the policy resolver wraps this for exactly that reason.
func ActivatePolicyPack(db *sql.DB, packID string) (tenantID string, err error) {
	err = Transact(db, func(tx *sql.Tx) error {
		status, tenant, version, txErr := packStatusTx(tx, packID)
		if txErr != nil {
			return txErr
		}
		tenantID = tenant
		if status == models.PackStatusActive {
			return nil
		}

		// Demote the incumbent first; the partial unique index would reject
		// two ACTIVE rows for one tenant.
		if _, txErr := tx.ExecContext(context.Background(), `
			UPDATE policy_packs SET status = ? WHERE tenant_id = ? AND status = ?
		`, string(models.PackStatusDeprecated), tenant, string(models.PackStatusActive)); txErr != nil {
			return fmt.Errorf("failed to demote active pack: %w", txErr)
		}

		if _, txErr := tx.ExecContext(context.Background(), `
			UPDATE policy_packs
			SET status = ?, activated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, string(models.PackStatusActive), packID); txErr != nil {
			return fmt.Errorf("failed to activate pack: %w", txErr)
		}

		_, txErr = InsertAuditTx(tx, models.AuditKindPackActivated, tenant, "",
			fmt.Sprintf("policy pack %s v%d activated", packID, version), "")
		return txErr
	})
	return tenantID, err
}

// DeactivatePolicyPack transitions an ACTIVE pack to DEPRECATED, leaving
// the tenant with no active policy. As with activation, cached resolutions
// must be invalidated by the caller.
func DeactivatePolicyPack(db *sql.DB, packID string) (tenantID string, err error) {
	err = Transact(db, func(tx *sql.Tx) error {
		status, tenant, version, txErr := packStatusTx(tx, packID)
		if txErr != nil {
			return txErr
		}
		tenantID = tenant
		if status != models.PackStatusActive {
			return &PackStateError{PackID: packID, Status: status, Want: models.PackStatusDeprecated}
		}

		if _, txErr := tx.ExecContext(context.Background(), `
			UPDATE policy_packs SET status = ? WHERE id = ?
		`, string(models.PackStatusDeprecated), packID); txErr != nil {
			return fmt.Errorf("failed to deactivate pack: %w", txErr)
		}

		_, txErr = InsertAuditTx(tx, models.AuditKindPackDeactivated, tenant, "",
			fmt.Sprintf("policy pack %s v%d deactivated", packID, version), "")
		return txErr
	})
	return tenantID, err
}

const packColumns = `id, tenant_id, version, status, created_at, activated_at`

func scanPack(row interface{ Scan(dest ...any) error }) (*models.TenantPolicyPack, error) {
	var p models.TenantPolicyPack
	var activatedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.TenantID, &p.Version, &p.Status, &p.CreatedAt, &activatedAt); err != nil {
		return nil, err
	}
	p.ActivatedAt = scanNullTime(activatedAt)
	return &p, nil
}

func loadPackRules(db *sql.DB, pack *models.TenantPolicyPack) error {
	return RetryWithBackoff(func() error {
		pack.Rules = pack.Rules[:0]
		rows, err := db.QueryContext(context.Background(), `
			SELECT type_code, field, value FROM policy_rules WHERE pack_id = ? ORDER BY id
		`, pack.ID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var r models.PolicyOverrideRule
			if err := rows.Scan(&r.TypeCode, &r.Field, &r.Value); err != nil {
				return err
			}
			pack.Rules = append(pack.Rules, r)
		}
		return rows.Err()
	})
}

// GetPack loads a pack and its rules by id.
func GetPack(db *sql.DB, packID string) (*models.TenantPolicyPack, error) {
	var pack *models.TenantPolicyPack
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+packColumns+` FROM policy_packs WHERE id = ?
		`, packID)
		p, scanErr := scanPack(row)
		if scanErr != nil {
			return scanErr
		}
		pack = p
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPackNotFound, packID)
	}
	if err != nil {
		return nil, fmt.Errorf("get policy pack: %w", err)
	}
	if err := loadPackRules(db, pack); err != nil {
		return nil, fmt.Errorf("load pack rules: %w", err)
	}
	return pack, nil
}

// GetActivePack loads the tenant's ACTIVE pack and its rules.
// Returns ErrNoActivePack when the tenant has none.
func GetActivePack(db *sql.DB, tenantID string) (*models.TenantPolicyPack, error) {
	var pack *models.TenantPolicyPack
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+packColumns+` FROM policy_packs WHERE tenant_id = ? AND status = ?
		`, tenantID, string(models.PackStatusActive))
		p, scanErr := scanPack(row)
		if scanErr != nil {
			return scanErr
		}
		pack = p
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoActivePack, tenantID)
	}
	if err != nil {
		return nil, fmt.Errorf("get active pack: %w", err)
	}
	if err := loadPackRules(db, pack); err != nil {
		return nil, fmt.Errorf("load pack rules: %w", err)
	}
	return pack, nil
}

// ListPacks returns all packs for a tenant, newest version first.
func ListPacks(db *sql.DB, tenantID string) ([]*models.TenantPolicyPack, error) {
	var packs []*models.TenantPolicyPack
	err := RetryWithBackoff(func() error {
		packs = packs[:0]
		rows, err := db.QueryContext(context.Background(), `
			SELECT `+packColumns+` FROM policy_packs WHERE tenant_id = ? ORDER BY version DESC
		`, tenantID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			p, scanErr := scanPack(rows)
			if scanErr != nil {
				return scanErr
			}
			packs = append(packs, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list policy packs: %w", err)
	}
	return packs, nil
}
