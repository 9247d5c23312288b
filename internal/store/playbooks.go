package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dotcommander/exceptd/internal/models"
)

// stepOrderMaxAttempts bounds the insert-retry loop for assigning the next
// step_order when two importers race on the same playbook.
const stepOrderMaxAttempts = 5

// CreatePlaybook persists a playbook definition. Steps are added
// individually via AddStep; the playbook record always exists first.
func CreatePlaybook(db *sql.DB, packName, tenantID, typeCode, name string) (*models.Playbook, error) {
	if typeCode == "" {
		return nil, errors.New("type code is required")
	}
	if name == "" {
		return nil, errors.New("playbook name is required")
	}

	id := GeneratePlaybookID()
	err := Transact(db, func(tx *sql.Tx) error {
		_, txErr := tx.ExecContext(context.Background(), `
			INSERT INTO playbooks (id, pack_name, tenant_id, type_code, name)
			VALUES (?, ?, ?, ?, ?)
		`, id, packName, tenantID, typeCode, name)
		if txErr != nil {
			return fmt.Errorf("failed to insert playbook: %w", txErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return GetPlaybook(db, id)
}

// StepDefinition is the caller-supplied part of a playbook step. Order is
// never part of it: step_order is assigned by AddStep.
type StepDefinition struct {
	Name       string          `json:"name" yaml:"name"`
	Action     string          `json:"action" yaml:"action"`
	ActionType string          `json:"action_type" yaml:"action_type"`
	Parameters json.RawMessage `json:"parameters,omitempty" yaml:"-"`
}

// AddStep persists one step, atomically assigning the next step_order as
// max(existing)+1 within a transaction. The UNIQUE(playbook_id, step_order)
// index turns a concurrent-importer race into a conflict, which is retried
// with a fresh counter read up to stepOrderMaxAttempts times. Orders are
// therefore gap-free regardless of how many sibling steps fail to persist.
func AddStep(db *sql.DB, playbookID string, def StepDefinition) (int, error) {
	if def.Name == "" {
		return 0, errors.New("step name is required")
	}
	if def.Action == "" {
		return 0, errors.New("step action is required")
	}

	var order int
	for attempt := 0; attempt < stepOrderMaxAttempts; attempt++ {
		err := Transact(db, func(tx *sql.Tx) error {
			var exists bool
			if txErr := tx.QueryRowContext(context.Background(),
				`SELECT EXISTS(SELECT 1 FROM playbooks WHERE id = ?)`, playbookID).Scan(&exists); txErr != nil {
				return txErr
			}
			if !exists {
				return fmt.Errorf("%w: %s", ErrPlaybookNotFound, playbookID)
			}

			if txErr := tx.QueryRowContext(context.Background(), `
				SELECT COALESCE(MAX(step_order), 0) + 1 FROM playbook_steps WHERE playbook_id = ?
			`, playbookID).Scan(&order); txErr != nil {
				return fmt.Errorf("failed to compute next step order: %w", txErr)
			}

			var params any
			if len(def.Parameters) > 0 {
				params = string(def.Parameters)
			}
			if _, txErr := tx.ExecContext(context.Background(), `
				INSERT INTO playbook_steps (playbook_id, step_order, name, action, action_type, parameters)
				VALUES (?, ?, ?, ?, ?, ?)
			`, playbookID, order, def.Name, def.Action, def.ActionType, params); txErr != nil {
				return fmt.Errorf("failed to insert playbook step: %w", txErr)
			}
			return nil
		})
		if err == nil {
			return order, nil
		}
		if !IsUniqueConstraintErr(err) {
			return 0, err
		}
		// Lost the order race; re-read the counter and try again.
	}
	return 0, &StepOrderConflictError{PlaybookID: playbookID, Attempts: stepOrderMaxAttempts}
}

// ListSteps returns the playbook's steps in presentation order.
func ListSteps(db *sql.DB, playbookID string) ([]models.PlaybookStep, error) {
	var steps []models.PlaybookStep
	err := RetryWithBackoff(func() error {
		steps = steps[:0]
		rows, err := db.QueryContext(context.Background(), `
			SELECT id, playbook_id, step_order, name, action, action_type, parameters, created_at
			FROM playbook_steps
			WHERE playbook_id = ?
			ORDER BY step_order ASC
		`, playbookID)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var s models.PlaybookStep
			var params sql.NullString
			if err := rows.Scan(&s.ID, &s.PlaybookID, &s.StepOrder, &s.Name, &s.Action, &s.ActionType, &params, &s.CreatedAt); err != nil {
				return err
			}
			s.Parameters = scanNullJSON(params)
			steps = append(steps, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list playbook steps: %w", err)
	}
	return steps, nil
}

const playbookColumns = `id, pack_name, tenant_id, type_code, name, imported_at`

func scanPlaybook(row interface{ Scan(dest ...any) error }) (*models.Playbook, error) {
	var p models.Playbook
	if err := row.Scan(&p.ID, &p.PackName, &p.TenantID, &p.TypeCode, &p.Name, &p.ImportedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPlaybook loads a playbook and its ordered steps.
func GetPlaybook(db *sql.DB, id string) (*models.Playbook, error) {
	var pb *models.Playbook
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+playbookColumns+` FROM playbooks WHERE id = ?
		`, id)
		p, scanErr := scanPlaybook(row)
		if scanErr != nil {
			return scanErr
		}
		pb = p
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlaybookNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get playbook: %w", err)
	}

	steps, err := ListSteps(db, pb.ID)
	if err != nil {
		return nil, err
	}
	pb.Steps = steps
	return pb, nil
}

// FindLatestPlaybook returns the most recently imported playbook for an
// exact (tenant, type_code) pair, or nil when none exists. Same-timestamp
// imports are broken by id so the result is deterministic.
func FindLatestPlaybook(db *sql.DB, tenantID, typeCode string) (*models.Playbook, error) {
	var pb *models.Playbook
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+playbookColumns+`
			FROM playbooks
			WHERE tenant_id = ? AND type_code = ?
			ORDER BY imported_at DESC, id DESC
			LIMIT 1
		`, tenantID, typeCode)
		p, scanErr := scanPlaybook(row)
		if scanErr != nil {
			return scanErr
		}
		pb = p
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find playbook: %w", err)
	}
	return pb, nil
}

// CountPlaybooks returns the number of playbook rows.
func CountPlaybooks(db *sql.DB) (int64, error) {
	var count int64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM playbooks`).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count playbooks: %w", err)
	}
	return count, nil
}
