package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dotcommander/exceptd/internal/models"
)

// IntakeSource is the idempotency source used by the intake consumer. The
// event bus is the only write path into this table; there is deliberately
// no synchronous create API for producers.
const IntakeSource = "intake"

// CreateExceptionIdempotent creates the exception for an ingestion event
// exactly once, keyed by the event's own identity. Redelivery of the same
// event returns the originally created record with replayed=true.
//
// The idempotency table is the primary guard; UNIQUE(event_id) on the row
// itself backstops it at the schema level.
func CreateExceptionIdempotent(db *sql.DB, ev models.IngestionEvent, typeCode string, severity models.Severity) (*models.Exception, bool, error) {
	if ev.EventID == "" {
		return nil, false, errors.New("event id is required")
	}
	if ev.TenantID == "" {
		return nil, false, errors.New("tenant id is required")
	}
	if typeCode == "" {
		return nil, false, errors.New("type code is required")
	}
	if !severity.Valid() {
		return nil, false, fmt.Errorf("invalid severity %q", severity)
	}

	type idemResult struct {
		ExceptionID string `json:"exception_id"`
	}

	r, replayed, err := RunIdempotentWithRetry(db, IntakeSource, ev.EventID, "exception.create", 3, isRetryableError, func(tx *sql.Tx) (idemResult, error) {
		id := GenerateExceptionID()

		var occurredAt any
		if !ev.OccurredAt.IsZero() {
			occurredAt = ev.OccurredAt.UTC()
		}
		var payload any
		if len(ev.Payload) > 0 {
			payload = string(ev.Payload)
		}

		_, txErr := tx.ExecContext(context.Background(), `
			INSERT INTO exceptions (id, event_id, tenant_id, type_code, raw_type, severity, severity_source, status, payload, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, ev.EventID, ev.TenantID, typeCode, ev.RawType, string(severity), string(models.SeveritySourceCatalogDefault), string(models.ExceptionStatusOpen), payload, occurredAt)
		if txErr != nil {
			return idemResult{}, fmt.Errorf("failed to insert exception: %w", txErr)
		}

		if _, txErr := InsertAuditTx(tx, models.AuditKindExceptionCreated, ev.TenantID, id,
			fmt.Sprintf("exception created for event %s (type %s)", ev.EventID, typeCode), ""); txErr != nil {
			return idemResult{}, txErr
		}
		return idemResult{ExceptionID: id}, nil
	})
	if err != nil {
		return nil, false, err
	}

	exc, err := GetException(db, r.ExceptionID)
	if err != nil {
		return nil, false, err
	}
	return exc, replayed, nil
}

const exceptionColumns = `
	id, event_id, tenant_id, type_code, raw_type, severity, severity_source,
	status, payload, playbook_id, occurred_at, created_at, updated_at
`

func scanException(row interface{ Scan(dest ...any) error }) (*models.Exception, error) {
	var e models.Exception
	var payload, playbookID sql.NullString
	var occurredAt sql.NullTime
	if err := row.Scan(
		&e.ID, &e.EventID, &e.TenantID, &e.TypeCode, &e.RawType,
		&e.Severity, &e.SeveritySource, &e.Status, &payload, &playbookID,
		&occurredAt, &e.CreatedAt, &e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	e.Payload = scanNullJSON(payload)
	e.PlaybookID = scanNullString(playbookID)
	if t := scanNullTime(occurredAt); t != nil {
		e.OccurredAt = *t
	}
	return &e, nil
}

// GetException loads one exception by id.
func GetException(db *sql.DB, id string) (*models.Exception, error) {
	var exc *models.Exception
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+exceptionColumns+`
			FROM exceptions WHERE id = ?
		`, id)
		e, scanErr := scanException(row)
		if scanErr != nil {
			return scanErr
		}
		exc = e
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrExceptionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get exception: %w", err)
	}
	return exc, nil
}

// GetExceptionByEventID loads the exception created for an ingestion event.
func GetExceptionByEventID(db *sql.DB, eventID string) (*models.Exception, error) {
	var exc *models.Exception
	err := RetryWithBackoff(func() error {
		row := db.QueryRowContext(context.Background(), `
			SELECT `+exceptionColumns+`
			FROM exceptions WHERE event_id = ?
		`, eventID)
		e, scanErr := scanException(row)
		if scanErr != nil {
			return scanErr
		}
		exc = e
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: event %s", ErrExceptionNotFound, eventID)
	}
	if err != nil {
		return nil, fmt.Errorf("get exception by event id: %w", err)
	}
	return exc, nil
}

// ListExceptionsParams filters ListExceptions.
type ListExceptionsParams struct {
	TenantID string
	TypeCode string
	Limit    int
}

// ListExceptions returns exceptions, newest first.
func ListExceptions(db *sql.DB, p ListExceptionsParams) ([]*models.Exception, error) {
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 50
	}

	query := `SELECT ` + exceptionColumns + ` FROM exceptions WHERE 1=1`
	args := []any{}
	if p.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, p.TenantID)
	}
	if p.TypeCode != "" {
		query += " AND type_code = ?"
		args = append(args, p.TypeCode)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, p.Limit)

	var out []*models.Exception
	err := RetryWithBackoff(func() error {
		out = out[:0]
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			e, scanErr := scanException(rows)
			if scanErr != nil {
				return scanErr
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	return out, nil
}

// ApplySeverityOverride records a policy-pack severity override on an
// exception. Only the pipeline run that created the exception calls this.
func ApplySeverityOverride(db *sql.DB, exceptionID string, severity models.Severity, packVersion int) error {
	if !severity.Valid() {
		return fmt.Errorf("invalid severity %q", severity)
	}
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			UPDATE exceptions
			SET severity = ?, severity_source = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, string(severity), string(models.SeveritySourcePolicyOverride), exceptionID)
		if err != nil {
			return fmt.Errorf("failed to apply severity override: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ra != 1 {
			return fmt.Errorf("%w: %s", ErrExceptionNotFound, exceptionID)
		}

		var tenantID string
		if err := tx.QueryRowContext(context.Background(), `SELECT tenant_id FROM exceptions WHERE id = ?`, exceptionID).Scan(&tenantID); err != nil {
			return err
		}
		_, err = InsertAuditTx(tx, models.AuditKindSeverityOverridden, tenantID, exceptionID,
			fmt.Sprintf("severity overridden to %s by policy pack v%d", severity, packVersion), "")
		return err
	})
}

// AssignPlaybook records the matched playbook on an exception. At most one
// playbook is assigned per pipeline run; re-assignment overwrites.
func AssignPlaybook(db *sql.DB, exceptionID, playbookID string) error {
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			UPDATE exceptions
			SET playbook_id = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, playbookID, exceptionID)
		if err != nil {
			return fmt.Errorf("failed to assign playbook: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ra != 1 {
			return fmt.Errorf("%w: %s", ErrExceptionNotFound, exceptionID)
		}

		var tenantID string
		if err := tx.QueryRowContext(context.Background(), `SELECT tenant_id FROM exceptions WHERE id = ?`, exceptionID).Scan(&tenantID); err != nil {
			return err
		}
		_, err = InsertAuditTx(tx, models.AuditKindPlaybookAssigned, tenantID, exceptionID,
			fmt.Sprintf("playbook %s assigned", playbookID), "")
		return err
	})
}

// CountExceptions returns the number of exception rows, optionally scoped
// to a tenant.
func CountExceptions(db *sql.DB, tenantID string) (int64, error) {
	var count int64
	err := RetryWithBackoff(func() error {
		query := `SELECT COUNT(*) FROM exceptions`
		args := []any{}
		if tenantID != "" {
			query += ` WHERE tenant_id = ?`
			args = append(args, tenantID)
		}
		return db.QueryRowContext(context.Background(), query, args...).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count exceptions: %w", err)
	}
	return count, nil
}
