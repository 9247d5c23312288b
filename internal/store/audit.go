package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dotcommander/exceptd/internal/models"
)

// Audit payload size constraints enforced by validateAuditPayload.
const (
	MaxAuditKindLength     = 128
	MaxAuditMessageLength  = 4096
	MaxAuditMetadataLength = 16384
)

func validateAuditPayload(kind, message, metadata string) error {
	if kind == "" {
		return errors.New("audit kind is required")
	}
	if len(kind) > MaxAuditKindLength {
		return fmt.Errorf("audit kind exceeds max length (%d)", MaxAuditKindLength)
	}
	if message == "" {
		return errors.New("audit message is required")
	}
	if len(message) > MaxAuditMessageLength {
		return fmt.Errorf("audit message exceeds max length (%d)", MaxAuditMessageLength)
	}
	if metadata != "" {
		if len(metadata) > MaxAuditMetadataLength {
			return fmt.Errorf("audit metadata exceeds max length (%d)", MaxAuditMetadataLength)
		}
		if !json.Valid([]byte(metadata)) {
			return errors.New("audit metadata must be valid JSON")
		}
	}
	return nil
}

// InsertAuditTx validates and appends an audit event inside an existing
// transaction, so pipeline writes and their audit trail commit together.
func InsertAuditTx(tx *sql.Tx, kind, tenantID, exceptionID, message, metadata string) (int64, error) {
	if err := validateAuditPayload(kind, message, metadata); err != nil {
		return 0, err
	}

	result, err := tx.ExecContext(context.Background(), `
		INSERT INTO audit_events (kind, tenant_id, exception_id, message, metadata)
		VALUES (?, ?, ?, ?, ?)
	`, kind, nullable(tenantID), nullable(exceptionID), message, nullable(metadata))
	if err != nil {
		return 0, fmt.Errorf("failed to insert audit event: %w", err)
	}

	auditID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}
	return auditID, nil
}

// InsertAudit appends an audit event in its own transaction.
func InsertAudit(db *sql.DB, kind, tenantID, exceptionID, message, metadata string) (int64, error) {
	var auditID int64
	err := Transact(db, func(tx *sql.Tx) error {
		id, txErr := InsertAuditTx(tx, kind, tenantID, exceptionID, message, metadata)
		if txErr != nil {
			return txErr
		}
		auditID = id
		return nil
	})
	return auditID, err
}

// ListAuditParams filters ListAudit.
type ListAuditParams struct {
	Kind     string
	TenantID string
	SinceID  int64
	Limit    int
}

// ListAudit returns audit events, newest first.
func ListAudit(db *sql.DB, p ListAuditParams) ([]*models.AuditEvent, error) {
	if p.Limit <= 0 || p.Limit > 1000 {
		p.Limit = 100
	}

	query := `
		SELECT id, kind, tenant_id, exception_id, message, metadata, created_at
		FROM audit_events
		WHERE 1=1
	`
	args := []any{}
	if p.Kind != "" {
		query += " AND kind = ?"
		args = append(args, p.Kind)
	}
	if p.TenantID != "" {
		query += " AND tenant_id = ?"
		args = append(args, p.TenantID)
	}
	if p.SinceID > 0 {
		query += " AND id > ?"
		args = append(args, p.SinceID)
	}
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, p.Limit)

	var events []*models.AuditEvent
	err := RetryWithBackoff(func() error {
		events = events[:0]
		rows, err := db.QueryContext(context.Background(), query, args...)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var e models.AuditEvent
			var tenant, exception, metadata sql.NullString
			if err := rows.Scan(&e.ID, &e.Kind, &tenant, &exception, &e.Message, &metadata, &e.CreatedAt); err != nil {
				return err
			}
			e.TenantID = scanNullString(tenant)
			e.ExceptionID = scanNullString(exception)
			e.Metadata = scanNullJSON(metadata)
			events = append(events, &e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}
