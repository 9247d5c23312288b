package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dotcommander/exceptd/internal/models"
)

// InsertDeadLetter records an ingestion event the pipeline could not
// process. The full payload is retained so the event can be replayed after
// the underlying problem is fixed. Never silently drops anything: a failed
// audit append fails the whole insert.
func InsertDeadLetter(db *sql.DB, ev models.IngestionEvent, reason, detail string) (int64, error) {
	if reason == "" {
		return 0, errors.New("dead letter reason is required")
	}

	payload, err := marshalEvent(ev)
	if err != nil {
		return 0, err
	}

	var dlID int64
	err = Transact(db, func(tx *sql.Tx) error {
		res, txErr := tx.ExecContext(context.Background(), `
			INSERT INTO dead_letters (event_id, tenant_id, reason, detail, payload)
			VALUES (?, ?, ?, ?, ?)
		`, ev.EventID, nullable(ev.TenantID), reason, nullable(detail), payload)
		if txErr != nil {
			return fmt.Errorf("failed to insert dead letter: %w", txErr)
		}
		id, txErr := res.LastInsertId()
		if txErr != nil {
			return txErr
		}
		dlID = id

		_, txErr = InsertAuditTx(tx, models.AuditKindDeadLettered, ev.TenantID, "",
			fmt.Sprintf("event %s dead-lettered: %s", ev.EventID, reason), "")
		return txErr
	})
	if err != nil {
		return 0, err
	}
	return dlID, nil
}

func marshalEvent(ev models.IngestionEvent) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("failed to encode dead letter payload: %w", err)
	}
	return string(b), nil
}

// ListDeadLetters returns dead letters, newest first. When pending is true,
// only letters not yet replayed are returned.
func ListDeadLetters(db *sql.DB, pending bool, limit int) ([]*models.DeadLetter, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}

	query := `
		SELECT id, event_id, tenant_id, reason, detail, payload, created_at, replayed_at
		FROM dead_letters
	`
	if pending {
		query += ` WHERE replayed_at IS NULL`
	}
	query += ` ORDER BY id DESC LIMIT ?`

	var out []*models.DeadLetter
	err := RetryWithBackoff(func() error {
		out = out[:0]
		rows, err := db.QueryContext(context.Background(), query, limit)
		if err != nil {
			return err
		}
		defer func() { _ = rows.Close() }()

		for rows.Next() {
			var d models.DeadLetter
			var tenant, detail sql.NullString
			var payload string
			var replayedAt sql.NullTime
			if err := rows.Scan(&d.ID, &d.EventID, &tenant, &d.Reason, &detail, &payload, &d.CreatedAt, &replayedAt); err != nil {
				return err
			}
			d.TenantID = scanNullString(tenant)
			d.Detail = scanNullString(detail)
			d.Payload = []byte(payload)
			d.ReplayedAt = scanNullTime(replayedAt)
			out = append(out, &d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	return out, nil
}

// GetDeadLetter loads one dead letter by id.
func GetDeadLetter(db *sql.DB, id int64) (*models.DeadLetter, error) {
	var d models.DeadLetter
	err := RetryWithBackoff(func() error {
		var tenant, detail sql.NullString
		var payload string
		var replayedAt sql.NullTime
		scanErr := db.QueryRowContext(context.Background(), `
			SELECT id, event_id, tenant_id, reason, detail, payload, created_at, replayed_at
			FROM dead_letters WHERE id = ?
		`, id).Scan(&d.ID, &d.EventID, &tenant, &d.Reason, &detail, &payload, &d.CreatedAt, &replayedAt)
		if scanErr != nil {
			return scanErr
		}
		d.TenantID = scanNullString(tenant)
		d.Detail = scanNullString(detail)
		d.Payload = []byte(payload)
		d.ReplayedAt = scanNullTime(replayedAt)
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrDeadLetterGone, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return &d, nil
}

// MarkDeadLetterReplayed stamps a pending dead letter as replayed. Returns
// ErrDeadLetterGone if it does not exist or was already replayed, so a
// replay can never be double-submitted.
func MarkDeadLetterReplayed(db *sql.DB, id int64) error {
	return Transact(db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(context.Background(), `
			UPDATE dead_letters
			SET replayed_at = CURRENT_TIMESTAMP
			WHERE id = ? AND replayed_at IS NULL
		`, id)
		if err != nil {
			return fmt.Errorf("failed to mark dead letter replayed: %w", err)
		}
		ra, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if ra != 1 {
			return fmt.Errorf("%w: %d", ErrDeadLetterGone, id)
		}

		var tenant sql.NullString
		var eventID string
		if err := tx.QueryRowContext(context.Background(),
			`SELECT event_id, tenant_id FROM dead_letters WHERE id = ?`, id).Scan(&eventID, &tenant); err != nil {
			return err
		}
		_, err = InsertAuditTx(tx, models.AuditKindDeadLetterReplayed, scanNullString(tenant), "",
			fmt.Sprintf("dead letter %d (event %s) replayed", id, eventID), "")
		return err
	})
}

// CountDeadLetters returns the number of pending (not replayed) dead letters.
func CountDeadLetters(db *sql.DB) (int64, error) {
	var count int64
	err := RetryWithBackoff(func() error {
		return db.QueryRowContext(context.Background(),
			`SELECT COUNT(*) FROM dead_letters WHERE replayed_at IS NULL`).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return count, nil
}
