package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrIdempotencyInProgress marks a claim row committed without a result,
// meaning another worker is mid-operation. Treated as transient contention.
var ErrIdempotencyInProgress = errors.New("idempotency in progress")

// beginIdempotencyTx attempts to claim (source, request_id). If it already
// exists, it returns the previously stored result_json for replay.
//
// This function is intentionally unexported. All callers must use
// RunIdempotent, which enforces the begin+side-effects+complete-in-one-tx
// invariant. Direct usage risks leaving empty result_json rows on partial
// commits.
func beginIdempotencyTx(tx *sql.Tx, source, requestID, command string) (existingResultJSON string, alreadyDone bool, err error) {
	if source == "" {
		return "", false, fmt.Errorf("idempotency source is required")
	}
	if requestID == "" {
		return "", false, fmt.Errorf("request id is required")
	}
	if command == "" {
		return "", false, fmt.Errorf("idempotency command is required")
	}

	_, err = tx.Exec(`
		INSERT INTO idempotency (source, request_id, command, result_json)
		VALUES (?, ?, ?, '')
	`, source, requestID, command)
	if err == nil {
		return "", false, nil
	}
	if !IsUniqueConstraintErr(err) {
		return "", false, fmt.Errorf("failed to insert idempotency row: %w", err)
	}

	var existingCommand string
	var resultJSON string
	if err := tx.QueryRow(`
		SELECT command, result_json
		FROM idempotency
		WHERE source = ? AND request_id = ?
	`, source, requestID).Scan(&existingCommand, &resultJSON); err != nil {
		return "", false, fmt.Errorf("failed to load idempotency row: %w", err)
	}
	if existingCommand != command {
		return "", false, fmt.Errorf("idempotency key collision: request_id %q already used for command %q (new: %q)", requestID, existingCommand, command)
	}
	if strings.TrimSpace(resultJSON) == "" {
		// We should never see this if callers keep begin+work+complete in one tx,
		// but handle it so concurrent workers can back off.
		return "", false, &IdempotencyInProgressError{Source: source, RequestID: requestID, Command: command}
	}
	return resultJSON, true, nil
}

func completeIdempotencyTx(tx *sql.Tx, source, requestID, resultJSON string) error {
	if resultJSON == "" {
		// Disallow empty: it's indistinguishable from "not completed" in logs/debugging.
		return fmt.Errorf("idempotency result json must be non-empty")
	}
	res, err := tx.Exec(`
		UPDATE idempotency
		SET result_json = ?
		WHERE source = ? AND request_id = ?
	`, resultJSON, source, requestID)
	if err != nil {
		return fmt.Errorf("failed to update idempotency row: %w", err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check idempotency rows affected: %w", err)
	}
	if ra != 1 {
		return fmt.Errorf("idempotency row not found for source=%q request_id=%q", source, requestID)
	}
	return nil
}
