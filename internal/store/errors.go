package store

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/dotcommander/exceptd/internal/models"
)

// RecoverableError is an alias for models.RecoverableError, retained so
// callers can reference store.RecoverableError.
type RecoverableError = models.RecoverableError

// Sentinel errors for errors.Is checks.
var (
	ErrExceptionNotFound = errors.New("exception not found")
	ErrPackNotFound      = errors.New("policy pack not found")
	ErrNoActivePack      = errors.New("no active policy pack for tenant")
	ErrPlaybookNotFound  = errors.New("playbook not found")
	ErrDeadLetterGone    = errors.New("dead letter not found or already replayed")
)

// PackStateError is returned when a pack lifecycle transition is not
// allowed from its current status.
type PackStateError struct {
	PackID string
	Status models.PackStatus
	Want   models.PackStatus
}

func (e *PackStateError) Error() string {
	return fmt.Sprintf("policy pack %s is %s, cannot transition to %s", e.PackID, e.Status, e.Want)
}
func (e *PackStateError) ErrorCode() string { return "PACK_STATE" }
func (e *PackStateError) Context() map[string]string {
	return map[string]string{
		"pack_id": e.PackID,
		"status":  string(e.Status),
		"want":    string(e.Want),
	}
}
func (e *PackStateError) SuggestedAction() string {
	return "exceptd policy show --tenant <tenant> to inspect pack statuses"
}

// StepOrderConflictError is returned when concurrent importers exhaust the
// bounded retry assigning the next step_order for one playbook.
type StepOrderConflictError struct {
	PlaybookID string
	Attempts   int
}

func (e *StepOrderConflictError) Error() string {
	return "step order conflict: concurrent step inserts for the same playbook"
}
func (e *StepOrderConflictError) ErrorCode() string { return "STEP_ORDER_CONFLICT" }
func (e *StepOrderConflictError) Context() map[string]string {
	return map[string]string{
		"playbook_id": e.PlaybookID,
		"attempts":    strconv.Itoa(e.Attempts),
	}
}
func (e *StepOrderConflictError) SuggestedAction() string {
	return "retry the step insert; prefer a single importer per playbook"
}

// IdempotencyInProgressError carries structured context for the
// ErrIdempotencyInProgress condition.
type IdempotencyInProgressError struct {
	Source    string
	RequestID string
	Command   string
}

func (e *IdempotencyInProgressError) Error() string { return "idempotency in progress" }
func (e *IdempotencyInProgressError) ErrorCode() string {
	return "IDEMPOTENCY_IN_PROGRESS"
}
func (e *IdempotencyInProgressError) Context() map[string]string {
	return map[string]string{
		"source":     e.Source,
		"request_id": e.RequestID,
		"command":    e.Command,
	}
}
func (e *IdempotencyInProgressError) SuggestedAction() string {
	return "wait and retry, or use a new --request-id"
}
func (e *IdempotencyInProgressError) Is(target error) bool {
	return target == ErrIdempotencyInProgress
}
