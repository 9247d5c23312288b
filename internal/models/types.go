package models

import (
	"encoding/json"
	"time"
)

// ID Strategy:
// - Exceptions, playbooks, and policy packs use prefixed string IDs
//   (distributed generation, e.g. "exc_1234567890_a3f9").
// - Playbook steps, dead letters, and audit events use int64 (monotonic
//   ordering, auto-increment) because their order matters.

// Severity classifies how urgent an exception is.
type Severity string

// Severity levels, least to most urgent.
const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is one of the known severity levels.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// SeveritySource records where an exception's severity came from, so
// operators can distinguish "policy intentionally silent" from
// "override applied".
type SeveritySource string

const (
	SeveritySourceCatalogDefault SeveritySource = "catalog_default"
	SeveritySourcePolicyOverride SeveritySource = "policy_override"
)

// ExceptionStatus is the lifecycle state of an exception record.
type ExceptionStatus string

const (
	ExceptionStatusOpen     ExceptionStatus = "open"
	ExceptionStatusResolved ExceptionStatus = "resolved"
)

// TypeCodeUnknown is the designated fail-closed type code assigned when a
// raw token normalizes to nothing.
const TypeCodeUnknown = "UNKNOWN"

// IngestionEvent is the single authoritative message announcing a new
// exception occurrence. EventID doubles as the idempotency key.
type IngestionEvent struct {
	EventID    string          `json:"event_id"`
	TenantID   string          `json:"tenant_id"`
	RawType    string          `json:"raw_exception_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Exception is a classified, persisted exception occurrence. Created exactly
// once per ingestion event; only the policy-resolution and playbook-matching
// steps of the same pipeline run mutate it.
type Exception struct {
	ID             string          `json:"id"`
	EventID        string          `json:"event_id"`
	TenantID       string          `json:"tenant_id"`
	TypeCode       string          `json:"type_code"`
	RawType        string          `json:"raw_type"`
	Severity       Severity        `json:"severity"`
	SeveritySource SeveritySource  `json:"severity_source"`
	Status         ExceptionStatus `json:"status"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	PlaybookID     string          `json:"playbook_id,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsUnknownType returns true if the exception carries the fail-closed code.
func (e *Exception) IsUnknownType() bool {
	return e.TypeCode == TypeCodeUnknown
}

// HasPlaybook returns true if a playbook was matched for this exception.
// No playbook is a valid terminal state, not an error.
func (e *Exception) HasPlaybook() bool {
	return e.PlaybookID != ""
}

// PackStatus is the lifecycle state of a tenant policy pack.
type PackStatus string

const (
	PackStatusDraft      PackStatus = "DRAFT"
	PackStatusActive     PackStatus = "ACTIVE"
	PackStatusDeprecated PackStatus = "DEPRECATED"
)

// TenantPolicyPack is a versioned, tenant-scoped bundle of override rules.
// At most one pack per tenant may be ACTIVE at a time; only ACTIVE packs are
// eligible for resolution.
type TenantPolicyPack struct {
	ID          string               `json:"id"`
	TenantID    string               `json:"tenant_id"`
	Version     int                  `json:"version"`
	Status      PackStatus           `json:"status"`
	Rules       []PolicyOverrideRule `json:"rules,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	ActivatedAt *time.Time           `json:"activated_at,omitempty"`
}

// PolicyOverrideRule overrides a single field for exceptions of a given
// type code. Today the only recognized field is "severity".
type PolicyOverrideRule struct {
	TypeCode string `json:"type_code"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

// OverrideFieldSeverity is the rule field that overrides exception severity.
const OverrideFieldSeverity = "severity"

// SeverityOverride returns the overridden severity for code, if the pack
// carries a severity rule matching it.
func (p *TenantPolicyPack) SeverityOverride(code string) (Severity, bool) {
	for _, r := range p.Rules {
		if r.Field == OverrideFieldSeverity && r.TypeCode == code {
			return Severity(r.Value), true
		}
	}
	return "", false
}

// Playbook is an ordered remediation procedure for an exception type,
// optionally scoped to a tenant. TenantID "" means any tenant.
type Playbook struct {
	ID         string         `json:"id"`
	PackName   string         `json:"pack_name"`
	TenantID   string         `json:"tenant_id,omitempty"`
	TypeCode   string         `json:"type_code"`
	Name       string         `json:"name"`
	Steps      []PlaybookStep `json:"steps,omitempty"`
	ImportedAt time.Time      `json:"imported_at"`
}

// PlaybookStep is one actionable step of a playbook. StepOrder is 1-based,
// contiguous, unique within the playbook, and assigned by the repository at
// creation time — never supplied by the caller.
type PlaybookStep struct {
	ID         int64           `json:"id"`
	PlaybookID string          `json:"playbook_id"`
	StepOrder  int             `json:"step_order"`
	Name       string          `json:"name"`
	Action     string          `json:"action"`
	ActionType string          `json:"action_type"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// DeadLetter is a durable, replayable record of an ingestion event the
// pipeline could not process. The full payload is retained for replay.
type DeadLetter struct {
	ID         int64           `json:"id"`
	EventID    string          `json:"event_id"`
	TenantID   string          `json:"tenant_id,omitempty"`
	Reason     string          `json:"reason"`
	Detail     string          `json:"detail,omitempty"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	ReplayedAt *time.Time      `json:"replayed_at,omitempty"`
}

// IsReplayed returns true if the dead letter was already replayed.
func (d *DeadLetter) IsReplayed() bool {
	return d.ReplayedAt != nil
}

// Dead-letter reasons recorded by the intake consumer.
const (
	DeadLetterReasonMalformed = "malformed_event"
	DeadLetterReasonExhausted = "retries_exhausted"
)

// AuditEvent is one entry in the append-only pipeline audit log.
type AuditEvent struct {
	ID          int64           `json:"id"`
	Kind        string          `json:"kind"`
	TenantID    string          `json:"tenant_id,omitempty"`
	ExceptionID string          `json:"exception_id,omitempty"`
	Message     string          `json:"message"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// CatalogEntry maps a raw exception-type token (alias) to its canonical
// type code and default severity. Read-mostly; owned by the catalog.
type CatalogEntry struct {
	Raw             string   `json:"raw" yaml:"raw"`
	TypeCode        string   `json:"type_code" yaml:"type_code"`
	DefaultSeverity Severity `json:"default_severity" yaml:"default_severity"`
}
