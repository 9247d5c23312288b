package models

// Audit kinds emitted by the store and intake layers.
const (
	AuditKindExceptionCreated   = "exception_created"
	AuditKindSeverityOverridden = "severity_overridden"
	AuditKindPlaybookAssigned   = "playbook_assigned"
	AuditKindPackCreated        = "pack_created"
	AuditKindPackActivated      = "pack_activated"
	AuditKindPackDeactivated    = "pack_deactivated"
	AuditKindPackImported       = "pack_imported"
	AuditKindDeadLettered       = "dead_lettered"
	AuditKindDeadLetterReplayed = "dead_letter_replayed"
)
