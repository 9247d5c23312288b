// Package playbook imports remediation playbooks from domain packs and
// matches the best playbook for an exception.
package playbook

import (
	"database/sql"

	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/store"
)

// Match selects the playbook for (tenant, type_code): the most recently
// imported playbook scoped to the tenant with the exact code; failing that,
// the tenant-agnostic default for the code; failing that, nil. A nil result
// is a valid terminal state — the exception simply has no playbook.
func Match(db *sql.DB, tenantID, typeCode string) (*models.Playbook, error) {
	if tenantID != "" {
		pb, err := store.FindLatestPlaybook(db, tenantID, typeCode)
		if err != nil {
			return nil, err
		}
		if pb != nil {
			return pb, nil
		}
	}
	return store.FindLatestPlaybook(db, "", typeCode)
}
