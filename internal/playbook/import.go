package playbook

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dotcommander/exceptd/internal/catalog"
	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/store"
)

// PackFile is the YAML shape of a domain-pack import file.
type PackFile struct {
	Name      string        `yaml:"name"`
	Playbooks []PlaybookDef `yaml:"playbooks"`
}

// PlaybookDef defines one playbook within a pack. TenantID "" makes it the
// tenant-agnostic default for the type code. Step order in the list is the
// intended presentation order, achieved via sequential AddStep calls.
type PlaybookDef struct {
	TenantID string    `yaml:"tenant_id"`
	TypeCode string    `yaml:"type_code"`
	Name     string    `yaml:"name"`
	Steps    []StepDef `yaml:"steps"`
}

// StepDef defines one step. Parameters are persisted as JSON.
type StepDef struct {
	Name       string         `yaml:"name"`
	Action     string         `yaml:"action"`
	ActionType string         `yaml:"action_type"`
	Parameters map[string]any `yaml:"parameters"`
}

// PlaybookImport reports the outcome for one playbook of an import.
type PlaybookImport struct {
	PlaybookID     string `json:"playbook_id"`
	TenantID       string `json:"tenant_id,omitempty"`
	TypeCode       string `json:"type_code"`
	StepsPersisted int    `json:"steps_persisted"`
	StepsFailed    int    `json:"steps_failed"`
}

// ImportResult summarizes a domain-pack import.
type ImportResult struct {
	PackName  string           `json:"pack_name"`
	Playbooks []PlaybookImport `json:"playbooks"`
}

// ImportFile parses a domain pack from path and imports it.
func ImportFile(db *sql.DB, path string) (*ImportResult, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read domain pack %s: %w", path, err)
	}
	var pack PackFile
	if err := yaml.Unmarshal(b, &pack); err != nil {
		return nil, fmt.Errorf("parse domain pack %s: %w", path, err)
	}
	return Import(db, pack)
}

// Import persists a domain pack. The playbook record is created first, then
// each step is persisted individually; a failed step is logged and skipped
// so its siblings still persist. A playbook with 4 of 5 steps is preferable
// to none — missing steps surface as "No steps available" to operators, a
// recoverable, detectable state.
func Import(db *sql.DB, pack PackFile) (*ImportResult, error) {
	if pack.Name == "" {
		return nil, fmt.Errorf("domain pack name is required")
	}

	result := &ImportResult{PackName: pack.Name}
	for i, def := range pack.Playbooks {
		// Type codes in pack files must already be canonical; normalization
		// happens once, at ingestion, and nowhere else. A non-canonical
		// code would silently never match, so reject it here.
		if def.TypeCode == "" || def.TypeCode != catalog.Normalize(def.TypeCode) {
			return nil, fmt.Errorf("playbook %d (%s): type_code %q is not canonical", i, def.Name, def.TypeCode)
		}

		pb, err := store.CreatePlaybook(db, pack.Name, def.TenantID, def.TypeCode, def.Name)
		if err != nil {
			return nil, fmt.Errorf("create playbook %q: %w", def.Name, err)
		}

		imp := PlaybookImport{PlaybookID: pb.ID, TenantID: def.TenantID, TypeCode: def.TypeCode}
		for _, s := range def.Steps {
			if _, err := addStep(db, pb.ID, s); err != nil {
				imp.StepsFailed++
				slog.Error("playbook step failed to persist, continuing with siblings",
					"pack", pack.Name, "playbook", pb.ID, "step", s.Name, "error", err.Error())
				continue
			}
			imp.StepsPersisted++
		}
		result.Playbooks = append(result.Playbooks, imp)
	}

	if _, err := store.InsertAudit(db, models.AuditKindPackImported, "", "",
		fmt.Sprintf("domain pack %s imported (%d playbooks)", pack.Name, len(result.Playbooks)), ""); err != nil {
		return nil, err
	}
	return result, nil
}

func addStep(db *sql.DB, playbookID string, s StepDef) (int, error) {
	var params json.RawMessage
	if len(s.Parameters) > 0 {
		b, err := json.Marshal(s.Parameters)
		if err != nil {
			return 0, fmt.Errorf("encode step parameters: %w", err)
		}
		params = b
	}
	return store.AddStep(db, playbookID, store.StepDefinition{
		Name:       s.Name,
		Action:     s.Action,
		ActionType: s.ActionType,
		Parameters: params,
	})
}
