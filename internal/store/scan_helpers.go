package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// scanNullString converts sql.NullString to string (empty if NULL)
func scanNullString(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanNullTime converts sql.NullTime to *time.Time (nil if NULL)
func scanNullTime(nt sql.NullTime) *time.Time {
	if nt.Valid {
		return &nt.Time
	}
	return nil
}

// scanNullJSON converts sql.NullString to json.RawMessage (nil if NULL/empty)
func scanNullJSON(ns sql.NullString) json.RawMessage {
	if ns.Valid && ns.String != "" {
		return json.RawMessage(ns.String)
	}
	return nil
}

// nullable returns nil for empty strings so they persist as SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
