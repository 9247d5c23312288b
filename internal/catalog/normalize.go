package catalog

import (
	"strings"

	"github.com/dotcommander/exceptd/internal/models"
)

// separatorCutset is every character treated as a leading separator by
// Normalize. Whitespace is included so interleaved junk like ": \t:foo"
// strips fully.
const separatorCutset = ":;-_./\\ \t\r\n"

// Normalize maps a raw exception-type token to its canonical type code.
//
// Rules:
//   - surrounding whitespace and ALL leading separator characters are
//     stripped (not just one — "::foo" and ": foo" both yield "FOO")
//   - if the remaining token is entirely lowercase it is uppercased;
//     mixed-case tokens pass through unchanged (deliberate policy)
//   - an empty remainder fails closed to TypeCodeUnknown, never ""
//
// Normalize is pure and deterministic and is the single point where all
// ingestion paths converge. Downstream code must treat type codes as
// already canonical; re-normalizing elsewhere is prohibited.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, separatorCutset)
	s = strings.TrimSpace(s)
	if s == "" {
		return models.TypeCodeUnknown
	}
	if s == strings.ToLower(s) {
		return strings.ToUpper(s)
	}
	return s
}
