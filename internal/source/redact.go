package source

import "regexp"

// Personally identifying fields stripped when include_pii is false.
var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{6,}\d`)
)

const redactedPlaceholder = "[REDACTED]"

// Redact replaces email addresses and phone numbers in every cell of the
// snapshot. The snapshot is mutated in place; attachments are untouched
// (binary attachments are only fetched when the tenant opted into files,
// and PII filtering applies to the structured tables).
func Redact(s *Snapshot) {
	for _, row := range s.Rows {
		for i, cell := range row {
			if cell == "" {
				continue
			}
			cell = emailPattern.ReplaceAllString(cell, redactedPlaceholder)
			cell = phonePattern.ReplaceAllString(cell, redactedPlaceholder)
			row[i] = cell
		}
	}
}
