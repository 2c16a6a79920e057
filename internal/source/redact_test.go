package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactStripsEmailsAndPhones(t *testing.T) {
	snap := &Snapshot{
		Columns: []string{"full_name", "email", "phone", "department"},
		Rows: [][]string{
			{"Ada Example", "ada@example.com", "+1 (555) 123-4567", "engineering"},
			{"Bo Sample", "Bo.Sample+hr@corp.example.co.uk", "555-987-6543", "hr"},
			{"No Contact", "", "", "ops"},
		},
	}

	Redact(snap)

	assert.Equal(t, "[REDACTED]", snap.Rows[0][1])
	assert.Equal(t, "[REDACTED]", snap.Rows[0][2])
	assert.Equal(t, "[REDACTED]", snap.Rows[1][1])
	assert.Equal(t, "[REDACTED]", snap.Rows[1][2])
	assert.Equal(t, "Ada Example", snap.Rows[0][0], "names are not pattern-matched")
	assert.Equal(t, "engineering", snap.Rows[0][3])
	assert.Equal(t, "", snap.Rows[2][1])
}

func TestRedactInsideFreeText(t *testing.T) {
	snap := &Snapshot{
		Columns: []string{"note"},
		Rows: [][]string{
			{"contact billing at billing@vendor.example or call 020 7946 0958"},
		},
	}

	Redact(snap)

	assert.Equal(t, "contact billing at [REDACTED] or call [REDACTED]", snap.Rows[0][0])
}

func TestRedactLeavesPlainNumbersAlone(t *testing.T) {
	snap := &Snapshot{
		Columns: []string{"amount"},
		Rows:    [][]string{{"42.50"}, {"1200"}},
	}

	Redact(snap)

	assert.Equal(t, "42.50", snap.Rows[0][0])
	assert.Equal(t, "1200", snap.Rows[1][0])
}
