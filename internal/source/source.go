// Package source exposes the business data domains an export reads from.
// Each domain is a read-only collaborator: the pipeline takes snapshots
// scoped by tenant and date range and never writes business data.
package source

import (
	"context"

	"github.com/google/uuid"

	"github.com/worksuite/exportd/internal/entity"
)

// Attachment is a referenced binary fetched only when include_files is set.
type Attachment struct {
	Name string
	Data []byte
}

// Snapshot is one module's export payload: a table plus optional binaries.
type Snapshot struct {
	Columns     []string
	Rows        [][]string
	Attachments []Attachment
}

// Source is a single exportable business module.
type Source interface {
	// Name is the human-readable module label surfaced as current_module.
	Name() string
	// Snapshot returns the module's data matching the filter snapshot. It
	// must scope every read by tenantID.
	Snapshot(ctx context.Context, tenantID uuid.UUID, filters entity.ExportFilters) (*Snapshot, error)
}
