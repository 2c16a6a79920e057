package source

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/worksuite/exportd/internal/entity"
)

// OpenBusiness opens the suite's business database read-only. Exports are
// pure snapshot reads; query_only makes accidental writes impossible.
func OpenBusiness(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Pragmas are per connection; pin the pool to one so they stick.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA query_only=ON;`,
		`PRAGMA busy_timeout=5000;`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}
	return db, nil
}

// sqlSource is a Source backed by one SQL query over the business database.
type sqlSource struct {
	name       string
	db         *sql.DB
	columns    []string
	baseQuery  string
	dateColumn string // empty when the module has no date dimension
	orderBy    string

	// attachmentColumn indexes into columns; rows carry a relative path
	// under attachmentRoot. -1 when the module has no binaries.
	attachmentColumn int
	attachmentRoot   string
}

func (s *sqlSource) Name() string { return s.name }

func (s *sqlSource) Snapshot(ctx context.Context, tenantID uuid.UUID, filters entity.ExportFilters) (*Snapshot, error) {
	query := s.baseQuery
	args := []any{tenantID.String()}
	if cutoff, bounded := filters.DateRange.CutoffFrom(time.Now().UTC()); bounded && s.dateColumn != "" {
		query += " AND " + s.dateColumn + " >= ?"
		args = append(args, cutoff.UnixMilli())
	}
	query += " ORDER BY " + s.orderBy

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: query: %w", s.name, err)
	}
	defer rows.Close()

	snap := &Snapshot{Columns: s.columns}
	scan := make([]any, len(s.columns))
	for rows.Next() {
		vals := make([]sql.NullString, len(s.columns))
		for i := range vals {
			scan[i] = &vals[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", s.name, err)
		}
		row := make([]string, len(vals))
		for i, v := range vals {
			if v.Valid {
				row[i] = v.String
			}
		}
		snap.Rows = append(snap.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: rows: %w", s.name, err)
	}

	if filters.IncludeFiles && s.attachmentColumn >= 0 {
		if err := s.fetchAttachments(snap); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (s *sqlSource) fetchAttachments(snap *Snapshot) error {
	seen := map[string]struct{}{}
	for _, row := range snap.Rows {
		rel := row[s.attachmentColumn]
		if rel == "" {
			continue
		}
		if _, ok := seen[rel]; ok {
			continue
		}
		seen[rel] = struct{}{}

		data, err := os.ReadFile(filepath.Join(s.attachmentRoot, filepath.FromSlash(rel)))
		if err != nil {
			// A missing referenced binary aborts the module; partial
			// exports are never published.
			return fmt.Errorf("%s: attachment %s: %w", s.name, rel, err)
		}
		snap.Attachments = append(snap.Attachments, Attachment{Name: filepath.Base(rel), Data: data})
	}
	return nil
}

// BusinessSources returns the suite's exportable modules in their fixed
// processing order. Progress is only meaningful because this order never
// changes between runs.
func BusinessSources(db *sql.DB, attachmentRoot string) []Source {
	return []Source{
		&sqlSource{
			name:    "employees",
			db:      db,
			columns: []string{"full_name", "email", "phone", "department", "hired_at"},
			baseQuery: `SELECT full_name, email, phone, department, hired_at
				FROM employees WHERE tenant_id = ?`,
			dateColumn:       "hired_at",
			orderBy:          "full_name, rowid",
			attachmentColumn: -1,
		},
		&sqlSource{
			name:    "invoices",
			db:      db,
			columns: []string{"number", "customer_name", "issued_at", "total", "currency", "status", "pdf_path"},
			baseQuery: `SELECT number, customer_name, issued_at, total, currency, status, pdf_path
				FROM invoices WHERE tenant_id = ?`,
			dateColumn:       "issued_at",
			orderBy:          "issued_at, number",
			attachmentColumn: 6,
			attachmentRoot:   attachmentRoot,
		},
		&sqlSource{
			name:    "expenses",
			db:      db,
			columns: []string{"incurred_at", "merchant", "category", "amount", "currency", "receipt_path"},
			baseQuery: `SELECT incurred_at, merchant, category, amount, currency, receipt_path
				FROM expenses WHERE tenant_id = ?`,
			dateColumn:       "incurred_at",
			orderBy:          "incurred_at, rowid",
			attachmentColumn: 5,
			attachmentRoot:   attachmentRoot,
		},
		&sqlSource{
			name:    "inventory",
			db:      db,
			columns: []string{"sku", "name", "quantity", "unit_price", "updated_at"},
			baseQuery: `SELECT sku, name, quantity, unit_price, updated_at
				FROM inventory_items WHERE tenant_id = ?`,
			dateColumn:       "updated_at",
			orderBy:          "sku",
			attachmentColumn: -1,
		},
	}
}
