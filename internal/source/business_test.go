package source

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worksuite/exportd/constants"
	"github.com/worksuite/exportd/internal/entity"
)

const businessSchema = `
CREATE TABLE employees (
	tenant_id TEXT NOT NULL,
	full_name TEXT NOT NULL,
	email TEXT,
	phone TEXT,
	department TEXT,
	hired_at INTEGER NOT NULL
);
CREATE TABLE invoices (
	tenant_id TEXT NOT NULL,
	number TEXT NOT NULL,
	customer_name TEXT,
	issued_at INTEGER NOT NULL,
	total TEXT,
	currency TEXT,
	status TEXT,
	pdf_path TEXT
);
CREATE TABLE expenses (
	tenant_id TEXT NOT NULL,
	incurred_at INTEGER NOT NULL,
	merchant TEXT,
	category TEXT,
	amount TEXT,
	currency TEXT,
	receipt_path TEXT
);
CREATE TABLE inventory_items (
	tenant_id TEXT NOT NULL,
	sku TEXT NOT NULL,
	name TEXT,
	quantity INTEGER,
	unit_price TEXT,
	updated_at INTEGER NOT NULL
);
`

type businessFixture struct {
	db             *sql.DB
	path           string
	attachmentRoot string
	tenant         uuid.UUID
	other          uuid.UUID
}

func newBusinessFixture(t *testing.T) *businessFixture {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.db")

	seed, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = seed.Exec(businessSchema)
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	db, err := OpenBusiness(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return &businessFixture{
		db:             db,
		path:           path,
		attachmentRoot: filepath.Join(dir, "attachments"),
		tenant:         uuid.New(),
		other:          uuid.New(),
	}
}

// seed writes through a separate read-write handle; the handle under test
// is query_only.
func (f *businessFixture) seed(t *testing.T, query string, args ...any) {
	t.Helper()
	rw, err := sql.Open("sqlite", f.path)
	require.NoError(t, err)
	defer rw.Close()
	_, err = rw.Exec(query, args...)
	require.NoError(t, err)
}

func findSource(t *testing.T, sources []Source, name string) Source {
	t.Helper()
	for _, s := range sources {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("source %s not found", name)
	return nil
}

func TestBusinessSourcesFixedOrder(t *testing.T) {
	f := newBusinessFixture(t)
	sources := BusinessSources(f.db, f.attachmentRoot)

	names := make([]string, 0, len(sources))
	for _, s := range sources {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"employees", "invoices", "expenses", "inventory"}, names)
}

func TestSnapshotTenantIsolation(t *testing.T) {
	f := newBusinessFixture(t)
	hired := time.Now().UTC().AddDate(0, -1, 0).UnixMilli()
	f.seed(t, `INSERT INTO employees (tenant_id, full_name, email, phone, department, hired_at) VALUES
		(?, 'Mine A', 'a@t1.example', '555-000-1111', 'eng', ?),
		(?, 'Theirs B', 'b@t2.example', '555-000-2222', 'eng', ?)`,
		f.tenant.String(), hired, f.other.String(), hired)

	src := findSource(t, BusinessSources(f.db, f.attachmentRoot), "employees")
	snap, err := src.Snapshot(context.Background(), f.tenant, entity.ExportFilters{DateRange: constants.DateRangeAll})
	require.NoError(t, err)

	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "Mine A", snap.Rows[0][0])
	assert.Equal(t, []string{"full_name", "email", "phone", "department", "hired_at"}, snap.Columns)
}

func TestSnapshotDateRangeBound(t *testing.T) {
	f := newBusinessFixture(t)
	now := time.Now().UTC()
	f.seed(t, `INSERT INTO employees (tenant_id, full_name, email, phone, department, hired_at) VALUES
		(?, 'Recent', '', '', 'eng', ?),
		(?, 'Ancient', '', '', 'eng', ?)`,
		f.tenant.String(), now.AddDate(0, 0, -2).UnixMilli(),
		f.tenant.String(), now.AddDate(0, 0, -60).UnixMilli())

	src := findSource(t, BusinessSources(f.db, f.attachmentRoot), "employees")

	snap, err := src.Snapshot(context.Background(), f.tenant, entity.ExportFilters{DateRange: constants.DateRangeLast7})
	require.NoError(t, err)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "Recent", snap.Rows[0][0])

	snap, err = src.Snapshot(context.Background(), f.tenant, entity.ExportFilters{DateRange: constants.DateRangeAll})
	require.NoError(t, err)
	assert.Len(t, snap.Rows, 2)
}

func TestSnapshotAttachments(t *testing.T) {
	f := newBusinessFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.attachmentRoot, "invoices"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.attachmentRoot, "invoices", "inv-1.pdf"), []byte("%PDF-fake"), 0o644))

	issued := time.Now().UTC().AddDate(0, 0, -1).UnixMilli()
	f.seed(t, `INSERT INTO invoices (tenant_id, number, customer_name, issued_at, total, currency, status, pdf_path) VALUES
		(?, 'INV-1', 'Acme', ?, '100.00', 'USD', 'PAID', 'invoices/inv-1.pdf'),
		(?, 'INV-2', 'Acme', ?, '50.00', 'USD', 'PAID', '')`,
		f.tenant.String(), issued, f.tenant.String(), issued)

	src := findSource(t, BusinessSources(f.db, f.attachmentRoot), "invoices")

	snap, err := src.Snapshot(context.Background(), f.tenant,
		entity.ExportFilters{DateRange: constants.DateRangeAll, IncludeFiles: true})
	require.NoError(t, err)
	require.Len(t, snap.Attachments, 1)
	assert.Equal(t, "inv-1.pdf", snap.Attachments[0].Name)
	assert.Equal(t, []byte("%PDF-fake"), snap.Attachments[0].Data)

	// Without include_files the binaries are skipped entirely.
	snap, err = src.Snapshot(context.Background(), f.tenant,
		entity.ExportFilters{DateRange: constants.DateRangeAll, IncludeFiles: false})
	require.NoError(t, err)
	assert.Empty(t, snap.Attachments)
}

func TestSnapshotMissingAttachmentFailsModule(t *testing.T) {
	f := newBusinessFixture(t)
	issued := time.Now().UTC().UnixMilli()
	f.seed(t, `INSERT INTO invoices (tenant_id, number, customer_name, issued_at, total, currency, status, pdf_path) VALUES
		(?, 'INV-1', 'Acme', ?, '100.00', 'USD', 'PAID', 'invoices/gone.pdf')`,
		f.tenant.String(), issued)

	src := findSource(t, BusinessSources(f.db, f.attachmentRoot), "invoices")
	_, err := src.Snapshot(context.Background(), f.tenant,
		entity.ExportFilters{DateRange: constants.DateRangeAll, IncludeFiles: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.pdf")
}

func TestOpenBusinessIsReadOnly(t *testing.T) {
	f := newBusinessFixture(t)
	_, err := f.db.Exec(`INSERT INTO employees (tenant_id, full_name, hired_at) VALUES ('x', 'y', 0)`)
	require.Error(t, err, "query_only handle must reject writes")
}
