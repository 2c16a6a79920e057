// Package archive assembles the final export artifact: one zip holding an
// XLSX workbook per business module, referenced binaries, and a manifest.
package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/worksuite/exportd/internal/entity"
	"github.com/worksuite/exportd/internal/source"
)

// ModuleData pairs a module name with its snapshot.
type ModuleData struct {
	Name string
	Snap *source.Snapshot
}

type manifest struct {
	JobID       string                `json:"job_id"`
	GeneratedAt string                `json:"generated_at"`
	Filters     entity.ExportFilters  `json:"filters"`
	Modules     []manifestModuleEntry `json:"modules"`
}

type manifestModuleEntry struct {
	Name        string `json:"name"`
	Rows        int    `json:"rows"`
	Attachments int    `json:"attachments"`
}

// Build writes the complete archive for job to w. Modules appear in the
// order given, which is the processing order.
func Build(w io.Writer, job *entity.Job, modules []ModuleData) error {
	zw := zip.NewWriter(w)

	m := manifest{
		JobID:       job.ID.String(),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Filters:     job.Filters,
	}

	for _, mod := range modules {
		workbook, err := renderWorkbook(mod)
		if err != nil {
			return fmt.Errorf("render %s: %w", mod.Name, err)
		}
		entry, err := zw.Create(mod.Name + ".xlsx")
		if err != nil {
			return err
		}
		if _, err := entry.Write(workbook); err != nil {
			return err
		}

		for _, att := range mod.Snap.Attachments {
			f, err := zw.Create(path.Join("files", mod.Name, att.Name))
			if err != nil {
				return err
			}
			if _, err := f.Write(att.Data); err != nil {
				return err
			}
		}

		m.Modules = append(m.Modules, manifestModuleEntry{
			Name:        mod.Name,
			Rows:        len(mod.Snap.Rows),
			Attachments: len(mod.Snap.Attachments),
		})
	}

	entry, err := zw.Create("manifest.json")
	if err != nil {
		return err
	}
	enc := json.NewEncoder(entry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return err
	}

	return zw.Close()
}

func renderWorkbook(mod ModuleData) ([]byte, error) {
	f := excelize.NewFile()
	sheet := mod.Name
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)
	_ = f.DeleteSheet("Sheet1")

	for i, h := range mod.Snap.Columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for rowIdx, row := range mod.Snap.Rows {
		for colIdx, v := range row {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}

	// Widen columns so exports open readable.
	if n := len(mod.Snap.Columns); n > 0 {
		last, _ := excelize.ColumnNumberToName(n)
		_ = f.SetColWidth(sheet, "A", last, 22)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
