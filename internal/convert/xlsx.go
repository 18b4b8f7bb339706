package convert

import (
	"fmt"
	"io"
	"time"

	"github.com/andresuchdata/parquetwrite/internal/domain"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Sheet1"

// writeXLSX writes a single-sheet workbook: a header row then the data rows.
func writeXLSX(w io.Writer, table *Table) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("failed to open stream writer for %s: %w", sheetName, err)
	}

	header := make([]interface{}, len(table.Schema))
	for i, name := range table.Schema.Names() {
		header[i] = name
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header row: %w", err)
	}

	for r, row := range table.Rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return fmt.Errorf("failed to address row %d: %w", r+2, err)
		}
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = spreadsheetValue(v, table.Schema[i].Type)
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("failed to write row %d: %w", r+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet %s: %w", sheetName, err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// spreadsheetValue keeps numbers and booleans native; times become text.
func spreadsheetValue(v any, t domain.ColumnType) interface{} {
	if ts, ok := v.(time.Time); ok {
		return formatText(ts, t)
	}
	return v
}
