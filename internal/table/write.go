package table

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Registros"

// Write prints b as aligned text columns.
func Write(w io.Writer, b Body) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, strings.Join(b.Columns, "\t")); err != nil {
		return err
	}
	if b.Notice != nil {
		if _, err := fmt.Fprintln(tw, b.Notice.Text); err != nil {
			return err
		}
		return tw.Flush()
	}
	for _, row := range b.Rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row.Cells(), "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteXLSX writes b as a single-sheet workbook. Notices produce a header-only
// sheet.
func WriteXLSX(w io.Writer, b Body) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]any, 0, len(b.Columns))
	for _, col := range b.Columns {
		header = append(header, col)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, row := range b.Rows {
		cells := row.Cells()
		values := make([]any, 0, len(cells))
		values = append(values, row.Index)
		for _, cell := range cells[1:] {
			values = append(values, cell)
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row.Index, err)
		}
	}

	if err := f.SetColWidth(sheetName, "B", "B", 32); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "G", "H", 18); err != nil {
		return err
	}
	return f.Write(w)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
