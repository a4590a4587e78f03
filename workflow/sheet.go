package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mmdatafocus/wotrack_backend/models"
	"github.com/xuri/excelize/v2"
)

// Sheet rows: 0 is a title row, 1 holds headers, data starts at 2.
const (
	sheetHeaderRow    = 1
	sheetFirstDataRow = 2
	templateSheetName = "Schedule"
)

var (
	ErrSheetTooShort      = errors.New("workbook must have at least 2 rows")
	ErrUnreadableWorkbook = errors.New("workbook could not be read")
)

var defaultTemplateDetailColumns = []string{models.ColumnWoId, "PN", "Description", "WO DUE", "Priority"}

// SheetGrid is the rectangular grid read from an uploaded workbook.
type SheetGrid struct {
	SheetName string
	Headers   []string
	Rows      [][]CellValue
}

// SheetRowNumber is the 1-based sheet row of data row i, as shown to users.
func SheetRowNumber(i int) int {
	return i + sheetFirstDataRow + 1
}

func pickSheet(names []string) string {
	for _, n := range names {
		l := strings.ToLower(n)
		if strings.Contains(l, "schedule") || strings.Contains(l, "master") || strings.Contains(l, "dashboard") {
			return n
		}
	}
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// ReadWorkbook reads the schedule sheet of an xlsx workbook.
func ReadWorkbook(r io.Reader) (*SheetGrid, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableWorkbook, err)
	}
	defer f.Close()

	name := pickSheet(f.GetSheetList())
	if name == "" {
		return nil, ErrSheetTooShort
	}
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", name, err)
	}
	if len(rows) < sheetFirstDataRow {
		return nil, ErrSheetTooShort
	}

	grid := &SheetGrid{SheetName: name}
	for _, h := range rows[sheetHeaderRow] {
		grid.Headers = append(grid.Headers, strings.TrimSpace(h))
	}
	for i := sheetFirstDataRow; i < len(rows); i++ {
		cells := make([]CellValue, len(rows[i]))
		for j, raw := range rows[i] {
			cells[j] = readCell(f, name, j+1, i+1, raw)
		}
		grid.Rows = append(grid.Rows, cells)
	}
	return grid, nil
}

func readCell(f *excelize.File, sheet string, col, row int, raw string) CellValue {
	if raw == "" {
		return CellValue{}
	}
	ref, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return TextCell(raw)
	}
	typ, err := f.GetCellType(sheet, ref)
	if err != nil {
		return TextCell(raw)
	}
	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber, excelize.CellTypeDate:
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
			return CellValue{Text: raw, Number: v, IsNumber: true}
		}
	}
	return TextCell(raw)
}

// BuildTemplate renders an empty import workbook for def: a title row and the header row
// (detail columns then steps).
func BuildTemplate(def models.ProcessDefinition) (*bytes.Buffer, error) {
	details := def.DetailColumns
	if len(details) == 0 {
		details = defaultTemplateDetailColumns
	}
	columns := append(append([]string{}, details...), def.Steps...)

	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName(f.GetSheetName(0), templateSheetName); err != nil {
		return nil, err
	}

	title := def.Name
	if title == "" {
		title = def.ProductId
	}
	if err := f.SetCellValue(templateSheetName, "A1", title+" - Production Schedule"); err != nil {
		return nil, err
	}
	header := make([]interface{}, len(columns))
	for i, c := range columns {
		header[i] = c
	}
	if err := f.SetSheetRow(templateSheetName, "A2", &header); err != nil {
		return nil, err
	}
	for i, c := range columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		width := float64(len(c) + 2)
		if width < 12 {
			width = 12
		}
		if err := f.SetColWidth(templateSheetName, name, name, width); err != nil {
			return nil, err
		}
	}
	return f.WriteToBuffer()
}
