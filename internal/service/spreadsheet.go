package service

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrInvalidSheet is returned when an uploaded workbook cannot be used.
var ErrInvalidSheet = errors.New("invalid spreadsheet")

// sheetTable is the first worksheet of a workbook with normalized headers.
type sheetTable struct {
	columns map[string]int
	rows    [][]string
}

// readSheet opens a workbook and returns its first worksheet. Header cells
// are matched against aliases so "Question Text", "question_text" and "soal"
// resolve to the same field.
func readSheet(r io.Reader, aliases map[string][]string) (*sheetTable, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSheet, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrInvalidSheet)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSheet, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("%w: no data rows", ErrInvalidSheet)
	}

	lookup := make(map[string]string)
	for field, names := range aliases {
		lookup[normalizeHeader(field)] = field
		for _, n := range names {
			lookup[normalizeHeader(n)] = field
		}
	}

	t := &sheetTable{columns: make(map[string]int), rows: rows[1:]}
	for i, cell := range rows[0] {
		if field, ok := lookup[normalizeHeader(cell)]; ok {
			if _, dup := t.columns[field]; !dup {
				t.columns[field] = i
			}
		}
	}
	return t, nil
}

// has reports whether the header row carried the field.
func (t *sheetTable) has(field string) bool {
	_, ok := t.columns[field]
	return ok
}

// cell returns the trimmed value of field in row, or "" when absent.
func (t *sheetTable) cell(row []string, field string) string {
	i, ok := t.columns[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ", ":", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
