// Package roster loads the tabular score sheet into normalized student records.
package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
)

// ErrMalformedInput reports a roster whose shape does not match the registry.
var ErrMalformedInput = errors.New("malformed roster")

// Format is the serialization of a roster file.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Columns names the identity columns of the roster.
// Contact and Total are optional; Name and ID are required.
type Columns struct {
	Name    string
	ID      string
	Contact string
	Total   string
}

// DefaultColumns matches the class score sheet layout.
func DefaultColumns() Columns {
	return Columns{Name: "Name", ID: "USN", Contact: "Email", Total: "Total-Test"}
}

// FormatFromPath picks the roster format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported roster format %q", filepath.Ext(path))
	}
}

// LoadFile opens path and loads it with Load.
func LoadFile(path string, cols Columns, reg *registry.Registry) ([]model.StudentRecord, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()

	students, err := Load(f, format, cols, reg)
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", path, err)
	}
	slog.Info("loaded roster", "path", path, "students", len(students))
	return students, nil
}

// Load parses a roster and returns one record per unique student id, in order of
// first appearance. A later row with the same id replaces the earlier one.
// Blank or non-numeric score cells count as zero.
func Load(r io.Reader, format Format, cols Columns, reg *registry.Registry) ([]model.StudentRecord, error) {
	var (
		rows [][]string
		err  error
	)
	switch format {
	case FormatCSV:
		rows, err = readCSV(r)
	case FormatXLSX:
		rows, err = readXLSX(r)
	default:
		return nil, fmt.Errorf("unsupported roster format %q", format)
	}
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty sheet", ErrMalformedInput)
	}

	layout, err := newLayout(rows[0], cols, reg)
	if err != nil {
		return nil, err
	}

	var students []model.StudentRecord
	seen := make(map[string]int)
	for n, row := range rows[1:] {
		if blankRow(row) {
			continue
		}
		rec := layout.record(row)
		if rec.StudentID == "" {
			slog.Warn("skipping roster row without student id", "row", n+2, "name", rec.Name)
			continue
		}
		if i, dup := seen[rec.StudentID]; dup {
			slog.Debug("duplicate student id, keeping later row", "student_id", rec.StudentID, "row", n+2)
			students[i] = rec
			continue
		}
		seen[rec.StudentID] = len(students)
		students = append(students, rec)
	}
	return students, nil
}

// CheckTotals returns the ids of students whose recorded total differs from the sum
// of their question scores. The roster total is trusted either way; mismatches are
// only logged.
func CheckTotals(students []model.StudentRecord) []string {
	var mismatched []string
	for _, s := range students {
		if !s.HasTotal {
			continue
		}
		var sum float64
		for _, v := range s.Scores {
			sum += v
		}
		if math.Abs(sum-s.Total) > 1e-9 {
			slog.Warn("roster total differs from question sum",
				"student_id", s.StudentID, "total", s.Total, "sum", sum)
			mismatched = append(mismatched, s.StudentID)
		}
	}
	return mismatched
}

type layout struct {
	name, id, contact, total int
	questions                map[string]int
}

func newLayout(header []string, cols Columns, reg *registry.Registry) (*layout, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if _, ok := pos[h]; !ok {
			pos[h] = i
		}
	}
	find := func(name string) int {
		if name == "" {
			return -1
		}
		if i, ok := pos[name]; ok {
			return i
		}
		return -1
	}

	l := &layout{
		name:      find(cols.Name),
		id:        find(cols.ID),
		contact:   find(cols.Contact),
		total:     find(cols.Total),
		questions: make(map[string]int, reg.Len()),
	}

	var missing []string
	if l.name < 0 {
		missing = append(missing, cols.Name)
	}
	if l.id < 0 {
		missing = append(missing, cols.ID)
	}
	for _, id := range reg.IDs() {
		i := find(id)
		if i < 0 {
			missing = append(missing, id)
			continue
		}
		l.questions[id] = i
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ErrMalformedInput, strings.Join(missing, ", "))
	}
	return l, nil
}

func (l *layout) record(row []string) model.StudentRecord {
	rec := model.StudentRecord{
		Name:      cell(row, l.name),
		StudentID: cell(row, l.id),
		Contact:   cell(row, l.contact),
		Scores:    make(map[string]float64, len(l.questions)),
	}
	for id, i := range l.questions {
		rec.Scores[id] = number(cell(row, i))
	}
	if l.total >= 0 {
		rec.Total = number(cell(row, l.total))
		rec.HasTotal = true
	}
	return rec
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func number(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) {
		return 0
	}
	return v
}

func blankRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readCSV(r io.Reader) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: read csv: %w", ErrMalformedInput, err)
	}
	return rows, nil
}

func readXLSX(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: open workbook: %w", ErrMalformedInput, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrMalformedInput)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %s: %w", ErrMalformedInput, sheets[0], err)
	}
	return rows, nil
}
