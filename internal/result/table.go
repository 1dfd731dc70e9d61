package result

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnknownColumn is returned when a requested column is absent from a table.
var ErrUnknownColumn = errors.New("unknown column")

// IndexValue is one time-index entry; Valid is false for unresolvable timestamps.
type IndexValue struct {
	Time  time.Time
	Valid bool
}

// Segment describes the rows contributed by one normalized result.
type Segment struct {
	Query     string
	Offset    int
	Len       int
	IndexKind IndexKind
}

// Table is an ordered sequence of records with an optional parallel time index.
type Table struct {
	columns  []string
	rows     []Record
	index    []IndexValue
	segments []Segment
}

func newTable(parts []segmentRows) *Table {
	t := &Table{}
	hasIndex := false
	total := 0
	for _, p := range parts {
		total += len(p.rows)
		if p.index != nil {
			hasIndex = true
		}
	}
	t.rows = make([]Record, 0, total)
	if hasIndex {
		t.index = make([]IndexValue, 0, total)
	}
	for _, p := range parts {
		seg := p.Segment
		seg.Offset = len(t.rows)
		seg.Len = len(p.rows)
		t.segments = append(t.segments, seg)
		t.rows = append(t.rows, p.rows...)
		if hasIndex {
			if p.index != nil {
				t.index = append(t.index, p.index...)
			} else {
				t.index = append(t.index, make([]IndexValue, len(p.rows))...)
			}
		}
	}
	t.columns = buildColumns(t.rows)
	return t
}

// buildColumns returns the union of field names by first appearance with derived columns last.
func buildColumns(rows []Record) []string {
	derived := make(map[string]bool, len(derivedColumns))
	for _, d := range derivedColumns {
		derived[d.name] = true
	}
	seen := make(map[string]bool)
	var columns []string
	for _, row := range rows {
		for _, f := range row.fields {
			if seen[f.Name] || derived[f.Name] {
				continue
			}
			seen[f.Name] = true
			columns = append(columns, f.Name)
		}
	}
	for _, d := range derivedColumns {
		for _, row := range rows {
			if row.Has(d.name) {
				columns = append(columns, d.name)
				break
			}
		}
	}
	return columns
}

// Len returns the row count.
func (t *Table) Len() int { return len(t.rows) }

// Columns returns the column names in order.
func (t *Table) Columns() []string { return append([]string(nil), t.columns...) }

// HasColumn reports whether any row carries the column.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.columns {
		if c == name {
			return true
		}
	}
	return false
}

// Row returns the i-th record.
func (t *Table) Row(i int) Record { return t.rows[i] }

// Records returns the rows in order.
func (t *Table) Records() []Record { return append([]Record(nil), t.rows...) }

// Index returns the time index, or false when no segment is indexed.
func (t *Table) Index() ([]IndexValue, bool) {
	if t.index == nil {
		return nil, false
	}
	return append([]IndexValue(nil), t.index...), true
}

// IndexKind reports the index type shared by all segments, or IndexMixed.
func (t *Table) IndexKind() IndexKind {
	if len(t.segments) == 0 {
		return IndexNone
	}
	kind := t.segments[0].IndexKind
	for _, s := range t.segments[1:] {
		if s.IndexKind != kind {
			return IndexMixed
		}
	}
	return kind
}

// Segments describes which rows came from which result.
func (t *Table) Segments() []Segment { return append([]Segment(nil), t.segments...) }

// Column returns a column as floats; nulls and strings become NaN.
func (t *Table) Column(name string) ([]float64, error) {
	if !t.HasColumn(name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownColumn, name)
	}
	out := make([]float64, len(t.rows))
	for i, row := range t.rows {
		v, _ := row.Get(name)
		f, ok := v.Float()
		if !ok {
			f = math.NaN()
		}
		out[i] = f
	}
	return out, nil
}

// Numeric exports every column whose non-null values are numbers or times.
func (t *Table) Numeric() map[string][]float64 {
	out := make(map[string][]float64)
	for _, name := range t.columns {
		if !t.isNumeric(name) {
			continue
		}
		col, _ := t.Column(name)
		out[name] = col
	}
	return out
}

// NumericColumns lists the columns Numeric would export, in table order.
func (t *Table) NumericColumns() []string {
	var names []string
	for _, name := range t.columns {
		if t.isNumeric(name) {
			names = append(names, name)
		}
	}
	return names
}

func (t *Table) isNumeric(name string) bool {
	for _, row := range t.rows {
		v, _ := row.Get(name)
		if v.Kind() == KindString {
			return false
		}
	}
	return true
}

// Rows exports the generic tabular form, one map per row with an "index" entry when indexed.
func (t *Table) Rows() []map[string]any {
	out := make([]map[string]any, len(t.rows))
	for i, row := range t.rows {
		m := make(map[string]any, len(t.columns)+1)
		for _, c := range t.columns {
			v, _ := row.Get(c)
			m[c] = v.Interface()
		}
		if t.index != nil {
			if t.index[i].Valid {
				m["index"] = t.index[i].Time
			} else {
				m["index"] = nil
			}
		}
		out[i] = m
	}
	return out
}

// WriteCSV serializes the table with a leading index column.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := append([]string{"index"}, t.columns...)
	if err := cw.Write(header); err != nil {
		return err
	}
	line := make([]string, len(header))
	for i, row := range t.rows {
		line[0] = t.indexText(i)
		for j, c := range t.columns {
			v, _ := row.Get(c)
			line[j+1] = v.Text()
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSV returns the CSV serialization as a string.
func (t *Table) CSV() (string, error) {
	var sb strings.Builder
	if err := t.WriteCSV(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func (t *Table) indexText(i int) string {
	if t.index == nil {
		return strconv.Itoa(i)
	}
	if !t.index[i].Valid {
		return ""
	}
	return t.index[i].Time.Format(time.RFC3339Nano)
}
