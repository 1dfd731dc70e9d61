package result

import (
	"math"
	"time"
)

// Raw time fields and the derived datetime columns built from them.
const (
	FieldTimestamp = "timestamp"
	FieldBeginTime = "beginTimeSeconds"
	FieldEndTime   = "endTimeSeconds"

	ColumnDatetime      = "datetime"
	ColumnBeginDateTime = "beginDateTime"
	ColumnEndDateTime   = "endDateTime"
)

type derivedColumn struct {
	source string
	name   string
	unit   time.Duration
}

var derivedColumns = []derivedColumn{
	{source: FieldTimestamp, name: ColumnDatetime, unit: time.Millisecond},
	{source: FieldBeginTime, name: ColumnBeginDateTime, unit: time.Second},
	{source: FieldEndTime, name: ColumnEndDateTime, unit: time.Second},
}

// IsTimeColumn reports whether name is a raw time field or a derived datetime column.
func IsTimeColumn(name string) bool {
	for _, d := range derivedColumns {
		if name == d.source || name == d.name {
			return true
		}
	}
	return false
}

// IndexKind identifies which source field drove a table's time index.
type IndexKind uint8

const (
	// IndexNone means rows are positionally ordered only.
	IndexNone IndexKind = iota
	// IndexTimestamp means the index is "timestamp" in epoch milliseconds.
	IndexTimestamp
	// IndexInterval means the index is "beginTimeSeconds" in epoch seconds.
	IndexInterval
	// IndexMixed is reported by merged tables whose segments disagree.
	IndexMixed
)

func (k IndexKind) String() string {
	switch k {
	case IndexTimestamp:
		return "timestamp"
	case IndexInterval:
		return "interval"
	case IndexMixed:
		return "mixed"
	default:
		return "none"
	}
}

// DetectIndexKind inspects a single record, normally the first of a result set.
func DetectIndexKind(first Record) IndexKind {
	if first.Has(FieldTimestamp) {
		return IndexTimestamp
	}
	if first.Has(FieldBeginTime) && first.Has(FieldEndTime) {
		return IndexInterval
	}
	return IndexNone
}

// Normalize converts raw records into an indexed table with derived datetime columns.
func Normalize(records []Record) (*Table, error) {
	if len(records) == 0 {
		return nil, &EmptyResultError{}
	}
	seg := normalizeSegment("", records)
	return newTable([]segmentRows{seg}), nil
}

type segmentRows struct {
	Segment
	rows  []Record
	index []IndexValue
}

func normalizeSegment(query string, records []Record) segmentRows {
	kind := DetectIndexKind(records[0])

	present := make(map[string]bool, len(derivedColumns))
	for _, rec := range records {
		for _, d := range derivedColumns {
			if rec.Has(d.source) {
				present[d.source] = true
			}
		}
	}

	seg := segmentRows{
		Segment: Segment{Query: query, Len: len(records), IndexKind: kind},
		rows:    make([]Record, len(records)),
	}
	if kind != IndexNone {
		seg.index = make([]IndexValue, len(records))
	}

	for i, rec := range records {
		if kind != IndexNone {
			seg.index[i] = indexValue(kind, rec)
		}
		out := rec
		for _, d := range derivedColumns {
			if !present[d.source] {
				continue
			}
			raw, _ := rec.Get(d.source)
			if t, ok := fromEpoch(raw, d.unit); ok {
				out = out.With(d.name, Time(t))
			} else {
				out = out.With(d.name, Null())
			}
		}
		seg.rows[i] = out
	}
	return seg
}

// indexValue resolves one row's index entry; rows missing the driving fields get a null entry.
func indexValue(kind IndexKind, rec Record) IndexValue {
	switch kind {
	case IndexTimestamp:
		v, _ := rec.Get(FieldTimestamp)
		if t, ok := fromEpoch(v, time.Millisecond); ok {
			return IndexValue{Time: t, Valid: true}
		}
	case IndexInterval:
		if !rec.Has(FieldEndTime) {
			return IndexValue{}
		}
		v, _ := rec.Get(FieldBeginTime)
		if t, ok := fromEpoch(v, time.Second); ok {
			return IndexValue{Time: t, Valid: true}
		}
	}
	return IndexValue{}
}

// fromEpoch rejects values whose nanosecond count does not fit in an int64.
func fromEpoch(v Value, unit time.Duration) (time.Time, bool) {
	if v.Kind() != KindNumber {
		return time.Time{}, false
	}
	f, _ := v.Float()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, false
	}
	limit := float64(math.MaxInt64) / float64(unit)
	if f >= limit || f <= -limit {
		return time.Time{}, false
	}
	whole := math.Floor(f)
	frac := f - whole
	nanos := int64(whole)*int64(unit) + int64(frac*float64(unit))
	return time.Unix(0, nanos).UTC(), true
}
