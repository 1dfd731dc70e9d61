package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// Kind enumerates the variants a Value can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindNumber
	KindString
	// KindTime is produced only for derived datetime columns.
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	default:
		return "null"
	}
}

// Value is a single scalar cell of a record.
type Value struct {
	kind Kind
	num  float64
	str  string
	ts   time.Time
}

// Null returns the null value.
func Null() Value { return Value{} }

// Number wraps a float.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Time wraps a decoded timestamp.
func Time(t time.Time) Value { return Value{kind: KindTime, ts: t.UTC()} }

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// Float returns the numeric payload. Times convert to fractional epoch seconds.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.num, true
	case KindTime:
		return float64(v.ts.UnixNano()) / float64(time.Second), true
	default:
		return math.NaN(), false
	}
}

// Str returns the string payload.
func (v Value) Str() (string, bool) {
	return v.str, v.kind == KindString
}

// TimeValue returns the time payload.
func (v Value) TimeValue() (time.Time, bool) {
	return v.ts, v.kind == KindTime
}

// Interface converts the value to a plain Go value (nil, float64, string, time.Time).
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		return v.str
	case KindTime:
		return v.ts
	default:
		return nil
	}
}

// Text renders the value for CSV output.
func (v Value) Text() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindString:
		return v.str
	case KindTime:
		return v.ts.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func (v Value) String() string {
	if v.kind == KindNull {
		return "null"
	}
	return v.Text()
}

// MarshalJSON encodes numbers as JSON numbers (NaN/Inf as null) and times as RFC3339.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return []byte("null"), nil
		}
		return []byte(strconv.FormatFloat(v.num, 'g', -1, 64)), nil
	case KindString:
		return json.Marshal(v.str)
	case KindTime:
		return json.Marshal(v.ts.Format(time.RFC3339Nano))
	default:
		return []byte("null"), nil
	}
}

// Field is one named cell of a record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered mapping from field name to Value.
type Record struct {
	fields []Field
	index  map[string]int
}

// NewRecord builds a record from fields; later duplicates overwrite earlier ones in place.
func NewRecord(fields ...Field) Record {
	var r Record
	for _, f := range fields {
		r.set(f.Name, f.Value)
	}
	return r
}

func (r *Record) set(name string, v Value) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[name]; ok {
		r.fields[i].Value = v
		return
	}
	r.index[name] = len(r.fields)
	r.fields = append(r.fields, Field{Name: name, Value: v})
}

// Get returns the named value.
func (r Record) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Null(), false
	}
	return r.fields[i].Value, true
}

// Has reports whether the record carries the field, even when null.
func (r Record) Has(name string) bool {
	_, ok := r.index[name]
	return ok
}

func (r Record) Len() int { return len(r.fields) }

// Fields returns a copy of the ordered fields.
func (r Record) Fields() []Field {
	return append([]Field(nil), r.fields...)
}

// Names returns field names in order.
func (r Record) Names() []string {
	names := make([]string, len(r.fields))
	for i, f := range r.fields {
		names[i] = f.Name
	}
	return names
}

// With returns a copy of the record with the field set.
func (r Record) With(name string, v Value) Record {
	out := Record{fields: append([]Field(nil), r.fields...)}
	if len(r.index) > 0 {
		out.index = make(map[string]int, len(r.index)+1)
		for k, i := range r.index {
			out.index[k] = i
		}
	}
	out.set(name, v)
	return out
}

// Map converts the record into a plain map.
func (r Record) Map() map[string]any {
	m := make(map[string]any, len(r.fields))
	for _, f := range r.fields {
		m[f.Name] = f.Value.Interface()
	}
	return m
}

// MarshalJSON keeps field order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeRecords decodes a JSON array of objects into ordered records.
// Nested objects are flattened with "."-joined keys.
func DecodeRecords(raw json.RawMessage) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, &MalformedResultError{Index: -1, Got: describeToken(tok)}
	}

	records := make([]Record, 0)
	for i := 0; dec.More(); i++ {
		tok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode result row %d: %w", i, err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '{' {
			return nil, &MalformedResultError{Index: i, Got: describeToken(tok)}
		}
		var rec Record
		if err := decodeObject(dec, "", &rec); err != nil {
			return nil, fmt.Errorf("decode result row %d: %w", i, err)
		}
		records = append(records, rec)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return records, nil
}

// decodeObject consumes object members up to and including the closing brace.
func decodeObject(dec *json.Decoder, prefix string, rec *Record) error {
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected object key %v", tok)
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		tok, err = dec.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case json.Delim:
			switch t {
			case '{':
				if err := decodeObject(dec, key, rec); err != nil {
					return err
				}
			case '[':
				text, err := captureArray(dec)
				if err != nil {
					return err
				}
				rec.set(key, String(text))
			}
		case json.Number:
			f, err := t.Float64()
			if err != nil {
				return fmt.Errorf("field %q: %w", key, err)
			}
			rec.set(key, Number(f))
		case string:
			rec.set(key, String(t))
		case bool:
			if t {
				rec.set(key, Number(1))
			} else {
				rec.set(key, Number(0))
			}
		case nil:
			rec.set(key, Null())
		}
	}
	_, err := dec.Token()
	return err
}

// captureArray re-encodes an array whose opening bracket was already consumed.
func captureArray(dec *json.Decoder) (string, error) {
	var items []any
	for dec.More() {
		var item any
		if err := dec.Decode(&item); err != nil {
			return "", err
		}
		items = append(items, item)
	}
	if _, err := dec.Token(); err != nil {
		return "", err
	}
	if items == nil {
		items = []any{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func describeToken(tok json.Token) string {
	switch t := tok.(type) {
	case json.Delim:
		if t == '[' {
			return "array"
		}
		return string(t)
	case json.Number:
		return "number"
	case string:
		return "string"
	case bool:
		return "bool"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", tok)
	}
}
