// Package nrql assembles NRQL query strings.
package nrql

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxLimit is the largest LIMIT NRQL accepts.
const MaxLimit = 5000

// Builder accumulates clauses; the zero value selects everything from nothing.
type Builder struct {
	selects    []string
	from       []string
	where      []string
	facets     []string
	since      string
	until      string
	limit      string
	timeseries string
}

// Select starts a query with the given select expressions.
func Select(exprs ...string) *Builder {
	return &Builder{selects: exprs}
}

// Metric selects the average of one metric, aliased with its own name.
func Metric(name string) *Builder {
	return Select(MetricExpr(name))
}

// MetricExpr is the select expression used by Metric.
func MetricExpr(name string) string {
	return fmt.Sprintf("average(%s) AS %s", Identifier(name), Quote(name))
}

// From sets the event types.
func (b *Builder) From(eventTypes ...string) *Builder {
	b.from = append(b.from, eventTypes...)
	return b
}

// Where adds a raw condition. Conditions are joined with AND.
func (b *Builder) Where(cond string) *Builder {
	if strings.TrimSpace(cond) != "" {
		b.where = append(b.where, cond)
	}
	return b
}

// WhereEq adds attr = 'value' with the value quoted.
func (b *Builder) WhereEq(attr, value string) *Builder {
	return b.Where(fmt.Sprintf("%s = %s", Identifier(attr), Quote(value)))
}

// Since sets the window start, e.g. "1 hour ago".
func (b *Builder) Since(when string) *Builder {
	b.since = strings.TrimSpace(when)
	return b
}

// Until sets the window end.
func (b *Builder) Until(when string) *Builder {
	b.until = strings.TrimSpace(when)
	return b
}

// Limit caps the row count; values above MaxLimit are clamped.
func (b *Builder) Limit(n int) *Builder {
	if n > MaxLimit {
		n = MaxLimit
	}
	if n > 0 {
		b.limit = strconv.Itoa(n)
	}
	return b
}

// LimitMax asks for as many rows as NRQL allows.
func (b *Builder) LimitMax() *Builder {
	b.limit = "MAX"
	return b
}

// Facet groups by attributes.
func (b *Builder) Facet(attrs ...string) *Builder {
	for _, a := range attrs {
		b.facets = append(b.facets, Identifier(a))
	}
	return b
}

// Timeseries buckets results; an empty bucket means AUTO.
func (b *Builder) Timeseries(bucket string) *Builder {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		bucket = "AUTO"
	}
	b.timeseries = bucket
	return b
}

func (b *Builder) String() string {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if len(b.selects) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.selects, ", "))
	}
	if len(b.from) > 0 {
		sb.WriteString(" FROM ")
		sb.WriteString(strings.Join(b.from, ", "))
	}
	if len(b.where) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.where, " AND "))
	}
	if len(b.facets) > 0 {
		sb.WriteString(" FACET ")
		sb.WriteString(strings.Join(b.facets, ", "))
	}
	if b.since != "" {
		sb.WriteString(" SINCE ")
		sb.WriteString(b.since)
	}
	if b.until != "" {
		sb.WriteString(" UNTIL ")
		sb.WriteString(b.until)
	}
	if b.limit != "" {
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.limit)
	}
	if b.timeseries != "" {
		sb.WriteString(" TIMESERIES ")
		sb.WriteString(b.timeseries)
	}
	return sb.String()
}

// Quote renders a single-quoted string literal.
func Quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

// Identifier backticks names that are not plain dotted identifiers.
func Identifier(name string) string {
	if isPlain(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "") + "`"
}

func isPlain(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_' || r == '.':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
