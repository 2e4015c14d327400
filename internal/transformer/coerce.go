// Package transformer converts raw CSV fields into typed, cardinality-aware
// property values.
//
// A per-table Plan is compiled once per job so the hot loop does no map
// lookups for type resolution and no repeated layout checks. Plans are
// read-only after compilation and can be shared by every worker.
package transformer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"graphload/internal/schema"
)

// DefaultListSeparator splits list-cardinality fields.
const DefaultListSeparator = ";"

// ErrEmptyValue is returned by Coerce for an empty raw string on a
// single-cardinality, non-string property. Build treats it as a missing
// column and omits the property.
var ErrEmptyValue = errors.New("empty value")

// TypeCoercionError reports a raw value that cannot be converted to its
// declared kind. Column and Line are filled in by Build.
type TypeCoercionError struct {
	Column string
	Line   int
	Raw    string
	Kind   schema.Kind
	Err    error
}

func (e *TypeCoercionError) Error() string {
	var b strings.Builder
	b.WriteString("cannot coerce ")
	b.WriteString(strconv.Quote(e.Raw))
	b.WriteString(" to ")
	b.WriteString(e.Kind.String())
	if e.Column != "" {
		fmt.Fprintf(&b, " (column %q", e.Column)
		if e.Line > 0 {
			fmt.Fprintf(&b, ", line %d", e.Line)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TypeCoercionError) Unwrap() error { return e.Err }

// Coerce converts raw according to t using the default list separator.
func Coerce(raw string, t schema.PropertyType) (schema.Property, error) {
	return compileColumn(t, DefaultListSeparator).coerce(raw)
}

// column is the compiled coercion for one declared property.
type column struct {
	pt     schema.PropertyType
	sep    string
	scalar func(s string) (schema.Value, error)
}

func compileColumn(pt schema.PropertyType, sep string) column {
	if sep == "" {
		sep = DefaultListSeparator
	}
	c := column{pt: pt, sep: sep}
	switch pt.Kind {
	case schema.KindInteger:
		c.scalar = parseInt
	case schema.KindBoolean:
		c.scalar = parseBool
	case schema.KindFloat:
		c.scalar = parseFloat
	case schema.KindDate:
		c.scalar = dateParser(pt.Layout)
	default:
		c.scalar = func(s string) (schema.Value, error) { return schema.String(s), nil }
	}
	return c
}

func (c column) coerce(raw string) (schema.Property, error) {
	if c.pt.Cardinality == schema.CardinalityList {
		return c.coerceList(raw)
	}
	if c.pt.Kind == schema.KindString {
		return schema.SingleOf(schema.String(raw)), nil
	}
	s := strings.TrimSpace(raw)
	if s == "" {
		return schema.Property{}, ErrEmptyValue
	}
	v, err := c.scalar(s)
	if err != nil {
		return schema.Property{}, &TypeCoercionError{Raw: raw, Kind: c.pt.Kind, Err: err}
	}
	return schema.SingleOf(v), nil
}

// coerceList splits raw on the separator. An empty field is an empty list;
// blank elements between separators are dropped.
func (c column) coerceList(raw string) (schema.Property, error) {
	if strings.TrimSpace(raw) == "" {
		return schema.ListOf(c.pt.Kind), nil
	}
	parts := strings.Split(raw, c.sep)
	vals := make([]schema.Value, 0, len(parts))
	for _, part := range parts {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		v, err := c.scalar(s)
		if err != nil {
			return schema.Property{}, &TypeCoercionError{Raw: s, Kind: c.pt.Kind, Err: err}
		}
		vals = append(vals, v)
	}
	return schema.ListOf(c.pt.Kind, vals...), nil
}

func parseInt(s string) (schema.Value, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) {
			return schema.Value{}, ne.Err
		}
		return schema.Value{}, err
	}
	return schema.Int(i), nil
}

// parseBool accepts only "true" and "false", case-insensitively.
func parseBool(s string) (schema.Value, error) {
	switch {
	case strings.EqualFold(s, "true"):
		return schema.Bool(true), nil
	case strings.EqualFold(s, "false"):
		return schema.Bool(false), nil
	default:
		return schema.Value{}, errors.New("want true or false")
	}
}

func parseFloat(s string) (schema.Value, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var ne *strconv.NumError
		if errors.As(err, &ne) {
			return schema.Value{}, ne.Err
		}
		return schema.Value{}, err
	}
	return schema.Float(f), nil
}

// dateParser compiles the date strategy once per column. The common
// "02.01.2006" layout takes a zero-allocation path.
func dateParser(layout string) func(string) (schema.Value, error) {
	if layout == "" {
		layout = schema.DefaultDateLayout
	}
	if layout == "02.01.2006" {
		return func(s string) (schema.Value, error) {
			if t, ok := parseDMYDate(s); ok {
				return schema.Date(t), nil
			}
			return schema.Value{}, fmt.Errorf("want date in layout %s", layout)
		}
	}
	return func(s string) (schema.Value, error) {
		t, err := time.Parse(layout, s)
		if err != nil {
			return schema.Value{}, fmt.Errorf("want date in layout %s", layout)
		}
		return schema.Date(t), nil
	}
}

// parseDMYDate parses "02.01.2006" (DD.MM.YYYY) without allocating.
func parseDMYDate(s string) (time.Time, bool) {
	if len(s) != 10 || s[2] != '.' || s[5] != '.' {
		return time.Time{}, false
	}
	d1, d0 := s[0]-'0', s[1]-'0'
	m1, m0 := s[3]-'0', s[4]-'0'
	y3, y2, y1, y0 := s[6]-'0', s[7]-'0', s[8]-'0', s[9]-'0'
	if d1 > 9 || d0 > 9 || m1 > 9 || m0 > 9 || y3 > 9 || y2 > 9 || y1 > 9 || y0 > 9 {
		return time.Time{}, false
	}
	day := int(d1)*10 + int(d0)
	mon := int(m1)*10 + int(m0)
	year := int(y3)*1000 + int(y2)*100 + int(y1)*10 + int(y0)
	if mon < 1 || mon > 12 || day < 1 || day > daysIn(time.Month(mon), year) {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(mon), day, 0, 0, 0, 0, time.UTC), true
}

func daysIn(m time.Month, year int) int {
	return time.Date(year, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
