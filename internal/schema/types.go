// Package schema defines the property type model shared by the loader and the
// graph stores: the kinds a property value may take, single vs. list
// cardinality, the immutable per-job property type table, and a closed tagged
// variant (Value/Property/Record) for typed property values.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the closed set of property value kinds.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindInteger
	KindString
	KindBoolean
	KindFloat
	KindDate
)

// DefaultDateLayout is used for date properties that do not declare a layout.
const DefaultDateLayout = "2006-01-02"

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindString:
		return "string"
	case KindBoolean:
		return "boolean"
	case KindFloat:
		return "float"
	case KindDate:
		return "date"
	default:
		return "invalid"
	}
}

// ParseKind maps loosely-specified type names onto a Kind. The mapping is
// case-insensitive and accepts the usual aliases (long/bigint/int for
// integers, text for strings, real/double for floats).
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "int", "integer", "long", "bigint", "int64", "int8":
		return KindInteger, nil
	case "string", "text", "":
		return KindString, nil
	case "bool", "boolean":
		return KindBoolean, nil
	case "float", "real", "double", "float64":
		return KindFloat, nil
	case "date":
		return KindDate, nil
	default:
		return KindInvalid, fmt.Errorf("unknown property type %q", s)
	}
}

// Cardinality says whether a property holds one value or an ordered list.
type Cardinality uint8

const (
	CardinalitySingle Cardinality = iota
	CardinalityList
)

func (c Cardinality) String() string {
	if c == CardinalityList {
		return "list"
	}
	return "single"
}

// ParseCardinality accepts "single" (or empty) and "list".
func ParseCardinality(s string) (Cardinality, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return CardinalitySingle, nil
	case "list":
		return CardinalityList, nil
	default:
		return CardinalitySingle, fmt.Errorf("unknown cardinality %q", s)
	}
}

// PropertyType is the declared kind and cardinality of one property. Layout
// is only meaningful for KindDate.
type PropertyType struct {
	Kind        Kind
	Cardinality Cardinality
	Layout      string
}

// Compatible reports whether two declarations agree on kind and cardinality.
// Layout is a parsing detail and does not take part in the comparison.
func (p PropertyType) Compatible(o PropertyType) bool {
	return p.Kind == o.Kind && p.Cardinality == o.Cardinality
}

func (p PropertyType) String() string {
	if p.Cardinality == CardinalityList {
		return "list<" + p.Kind.String() + ">"
	}
	return p.Kind.String()
}

// Table is the immutable property type table of a load job. It is safe for
// concurrent use by any number of workers.
type Table struct {
	types map[string]PropertyType
	names []string
}

// NewTable copies m into a new Table. Every entry must carry a valid kind.
func NewTable(m map[string]PropertyType) (*Table, error) {
	t := &Table{types: make(map[string]PropertyType, len(m))}
	for name, pt := range m {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("schema: empty property name")
		}
		if pt.Kind == KindInvalid {
			return nil, fmt.Errorf("schema: property %q has no kind", name)
		}
		if pt.Kind == KindDate && pt.Layout == "" {
			pt.Layout = DefaultDateLayout
		}
		t.types[name] = pt
		t.names = append(t.names, name)
	}
	sort.Strings(t.names)
	return t, nil
}

// MustTable is NewTable for static tables in tests and examples.
func MustTable(m map[string]PropertyType) *Table {
	t, err := NewTable(m)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the declared type of name.
func (t *Table) Lookup(name string) (PropertyType, bool) {
	if t == nil {
		return PropertyType{}, false
	}
	pt, ok := t.types[name]
	return pt, ok
}

// Names returns the declared property names in sorted order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.names...)
}

// Len returns the number of declared properties.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.types)
}

// Types returns a copy of the table contents.
func (t *Table) Types() map[string]PropertyType {
	out := make(map[string]PropertyType, t.Len())
	if t == nil {
		return out
	}
	for k, v := range t.types {
		out[k] = v
	}
	return out
}
