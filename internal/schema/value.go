package schema

import (
	"sort"
	"strconv"
	"time"
)

// Value is a single typed property value. The zero Value is invalid.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
	t    time.Time
}

func Int(v int64) Value      { return Value{kind: KindInteger, i: v} }
func String(v string) Value  { return Value{kind: KindString, s: v} }
func Bool(v bool) Value      { return Value{kind: KindBoolean, b: v} }
func Float(v float64) Value  { return Value{kind: KindFloat, f: v} }
func Date(v time.Time) Value { return Value{kind: KindDate, t: v.UTC()} }

func (v Value) Kind() Kind         { return v.kind }
func (v Value) IsValid() bool      { return v.kind != KindInvalid }
func (v Value) Int() int64         { return v.i }
func (v Value) Str() string        { return v.s }
func (v Value) Bool() bool         { return v.b }
func (v Value) Float() float64     { return v.f }
func (v Value) Time() time.Time    { return v.t }
func (v Value) Equal(o Value) bool { return v.kind == o.kind && v.Canonical() == o.Canonical() }

// Any returns the value as a plain Go value (int64, string, bool, float64 or
// time.Time) for drivers that take untyped parameters.
func (v Value) Any() any {
	switch v.kind {
	case KindInteger:
		return v.i
	case KindString:
		return v.s
	case KindBoolean:
		return v.b
	case KindFloat:
		return v.f
	case KindDate:
		return v.t
	default:
		return nil
	}
}

// Text renders the value without its kind.
func (v Value) Text() string {
	switch v.kind {
	case KindInteger:
		return strconv.FormatInt(v.i, 10)
	case KindString:
		return v.s
	case KindBoolean:
		return strconv.FormatBool(v.b)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindDate:
		return v.t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Canonical renders the value together with its kind. Two values are the
// same business key exactly when their canonical forms are equal, so stores
// use it as the key-index entry.
func (v Value) Canonical() string {
	return v.kind.String() + ":" + v.Text()
}

func (v Value) String() string { return v.Text() }

// Property is one typed property: a single value, or an ordered, possibly
// empty list of values of the same kind.
type Property struct {
	Kind        Kind
	Cardinality Cardinality
	Values      []Value
}

// SingleOf wraps v as a single-cardinality property.
func SingleOf(v Value) Property {
	return Property{Kind: v.kind, Cardinality: CardinalitySingle, Values: []Value{v}}
}

// ListOf builds a list-cardinality property. Values is never nil, so an empty
// list stays distinguishable from a missing property after encoding.
func ListOf(k Kind, vs ...Value) Property {
	out := make([]Value, 0, len(vs))
	out = append(out, vs...)
	return Property{Kind: k, Cardinality: CardinalityList, Values: out}
}

// Single returns the value of a single-cardinality property.
func (p Property) Single() (Value, bool) {
	if p.Cardinality != CardinalitySingle || len(p.Values) != 1 {
		return Value{}, false
	}
	return p.Values[0], true
}

// Type returns the declaration this property conforms to.
func (p Property) Type() PropertyType {
	return PropertyType{Kind: p.Kind, Cardinality: p.Cardinality}
}

// Any returns the scalar for single properties and a []any for lists.
func (p Property) Any() any {
	if p.Cardinality == CardinalitySingle {
		if v, ok := p.Single(); ok {
			return v.Any()
		}
		return nil
	}
	out := make([]any, len(p.Values))
	for i, v := range p.Values {
		out[i] = v.Any()
	}
	return out
}

// Record is a typed property map for one vertex or edge.
type Record map[string]Property

// Names returns the property names in sorted order.
func (r Record) Names() []string {
	out := make([]string, 0, len(r))
	for k := range r {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Map returns the record as plain Go values (see Property.Any).
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r))
	for k, p := range r {
		out[k] = p.Any()
	}
	return out
}

// Merge returns a copy of r with every property of upd replacing the
// property of the same name. Upserts use it, so reloading a row is
// idempotent for list properties too.
func (r Record) Merge(upd Record) Record {
	out := make(Record, len(r)+len(upd))
	for k, p := range r {
		out[k] = p
	}
	for k, p := range upd {
		out[k] = p
	}
	return out
}
