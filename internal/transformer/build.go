package transformer

import (
	"errors"
	"fmt"

	"graphload/internal/parser/csv"
	"graphload/internal/schema"
)

// BuildOptions tunes record building.
type BuildOptions struct {
	// ListSeparator splits list-cardinality fields. Defaults to ";".
	ListSeparator string
}

// Plan is a compiled property table. It is immutable and safe for concurrent
// use.
type Plan struct {
	table *schema.Table
	names []string
	cols  []column
	index map[string]int
}

// Compile prebuilds the per-property coercers of table.
func Compile(table *schema.Table, opt BuildOptions) *Plan {
	names := table.Names()
	p := &Plan{
		table: table,
		names: names,
		cols:  make([]column, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		pt, _ := table.Lookup(name)
		p.cols[i] = compileColumn(pt, opt.ListSeparator)
		p.index[name] = i
	}
	return p
}

// Table returns the table the plan was compiled from.
func (p *Plan) Table() *schema.Table { return p.table }

// Build coerces every column of raw that the table declares. Columns the table
// does not know are ignored and declared columns missing from the row are
// omitted. The first coercion failure is returned as *TypeCoercionError.
func (p *Plan) Build(raw csv.Record) (schema.Record, error) {
	out := make(schema.Record, len(p.names))
	for i, name := range p.names {
		v, ok := raw.Fields[name]
		if !ok {
			continue
		}
		prop, err := p.cols[i].coerce(v)
		if errors.Is(err, ErrEmptyValue) {
			continue
		}
		if err != nil {
			var te *TypeCoercionError
			if errors.As(err, &te) {
				te.Column = name
				te.Line = raw.Line
				return nil, te
			}
			return nil, fmt.Errorf("column %q line %d: %w", name, raw.Line, err)
		}
		out[name] = prop
	}
	return out, nil
}

// Coerce converts one raw value of a declared property. Unknown properties
// are returned as plain strings.
func (p *Plan) Coerce(name, raw string) (schema.Property, error) {
	if i, ok := p.index[name]; ok {
		return p.cols[i].coerce(raw)
	}
	return schema.SingleOf(schema.String(raw)), nil
}

// Build is the one-shot form of Compile(table, opt).Build(raw).
func Build(raw csv.Record, table *schema.Table, opt BuildOptions) (schema.Record, error) {
	return Compile(table, opt).Build(raw)
}

// MissingColumns lists declared properties that do not appear in header.
// Missing columns are not an error; the loader logs them.
func MissingColumns(header []string, table *schema.Table) []string {
	seen := make(map[string]struct{}, len(header))
	for _, h := range header {
		seen[h] = struct{}{}
	}
	var out []string
	for _, name := range table.Names() {
		if _, ok := seen[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}
