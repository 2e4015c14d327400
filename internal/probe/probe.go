// Package probe samples a CSV file and proposes the property type table of a
// job: the narrowest kind every sampled value of a column coerces to, and
// list cardinality for columns whose values carry the list separator.
//
// Every candidate is checked with the loader's own coercer, so a proposal
// loads its sample without type errors.
package probe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	"graphload/internal/config"
	"graphload/internal/parser/csv"
	"graphload/internal/schema"
	"graphload/internal/transformer"
)

// DefaultMaxRows bounds the sample.
const DefaultMaxRows = 10000

// dateLayouts are tried in order; the first layout matching every value of a
// column wins.
var dateLayouts = []string{
	"02.01.2006",
	"2006-01-02",
	"2006/01/02",
	"02/01/2006",
	"01/02/2006",
	"2.1.2006",
}

// Options control sampling.
type Options struct {
	// MaxRows is the number of data rows inspected. Defaults to
	// DefaultMaxRows.
	MaxRows int

	Comma rune

	// ListSeparator marks list values. Defaults to ";".
	ListSeparator string

	// FoldHeaders proposes folded ASCII names (csv.FoldName) and records the
	// source header in the header map.
	FoldHeaders bool
}

// Column is the proposal for one header.
type Column struct {
	Name     string
	Source   string
	Property config.Property

	// NonEmpty counts sampled non-empty values.
	NonEmpty int
}

// Proposal is the outcome of Sample.
type Proposal struct {
	Columns   []Column
	Rows      int
	Malformed int
}

// Sample reads up to opt.MaxRows rows of r and infers a property per column.
// Malformed rows are counted and skipped.
func Sample(r io.Reader, opt Options) (Proposal, error) {
	if opt.MaxRows <= 0 {
		opt.MaxRows = DefaultMaxRows
	}
	if opt.ListSeparator == "" {
		opt.ListSeparator = transformer.DefaultListSeparator
	}
	dec := csv.NewDecoder(r, csv.Options{HasHeader: true, Comma: opt.Comma, LazyQuotes: true})
	header, err := dec.Header()
	if errors.Is(err, io.EOF) {
		return Proposal{}, nil
	}
	if err != nil {
		return Proposal{}, fmt.Errorf("probe: %w", err)
	}
	values := make(map[string][]string, len(header))
	var p Proposal
	for p.Rows < opt.MaxRows {
		rec, err := dec.Next()
		var me *csv.MalformedRowError
		if errors.As(err, &me) {
			p.Malformed++
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Proposal{}, fmt.Errorf("probe: %w", err)
		}
		p.Rows++
		for _, h := range header {
			if v := strings.TrimSpace(rec.Fields[h]); v != "" {
				values[h] = append(values[h], v)
			}
		}
	}
	for _, h := range header {
		name := h
		if opt.FoldHeaders {
			name = csv.FoldName(h)
		}
		p.Columns = append(p.Columns, Column{
			Name:     name,
			Source:   h,
			Property: infer(values[h], opt.ListSeparator),
			NonEmpty: len(values[h]),
		})
	}
	return p, nil
}

// infer picks the property for the non-empty values of one column.
func infer(vals []string, sep string) config.Property {
	card := schema.CardinalitySingle
	elems := vals
	for _, v := range vals {
		if strings.Contains(v, sep) {
			card = schema.CardinalityList
			break
		}
	}
	if card == schema.CardinalityList {
		elems = elems[:0:0]
		for _, v := range vals {
			for _, e := range strings.Split(v, sep) {
				if e = strings.TrimSpace(e); e != "" {
					elems = append(elems, e)
				}
			}
		}
	}
	k, layout := inferKind(elems)
	p := config.Property{Type: k.String(), Layout: layout}
	if card == schema.CardinalityList {
		p.Cardinality = card.String()
	}
	return p
}

func inferKind(vals []string) (schema.Kind, string) {
	if len(vals) == 0 {
		return schema.KindString, ""
	}
	for _, k := range []schema.Kind{schema.KindInteger, schema.KindBoolean, schema.KindFloat} {
		if allCoerce(vals, schema.PropertyType{Kind: k}) {
			return k, ""
		}
	}
	for _, layout := range dateLayouts {
		if allCoerce(vals, schema.PropertyType{Kind: schema.KindDate, Layout: layout}) {
			return schema.KindDate, layout
		}
	}
	return schema.KindString, ""
}

func allCoerce(vals []string, pt schema.PropertyType) bool {
	for _, v := range vals {
		if _, err := transformer.Coerce(v, pt); err != nil {
			return false
		}
	}
	return true
}

// Job returns a job skeleton carrying the proposed schema. Store and inputs
// are left for the user to fill in.
func (p Proposal) Job(name string) config.Job {
	j := config.Job{
		Name:   name,
		Store:  config.Store{Kind: "badger", DSN: "./graph.db"},
		Schema: config.Schema{Properties: map[string]config.Property{}},
	}
	for _, c := range p.Columns {
		j.Schema.Properties[c.Name] = c.Property
		if c.Name != c.Source {
			if j.CSV.HeaderMap == nil {
				j.CSV.HeaderMap = map[string]string{}
			}
			j.CSV.HeaderMap[c.Source] = c.Name
		}
	}
	return j
}

// YAML renders the job skeleton.
func (p Proposal) YAML(name string) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(p.Job(name)); err != nil {
		return nil, fmt.Errorf("probe: encode yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
