// Package config defines the job file of graphload: which store to write to,
// the property type table, the CSV dialect, the vertex and edge inputs and
// the runtime knobs of the loader. Files are JSON or YAML, chosen by
// extension.
//
// Example (trimmed):
//
//	{
//	  "name":    "people",
//	  "store":   { "kind": "badger", "dsn": "./graph.db" },
//	  "schema":  {
//	    "reset": true,
//	    "key_properties": ["id"],
//	    "properties": {
//	      "id":    { "type": "integer" },
//	      "email": { "type": "string", "cardinality": "list" }
//	    }
//	  },
//	  "vertices": { "paths": ["data/vertices"] },
//	  "edges":    { "paths": ["data/edges"] },
//	  "runtime":  { "batch_size": 20000, "workers": 10 }
//	}
package config

import (
	"fmt"
	"sort"
	"strings"

	"graphload/internal/parser/csv"
	"graphload/internal/schema"
)

// Job is the top-level object decoded from a job file.
type Job struct {
	// Name labels metrics and log lines. Defaults to "graphload".
	Name string `json:"name" yaml:"name,omitempty"`

	Store    Store    `json:"store" yaml:"store,omitempty"`
	Schema   Schema   `json:"schema" yaml:"schema,omitempty"`
	CSV      CSV      `json:"csv" yaml:"csv,omitempty"`
	Vertices Vertices `json:"vertices" yaml:"vertices,omitempty"`
	Edges    Edges    `json:"edges" yaml:"edges,omitempty"`
	Runtime  Runtime  `json:"runtime" yaml:"runtime,omitempty"`

	// Rejects is the path of the reject log. Empty disables it.
	Rejects string `json:"rejects" yaml:"rejects,omitempty"`

	Metrics Metrics `json:"metrics" yaml:"metrics,omitempty"`
}

// Store selects the graph backend.
type Store struct {
	// Kind is a registered backend: memory, badger, sqlite, postgres, mysql,
	// mssql or neo4j.
	Kind string `json:"kind" yaml:"kind,omitempty"`

	// DSN is the connection string, or the directory/file for embedded
	// stores.
	DSN string `json:"dsn" yaml:"dsn,omitempty"`

	// Options holds backend knobs such as pool sizes or in_memory.
	Options Options `json:"options" yaml:"options,omitempty"`
}

// Schema is declared on the store before any file is loaded.
type Schema struct {
	// Reset drops all graph data before declaring the schema.
	Reset bool `json:"reset" yaml:"reset,omitempty"`

	// KeyProperties get a unique key index. The vertex key property is
	// added when missing.
	KeyProperties []string `json:"key_properties" yaml:"key_properties,omitempty"`

	Properties   map[string]Property `json:"properties" yaml:"properties,omitempty"`
	VertexLabels []string            `json:"vertex_labels" yaml:"vertex_labels,omitempty"`
	EdgeLabels   []string            `json:"edge_labels" yaml:"edge_labels,omitempty"`
}

// Property declares one property: type is integer, string, boolean, float
// or date; cardinality is single (default) or list.
type Property struct {
	Type        string `json:"type" yaml:"type,omitempty"`
	Cardinality string `json:"cardinality,omitempty" yaml:"cardinality,omitempty"`
	Layout      string `json:"layout,omitempty" yaml:"layout,omitempty"`
}

// CSV is the input dialect shared by every file of a job.
type CSV struct {
	// HasHeader defaults to true.
	HasHeader     *bool             `json:"has_header" yaml:"has_header,omitempty"`
	Comma         string            `json:"comma" yaml:"comma,omitempty"`
	TrimSpace     bool              `json:"trim_space" yaml:"trim_space,omitempty"`
	LazyQuotes    bool              `json:"lazy_quotes" yaml:"lazy_quotes,omitempty"`
	FoldHeaders   bool              `json:"fold_headers" yaml:"fold_headers,omitempty"`
	HeaderMap     map[string]string `json:"header_map" yaml:"header_map,omitempty"`
	ListSeparator string            `json:"list_separator" yaml:"list_separator,omitempty"`

	// Scrub rewrites byte sequences before parsing, e.g. backslash-escaped
	// quotes from exports that do not double them.
	Scrub []csv.Replacement `json:"scrub" yaml:"scrub,omitempty"`
}

// Header reports whether the first row of every file is a header.
func (c CSV) Header() bool { return c.HasHeader == nil || *c.HasHeader }

// Vertices lists the vertex inputs. A path is a CSV file or a directory
// walked recursively.
type Vertices struct {
	Paths       []string `json:"paths" yaml:"paths,omitempty"`
	Label       string   `json:"label" yaml:"label,omitempty"`
	LabelColumn string   `json:"label_column" yaml:"label_column,omitempty"`
	KeyProperty string   `json:"key_property" yaml:"key_property,omitempty"`
}

// Edges lists the edge inputs.
type Edges struct {
	Paths       []string `json:"paths" yaml:"paths,omitempty"`
	Label       string   `json:"label" yaml:"label,omitempty"`
	LabelColumn string   `json:"label_column" yaml:"label_column,omitempty"`
	FromColumn  string   `json:"from_column" yaml:"from_column,omitempty"`
	ToColumn    string   `json:"to_column" yaml:"to_column,omitempty"`

	// EndpointKeys maps an endpoint column to the key property it refers
	// to. Unmapped columns use the vertex key property.
	EndpointKeys map[string]string `json:"endpoint_keys" yaml:"endpoint_keys,omitempty"`

	CreateMissingEndpoints bool   `json:"create_missing_endpoints" yaml:"create_missing_endpoints,omitempty"`
	FromLabel              string `json:"from_label" yaml:"from_label,omitempty"`
	ToLabel                string `json:"to_label" yaml:"to_label,omitempty"`
}

// Runtime controls batching, concurrency and retries. Zero values are
// filled from GRAPHLOAD_* environment variables, then defaults.
type Runtime struct {
	BatchSize  int `json:"batch_size" yaml:"batch_size,omitempty"`
	Workers    int `json:"workers" yaml:"workers,omitempty"`
	QueueDepth int `json:"queue_depth" yaml:"queue_depth,omitempty"`

	// MaxRetries is a pointer so an explicit 0 disables retries.
	MaxRetries *int `json:"max_retries" yaml:"max_retries,omitempty"`

	BackoffMS      int  `json:"backoff_ms" yaml:"backoff_ms,omitempty"`
	MaxBackoffMS   int  `json:"max_backoff_ms" yaml:"max_backoff_ms,omitempty"`
	PartitionByKey bool `json:"partition_by_key" yaml:"partition_by_key,omitempty"`

	// ProgressEvery logs every n-th committed batch. Defaults to 1.
	ProgressEvery int `json:"progress_every" yaml:"progress_every,omitempty"`
}

// Metrics selects an optional metrics backend: "prom" (Pushgateway) or
// "datadog" (DogStatsD).
type Metrics struct {
	Backend string  `json:"backend" yaml:"backend,omitempty"`
	Options Options `json:"options" yaml:"options,omitempty"`
}

// Table builds the property type table of the job.
func (j Job) Table() (*schema.Table, error) {
	m := make(map[string]schema.PropertyType, len(j.Schema.Properties))
	for name, p := range j.Schema.Properties {
		pt, err := p.PropertyType()
		if err != nil {
			return nil, fmt.Errorf("schema.properties.%s: %w", name, err)
		}
		m[name] = pt
	}
	return schema.NewTable(m)
}

// PropertyType parses the declaration.
func (p Property) PropertyType() (schema.PropertyType, error) {
	k, err := schema.ParseKind(strings.TrimSpace(p.Type))
	if err != nil {
		return schema.PropertyType{}, err
	}
	pt := schema.PropertyType{Kind: k, Layout: p.Layout}
	if c := strings.TrimSpace(p.Cardinality); c != "" {
		if pt.Cardinality, err = schema.ParseCardinality(c); err != nil {
			return schema.PropertyType{}, err
		}
	}
	return pt, nil
}

// KeyProperties returns the declared key properties plus the vertex key
// property, sorted and without duplicates.
func (j Job) KeyProperties() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, k := range append(append([]string(nil), j.Schema.KeyProperties...), j.Vertices.KeyProperty) {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
