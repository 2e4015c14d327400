package config

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"graphload/internal/schema"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation/lint finding for a Job.
//
// Path is a dotted path into the config (e.g. "store.kind",
// "schema.properties.email.cardinality"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// KnownStores lists the store kinds the binary links in. Unknown kinds are
// reported as warnings.
var KnownStores = []string{"badger", "memory", "mssql", "mysql", "neo4j", "postgres", "sqlite"}

// ValidateJob performs static validation of a Job. It does not mutate the
// job; callers decide whether warnings are fatal.
func ValidateJob(j Job) []Issue {
	var issues []Issue
	add := func(sev IssueSeverity, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(j.Name) == "" {
		add(SeverityWarning, "name", "name is empty; metrics will be labeled %q", DefaultName)
	}
	validateStore(j.Store, add)
	types := validateSchema(j, add)
	validateCSV(j.CSV, add)
	validateInputs(j, types, add)
	validateRuntime(j.Runtime, add)

	switch j.Metrics.Backend {
	case "", "prom", "datadog":
	default:
		add(SeverityError, "metrics.backend", "unknown metrics backend %q (want prom or datadog)", j.Metrics.Backend)
	}
	return issues
}

type addFunc func(sev IssueSeverity, path, format string, args ...any)

func validateStore(s Store, add addFunc) {
	if strings.TrimSpace(s.Kind) == "" {
		add(SeverityError, "store.kind", "store.kind must not be empty")
		return
	}
	i := sort.SearchStrings(KnownStores, s.Kind)
	if i == len(KnownStores) || KnownStores[i] != s.Kind {
		add(SeverityWarning, "store.kind", "unknown store kind %q; ensure a matching implementation exists", s.Kind)
	}
	switch s.Kind {
	case "memory":
	case "badger":
		if s.DSN == "" && !s.Options.Bool("in_memory", false) {
			add(SeverityError, "store.dsn", "badger store requires a directory or options.in_memory")
		}
	default:
		if strings.TrimSpace(s.DSN) == "" {
			add(SeverityError, "store.dsn", "%s store requires a dsn", s.Kind)
		}
	}
}

// validateSchema checks the property table and returns the types that parsed.
func validateSchema(j Job, add addFunc) map[string]schema.PropertyType {
	types := map[string]schema.PropertyType{}
	if len(j.Schema.Properties) == 0 {
		add(SeverityWarning, "schema.properties", "no properties declared; every column will be ignored")
	}
	for name, p := range j.Schema.Properties {
		path := "schema.properties." + name
		if strings.TrimSpace(name) == "" {
			add(SeverityError, "schema.properties", "property name must not be empty")
			continue
		}
		pt, err := p.PropertyType()
		if err != nil {
			add(SeverityError, path, "%v", err)
			continue
		}
		if p.Layout != "" && pt.Kind != schema.KindDate {
			add(SeverityWarning, path+".layout", "layout is only used by date properties")
		}
		types[name] = pt
	}
	for _, k := range j.KeyProperties() {
		pt, ok := types[k]
		if !ok {
			add(SeverityWarning, "schema.key_properties", "key property %q is not declared; it will be loaded as a string", k)
			continue
		}
		if pt.Cardinality == schema.CardinalityList {
			add(SeverityError, "schema.key_properties", "key property %q must be single-valued", k)
		}
	}
	return types
}

func validateCSV(c CSV, add addFunc) {
	if c.Comma != "" {
		r, n := utf8.DecodeRuneInString(c.Comma)
		if n != len(c.Comma) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			add(SeverityError, "csv.comma", "comma must be a single character other than quote or newline, got %q", c.Comma)
		}
	}
	sep := c.ListSeparator
	if sep == "" {
		sep = ";"
	}
	if sep == c.Comma {
		add(SeverityWarning, "csv.list_separator", "list separator %q equals the field delimiter; list fields must be quoted", sep)
	}
	for i, r := range c.Scrub {
		if r.From == "" {
			add(SeverityError, fmt.Sprintf("csv.scrub[%d].from", i), "must not be empty")
		}
	}
}

func validateInputs(j Job, types map[string]schema.PropertyType, add addFunc) {
	if len(j.Vertices.Paths) == 0 && len(j.Edges.Paths) == 0 {
		add(SeverityError, "vertices.paths", "nothing to load: vertices.paths and edges.paths are both empty")
	}
	for i, p := range j.Vertices.Paths {
		if strings.TrimSpace(p) == "" {
			add(SeverityError, fmt.Sprintf("vertices.paths[%d]", i), "path must not be empty")
		}
	}
	for i, p := range j.Edges.Paths {
		if strings.TrimSpace(p) == "" {
			add(SeverityError, fmt.Sprintf("edges.paths[%d]", i), "path must not be empty")
		}
	}
	if len(j.Edges.Paths) == 0 {
		return
	}
	from, to := j.Edges.FromColumn, j.Edges.ToColumn
	if from == "" {
		from = "from"
	}
	if to == "" {
		to = "to"
	}
	if from == to {
		add(SeverityError, "edges.to_column", "from and to columns must differ, both are %q", from)
	}
	for col, key := range j.Edges.EndpointKeys {
		if col != from && col != to {
			add(SeverityWarning, "edges.endpoint_keys."+col, "%q is not an endpoint column", col)
		}
		if pt, ok := types[key]; ok && pt.Cardinality == schema.CardinalityList {
			add(SeverityError, "edges.endpoint_keys."+col, "endpoint key %q must be single-valued", key)
		}
	}
	if j.Edges.CreateMissingEndpoints && j.Edges.FromLabel == "" && j.Edges.ToLabel == "" {
		add(SeverityWarning, "edges.create_missing_endpoints", "created endpoints get the default label %q", "vertex")
	}
}

func validateRuntime(r Runtime, add addFunc) {
	if r.BatchSize < 0 {
		add(SeverityError, "runtime.batch_size", "batch_size must be >= 0 (0 means default)")
	}
	if r.BatchSize > 1_000_000 {
		add(SeverityWarning, "runtime.batch_size", "batch_size %d is very large; transactions may exceed store limits", r.BatchSize)
	}
	if r.Workers < 0 {
		add(SeverityError, "runtime.workers", "workers must be >= 0 (0 means default)")
	}
	if r.QueueDepth < 0 {
		add(SeverityError, "runtime.queue_depth", "queue_depth must be >= 0 (0 means default)")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		add(SeverityError, "runtime.max_retries", "max_retries must be >= 0")
	}
	if r.BackoffMS < 0 || r.MaxBackoffMS < 0 {
		add(SeverityError, "runtime.backoff_ms", "backoff values must be >= 0")
	}
	if r.MaxBackoffMS > 0 && r.BackoffMS > r.MaxBackoffMS {
		add(SeverityWarning, "runtime.backoff_ms", "backoff_ms exceeds max_backoff_ms and will be capped")
	}
}
