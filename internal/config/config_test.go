package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"graphload/internal/schema"
)

const jobJSON = `{
  "name": "people",
  "store": { "kind": "postgres", "dsn": "postgres://u@h/db", "options": { "max_conns": 8 } },
  "schema": {
    "reset": true,
    "key_properties": ["id"],
    "properties": {
      "id":    { "type": "integer" },
      "email": { "type": "string", "cardinality": "list" },
      "born":  { "type": "date", "layout": "02.01.2006" }
    }
  },
  "csv": { "has_header": false, "comma": ";", "list_separator": "|", "scrub": [{ "from": "\\\"", "to": "\"\"" }] },
  "vertices": { "paths": ["data/vertices"], "label_column": "kind" },
  "edges": { "paths": ["data/edges"], "endpoint_keys": { "to": "email" } },
  "runtime": { "batch_size": 500, "max_retries": 0 }
}`

const jobYAML = `
name: people
store:
  kind: badger
  options:
    in_memory: true
    memtable_mb: 64
schema:
  properties:
    id: {type: integer}
vertices:
  paths: [v.csv]
`

func TestDecode_JSON(t *testing.T) {
	j, err := Decode([]byte(jobJSON), ".json")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if j.Store.Kind != "postgres" || j.Store.Options.Int("max_conns", 0) != 8 {
		t.Fatalf("store = %+v", j.Store)
	}
	if j.CSV.Header() {
		t.Fatal("has_header=false decoded as true")
	}
	if len(j.CSV.Scrub) != 1 || j.CSV.Scrub[0].From != `\"` || j.CSV.Scrub[0].To != `""` {
		t.Fatalf("scrub = %+v", j.CSV.Scrub)
	}
	if j.Runtime.BatchSize != 500 || j.Runtime.Retries() != 0 {
		t.Fatalf("runtime = %+v retries=%d", j.Runtime, j.Runtime.Retries())
	}
	if j.Vertices.KeyProperty != DefaultKeyProperty {
		t.Fatalf("key property = %q", j.Vertices.KeyProperty)
	}
	if j.Edges.EndpointKeys["to"] != "email" {
		t.Fatalf("endpoint keys = %v", j.Edges.EndpointKeys)
	}

	tbl, err := j.Table()
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	email, _ := tbl.Lookup("email")
	if email.Kind != schema.KindString || email.Cardinality != schema.CardinalityList {
		t.Fatalf("email = %v", email)
	}
	born, _ := tbl.Lookup("born")
	if born.Kind != schema.KindDate || born.Layout != "02.01.2006" {
		t.Fatalf("born = %+v", born)
	}
}

func TestDecode_YAML(t *testing.T) {
	j, err := Decode([]byte(jobYAML), ".yml")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !j.Store.Options.Bool("in_memory", false) || j.Store.Options.Int("memtable_mb", 0) != 64 {
		t.Fatalf("options = %v", j.Store.Options)
	}
	if !j.CSV.Header() {
		t.Fatal("header should default to true")
	}
	if len(j.Vertices.Paths) != 1 || j.Vertices.Paths[0] != "v.csv" {
		t.Fatalf("vertices = %+v", j.Vertices)
	}
}

func TestDecode_UnknownField(t *testing.T) {
	if _, err := Decode([]byte(`{"stroe": {}}`), ".json"); err == nil {
		t.Fatal("unknown JSON field accepted")
	}
	if _, err := Decode([]byte("stroe: {}\n"), ".yaml"); err == nil {
		t.Fatal("unknown YAML field accepted")
	}
}

// TestWithDefaults_EnvPrecedence checks job value > environment > default.
func TestWithDefaults_EnvPrecedence(t *testing.T) {
	t.Setenv(EnvBatchSize, "123")
	t.Setenv(EnvWorkers, "junk")
	t.Setenv(EnvMaxRetries, "4")

	j := Job{}.WithDefaults()
	if j.Runtime.BatchSize != 123 {
		t.Fatalf("batch size from env = %d", j.Runtime.BatchSize)
	}
	if j.Runtime.Workers != DefaultWorkers {
		t.Fatalf("workers with invalid env = %d", j.Runtime.Workers)
	}
	if j.Runtime.QueueDepth != 2*DefaultWorkers {
		t.Fatalf("queue depth = %d", j.Runtime.QueueDepth)
	}
	if j.Runtime.Retries() != 4 {
		t.Fatalf("retries from env = %d", j.Runtime.Retries())
	}
	if j.Name != DefaultName || j.Runtime.ProgressEvery != 1 {
		t.Fatalf("name=%q progress=%d", j.Name, j.Runtime.ProgressEvery)
	}

	zero := 0
	j = Job{Runtime: Runtime{BatchSize: 7, MaxRetries: &zero}}.WithDefaults()
	if j.Runtime.BatchSize != 7 || j.Runtime.Retries() != 0 {
		t.Fatalf("job values lost: %+v", j.Runtime)
	}
}

func TestLoad_ByExtension(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "job.yaml")
	if err := os.WriteFile(p, []byte(jobYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	j, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if j.Store.Kind != "badger" {
		t.Fatalf("kind = %q", j.Store.Kind)
	}
	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestKeyProperties(t *testing.T) {
	t.Parallel()

	j := Job{
		Schema:   Schema{KeyProperties: []string{"uid", "id"}},
		Vertices: Vertices{KeyProperty: "id"},
	}
	got := j.KeyProperties()
	if len(got) != 2 || got[0] != "id" || got[1] != "uid" {
		t.Fatalf("KeyProperties = %v", got)
	}
}

func TestOptions(t *testing.T) {
	t.Parallel()

	o := Options{
		"s": "x", "b": true, "f": float64(3), "i": 4, "n": "12",
		"d": "90s", "ds": 30,
		"sl": []any{"a", 1, "b"},
	}
	if o.String("s", "") != "x" || o.String("b", "def") != "def" {
		t.Fatal("String")
	}
	if !o.Bool("b", false) || !o.Bool("s", true) {
		t.Fatal("Bool")
	}
	if o.Int("f", 0) != 3 || o.Int("i", 0) != 4 || o.Int("n", 0) != 12 || o.Int("s", 9) != 9 {
		t.Fatal("Int")
	}
	if o.Duration("d", 0) != 90*time.Second || o.Duration("ds", 0) != 30*time.Second || o.Duration("s", time.Minute) != time.Minute {
		t.Fatal("Duration")
	}
	if sl := o.StringSlice("sl"); len(sl) != 2 {
		t.Fatalf("StringSlice = %v", sl)
	}
	var nilOpts Options
	if err := nilOpts.UnmarshalJSON([]byte("null")); err != nil || nilOpts == nil {
		t.Fatalf("null options = %v, %v", nilOpts, err)
	}
}
