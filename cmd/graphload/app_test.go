package main

import (
	"context"
	stdcsv "encoding/csv"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"graphload/internal/config"
	"graphload/internal/datasource"
	"graphload/internal/datasource/file"
	"graphload/internal/graph/memory"
	"graphload/internal/loader"
	"graphload/internal/parser/csv"
	"graphload/internal/schema"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// testJob lays out a vertex directory and an edge file under dir.
func testJob(t *testing.T, dir string) config.Job {
	t.Helper()
	writeFile(t, filepath.Join(dir, "v", "person.csv"), "id,name\n1,Alice\n2,Bob\n3,Carol\n")
	writeFile(t, filepath.Join(dir, "v", "city.csv"), "id,name\n10,Prague\n")
	writeFile(t, filepath.Join(dir, "e", "knows.csv"), "from,to,since\n1,2,2019\n2,3,2020\n1,77,2021\n")

	src := `
name: people
store: {kind: memory}
schema:
  properties:
    id: {type: integer}
    name: {type: string}
    since: {type: integer}
vertices: {paths: ["` + filepath.Join(dir, "v") + `"]}
edges: {paths: ["` + filepath.Join(dir, "e", "knows.csv") + `"]}
runtime: {batch_size: 1, workers: 2, max_retries: 0}
rejects: ` + filepath.Join(dir, "rejects.csv") + `
`
	job, err := config.Decode([]byte(src), ".yaml")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return job
}

func TestRun_VerticesThenEdges(t *testing.T) {
	dir := t.TempDir()
	job := testJob(t, dir)
	st := memory.New()
	a, err := newApp(job, st)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}

	o, err := a.run(context.Background(), loadBoth, true)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.files != 3 {
		t.Fatalf("files: got %d want 3", o.files)
	}
	// 4 vertices and 2 edges; the edge to 77 has no endpoint.
	if o.committed != 6 {
		t.Fatalf("committed: got %d want 6", o.committed)
	}
	if o.aborted != 1 {
		t.Fatalf("aborted: got %d want 1", o.aborted)
	}
	if err := o.err(false); err == nil {
		t.Fatalf("aborted batches must fail the command")
	}
	if err := o.err(true); err != nil {
		t.Fatalf("--allow-aborts: %v", err)
	}

	v, ok := st.VertexByKey("id", schema.Int(10))
	if !ok || v.Label != "city" {
		t.Fatalf("city vertex: %+v ok=%v", v, ok)
	}
	edges := st.Edges()
	if len(edges) != 2 || edges[0].Label != "knows" {
		t.Fatalf("edges: %+v", edges)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	f, err := os.Open(filepath.Join(dir, "rejects.csv"))
	if err != nil {
		t.Fatalf("open rejects: %v", err)
	}
	defer f.Close()
	rows, err := stdcsv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read rejects: %v", err)
	}
	if len(rows) != 2 || rows[1][0] != "aborted" || rows[1][2] != "4" {
		t.Fatalf("rejects: %v", rows)
	}
}

func TestRun_VerticesOnlyWithOverride(t *testing.T) {
	dir := t.TempDir()
	job := testJob(t, dir)
	job.Vertices.Paths = []string{filepath.Join(dir, "v", "person.csv")}
	job.Rejects = ""
	st := memory.New()
	a, err := newApp(job, st)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	o, err := a.run(context.Background(), loadVerticesOnly, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.files != 1 || o.committed != 3 || o.aborted != 0 {
		t.Fatalf("outcome: %s", o)
	}
	if n := len(st.Edges()); n != 0 {
		t.Fatalf("edges loaded in vertices mode: %d", n)
	}
}

func TestRun_ScrubBrokenQuotes(t *testing.T) {
	dir := t.TempDir()
	job := testJob(t, dir)
	job.Rejects = ""
	p := filepath.Join(dir, "v", "person.csv")
	writeFile(t, p, "id,name\n1,\"Al \\\"Bo\\\" Smith\"\n")
	job.Vertices.Paths = []string{p}
	job.CSV.Scrub = []csv.Replacement{{From: `\"`, To: `""`}}
	st := memory.New()
	a, err := newApp(job, st)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	o, err := a.run(context.Background(), loadVerticesOnly, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if o.committed != 1 || o.malformed != 0 {
		t.Fatalf("outcome: %s", o)
	}
	v, ok := st.VertexByKey("id", schema.Int(1))
	if !ok {
		t.Fatal("vertex 1 not loaded")
	}
	if name, _ := v.Props["name"].Single(); name.Str() != `Al "Bo" Smith` {
		t.Fatalf("name = %q", name.Str())
	}
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	job := testJob(t, dir)
	job.Rejects = ""
	a, err := newApp(job, memory.New())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o, err := a.run(ctx, loadBoth, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !o.cancelled {
		t.Fatalf("outcome not cancelled: %s", o)
	}
	if o.err(true) == nil {
		t.Fatalf("cancelled load must fail even with --allow-aborts")
	}
}

func TestGraphSchema_Labels(t *testing.T) {
	dir := t.TempDir()
	job := testJob(t, dir)
	job.Rejects = ""
	job.Schema.VertexLabels = []string{"person"}
	job.Edges.CreateMissingEndpoints = true
	job.Edges.ToLabel = "stub"
	a, err := newApp(job, memory.New())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	vsrc, err := datasource.Expand(job.Vertices.Paths, nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	esrc, err := datasource.Expand(job.Edges.Paths, nil)
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	s := a.graphSchema(vsrc, esrc)
	if want := []string{"city", "person", "stub", "vertex"}; !reflect.DeepEqual(s.VertexLabels, want) {
		t.Fatalf("vertex labels: got %v want %v", s.VertexLabels, want)
	}
	if want := []string{"knows"}; !reflect.DeepEqual(s.EdgeLabels, want) {
		t.Fatalf("edge labels: got %v want %v", s.EdgeLabels, want)
	}
	if want := []string{"id"}; !reflect.DeepEqual(s.KeyProperties, want) {
		t.Fatalf("keys: got %v want %v", s.KeyProperties, want)
	}
	if len(s.Properties) != 3 {
		t.Fatalf("properties: %v", s.Properties)
	}

	job.Vertices.Label = "thing"
	a.job = job
	if got := a.graphSchema(vsrc, nil).VertexLabels; !reflect.DeepEqual(got, []string{"person", "stub", "thing", "vertex"}) {
		t.Fatalf("explicit label: %v", got)
	}
}

func TestEdgeJob_EndpointKeys(t *testing.T) {
	dir := t.TempDir()
	job := testJob(t, dir)
	job.Rejects = ""
	job.Vertices.KeyProperty = "code"
	job.Edges.FromColumn = "src"
	job.Edges.EndpointKeys = map[string]string{"dst": "email"}
	job.Edges.ToColumn = "dst"
	job.CSV.Comma = ";"
	a, err := newApp(job, memory.New())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	ej := a.edgeJob(file.NewLocal(filepath.Join(dir, "e", "knows.csv")))
	if ej.EndpointKeys["src"] != "code" || ej.EndpointKeys["dst"] != "email" {
		t.Fatalf("endpoint keys: %v", ej.EndpointKeys)
	}
	if ej.Label != "knows" || ej.CSV.Comma != ';' || !ej.HasHeader || ej.MaxRetries != 0 {
		t.Fatalf("edge job: %+v", ej)
	}
	if ej.BatchSize != 1 || ej.Workers != 2 {
		t.Fatalf("runtime: batch=%d workers=%d", ej.BatchSize, ej.Workers)
	}
}

func TestOutcome(t *testing.T) {
	o := summarize([]*loader.Report{
		{RecordsCommitted: 1500},
		{RecordsCommitted: 2, NotAttempted: []int{3}},
	})
	if o.files != 2 || o.committed != 1502 || o.skipped != 1 {
		t.Fatalf("summarize: %+v", o)
	}
	if !strings.Contains(o.String(), "committed=1,502") {
		t.Fatalf("string: %s", o)
	}
	if o.err(false) == nil || o.err(true) != nil {
		t.Fatalf("err: strict=%v allow=%v", o.err(false), o.err(true))
	}
}

func TestInputPaths(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "inputs.txt")
	writeFile(t, list, "# vertices\na.csv\n\nhttps://example.com/b.csv\n")
	got, err := inputPaths([]string{"x.csv"}, list)
	if err != nil {
		t.Fatalf("inputPaths: %v", err)
	}
	want := []string{"x.csv", "a.csv", "https://example.com/b.csv"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}
