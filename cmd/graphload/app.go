package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"graphload/internal/config"
	"graphload/internal/datasource"
	"graphload/internal/datasource/httpds"
	"graphload/internal/graph"
	"graphload/internal/loader"
	"graphload/internal/metrics"
	"graphload/internal/metrics/datadog"
	"graphload/internal/metrics/prompush"
	"graphload/internal/parser/csv"
	"graphload/internal/rejects"
	"graphload/internal/schema"
	"graphload/internal/transformer"
)

// loadJob reads the job file, applies edit and validates the result. Issues
// go to stderr; errors stop the command.
func loadJob(path string, edit func(*config.Job)) (config.Job, error) {
	job, err := config.Load(path)
	if err != nil {
		return config.Job{}, err
	}
	if edit != nil {
		edit(&job)
	}
	issues := config.ValidateJob(job)
	printIssues(os.Stderr, issues)
	if config.HasErrors(issues) {
		return config.Job{}, fmt.Errorf("job %s has configuration errors", path)
	}
	return job, nil
}

func printIssues(w io.Writer, issues []config.Issue) {
	for _, iss := range issues {
		fmt.Fprintf(w, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
}

// setupMetrics installs the backend named by the job. The returned func
// flushes it.
func setupMetrics(job config.Job) (func(), error) {
	var b metrics.Backend
	switch job.Metrics.Backend {
	case "":
		return func() {}, nil
	case "prom":
		url := job.Metrics.Options.String("url", os.Getenv("PUSHGATEWAY_URL"))
		if url == "" {
			url = "http://localhost:9091"
		}
		pb, err := prompush.NewBackend(job.Name, url)
		if err != nil {
			return nil, err
		}
		b = pb
	case "datadog":
		addr := job.Metrics.Options.String("addr", os.Getenv("DD_DOGSTATSD_ADDR"))
		if addr == "" {
			addr = "127.0.0.1:8125"
		}
		db, err := datadog.NewBackend(datadog.Config{
			Addr:       addr,
			Namespace:  job.Metrics.Options.String("namespace", "graphload."),
			GlobalTags: job.Metrics.Options.StringSlice("tags"),
		})
		if err != nil {
			return nil, err
		}
		b = db
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", job.Metrics.Backend)
	}
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush failed: %v", err)
		}
	}, nil
}

// app is one job bound to an open store.
type app struct {
	job     config.Job
	store   graph.Store
	table   *schema.Table
	rejects *rejects.Log
	http    *httpds.Client
	loader  *loader.Loader
}

// openApp opens the store and reject log of job.
func openApp(ctx context.Context, job config.Job) (*app, error) {
	st, err := graph.Open(ctx, graph.Config{Kind: job.Store.Kind, DSN: job.Store.DSN, Options: job.Store.Options})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", job.Store.Kind, err)
	}
	a, err := newApp(job, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

// newApp binds job to an already opened store.
func newApp(job config.Job, st graph.Store) (*app, error) {
	tbl, err := job.Table()
	if err != nil {
		return nil, err
	}
	a := &app{
		job:   job,
		store: st,
		table: tbl,
		http:  httpds.NewClient(httpds.Config{MaxRetries: 3, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second}),
	}
	opts := []loader.Option{loader.WithJobName(job.Name), loader.WithProgressEvery(job.Runtime.ProgressEvery)}
	if job.Rejects != "" {
		rl, err := rejects.Create(job.Rejects)
		if err != nil {
			return nil, err
		}
		a.rejects = rl
		opts = append(opts, loader.WithRejects(rl))
	}
	a.loader = loader.New(st, opts...)
	return a, nil
}

func (a *app) Close() error {
	var errs []error
	if a.rejects != nil {
		if s := a.rejects.Summary(); s != "" {
			log.Printf("rejects: file=%s %s", a.job.Rejects, s)
		}
		errs = append(errs, a.rejects.Close())
	}
	errs = append(errs, a.store.Close())
	return errors.Join(errs...)
}

// graphSchema is the declaration derived from the job. Labels not named
// explicitly come from the file stems of label-less inputs.
func (a *app) graphSchema(vsrc, esrc []datasource.Source) graph.Schema {
	s := graph.Schema{
		Properties:    a.table.Types(),
		KeyProperties: a.job.KeyProperties(),
	}
	vl := append([]string(nil), a.job.Schema.VertexLabels...)
	vl = appendLabel(vl, a.job.Vertices.Label, a.job.Vertices.LabelColumn, vsrc)
	if a.job.Edges.CreateMissingEndpoints {
		vl = append(vl, orDefault(a.job.Edges.FromLabel, loader.DefaultVertexLabel), orDefault(a.job.Edges.ToLabel, loader.DefaultVertexLabel))
	}
	el := append([]string(nil), a.job.Schema.EdgeLabels...)
	el = appendLabel(el, a.job.Edges.Label, "", esrc)
	s.VertexLabels = uniq(vl)
	s.EdgeLabels = uniq(el)
	return s
}

func appendLabel(dst []string, label, labelColumn string, srcs []datasource.Source) []string {
	if label != "" {
		return append(dst, label)
	}
	if labelColumn != "" {
		return dst
	}
	for _, s := range srcs {
		if st := s.Stem(); st != "" {
			dst = append(dst, st)
		}
	}
	return dst
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func (a *app) bootstrap(ctx context.Context, vsrc, esrc []datasource.Source, reset bool) error {
	start := time.Now()
	err := graph.Bootstrap(ctx, a.store, a.graphSchema(vsrc, esrc), reset)
	metrics.RecordStep(a.job.Name, "schema", err, time.Since(start))
	return err
}

// baseJob maps the shared job settings for one source.
func (a *app) baseJob(src datasource.Source) loader.Job {
	rt := a.job.Runtime
	c := a.job.CSV
	var comma rune
	if c.Comma != "" {
		comma, _ = utf8.DecodeRuneInString(c.Comma)
	}
	return loader.Job{
		File:           src.Name(),
		HasHeader:      c.Header(),
		BatchSize:      rt.BatchSize,
		Workers:        rt.Workers,
		MaxRetries:     rt.Retries(),
		QueueDepth:     rt.QueueDepth,
		Backoff:        time.Duration(rt.BackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(rt.MaxBackoffMS) * time.Millisecond,
		PartitionByKey: rt.PartitionByKey,
		Table:          a.table,
		CSV: csv.Options{
			Comma:       comma,
			TrimSpace:   c.TrimSpace,
			LazyQuotes:  c.LazyQuotes,
			HeaderMap:   c.HeaderMap,
			FoldHeaders: c.FoldHeaders,
			Scrub:       c.Scrub,
		},
		Build: transformer.BuildOptions{ListSeparator: c.ListSeparator},
	}
}

func (a *app) vertexJob(src datasource.Source) loader.VertexJob {
	v := a.job.Vertices
	return loader.VertexJob{
		Job:         a.baseJob(src),
		Label:       orDefault(v.Label, src.Stem()),
		LabelColumn: v.LabelColumn,
		KeyProperty: v.KeyProperty,
	}
}

func (a *app) edgeJob(src datasource.Source) loader.EdgeJob {
	e := a.job.Edges
	from := orDefault(e.FromColumn, loader.DefaultFromColumn)
	to := orDefault(e.ToColumn, loader.DefaultToColumn)
	keys := map[string]string{from: a.job.Vertices.KeyProperty, to: a.job.Vertices.KeyProperty}
	for col, k := range e.EndpointKeys {
		keys[col] = k
	}
	return loader.EdgeJob{
		Job:                    a.baseJob(src),
		Label:                  orDefault(e.Label, src.Stem()),
		LabelColumn:            e.LabelColumn,
		FromColumn:             from,
		ToColumn:               to,
		EndpointKeys:           keys,
		CreateMissingEndpoints: e.CreateMissingEndpoints,
		FromLabel:              e.FromLabel,
		ToLabel:                e.ToLabel,
	}
}

// loadFunc loads one opened source.
type loadFunc func(ctx context.Context, r io.Reader, src datasource.Source) (*loader.Report, error)

func (a *app) loadVertexSource(ctx context.Context, r io.Reader, src datasource.Source) (*loader.Report, error) {
	return a.loader.LoadVertices(ctx, r, a.vertexJob(src))
}

func (a *app) loadEdgeSource(ctx context.Context, r io.Reader, src datasource.Source) (*loader.Report, error) {
	return a.loader.LoadEdges(ctx, r, a.edgeJob(src))
}

// loadAll loads the sources one after another. It stops at the first fatal
// error or cancellation; reports gathered so far are returned either way.
func (a *app) loadAll(ctx context.Context, step string, srcs []datasource.Source, load loadFunc) ([]*loader.Report, error) {
	var reports []*loader.Report
	for _, src := range srcs {
		if err := ctx.Err(); err != nil {
			log.Printf("%s: cancelled before file=%s", step, src.Name())
			break
		}
		start := time.Now()
		rep, err := a.loadSource(ctx, src, load)
		metrics.RecordStep(a.job.Name, step, err, time.Since(start))
		if rep != nil {
			reports = append(reports, rep)
		}
		if err != nil {
			return reports, fmt.Errorf("%s %s: %w", step, src.Name(), err)
		}
		if rep.Cancelled {
			break
		}
	}
	return reports, nil
}

func (a *app) loadSource(ctx context.Context, src datasource.Source, load loadFunc) (*loader.Report, error) {
	rc, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return load(ctx, rc, src)
}

// outcome sums the reports of a command.
type outcome struct {
	files     int
	committed int64
	aborted   int
	skipped   int
	malformed int
	cancelled bool
}

func summarize(reports []*loader.Report) outcome {
	var o outcome
	for _, r := range reports {
		o.files++
		o.committed += r.RecordsCommitted
		o.aborted += len(r.BatchesAborted)
		o.skipped += len(r.NotAttempted)
		o.malformed += r.MalformedRows
		o.cancelled = o.cancelled || r.Cancelled
	}
	return o
}

func (o outcome) String() string {
	return fmt.Sprintf("files=%d committed=%s aborted_batches=%d not_attempted=%d malformed=%d cancelled=%t",
		o.files, humanize.Comma(o.committed), o.aborted, o.skipped, o.malformed, o.cancelled)
}

// err turns an incomplete load into a command failure.
func (o outcome) err(allowAborts bool) error {
	switch {
	case o.cancelled:
		return fmt.Errorf("load cancelled")
	case (o.aborted > 0 || o.skipped > 0) && !allowAborts:
		return fmt.Errorf("%d batches aborted, %d not attempted", o.aborted, o.skipped)
	}
	return nil
}

// logCounts prints store totals when the store can count.
func (a *app) logCounts(ctx context.Context) {
	c, ok := a.store.(graph.Counter)
	if !ok {
		return
	}
	nv, err := c.CountVertices(ctx)
	if err != nil {
		log.Printf("graph: count vertices: %v", err)
		return
	}
	ne, err := c.CountEdges(ctx)
	if err != nil {
		log.Printf("graph: count edges: %v", err)
		return
	}
	log.Printf("graph: store=%s vertices=%s edges=%s", a.job.Store.Kind, humanize.Comma(nv), humanize.Comma(ne))
}
