// Package loader is the concurrent bulk loader. It reads a CSV file, groups
// its rows into batches, and commits every batch in its own graph
// transaction on a fixed pool of workers, retrying failed batches.
//
// A batch commits completely or not at all. Row-level and batch-level
// failures end up in the Report; only connection failures, schema
// mismatches and unreadable input stop a job with an error.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"graphload/internal/graph"
	"graphload/internal/metrics"
	"graphload/internal/parser/csv"
	"graphload/internal/rejects"
	"graphload/internal/schema"
	"graphload/internal/transformer"
)

// RejectSink receives rows that were not committed. *rejects.Log implements
// it.
type RejectSink interface {
	Add(reason, file string, line int, cause error, raw []string)
}

// Loader loads CSV files into a graph store. It does not open or close the
// store. A Loader is safe for sequential reuse across jobs.
type Loader struct {
	store         graph.Store
	rejects       RejectSink
	jobName       string
	progressEvery int
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option configures a Loader.
type Option func(*Loader)

// WithRejects writes malformed rows and the rows of aborted or unattempted
// batches to sink.
func WithRejects(sink RejectSink) Option { return func(l *Loader) { l.rejects = sink } }

// WithJobName sets the job label used in metrics.
func WithJobName(name string) Option { return func(l *Loader) { l.jobName = name } }

// WithProgressEvery logs a progress line every n committed batches; 0
// disables progress lines.
func WithProgressEvery(n int) Option { return func(l *Loader) { l.progressEvery = n } }

// New returns a Loader writing to store.
func New(store graph.Store, opts ...Option) *Loader {
	l := &Loader{
		store:         store,
		jobName:       "graphload",
		progressEvery: 1,
		now:           time.Now,
		sleep:         sleepCtx,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// applyFunc writes one record inside tx.
type applyFunc func(ctx context.Context, tx graph.Tx, rec csv.Record) error

// plan describes one load for the shared engine.
type plan struct {
	job    Job
	kind   string
	keyCol string // partitioning column, may be empty
	build  *transformer.Plan
	apply  applyFunc
}

// isFatal reports errors that end the whole job.
func isFatal(err error) bool {
	return graph.IsConnection(err) || schema.IsMismatch(err)
}

// run is the engine shared by LoadVertices and LoadEdges.
func (l *Loader) run(ctx context.Context, r io.Reader, p plan) (*Report, error) {
	start := l.now()
	job := p.job
	rep := &Report{RunID: uuid.NewString(), File: job.File, Kind: p.kind}
	t := newTally()

	finish := func(err error) (*Report, error) {
		t.fill(rep)
		rep.Duration = l.now().Sub(start)
		rep.Cancelled = ctx.Err() != nil
		l.logSummary(rep)
		metrics.RecordRecords(l.jobName, "committed", rep.RecordsCommitted)
		metrics.RecordRecords(l.jobName, "malformed", int64(rep.MalformedRows))
		for range rep.NotAttempted {
			metrics.RecordBatch(l.jobName, "not_attempted")
		}
		metrics.RecordStep(l.jobName, p.kind, err, rep.Duration)
		return rep, err
	}

	dec := csv.NewDecoder(r, job.CSV)
	header, err := dec.Header()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return finish(nil)
		}
		return finish(fmt.Errorf("loader: %s: %w", job.File, err))
	}
	if job.HasHeader {
		rep.MissingColumns = transformer.MissingColumns(header, job.Table)
		if len(rep.MissingColumns) > 0 {
			log.Printf("loader: file=%s kind=%s properties_not_in_header=%s", job.File, p.kind, strings.Join(rep.MissingColumns, ","))
		}
	}
	onMalformed := func(me *csv.MalformedRowError) {
		t.addMalformed(me.Line, me)
		if l.rejects != nil {
			l.rejects.Add(rejects.ReasonMalformed, job.File, me.Line, me, me.Raw)
		}
	}

	// Peek the first well-formed record for the schema pre-flight.
	var first *csv.Record
	var readErr error
	for {
		rec, err := dec.Next()
		var me *csv.MalformedRowError
		if errors.As(err, &me) {
			onMalformed(me)
			continue
		}
		if err != nil {
			readErr = err
			break
		}
		first = &rec
		break
	}
	if first == nil {
		if done(readErr) {
			return finish(nil)
		}
		return finish(fmt.Errorf("loader: %s: %w", job.File, readErr))
	}
	if err := l.preflight(ctx, p, *first); err != nil {
		return finish(err)
	}
	next := func() (csv.Record, error) {
		if first != nil {
			rec := *first
			first = nil
			return rec, nil
		}
		return dec.Next()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queues := make([]chan *Batch, 1)
	if job.PartitionByKey && p.keyCol != "" && job.Workers > 1 {
		queues = make([]chan *Batch, job.Workers)
	}
	depth := job.QueueDepth / len(queues)
	if depth < 1 {
		depth = 1
	}
	for i := range queues {
		queues[i] = make(chan *Batch, depth)
	}

	// Workers drain their queue even after a fatal error so the producer
	// never blocks; skipped batches are reported as not attempted.
	var g errgroup.Group
	for w := 0; w < job.Workers; w++ {
		q := queues[w%len(queues)]
		g.Go(func() error {
			var fatal error
			for b := range q {
				if runCtx.Err() != nil {
					l.skip(p, b)
					continue
				}
				if err := l.process(ctx, runCtx, p, t, b); err != nil {
					fatal = err
					cancel()
				}
			}
			return fatal
		})
	}

	var prodErr error
	if len(queues) == 1 {
		prodErr = l.produce(runCtx, p, next, onMalformed, t, queues[0])
	} else {
		prodErr = l.producePartitioned(runCtx, p, next, onMalformed, t, queues)
	}
	for _, q := range queues {
		close(q)
	}
	werr := g.Wait()

	switch {
	case werr != nil:
		return finish(werr)
	case prodErr != nil:
		return finish(fmt.Errorf("loader: %s: %w", job.File, prodErr))
	}
	return finish(nil)
}

// preflight compares the first record against the store's declarations.
// A record that fails to build is left to its batch.
func (l *Loader) preflight(ctx context.Context, p plan, rec csv.Record) error {
	props, err := p.build.Build(rec)
	if err != nil {
		return nil
	}
	if err := graph.Preflight(ctx, l.store, props); err != nil {
		return fmt.Errorf("loader: %s: %w", p.job.File, err)
	}
	return nil
}

// produce feeds batches from an Accumulator into q until the input ends, ctx
// is cancelled or a read error occurs.
func (l *Loader) produce(ctx context.Context, p plan, next func() (csv.Record, error), onMalformed func(*csv.MalformedRowError), t *tally, q chan<- *Batch) error {
	acc := NewAccumulator(next, p.job.BatchSize)
	acc.OnMalformed(onMalformed)
	for ctx.Err() == nil {
		b, err := acc.Next()
		if err != nil {
			if done(err) {
				return nil
			}
			return err
		}
		t.markProduced(b)
		select {
		case q <- b:
		case <-ctx.Done():
			l.skip(p, b)
			return nil
		}
	}
	return nil
}

// producePartitioned keeps one open batch per queue and routes each record
// by the xxh3 hash of its key column. Batch indexes follow emission order.
// On cancellation the records still held in open batches are reported as
// not attempted.
func (l *Loader) producePartitioned(ctx context.Context, p plan, next func() (csv.Record, error), onMalformed func(*csv.MalformedRowError), t *tally, qs []chan *Batch) error {
	size := p.job.BatchSize
	open := make([][]csv.Record, len(qs))
	index := 0
	take := func(i int) *Batch {
		b := &Batch{Index: index, Records: open[i]}
		index++
		open[i] = make([]csv.Record, 0, size)
		t.markProduced(b)
		return b
	}
	emit := func(i int) bool {
		if len(open[i]) == 0 {
			return true
		}
		b := take(i)
		select {
		case qs[i] <- b:
			return true
		case <-ctx.Done():
			l.skip(p, b)
			return false
		}
	}
	drop := func() {
		for i := range open {
			if len(open[i]) > 0 {
				l.skip(p, take(i))
			}
		}
	}
	for ctx.Err() == nil {
		rec, err := next()
		if err != nil {
			var me *csv.MalformedRowError
			if errors.As(err, &me) {
				onMalformed(me)
				continue
			}
			for i := range open {
				if !emit(i) {
					drop()
					return nil
				}
			}
			if done(err) {
				return nil
			}
			return err
		}
		i := int(xxh3.HashString(rec.Fields[p.keyCol]) % uint64(len(qs)))
		open[i] = append(open[i], rec)
		if len(open[i]) >= size && !emit(i) {
			drop()
			return nil
		}
	}
	drop()
	return nil
}

// process runs b to completion in the calling worker. Retries stay in the
// worker so a full queue cannot block them. Attempts use a context detached
// from cancellation so a started transaction always finishes.
func (l *Loader) process(parent, runCtx context.Context, p plan, t *tally, b *Batch) error {
	job := p.job
	actx := context.WithoutCancel(parent)
	for {
		b.State = StateInFlight
		b.Attempts++
		err := l.attempt(actx, p, b)
		if err == nil {
			b.State = StateCommitted
			b.LastErr = nil
			total := t.markCommitted(b)
			metrics.RecordBatch(l.jobName, "committed")
			l.logProgress(p, b, total, t)
			return nil
		}
		b.LastErr = err
		if isFatal(err) {
			b.State = StateFailed
			return fmt.Errorf("loader: %s: batch %d: %w", job.File, b.Index, err)
		}
		b.State = StateFailed
		if b.Attempts > job.MaxRetries || runCtx.Err() != nil {
			l.abort(p, t, b)
			return nil
		}
		t.retries.Add(1)
		metrics.RecordRetry(l.jobName)
		wait := job.backoff(b.Attempts)
		log.Printf("loader: file=%s batch=%d attempt=%d/%d lines=%d-%d retry_in=%s err=%v",
			job.File, b.Index, b.Attempts, job.MaxRetries+1, b.FirstLine(), b.LastLine(), wait, err)
		if err := l.sleep(runCtx, wait); err != nil {
			l.abort(p, t, b)
			return nil
		}
		b.State = StatePending
	}
}

func (l *Loader) abort(p plan, t *tally, b *Batch) {
	b.State = StateAborted
	t.markAborted(b)
	metrics.RecordBatch(l.jobName, "aborted")
	metrics.RecordRecords(l.jobName, "aborted", int64(len(b.Records)))
	log.Printf("loader: file=%s batch=%d aborted attempts=%d lines=%d-%d err=%v",
		p.job.File, b.Index, b.Attempts, b.FirstLine(), b.LastLine(), b.LastErr)
	if l.rejects != nil {
		for _, rec := range b.Records {
			l.rejects.Add(rejects.ReasonAborted, p.job.File, rec.Line, b.LastErr, rec.Raw)
		}
	}
}

// attempt applies every record of b in file order inside one transaction.
func (l *Loader) attempt(ctx context.Context, p plan, b *Batch) (err error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(ctx); rerr != nil {
				log.Printf("loader: file=%s batch=%d rollback: %v", p.job.File, b.Index, rerr)
			}
		}
	}()
	for _, rec := range b.Records {
		if err = p.apply(ctx, tx, rec); err != nil {
			return fmt.Errorf("line %d: %w", rec.Line, err)
		}
	}
	return tx.Commit(ctx)
}

// skip records a batch that was read but will not be attempted.
func (l *Loader) skip(p plan, b *Batch) {
	if l.rejects == nil {
		return
	}
	for _, rec := range b.Records {
		l.rejects.Add(rejects.ReasonNotAttempted, p.job.File, rec.Line, nil, rec.Raw)
	}
}

func (l *Loader) logProgress(p plan, b *Batch, total int64, t *tally) {
	if l.progressEvery <= 0 || (b.Index+1)%l.progressEvery != 0 {
		return
	}
	log.Printf("loader: file=%s kind=%s batch=%d records=%d attempts=%d total=%s",
		p.job.File, p.kind, b.Index, len(b.Records), b.Attempts, humanize.Comma(total))
}

func (l *Loader) logSummary(r *Report) {
	log.Printf("loader: summary %s", r.Summary())
	if r.MalformedRows > 0 {
		log.Printf("loader: malformed rows: %d (showing first %d)", r.MalformedRows, len(r.MalformedSamples))
		for i, e := range r.MalformedSamples {
			log.Printf("  #%03d: %v", i+1, e.Err)
		}
	}
	for _, a := range r.BatchesAborted {
		log.Printf("loader: aborted batch=%d lines=%d-%d attempts=%d err=%v", a.BatchIndex, a.FirstLine, a.LastLine, a.Attempts, a.LastError)
	}
}
