package loader

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring"
	"github.com/dustin/go-humanize"
)

// Report is the outcome of one LoadVertices or LoadEdges call.
type Report struct {
	RunID string
	File  string
	Kind  string // "vertices" or "edges"

	RecordsCommitted int64
	BatchesCommitted int

	// BatchesAborted is ordered by BatchIndex.
	BatchesAborted []AbortedBatch

	MalformedRows    int
	MalformedSamples []RowError

	// MissingColumns lists declared properties absent from the header.
	// Their values are simply omitted.
	MissingColumns []string

	// NotAttempted lists, in order, batches that were read but never
	// started because the job was cancelled or stopped by a fatal error.
	NotAttempted []int

	// Retries counts failed attempts that were retried.
	Retries int

	Cancelled bool
	Duration  time.Duration
}

// AbortedBatch is a batch that failed MaxRetries+1 times.
type AbortedBatch struct {
	BatchIndex int
	Attempts   int
	FirstLine  int
	LastLine   int
	Records    int
	LastError  error
}

// RowError is a row-level problem with its source line.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string { return fmt.Sprintf("line %d: %v", e.Line, e.Err) }

// OK reports whether every batch committed.
func (r *Report) OK() bool {
	return len(r.BatchesAborted) == 0 && len(r.NotAttempted) == 0 && !r.Cancelled
}

// Summary is a one-line key=value rendering for logs.
func (r *Report) Summary() string {
	rps := int64(0)
	if s := r.Duration.Seconds(); s > 0 {
		rps = int64(float64(r.RecordsCommitted) / s)
	}
	return fmt.Sprintf("run=%s file=%s kind=%s committed=%s batches=%d aborted=%d not_attempted=%d malformed=%d retries=%d rps=%s elapsed=%s",
		r.RunID, r.File, r.Kind,
		humanize.Comma(r.RecordsCommitted), r.BatchesCommitted, len(r.BatchesAborted),
		len(r.NotAttempted), r.MalformedRows, r.Retries, humanize.Comma(rps),
		r.Duration.Truncate(time.Millisecond))
}

// tally is the shared, concurrency-safe bookkeeping behind a Report.
type tally struct {
	committedRecs atomic.Int64
	retries       atomic.Int64

	mu        sync.Mutex
	produced  *roaring.Bitmap
	committed *roaring.Bitmap
	aborted   *roaring.Bitmap
	abortList []AbortedBatch
	malformed errAgg
}

func newTally() *tally {
	return &tally{
		produced:  roaring.New(),
		committed: roaring.New(),
		aborted:   roaring.New(),
		malformed: errAgg{limit: maxMalformedSamples},
	}
}

func (t *tally) markProduced(b *Batch) {
	t.mu.Lock()
	t.produced.Add(uint32(b.Index))
	t.mu.Unlock()
}

// markCommitted returns the total of committed records after b.
func (t *tally) markCommitted(b *Batch) int64 {
	t.mu.Lock()
	t.committed.Add(uint32(b.Index))
	t.mu.Unlock()
	return t.committedRecs.Add(int64(len(b.Records)))
}

func (t *tally) markAborted(b *Batch) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aborted.Add(uint32(b.Index))
	t.abortList = append(t.abortList, AbortedBatch{
		BatchIndex: b.Index,
		Attempts:   b.Attempts,
		FirstLine:  b.FirstLine(),
		LastLine:   b.LastLine(),
		Records:    len(b.Records),
		LastError:  b.LastErr,
	})
}

func (t *tally) addMalformed(line int, err error) {
	t.mu.Lock()
	t.malformed.add(RowError{Line: line, Err: err})
	t.mu.Unlock()
}

// fill copies the bookkeeping into r.
func (t *tally) fill(r *Report) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r.RecordsCommitted = t.committedRecs.Load()
	r.Retries = int(t.retries.Load())
	r.BatchesCommitted = int(t.committed.GetCardinality())

	r.BatchesAborted = append([]AbortedBatch(nil), t.abortList...)
	sort.Slice(r.BatchesAborted, func(i, j int) bool {
		return r.BatchesAborted[i].BatchIndex < r.BatchesAborted[j].BatchIndex
	})

	pending := roaring.AndNot(t.produced, roaring.Or(t.committed, t.aborted))
	for it := pending.Iterator(); it.HasNext(); {
		r.NotAttempted = append(r.NotAttempted, int(it.Next()))
	}

	r.MalformedRows = t.malformed.count
	r.MalformedSamples = append([]RowError(nil), t.malformed.first...)
}

// errAgg keeps a count and the first limit row errors.
type errAgg struct {
	limit int
	count int
	first []RowError
}

func (a *errAgg) add(e RowError) {
	if a.count < a.limit {
		a.first = append(a.first, e)
	}
	a.count++
}
