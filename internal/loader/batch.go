package loader

import (
	"errors"
	"io"

	"graphload/internal/parser/csv"
)

// State is the lifecycle state of a batch.
//
//	Pending -> InFlight -> Committed
//	InFlight -> Failed -> Pending   (retry)
//	Failed -> Aborted               (retries exhausted)
type State int

const (
	StatePending State = iota
	StateInFlight
	StateCommitted
	StateFailed
	StateAborted
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in_flight"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Batch is a contiguous run of well-formed records from one file. A batch is
// owned by exactly one worker at a time.
type Batch struct {
	// Index is the 0-based position of the batch in the file.
	Index    int
	Records  []csv.Record
	Attempts int
	State    State
	LastErr  error
}

// FirstLine is the source line of the first record, or 0 for an empty batch.
func (b *Batch) FirstLine() int {
	if len(b.Records) == 0 {
		return 0
	}
	return b.Records[0].Line
}

// LastLine is the source line of the last record, or 0 for an empty batch.
func (b *Batch) LastLine() int {
	if len(b.Records) == 0 {
		return 0
	}
	return b.Records[len(b.Records)-1].Line
}

// Accumulator groups a record stream into batches of a fixed size. Every
// batch holds exactly size records except possibly the last, and no batch is
// empty.
type Accumulator struct {
	next        func() (csv.Record, error)
	size        int
	index       int
	err         error
	onMalformed func(*csv.MalformedRowError)
}

// NewAccumulator reads records from next until it returns io.EOF. A size
// below 1 is treated as 1.
func NewAccumulator(next func() (csv.Record, error), size int) *Accumulator {
	if size < 1 {
		size = 1
	}
	return &Accumulator{next: next, size: size}
}

// OnMalformed installs a callback for malformed rows. Malformed rows are
// skipped whether or not a callback is set.
func (a *Accumulator) OnMalformed(fn func(*csv.MalformedRowError)) { a.onMalformed = fn }

// Next returns the next batch, or io.EOF when the input is exhausted. Any
// other read error is returned after the records read so far were flushed
// as a final batch, and is then returned on every call.
func (a *Accumulator) Next() (*Batch, error) {
	if a.err != nil {
		return nil, a.err
	}
	recs := make([]csv.Record, 0, a.size)
	for len(recs) < a.size {
		rec, err := a.next()
		if err != nil {
			var me *csv.MalformedRowError
			if errors.As(err, &me) {
				if a.onMalformed != nil {
					a.onMalformed(me)
				}
				continue
			}
			a.err = err
			break
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		return nil, a.err
	}
	b := &Batch{Index: a.index, Records: recs}
	a.index++
	return b, nil
}

// done reports whether err ends the stream normally.
func done(err error) bool { return errors.Is(err, io.EOF) }
