// Package metrics is a small, backend-agnostic facade for the loader's
// operational metrics.
//
// A global backend defaults to a no-op, so callers never check whether
// metrics are configured. Concrete systems live in subpackages (prompush,
// datadog) and are installed with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the loader.
const (
	StepTotal    = "graphload_step_total"
	StepDuration = "graphload_step_duration_seconds"
	RecordsTotal = "graphload_records_total"
	BatchesTotal = "graphload_batches_total"
	RetriesTotal = "graphload_retries_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a latency/duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(name string, delta float64, labels Labels)       {}
func (nopBackend) ObserveHistogram(name string, value float64, labels Labels) {}
func (nopBackend) Flush() error                                               { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a job step (schema, vertices, edges)
// and observes its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRecords adds delta records of a kind: "committed", "malformed" or
// "aborted".
func RecordRecords(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordBatch counts one finished batch by status: "committed", "aborted" or
// "not_attempted".
func RecordBatch(job, status string) {
	current().IncCounter(BatchesTotal, 1, Labels{"job": job, "status": status})
}

// RecordRetry counts one failed attempt that will be retried.
func RecordRetry(job string) {
	current().IncCounter(RetriesTotal, 1, Labels{"job": job})
}
