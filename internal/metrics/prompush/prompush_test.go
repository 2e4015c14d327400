package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"graphload/internal/metrics"
)

func readCounter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	if m.GetCounter() == nil {
		t.Fatalf("metric did not contain Counter value")
	}
	return m.GetCounter().GetValue()
}

func readSummary(t *testing.T, v *prometheus.SummaryVec, labels ...string) (uint64, float64) {
	t.Helper()
	m := &dto.Metric{}
	metric, ok := v.WithLabelValues(labels...).(prometheus.Metric)
	if !ok {
		t.Fatalf("SummaryVec.WithLabelValues(...) does not implement prometheus.Metric")
	}
	if err := metric.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	s := m.GetSummary()
	return s.GetSampleCount(), s.GetSampleSum()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		jobName     string
		gatewayURL  string
		wantErr     bool
		wantJobName string
	}{
		{name: "missing gateway URL", jobName: "j", wantErr: true},
		{name: "empty job name uses default", gatewayURL: "http://pg:9091", wantJobName: "graphload"},
		{name: "explicit job name kept", jobName: "nightly", gatewayURL: "http://pg:9091", wantJobName: "nightly"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := NewBackend(tt.jobName, tt.gatewayURL)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("NewBackend() error = nil; want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBackend() error = %v", err)
			}
			if b.jobName != tt.wantJobName {
				t.Fatalf("jobName = %q; want %q", b.jobName, tt.wantJobName)
			}
		})
	}
}

func TestIncCounter(t *testing.T) {
	t.Parallel()
	b, err := NewBackend("j", "http://pg:9091")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.StepTotal, 1, metrics.Labels{"step": "vertices", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 20000, metrics.Labels{"kind": "committed"})
	b.IncCounter(metrics.BatchesTotal, 1, metrics.Labels{"status": "aborted"})
	b.IncCounter(metrics.RetriesTotal, 2, nil)
	b.IncCounter("unknown_metric", 5, nil)

	if got := readCounter(t, b.stepCounter.WithLabelValues("vertices", "success")); got != 1 {
		t.Fatalf("step counter = %v; want 1", got)
	}
	if got := readCounter(t, b.recordCounter.WithLabelValues("committed")); got != 20000 {
		t.Fatalf("record counter = %v; want 20000", got)
	}
	if got := readCounter(t, b.batchCounter.WithLabelValues("aborted")); got != 1 {
		t.Fatalf("batch counter = %v; want 1", got)
	}
	if got := readCounter(t, b.retryCounter); got != 2 {
		t.Fatalf("retry counter = %v; want 2", got)
	}
}

func TestIncCounterNilMetrics(t *testing.T) {
	t.Parallel()
	b := &Backend{}
	b.IncCounter(metrics.StepTotal, 1, nil)
	b.IncCounter(metrics.RetriesTotal, 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 1, nil)
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()
	b, err := NewBackend("j", "http://pg:9091")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.ObserveHistogram(metrics.StepDuration, 1.5, metrics.Labels{"step": "edges", "status": "success"})
	b.ObserveHistogram(metrics.StepDuration, 0.5, metrics.Labels{"step": "edges", "status": "success"})
	b.ObserveHistogram("other", 9, nil)

	n, sum := readSummary(t, b.stepDuration, "edges", "success")
	if n != 2 || sum != 2 {
		t.Fatalf("summary count=%d sum=%v; want 2/2", n, sum)
	}
}

// TestFlush checks that Flush PUTs the registry to the gateway under the job
// grouping key.
func TestFlush(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	var body atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.Contains(r.URL.Path, "/job/nightly") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		body.Store(len(b))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	b, err := NewBackend("nightly", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.IncCounter(metrics.RetriesTotal, 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if hits.Load() == 0 {
		t.Fatalf("Flush() did not reach the Pushgateway")
	}
	if n, _ := body.Load().(int); n == 0 {
		t.Fatalf("Flush() pushed an empty body")
	}
}

func BenchmarkIncCounterRecord(b *testing.B) {
	be, err := NewBackend("j", "http://pg:9091")
	if err != nil {
		b.Fatalf("NewBackend() error = %v", err)
	}
	lbls := metrics.Labels{"kind": "committed"}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		be.IncCounter(metrics.RecordsTotal, 1, lbls)
	}
}
