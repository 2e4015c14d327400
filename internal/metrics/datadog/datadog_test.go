package datadog

import (
	"reflect"
	"testing"

	"graphload/internal/metrics"
)

type fakeClient struct {
	counts map[string]int64
	hists  map[string]float64
	tags   [][]string
	closed bool
}

func (f *fakeClient) Count(name string, value int64, tags []string, rate float64) error {
	f.counts[name] += value
	f.tags = append(f.tags, tags)
	return nil
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, rate float64) error {
	f.hists[name] = value
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestBackend_ForwardsToClient(t *testing.T) {
	fc := &fakeClient{counts: map[string]int64{}, hists: map[string]float64{}}
	b := &Backend{client: fc}

	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "committed", "job": "people"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	if fc.counts[metrics.RecordsTotal] != 3 {
		t.Fatalf("count=%d; want 3", fc.counts[metrics.RecordsTotal])
	}
	if want := []string{"job:people", "kind:committed"}; !reflect.DeepEqual(fc.tags[0], want) {
		t.Fatalf("tags=%v; want %v", fc.tags[0], want)
	}
	if fc.hists[metrics.StepDuration] != 0.25 {
		t.Fatalf("histogram=%v", fc.hists[metrics.StepDuration])
	}
	if !fc.closed {
		t.Fatal("Flush did not close the client")
	}
}

func TestNewBackend_RequiresAddr(t *testing.T) {
	if _, err := NewBackend(Config{}); err == nil {
		t.Fatal("expected error for empty Addr")
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var b Backend
	b.IncCounter("x", 1, nil)
	b.ObserveHistogram("x", 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if labelsToTags(nil) != nil {
		t.Fatal("nil labels must give nil tags")
	}
}
