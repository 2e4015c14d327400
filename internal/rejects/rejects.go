// Package rejects writes rows the loader could not commit to a CSV file so
// they can be fixed and loaded again. Each reject row carries the source
// file, the 1-based line, a short reason and the raw fields re-encoded as one
// CSV line.
package rejects

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
)

// Reasons recorded by the loader.
const (
	ReasonMalformed    = "malformed"
	ReasonAborted      = "aborted"
	ReasonNotAttempted = "not_attempted"
)

// Header is the first row of every reject file.
var Header = []string{"reason", "file", "line", "error", "raw_line"}

// Log is a concurrency-safe reject writer.
type Log struct {
	mu      sync.Mutex
	f       *os.File
	w       *csv.Writer
	reasons map[string]int
}

// Create creates path (and its parent directories) and writes the header.
func Create(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("rejects: create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("rejects: open %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("rejects: write header: %w", err)
	}
	return &Log{f: f, w: w, reasons: make(map[string]int)}, nil
}

// Add records one rejected row.
func (l *Log) Add(reason, file string, line int, cause error, raw []string) {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	rawLine := joinRaw(raw)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reasons[reason]++
	_ = l.w.Write([]string{reason, file, strconv.Itoa(line), msg, rawLine})
}

// Counts returns the number of rows added per reason.
func (l *Log) Counts() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.reasons))
	for k, v := range l.reasons {
		out[k] = v
	}
	return out
}

// Summary renders Counts as "reason=n" pairs in reason order.
func (l *Log) Summary() string {
	c := l.Counts()
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b bytes.Buffer
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%d", k, c[k])
	}
	return b.String()
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		l.f.Close()
		return fmt.Errorf("rejects: flush: %w", err)
	}
	return l.f.Close()
}

func joinRaw(raw []string) string {
	if len(raw) == 0 {
		return ""
	}
	var b bytes.Buffer
	w := csv.NewWriter(&b)
	_ = w.Write(raw)
	w.Flush()
	return string(bytes.TrimRight(b.Bytes(), "\r\n"))
}
