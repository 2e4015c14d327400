package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for a job file.
const (
	DefaultName        = "graphload"
	DefaultBatchSize   = 20000
	DefaultWorkers     = 10
	DefaultMaxRetries  = 1
	DefaultKeyProperty = "id"
)

// Environment overrides for runtime knobs. A value set in the job file wins.
const (
	EnvBatchSize  = "GRAPHLOAD_BATCH_SIZE"
	EnvWorkers    = "GRAPHLOAD_WORKERS"
	EnvMaxRetries = "GRAPHLOAD_MAX_RETRIES"
	EnvQueueDepth = "GRAPHLOAD_QUEUE_DEPTH"
)

// Load reads a job file. Files ending in .yaml or .yml are YAML, anything
// else is JSON. Defaults and environment overrides are applied.
func Load(path string) (Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Job{}, fmt.Errorf("read job %s: %w", path, err)
	}
	j, err := Decode(b, filepath.Ext(path))
	if err != nil {
		return Job{}, fmt.Errorf("decode job %s: %w", path, err)
	}
	return j, nil
}

// Decode parses a job document. ext selects the format like in Load.
func Decode(b []byte, ext string) (Job, error) {
	var j Job
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&j); err != nil {
			return Job{}, err
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&j); err != nil {
			return Job{}, err
		}
	}
	return j.WithDefaults(), nil
}

// WithDefaults fills unset fields: the job file value wins, then the
// environment, then the built-in default.
func (j Job) WithDefaults() Job {
	if j.Name == "" {
		j.Name = DefaultName
	}
	if j.Vertices.KeyProperty == "" {
		j.Vertices.KeyProperty = DefaultKeyProperty
	}
	r := &j.Runtime
	r.BatchSize = pickInt(r.BatchSize, getenvInt(EnvBatchSize, DefaultBatchSize))
	r.Workers = pickInt(r.Workers, getenvInt(EnvWorkers, DefaultWorkers))
	r.QueueDepth = pickInt(r.QueueDepth, getenvInt(EnvQueueDepth, 2*r.Workers))
	if r.MaxRetries == nil {
		n := getenvInt(EnvMaxRetries, DefaultMaxRetries)
		r.MaxRetries = &n
	}
	if r.ProgressEvery == 0 {
		r.ProgressEvery = 1
	}
	return j
}

// Retries returns the configured retry count.
func (r Runtime) Retries() int {
	if r.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *r.MaxRetries
}

// getenvInt reads an int from environment, returning def when unset/invalid.
func getenvInt(k string, def int) int {
	if s := os.Getenv(k); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return def
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
