package loader

import (
	"path/filepath"
	"strings"
	"time"

	"graphload/internal/parser/csv"
	"graphload/internal/schema"
	"graphload/internal/transformer"
)

// Defaults for a Job.
const (
	DefaultBatchSize   = 20000
	DefaultWorkers     = 10
	DefaultKeyProperty = "id"
	DefaultEdgeLabel   = "label"
	DefaultFromColumn  = "from"
	DefaultToColumn    = "to"
	DefaultVertexLabel = "vertex"

	// maxMalformedSamples bounds Report.MalformedSamples.
	maxMalformedSamples = 20
)

// Job holds the settings shared by vertex and edge loads.
type Job struct {
	// File names the input in logs, reports and rejects. Its stem is the
	// fallback label.
	File string

	HasHeader bool

	// BatchSize is the number of records per transaction.
	BatchSize int

	// Workers is the number of concurrent committers.
	Workers int

	// MaxRetries is how many times a failed batch is retried. A batch is
	// attempted at most MaxRetries+1 times.
	MaxRetries int

	// QueueDepth bounds the batches waiting for a worker. Defaults to
	// 2*Workers.
	QueueDepth int

	// Backoff is the delay before the first retry; it doubles per retry up
	// to MaxBackoff. Zero retries immediately.
	Backoff    time.Duration
	MaxBackoff time.Duration

	// PartitionByKey routes every row to a worker chosen by a hash of its
	// key column, so rows sharing a key never race each other.
	PartitionByKey bool

	// Table declares the kind and cardinality of every loaded property.
	Table *schema.Table

	// CSV tunes the decoder. HasHeader above wins over CSV.HasHeader.
	CSV csv.Options

	Build transformer.BuildOptions
}

func (j Job) withDefaults() Job {
	if j.BatchSize <= 0 {
		j.BatchSize = DefaultBatchSize
	}
	if j.Workers <= 0 {
		j.Workers = DefaultWorkers
	}
	if j.MaxRetries < 0 {
		j.MaxRetries = 0
	}
	if j.QueueDepth <= 0 {
		j.QueueDepth = 2 * j.Workers
	}
	if j.MaxBackoff > 0 && j.Backoff > j.MaxBackoff {
		j.Backoff = j.MaxBackoff
	}
	if j.Table == nil {
		j.Table = schema.MustTable(nil)
	}
	j.CSV.HasHeader = j.HasHeader
	return j
}

// backoff returns the delay before retry number n (1-based).
func (j Job) backoff(n int) time.Duration {
	if j.Backoff <= 0 {
		return 0
	}
	d := j.Backoff
	for i := 1; i < n; i++ {
		d *= 2
		if j.MaxBackoff > 0 && d >= j.MaxBackoff {
			return j.MaxBackoff
		}
	}
	return d
}

// stem returns the file name without directory and extension.
func stem(file string) string {
	base := filepath.Base(file)
	if base == "." || base == string(filepath.Separator) {
		return ""
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// VertexJob loads one vertex file.
type VertexJob struct {
	Job

	// Label is the vertex label when LabelColumn is unset or empty in a row.
	// It defaults to the file stem.
	Label       string
	LabelColumn string

	// KeyProperty is the business key resolved against the store's key
	// index. Defaults to "id".
	KeyProperty string
}

func (j VertexJob) withDefaults() VertexJob {
	j.Job = j.Job.withDefaults()
	if j.KeyProperty == "" {
		j.KeyProperty = DefaultKeyProperty
	}
	if j.Label == "" {
		j.Label = stem(j.File)
	}
	if j.Label == "" {
		j.Label = DefaultVertexLabel
	}
	return j
}

// EdgeJob loads one edge file.
type EdgeJob struct {
	Job

	// Label is the edge label when LabelColumn is missing or empty in a
	// row. It defaults to the file stem.
	Label       string
	LabelColumn string

	FromColumn string
	ToColumn   string

	// EndpointKeys maps an endpoint column to the vertex key property its
	// values refer to. Unmapped endpoint columns use "id".
	EndpointKeys map[string]string

	// CreateMissingEndpoints creates a bare vertex for an unknown endpoint
	// key instead of failing the batch.
	CreateMissingEndpoints bool
	FromLabel              string
	ToLabel                string
}

func (j EdgeJob) withDefaults() EdgeJob {
	j.Job = j.Job.withDefaults()
	if j.LabelColumn == "" {
		j.LabelColumn = DefaultEdgeLabel
	}
	if j.FromColumn == "" {
		j.FromColumn = DefaultFromColumn
	}
	if j.ToColumn == "" {
		j.ToColumn = DefaultToColumn
	}
	if j.Label == "" {
		j.Label = stem(j.File)
	}
	if j.FromLabel == "" {
		j.FromLabel = DefaultVertexLabel
	}
	if j.ToLabel == "" {
		j.ToLabel = DefaultVertexLabel
	}
	return j
}

// endpointKey returns the key property for an endpoint column.
func (j EdgeJob) endpointKey(col string) string {
	if k := j.EndpointKeys[col]; k != "" {
		return k
	}
	return DefaultKeyProperty
}
