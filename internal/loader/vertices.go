package loader

import (
	"context"
	"io"

	"graphload/internal/graph"
	"graphload/internal/parser/csv"
	"graphload/internal/transformer"
)

// LoadVertices loads one vertex file. Each row becomes one vertex, resolved
// by job.KeyProperty: an existing vertex gets the row's properties, a new key
// creates a vertex. Rows without a key value always create a vertex.
//
// The returned error is non-nil only for fatal failures (unreadable input, a
// lost store connection, a schema mismatch). The report is returned in every
// case.
func (l *Loader) LoadVertices(ctx context.Context, r io.Reader, job VertexJob) (*Report, error) {
	job = job.withDefaults()
	bp := transformer.Compile(job.Table, job.Build)
	res := graph.Resolver{CreateMissing: true}

	apply := func(ctx context.Context, tx graph.Tx, rec csv.Record) error {
		props, err := bp.Build(rec)
		if err != nil {
			return err
		}
		label := job.Label
		if job.LabelColumn != "" {
			if v := rec.Fields[job.LabelColumn]; v != "" {
				label = v
			}
		}
		key, ok := graph.KeyOf(props, job.KeyProperty)
		if !ok || key.Text() == "" {
			_, err := tx.CreateVertex(ctx, graph.NewVertex{Label: label, Props: props})
			return err
		}
		_, _, err = res.ResolveOrCreate(ctx, tx, job.KeyProperty, key, label, props)
		return err
	}
	return l.run(ctx, r, plan{
		job:    job.Job,
		kind:   "vertices",
		keyCol: job.KeyProperty,
		build:  bp,
		apply:  apply,
	})
}
