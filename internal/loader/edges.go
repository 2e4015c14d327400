package loader

import (
	"context"
	"errors"
	"fmt"
	"io"

	"graphload/internal/graph"
	"graphload/internal/parser/csv"
	"graphload/internal/schema"
	"graphload/internal/transformer"
)

// LoadEdges loads one edge file. Both endpoints of a row are resolved by key
// in the batch's transaction; an unknown endpoint fails the whole batch
// unless job.CreateMissingEndpoints is set. Columns other than the endpoint
// and label columns that the table declares become edge properties.
//
// Vertices must be loaded before their edges; the loader does not order
// separate calls.
func (l *Loader) LoadEdges(ctx context.Context, r io.Reader, job EdgeJob) (*Report, error) {
	job = job.withDefaults()
	bp := transformer.Compile(job.Table, job.Build)
	res := graph.Resolver{CreateMissing: job.CreateMissingEndpoints, SkipUpdate: true}
	fromKey := job.endpointKey(job.FromColumn)
	toKey := job.endpointKey(job.ToColumn)

	endpoint := func(ctx context.Context, tx graph.Tx, rec csv.Record, col, keyProp, label string) (graph.VertexRef, error) {
		raw, ok := rec.Fields[col]
		if !ok {
			return graph.VertexRef{}, fmt.Errorf("endpoint column %q missing", col)
		}
		key, err := endpointValue(bp, keyProp, raw)
		if err != nil {
			return graph.VertexRef{}, fmt.Errorf("endpoint %s: %w", col, err)
		}
		ref, _, err := res.ResolveOrCreate(ctx, tx, keyProp, key, label, nil)
		return ref, err
	}

	apply := func(ctx context.Context, tx graph.Tx, rec csv.Record) error {
		from, err := endpoint(ctx, tx, rec, job.FromColumn, fromKey, job.FromLabel)
		if err != nil {
			return err
		}
		to, err := endpoint(ctx, tx, rec, job.ToColumn, toKey, job.ToLabel)
		if err != nil {
			return err
		}
		props, err := bp.Build(rec)
		if err != nil {
			return err
		}
		delete(props, job.FromColumn)
		delete(props, job.ToColumn)
		delete(props, job.LabelColumn)

		label := job.Label
		if v := rec.Fields[job.LabelColumn]; v != "" {
			label = v
		}
		if label == "" {
			return errors.New("edge has no label")
		}
		_, err = tx.CreateEdge(ctx, label, from.ID, to.ID, props)
		return err
	}
	return l.run(ctx, r, plan{
		job:    job.Job,
		kind:   "edges",
		keyCol: job.FromColumn,
		build:  bp,
		apply:  apply,
	})
}

// endpointValue coerces a raw endpoint value with the declared type of the
// key property it refers to. Undeclared keys are strings.
func endpointValue(bp *transformer.Plan, keyProp, raw string) (schema.Value, error) {
	prop, err := bp.Coerce(keyProp, raw)
	if errors.Is(err, transformer.ErrEmptyValue) || (err == nil && len(prop.Values) == 0) {
		return schema.Value{}, errors.New("empty key")
	}
	if err != nil {
		return schema.Value{}, err
	}
	v, ok := prop.Single()
	if !ok {
		return schema.Value{}, fmt.Errorf("key %s must be a single value", keyProp)
	}
	if v.Text() == "" {
		return schema.Value{}, errors.New("empty key")
	}
	return v, nil
}
