package sqlgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"graphload/internal/graph"
	"graphload/internal/schema"
)

type tx struct {
	s    *Store
	tx   *sql.Tx
	done bool
}

func (t *tx) FindVertex(ctx context.Context, keyProp string, key schema.Value) (graph.Vertex, bool, error) {
	if t.done {
		return graph.Vertex{}, false, graph.ErrTxDone
	}
	var id, label, props string
	err := t.tx.QueryRowContext(ctx, t.s.q.findKey, keyProp, key.Canonical()).Scan(&id, &label, &props)
	if errors.Is(err, sql.ErrNoRows) {
		return graph.Vertex{}, false, nil
	}
	if err != nil {
		return graph.Vertex{}, false, t.s.classify("find vertex", err)
	}
	rec, err := schema.DecodeRecord([]byte(props))
	if err != nil {
		return graph.Vertex{}, false, err
	}
	return graph.Vertex{ID: graph.VertexID(id), Label: label, Props: rec}, true, nil
}

func (t *tx) CreateVertex(ctx context.Context, nv graph.NewVertex) (graph.VertexRef, error) {
	if t.done {
		return graph.VertexRef{}, graph.ErrTxDone
	}
	if err := t.s.check(nv.Props); err != nil {
		return graph.VertexRef{}, err
	}
	b, err := schema.EncodeRecord(nv.Props)
	if err != nil {
		return graph.VertexRef{}, err
	}
	id := uuid.NewString()
	if _, err := t.tx.ExecContext(ctx, t.s.q.insertVertex, id, nv.Label, string(b)); err != nil {
		return graph.VertexRef{}, t.s.classify("create vertex", err)
	}
	for _, prop := range nv.Keys {
		val, ok := graph.KeyOf(nv.Props, prop)
		if !ok {
			return graph.VertexRef{}, fmt.Errorf("create vertex: key %q missing or not a single value", prop)
		}
		if _, err := t.tx.ExecContext(ctx, t.s.q.insertKey, prop, val.Canonical(), id); err != nil {
			return graph.VertexRef{}, t.s.classify("create vertex key "+prop, err)
		}
	}
	return graph.VertexRef{ID: graph.VertexID(id), Label: nv.Label}, nil
}

func (t *tx) UpdateVertex(ctx context.Context, id graph.VertexID, props schema.Record) error {
	if t.done {
		return graph.ErrTxDone
	}
	if err := t.s.check(props); err != nil {
		return err
	}
	var label, cur string
	err := t.tx.QueryRowContext(ctx, t.s.q.lockVertex, string(id)).Scan(&label, &cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update vertex %s: no such vertex", id)
	}
	if err != nil {
		return t.s.classify("update vertex", err)
	}
	rec, err := schema.DecodeRecord([]byte(cur))
	if err != nil {
		return err
	}
	b, err := schema.EncodeRecord(rec.Merge(props))
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, t.s.q.updateVertex, string(b), string(id)); err != nil {
		return t.s.classify("update vertex", err)
	}
	return nil
}

func (t *tx) CreateEdge(ctx context.Context, label string, from, to graph.VertexID, props schema.Record) (graph.EdgeID, error) {
	if t.done {
		return "", graph.ErrTxDone
	}
	if err := t.s.check(props); err != nil {
		return "", err
	}
	for _, end := range []graph.VertexID{from, to} {
		var n int
		if err := t.tx.QueryRowContext(ctx, t.s.q.vertexExists, string(end)).Scan(&n); err != nil {
			return "", t.s.classify("create edge", err)
		}
		if n == 0 {
			return "", fmt.Errorf("create edge %s: vertex %s does not exist", label, end)
		}
	}
	b, err := schema.EncodeRecord(props)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	if _, err := t.tx.ExecContext(ctx, t.s.q.insertEdge, id, label, string(from), string(to), string(b)); err != nil {
		return "", t.s.classify("create edge", err)
	}
	return graph.EdgeID(id), nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return graph.ErrTxDone
	}
	t.done = true
	return t.s.classify("commit", t.tx.Commit())
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return t.s.classify("rollback", err)
	}
	return nil
}
