// Package memory is an in-process graph store. It keeps vertices, edges and a
// unique key index in maps and commits transactions optimistically: writes are
// buffered per transaction and validated against the committed state under a
// single lock at Commit.
//
// It is the store used by tests and by dry runs ("kind: memory").
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"graphload/internal/graph"
	"graphload/internal/schema"
)

func init() {
	graph.Register("memory", func(ctx context.Context, cfg graph.Config) (graph.Store, error) {
		return New(), nil
	})
}

type vertexRec struct {
	label string
	props schema.Record
}

// Store is an in-memory graph.Store.
type Store struct {
	mu          sync.RWMutex
	vertices    map[graph.VertexID]*vertexRec
	edges       map[graph.EdgeID]graph.Edge
	keys        map[string]graph.VertexID
	declared    map[string]schema.PropertyType
	keyProps    map[string]struct{}
	vLabels     map[string]struct{}
	eLabels     map[string]struct{}
	closed      bool
	commitCount int
}

var (
	_ graph.Store          = (*Store)(nil)
	_ graph.SchemaReader   = (*Store)(nil)
	_ graph.SchemaDeclarer = (*Store)(nil)
	_ graph.Resetter       = (*Store)(nil)
	_ graph.Counter        = (*Store)(nil)
)

// New returns an empty store.
func New() *Store {
	s := &Store{}
	s.clear()
	return s
}

func (s *Store) clear() {
	s.vertices = map[graph.VertexID]*vertexRec{}
	s.edges = map[graph.EdgeID]graph.Edge{}
	s.keys = map[string]graph.VertexID{}
	s.declared = map[string]schema.PropertyType{}
	s.keyProps = map[string]struct{}{}
	s.vLabels = map[string]struct{}{}
	s.eLabels = map[string]struct{}{}
}

func indexKey(prop string, v schema.Value) string { return prop + "\x00" + v.Canonical() }

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, graph.Connection("begin", fmt.Errorf("memory store closed"))
	}
	return &tx{
		s:        s,
		created:  map[graph.VertexID]*vertexRec{},
		updated:  map[graph.VertexID]schema.Record{},
		newKeys:  map[string]graph.VertexID{},
		keyOrder: nil,
	}, nil
}

// Close marks the store closed. Later Begin calls fail with a connection
// error.
func (s *Store) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// PropertyKeys returns the declared property types.
func (s *Store) PropertyKeys(ctx context.Context) (map[string]schema.PropertyType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]schema.PropertyType, len(s.declared))
	for k, v := range s.declared {
		out[k] = v
	}
	return out, nil
}

// DeclareSchema records labels and property keys. Redeclaring a property
// with the same kind and cardinality is a no-op.
func (s *Store) DeclareSchema(ctx context.Context, sc graph.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, pt := range sc.Properties {
		if cur, ok := s.declared[name]; ok && !cur.Compatible(pt) {
			return &schema.MismatchError{Property: name, Declared: cur, Got: pt}
		}
	}
	for name, pt := range sc.Properties {
		s.declared[name] = pt
	}
	for _, l := range sc.VertexLabels {
		s.vLabels[l] = struct{}{}
	}
	for _, l := range sc.EdgeLabels {
		s.eLabels[l] = struct{}{}
	}
	for _, k := range sc.KeyProperties {
		s.keyProps[k] = struct{}{}
	}
	return nil
}

// Reset drops all data and declarations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clear()
	return nil
}

func (s *Store) CountVertices(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.vertices)), nil
}

func (s *Store) CountEdges(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.edges)), nil
}

// Commits returns the number of successful commits.
func (s *Store) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commitCount
}

// Vertices returns a snapshot of all vertices sorted by ID.
func (s *Store) Vertices() []graph.Vertex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]graph.Vertex, 0, len(s.vertices))
	for id, v := range s.vertices {
		out = append(out, graph.Vertex{ID: id, Label: v.label, Props: v.props.Merge(nil)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns a snapshot of all edges sorted by ID.
func (s *Store) Edges() []graph.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]graph.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VertexByKey looks a committed vertex up by key outside any transaction.
func (s *Store) VertexByKey(keyProp string, key schema.Value) (graph.Vertex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.keys[indexKey(keyProp, key)]
	if !ok {
		return graph.Vertex{}, false
	}
	v := s.vertices[id]
	return graph.Vertex{ID: id, Label: v.label, Props: v.props.Merge(nil)}, true
}

type tx struct {
	s        *Store
	done     bool
	created  map[graph.VertexID]*vertexRec
	updated  map[graph.VertexID]schema.Record
	newKeys  map[string]graph.VertexID
	keyOrder []string
	edges    []graph.Edge
}

func (t *tx) check(props schema.Record) error {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return schema.CheckDeclared(t.s.declared, props)
}

func (t *tx) FindVertex(ctx context.Context, keyProp string, key schema.Value) (graph.Vertex, bool, error) {
	if t.done {
		return graph.Vertex{}, false, graph.ErrTxDone
	}
	k := indexKey(keyProp, key)
	if id, ok := t.newKeys[k]; ok {
		v := t.created[id]
		return graph.Vertex{ID: id, Label: v.label, Props: v.props.Merge(nil)}, true, nil
	}
	t.s.mu.RLock()
	id, ok := t.s.keys[k]
	var v graph.Vertex
	if ok {
		rec := t.s.vertices[id]
		v = graph.Vertex{ID: id, Label: rec.label, Props: rec.props.Merge(t.updated[id])}
	}
	t.s.mu.RUnlock()
	return v, ok, nil
}

func (t *tx) CreateVertex(ctx context.Context, nv graph.NewVertex) (graph.VertexRef, error) {
	if t.done {
		return graph.VertexRef{}, graph.ErrTxDone
	}
	if err := t.check(nv.Props); err != nil {
		return graph.VertexRef{}, err
	}
	keys := make([]string, 0, len(nv.Keys))
	for _, prop := range nv.Keys {
		val, ok := graph.KeyOf(nv.Props, prop)
		if !ok {
			return graph.VertexRef{}, fmt.Errorf("create vertex: key %q missing or not a single value", prop)
		}
		k := indexKey(prop, val)
		if _, taken := t.newKeys[k]; taken {
			return graph.VertexRef{}, graph.DuplicateKey(prop, val)
		}
		t.s.mu.RLock()
		_, taken := t.s.keys[k]
		t.s.mu.RUnlock()
		if taken {
			return graph.VertexRef{}, graph.DuplicateKey(prop, val)
		}
		keys = append(keys, k)
	}
	id := graph.VertexID(uuid.NewString())
	t.created[id] = &vertexRec{label: nv.Label, props: nv.Props.Merge(nil)}
	for _, k := range keys {
		t.newKeys[k] = id
		t.keyOrder = append(t.keyOrder, k)
	}
	return graph.VertexRef{ID: id, Label: nv.Label}, nil
}

func (t *tx) UpdateVertex(ctx context.Context, id graph.VertexID, props schema.Record) error {
	if t.done {
		return graph.ErrTxDone
	}
	if err := t.check(props); err != nil {
		return err
	}
	if v, ok := t.created[id]; ok {
		v.props = v.props.Merge(props)
		return nil
	}
	t.s.mu.RLock()
	_, ok := t.s.vertices[id]
	t.s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("update vertex %s: no such vertex", id)
	}
	t.updated[id] = t.updated[id].Merge(props)
	return nil
}

func (t *tx) exists(id graph.VertexID) bool {
	if _, ok := t.created[id]; ok {
		return true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	_, ok := t.s.vertices[id]
	return ok
}

func (t *tx) CreateEdge(ctx context.Context, label string, from, to graph.VertexID, props schema.Record) (graph.EdgeID, error) {
	if t.done {
		return "", graph.ErrTxDone
	}
	if err := t.check(props); err != nil {
		return "", err
	}
	if !t.exists(from) || !t.exists(to) {
		return "", fmt.Errorf("create edge %s: endpoint %s or %s does not exist", label, from, to)
	}
	id := graph.EdgeID(uuid.NewString())
	t.edges = append(t.edges, graph.Edge{ID: id, Label: label, From: from, To: to, Props: props.Merge(nil)})
	return id, nil
}

// Commit validates the buffered writes against the committed state and
// applies them atomically. A key taken by a concurrent commit fails with a
// transient error.
func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return graph.ErrTxDone
	}
	t.done = true
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return graph.Connection("commit", fmt.Errorf("memory store closed"))
	}
	for _, k := range t.keyOrder {
		if _, taken := s.keys[k]; taken {
			return &graph.TransientError{Op: "commit", Err: fmt.Errorf("%w: %q", graph.ErrDuplicateKey, k)}
		}
	}
	for id := range t.updated {
		if _, ok := s.vertices[id]; !ok {
			return &graph.TransientError{Op: "commit", Err: fmt.Errorf("vertex %s removed concurrently", id)}
		}
	}
	for _, e := range t.edges {
		for _, end := range []graph.VertexID{e.From, e.To} {
			if _, ok := s.vertices[end]; !ok {
				if _, ok := t.created[end]; !ok {
					return &graph.TransientError{Op: "commit", Err: fmt.Errorf("vertex %s removed concurrently", end)}
				}
			}
		}
	}
	for id, v := range t.created {
		s.vertices[id] = v
		s.vLabels[v.label] = struct{}{}
	}
	for k, id := range t.newKeys {
		s.keys[k] = id
	}
	for id, props := range t.updated {
		v := s.vertices[id]
		v.props = v.props.Merge(props)
	}
	for _, e := range t.edges {
		s.edges[e.ID] = e
		s.eLabels[e.Label] = struct{}{}
	}
	s.commitCount++
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.done = true
	return nil
}
