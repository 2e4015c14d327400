// Package graphtest is a conformance suite every graph.Store backend runs in
// its own tests. It checks the guarantees the loader depends on: isolation of
// uncommitted writes, the unique key index, transient errors on key races,
// property replacement on update, and schema declarations.
package graphtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphload/internal/graph"
	"graphload/internal/schema"
)

// Opener returns a fresh, empty store for one subtest. The suite closes it.
type Opener func(t *testing.T) graph.Store

// Run runs the conformance suite.
func Run(t *testing.T, open Opener) {
	t.Run("CreateAndFind", func(t *testing.T) { testCreateAndFind(t, open(t)) })
	t.Run("RollbackDiscards", func(t *testing.T) { testRollbackDiscards(t, open(t)) })
	t.Run("UpdateReplacesProperties", func(t *testing.T) { testUpdateReplaces(t, open(t)) })
	t.Run("DuplicateKeyIsTransient", func(t *testing.T) { testDuplicateKey(t, open(t)) })
	t.Run("ConcurrentResolveCreatesOnce", func(t *testing.T) { testConcurrentResolve(t, open(t)) })
	t.Run("Edges", func(t *testing.T) { testEdges(t, open(t)) })
	t.Run("TxDone", func(t *testing.T) { testTxDone(t, open(t)) })
	t.Run("Schema", func(t *testing.T) { testSchema(t, open(t)) })
	t.Run("Reset", func(t *testing.T) { testReset(t, open(t)) })
}

func person(id int64, name string, emails ...string) schema.Record {
	vals := make([]schema.Value, len(emails))
	for i, e := range emails {
		vals[i] = schema.String(e)
	}
	return schema.Record{
		"id":    schema.SingleOf(schema.Int(id)),
		"name":  schema.SingleOf(schema.String(name)),
		"email": schema.ListOf(schema.KindString, vals...),
	}
}

func create(t *testing.T, st graph.Store, label string, props schema.Record) graph.VertexRef {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	ref, err := tx.CreateVertex(ctx, graph.NewVertex{Label: label, Props: props, Keys: []string{"id"}})
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	return ref
}

func find(t *testing.T, st graph.Store, key schema.Value) (graph.Vertex, bool) {
	t.Helper()
	ctx := context.Background()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)
	v, ok, err := tx.FindVertex(ctx, "id", key)
	require.NoError(t, err)
	return v, ok
}

func count(t *testing.T, st graph.Store) (int64, int64) {
	t.Helper()
	c, ok := st.(graph.Counter)
	if !ok {
		t.Skipf("%T does not implement graph.Counter", st)
	}
	ctx := context.Background()
	nv, err := c.CountVertices(ctx)
	require.NoError(t, err)
	ne, err := c.CountEdges(ctx)
	require.NoError(t, err)
	return nv, ne
}

func testCreateAndFind(t *testing.T, st graph.Store) {
	defer st.Close()

	ref := create(t, st, "person", person(1, "Alice", "a@x.com", "b@x.com"))
	assert.NotEmpty(t, ref.ID)
	assert.Equal(t, "person", ref.Label)

	v, ok := find(t, st, schema.Int(1))
	require.True(t, ok, "vertex should be found by key")
	assert.Equal(t, ref.ID, v.ID)
	assert.Equal(t, "person", v.Label)

	email := v.Props["email"]
	assert.Equal(t, schema.CardinalityList, email.Cardinality)
	require.Len(t, email.Values, 2)
	assert.Equal(t, "a@x.com", email.Values[0].Str())
	assert.Equal(t, "b@x.com", email.Values[1].Str())

	_, ok = find(t, st, schema.String("1"))
	assert.False(t, ok, "string key must not match integer key")
	_, ok = find(t, st, schema.Int(2))
	assert.False(t, ok)

	empty := create(t, st, "person", person(2, "Bob"))
	v, ok = find(t, st, schema.Int(2))
	require.True(t, ok)
	assert.Equal(t, empty.ID, v.ID)
	assert.Equal(t, schema.CardinalityList, v.Props["email"].Cardinality)
	assert.Empty(t, v.Props["email"].Values)
}

func testRollbackDiscards(t *testing.T, st graph.Store) {
	defer st.Close()
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.CreateVertex(ctx, graph.NewVertex{Label: "person", Props: person(1, "Alice"), Keys: []string{"id"}})
	require.NoError(t, err)

	// Visible inside the transaction.
	_, ok, err := tx.FindVertex(ctx, "id", schema.Int(1))
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Rollback(ctx))

	_, ok = find(t, st, schema.Int(1))
	assert.False(t, ok, "rolled back vertex must not be visible")
}

func testUpdateReplaces(t *testing.T, st graph.Store) {
	defer st.Close()
	ctx := context.Background()

	ref := create(t, st, "person", person(1, "Alice", "a@x.com"))

	for i := 0; i < 2; i++ {
		tx, err := st.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.UpdateVertex(ctx, ref.ID, schema.Record{
			"email": schema.ListOf(schema.KindString, schema.String("a@x.com"), schema.String("c@x.com")),
		}))
		require.NoError(t, tx.Commit(ctx))
	}

	v, ok := find(t, st, schema.Int(1))
	require.True(t, ok)
	assert.Len(t, v.Props["email"].Values, 2, "updates replace list properties")
	name, _ := v.Props["name"].Single()
	assert.Equal(t, "Alice", name.Str(), "untouched properties are kept")

	nv, _ := count(t, st)
	assert.EqualValues(t, 1, nv)
}

func testDuplicateKey(t *testing.T, st graph.Store) {
	defer st.Close()
	ctx := context.Background()

	create(t, st, "person", person(1, "Alice"))

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.CreateVertex(ctx, graph.NewVertex{Label: "person", Props: person(1, "Clone"), Keys: []string{"id"}})
	if err == nil {
		err = tx.Commit(ctx)
	} else {
		_ = tx.Rollback(ctx)
	}
	require.Error(t, err, "second vertex with the same key must fail")
	assert.True(t, graph.IsTransient(err), "duplicate key should be transient, got %v", err)

	nv, _ := count(t, st)
	assert.EqualValues(t, 1, nv)
}

// testConcurrentResolve races several writers resolving the same key. Losers
// must see transient errors and, after retrying, the winner's vertex.
func testConcurrentResolve(t *testing.T, st graph.Store) {
	defer st.Close()
	ctx := context.Background()
	res := graph.Resolver{CreateMissing: true}

	const writers = 6
	ids := make([]graph.VertexID, writers)
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for attempt := 0; attempt < 50; attempt++ {
				ref, err := resolveOnce(ctx, st, res, w)
				if err == nil {
					ids[w] = ref.ID
					return
				}
				if !graph.IsTransient(err) {
					errs <- fmt.Errorf("writer %d: %w", w, err)
					return
				}
				time.Sleep(time.Duration(attempt+1) * 5 * time.Millisecond)
			}
			errs <- fmt.Errorf("writer %d: gave up", w)
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for w := 1; w < writers; w++ {
		assert.Equal(t, ids[0], ids[w], "all writers must resolve to one vertex")
	}
	nv, _ := count(t, st)
	assert.EqualValues(t, 1, nv)
}

func resolveOnce(ctx context.Context, st graph.Store, res graph.Resolver, w int) (graph.VertexRef, error) {
	tx, err := st.Begin(ctx)
	if err != nil {
		return graph.VertexRef{}, err
	}
	ref, _, err := res.ResolveOrCreate(ctx, tx, "id", schema.Int(42), "person",
		schema.Record{"name": schema.SingleOf(schema.String(fmt.Sprintf("writer-%d", w)))})
	if err != nil {
		_ = tx.Rollback(ctx)
		return graph.VertexRef{}, err
	}
	return ref, tx.Commit(ctx)
}

func testEdges(t *testing.T, st graph.Store) {
	defer st.Close()
	ctx := context.Background()

	a := create(t, st, "person", person(1, "Alice"))
	b := create(t, st, "person", person(2, "Bob"))

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	id, err := tx.CreateEdge(ctx, "knows", a.ID, b.ID, schema.Record{
		"since": schema.SingleOf(schema.Int(2011)),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	require.NoError(t, tx.Commit(ctx))

	_, ne := count(t, st)
	assert.EqualValues(t, 1, ne)

	tx, err = st.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.CreateEdge(ctx, "knows", a.ID, graph.VertexID("does-not-exist"), nil)
	if err == nil {
		err = tx.Commit(ctx)
	} else {
		_ = tx.Rollback(ctx)
	}
	assert.Error(t, err, "edge to a missing vertex must fail")
	_, ne = count(t, st)
	assert.EqualValues(t, 1, ne)
}

func testTxDone(t *testing.T, st graph.Store) {
	defer st.Close()
	ctx := context.Background()

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.True(t, errors.Is(tx.Commit(ctx), graph.ErrTxDone))
	_, _, err = tx.FindVertex(ctx, "id", schema.Int(1))
	assert.True(t, errors.Is(err, graph.ErrTxDone))
	assert.NoError(t, tx.Rollback(ctx), "rollback after commit is a no-op")
}

func testSchema(t *testing.T, st graph.Store) {
	defer st.Close()
	ctx := context.Background()

	d, ok := st.(graph.SchemaDeclarer)
	if !ok {
		t.Skipf("%T does not take schema declarations", st)
	}
	sc := graph.Schema{
		VertexLabels: []string{"person"},
		EdgeLabels:   []string{"knows"},
		Properties: map[string]schema.PropertyType{
			"id":    {Kind: schema.KindInteger},
			"name":  {Kind: schema.KindString},
			"email": {Kind: schema.KindString, Cardinality: schema.CardinalityList},
		},
		KeyProperties: []string{"id"},
	}
	require.NoError(t, d.DeclareSchema(ctx, sc))
	require.NoError(t, d.DeclareSchema(ctx, sc), "redeclaring is idempotent")

	r, ok := st.(graph.SchemaReader)
	if !ok {
		return
	}
	keys, err := r.PropertyKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, sc.Properties["email"].Cardinality, keys["email"].Cardinality)
	assert.Equal(t, schema.KindInteger, keys["id"].Kind)

	bad := graph.Schema{Properties: map[string]schema.PropertyType{"email": {Kind: schema.KindString}}}
	assert.True(t, schema.IsMismatch(d.DeclareSchema(ctx, bad)))

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.CreateVertex(ctx, graph.NewVertex{
		Label: "person",
		Props: schema.Record{
			"id":    schema.SingleOf(schema.Int(1)),
			"email": schema.SingleOf(schema.String("a@x.com")),
		},
		Keys: []string{"id"},
	})
	_ = tx.Rollback(ctx)
	assert.True(t, schema.IsMismatch(err), "write with wrong cardinality must fail with a mismatch, got %v", err)
}

func testReset(t *testing.T, st graph.Store) {
	defer st.Close()
	ctx := context.Background()

	r, ok := st.(graph.Resetter)
	if !ok {
		t.Skipf("%T cannot be reset", st)
	}
	a := create(t, st, "person", person(1, "Alice"))
	b := create(t, st, "person", person(2, "Bob"))
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	_, err = tx.CreateEdge(ctx, "knows", a.ID, b.ID, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	require.NoError(t, r.Reset(ctx))
	nv, ne := count(t, st)
	assert.EqualValues(t, 0, nv)
	assert.EqualValues(t, 0, ne)

	_, ok = find(t, st, schema.Int(1))
	assert.False(t, ok)
	create(t, st, "person", person(1, "Alice again"))
}
