package graph_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphload/internal/graph"
	"graphload/internal/graph/memory"
	"graphload/internal/schema"
)

func TestResolveOrCreate(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	res := graph.Resolver{CreateMissing: true}

	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	ref, created, err := res.ResolveOrCreate(ctx, tx, "id", schema.Int(1), "person",
		schema.Record{"name": schema.SingleOf(schema.String("Alice"))})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := res.ResolveOrCreate(ctx, tx, "id", schema.Int(1), "person",
		schema.Record{"name": schema.SingleOf(schema.String("Alicia"))})
	require.NoError(t, err)
	assert.False(t, created, "second resolve in the same tx sees the first create")
	assert.Equal(t, ref.ID, again.ID)
	require.NoError(t, tx.Commit(ctx))

	v, ok := st.VertexByKey("id", schema.Int(1))
	require.True(t, ok)
	name, _ := v.Props["name"].Single()
	assert.Equal(t, "Alicia", name.Str())
	id, ok := graph.KeyOf(v.Props, "id")
	require.True(t, ok, "key property is added when missing from props")
	assert.EqualValues(t, 1, id.Int())
}

func TestResolveOrCreate_NotFound(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	tx, err := st.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	_, _, err = graph.Resolver{}.ResolveOrCreate(ctx, tx, "id", schema.Int(9), "person", nil)
	var nf *graph.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "id", nf.KeyProp)
	assert.True(t, graph.IsNotFound(fmt.Errorf("wrap: %w", err)))

	_, _, err = graph.Resolver{CreateMissing: true}.ResolveOrCreate(ctx, tx, "id", schema.Value{}, "person", nil)
	assert.Error(t, err, "invalid key")
}

func TestErrorTaxonomy(t *testing.T) {
	cause := errors.New("boom")
	assert.Nil(t, graph.Transient("op", nil))
	assert.Nil(t, graph.Connection("op", nil))

	te := fmt.Errorf("batch 3: %w", graph.Transient("commit", cause))
	assert.True(t, graph.IsTransient(te))
	assert.False(t, graph.IsConnection(te))
	assert.ErrorIs(t, te, cause)

	ce := graph.Connection("begin", cause)
	assert.True(t, graph.IsConnection(ce))
	assert.False(t, graph.IsTransient(ce))

	dk := graph.DuplicateKey("id", schema.Int(1))
	assert.True(t, graph.IsTransient(dk))
	assert.ErrorIs(t, dk, graph.ErrDuplicateKey)
}

func TestOpen_UnknownKind(t *testing.T) {
	_, err := graph.Open(context.Background(), graph.Config{Kind: "nope"})
	assert.ErrorContains(t, err, `kind="nope"`)
}

func TestBootstrapAndPreflight(t *testing.T) {
	ctx := context.Background()
	st := memory.New()
	sc := graph.Schema{
		VertexLabels:  []string{"person"},
		Properties:    map[string]schema.PropertyType{"email": {Kind: schema.KindString, Cardinality: schema.CardinalityList}},
		KeyProperties: []string{"id"},
	}
	require.NoError(t, graph.Bootstrap(ctx, st, sc, true))

	ok := schema.Record{"email": schema.ListOf(schema.KindString)}
	assert.NoError(t, graph.Preflight(ctx, st, ok))

	bad := schema.Record{"email": schema.SingleOf(schema.String("a@x.com"))}
	assert.True(t, schema.IsMismatch(graph.Preflight(ctx, st, bad)))

	sc.Properties["email"] = schema.PropertyType{Kind: schema.KindString}
	assert.True(t, schema.IsMismatch(graph.Bootstrap(ctx, st, sc, false)))
}
