package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphload/internal/graph"
	"graphload/internal/graph/graphtest"
	"graphload/internal/schema"
)

func TestMemoryStore(t *testing.T) {
	graphtest.Run(t, func(t *testing.T) graph.Store { return New() })
}

// TestMemoryStore_CommitDetectsKeyRace creates the same key in two open
// transactions; the later commit must fail with a transient error.
func TestMemoryStore_CommitDetectsKeyRace(t *testing.T) {
	ctx := context.Background()
	s := New()

	props := schema.Record{"id": schema.SingleOf(schema.Int(7))}
	tx1, err := s.Begin(ctx)
	require.NoError(t, err)
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)

	_, err = tx1.CreateVertex(ctx, graph.NewVertex{Label: "v", Props: props, Keys: []string{"id"}})
	require.NoError(t, err)
	_, err = tx2.CreateVertex(ctx, graph.NewVertex{Label: "v", Props: props, Keys: []string{"id"}})
	require.NoError(t, err, "neither transaction has committed yet")

	require.NoError(t, tx1.Commit(ctx))
	err = tx2.Commit(ctx)
	require.Error(t, err)
	assert.True(t, graph.IsTransient(err))
	assert.Len(t, s.Vertices(), 1)
	assert.Equal(t, 1, s.Commits())
}

func TestMemoryStore_Registered(t *testing.T) {
	st, err := graph.Open(context.Background(), graph.Config{Kind: "memory"})
	require.NoError(t, err)
	defer st.Close()
	assert.IsType(t, &Store{}, st)
	assert.Contains(t, graph.Kinds(), "memory")
}

func TestMemoryStore_ClosedBeginIsConnectionError(t *testing.T) {
	s := New()
	require.NoError(t, s.Close())
	_, err := s.Begin(context.Background())
	assert.True(t, graph.IsConnection(err))
}
