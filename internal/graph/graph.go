// Package graph defines the contract between the bulk loader and a graph
// store: transactional vertex and edge writes, lookup of a vertex by a
// business key, the error taxonomy the loader's retry policy depends on, and a
// registry that maps a store kind ("memory", "badger", "postgres", ...) to a
// factory.
//
// Backends live in subpackages and register themselves in init. Importing
// graphload/internal/graph/all wires every built-in backend.
package graph

import (
	"context"

	"graphload/internal/schema"
)

// VertexID is an opaque, store-issued vertex identifier.
type VertexID string

// EdgeID is an opaque, store-issued edge identifier.
type EdgeID string

// VertexRef identifies a vertex inside one transaction. Refs are never cached
// across batches.
type VertexRef struct {
	ID    VertexID
	Label string
}

// Vertex is a stored vertex with its properties.
type Vertex struct {
	ID    VertexID
	Label string
	Props schema.Record
}

// Ref returns the vertex reference.
func (v Vertex) Ref() VertexRef { return VertexRef{ID: v.ID, Label: v.Label} }

// Edge is a stored edge.
type Edge struct {
	ID    EdgeID
	Label string
	From  VertexID
	To    VertexID
	Props schema.Record
}

// NewVertex describes a vertex to create. Keys names the properties that
// enter the store's unique key index; each must be a single value in Props.
type NewVertex struct {
	Label string
	Props schema.Record
	Keys  []string
}

// Store opens transactions against a graph. Implementations must allow
// concurrent transactions from many goroutines.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one unit of work. A Tx is used by a single goroutine. After Commit
// or Rollback every method returns ErrTxDone; Rollback after Commit is a
// no-op so it can be deferred.
type Tx interface {
	// FindVertex looks a vertex up through the unique key index.
	FindVertex(ctx context.Context, keyProp string, key schema.Value) (Vertex, bool, error)

	// CreateVertex adds a vertex. A key that is already taken, here or by a
	// concurrent transaction, fails with a transient error no later than
	// Commit.
	CreateVertex(ctx context.Context, v NewVertex) (VertexRef, error)

	// UpdateVertex replaces each property in props on the vertex; properties
	// not named in props are kept. The key index is not changed.
	UpdateVertex(ctx context.Context, id VertexID, props schema.Record) error

	// CreateEdge adds a directed edge between two existing vertices.
	CreateEdge(ctx context.Context, label string, from, to VertexID, props schema.Record) (EdgeID, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Schema is what a job declares before loading.
type Schema struct {
	VertexLabels  []string
	EdgeLabels    []string
	Properties    map[string]schema.PropertyType
	KeyProperties []string
}

// SchemaReader is implemented by stores that know their declared property
// keys. The loader runs a pre-flight check against it.
type SchemaReader interface {
	PropertyKeys(ctx context.Context) (map[string]schema.PropertyType, error)
}

// SchemaDeclarer is implemented by stores that accept schema declarations.
// Declaring a property that already exists with another kind or cardinality
// fails with *schema.MismatchError.
type SchemaDeclarer interface {
	DeclareSchema(ctx context.Context, s Schema) error
}

// Resetter is implemented by stores that can drop all graph data and
// declarations.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Counter is implemented by stores that can count their contents. It is used
// by tests and by the CLI summary.
type Counter interface {
	CountVertices(ctx context.Context) (int64, error)
	CountEdges(ctx context.Context) (int64, error)
}
