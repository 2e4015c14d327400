// Package sqlgraph stores a property graph in four relational tables and
// implements graph.Store over database/sql. SQL text is written once with '?'
// placeholders; a Dialect rebinds it and supplies the DDL and the error
// classification of its driver.
//
//	graph_vertices      (id PK, label, props)
//	graph_vertex_keys   (key_name, key_value) PK -> vertex_id
//	graph_edges         (id PK, label, from_id, to_id, props)
//	graph_property_keys (name PK, type)
//	graph_labels        (kind, name) PK
//
// The primary key of graph_vertex_keys is the unique key index: a second
// insert of the same (key_name, key_value) fails with a unique violation,
// which every dialect classifies as transient.
package sqlgraph

import (
	"strconv"
	"strings"
)

// Dialect carries the per-database differences.
type Dialect struct {
	// Name is the registry kind, e.g. "sqlite".
	Name string

	// Bind renders the i-th (1-based) placeholder. Nil means '?'.
	Bind func(i int) string

	// CreateTables is run at open; statements must be idempotent.
	CreateTables []string

	// LockVertex selects label and props of one vertex (by id) and locks the
	// row for the rest of the transaction.
	LockVertex string

	// Classify maps a driver error onto the graph error taxonomy. It returns
	// nil for nil.
	Classify func(op string, err error) error
}

// Rebind rewrites '?' placeholders for the dialect. Question marks inside
// single-quoted literals are left alone.
func (d Dialect) Rebind(q string) string {
	if d.Bind == nil {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	inQuote := false
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '?' && !inQuote:
			n++
			b.WriteString(d.Bind(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// DollarBind renders $1, $2, ... (PostgreSQL).
func DollarBind(i int) string { return "$" + strconv.Itoa(i) }

// AtPBind renders @p1, @p2, ... (SQL Server).
func AtPBind(i int) string { return "@p" + strconv.Itoa(i) }

// Shared statements. Table names are fixed.
const (
	SQLFindKey = `SELECT v.id, v.label, v.props FROM graph_vertex_keys k
JOIN graph_vertices v ON v.id = k.vertex_id
WHERE k.key_name = ? AND k.key_value = ?`
	SQLInsertKey      = `INSERT INTO graph_vertex_keys (key_name, key_value, vertex_id) VALUES (?, ?, ?)`
	SQLInsertVertex   = `INSERT INTO graph_vertices (id, label, props) VALUES (?, ?, ?)`
	SQLSelectVertex   = `SELECT label, props FROM graph_vertices WHERE id = ?`
	SQLUpdateVertex   = `UPDATE graph_vertices SET props = ? WHERE id = ?`
	SQLInsertEdge     = `INSERT INTO graph_edges (id, label, from_id, to_id, props) VALUES (?, ?, ?, ?, ?)`
	SQLVertexExists   = `SELECT COUNT(*) FROM graph_vertices WHERE id = ?`
	SQLPropertyKeys   = `SELECT name, type FROM graph_property_keys`
	SQLInsertPropKey  = `INSERT INTO graph_property_keys (name, type) VALUES (?, ?)`
	SQLUpdatePropKey  = `UPDATE graph_property_keys SET type = ? WHERE name = ?`
	SQLLabelExists    = `SELECT COUNT(*) FROM graph_labels WHERE kind = ? AND name = ?`
	SQLInsertLabel    = `INSERT INTO graph_labels (kind, name) VALUES (?, ?)`
	SQLCountVertices  = `SELECT COUNT(*) FROM graph_vertices`
	SQLCountEdges     = `SELECT COUNT(*) FROM graph_edges`
	SQLSelectOutEdges = `SELECT id, label, to_id, props FROM graph_edges WHERE from_id = ? ORDER BY id`
)

// ResetStatements empty every table (children first).
var ResetStatements = []string{
	`DELETE FROM graph_edges`,
	`DELETE FROM graph_vertex_keys`,
	`DELETE FROM graph_vertices`,
	`DELETE FROM graph_property_keys`,
	`DELETE FROM graph_labels`,
}

// Label kinds stored in graph_labels.kind.
const (
	LabelVertex = "vertex"
	LabelEdge   = "edge"
)

// StandardTables is the DDL for databases that support CREATE TABLE IF NOT
// EXISTS with VARCHAR/TEXT (SQLite, PostgreSQL, MySQL). textType is the
// unbounded text column type.
func StandardTables(textType string) []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS graph_vertices (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	label VARCHAR(255) NOT NULL,
	props ` + textType + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS graph_vertex_keys (
	key_name VARCHAR(191) NOT NULL,
	key_value VARCHAR(512) NOT NULL,
	vertex_id VARCHAR(64) NOT NULL,
	PRIMARY KEY (key_name, key_value)
)`,
		`CREATE TABLE IF NOT EXISTS graph_edges (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	label VARCHAR(255) NOT NULL,
	from_id VARCHAR(64) NOT NULL,
	to_id VARCHAR(64) NOT NULL,
	props ` + textType + ` NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS graph_property_keys (
	name VARCHAR(191) NOT NULL PRIMARY KEY,
	type VARCHAR(255) NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS graph_labels (
	kind VARCHAR(16) NOT NULL,
	name VARCHAR(191) NOT NULL,
	PRIMARY KEY (kind, name)
)`,
	}
}
