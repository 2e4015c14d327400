// Package postgres stores the graph in PostgreSQL through a pgx v5 connection
// pool. It shares the table layout and SQL of sqlgraph but talks to pgx
// directly. It registers the "postgres" store kind.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"graphload/internal/graph"
	"graphload/internal/graph/sqlgraph"
	"graphload/internal/schema"
)

func init() {
	graph.Register("postgres", func(ctx context.Context, cfg graph.Config) (graph.Store, error) {
		return Open(ctx, cfg.DSN, cfg.Options.Int("max_conns", 0))
	})
}

// SQLSTATE codes a retried transaction can get past.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Dialect carries the PostgreSQL DDL and placeholders.
var Dialect = sqlgraph.Dialect{
	Name:         "postgres",
	Bind:         sqlgraph.DollarBind,
	CreateTables: append(sqlgraph.StandardTables("TEXT"), `CREATE INDEX IF NOT EXISTS graph_edges_from_idx ON graph_edges (from_id)`),
	LockVertex:   sqlgraph.SQLSelectVertex + " FOR UPDATE",
	Classify:     classify,
}

var (
	qFindKey      = Dialect.Rebind(sqlgraph.SQLFindKey)
	qInsertKey    = Dialect.Rebind(sqlgraph.SQLInsertKey)
	qInsertVertex = Dialect.Rebind(sqlgraph.SQLInsertVertex)
	qLockVertex   = Dialect.Rebind(Dialect.LockVertex)
	qUpdateVertex = Dialect.Rebind(sqlgraph.SQLUpdateVertex)
	qInsertEdge   = Dialect.Rebind(sqlgraph.SQLInsertEdge)
	qVertexExists = Dialect.Rebind(sqlgraph.SQLVertexExists)
	qPropKeys     = Dialect.Rebind(sqlgraph.SQLPropertyKeys)
	qUpsertProp   = `INSERT INTO graph_property_keys (name, type) VALUES ($1, $2) ON CONFLICT (name) DO UPDATE SET type = EXCLUDED.type`
	qUpsertLabel  = `INSERT INTO graph_labels (kind, name) VALUES ($1, $2) ON CONFLICT DO NOTHING`
)

func newID() string { return uuid.NewString() }

// Store is a graph.Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool

	mu       sync.RWMutex
	declared map[string]schema.PropertyType
}

var (
	_ graph.Store          = (*Store)(nil)
	_ graph.SchemaReader   = (*Store)(nil)
	_ graph.SchemaDeclarer = (*Store)(nil)
	_ graph.Resetter       = (*Store)(nil)
	_ graph.Counter        = (*Store)(nil)
)

// Open connects to dsn (a libpq URL or key=value string), creates the graph
// tables and loads the declared property keys. maxConns <= 0 keeps the pgx
// default.
func Open(ctx context.Context, dsn string, maxConns int) (*Store, error) {
	pcfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres dsn: %w", err)
	}
	if maxConns > 0 {
		pcfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, graph.Connection("postgres pool", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, graph.Connection("postgres ping", err)
	}
	for _, stmt := range Dialect.CreateTables {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: create tables: %w", err)
		}
	}
	s := &Store{pool: pool, declared: map[string]schema.PropertyType{}}
	if err := s.loadDeclared(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case codeUniqueViolation, codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
			return graph.Transient("postgres "+op, err)
		}
		if len(pe.Code) == 5 && pe.Code[:2] == "08" {
			return graph.Connection("postgres "+op, err)
		}
		return nil
	}
	var ce *pgconn.ConnectError
	if errors.As(err, &ce) || (pgconn.Timeout(err) && !errors.Is(err, context.DeadlineExceeded)) {
		return graph.Connection("postgres "+op, err)
	}
	return nil
}

func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if cerr := classify(op, err); cerr != nil {
		return cerr
	}
	return sqlgraph.ClassifyCommon("postgres "+op, err)
}

func (s *Store) loadDeclared(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, qPropKeys)
	if err != nil {
		return s.wrap("load property keys", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return s.wrap("load property keys", err)
		}
		pt, err := schema.DecodeType(typ)
		if err != nil {
			return fmt.Errorf("postgres: property key %q: %w", name, err)
		}
		s.declared[name] = pt
	}
	return s.wrap("load property keys", rows.Err())
}

func (s *Store) check(props schema.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schema.CheckDeclared(s.declared, props)
}

// Begin starts a READ COMMITTED transaction.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	ptx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		cerr := s.wrap("begin", err)
		if graph.IsTransient(cerr) {
			return nil, cerr
		}
		return nil, graph.Connection("postgres begin", err)
	}
	return &tx{s: s, tx: ptx}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
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

// DeclareSchema upserts property keys and labels in one pgx batch.
func (s *Store) DeclareSchema(ctx context.Context, sc graph.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, pt := range sc.Properties {
		if cur, ok := s.declared[name]; ok && !cur.Compatible(pt) {
			return &schema.MismatchError{Property: name, Declared: cur, Got: pt}
		}
	}
	b := &pgx.Batch{}
	for name, pt := range sc.Properties {
		b.Queue(qUpsertProp, name, schema.EncodeType(pt))
	}
	for _, l := range sc.VertexLabels {
		b.Queue(qUpsertLabel, sqlgraph.LabelVertex, l)
	}
	for _, l := range sc.EdgeLabels {
		b.Queue(qUpsertLabel, sqlgraph.LabelEdge, l)
	}
	err := pgx.BeginFunc(ctx, s.pool, func(ptx pgx.Tx) error {
		return ptx.SendBatch(ctx, b).Close()
	})
	if err != nil {
		return s.wrap("declare schema", err)
	}
	for name, pt := range sc.Properties {
		s.declared[name] = pt
	}
	return nil
}

// Reset truncates every graph table.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.pool.Exec(ctx, `TRUNCATE graph_edges, graph_vertex_keys, graph_vertices, graph_property_keys, graph_labels`)
	if err != nil {
		return s.wrap("reset", err)
	}
	s.declared = map[string]schema.PropertyType{}
	return nil
}

func (s *Store) count(ctx context.Context, q string) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, q).Scan(&n); err != nil {
		return 0, s.wrap("count", err)
	}
	return n, nil
}

func (s *Store) CountVertices(ctx context.Context) (int64, error) {
	return s.count(ctx, sqlgraph.SQLCountVertices)
}

func (s *Store) CountEdges(ctx context.Context) (int64, error) {
	return s.count(ctx, sqlgraph.SQLCountEdges)
}

type tx struct {
	s    *Store
	tx   pgx.Tx
	done bool
}

func (t *tx) FindVertex(ctx context.Context, keyProp string, key schema.Value) (graph.Vertex, bool, error) {
	if t.done {
		return graph.Vertex{}, false, graph.ErrTxDone
	}
	var id, label, props string
	err := t.tx.QueryRow(ctx, qFindKey, keyProp, key.Canonical()).Scan(&id, &label, &props)
	if errors.Is(err, pgx.ErrNoRows) {
		return graph.Vertex{}, false, nil
	}
	if err != nil {
		return graph.Vertex{}, false, t.s.wrap("find vertex", err)
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
	id := newID()
	if _, err := t.tx.Exec(ctx, qInsertVertex, id, nv.Label, string(b)); err != nil {
		return graph.VertexRef{}, t.s.wrap("create vertex", err)
	}
	for _, prop := range nv.Keys {
		val, ok := graph.KeyOf(nv.Props, prop)
		if !ok {
			return graph.VertexRef{}, fmt.Errorf("create vertex: key %q missing or not a single value", prop)
		}
		if _, err := t.tx.Exec(ctx, qInsertKey, prop, val.Canonical(), id); err != nil {
			return graph.VertexRef{}, t.s.wrap("create vertex key "+prop, err)
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
	err := t.tx.QueryRow(ctx, qLockVertex, string(id)).Scan(&label, &cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update vertex %s: no such vertex", id)
	}
	if err != nil {
		return t.s.wrap("update vertex", err)
	}
	rec, err := schema.DecodeRecord([]byte(cur))
	if err != nil {
		return err
	}
	b, err := schema.EncodeRecord(rec.Merge(props))
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(ctx, qUpdateVertex, string(b), string(id)); err != nil {
		return t.s.wrap("update vertex", err)
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
		var n int64
		if err := t.tx.QueryRow(ctx, qVertexExists, string(end)).Scan(&n); err != nil {
			return "", t.s.wrap("create edge", err)
		}
		if n == 0 {
			return "", fmt.Errorf("create edge %s: vertex %s does not exist", label, end)
		}
	}
	b, err := schema.EncodeRecord(props)
	if err != nil {
		return "", err
	}
	id := newID()
	if _, err := t.tx.Exec(ctx, qInsertEdge, id, label, string(from), string(to), string(b)); err != nil {
		return "", t.s.wrap("create edge", err)
	}
	return graph.EdgeID(id), nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return graph.ErrTxDone
	}
	t.done = true
	return t.s.wrap("commit", t.tx.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return t.s.wrap("rollback", err)
	}
	return nil
}
