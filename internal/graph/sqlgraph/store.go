package sqlgraph

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"graphload/internal/graph"
	"graphload/internal/schema"
)

// Store is a graph.Store over a database/sql pool.
type Store struct {
	db *sql.DB
	d  Dialect
	q  statements

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

// statements are the shared queries rebound for one dialect.
type statements struct {
	findKey, insertKey, insertVertex, lockVertex, updateVertex string
	insertEdge, vertexExists, propertyKeys, insertPropKey      string
	updatePropKey, labelExists, insertLabel                    string
	countVertices, countEdges, outEdges                        string
}

func rebindAll(d Dialect) statements {
	lock := d.LockVertex
	if lock == "" {
		lock = SQLSelectVertex
	}
	return statements{
		findKey:       d.Rebind(SQLFindKey),
		insertKey:     d.Rebind(SQLInsertKey),
		insertVertex:  d.Rebind(SQLInsertVertex),
		lockVertex:    d.Rebind(lock),
		updateVertex:  d.Rebind(SQLUpdateVertex),
		insertEdge:    d.Rebind(SQLInsertEdge),
		vertexExists:  d.Rebind(SQLVertexExists),
		propertyKeys:  d.Rebind(SQLPropertyKeys),
		insertPropKey: d.Rebind(SQLInsertPropKey),
		updatePropKey: d.Rebind(SQLUpdatePropKey),
		labelExists:   d.Rebind(SQLLabelExists),
		insertLabel:   d.Rebind(SQLInsertLabel),
		countVertices: d.Rebind(SQLCountVertices),
		countEdges:    d.Rebind(SQLCountEdges),
		outEdges:      d.Rebind(SQLSelectOutEdges),
	}
}

// PoolOptions tunes the database/sql pool.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open opens driverName/dsn, pings it, creates the tables and loads the
// declared property keys. Failures to reach the database are connection
// errors.
func Open(ctx context.Context, driverName, dsn string, d Dialect, po PoolOptions) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, graph.Connection(d.Name+" open", err)
	}
	if po.MaxOpenConns > 0 {
		db.SetMaxOpenConns(po.MaxOpenConns)
	}
	if po.MaxIdleConns > 0 {
		db.SetMaxIdleConns(po.MaxIdleConns)
	}
	if po.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(po.ConnMaxLifetime)
	}
	return NewStore(ctx, db, d)
}

// NewStore wraps an already opened pool.
func NewStore(ctx context.Context, db *sql.DB, d Dialect) (*Store, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, graph.Connection(d.Name+" ping", err)
	}
	for _, stmt := range d.CreateTables {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: create tables: %w", d.Name, err)
		}
	}
	s := &Store{db: db, d: d, q: rebindAll(d), declared: map[string]schema.PropertyType{}}
	if err := s.loadDeclared(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the pool for dialect-specific helpers and tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.d.Classify != nil {
		if cerr := s.d.Classify(op, err); cerr != nil {
			return cerr
		}
	}
	return ClassifyCommon(s.d.Name+" "+op, err)
}

// ClassifyCommon recognizes driver-independent connection failures. Other
// errors are wrapped with op.
func ClassifyCommon(op string, err error) error {
	if err == nil {
		return nil
	}
	if graph.IsTransient(err) || graph.IsConnection(err) {
		return err
	}
	var ne net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &ne) {
		return graph.Connection(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *Store) loadDeclared(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, s.q.propertyKeys)
	if err != nil {
		return s.classify("load property keys", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return s.classify("load property keys", err)
		}
		pt, err := schema.DecodeType(typ)
		if err != nil {
			return fmt.Errorf("%s: property key %q: %w", s.d.Name, name, err)
		}
		s.declared[name] = pt
	}
	return s.classify("load property keys", rows.Err())
}

func (s *Store) check(props schema.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schema.CheckDeclared(s.declared, props)
}

// Begin starts a transaction. A failure that is not transient is reported
// as a connection error.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		cerr := s.classify("begin", err)
		if graph.IsTransient(cerr) {
			return nil, cerr
		}
		return nil, graph.Connection(s.d.Name+" begin", err)
	}
	return &tx{s: s, tx: sqlTx}, nil
}

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

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

// DeclareSchema stores property keys and labels in one transaction.
func (s *Store) DeclareSchema(ctx context.Context, sc graph.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, pt := range sc.Properties {
		if cur, ok := s.declared[name]; ok && !cur.Compatible(pt) {
			return &schema.MismatchError{Property: name, Declared: cur, Got: pt}
		}
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify("declare schema", err)
	}
	defer sqlTx.Rollback()

	for name, pt := range sc.Properties {
		enc := schema.EncodeType(pt)
		if _, ok := s.declared[name]; ok {
			if _, err := sqlTx.ExecContext(ctx, s.q.updatePropKey, enc, name); err != nil {
				return s.classify("declare property "+name, err)
			}
			continue
		}
		if _, err := sqlTx.ExecContext(ctx, s.q.insertPropKey, name, enc); err != nil {
			return s.classify("declare property "+name, err)
		}
	}
	labels := func(kind string, names []string) error {
		for _, l := range names {
			var n int
			if err := sqlTx.QueryRowContext(ctx, s.q.labelExists, kind, l).Scan(&n); err != nil {
				return s.classify("declare label "+l, err)
			}
			if n > 0 {
				continue
			}
			if _, err := sqlTx.ExecContext(ctx, s.q.insertLabel, kind, l); err != nil {
				return s.classify("declare label "+l, err)
			}
		}
		return nil
	}
	if err := labels(LabelVertex, sc.VertexLabels); err != nil {
		return err
	}
	if err := labels(LabelEdge, sc.EdgeLabels); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify("declare schema", err)
	}
	for name, pt := range sc.Properties {
		s.declared[name] = pt
	}
	return nil
}

// Reset empties every graph table.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.classify("reset", err)
	}
	defer sqlTx.Rollback()
	for _, stmt := range ResetStatements {
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return s.classify("reset", err)
		}
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify("reset", err)
	}
	s.declared = map[string]schema.PropertyType{}
	return nil
}

func (s *Store) countRows(ctx context.Context, q string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, s.classify("count", err)
	}
	return n, nil
}

func (s *Store) CountVertices(ctx context.Context) (int64, error) {
	return s.countRows(ctx, s.q.countVertices)
}

func (s *Store) CountEdges(ctx context.Context) (int64, error) {
	return s.countRows(ctx, s.q.countEdges)
}

// OutEdges returns the edges leaving id, ordered by edge ID.
func (s *Store) OutEdges(ctx context.Context, id graph.VertexID) ([]graph.Edge, error) {
	rows, err := s.db.QueryContext(ctx, s.q.outEdges, string(id))
	if err != nil {
		return nil, s.classify("out edges", err)
	}
	defer rows.Close()
	var out []graph.Edge
	for rows.Next() {
		var eid, label, to, props string
		if err := rows.Scan(&eid, &label, &to, &props); err != nil {
			return nil, s.classify("out edges", err)
		}
		rec, err := schema.DecodeRecord([]byte(props))
		if err != nil {
			return nil, err
		}
		out = append(out, graph.Edge{ID: graph.EdgeID(eid), Label: label, From: id, To: graph.VertexID(to), Props: rec})
	}
	return out, s.classify("out edges", rows.Err())
}
