// Package badger is an embedded, persistent graph store on BadgerDB v4.
//
// Key layout (first byte is the prefix):
//
//	0x01 vertexID                      -> vertex JSON (label + encoded props)
//	0x02 edgeID                        -> edge JSON
//	0x03 keyProp 0x00 canonical value  -> vertexID (unique key index)
//	0x04 fromID 0x00 edgeID            -> empty (outgoing adjacency)
//	0x05 toID 0x00 edgeID              -> empty (incoming adjacency)
//	0x06 property name                 -> encoded property type
//	0x07 0x00|0x01 label               -> empty (vertex / edge labels)
//
// Transactions are Badger's optimistic transactions: a concurrent write to a
// key this transaction read (for example the key index entry of a vertex two
// workers both create) fails Commit with badger.ErrConflict, which is
// reported as a transient error so the batch is retried.
package badger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"graphload/internal/graph"
	"graphload/internal/schema"
)

const (
	prefixVertex   = byte(0x01)
	prefixEdge     = byte(0x02)
	prefixKeyIndex = byte(0x03)
	prefixOut      = byte(0x04)
	prefixIn       = byte(0x05)
	prefixPropKey  = byte(0x06)
	prefixLabel    = byte(0x07)
)

func init() {
	graph.Register("badger", func(ctx context.Context, cfg graph.Config) (graph.Store, error) {
		return Open(Options{
			Dir:          cfg.DSN,
			InMemory:     cfg.Options.Bool("in_memory", cfg.DSN == ""),
			SyncWrites:   cfg.Options.Bool("sync_writes", false),
			MemTableMB:   cfg.Options.Int("memtable_mb", 0),
			ValueLogMB:   cfg.Options.Int("value_log_mb", 0),
			BlockCacheMB: cfg.Options.Int("block_cache_mb", 0),
		})
	})
}

// Options configures the Badger store.
type Options struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir string

	InMemory   bool
	SyncWrites bool

	// MemTableMB bounds the largest transaction Badger accepts (roughly 15%
	// of the memtable). Raise it for large batch sizes.
	MemTableMB   int
	ValueLogMB   int
	BlockCacheMB int
}

// Store is a graph.Store on BadgerDB.
type Store struct {
	db *badger.DB

	mu       sync.RWMutex
	declared map[string]schema.PropertyType
	closed   bool
}

var (
	_ graph.Store          = (*Store)(nil)
	_ graph.SchemaReader   = (*Store)(nil)
	_ graph.SchemaDeclarer = (*Store)(nil)
	_ graph.Resetter       = (*Store)(nil)
	_ graph.Counter        = (*Store)(nil)
)

// Open opens (or creates) a Badger store.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, fmt.Errorf("badger: data directory required")
	}
	bo := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	}
	bo = bo.WithSyncWrites(opts.SyncWrites).WithLogger(nil)
	if opts.MemTableMB > 0 {
		bo = bo.WithMemTableSize(int64(opts.MemTableMB) << 20)
	}
	if opts.ValueLogMB > 0 {
		bo = bo.WithValueLogFileSize(int64(opts.ValueLogMB) << 20)
	}
	if opts.BlockCacheMB > 0 {
		bo = bo.WithBlockCacheSize(int64(opts.BlockCacheMB) << 20)
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, graph.Connection("badger open", err)
	}
	s := &Store{db: db, declared: map[string]schema.PropertyType{}}
	if err := s.loadDeclared(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenInMemory opens a throwaway in-memory store.
func OpenInMemory() (*Store, error) { return Open(Options{InMemory: true}) }

func (s *Store) loadDeclared() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte{prefixPropKey}
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			name := string(item.Key()[1:])
			err := item.Value(func(val []byte) error {
				pt, err := schema.DecodeType(string(val))
				if err != nil {
					return fmt.Errorf("badger: property key %q: %w", name, err)
				}
				s.declared[name] = pt
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// --- keys ---------------------------------------------------------------------

func vertexKey(id graph.VertexID) []byte { return append([]byte{prefixVertex}, string(id)...) }
func edgeKey(id graph.EdgeID) []byte     { return append([]byte{prefixEdge}, string(id)...) }

func keyIndexKey(prop string, v schema.Value) []byte {
	c := v.Canonical()
	k := make([]byte, 0, 2+len(prop)+len(c))
	k = append(k, prefixKeyIndex)
	k = append(k, prop...)
	k = append(k, 0x00)
	return append(k, c...)
}

func adjacencyKey(prefix byte, vid graph.VertexID, eid graph.EdgeID) []byte {
	k := make([]byte, 0, 2+len(vid)+len(eid))
	k = append(k, prefix)
	k = append(k, string(vid)...)
	k = append(k, 0x00)
	return append(k, string(eid)...)
}

func labelKey(edge bool, label string) []byte {
	kind := byte(0x00)
	if edge {
		kind = 0x01
	}
	return append([]byte{prefixLabel, kind}, label...)
}

// --- codec --------------------------------------------------------------------

type storedVertex struct {
	Label string          `json:"label"`
	Props json.RawMessage `json:"props"`
}

type storedEdge struct {
	Label string          `json:"label"`
	From  string          `json:"from"`
	To    string          `json:"to"`
	Props json.RawMessage `json:"props"`
}

func encodeVertex(label string, props schema.Record) ([]byte, error) {
	p, err := schema.EncodeRecord(props)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedVertex{Label: label, Props: p})
}

func decodeVertex(id graph.VertexID, b []byte) (graph.Vertex, error) {
	var sv storedVertex
	if err := json.Unmarshal(b, &sv); err != nil {
		return graph.Vertex{}, fmt.Errorf("badger: decode vertex %s: %w", id, err)
	}
	props, err := schema.DecodeRecord(sv.Props)
	if err != nil {
		return graph.Vertex{}, fmt.Errorf("badger: decode vertex %s: %w", id, err)
	}
	return graph.Vertex{ID: id, Label: sv.Label, Props: props}, nil
}

// --- store --------------------------------------------------------------------

// Begin starts an optimistic read-write transaction.
func (s *Store) Begin(ctx context.Context) (graph.Tx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, graph.Connection("badger begin", badger.ErrDBClosed)
	}
	return &tx{s: s, txn: s.db.NewTransaction(true)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) declaredSnapshot() map[string]schema.PropertyType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]schema.PropertyType, len(s.declared))
	for k, v := range s.declared {
		out[k] = v
	}
	return out
}

func (s *Store) check(props schema.Record) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schema.CheckDeclared(s.declared, props)
}

// PropertyKeys returns the declared property types.
func (s *Store) PropertyKeys(ctx context.Context) (map[string]schema.PropertyType, error) {
	return s.declaredSnapshot(), nil
}

// DeclareSchema persists labels and property keys.
func (s *Store) DeclareSchema(ctx context.Context, sc graph.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, pt := range sc.Properties {
		if cur, ok := s.declared[name]; ok && !cur.Compatible(pt) {
			return &schema.MismatchError{Property: name, Declared: cur, Got: pt}
		}
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for name, pt := range sc.Properties {
			if err := txn.Set(append([]byte{prefixPropKey}, name...), []byte(schema.EncodeType(pt))); err != nil {
				return err
			}
		}
		for _, l := range sc.VertexLabels {
			if err := txn.Set(labelKey(false, l), nil); err != nil {
				return err
			}
		}
		for _, l := range sc.EdgeLabels {
			if err := txn.Set(labelKey(true, l), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return classify("declare schema", err)
	}
	for name, pt := range sc.Properties {
		s.declared[name] = pt
	}
	return nil
}

// Reset drops every key.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DropAll(); err != nil {
		return classify("reset", err)
	}
	s.declared = map[string]schema.PropertyType{}
	return nil
}

func (s *Store) countPrefix(prefix byte) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte{prefix}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

func (s *Store) CountVertices(ctx context.Context) (int64, error) { return s.countPrefix(prefixVertex) }
func (s *Store) CountEdges(ctx context.Context) (int64, error)    { return s.countPrefix(prefixEdge) }

// classify maps Badger errors onto the graph error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return graph.Transient(op, err)
	case errors.Is(err, badger.ErrDBClosed):
		return graph.Connection(op, err)
	case errors.Is(err, badger.ErrTxnTooBig):
		return fmt.Errorf("badger %s: %w (lower batch_size or raise options.memtable_mb)", op, err)
	default:
		return fmt.Errorf("badger %s: %w", op, err)
	}
}

// --- tx -----------------------------------------------------------------------

type tx struct {
	s    *Store
	txn  *badger.Txn
	done bool
}

func (t *tx) FindVertex(ctx context.Context, keyProp string, key schema.Value) (graph.Vertex, bool, error) {
	if t.done {
		return graph.Vertex{}, false, graph.ErrTxDone
	}
	item, err := t.txn.Get(keyIndexKey(keyProp, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return graph.Vertex{}, false, nil
	}
	if err != nil {
		return graph.Vertex{}, false, classify("find vertex", err)
	}
	idb, err := item.ValueCopy(nil)
	if err != nil {
		return graph.Vertex{}, false, classify("find vertex", err)
	}
	v, err := t.getVertex(graph.VertexID(idb))
	if err != nil {
		return graph.Vertex{}, false, err
	}
	return v, true, nil
}

func (t *tx) getVertex(id graph.VertexID) (graph.Vertex, error) {
	item, err := t.txn.Get(vertexKey(id))
	if err != nil {
		return graph.Vertex{}, classify("get vertex "+string(id), err)
	}
	b, err := item.ValueCopy(nil)
	if err != nil {
		return graph.Vertex{}, classify("get vertex "+string(id), err)
	}
	return decodeVertex(id, b)
}

func (t *tx) CreateVertex(ctx context.Context, nv graph.NewVertex) (graph.VertexRef, error) {
	if t.done {
		return graph.VertexRef{}, graph.ErrTxDone
	}
	if err := t.s.check(nv.Props); err != nil {
		return graph.VertexRef{}, err
	}
	id := graph.VertexID(uuid.NewString())
	for _, prop := range nv.Keys {
		val, ok := graph.KeyOf(nv.Props, prop)
		if !ok {
			return graph.VertexRef{}, fmt.Errorf("create vertex: key %q missing or not a single value", prop)
		}
		k := keyIndexKey(prop, val)
		_, err := t.txn.Get(k)
		if err == nil {
			return graph.VertexRef{}, graph.DuplicateKey(prop, val)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return graph.VertexRef{}, classify("create vertex", err)
		}
		if err := t.txn.Set(k, []byte(id)); err != nil {
			return graph.VertexRef{}, classify("create vertex", err)
		}
	}
	b, err := encodeVertex(nv.Label, nv.Props)
	if err != nil {
		return graph.VertexRef{}, err
	}
	if err := t.txn.Set(vertexKey(id), b); err != nil {
		return graph.VertexRef{}, classify("create vertex", err)
	}
	if err := t.txn.Set(labelKey(false, nv.Label), nil); err != nil {
		return graph.VertexRef{}, classify("create vertex", err)
	}
	return graph.VertexRef{ID: id, Label: nv.Label}, nil
}

func (t *tx) UpdateVertex(ctx context.Context, id graph.VertexID, props schema.Record) error {
	if t.done {
		return graph.ErrTxDone
	}
	if err := t.s.check(props); err != nil {
		return err
	}
	v, err := t.getVertex(id)
	if err != nil {
		return err
	}
	b, err := encodeVertex(v.Label, v.Props.Merge(props))
	if err != nil {
		return err
	}
	return classify("update vertex", t.txn.Set(vertexKey(id), b))
}

func (t *tx) CreateEdge(ctx context.Context, label string, from, to graph.VertexID, props schema.Record) (graph.EdgeID, error) {
	if t.done {
		return "", graph.ErrTxDone
	}
	if err := t.s.check(props); err != nil {
		return "", err
	}
	for _, end := range []graph.VertexID{from, to} {
		// The read also puts the endpoint in the conflict set.
		if _, err := t.txn.Get(vertexKey(end)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return "", fmt.Errorf("create edge %s: vertex %s does not exist", label, end)
			}
			return "", classify("create edge", err)
		}
	}
	p, err := schema.EncodeRecord(props)
	if err != nil {
		return "", err
	}
	b, err := json.Marshal(storedEdge{Label: label, From: string(from), To: string(to), Props: p})
	if err != nil {
		return "", err
	}
	id := graph.EdgeID(uuid.NewString())
	for _, kv := range [][2][]byte{
		{edgeKey(id), b},
		{adjacencyKey(prefixOut, from, id), nil},
		{adjacencyKey(prefixIn, to, id), nil},
		{labelKey(true, label), nil},
	} {
		if err := t.txn.Set(kv[0], kv[1]); err != nil {
			return "", classify("create edge", err)
		}
	}
	return id, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return graph.ErrTxDone
	}
	t.done = true
	err := t.txn.Commit()
	t.txn.Discard()
	return classify("commit", err)
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.txn.Discard()
	return nil
}

// OutEdges lists the IDs of edges leaving id. It is used by tests.
func (s *Store) OutEdges(id graph.VertexID) ([]graph.EdgeID, error) {
	var out []graph.EdgeID
	prefix := append(append([]byte{prefixOut}, string(id)...), 0x00)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			out = append(out, graph.EdgeID(bytes.Clone(k[len(prefix):])))
		}
		return nil
	})
	return out, err
}
