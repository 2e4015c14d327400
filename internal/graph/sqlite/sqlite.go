// Package sqlite stores the graph in a SQLite file through modernc.org/sqlite
// (pure Go, no cgo). It registers the "sqlite" store kind.
//
// Writers are serialized by SQLite itself: transactions begin IMMEDIATE and
// wait up to busy_timeout for the write lock. Locks that still time out are
// transient and the loader retries them.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"graphload/internal/graph"
	"graphload/internal/graph/sqlgraph"
)

// DefaultBusyTimeoutMS is applied when the DSN does not set busy_timeout.
const DefaultBusyTimeoutMS = 5000

func init() {
	graph.Register("sqlite", func(ctx context.Context, cfg graph.Config) (graph.Store, error) {
		return Open(ctx, cfg.DSN, Options{
			BusyTimeoutMS: cfg.Options.Int("busy_timeout_ms", DefaultBusyTimeoutMS),
			WAL:           cfg.Options.Bool("wal", true),
			MaxOpenConns:  cfg.Options.Int("max_open_conns", 0),
		})
	})
}

// Options configures the SQLite store.
type Options struct {
	BusyTimeoutMS int
	WAL           bool
	MaxOpenConns  int
}

// Dialect is the SQLite flavour of the shared graph tables.
var Dialect = sqlgraph.Dialect{
	Name:         "sqlite",
	CreateTables: sqlgraph.StandardTables("TEXT"),
	Classify:     classify,
}

// Open opens (creating if needed) the database at dsn, a file path or a
// file: URI.
func Open(ctx context.Context, dsn string, opt Options) (*sqlgraph.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	if strings.Contains(dsn, ":memory:") {
		return nil, fmt.Errorf("sqlite: in-memory databases are per connection; use the memory store")
	}
	return sqlgraph.Open(ctx, "sqlite", withPragmas(dsn, opt), Dialect, sqlgraph.PoolOptions{
		MaxOpenConns: opt.MaxOpenConns,
	})
}

// withPragmas appends busy_timeout, journal_mode and _txlock unless the DSN
// already sets them.
func withPragmas(dsn string, opt Options) string {
	var add []string
	if !strings.Contains(dsn, "busy_timeout") {
		ms := opt.BusyTimeoutMS
		if ms <= 0 {
			ms = DefaultBusyTimeoutMS
		}
		add = append(add, fmt.Sprintf("_pragma=busy_timeout(%d)", ms))
	}
	if opt.WAL && !strings.Contains(dsn, "journal_mode") {
		add = append(add, "_pragma=journal_mode(WAL)")
	}
	if !strings.Contains(dsn, "_txlock") {
		add = append(add, "_txlock=immediate")
	}
	if len(add) == 0 {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(add, "&")
}

// classify treats busy, locked and constraint failures as transient. The
// only constraint the graph tables carry besides primary keys on generated
// IDs is the key index, so a constraint failure is a key race.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_CONSTRAINT:
		return graph.Transient("sqlite "+op, err)
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
		return graph.Connection("sqlite "+op, err)
	}
	return nil
}
