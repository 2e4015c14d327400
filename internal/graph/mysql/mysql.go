// Package mysql stores the graph in MySQL or MariaDB through
// github.com/go-sql-driver/mysql. It registers the "mysql" store kind.
package mysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"

	"graphload/internal/graph"
	"graphload/internal/graph/sqlgraph"
)

func init() {
	graph.Register("mysql", func(ctx context.Context, cfg graph.Config) (graph.Store, error) {
		return Open(ctx, cfg.DSN, sqlgraph.PoolOptions{
			MaxOpenConns:    cfg.Options.Int("max_open_conns", 0),
			MaxIdleConns:    cfg.Options.Int("max_idle_conns", 0),
			ConnMaxLifetime: cfg.Options.Duration("conn_max_lifetime", 0),
		})
	})
}

// Server error numbers a retried transaction can get past.
const (
	erDupEntry        = 1062
	erLockWaitTimeout = 1205
	erLockDeadlock    = 1213
)

// Dialect is the MySQL flavour of the shared graph tables.
var Dialect = sqlgraph.Dialect{
	Name:         "mysql",
	CreateTables: sqlgraph.StandardTables("LONGTEXT"),
	LockVertex:   sqlgraph.SQLSelectVertex + " FOR UPDATE",
	Classify:     classify,
}

// Open validates dsn (go-sql-driver format, e.g.
// "user:pass@tcp(host:3306)/graph") and opens the store.
func Open(ctx context.Context, dsn string, po sqlgraph.PoolOptions) (*sqlgraph.Store, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("mysql dsn: %w", err)
	}
	if cfg.DBName == "" {
		return nil, fmt.Errorf("mysql dsn: database name is required")
	}
	return sqlgraph.Open(ctx, "mysql", cfg.FormatDSN(), Dialect, po)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mysql.ErrInvalidConn) {
		return graph.Connection("mysql "+op, err)
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return nil
	}
	switch me.Number {
	case erDupEntry, erLockWaitTimeout, erLockDeadlock:
		return graph.Transient("mysql "+op, err)
	}
	return nil
}
