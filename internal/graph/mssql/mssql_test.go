package mssql

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"graphload/internal/graph"
	"graphload/internal/graph/graphtest"
	"graphload/internal/graph/sqlgraph"
)

func TestClassify(t *testing.T) {
	for _, n := range []int32{errDeadlockVictim, errLockTimeout, errDupIndex, errDupConstraint} {
		assert.True(t, graph.IsTransient(classify("commit", mssql.Error{Number: n})), "number %d", n)
	}
	assert.Nil(t, classify("commit", mssql.Error{Number: 102}))
	assert.Nil(t, classify("commit", errors.New("other")))
}

func TestDialect_Rebind(t *testing.T) {
	got := Dialect.Rebind(Dialect.LockVertex)
	assert.True(t, strings.HasSuffix(got, "WHERE id = @p1"), got)
	for _, stmt := range tables {
		assert.True(t, strings.HasPrefix(stmt, "IF OBJECT_ID("), stmt)
	}
}

func TestOpen_RejectsBadDSN(t *testing.T) {
	_, err := Open(context.Background(), "sqlserver://host:notaport", sqlgraph.PoolOptions{})
	assert.Error(t, err)
}

// TestMSSQLStore runs the conformance suite against GRAPHLOAD_TEST_MSSQL_DSN.
func TestMSSQLStore(t *testing.T) {
	dsn := os.Getenv("GRAPHLOAD_TEST_MSSQL_DSN")
	if dsn == "" {
		t.Skip("GRAPHLOAD_TEST_MSSQL_DSN not set; skipping MSSQL integration tests")
	}
	graphtest.Run(t, func(t *testing.T) graph.Store {
		s, err := Open(context.Background(), dsn, sqlgraph.PoolOptions{MaxOpenConns: 8})
		require.NoError(t, err)
		require.NoError(t, s.Reset(context.Background()))
		return s
	})
}
