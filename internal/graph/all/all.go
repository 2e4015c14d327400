// Package all registers every built-in graph store. Import it for side
// effects:
//
//	import _ "graphload/internal/graph/all"
package all

import (
	_ "graphload/internal/graph/badger"
	_ "graphload/internal/graph/memory"
	_ "graphload/internal/graph/mssql"
	_ "graphload/internal/graph/mysql"
	_ "graphload/internal/graph/neo4j"
	_ "graphload/internal/graph/postgres"
	_ "graphload/internal/graph/sqlite"
)
