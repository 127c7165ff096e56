package duckling

import "context"

// The engine interfaces are the boundary between the handle layer and a
// DuckDB binding. Backends return *Error values already classified by the
// phase in which the engine failed.

// engine is one opened DuckDB instance.
type engine interface {
	connect(ctx context.Context) (session, error)
	close() error
}

// session is one engine connection.
type session interface {
	// query runs sql, which may hold several statements; the cursor reads
	// the rows of the last one.
	query(ctx context.Context, sql string) (cursor, error)
	prepare(ctx context.Context, sql string) (prepared, error)
	// appendRows inserts rows into schema.table inside a single
	// transaction: either every row is committed or none is.
	appendRows(ctx context.Context, schema, table string, cols []Column, rows []Row) error
	close() error
}

type prepared interface {
	numInput() int
	execute(ctx context.Context, args []Value) (cursor, error)
	close() error
}

// cursor reads rows in engine order.
type cursor interface {
	columns() []Column
	// next returns up to n rows; an empty slice means the rows are exhausted.
	next(ctx context.Context, n int) ([]Row, error)
	close() error
}

type backendOpener func(ctx context.Context, path string, cfg *Config) (engine, error)

var backends = map[string]backendOpener{
	BackendDuckDBGo: openDuckDBGo,
	BackendDynamic:  openDynamic,
}

// Backend names accepted in Config.Backend.
const (
	BackendDuckDBGo = "duckdb-go"
	BackendDynamic  = "dynamic"
)
