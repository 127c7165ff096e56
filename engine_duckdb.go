package duckling

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"reflect"

	"github.com/duckdb/duckdb-go/v2"
)

// duckdbEngine drives DuckDB through github.com/duckdb/duckdb-go. Each
// session pins one *sql.Conn, so a session is exactly one DuckDB connection.
type duckdbEngine struct {
	db *sql.DB
}

func openDuckDBGo(ctx context.Context, path string, cfg *Config) (engine, error) {
	connector, err := duckdb.NewConnector(cfg.dsn(path), nil)
	if err != nil {
		return nil, engineFailure(phaseOpen, "opening database", err)
	}

	db := sql.OpenDB(connector)
	// Idle connections would outlive the Connection that used them.
	db.SetMaxIdleConns(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, engineFailure(phaseOpen, "opening database", err)
	}
	return &duckdbEngine{db: db}, nil
}

func (e *duckdbEngine) connect(ctx context.Context) (session, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, engineFailure(phaseOpen, "connecting", err)
	}
	return &duckdbSession{conn: conn}, nil
}

// close also closes the connector, which closes the DuckDB instance.
func (e *duckdbEngine) close() error {
	return e.db.Close()
}

// engineFailure classifies an error coming out of duckdb-go. Errors that did
// not originate in DuckDB come from database/sql argument handling and count
// as bind failures once a statement is being executed.
func engineFailure(p phase, message string, err error) error {
	var de *duckdb.Error
	if errors.As(err, &de) {
		return classify(p, message, newEngineError(de.Error(), err))
	}
	if p == phaseExecute && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		p = phaseBind
	}
	return classify(p, message, newEngineError(err.Error(), err))
}

type duckdbSession struct {
	conn *sql.Conn
}

func (s *duckdbSession) query(ctx context.Context, query string) (cursor, error) {
	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, engineFailure(phaseCompile, "running query", err)
	}
	return newRowsCursor(rows)
}

func (s *duckdbSession) prepare(ctx context.Context, query string) (prepared, error) {
	// database/sql hides the placeholder count, so it is read from the
	// driver statement before the shareable one is prepared.
	n := -1
	err := s.conn.Raw(func(driverConn any) error {
		pc, ok := driverConn.(driver.ConnPrepareContext)
		if !ok {
			return nil
		}
		ds, err := pc.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		n = ds.NumInput()
		return ds.Close()
	})
	if err != nil {
		return nil, engineFailure(phaseCompile, "preparing statement", err)
	}

	stmt, err := s.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, engineFailure(phaseCompile, "preparing statement", err)
	}
	return &duckdbPrepared{stmt: stmt, n: n}, nil
}

func (s *duckdbSession) exec(ctx context.Context, query string) error {
	if _, err := s.conn.ExecContext(ctx, query); err != nil {
		return engineFailure(phaseCommit, "running "+query, err)
	}
	return nil
}

func (s *duckdbSession) appendRows(ctx context.Context, schema, table string, cols []Column, rows []Row) error {
	tx, err := beginTxn(ctx, s.exec)
	if err != nil {
		return err
	}

	err = s.conn.Raw(func(driverConn any) error {
		dc, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, schema, table)
		if err != nil {
			return err
		}

		args := make([]driver.Value, len(cols))
		for i, row := range rows {
			for j, v := range row {
				if args[j], err = appenderValue(v, cols[j].Type); err != nil {
					appender.Close()
					return fmt.Errorf("row %d column %s: %w", i+1, cols[j].Name, err)
				}
			}
			if err := appender.AppendRow(args...); err != nil {
				appender.Close()
				return fmt.Errorf("row %d: %w", i+1, err)
			}
		}
		return appender.Close()
	})
	if err != nil {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			logger().Warn("rolling back failed flush", "table", table, "error", rbErr)
		}
		return engineFailure(phaseCommit, "appending rows", err)
	}

	return tx.commit(ctx)
}

func (s *duckdbSession) close() error {
	return s.conn.Close()
}

type duckdbPrepared struct {
	stmt *sql.Stmt
	n    int
}

func (p *duckdbPrepared) numInput() int {
	return p.n
}

func (p *duckdbPrepared) execute(ctx context.Context, args []Value) (cursor, error) {
	driverArgs := make([]any, len(args))
	for i, v := range args {
		driverArgs[i] = paramValue(v)
	}

	rows, err := p.stmt.QueryContext(ctx, driverArgs...)
	if err != nil {
		return nil, engineFailure(phaseExecute, "executing statement", err)
	}
	return newRowsCursor(rows)
}

func (p *duckdbPrepared) close() error {
	return p.stmt.Close()
}

// rowsCursor reads a database/sql result set.
type rowsCursor struct {
	rows *sql.Rows
	cols []Column
	dest []any
	ptrs []any
	done bool
}

func newRowsCursor(rows *sql.Rows) (*rowsCursor, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		rows.Close()
		return nil, engineFailure(phaseExecute, "reading result columns", err)
	}

	c := &rowsCursor{
		rows: rows,
		cols: make([]Column, len(types)),
		dest: make([]any, len(types)),
		ptrs: make([]any, len(types)),
	}
	for i, t := range types {
		c.cols[i] = Column{Name: t.Name(), Type: t.DatabaseTypeName()}
		c.ptrs[i] = &c.dest[i]
	}
	return c, nil
}

func (c *rowsCursor) columns() []Column {
	return c.cols
}

func (c *rowsCursor) next(ctx context.Context, n int) ([]Row, error) {
	if c.done {
		return nil, nil
	}

	var out []Row
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return out, classify(phaseExecute, "fetching rows", err)
		}
		if !c.rows.Next() {
			c.done = true
			if err := c.rows.Err(); err != nil {
				return out, engineFailure(phaseExecute, "fetching rows", err)
			}
			break
		}
		if err := c.rows.Scan(c.ptrs...); err != nil {
			return out, engineFailure(phaseExecute, "scanning row", err)
		}

		row := make(Row, len(c.dest))
		for i, src := range c.dest {
			v, err := duckdbValue(src, c.cols[i].Type)
			if err != nil {
				return out, classify(phaseExecute, "converting column "+c.cols[i].Name, err)
			}
			row[i] = v
		}
		out = append(out, row)
	}
	return out, nil
}

func (c *rowsCursor) close() error {
	return c.rows.Close()
}

// duckdbValue converts a value scanned from duckdb-go.
func duckdbValue(src any, typeName string) (Value, error) {
	switch t := src.(type) {
	case duckdb.Interval:
		return IntervalValue(Interval{Months: t.Months, Days: t.Days, Micros: t.Micros}), nil
	case duckdb.Decimal:
		if t.Value == nil {
			return Null(), nil
		}
		return Decimal(formatDecimal(t.Value, int(t.Scale))), nil
	}

	// UUIDs arrive as a 16-byte array type.
	if rv := reflect.ValueOf(src); rv.Kind() == reflect.Array && rv.Len() == 16 && rv.Type().Elem().Kind() == reflect.Uint8 {
		var id [16]byte
		reflect.Copy(reflect.ValueOf(id[:]), rv)
		return nativeValue(id, typeName)
	}
	return nativeValue(src, typeName)
}

// paramValue converts a bound parameter into a value duckdb-go accepts.
func paramValue(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindWide:
		return FromWide(v.wide)
	case KindUUID:
		return v.id.String()
	case KindInterval:
		return duckdb.Interval{Months: v.ivl.Months, Days: v.ivl.Days, Micros: v.ivl.Micros}
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = paramValue(e)
		}
		return out
	default:
		return v.Any()
	}
}

// appenderValue converts a coerced Value into the Go type duckdb-go's
// appender requires for the column type.
func appenderValue(v Value, typeName string) (driver.Value, error) {
	if v.IsNull() {
		return nil, nil
	}

	switch canonicalType(typeName) {
	case "TINYINT":
		return int8(v.Int()), nil
	case "SMALLINT":
		return int16(v.Int()), nil
	case "INTEGER":
		return int32(v.Int()), nil
	case "BIGINT":
		return v.Int(), nil
	case "UTINYINT":
		return uint8(v.Uint()), nil
	case "USMALLINT":
		return uint16(v.Uint()), nil
	case "UINTEGER":
		return uint32(v.Uint()), nil
	case "UBIGINT":
		return v.Uint(), nil
	case "FLOAT":
		return float32(v.Float()), nil
	case "DOUBLE":
		return v.Float(), nil
	case "HUGEINT", "UHUGEINT":
		return FromWide(v.wide), nil
	case "DECIMAL":
		width, scale, err := decimalSpec(typeName)
		if err != nil {
			return nil, err
		}
		unscaled, err := scaleDecimal(v.str, scale)
		if err != nil {
			return nil, err
		}
		return duckdb.Decimal{Width: uint8(width), Scale: uint8(scale), Value: unscaled}, nil
	case "UUID":
		id := v.id
		return id[:], nil
	case "INTERVAL":
		return duckdb.Interval{Months: v.ivl.Months, Days: v.ivl.Days, Micros: v.ivl.Micros}, nil
	case "LIST":
		elem := elementType(typeName)
		out := make([]any, len(v.list))
		for i, e := range v.list {
			ev, err := appenderValue(e, elem)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return v.Any(), nil
	}
}
