package duckling

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Connection is a session on a Database. Statements, query results and
// appenders created from it are owned by it and become invalid when it
// closes.
type Connection struct {
	handle    Handle
	db        *Database
	sess      session
	chunkSize int
	mu        sync.Mutex
}

// Handle returns the opaque handle of the connection.
func (c *Connection) Handle() Handle {
	return c.handle
}

// Database returns the database the connection belongs to.
func (c *Connection) Database() *Database {
	return c.db
}

// Close releases every resource the connection owns and then the engine
// session. Unflushed appender rows are discarded. The Database stays open.
func (c *Connection) Close() error {
	// The cascade runs child teardowns, which may wait for operations that
	// hold c.mu, so it must run before c.mu is taken.
	if err := handles.release(c.handle, true); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	logger().Debug("connection closed", "handle", c.handle.String())
	if err := c.sess.close(); err != nil {
		return wrapError(ExecutionError, "closing connection", err)
	}
	return nil
}

// Query runs sql and returns its rows. Without params sql may contain
// several statements separated by semicolons; the rows of the last one are
// returned. With params sql must be a single statement with one placeholder
// per param.
func (c *Connection) Query(sql string, params ...any) (*QueryResult, error) {
	return c.QueryContext(context.Background(), sql, params...)
}

// QueryContext is Query with a context. Cancelling ctx interrupts the
// running statement.
func (c *Connection) QueryContext(ctx context.Context, sql string, params ...any) (*QueryResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := handles.check(c.handle); err != nil {
		return nil, err
	}

	start := time.Now()
	cur, err := c.run(ctx, sql, params)
	recordQuery(start, err)
	if err != nil {
		return nil, err
	}
	return newQueryResult(c.handle, cur, c.chunkSize)
}

// Exec runs sql and discards its rows.
func (c *Connection) Exec(sql string, params ...any) error {
	return c.ExecContext(context.Background(), sql, params...)
}

// ExecContext is Exec with a context.
func (c *Connection) ExecContext(ctx context.Context, sql string, params ...any) error {
	res, err := c.QueryContext(ctx, sql, params...)
	if err != nil {
		return err
	}
	return res.Close()
}

// run executes sql on the session. Must be called with c.mu held.
func (c *Connection) run(ctx context.Context, sql string, params []any) (cursor, error) {
	if len(params) == 0 {
		return c.sess.query(ctx, sql)
	}

	args, err := valuesOf(params)
	if err != nil {
		return nil, wrapError(BindError, "converting parameters", err)
	}

	stmt, err := c.sess.prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	if err := checkArity(stmt, args); err != nil {
		stmt.close()
		return nil, err
	}

	cur, err := stmt.execute(ctx, args)
	if err != nil {
		stmt.close()
		return nil, err
	}
	return &ownedCursor{cursor: cur, stmt: stmt}, nil
}

func checkArity(stmt prepared, args []Value) error {
	if n := stmt.numInput(); n >= 0 && n != len(args) {
		return NewError(BindError, fmt.Sprintf("expected %d parameters, got %d", n, len(args)))
	}
	return nil
}

// ownedCursor closes the one-shot statement a parameterised query was
// prepared into together with its rows.
type ownedCursor struct {
	cursor
	stmt prepared
}

func (c *ownedCursor) close() error {
	err := c.cursor.close()
	if serr := c.stmt.close(); err == nil {
		err = serr
	}
	return err
}

// Prepare compiles sql without running it.
func (c *Connection) Prepare(sql string) (*Statement, error) {
	return c.PrepareContext(context.Background(), sql)
}

// PrepareContext compiles sql without running it. Invalid SQL fails with a
// SyntaxError.
func (c *Connection) PrepareContext(ctx context.Context, sql string) (*Statement, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := handles.check(c.handle); err != nil {
		return nil, err
	}

	stmt, err := c.sess.prepare(ctx, sql)
	if err != nil {
		return nil, err
	}

	s := &Statement{
		conn:  c,
		stmt:  stmt,
		query: sql,
	}
	h, err := handles.register(StatementResource, c.handle, s.teardown)
	if err != nil {
		stmt.close()
		return nil, err
	}
	s.handle = h
	return s, nil
}

const tableColumnsQuery = `SELECT column_name, data_type
FROM duckdb_columns()
WHERE table_name = ?
  AND schema_name = COALESCE(NULLIF(?, ''), current_schema())
  AND database_name IN (current_database(), 'temp')
ORDER BY column_index`

// Appender creates an appender bound to table, which may be qualified as
// schema.table. It fails with an UnknownTable error if the table does not
// exist.
func (c *Connection) Appender(table string) (*Appender, error) {
	return c.AppenderContext(context.Background(), table)
}

// AppenderContext is Appender with a context.
func (c *Connection) AppenderContext(ctx context.Context, table string) (*Appender, error) {
	schema, name, err := splitTableName(table)
	if err != nil {
		return nil, &Error{Type: UnknownTable, Message: err.Error()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := handles.check(c.handle); err != nil {
		return nil, err
	}

	cols, err := c.tableColumns(ctx, schema, name)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, &Error{Type: UnknownTable, Message: "table " + table + " does not exist"}
	}

	a := &Appender{
		conn:   c,
		schema: schema,
		table:  name,
		cols:   cols,
	}
	h, err := handles.register(AppenderResource, c.handle, a.teardown)
	if err != nil {
		return nil, err
	}
	a.handle = h

	logger().Debug("appender opened", "table", table, "columns", len(cols), "handle", h.String())
	return a, nil
}

// tableColumns reads the current column list of a table. Must be called
// with c.mu held.
func (c *Connection) tableColumns(ctx context.Context, schema, table string) ([]Column, error) {
	cur, err := c.run(ctx, tableColumnsQuery, []any{table, schema})
	if err != nil {
		return nil, err
	}
	defer cur.close()

	var cols []Column
	for {
		rows, err := cur.next(ctx, DefaultChunkSize)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return cols, nil
		}
		for _, row := range rows {
			cols = append(cols, Column{Name: row[0].Text(), Type: row[1].Text()})
		}
	}
}

// splitTableName splits "schema.table" into its parts. Either part may be
// double-quoted; quotes inside a quoted part are doubled.
func splitTableName(name string) (schema, table string, err error) {
	var parts []string
	var cur strings.Builder
	quoted := false

	for i := 0; i < len(name); i++ {
		ch := name[i]
		switch {
		case ch == '"' && quoted && i+1 < len(name) && name[i+1] == '"':
			cur.WriteByte('"')
			i++
		case ch == '"':
			quoted = !quoted
		case ch == '.' && !quoted:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(ch)
		}
	}
	if quoted {
		return "", "", fmt.Errorf("unterminated quote in table name %q", name)
	}
	parts = append(parts, cur.String())

	switch len(parts) {
	case 1:
		table = parts[0]
	case 2:
		schema, table = parts[0], parts[1]
	default:
		return "", "", fmt.Errorf("invalid table name %q", name)
	}
	if table == "" {
		return "", "", fmt.Errorf("invalid table name %q", name)
	}
	return schema, table, nil
}

// LibraryVersion returns the version string of the DuckDB library serving
// the connection.
func (c *Connection) LibraryVersion() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := handles.check(c.handle); err != nil {
		return "", err
	}

	row, err := queryOne(context.Background(), c.sess, "SELECT library_version FROM pragma_version()")
	if err != nil {
		return "", err
	}
	return row[0].String(), nil
}

// Version returns the parsed library version.
func (c *Connection) Version() (Version, error) {
	s, err := c.LibraryVersion()
	if err != nil {
		return Version{}, err
	}
	return ParseVersion(s), nil
}
