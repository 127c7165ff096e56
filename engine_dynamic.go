package duckling

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/google/uuid"
)

// dynamicEngine drives a libduckdb loaded at runtime through its C API.
// Results are materialised by duckdb_query / duckdb_execute_prepared and read
// cell by cell; values without a fixed-width accessor (HUGEINT, DECIMAL,
// UUID, temporal and nested types) travel as their VARCHAR rendering.
type dynamicEngine struct {
	lib *duckdbLib
	db  uintptr

	mu     sync.Mutex
	closed bool
}

func openDynamic(ctx context.Context, path string, cfg *Config) (engine, error) {
	lib, err := loadDuckDBLibrary(cfg)
	if err != nil {
		return nil, classify(phaseOpen, "loading libduckdb", err)
	}

	var config uintptr
	if lib.createConfig(unsafe.Pointer(&config)) != duckdbSuccess {
		return nil, &Error{Type: OpenFailure, Message: "creating engine config"}
	}
	defer lib.destroyConfig(unsafe.Pointer(&config))

	opts := cfg.engineOptions()
	for _, name := range optionNames(opts) {
		if lib.setConfig(config, name, opts[name]) != duckdbSuccess {
			return nil, &Error{Type: OpenFailure, Message: "invalid engine option", Detail: name + "=" + opts[name]}
		}
	}

	if path == Memory {
		path = ""
	}

	var db, errPtr uintptr
	if lib.openExt(path, unsafe.Pointer(&db), config, unsafe.Pointer(&errPtr)) != duckdbSuccess {
		msg := lib.takeCString(errPtr)
		return nil, classify(phaseOpen, "opening database", newEngineError(msg, nil))
	}
	return &dynamicEngine{lib: lib, db: db}, nil
}

func (e *dynamicEngine) connect(ctx context.Context) (session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, closedError(DatabaseResource)
	}

	var conn uintptr
	if e.lib.connect(e.db, unsafe.Pointer(&conn)) != duckdbSuccess {
		return nil, &Error{Type: OpenFailure, Message: "connecting"}
	}
	return &dynamicSession{lib: e.lib, conn: conn}, nil
}

func (e *dynamicEngine) close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.lib.closeDB(unsafe.Pointer(&e.db))
	return nil
}

type dynamicSession struct {
	lib  *duckdbLib
	conn uintptr
}

// interruptOn makes cancellation of ctx interrupt the running query.
func (s *dynamicSession) interruptOn(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		s.lib.interrupt(s.conn)
	})
}

func (s *dynamicSession) exec(ctx context.Context, query string, p phase) error {
	res := new(duckdbResult)
	stop := s.interruptOn(ctx)
	state := s.lib.query(s.conn, query, unsafe.Pointer(res))
	stop()
	defer s.lib.destroyResult(unsafe.Pointer(res))

	if state != duckdbSuccess {
		msg := copyCString(s.lib.resultError(unsafe.Pointer(res)))
		return classify(p, "running "+strings.Fields(query)[0], newEngineError(msg, nil))
	}
	return nil
}

func (s *dynamicSession) query(ctx context.Context, query string) (cursor, error) {
	res := new(duckdbResult)
	stop := s.interruptOn(ctx)
	state := s.lib.query(s.conn, query, unsafe.Pointer(res))
	stop()

	if state != duckdbSuccess {
		msg := copyCString(s.lib.resultError(unsafe.Pointer(res)))
		s.lib.destroyResult(unsafe.Pointer(res))
		return nil, classify(phaseCompile, "running query", newEngineError(msg, nil))
	}
	return newDynamicCursor(s.lib, res), nil
}

func (s *dynamicSession) prepare(ctx context.Context, query string) (prepared, error) {
	var stmt uintptr
	if s.lib.prepare(s.conn, query, unsafe.Pointer(&stmt)) != duckdbSuccess {
		msg := copyCString(s.lib.prepareError(stmt))
		s.lib.destroyPrepare(unsafe.Pointer(&stmt))
		return nil, classify(phaseCompile, "preparing statement", newEngineError(msg, nil))
	}
	return &dynamicPrepared{session: s, stmt: stmt}, nil
}

func (s *dynamicSession) appendRows(ctx context.Context, schema, table string, cols []Column, rows []Row) error {
	tx, err := beginTxn(ctx, func(ctx context.Context, query string) error {
		return s.exec(ctx, query, phaseCommit)
	})
	if err != nil {
		return err
	}

	if err := s.appendAll(schema, table, cols, rows); err != nil {
		if rbErr := tx.rollback(ctx); rbErr != nil {
			logger().Warn("rolling back failed flush", "table", table, "error", rbErr)
		}
		return err
	}

	return tx.commit(ctx)
}

func (s *dynamicSession) appendAll(schema, table string, cols []Column, rows []Row) error {
	var app uintptr
	if s.lib.appenderCreate(s.conn, schema, table, unsafe.Pointer(&app)) != duckdbSuccess {
		msg := copyCString(s.lib.appenderError(app))
		s.lib.appenderDestroy(unsafe.Pointer(&app))
		return classify(phaseCommit, "creating appender", newEngineError(msg, nil))
	}

	fail := func(what string) error {
		msg := copyCString(s.lib.appenderError(app))
		s.lib.appenderDestroy(unsafe.Pointer(&app))
		return classify(phaseCommit, what, newEngineError(msg, nil))
	}

	for i, row := range rows {
		for j, v := range row {
			if s.appendValue(app, v) != duckdbSuccess {
				return fail(fmt.Sprintf("appending row %d column %s", i+1, cols[j].Name))
			}
		}
		if s.lib.appenderEndRow(app) != duckdbSuccess {
			return fail(fmt.Sprintf("appending row %d", i+1))
		}
	}

	if s.lib.appenderClose(app) != duckdbSuccess {
		return fail("flushing appender")
	}
	s.lib.appenderDestroy(unsafe.Pointer(&app))
	return nil
}

func (s *dynamicSession) appendValue(app uintptr, v Value) duckdbState {
	switch v.kind {
	case KindNull:
		return s.lib.appendNull(app)
	case KindBool:
		return s.lib.appendBool(app, v.Bool())
	case KindInt:
		return s.lib.appendInt64(app, v.Int())
	case KindUint:
		return s.lib.appendUint64(app, v.Uint())
	case KindFloat:
		return s.lib.appendDouble(app, v.Float())
	case KindBlob:
		if len(v.raw) == 0 {
			return s.lib.appendBlob(app, nil, 0)
		}
		return s.lib.appendBlob(app, unsafe.Pointer(&v.raw[0]), uint64(len(v.raw)))
	default:
		return s.lib.appendVarchar(app, textLiteral(v))
	}
}

func (s *dynamicSession) close() error {
	s.lib.disconnect(unsafe.Pointer(&s.conn))
	return nil
}

type dynamicPrepared struct {
	session *dynamicSession
	stmt    uintptr
}

func (p *dynamicPrepared) numInput() int {
	return int(p.session.lib.nparams(p.stmt))
}

func (p *dynamicPrepared) execute(ctx context.Context, args []Value) (cursor, error) {
	lib := p.session.lib
	lib.clearBindings(p.stmt)

	for i, v := range args {
		if err := p.bind(uint64(i+1), v); err != nil {
			return nil, err
		}
	}

	res := new(duckdbResult)
	stop := p.session.interruptOn(ctx)
	state := lib.executePrepared(p.stmt, unsafe.Pointer(res))
	stop()

	if state != duckdbSuccess {
		msg := copyCString(lib.resultError(unsafe.Pointer(res)))
		lib.destroyResult(unsafe.Pointer(res))
		return nil, classify(phaseExecute, "executing statement", newEngineError(msg, nil))
	}
	return newDynamicCursor(lib, res), nil
}

func (p *dynamicPrepared) bind(idx uint64, v Value) error {
	lib := p.session.lib
	var state duckdbState
	switch v.kind {
	case KindNull:
		state = lib.bindNull(p.stmt, idx)
	case KindBool:
		state = lib.bindBoolean(p.stmt, idx, v.Bool())
	case KindInt:
		state = lib.bindInt64(p.stmt, idx, v.Int())
	case KindUint:
		state = lib.bindUint64(p.stmt, idx, v.Uint())
	case KindFloat:
		state = lib.bindDouble(p.stmt, idx, v.Float())
	case KindBlob:
		if len(v.raw) == 0 {
			state = lib.bindBlob(p.stmt, idx, nil, 0)
		} else {
			state = lib.bindBlob(p.stmt, idx, unsafe.Pointer(&v.raw[0]), uint64(len(v.raw)))
		}
	case KindList:
		return &Error{Type: BindError, Message: fmt.Sprintf("parameter %d: list parameters need the duckdb-go backend", idx)}
	default:
		state = lib.bindVarchar(p.stmt, idx, textLiteral(v))
	}
	if state != duckdbSuccess {
		return &Error{Type: BindError, Message: fmt.Sprintf("binding parameter %d", idx), Detail: v.String()}
	}
	return nil
}

func (p *dynamicPrepared) close() error {
	p.session.lib.destroyPrepare(unsafe.Pointer(&p.stmt))
	return nil
}

// dynamicCursor walks a materialised duckdb_result.
type dynamicCursor struct {
	lib  *duckdbLib
	res  *duckdbResult
	cols []Column
	rows uint64
	pos  uint64
}

func newDynamicCursor(lib *duckdbLib, res *duckdbResult) *dynamicCursor {
	rp := unsafe.Pointer(res)
	n := lib.columnCount(rp)
	c := &dynamicCursor{
		lib:  lib,
		res:  res,
		cols: make([]Column, n),
		rows: lib.rowCount(rp),
	}
	for i := uint64(0); i < n; i++ {
		c.cols[i] = Column{Name: copyCString(lib.columnName(rp, i)), Type: lib.columnType(rp, i).String()}
	}
	return c
}

func (c *dynamicCursor) columns() []Column {
	return c.cols
}

func (c *dynamicCursor) next(ctx context.Context, n int) ([]Row, error) {
	if c.res == nil {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, classify(phaseExecute, "fetching rows", err)
	}

	var out []Row
	for len(out) < n && c.pos < c.rows {
		row := make(Row, len(c.cols))
		for i := range c.cols {
			row[i] = c.value(uint64(i), c.pos)
		}
		out = append(out, row)
		c.pos++
	}
	return out, nil
}

func (c *dynamicCursor) value(col, row uint64) Value {
	rp := unsafe.Pointer(c.res)
	if c.lib.valueIsNull(rp, col, row) {
		return Null()
	}

	typeName := c.cols[col].Type
	switch typeName {
	case "BOOLEAN":
		return Bool(c.lib.valueBoolean(rp, col, row))
	case "TINYINT", "SMALLINT", "INTEGER", "BIGINT":
		return Int(c.lib.valueInt64(rp, col, row))
	case "UTINYINT", "USMALLINT", "UINTEGER", "UBIGINT":
		return Uint(c.lib.valueUint64(rp, col, row))
	case "FLOAT", "DOUBLE":
		return Float(c.lib.valueDouble(rp, col, row))
	}

	text := c.lib.takeCString(c.lib.valueVarchar(rp, col, row))
	return parseText(text, typeName)
}

func (c *dynamicCursor) close() error {
	if c.res != nil {
		c.lib.destroyResult(unsafe.Pointer(c.res))
		c.res = nil
	}
	return nil
}

// parseText turns the VARCHAR rendering of a cell back into a Value.
// Renderings that cannot be parsed stay Text.
func parseText(text, typeName string) Value {
	switch typeName {
	case "VARCHAR", "ENUM":
		return Text(text)
	case "BLOB":
		if b, ok := decodeBlobText(text); ok {
			return Blob(b)
		}
	case "HUGEINT", "UHUGEINT":
		if w, err := ParseWide(text); err == nil {
			return Wide(w)
		}
		return Decimal(text)
	case "DECIMAL":
		return Decimal(text)
	case "UUID":
		if id, err := uuid.Parse(text); err == nil {
			return UUID(id)
		}
	case "INTERVAL":
		if iv, err := parseIntervalText(text); err == nil {
			return IntervalValue(iv)
		}
	default:
		if t, ok := parseTimeText(text, timeLayouts[typeName]); ok {
			return Time(t)
		}
	}
	return Text(text)
}

// decodeBlobText reverses DuckDB's BLOB to VARCHAR cast, which prints
// bytes outside printable ASCII as \xHH.
func decodeBlobText(s string) ([]byte, bool) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) && s[i+1] == 'x' {
			b, err := hex.DecodeString(s[i+2 : i+4])
			if err != nil {
				return nil, false
			}
			out = append(out, b[0])
			i += 3
			continue
		}
		out = append(out, s[i])
	}
	return out, true
}
