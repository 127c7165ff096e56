package duckling

import (
	"math/big"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppenderVisibility(t *testing.T) {
	db, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (x INTEGER)")

	other, err := db.Connect()
	require.NoError(t, err)
	defer other.Close()

	app, err := conn.Appender("t")
	require.NoError(t, err)

	require.NoError(t, app.AddRows([][]any{{1}, {2}}))
	assert.Empty(t, queryAll(t, conn, "SELECT * FROM t"), "buffered rows are not visible")
	assert.Empty(t, queryAll(t, other, "SELECT * FROM t"), "nor from another connection")

	n, err := app.Buffered()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, app.Flush())
	rows := queryAll(t, conn, "SELECT * FROM t")
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0][0].Int())
	assert.Equal(t, int64(2), rows[1][0].Int())
	assert.Equal(t, int64(2), countRows(t, other, "t"), "flushed rows are committed for every connection")

	n, err = app.Buffered()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, app.AddRow(3))
	require.NoError(t, app.Close(), "close flushes what is left")
	assert.Equal(t, int64(3), countRows(t, conn, "t"))

	assert.ErrorIs(t, app.AddRow(4), ErrClosedHandle)
	assert.ErrorIs(t, app.Flush(), ErrClosedHandle)
	assert.ErrorIs(t, app.Close(), ErrClosedHandle)
}

func TestAppenderEmptyFlush(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (x INTEGER)")

	app, err := conn.Appender("t")
	require.NoError(t, err)
	require.NoError(t, app.Flush())
	require.NoError(t, app.Close())
	assert.Zero(t, countRows(t, conn, "t"))
}

func TestAppenderSchemaMismatch(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (id INTEGER, name VARCHAR, big HUGEINT, small TINYINT)")

	app, err := conn.Appender("t")
	require.NoError(t, err)
	defer app.Close()

	cols, err := app.Columns()
	require.NoError(t, err)
	assert.Equal(t, []Column{
		{Name: "id", Type: "INTEGER"},
		{Name: "name", Type: "VARCHAR"},
		{Name: "big", Type: "HUGEINT"},
		{Name: "small", Type: "TINYINT"},
	}, cols)

	tests := []struct {
		name string
		row  []any
	}{
		{"TooFew", []any{1, "a", 1}},
		{"TooMany", []any{1, "a", 1, 1, 1}},
		{"TextForInteger", []any{"one", "a", 1, 1}},
		{"ListForText", []any{1, []any{"a"}, 1, 1}},
		{"TextOverflow", []any{1, "a", 1, "300"}},
		{"TinyintOverflow", []any{1, "a", 1, 300}},
		{"UnsupportedGoType", []any{1, "a", 1, struct{}{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, app.AddRow(tt.row...), ErrSchemaMismatch)
		})
	}

	t.Run("WideOutOfRange", func(t *testing.T) {
		huge := new(big.Int).Lsh(big.NewInt(1), 130)
		err := app.AddRow(1, "a", huge, 1)
		assert.ErrorIs(t, err, ErrSchemaMismatch)
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	n, err := app.Buffered()
	require.NoError(t, err)
	assert.Zero(t, n, "rejected rows are never buffered")
}

func TestAppenderAcceptsText(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (x INTEGER, d DATE, b BOOLEAN, created TIMESTAMP, span INTERVAL, big HUGEINT, label VARCHAR)")

	app, err := conn.Appender("t")
	require.NoError(t, err)
	defer app.Close()

	require.NoError(t, app.AddRow("1", "2024-01-02", "true", "2024-01-02 03:04:05", "3 days", "-170141183460469231731687303715884105728", 42))

	for _, row := range [][]any{
		{"one", "2024-01-02", "true", nil, nil, nil, nil},
		{"1", "01/02/2024", "true", nil, nil, nil, nil},
		{"1", "2024-01-02", "sometimes", nil, nil, nil, nil},
		{"1", "2024-01-02", "true", "later", nil, nil, nil},
		{"1", "2024-01-02", "true", nil, "a while", nil, nil},
		{"1", "2024-01-02", "true", nil, nil, "170141183460469231731687303715884105728", nil},
	} {
		assert.ErrorIs(t, app.AddRow(row...), ErrSchemaMismatch, "%v", row)
	}

	n, err := app.Buffered()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the parsable row is buffered")
	require.NoError(t, app.Flush())

	rows := queryAll(t, conn, "SELECT * FROM t")
	require.Len(t, rows, 1)
	row := rows[0]
	assert.Equal(t, int64(1), row[0].Int())
	assert.True(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC).Equal(row[1].Time()))
	assert.True(t, row[2].Bool())
	assert.True(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Equal(row[3].Time()))
	assert.Equal(t, Interval{Days: 3}, row[4].Interval())
	assert.Equal(t, WideInteger{High: -9223372036854775808}, row[5].Wide())
	assert.Equal(t, "42", row[6].Text())
}

func TestAppenderAddRowsIsAtomic(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (x INTEGER, y VARCHAR)")

	app, err := conn.Appender("t")
	require.NoError(t, err)
	defer app.Close()

	err = app.AddRows([][]any{{1, "a"}, {2}})
	require.ErrorIs(t, err, ErrSchemaMismatch)
	assert.Contains(t, err.Error(), "row 2")

	n, err := app.Buffered()
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, app.Flush())
	assert.Zero(t, countRows(t, conn, "t"))
}

func TestAppenderFailedFlushCommitsNothing(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (id INTEGER PRIMARY KEY)")
	mustExec(t, conn, "INSERT INTO t VALUES (1)")

	app, err := conn.Appender("t")
	require.NoError(t, err)

	require.NoError(t, app.AddRows([][]any{{5}, {6}, {1}}))
	assert.ErrorIs(t, app.Flush(), ErrExecution)
	assert.Equal(t, int64(1), countRows(t, conn, "t"), "no row of the failed batch is visible")

	n, err := app.Buffered()
	require.NoError(t, err)
	assert.Equal(t, 3, n, "a failed flush keeps the buffer")

	assert.ErrorIs(t, app.Close(), ErrExecution, "close reports the failed implicit flush")
	assert.ErrorIs(t, app.AddRow(7), ErrClosedHandle)
	assert.Equal(t, int64(1), countRows(t, conn, "t"))

	mustExec(t, conn, "INSERT INTO t VALUES (2)")
	assert.Equal(t, int64(2), countRows(t, conn, "t"), "the connection is usable after a rollback")
}

func TestAppenderDiscard(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (x INTEGER)")

	app, err := conn.Appender("t")
	require.NoError(t, err)

	require.NoError(t, app.AddRows([][]any{{1}, {2}, {3}}))
	require.NoError(t, app.Discard())
	require.NoError(t, app.AddRow(4))
	require.NoError(t, app.Close())

	rows := queryAll(t, conn, "SELECT x FROM t")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0][0].Int())
}

func TestAppenderUnknownTable(t *testing.T) {
	_, conn := openMemory(t, nil)

	_, err := conn.Appender("missing")
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = conn.Appender(`"unterminated`)
	assert.ErrorIs(t, err, ErrUnknownTable)

	_, err = conn.Appender("a.b.c")
	assert.ErrorIs(t, err, ErrUnknownTable)

	assert.Zero(t, Stats().Appenders)
}

func TestAppenderQualifiedTable(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE SCHEMA sales")
	mustExec(t, conn, `CREATE TABLE sales."order lines" (id INTEGER, sku VARCHAR)`)
	mustExec(t, conn, "CREATE TABLE main.lines (other DOUBLE)")

	app, err := conn.Appender(`sales."order lines"`)
	require.NoError(t, err)
	assert.Equal(t, "sales.order lines", app.Table())

	cols, err := app.Columns()
	require.NoError(t, err)
	require.Len(t, cols, 2)

	require.NoError(t, app.AddRow(1, "A-1"))
	require.NoError(t, app.Close())

	rows := queryAll(t, conn, `SELECT id, sku FROM sales."order lines"`)
	require.Len(t, rows, 1)
	assert.Equal(t, "A-1", rows[0][1].Text())
}

func TestAppenderRoundTrip(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, `CREATE TABLE t (
		amount DECIMAL(10,2),
		id UUID,
		created TIMESTAMP,
		tags VARCHAR[],
		huge HUGEINT,
		flag BOOLEAN,
		ratio DOUBLE,
		span INTERVAL
	)`)

	id := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")
	at := time.Date(2024, 2, 29, 12, 30, 0, 0, time.UTC)
	huge := WideInteger{High: -2, Low: 12345}

	app, err := conn.Appender("t")
	require.NoError(t, err)
	require.NoError(t, app.AddRow("19.999", id, at, []any{"a", nil, "c"}, huge, true, 2, time.Second))
	require.NoError(t, app.AddRow(nil, nil, nil, nil, nil, nil, nil, nil))
	require.NoError(t, app.Close())

	rows := queryAll(t, conn, "SELECT * FROM t ORDER BY amount NULLS LAST")
	require.Len(t, rows, 2)

	row := rows[0]
	assert.Equal(t, "20.00", row[0].String(), "decimals round half away from zero")
	assert.Equal(t, id, row[1].UUID())
	assert.True(t, at.Equal(row[2].Time()))
	assert.Equal(t, "[a, NULL, c]", row[3].String())
	assert.Equal(t, huge, row[4].Wide())
	assert.True(t, row[5].Bool())
	assert.Equal(t, 2.0, row[6].Float())
	assert.Equal(t, Interval{Micros: 1000000}, row[7].Interval())

	for i, v := range rows[1] {
		assert.True(t, v.IsNull(), "column %d", i)
	}
}

func TestAppenderFakeData(t *testing.T) {
	_, conn := openMemory(t, &Config{ChunkSize: 64})
	table := generateTableName(t)
	mustExec(t, conn, "CREATE TABLE "+table+" (id BIGINT, name VARCHAR, email VARCHAR, age INTEGER, score DOUBLE, active BOOLEAN)")

	faker := gofakeit.New(42)
	type person struct {
		name   string
		email  string
		age    int
		score  float64
		active bool
	}
	people := make([]person, 500)
	batch := make([][]any, len(people))
	for i := range people {
		people[i] = person{
			name:   faker.Name(),
			email:  faker.Email(),
			age:    faker.Number(18, 90),
			score:  faker.Float64Range(0, 100),
			active: faker.Bool(),
		}
		p := people[i]
		batch[i] = []any{i, p.name, p.email, p.age, p.score, p.active}
	}

	app, err := conn.Appender(table)
	require.NoError(t, err)
	require.NoError(t, app.AddRows(batch[:250]))
	require.NoError(t, app.Flush())
	for _, row := range batch[250:] {
		require.NoError(t, app.AddRow(row...))
	}
	require.NoError(t, app.Close())

	rows := queryAll(t, conn, "SELECT * FROM "+table+" ORDER BY id")
	require.Len(t, rows, len(people))
	for i, row := range rows {
		p := people[i]
		require.Equal(t, int64(i), row[0].Int())
		assert.Equal(t, p.name, row[1].Text())
		assert.Equal(t, p.email, row[2].Text())
		assert.Equal(t, int64(p.age), row[3].Int())
		assert.Equal(t, p.score, row[4].Float())
		assert.Equal(t, p.active, row[5].Bool())
	}
}
