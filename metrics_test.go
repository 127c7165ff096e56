package duckling

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryMetrics(t *testing.T) {
	_, conn := openMemory(t, nil)

	ok := testutil.ToFloat64(metrics.queries.WithLabelValues("ok"))
	failed := testutil.ToFloat64(metrics.queries.WithLabelValues("error"))
	fetched := testutil.ToFloat64(metrics.rowsFetched)

	rows := queryAll(t, conn, "SELECT * FROM range(10)")
	require.Len(t, rows, 10)
	_, err := conn.Query("SELEC 1")
	require.Error(t, err)

	assert.Equal(t, ok+1, testutil.ToFloat64(metrics.queries.WithLabelValues("ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(metrics.queries.WithLabelValues("error")))
	assert.Equal(t, fetched+10, testutil.ToFloat64(metrics.rowsFetched))
}

func TestAppenderMetrics(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "CREATE TABLE t (id INTEGER PRIMARY KEY)")

	buffered := testutil.ToFloat64(metrics.rowsBuffered)
	flushed := testutil.ToFloat64(metrics.rowsFlushed)
	discarded := testutil.ToFloat64(metrics.rowsDiscarded)
	failedFlushes := testutil.ToFloat64(metrics.flushes.WithLabelValues("error"))

	app, err := conn.Appender("t")
	require.NoError(t, err)
	require.NoError(t, app.AddRows([][]any{{1}, {2}, {3}}))
	require.NoError(t, app.Flush())
	require.NoError(t, app.AddRows([][]any{{4}, {1}}))
	require.Error(t, app.Flush())
	require.Error(t, app.Close())

	assert.Equal(t, buffered+5, testutil.ToFloat64(metrics.rowsBuffered))
	assert.Equal(t, flushed+3, testutil.ToFloat64(metrics.rowsFlushed))
	assert.Equal(t, discarded+2, testutil.ToFloat64(metrics.rowsDiscarded))
	assert.Equal(t, failedFlushes+2, testutil.ToFloat64(metrics.flushes.WithLabelValues("error")))
}

func TestOpenHandleGauge(t *testing.T) {
	before := testutil.ToFloat64(metrics.openHandles.WithLabelValues(StatementResource.String()))

	_, conn := openMemory(t, nil)
	stmt, err := conn.Prepare("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.openHandles.WithLabelValues(StatementResource.String())))

	require.NoError(t, stmt.Close())
	assert.Equal(t, before, testutil.ToFloat64(metrics.openHandles.WithLabelValues(StatementResource.String())))
}

func TestMetricsRegistryGathers(t *testing.T) {
	_, conn := openMemory(t, nil)
	mustExec(t, conn, "SELECT 1")

	count, err := testutil.GatherAndCount(MetricsRegistry(), "duckling_queries_total", "duckling_open_handles")
	require.NoError(t, err)
	assert.Positive(t, count)
}
