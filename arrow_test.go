package duckling

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/decimal128"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const arrowQuery = `SELECT
	range::INTEGER AS n,
	'v' || range::VARCHAR AS s,
	range / 2 AS half,
	CASE WHEN range % 2 = 0 THEN NULL ELSE 12.50::DECIMAL(5,2) END AS dec
FROM range(5)
ORDER BY n`

func TestArrowType(t *testing.T) {
	tests := []struct {
		typeName string
		want     arrow.DataType
	}{
		{"BOOLEAN", arrow.FixedWidthTypes.Boolean},
		{"INTEGER", arrow.PrimitiveTypes.Int32},
		{"INT8", arrow.PrimitiveTypes.Int64},
		{"UBIGINT", arrow.PrimitiveTypes.Uint64},
		{"DOUBLE", arrow.PrimitiveTypes.Float64},
		{"DECIMAL(18,3)", &arrow.Decimal128Type{Precision: 18, Scale: 3}},
		{"DECIMAL", arrow.BinaryTypes.String},
		{"BLOB", arrow.BinaryTypes.Binary},
		{"DATE", arrow.FixedWidthTypes.Date32},
		{"TIMESTAMP", arrow.FixedWidthTypes.Timestamp_us},
		{"INTERVAL", arrow.FixedWidthTypes.MonthDayNanoInterval},
		{"INTEGER[]", arrow.ListOf(arrow.PrimitiveTypes.Int32)},
		{"HUGEINT", arrow.BinaryTypes.String},
		{"UUID", arrow.BinaryTypes.String},
	}
	for _, tt := range tests {
		t.Run(tt.typeName, func(t *testing.T) {
			assert.True(t, arrow.TypeEqual(tt.want, arrowType(tt.typeName)), "got %s", arrowType(tt.typeName))
		})
	}
}

func TestFetchRecord(t *testing.T) {
	_, conn := openMemory(t, &Config{ChunkSize: 2})

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	res, err := conn.Query(arrowQuery)
	require.NoError(t, err)
	defer res.Close()

	schema, err := res.ArrowSchema()
	require.NoError(t, err)
	require.Equal(t, 4, schema.NumFields())
	assert.Equal(t, "n", schema.Field(0).Name)
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int32, schema.Field(0).Type))
	assert.True(t, arrow.TypeEqual(arrow.BinaryTypes.String, schema.Field(1).Type))
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Float64, schema.Field(2).Type))
	assert.True(t, arrow.TypeEqual(&arrow.Decimal128Type{Precision: 5, Scale: 2}, schema.Field(3).Type))

	var sizes []int64
	for {
		rec, err := res.FetchRecord(mem)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		if len(sizes) == 0 {
			n := rec.Column(0).(*array.Int32)
			assert.Equal(t, []int32{0, 1}, n.Int32Values())
			assert.Equal(t, "v1", rec.Column(1).(*array.String).Value(1))
			assert.Equal(t, 0.5, rec.Column(2).(*array.Float64).Value(1))

			dec := rec.Column(3).(*array.Decimal128)
			assert.True(t, dec.IsNull(0))
			assert.Equal(t, decimal128.FromI64(1250), dec.Value(1))
		}
		sizes = append(sizes, rec.NumRows())
		rec.Release()
	}
	assert.Equal(t, []int64{2, 2, 1}, sizes)

	_, err = res.FetchRecord(mem)
	assert.ErrorIs(t, err, io.EOF, "exhausted results keep returning EOF")
}

func TestWriteArrow(t *testing.T) {
	_, conn := openMemory(t, &Config{ChunkSize: 2})

	res, err := conn.Query(arrowQuery)
	require.NoError(t, err)
	defer res.Close()

	var buf bytes.Buffer
	require.NoError(t, res.WriteArrow(&buf))

	reader, err := ipc.NewReader(&buf)
	require.NoError(t, err)
	defer reader.Release()

	assert.Equal(t, []string{"n", "s", "half", "dec"}, fieldNames(reader.Schema()))

	var total int64
	var batches int
	for reader.Next() {
		total += reader.Record().NumRows()
		batches++
	}
	require.NoError(t, reader.Err())
	assert.Equal(t, int64(5), total)
	assert.Equal(t, 3, batches, "one batch per chunk")
}

func TestWriteArrowClosedResult(t *testing.T) {
	_, conn := openMemory(t, nil)

	res, err := conn.Query("SELECT 1")
	require.NoError(t, err)
	require.NoError(t, res.Close())

	var buf bytes.Buffer
	assert.ErrorIs(t, res.WriteArrow(&buf), ErrClosedHandle)
	assert.Zero(t, buf.Len())
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	return names
}
