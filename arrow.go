package duckling

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/decimal128"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

// arrowType maps an engine column type to the Arrow type its cells are
// exported as. Types without a lossless Arrow counterpart are exported as
// their text rendering.
func arrowType(typeName string) arrow.DataType {
	switch canonicalType(typeName) {
	case "BOOLEAN":
		return arrow.FixedWidthTypes.Boolean
	case "TINYINT":
		return arrow.PrimitiveTypes.Int8
	case "SMALLINT":
		return arrow.PrimitiveTypes.Int16
	case "INTEGER":
		return arrow.PrimitiveTypes.Int32
	case "BIGINT":
		return arrow.PrimitiveTypes.Int64
	case "UTINYINT":
		return arrow.PrimitiveTypes.Uint8
	case "USMALLINT":
		return arrow.PrimitiveTypes.Uint16
	case "UINTEGER":
		return arrow.PrimitiveTypes.Uint32
	case "UBIGINT":
		return arrow.PrimitiveTypes.Uint64
	case "FLOAT":
		return arrow.PrimitiveTypes.Float32
	case "DOUBLE":
		return arrow.PrimitiveTypes.Float64
	case "DECIMAL":
		// A bare DECIMAL does not say which scale the engine used.
		if !strings.Contains(typeName, "(") {
			return arrow.BinaryTypes.String
		}
		width, scale, err := decimalSpec(typeName)
		if err != nil || width > 38 {
			return arrow.BinaryTypes.String
		}
		return &arrow.Decimal128Type{Precision: int32(width), Scale: int32(scale)}
	case "BLOB":
		return arrow.BinaryTypes.Binary
	case "DATE":
		return arrow.FixedWidthTypes.Date32
	case "TIME":
		return arrow.FixedWidthTypes.Time64us
	case "TIMESTAMP", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS", "TIMESTAMP WITH TIME ZONE":
		return arrow.FixedWidthTypes.Timestamp_us
	case "INTERVAL":
		return arrow.FixedWidthTypes.MonthDayNanoInterval
	case "LIST":
		return arrow.ListOf(arrowType(elementType(typeName)))
	default:
		return arrow.BinaryTypes.String
	}
}

// ArrowSchema returns the Arrow schema of the result's records.
func (r *QueryResult) ArrowSchema() (*arrow.Schema, error) {
	if err := handles.check(r.handle); err != nil {
		return nil, err
	}
	return arrowSchema(r.cols), nil
}

func arrowSchema(cols []Column) *arrow.Schema {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		fields[i] = arrow.Field{Name: c.Name, Type: arrowType(c.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// FetchRecord returns the next chunk as an Arrow record. It returns io.EOF
// once the rows are exhausted. The caller must Release the record.
func (r *QueryResult) FetchRecord(mem memory.Allocator) (arrow.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := handles.check(r.handle); err != nil {
		return nil, err
	}
	rows, err := r.fetch(context.Background())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, io.EOF
	}
	return buildRecord(mem, arrowSchema(r.cols), rows)
}

// WriteArrow writes the remaining rows to w as an Arrow IPC stream, one
// record batch per chunk.
func (r *QueryResult) WriteArrow(w io.Writer) (err error) {
	schema, err := r.ArrowSchema()
	if err != nil {
		return err
	}

	mem := memory.NewGoAllocator()
	writer := ipc.NewWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	defer func() {
		err = errors.Join(err, writer.Close())
	}()

	for {
		rec, err := r.FetchRecord(mem)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		err = writer.Write(rec)
		rec.Release()
		if err != nil {
			return fmt.Errorf("writing arrow batch: %w", err)
		}
	}
}

func buildRecord(mem memory.Allocator, schema *arrow.Schema, rows []Row) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, row := range rows {
		for i, v := range row {
			if err := appendArrow(b.Field(i), v); err != nil {
				return nil, wrapError(ExecutionError, "exporting column "+schema.Field(i).Name, err)
			}
		}
	}
	return b.NewRecord(), nil
}

func appendArrow(b array.Builder, v Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}

	switch b.(type) {
	case *array.Int8Builder, *array.Int16Builder, *array.Int32Builder, *array.Int64Builder,
		*array.Uint8Builder, *array.Uint16Builder, *array.Uint32Builder, *array.Uint64Builder:
		if v.kind != KindInt && v.kind != KindUint {
			return arrowMismatch(v, b)
		}
	case *array.Float32Builder, *array.Float64Builder:
		if v.kind != KindFloat {
			return arrowMismatch(v, b)
		}
	}

	switch b := b.(type) {
	case *array.BooleanBuilder:
		if v.kind != KindBool {
			return arrowMismatch(v, b)
		}
		b.Append(v.Bool())
	case *array.Int8Builder:
		b.Append(int8(v.Int()))
	case *array.Int16Builder:
		b.Append(int16(v.Int()))
	case *array.Int32Builder:
		b.Append(int32(v.Int()))
	case *array.Int64Builder:
		b.Append(v.Int())
	case *array.Uint8Builder:
		b.Append(uint8(v.Uint()))
	case *array.Uint16Builder:
		b.Append(uint16(v.Uint()))
	case *array.Uint32Builder:
		b.Append(uint32(v.Uint()))
	case *array.Uint64Builder:
		b.Append(v.Uint())
	case *array.Float32Builder:
		b.Append(float32(v.Float()))
	case *array.Float64Builder:
		b.Append(v.Float())
	case *array.Decimal128Builder:
		dt := b.Type().(*arrow.Decimal128Type)
		unscaled, err := scaleDecimal(v.String(), int(dt.Scale))
		if err != nil {
			return err
		}
		b.Append(decimal128.FromBigInt(unscaled))
	case *array.BinaryBuilder:
		if v.kind == KindBlob {
			b.Append(v.Bytes())
		} else {
			b.Append([]byte(v.String()))
		}
	case *array.StringBuilder:
		b.Append(v.String())
	case *array.Date32Builder:
		if v.kind != KindTime {
			return arrowMismatch(v, b)
		}
		b.Append(arrow.Date32FromTime(v.Time()))
	case *array.Time64Builder:
		if v.kind != KindTime {
			return arrowMismatch(v, b)
		}
		t := v.Time()
		midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		b.Append(arrow.Time64(t.Sub(midnight).Microseconds()))
	case *array.TimestampBuilder:
		if v.kind != KindTime {
			return arrowMismatch(v, b)
		}
		b.Append(arrow.Timestamp(v.Time().UnixMicro()))
	case *array.MonthDayNanoIntervalBuilder:
		if v.kind != KindInterval {
			return arrowMismatch(v, b)
		}
		iv := v.Interval()
		b.Append(arrow.MonthDayNanoInterval{Months: iv.Months, Days: iv.Days, Nanoseconds: iv.Micros * 1000})
	case *array.ListBuilder:
		if v.kind != KindList {
			return arrowMismatch(v, b)
		}
		b.Append(true)
		for _, e := range v.List() {
			if err := appendArrow(b.ValueBuilder(), e); err != nil {
				return err
			}
		}
	default:
		return arrowMismatch(v, b)
	}
	return nil
}

func arrowMismatch(v Value, b array.Builder) error {
	return fmt.Errorf("cannot export %s value as arrow %s", v.Kind(), b.Type())
}
