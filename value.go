package duckling

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindText
	KindBlob
	KindWide
	KindDecimal
	KindTime
	KindInterval
	KindUUID
	KindList
)

var kindNames = [...]string{
	KindNull:     "null",
	KindBool:     "bool",
	KindInt:      "int",
	KindUint:     "uint",
	KindFloat:    "float",
	KindText:     "text",
	KindBlob:     "blob",
	KindWide:     "wide",
	KindDecimal:  "decimal",
	KindTime:     "time",
	KindInterval: "interval",
	KindUUID:     "uuid",
	KindList:     "list",
}

// String returns the lower-case kind name.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Interval is a DuckDB INTERVAL: months, days and microseconds are kept apart
// because they do not convert into each other.
type Interval struct {
	Months int32
	Days   int32
	Micros int64
}

// Value is a single cell or parameter. Exactly one payload is meaningful,
// selected by Kind; the zero Value is NULL.
type Value struct {
	kind Kind
	num  uint64 // bool, int, uint, float bits
	str  string // text, decimal
	raw  []byte
	wide WideInteger
	ts   time.Time
	ivl  Interval
	id   uuid.UUID
	list []Value
}

// Row is one result or appender row; its order follows the column order.
type Row []Value

// Column describes a result or table column. Type is the engine's SQL type
// name, e.g. INTEGER, VARCHAR, HUGEINT or DECIMAL(18,3).
type Column struct {
	Name string
	Type string
}

// Null returns the NULL value.
func Null() Value { return Value{} }

// Bool returns a BOOLEAN value.
func Bool(b bool) Value {
	v := Value{kind: KindBool}
	if b {
		v.num = 1
	}
	return v
}

// Int returns a signed integer value.
func Int(n int64) Value { return Value{kind: KindInt, num: uint64(n)} }

// Uint returns an unsigned integer value.
func Uint(n uint64) Value { return Value{kind: KindUint, num: n} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, num: math.Float64bits(f)} }

// Text returns a VARCHAR value.
func Text(s string) Value { return Value{kind: KindText, str: s} }

// Blob returns a BLOB value. The slice is not copied.
func Blob(b []byte) Value { return Value{kind: KindBlob, raw: b} }

// Wide returns a 128-bit integer value.
func Wide(w WideInteger) Value { return Value{kind: KindWide, wide: w} }

// Time returns a DATE, TIME or TIMESTAMP value.
func Time(t time.Time) Value { return Value{kind: KindTime, ts: t} }

// UUID returns a UUID value.
func UUID(id uuid.UUID) Value { return Value{kind: KindUUID, id: id} }

// List returns a LIST value holding vs in order.
func List(vs ...Value) Value { return Value{kind: KindList, list: vs} }

// Decimal holds an exact decimal in its canonical text form, e.g. "-12.50".
func Decimal(s string) Value { return Value{kind: KindDecimal, str: s} }

// IntervalValue wraps an Interval.
func IntervalValue(iv Interval) Value { return Value{kind: KindInterval, ivl: iv} }

// Kind reports which variant v holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is NULL.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload; false for other kinds.
func (v Value) Bool() bool { return v.kind == KindBool && v.num == 1 }

// Int returns the signed integer payload.
func (v Value) Int() int64 { return int64(v.num) }

// Uint returns the unsigned integer payload.
func (v Value) Uint() uint64 { return v.num }

// Float returns the floating point payload.
func (v Value) Float() float64 { return math.Float64frombits(v.num) }

// Text returns the VARCHAR payload, or the digits of a Decimal.
func (v Value) Text() string { return v.str }

// Bytes returns the BLOB payload.
func (v Value) Bytes() []byte { return v.raw }

// Wide returns the 128-bit integer payload.
func (v Value) Wide() WideInteger { return v.wide }

// Time returns the temporal payload.
func (v Value) Time() time.Time { return v.ts }

// Interval returns the INTERVAL payload.
func (v Value) Interval() Interval { return v.ivl }

// UUID returns the UUID payload.
func (v Value) UUID() uuid.UUID { return v.id }

// List returns the elements of a LIST value.
func (v Value) List() []Value { return v.list }

// Any returns the payload as a plain Go value: nil, bool, int64, uint64,
// float64, string, []byte, *big.Int, time.Time, Interval, uuid.UUID or []any.
// Decimals are returned as their text.
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.Bool()
	case KindInt:
		return v.Int()
	case KindUint:
		return v.Uint()
	case KindFloat:
		return v.Float()
	case KindText, KindDecimal:
		return v.str
	case KindBlob:
		return v.raw
	case KindWide:
		return FromWide(v.wide)
	case KindTime:
		return v.ts
	case KindInterval:
		return v.ivl
	case KindUUID:
		return v.id
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Any()
		}
		return out
	default:
		return nil
	}
}

// String renders the value the way DuckDB's shell prints it.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindBool:
		return strconv.FormatBool(v.Bool())
	case KindInt:
		return strconv.FormatInt(v.Int(), 10)
	case KindUint:
		return strconv.FormatUint(v.Uint(), 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	case KindText, KindDecimal:
		return v.str
	case KindBlob:
		return `\x` + strings.ToUpper(hex.EncodeToString(v.raw))
	case KindWide:
		return v.wide.String()
	case KindTime:
		return v.ts.Format("2006-01-02 15:04:05.999999")
	case KindInterval:
		return fmt.Sprintf("%d months %d days %dus", v.ivl.Months, v.ivl.Days, v.ivl.Micros)
	case KindUUID:
		return v.id.String()
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return v.kind.String()
	}
}

// ValueOf converts a Go value into a Value. It accepts Value itself, nil,
// booleans, all integer and float types, string, []byte, WideInteger,
// *big.Int, time.Time, time.Duration, Interval, uuid.UUID and slices of
// those.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case *Value:
		if t == nil {
			return Null(), nil
		}
		return *t, nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Uint(uint64(t)), nil
	case uint8:
		return Uint(uint64(t)), nil
	case uint16:
		return Uint(uint64(t)), nil
	case uint32:
		return Uint(uint64(t)), nil
	case uint64:
		return Uint(t), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case string:
		return Text(t), nil
	case []byte:
		return Blob(t), nil
	case WideInteger:
		return Wide(t), nil
	case *big.Int:
		if t == nil {
			return Null(), nil
		}
		w, err := ToWide(t)
		if err != nil {
			return Value{}, err
		}
		return Wide(w), nil
	case time.Time:
		return Time(t), nil
	case time.Duration:
		return IntervalValue(Interval{Micros: t.Microseconds()}), nil
	case Interval:
		return IntervalValue(t), nil
	case uuid.UUID:
		return UUID(t), nil
	case []Value:
		return List(t...), nil
	case []any:
		list := make([]Value, len(t))
		for i, e := range t {
			ev, err := ValueOf(e)
			if err != nil {
				return Value{}, fmt.Errorf("list element %d: %w", i, err)
			}
			list[i] = ev
		}
		return List(list...), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", x)
	}
}

// valuesOf converts a parameter or row slice.
func valuesOf(xs []any) ([]Value, error) {
	out := make([]Value, len(xs))
	for i, x := range xs {
		v, err := ValueOf(x)
		if err != nil {
			return nil, fmt.Errorf("value %d: %w", i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

// baseType strips a type's modifiers: "DECIMAL(18,3)" -> "DECIMAL",
// "INTEGER[]" -> "LIST".
func baseType(typeName string) string {
	t := strings.ToUpper(strings.TrimSpace(typeName))
	if strings.HasSuffix(t, "]") {
		return "LIST"
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = t[:i]
	}
	return t
}

// elementType returns the element type of a LIST or ARRAY type name:
// "INTEGER[]" -> "INTEGER", "VARCHAR[3]" -> "VARCHAR".
func elementType(typeName string) string {
	t := strings.TrimSpace(typeName)
	if i := strings.LastIndexByte(t, '['); i > 0 {
		return t[:i]
	}
	return t
}

// nativeValue converts a scanned engine value. typeName disambiguates
// payloads that share a Go type, such as 16-byte UUIDs and BLOBs.
func nativeValue(src any, typeName string) (Value, error) {
	base := baseType(typeName)
	switch t := src.(type) {
	case nil:
		return Null(), nil
	case []byte:
		if base == "UUID" && len(t) == 16 {
			id, err := uuid.FromBytes(t)
			if err != nil {
				return Value{}, err
			}
			return UUID(id), nil
		}
		cp := make([]byte, len(t))
		copy(cp, t)
		return Blob(cp), nil
	case [16]byte:
		return UUID(uuid.UUID(t)), nil
	case time.Time:
		return Time(t), nil
	case *big.Int:
		if t == nil {
			return Null(), nil
		}
		w, err := ToWide(t)
		if err != nil {
			// UHUGEINT above 2^127-1 keeps its exact value as text.
			return Decimal(t.String()), nil
		}
		return Wide(w), nil
	case string:
		if base == "UUID" {
			if id, err := uuid.Parse(t); err == nil {
				return UUID(id), nil
			}
		}
		return Text(t), nil
	case []any:
		elem := elementType(typeName)
		list := make([]Value, len(t))
		for i, e := range t {
			ev, err := nativeValue(e, elem)
			if err != nil {
				return Value{}, err
			}
			list[i] = ev
		}
		return List(list...), nil
	case fmt.Stringer:
		if base == "UUID" {
			if id, err := uuid.Parse(t.String()); err == nil {
				return UUID(id), nil
			}
		}
		return Text(t.String()), nil
	}

	v, err := ValueOf(src)
	if err != nil {
		// Composite engine types without a dedicated variant (STRUCT, MAP,
		// UNION) are carried as their printed form.
		return Text(fmt.Sprint(src)), nil
	}
	return v, nil
}
