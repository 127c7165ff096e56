package duckling

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

type intRange struct {
	min int64
	max uint64
}

var integerRanges = map[string]intRange{
	"TINYINT":   {math.MinInt8, math.MaxInt8},
	"SMALLINT":  {math.MinInt16, math.MaxInt16},
	"INTEGER":   {math.MinInt32, math.MaxInt32},
	"BIGINT":    {math.MinInt64, math.MaxInt64},
	"UTINYINT":  {0, math.MaxUint8},
	"USMALLINT": {0, math.MaxUint16},
	"UINTEGER":  {0, math.MaxUint32},
	"UBIGINT":   {0, math.MaxUint64},
}

// typeAliases maps the alternative spellings DuckDB accepts in DDL to the
// names it reports in its catalog.
var typeAliases = map[string]string{
	"INT1":        "TINYINT",
	"INT2":        "SMALLINT",
	"SHORT":       "SMALLINT",
	"INT":         "INTEGER",
	"INT4":        "INTEGER",
	"SIGNED":      "INTEGER",
	"INT8":        "BIGINT",
	"LONG":        "BIGINT",
	"INT128":      "HUGEINT",
	"UINT8":       "UTINYINT",
	"UINT16":      "USMALLINT",
	"UINT32":      "UINTEGER",
	"UINT64":      "UBIGINT",
	"UINT128":     "UHUGEINT",
	"BOOL":        "BOOLEAN",
	"LOGICAL":     "BOOLEAN",
	"FLOAT4":      "FLOAT",
	"REAL":        "FLOAT",
	"FLOAT8":      "DOUBLE",
	"NUMERIC":     "DECIMAL",
	"STRING":      "VARCHAR",
	"TEXT":        "VARCHAR",
	"CHAR":        "VARCHAR",
	"BPCHAR":      "VARCHAR",
	"BYTEA":       "BLOB",
	"BINARY":      "BLOB",
	"VARBINARY":   "BLOB",
	"DATETIME":    "TIMESTAMP",
	"TIMESTAMPTZ": "TIMESTAMP WITH TIME ZONE",
}

func canonicalType(typeName string) string {
	base := baseType(typeName)
	if alias, ok := typeAliases[base]; ok {
		return alias
	}
	return base
}

// coerce checks that v can be stored in a column of the given SQL type and
// returns it in the variant the backends expect for that type. NULL fits
// every column; NOT NULL constraints are left to the engine.
func coerce(v Value, typeName string) (Value, error) {
	if v.IsNull() {
		return v, nil
	}

	base := canonicalType(typeName)
	if v.kind == KindText {
		parsed, err := fromText(v.str, base)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a valid %s: %w", v.str, typeName, err)
		}
		v = parsed
	}

	if r, ok := integerRanges[base]; ok {
		return coerceInteger(v, base, r)
	}

	switch base {
	case "BOOLEAN":
		switch v.kind {
		case KindBool:
			return v, nil
		case KindInt, KindUint:
			if v.num <= 1 {
				return Bool(v.num == 1), nil
			}
		}
	case "HUGEINT":
		switch v.kind {
		case KindWide:
			return v, nil
		case KindInt:
			return Wide(WideFromInt64(v.Int())), nil
		case KindUint:
			return Wide(WideInteger{Low: v.Uint()}), nil
		}
	case "UHUGEINT":
		switch v.kind {
		case KindWide:
			if v.wide.High >= 0 {
				return v, nil
			}
		case KindInt:
			if v.Int() >= 0 {
				return Wide(WideFromInt64(v.Int())), nil
			}
		case KindUint:
			return Wide(WideInteger{Low: v.Uint()}), nil
		}
	case "FLOAT", "DOUBLE":
		switch v.kind {
		case KindFloat:
			return v, nil
		case KindInt:
			return Float(float64(v.Int())), nil
		case KindUint:
			return Float(float64(v.Uint())), nil
		}
	case "DECIMAL":
		return coerceDecimal(v, typeName)
	case "VARCHAR":
		switch v.kind {
		case KindText:
			return v, nil
		case KindList:
		default:
			return Text(textLiteral(v)), nil
		}
	case "ENUM":
		if v.kind == KindText {
			return v, nil
		}
	case "BLOB", "BIT":
		switch v.kind {
		case KindBlob:
			return v, nil
		case KindText:
			return Blob([]byte(v.str)), nil
		}
	case "UUID":
		switch v.kind {
		case KindUUID:
			return v, nil
		case KindText:
			if id, err := uuid.Parse(v.str); err == nil {
				return UUID(id), nil
			}
		case KindBlob:
			if id, err := uuid.FromBytes(v.raw); err == nil {
				return UUID(id), nil
			}
		}
	case "DATE", "TIME", "TIMESTAMP", "TIMESTAMP_S", "TIMESTAMP_MS", "TIMESTAMP_NS",
		"TIMESTAMP WITH TIME ZONE", "TIME WITH TIME ZONE":
		if v.kind == KindTime {
			return v, nil
		}
	case "INTERVAL":
		if v.kind == KindInterval {
			return v, nil
		}
	case "LIST":
		if v.kind == KindList {
			elem := elementType(typeName)
			out := make([]Value, len(v.list))
			for i, e := range v.list {
				ce, err := coerce(e, elem)
				if err != nil {
					return Value{}, fmt.Errorf("list element %d: %w", i, err)
				}
				out[i] = ce
			}
			return List(out...), nil
		}
	default:
		// STRUCT, MAP, UNION and other nested types are handed to the
		// engine unchecked.
		return v, nil
	}

	return Value{}, fmt.Errorf("%s value does not fit a %s column", v.kind, typeName)
}

func coerceInteger(v Value, typeName string, r intRange) (Value, error) {
	var n int64
	var u uint64
	negative := false

	switch v.kind {
	case KindInt:
		n = v.Int()
		negative = n < 0
		u = uint64(n)
	case KindUint:
		u = v.Uint()
	case KindWide:
		i, ok := v.wide.Int64()
		if !ok {
			if v.wide.High == 0 {
				u = v.wide.Low
				break
			}
			return Value{}, fmt.Errorf("%s out of range for %s", v.wide, typeName)
		}
		n, negative, u = i, i < 0, uint64(i)
	default:
		return Value{}, fmt.Errorf("%s value does not fit a %s column", v.kind, typeName)
	}

	if negative {
		if n < r.min {
			return Value{}, fmt.Errorf("%d out of range for %s", n, typeName)
		}
		return Int(n), nil
	}
	if u > r.max {
		return Value{}, fmt.Errorf("%d out of range for %s", u, typeName)
	}
	if r.min < 0 {
		return Int(int64(u)), nil
	}
	return Uint(u), nil
}

// decimalSpec parses "DECIMAL(w,s)"; a bare DECIMAL is DuckDB's default
// DECIMAL(18,3).
func decimalSpec(typeName string) (width, scale int, err error) {
	t := strings.TrimSpace(typeName)
	open := strings.IndexByte(t, '(')
	if open < 0 {
		return 18, 3, nil
	}
	closing := strings.LastIndexByte(t, ')')
	if closing < open {
		return 0, 0, fmt.Errorf("malformed decimal type %q", typeName)
	}
	parts := strings.Split(t[open+1:closing], ",")
	if width, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return 0, 0, fmt.Errorf("malformed decimal type %q", typeName)
	}
	if len(parts) > 1 {
		if scale, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			return 0, 0, fmt.Errorf("malformed decimal type %q", typeName)
		}
	}
	return width, scale, nil
}

func coerceDecimal(v Value, typeName string) (Value, error) {
	width, scale, err := decimalSpec(typeName)
	if err != nil {
		return Value{}, err
	}

	var text string
	switch v.kind {
	case KindDecimal, KindText:
		text = v.str
	case KindInt, KindUint, KindWide:
		text = v.String()
	case KindFloat:
		text = strconv.FormatFloat(v.Float(), 'f', -1, 64)
	default:
		return Value{}, fmt.Errorf("%s value does not fit a %s column", v.kind, typeName)
	}

	unscaled, err := scaleDecimal(text, scale)
	if err != nil {
		return Value{}, err
	}
	if digits := len(new(big.Int).Abs(unscaled).String()); digits > width && unscaled.Sign() != 0 {
		return Value{}, fmt.Errorf("%s does not fit %s", text, typeName)
	}
	return Decimal(formatDecimal(unscaled, scale)), nil
}

// scaleDecimal returns text * 10^scale rounded half away from zero.
func scaleDecimal(text string, scale int) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(text))
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", text)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(scale)), nil)))

	quo, rem := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if rem.Sign() != 0 {
		twice := new(big.Int).Mul(new(big.Int).Abs(rem), big.NewInt(2))
		if twice.Cmp(r.Denom()) >= 0 {
			if r.Sign() < 0 {
				quo.Sub(quo, big.NewInt(1))
			} else {
				quo.Add(quo, big.NewInt(1))
			}
		}
	}
	return quo, nil
}

// formatDecimal renders unscaled / 10^scale with exactly scale fraction
// digits.
func formatDecimal(unscaled *big.Int, scale int) string {
	digits := new(big.Int).Abs(unscaled).String()
	sign := ""
	if unscaled.Sign() < 0 {
		sign = "-"
	}
	if scale <= 0 {
		return sign + digits
	}
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	cut := len(digits) - scale
	return sign + digits[:cut] + "." + digits[cut:]
}

// textLiteral renders v in the text form DuckDB casts from VARCHAR.
func textLiteral(v Value) string {
	switch v.kind {
	case KindTime:
		if v.ts.Location() == time.UTC {
			return v.ts.Format("2006-01-02 15:04:05.999999")
		}
		return v.ts.Format("2006-01-02 15:04:05.999999-07:00")
	case KindInterval:
		return fmt.Sprintf("%d months %d days %d microseconds", v.ivl.Months, v.ivl.Days, v.ivl.Micros)
	default:
		return v.String()
	}
}

var timestampLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02",
}

// timeLayouts lists the text forms accepted per temporal type, DuckDB's own
// rendering first.
var timeLayouts = map[string][]string{
	"DATE":         {"2006-01-02"},
	"TIME":         {"15:04:05.999999999", "15:04"},
	"TIMESTAMP":    timestampLayouts,
	"TIMESTAMP_S":  timestampLayouts,
	"TIMESTAMP_MS": timestampLayouts,
	"TIMESTAMP_NS": timestampLayouts,
	"TIMESTAMP WITH TIME ZONE": {
		"2006-01-02 15:04:05.999999999-07",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	},
	"TIME WITH TIME ZONE": {"15:04:05.999999999-07", "15:04:05.999999999-07:00", "15:04:05.999999999"},
}

// fromText parses the text form of a value for a column of the canonical
// type base. Types that take text as it is get it back unchanged.
func fromText(s, base string) (Value, error) {
	if _, ok := integerRanges[base]; ok || base == "HUGEINT" || base == "UHUGEINT" {
		w, err := ParseWide(strings.TrimSpace(s))
		if err != nil {
			return Value{}, err
		}
		return Wide(w), nil
	}

	switch base {
	case "BOOLEAN":
		b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(s)))
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil
	case "FLOAT", "DOUBLE":
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil
	case "INTERVAL":
		iv, err := parseIntervalText(s)
		if err != nil {
			return Value{}, err
		}
		return IntervalValue(iv), nil
	}

	if layouts, ok := timeLayouts[base]; ok {
		if t, ok := parseTimeText(strings.TrimSpace(s), layouts); ok {
			return Time(t), nil
		}
		return Value{}, fmt.Errorf("unrecognised %s format", strings.ToLower(base))
	}
	return Text(s), nil
}

func parseTimeText(s string, layouts []string) (time.Time, bool) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func intervalUnit(name string) (Interval, bool) {
	switch name {
	case "year", "years", "y":
		return Interval{Months: 12}, true
	case "month", "months", "mon", "mons":
		return Interval{Months: 1}, true
	case "week", "weeks", "w":
		return Interval{Days: 7}, true
	case "day", "days", "d":
		return Interval{Days: 1}, true
	case "hour", "hours", "h":
		return Interval{Micros: 3600000000}, true
	case "minute", "minutes", "min", "mins":
		return Interval{Micros: 60000000}, true
	case "second", "seconds", "sec", "secs", "s":
		return Interval{Micros: 1000000}, true
	case "millisecond", "milliseconds", "ms":
		return Interval{Micros: 1000}, true
	case "microsecond", "microseconds", "us":
		return Interval{Micros: 1}, true
	}
	return Interval{}, false
}

// parseIntervalText reads DuckDB's interval rendering ("1 year 2 months 3
// days 04:05:06.5"), unit lists such as "90 minutes" and Go durations
// ("1h30m").
func parseIntervalText(s string) (Interval, error) {
	text := strings.ToLower(strings.TrimSpace(s))
	if d, err := time.ParseDuration(text); err == nil {
		return Interval{Micros: d.Microseconds()}, nil
	}

	fields := strings.Fields(text)
	if len(fields) == 0 {
		return Interval{}, fmt.Errorf("empty interval")
	}

	var iv Interval
	for i := 0; i < len(fields); i++ {
		if strings.Contains(fields[i], ":") {
			micros, err := parseClock(fields[i])
			if err != nil {
				return Interval{}, err
			}
			iv.Micros += micros
			continue
		}

		n, err := strconv.ParseInt(fields[i], 10, 32)
		if err != nil || i+1 == len(fields) {
			return Interval{}, fmt.Errorf("unrecognised interval part %q", fields[i])
		}
		unit, ok := intervalUnit(fields[i+1])
		if !ok {
			return Interval{}, fmt.Errorf("unknown interval unit %q", fields[i+1])
		}
		iv.Months += unit.Months * int32(n)
		iv.Days += unit.Days * int32(n)
		iv.Micros += unit.Micros * n
		i++
	}
	return iv, nil
}

// parseClock converts "[-]HH:MM[:SS[.ffffff]]" to microseconds.
func parseClock(s string) (int64, error) {
	sign := int64(1)
	if strings.HasPrefix(s, "-") {
		sign, s = -1, s[1:]
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("unrecognised clock %q", s)
	}

	hours, err1 := strconv.ParseInt(parts[0], 10, 64)
	minutes, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, fmt.Errorf("unrecognised clock %q", s)
	}
	var seconds float64
	if len(parts) == 3 {
		var err error
		if seconds, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return 0, fmt.Errorf("unrecognised clock %q", s)
		}
	}
	micros := (hours*3600+minutes*60)*1000000 + int64(math.Round(seconds*1e6))
	return sign * micros, nil
}
