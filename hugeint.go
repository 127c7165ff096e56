package duckling

import (
	"errors"
	"math/big"
	"strconv"
)

// WideInteger is a 128-bit signed integer split into a signed high word and
// an unsigned low word, the layout DuckDB uses for HUGEINT.
type WideInteger struct {
	High int64
	Low  uint64
}

var (
	wideMin = new(big.Int).Lsh(big.NewInt(-1), 127)
	wideMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	lowMask = new(big.Int).SetUint64(^uint64(0))
)

var errNilWide = errors.New("duckling: nil *big.Int has no wide integer value")

// ToWide splits v into its high and low words. Values outside
// [-2^127, 2^127-1] return ErrOutOfRange; a nil v is an error.
func ToWide(v *big.Int) (WideInteger, error) {
	if v == nil {
		return WideInteger{}, errNilWide
	}
	if v.Cmp(wideMin) < 0 || v.Cmp(wideMax) > 0 {
		return WideInteger{}, ErrOutOfRange
	}

	// big.Int bit operations behave as infinite two's complement, so the
	// mask yields the low word and Rsh is an arithmetic shift.
	low := new(big.Int).And(v, lowMask)
	high := new(big.Int).Rsh(v, 64)

	return WideInteger{
		High: high.Int64(),
		Low:  low.Uint64(),
	}, nil
}

// FromWide reconstructs (High << 64) | Low.
func FromWide(w WideInteger) *big.Int {
	v := big.NewInt(w.High)
	v.Lsh(v, 64)
	return v.Or(v, new(big.Int).SetUint64(w.Low))
}

// WideFromInt64 sign-extends n.
func WideFromInt64(n int64) WideInteger {
	w := WideInteger{Low: uint64(n)}
	if n < 0 {
		w.High = -1
	}
	return w
}

// BigInt is shorthand for FromWide(w).
func (w WideInteger) BigInt() *big.Int {
	return FromWide(w)
}

// Int64 returns w as an int64 when it fits.
func (w WideInteger) Int64() (int64, bool) {
	n := int64(w.Low)
	if (w.High == 0 && n >= 0) || (w.High == -1 && n < 0) {
		return n, true
	}
	return 0, false
}

// String returns the decimal representation.
func (w WideInteger) String() string {
	if n, ok := w.Int64(); ok {
		return strconv.FormatInt(n, 10)
	}
	return FromWide(w).String()
}

// ParseWide parses a base-10 integer.
func ParseWide(s string) (WideInteger, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return WideInteger{}, strconv.ErrSyntax
	}
	return ToWide(v)
}
