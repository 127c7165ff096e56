package duckling

import (
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueOf(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)

	tests := []struct {
		in   any
		kind Kind
		text string
	}{
		{nil, KindNull, "NULL"},
		{true, KindBool, "true"},
		{int8(-3), KindInt, "-3"},
		{uint16(9), KindUint, "9"},
		{2.5, KindFloat, "2.5"},
		{"abc", KindText, "abc"},
		{[]byte{0x01, 0xab}, KindBlob, `\x01AB`},
		{big.NewInt(42), KindWide, "42"},
		{WideFromInt64(-1), KindWide, "-1"},
		{ts, KindTime, "2024-03-01 12:30:00"},
		{90 * time.Second, KindInterval, "0 months 0 days 90000000us"},
		{id, KindUUID, id.String()},
		{[]any{1, "x", nil}, KindList, "[1, x, NULL]"},
		{Decimal("1.50"), KindDecimal, "1.50"},
	}

	for _, tt := range tests {
		v, err := ValueOf(tt.in)
		require.NoError(t, err, "%T", tt.in)
		assert.Equal(t, tt.kind, v.Kind(), "%T", tt.in)
		assert.Equal(t, tt.text, v.String(), "%T", tt.in)
	}
}

func TestValueOfUnsupported(t *testing.T) {
	_, err := ValueOf(struct{}{})
	assert.Error(t, err)

	_, err = ValueOf(new(big.Int).Lsh(big.NewInt(1), 130))
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestValueAny(t *testing.T) {
	assert.Nil(t, Null().Any())
	assert.Equal(t, int64(-7), Int(-7).Any())
	assert.Equal(t, "0.25", Decimal("0.25").Any())
	assert.Equal(t, []any{int64(1), "a"}, List(Int(1), Text("a")).Any())

	big127 := Wide(WideInteger{High: 1}).Any().(*big.Int)
	assert.Equal(t, "18446744073709551616", big127.String())
}

func TestTypeNames(t *testing.T) {
	assert.Equal(t, "DECIMAL", baseType("decimal(18,3)"))
	assert.Equal(t, "LIST", baseType("INTEGER[]"))
	assert.Equal(t, "VARCHAR", baseType(" varchar "))
	assert.Equal(t, "INTEGER", elementType("INTEGER[]"))
	assert.Equal(t, "INTEGER[]", elementType("INTEGER[][]"))
	assert.Equal(t, "VARCHAR", elementType("VARCHAR[3]"))
}

func TestNativeValue(t *testing.T) {
	id := uuid.New()

	v, err := nativeValue(id[:], "UUID")
	require.NoError(t, err)
	assert.Equal(t, KindUUID, v.Kind())
	assert.Equal(t, id, v.UUID())

	raw := []byte{1, 2, 3}
	v, err = nativeValue(raw, "BLOB")
	require.NoError(t, err)
	raw[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, v.Bytes(), "blob must not alias the scan buffer")

	v, err = nativeValue(id.String(), "UUID")
	require.NoError(t, err)
	assert.Equal(t, KindUUID, v.Kind())

	ts := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	v, err = nativeValue(ts, "TIMESTAMP")
	require.NoError(t, err)
	assert.Equal(t, KindTime, v.Kind())
	assert.True(t, ts.Equal(v.Time()))

	huge := new(big.Int).Lsh(big.NewInt(1), 127)
	v, err = nativeValue(huge, "UHUGEINT")
	require.NoError(t, err)
	assert.Equal(t, KindDecimal, v.Kind())
	assert.Equal(t, huge.String(), v.String())

	v, err = nativeValue([]any{int32(1), nil}, "INTEGER[]")
	require.NoError(t, err)
	require.Len(t, v.List(), 2)
	assert.Equal(t, int64(1), v.List()[0].Int())
	assert.True(t, v.List()[1].IsNull())

	v, err = nativeValue(map[string]any{"a": 1}, "STRUCT(a INTEGER)")
	require.NoError(t, err)
	assert.Equal(t, KindText, v.Kind())
}
