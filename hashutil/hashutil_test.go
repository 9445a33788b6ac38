package hashutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSum256Deterministic(t *testing.T) {
	a := Sum256([]byte("hello"))
	b := Sum256([]byte("hello"))
	assert.Equal(t, a, b)

	c := Sum256([]byte("world"))
	assert.NotEqual(t, a, c)
}

func TestDoubleSum256(t *testing.T) {
	data := []byte("address-material")
	once := Sum256(data)
	twice := Sum256(once[:])
	assert.Equal(t, twice, DoubleSum256(data))
}

func TestIsZero(t *testing.T) {
	var zero Hash
	assert.True(t, zero.IsZero())

	nonZero := Sum256([]byte("x"))
	assert.False(t, nonZero.IsZero())
}

func TestHashFromBytesRejectsWrongLength(t *testing.T) {
	_, ok := HashFromBytes([]byte{1, 2, 3})
	assert.False(t, ok)

	h := Sum256([]byte("ok"))
	restored, ok := HashFromBytes(h.Bytes())
	require.True(t, ok)
	assert.Equal(t, h, restored)
}

func TestHashFromHexRoundTrip(t *testing.T) {
	h := Sum256([]byte("round-trip"))
	parsed, err := HashFromHex(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestHashFromHexRejectsBadLength(t *testing.T) {
	_, err := HashFromHex("abcd")
	assert.Error(t, err)
}

func TestHashJSONRoundTrip(t *testing.T) {
	h := Sum256([]byte("json"))
	raw, err := json.Marshal(h)
	require.NoError(t, err)

	var decoded Hash
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, h, decoded)
}

func TestHashJSONEmptyStringIsZero(t *testing.T) {
	var h Hash
	require.NoError(t, json.Unmarshal([]byte(`""`), &h))
	assert.True(t, h.IsZero())
}

func TestLittleEndianRoundTrip(t *testing.T) {
	var buf []byte
	buf = PutUint32LE(buf, 0x01020304)
	buf = PutUint64LE(buf, 0x0102030405060708)

	assert.Equal(t, uint32(0x01020304), Uint32LE(buf[:4]))
	assert.Equal(t, uint64(0x0102030405060708), Uint64LE(buf[4:]))
}
