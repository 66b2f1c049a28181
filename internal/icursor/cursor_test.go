package icursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripPrimitives(t *testing.T) {
	buf := make([]byte, 32)
	c := New(buf)

	require.NoError(t, c.WriteU8(0xAB))
	require.NoError(t, c.WriteBool(true))
	require.NoError(t, c.WriteU16(0x1234))
	require.NoError(t, c.WriteU32(0xDEADBEEF))
	require.NoError(t, c.WriteU64(0x0102030405060708))
	require.NoError(t, c.WriteBytes([]byte("hi")))

	c.SeekRead(0)

	u8, err := c.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), u8)

	b, err := c.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	u16, err := c.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)

	u32, err := c.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	u64, err := c.ReadU64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0102030405060708), u64)

	raw, err := c.ReadBytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), raw)
}

func TestIndexedAccessDoesNotMoveCursor(t *testing.T) {
	buf := make([]byte, 16)
	c := New(buf)

	require.NoError(t, c.WriteU32At(4, 0xCAFEBABE, false))
	assert.Equal(t, 0, c.WritePos())

	v, err := c.ReadU32At(4, false)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xCAFEBABE), v)
	assert.Equal(t, 0, c.ReadPos())
}

func TestOutOfRange(t *testing.T) {
	c := New(make([]byte, 4))
	assert.ErrorIs(t, c.WriteU64(1), ErrOutOfRange)
	assert.ErrorIs(t, c.WriteU32At(2, 1, false), ErrOutOfRange)

	_, err := c.ReadBytes(5)
	assert.ErrorIs(t, err, ErrOutOfRange)
}

func TestSubIsAView(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	c := New(buf)
	sub, err := c.Sub(1, 2)
	require.NoError(t, err)
	sub[0] = 99
	assert.Equal(t, byte(99), buf[1])
}

func TestStringRoundTrip(t *testing.T) {
	c := New(make([]byte, 16))
	require.NoError(t, c.WriteString("hello"))
	c.SeekRead(0)
	s, err := c.ReadString(5)
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
}
