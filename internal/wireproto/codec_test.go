package wireproto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncoderDecoderRoundTrip(t *testing.T) {
	e := NewEncoder(0)
	e.WriteU8(0x7F)
	e.WriteU32(0xDEADBEEF)
	e.WriteU16(0x1234)
	e.WriteBytes([]byte{1, 2, 3})
	require.NoError(t, e.WriteString("hello"))

	d := NewDecoder(e.Bytes())
	u8, err := d.ReadU8()
	require.NoError(t, err)
	require.Equal(t, byte(0x7F), u8)

	u32, err := d.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	u16, err := d.ReadU16()
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), u16)

	b, err := d.ReadBytes(3)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, b)

	s, err := d.ReadString(MaxPath)
	require.NoError(t, err)
	require.Equal(t, "hello", s)
	require.Equal(t, 0, d.Remaining())
}

func TestDecoderErrorsOnShortInput(t *testing.T) {
	d := NewDecoder([]byte{1, 2})
	_, err := d.ReadU32()
	require.Error(t, err)
}

func TestReadStringRejectsOverLongLength(t *testing.T) {
	e := NewEncoder(0)
	e.WriteU16(20)
	e.WriteBytes(make([]byte, 20))

	d := NewDecoder(e.Bytes())
	_, err := d.ReadString(MaxName)
	require.Error(t, err)
}
