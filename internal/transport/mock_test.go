package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockRespondsOnFlush(t *testing.T) {
	m := NewMock("irda", func(frame []byte) []byte {
		return append([]byte{0xAA}, frame...)
	})

	_, err := m.Write([]byte{0x01})
	require.NoError(t, err)
	_, err = m.Write([]byte{0x02})
	require.NoError(t, err)
	require.Equal(t, 0, m.Available(), "reply must wait for flush")

	require.NoError(t, m.Flush())
	require.Equal(t, 3, m.Available())
	require.Equal(t, [][]byte{{0x01, 0x02}}, m.Frames())

	b, err := m.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), b)
}

func TestMockReadByteEmpty(t *testing.T) {
	m := NewMock("ir", nil)
	_, err := m.ReadByte()
	require.ErrorIs(t, err, ErrNoData)
}

func TestDrainDiscardsStaleBytes(t *testing.T) {
	m := NewMock("irda", nil)
	m.Inject([]byte{1, 2, 3, 4})

	require.Equal(t, 4, Drain(m))
	require.Equal(t, 0, m.Available())
	require.Empty(t, m.Frames(), "drain must not emit a frame")
}

func TestMockRecordsLineAndBaud(t *testing.T) {
	m := NewMock("irda", nil)
	require.NoError(t, m.SetBaud(2400))
	require.NoError(t, m.SetBaud(9600))
	require.NoError(t, m.SetEnabled(false))
	require.NoError(t, m.SetEnabled(true))

	require.Equal(t, []int{2400, 9600}, m.Bauds())
	require.Equal(t, []bool{false, true}, m.LineTrail())
	require.True(t, m.Enabled())
}
