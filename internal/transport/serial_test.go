package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

// chunkPort hands out one queued chunk per Read and counts the calls.
type chunkPort struct {
	serial.Port
	chunks [][]byte
	reads  int
}

func (p *chunkPort) Read(b []byte) (int, error) {
	p.reads++
	if len(p.chunks) == 0 {
		return 0, nil
	}
	n := copy(b, p.chunks[0])
	p.chunks = p.chunks[1:]
	return n, nil
}

func TestSerialAvailableReadsOnlyWhenDrained(t *testing.T) {
	port := &chunkPort{chunks: [][]byte{{0x01, 0x02, 0x03}, {0x04}}}
	s := NewSerial(SerialConfig{Name: "irda"})
	s.port = port

	require.Equal(t, 3, s.Available())
	require.Equal(t, 1, port.reads)

	for want := byte(0x01); want <= 0x03; want++ {
		require.Equal(t, 4-int(want), s.Available())
		b, err := s.ReadByte()
		require.NoError(t, err)
		require.Equal(t, want, b)
	}
	require.Equal(t, 1, port.reads, "buffered bytes are served without touching the port")

	require.Equal(t, 1, s.Available())
	require.Equal(t, 2, port.reads)
	b, err := s.ReadByte()
	require.NoError(t, err)
	require.Equal(t, byte(0x04), b)

	require.Equal(t, 0, s.Available())
	_, err = s.ReadByte()
	require.ErrorIs(t, err, ErrNoData)
}

func TestSerialNotConnected(t *testing.T) {
	s := NewSerial(SerialConfig{})
	require.Equal(t, "serial", s.Name())
	require.Equal(t, 0, s.Available())
	_, err := s.Write([]byte{0x01})
	require.ErrorIs(t, err, ErrNotConnected)
}
