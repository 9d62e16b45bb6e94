package transport

import "errors"

// Channel is a byte-oriented duplex line to a meter's optical head.
// Implementations are not safe for concurrent exchanges; callers serialize
// reads per channel.
type Channel interface {
	// Name returns a short label used in logs ("irda", "ir").
	Name() string
	// SetBaud reconfigures the line speed.
	SetBaud(rate int) error
	// SetEnabled drives the transceiver enable/disable control line.
	SetEnabled(on bool) error
	// Write queues bytes for transmission and returns how many were accepted.
	Write(p []byte) (int, error)
	// Available reports how many received bytes can be read without blocking.
	Available() int
	// ReadByte pops one received byte. It returns ErrNoData when nothing is buffered.
	ReadByte() (byte, error)
	// Flush blocks until all written bytes have left the transmitter.
	Flush() error
	// Close releases the underlying device.
	Close() error
}

var (
	// ErrNoData is returned by ReadByte when the receive buffer is empty.
	ErrNoData = errors.New("transport: no data available")
	// ErrNotConnected is returned when the channel has no open device.
	ErrNotConnected = errors.New("transport: not connected")
)

// Drain discards every buffered received byte and waits for pending output.
// It returns the number of bytes thrown away.
func Drain(ch Channel) int {
	n := 0
	for ch.Available() > 0 {
		if _, err := ch.ReadByte(); err != nil {
			break
		}
		n++
	}
	ch.Flush()
	return n
}
