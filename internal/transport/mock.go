package transport

import "sync"

// Responder produces the bytes a device sends back after receiving frame.
// A nil or empty return means the device stays silent.
type Responder func(frame []byte) []byte

// Mock is an in-memory Channel. Bytes written are collected until Flush,
// then handed to the Responder as one frame; its reply becomes readable.
// It backs demo mode and the driver tests.
type Mock struct {
	mu      sync.Mutex
	name    string
	respond Responder
	baud    int
	enabled bool
	pending []byte
	rx      []byte

	frames    [][]byte
	bauds     []int
	lineTrail []bool
	closed    bool
}

// NewMock creates a mock channel with the given responder.
func NewMock(name string, respond Responder) *Mock {
	return &Mock{name: name, respond: respond, enabled: true}
}

func (m *Mock) Name() string { return m.name }

// Connect is a no-op so a Mock can stand in wherever a serial channel is connected.
func (m *Mock) Connect() error { return nil }

func (m *Mock) SetBaud(rate int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.baud = rate
	m.bauds = append(m.bauds, rate)
	return nil
}

func (m *Mock) SetEnabled(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = on
	m.lineTrail = append(m.lineTrail, on)
	return nil
}

func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, p...)
	return len(p), nil
}

func (m *Mock) Available() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rx)
}

func (m *Mock) ReadByte() (byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rx) == 0 {
		return 0, ErrNoData
	}
	b := m.rx[0]
	m.rx = m.rx[1:]
	return b, nil
}

func (m *Mock) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil
	}
	frame := m.pending
	m.pending = nil
	m.frames = append(m.frames, frame)
	if m.respond != nil {
		m.rx = append(m.rx, m.respond(frame)...)
	}
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Inject places bytes in the receive buffer as if the device had sent them
// unprompted.
func (m *Mock) Inject(p []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rx = append(m.rx, p...)
}

// Frames returns copies of every frame flushed so far.
func (m *Mock) Frames() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.frames))
	for i, f := range m.frames {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Bauds returns every baud rate requested, in order.
func (m *Mock) Bauds() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.bauds...)
}

// LineTrail returns every enable-line transition, in order.
func (m *Mock) LineTrail() []bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]bool(nil), m.lineTrail...)
}

// Enabled reports the current state of the enable line.
func (m *Mock) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}
