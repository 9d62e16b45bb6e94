package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.bug.st/serial"
)

// SerialChannel implements Channel on top of a UART optical head.
//
// The optical heads are plain 8N1 UARTs. The IRDA head has a transceiver
// enable line which is wired to RTS; the IR head leaves it unconnected and
// SetEnabled is a no-op there.
type SerialChannel struct {
	name       string
	portPath   string
	baudRate   int
	enableLine bool

	mu   sync.Mutex
	port serial.Port
	rx   []byte
	buf  []byte
	log  *logrus.Entry
}

// SerialConfig holds connection configuration for one optical head.
type SerialConfig struct {
	Name       string `yaml:"name" json:"name"`
	PortPath   string `yaml:"port_path" json:"portPath"`
	BaudRate   int    `yaml:"baud_rate" json:"baudRate"`
	EnableLine bool   `yaml:"enable_line" json:"enableLine"`
}

const (
	// fillTimeout bounds a single non-blocking fill of the receive buffer.
	fillTimeout = 5 * time.Millisecond
	// postOpenDelay lets the UART settle before the first exchange.
	postOpenDelay = 50 * time.Millisecond
)

// NewSerial creates a serial channel. Connect must be called before use.
func NewSerial(cfg SerialConfig) *SerialChannel {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 9600
	}
	if cfg.Name == "" {
		cfg.Name = "serial"
	}
	return &SerialChannel{
		name:       cfg.Name,
		portPath:   cfg.PortPath,
		baudRate:   cfg.BaudRate,
		enableLine: cfg.EnableLine,
		buf:        make([]byte, 256),
		log:        logrus.WithField("component", cfg.Name),
	}
}

func (s *SerialChannel) Name() string { return s.name }

// Connect opens the serial port at the configured baud rate.
func (s *SerialChannel) Connect() error {
	port, err := serial.Open(s.portPath, s.mode(s.baudRate))
	if err != nil {
		return fmt.Errorf("%s: failed to open %s: %w", s.name, s.portPath, err)
	}
	if err := port.SetReadTimeout(fillTimeout); err != nil {
		port.Close()
		return fmt.Errorf("%s: failed to set timeout: %w", s.name, err)
	}

	s.mu.Lock()
	s.port = port
	s.rx = s.rx[:0]
	s.mu.Unlock()

	time.Sleep(postOpenDelay)
	port.ResetInputBuffer()

	s.log.Infof("opened %s at %d baud", s.portPath, s.baudRate)
	return nil
}

func (s *SerialChannel) mode(baud int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// SetBaud switches the line speed and clears anything received at the old rate.
func (s *SerialChannel) SetBaud(rate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	if rate == s.baudRate {
		return nil
	}
	if err := s.port.SetMode(s.mode(rate)); err != nil {
		return fmt.Errorf("%s: set baud %d: %w", s.name, rate, err)
	}
	s.baudRate = rate
	s.rx = s.rx[:0]
	s.port.ResetInputBuffer()
	s.log.Debugf("baud rate set to %d", rate)
	return nil
}

func (s *SerialChannel) SetEnabled(on bool) error {
	if !s.enableLine {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	return s.port.SetRTS(on)
}

func (s *SerialChannel) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return 0, ErrNotConnected
	}
	return s.port.Write(p)
}

// Available reports the buffered byte count. The device is only polled,
// with one short read, once the buffer has drained.
func (s *SerialChannel) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 {
		s.fill()
	}
	return len(s.rx)
}

func (s *SerialChannel) ReadByte() (byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.rx) == 0 {
		s.fill()
	}
	if len(s.rx) == 0 {
		return 0, ErrNoData
	}
	b := s.rx[0]
	s.rx = s.rx[1:]
	return b, nil
}

func (s *SerialChannel) fill() {
	if s.port == nil {
		return
	}
	n, _ := s.port.Read(s.buf)
	if n > 0 {
		s.rx = append(s.rx, s.buf[:n]...)
	}
}

func (s *SerialChannel) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return ErrNotConnected
	}
	return s.port.Drain()
}

func (s *SerialChannel) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port != nil {
		err := s.port.Close()
		s.port = nil
		return err
	}
	return nil
}
