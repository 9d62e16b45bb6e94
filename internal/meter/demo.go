package meter

import (
	"bytes"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/shaunagostinho/meterlink/internal/transport"
)

// Simulator answers every dialect's commands with plausible meter frames.
// It sits behind transport.Mock channels so the whole read path can run
// without hardware.
type Simulator struct {
	mu   sync.Mutex
	t    float64 // virtual time accumulator
	now  func() time.Time
	addr [8]byte

	Serial string
	MfID   uint32
	Make   string

	kwh    float64
	export float64
}

// NewSimulator creates a simulator with a fixed identity.
func NewSimulator() *Simulator {
	return &Simulator{
		now:    time.Now,
		addr:   [8]byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0xF0},
		Serial: "10475213",
		MfID:   4751203,
		Make:   "LNT",
		kwh:    12345.67,
		export: 2210.50,
	}
}

// NewDemoChannels returns IRDA and IR mock heads wired to a fresh simulator.
func NewDemoChannels() (irda, ir *transport.Mock) {
	sim := NewSimulator()
	return transport.NewMock("irda", sim.RespondIRDA), transport.NewMock("ir", sim.RespondIR)
}

// RespondIRDA handles frames arriving on the IRDA head.
func (s *Simulator) RespondIRDA(frame []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	switch {
	case bytes.Equal(frame, cmd3phHandshake):
		return s.handshake(30, window3ph)
	case bytes.Equal(frame, cmdHPHandshake):
		return s.handshake(45, windowHP)
	case len(frame) == len(cmd3phData) && frame[0] == 0x95 && s.addressed(frame, window3ph):
		switch frame[6] {
		case 0x00:
			return s.frame3ph()
		case 0x01:
			return s.frameExport()
		}
	case len(frame) == len(cmdHPData) && frame[0] == 0x95 && frame[11] == 0x00 && s.addressed(frame, windowHP):
		return s.frameHP()
	case len(frame) > 0 && frame[0] == ':':
		return s.frame1ph(frame)
	}
	return nil
}

// RespondIR handles frames arriving on the plain IR head.
func (s *Simulator) RespondIR(frame []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tick()

	switch {
	case bytes.Equal(frame, cmdIR3ph):
		return s.frameIR3ph()
	case len(frame) > 0 && frame[0] == ':':
		return s.frame1ph(frame)
	}
	return nil
}

func (s *Simulator) tick() {
	s.t += 0.05
	s.kwh += 0.01 + rand.Float64()*0.02
	s.export += 0.005
}

func (s *Simulator) addressed(frame []byte, w Window) bool {
	return bytes.Equal(frame[w.To:w.To+w.Len], s.addr[:w.Len])
}

func (s *Simulator) handshake(n int, w Window) []byte {
	out := make([]byte, n)
	out[0], out[1] = 0x95, 0x95
	copy(out[w.From:], s.addr[:w.Len])
	return out
}

func (s *Simulator) voltage(phase int) uint64 {
	v := 230.0 + 6*math.Sin(s.t*0.2+float64(phase)) + rand.Float64()
	return uint64(v * 10)
}

func (s *Simulator) current(phase int) uint64 {
	a := 4.0 + 2*math.Sin(s.t*0.1+float64(phase)*0.7)*math.Sin(s.t*0.1)
	return uint64(a * 100)
}

func (s *Simulator) frame3ph() []byte {
	out := make([]byte, 79)
	out[0], out[1] = 0x95, 0x95
	putBE(out[18:21], uint64(s.MfID&0xFFFFFF))
	s.putClock(out[21:24], out[24:27])
	for i, off := range []int{27, 29, 31} {
		putBE(out[off:off+2], s.voltage(i))
	}
	for i, off := range []int{33, 35, 37} {
		putBE(out[off:off+2], s.current(i))
	}
	putBE(out[43:47], uint64(s.kwh*100))
	putBE(out[55:59], uint64(s.kwh*1.04*100))
	putBE(out[59:61], 1250)
	copy(out[66:69], s.Make)
	out[69] = 3
	putBE(out[70:72], 100)
	return out
}

func (s *Simulator) frameExport() []byte {
	out := make([]byte, 79)
	out[0], out[1] = 0x95, 0x95
	putBE(out[18:21], uint64(s.MfID&0xFFFFFF))
	putBE(out[43:47], uint64(s.export*100))
	return out
}

func (s *Simulator) frameHP() []byte {
	out := make([]byte, 71)
	out[0], out[1] = 0x95, 0x95
	putBE(out[23:27], uint64(s.MfID))
	s.putClock(out[31:34], out[34:37])
	for i, off := range []int{38, 40, 42} {
		putBE(out[off:off+2], s.voltage(i))
	}
	for i, off := range []int{44, 46, 48} {
		putBE(out[off:off+2], s.current(i))
	}
	putBE(out[50:54], uint64(s.kwh*100))
	putBE(out[54:58], uint64(s.kwh*1.04*100))
	return out
}

func (s *Simulator) frameIR3ph() []byte {
	out := make([]byte, 50)
	now := s.now()
	putBE(out[6:10], uint64(s.MfID))
	out[10] = toBCD(now.Day())
	out[11] = toBCD(int(now.Month()))
	out[12] = toBCD(now.Year() % 100)
	out[13] = toBCD(now.Hour())
	out[14] = toBCD(now.Minute())
	putBE(out[15:19], uint64(s.kwh*1000))
	putBE(out[19:23], uint64(s.kwh*0.12*1000))
	putBE(out[23:27], uint64(s.kwh*0.03*1000))
	putBE(out[27:31], uint64(s.kwh*1.04*1000))
	out[31] = 96
	putBE(out[32:34], 12500)
	putBE(out[39:41], 2)
	putBE(out[41:43], 0x0010)
	return out
}

// frame1ph builds one 30-byte ASCII response: the command echo, padding to
// column 16, the payload, CRLF.
func (s *Simulator) frame1ph(cmd []byte) []byte {
	code := strings.TrimSpace(string(cmd))
	var payload string
	switch code {
	case singlePhaseCommands[0]:
		payload = s.Serial
	case singlePhaseCommands[1]:
		payload = fmt.Sprintf("MF%08d", s.MfID%100000000)
	case singlePhaseCommands[2]:
		payload = fmt.Sprintf("%09.2f", s.kwh)
	case singlePhaseCommands[3]:
		payload = "00030"
	case singlePhaseCommands[4]:
		payload = "0"
	default:
		return nil
	}
	out := []byte(fmt.Sprintf("%-16s%-12s\r\n", code, payload))
	return out[:30]
}

func (s *Simulator) putClock(tm, dt []byte) {
	now := s.now()
	tm[0], tm[1], tm[2] = toBCD(now.Hour()), toBCD(now.Minute()), toBCD(now.Second())
	dt[0], dt[1], dt[2] = toBCD(now.Day()), toBCD(int(now.Month())), toBCD(now.Year()%100)
}

func putBE(dst []byte, v uint64) {
	for i := len(dst) - 1; i >= 0; i-- {
		dst[i] = byte(v)
		v >>= 8
	}
}

func toBCD(n int) byte {
	return byte((n/10)%10)<<4 | byte(n%10)
}
