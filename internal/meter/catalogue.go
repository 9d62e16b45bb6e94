package meter

import "fmt"

// Sequence is the shape of a dialect's exchange.
type Sequence int

const (
	// SeqMulti sends every command once and keeps whichever fragments arrive.
	SeqMulti Sequence = iota
	// SeqHandshake sends a handshake, splices its reply into a second
	// command and reads the data response.
	SeqHandshake
	// SeqSolar is SeqHandshake followed by a best-effort export read.
	SeqSolar
	// SeqDirect sends one command and reads one response.
	SeqDirect
)

// Window describes which handshake bytes are copied into the next command.
type Window struct {
	From int // first response byte
	To   int // first command byte overwritten
	Len  int
}

// Entry is one catalogue row. Slices returned by Lookup are copies; the
// table itself never changes.
type Entry struct {
	Dialect   Dialect
	Transport Transport
	Baud      int
	Sequence  Sequence

	// Commands are sent in order. For handshake dialects only the first is
	// used; Template and Export are built from it.
	Commands [][]byte
	Template []byte
	Export   []byte
	Splice   Window

	// Mins holds the minimum response length per step.
	Mins []int

	// PaceBytes sends one byte at a time with a short gap (plain IR heads).
	PaceBytes bool
}

const (
	Baud2400 = 2400
	Baud9600 = 9600
)

// Fixed command frames.
var (
	cmd3phHandshake = []byte{0x95, 0x95, 0xFF, 0xFF, 0xFF, 0x0B, 0x96, 0x31, 0x11, 0x05, 0x00}
	cmd3phData      = []byte{0x95, 0x95, 0xFF, 0xFF, 0xFF, 0x0B, 0x00, 0x31, 0x11, 0x05, 0x00}
	cmd3phExport    = []byte{0x95, 0x95, 0xFF, 0xFF, 0xFF, 0x0B, 0x01, 0x31, 0x11, 0x05, 0x00}
	cmdHPHandshake  = []byte{0x95, 0x95, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x10, 0x96, 0x31, 0x11, 0x05, 0x00}
	cmdHPData       = []byte{0x95, 0x95, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x10, 0x00, 0x31, 0x11, 0x05, 0x00}
	cmdIR3ph        = []byte{0xB9, 0x9E, 0x8E, 0x7E, 0x1E}
)

// ASCII commands of the 1-phase protocol. Each goes out CRLF-terminated.
var singlePhaseCommands = []string{
	":00413BC4",
	":00423AC5",
	":004339C6",
	":004537C8",
	":004636C9",
}

var (
	window3ph = Window{From: 22, To: 2, Len: 3}
	windowHP  = Window{From: 32, To: 2, Len: 8}
)

// SinglePhaseCode returns the i-th 1-phase command. Meters echo it at
// the start of the matching response frame.
func SinglePhaseCode(i int) string { return singlePhaseCommands[i] }

func asciiCommands() [][]byte {
	out := make([][]byte, len(singlePhaseCommands))
	for i, c := range singlePhaseCommands {
		out[i] = []byte(c + "\r\n")
	}
	return out
}

var catalogue = map[Dialect]Entry{
	IRDA1Phase: {
		Transport: TransportIRDA,
		Baud:      Baud2400,
		Sequence:  SeqMulti,
		Commands:  asciiCommands(),
		Mins:      []int{30, 30, 30, 30, 30},
	},
	IRDA3Phase: {
		Transport: TransportIRDA,
		Baud:      Baud9600,
		Sequence:  SeqHandshake,
		Commands:  [][]byte{cmd3phHandshake},
		Template:  cmd3phData,
		Splice:    window3ph,
		Mins:      []int{30, 79},
	},
	IRDA3PhaseHP14: {
		Transport: TransportIRDA,
		Baud:      Baud9600,
		Sequence:  SeqHandshake,
		Commands:  [][]byte{cmdHPHandshake},
		Template:  cmdHPData,
		Splice:    windowHP,
		Mins:      []int{45, 71},
	},
	IRDA3PhaseHP13: {
		Transport: TransportIRDA,
		Baud:      Baud9600,
		Sequence:  SeqHandshake,
		Commands:  [][]byte{cmdHPHandshake},
		Template:  cmdHPData,
		Splice:    windowHP,
		Mins:      []int{45, 71},
	},
	IRDA3PhaseSolar: {
		Transport: TransportIRDA,
		Baud:      Baud9600,
		Sequence:  SeqSolar,
		Commands:  [][]byte{cmd3phHandshake},
		Template:  cmd3phData,
		Export:    cmd3phExport,
		Splice:    window3ph,
		Mins:      []int{30, 79, 79},
	},
	IR1Phase: {
		Transport: TransportIR,
		Baud:      Baud2400,
		Sequence:  SeqMulti,
		Commands:  asciiCommands(),
		Mins:      []int{30, 30, 30, 30, 30},
	},
	IR3Phase: {
		Transport: TransportIR,
		Baud:      Baud2400,
		Sequence:  SeqDirect,
		Commands:  [][]byte{cmdIR3ph},
		Mins:      []int{50},
		PaceBytes: true,
	},
}

// Lookup returns a private copy of the catalogue entry for d.
func Lookup(d Dialect) (Entry, error) {
	e, ok := catalogue[d]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnsupportedDialect, d)
	}
	e.Dialect = d
	cmds := make([][]byte, len(e.Commands))
	for i, c := range e.Commands {
		cmds[i] = clone(c)
	}
	e.Commands = cmds
	e.Template = clone(e.Template)
	e.Export = clone(e.Export)
	e.Mins = append([]int(nil), e.Mins...)
	return e, nil
}

// Splice builds the next command from template, copying the window's bytes
// out of resp. A response that does not cover the whole window leaves the
// template's filler bytes untouched.
func Splice(template, resp []byte, w Window) []byte {
	out := clone(template)
	if w.Len <= 0 || len(resp) < w.From+w.Len || len(out) < w.To+w.Len {
		return out
	}
	copy(out[w.To:w.To+w.Len], resp[w.From:w.From+w.Len])
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
