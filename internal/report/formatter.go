package report

import (
	"fmt"
	"strings"

	"github.com/shaunagostinho/meterlink/internal/decode"
	"github.com/shaunagostinho/meterlink/internal/meter"
)

// Formatter renders records as text. Zero numerics and empty strings are
// left out of the output; that is display policy only and says nothing
// about what was decoded.
type Formatter struct {
	HexDump bool // include the raw hex dump
	Stats   bool // include the statistics block
}

// DefaultFormatter prints everything.
func DefaultFormatter() Formatter { return Formatter{HexDump: true, Stats: true} }

func section(s Sink, title string) {
	s.Emit("=== " + title + " ===")
}

// Parsed writes the information, energy and electrical sections and,
// when enabled, the statistics block.
func (f Formatter) Parsed(s Sink, p *decode.ParsedRecord, raw *meter.RawRecord) {
	section(s, "METER INFORMATION")
	id := p.Identity
	str(s, "Serial Number", id.SerialNumber)
	str(s, "Manufacturer ID", id.ManufacturerID)
	str(s, "Time", id.Time)
	str(s, "Date", id.Date)
	str(s, "Make", id.Make)
	num(s, "Phase", float64(id.Phase), 0, "")
	num(s, "Multiplication Factor", id.MultiplicationFactor, 2, "")
	num(s, "MD Reset Count", float64(id.MDResetCount), 0, "")

	section(s, "ENERGY DATA")
	e := p.Energy
	num(s, "KWh", e.KWh, 2, "")
	num(s, "KVAh", e.KVAh, 2, "")
	num(s, "KVArh", e.KVArh, 3, "")
	num(s, "KVArh Lag", e.KVArhLag, 3, "")
	num(s, "KVArh Lead", e.KVArhLead, 3, "")
	num(s, "KVA", e.KVA, 2, "")
	num(s, "Max Demand", e.MaxDemand, 2, "")
	num(s, "Power Factor", e.PowerFactor, 2, "")
	str(s, "MD Time", e.MDTime)
	str(s, "MD Date", e.MDDate)
	num(s, "Export KWh", e.ExportKWh, 2, "")

	section(s, "ELECTRICAL DATA")
	el := p.Electrical
	num(s, "Voltage R", el.VoltageR, 1, "V")
	num(s, "Voltage Y", el.VoltageY, 1, "V")
	num(s, "Voltage B", el.VoltageB, 1, "V")
	num(s, "Current R", el.CurrentR, 2, "A")
	num(s, "Current Y", el.CurrentY, 2, "A")
	num(s, "Current B", el.CurrentB, 2, "A")
	num(s, "Frequency", el.Frequency, 1, "Hz")
	num(s, "Tamper Count", float64(el.TamperCount), 0, "")
	num(s, "Tamper Status", float64(el.TamperStatus), 0, "")

	if f.Stats {
		f.stats(s, p, raw)
	}
}

func (f Formatter) stats(s Sink, p *decode.ParsedRecord, raw *meter.RawRecord) {
	section(s, "DATA STATISTICS")
	status := "FAILED"
	if p.Valid {
		status = "SUCCESS"
	}
	s.Emit("Parsing Status: " + status)
	s.Emit(fmt.Sprintf("Total Power: %.2f units", p.Energy.KWh+p.Energy.KVAh))
	if p.Identity.Phase > 0 {
		s.Emit(fmt.Sprintf("System Type: %d-Phase", p.Identity.Phase))
	}
	s.Emit(fmt.Sprintf("Fields Decoded: %d", p.Present.Len()))
	if raw != nil {
		s.Emit(fmt.Sprintf("Bytes Received: %d", raw.Len()))
		s.Emit("Fingerprint: " + raw.Fingerprint())
	}
}

// Raw writes a hex dump, 16 bytes per row with an offset column.
func (f Formatter) Raw(s Sink, raw meter.RawRecord) {
	if !f.HexDump {
		return
	}
	s.Emit("=== RAW DATA (HEX) ===")
	for off := 0; off < len(raw.Data); off += 16 {
		end := off + 16
		if end > len(raw.Data) {
			end = len(raw.Data)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "%04X:", off)
		for _, c := range raw.Data[off:end] {
			fmt.Fprintf(&b, " %02X", c)
		}
		s.Emit(b.String())
	}
	s.Emit("====================")
}

// Trailer marks the end of one reading's output.
func Trailer(s Sink, d meter.Dialect) {
	s.Emit(fmt.Sprintf("DATA RECEIVED: %s.", d))
}

// Failure writes the single diagnostic line for a failed read.
func Failure(s Sink, d meter.Dialect, err error) {
	s.Emit(fmt.Sprintf("ERROR: %s read failed: %v", d, err))
}

func str(s Sink, label, v string) {
	if v != "" {
		s.Emit(label + ": " + v)
	}
}

func num(s Sink, label string, v float64, decimals int, unit string) {
	if v != 0 {
		s.Emit(fmt.Sprintf("%s: %.*f%s", label, decimals, v, unit))
	}
}
