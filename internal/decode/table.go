package decode

import "github.com/shaunagostinho/meterlink/internal/meter"

type kind int

const (
	kindFixed        kind = iota // big-endian unsigned / 10^decimals
	kindInt                      // big-endian unsigned
	kindDecimalID                // big-endian unsigned rendered in decimal
	kindPaddedID                 // as kindDecimalID, zero-padded to pad digits
	kindClock                    // BCD hh mm [ss]
	kindDate                     // BCD dd mm yy
	kindText                     // ASCII
	kindASCIIDecimal             // ASCII decimal number
)

// column is one entry of a dialect's offset table.
type column struct {
	field    Field
	off      int
	width    int
	kind     kind
	decimals int
	pad      int
	required bool

	// code, when set, is the command echoed at the start of the response
	// frame holding the field. frame is where that frame sits in a
	// complete record; the field is read relative to wherever the echo
	// is actually found.
	code  string
	frame int
}

func (c column) end() int { return c.off + c.width }

func req(f Field, off, width int, k kind) column {
	return column{field: f, off: off, width: width, kind: k, required: true, frame: -1}
}

func opt(f Field, off, width int, k kind) column {
	return column{field: f, off: off, width: width, kind: k, frame: -1}
}

func (c column) scale(d int) column { c.decimals = d; return c }

func (c column) padded(n int) column { c.pad = n; return c }

func (c column) inFrame(at int, code string) column { c.frame = at; c.code = code; return c }

// table is the fixed layout of one dialect's response.
type table struct {
	columns   []column
	export    []column // solar export section, after the delimiter
	phase     int      // constant phase count, 0 if read from the record
	minLength int
}

func newTable(phase int, cols []column, export []column) *table {
	t := &table{columns: cols, export: export, phase: phase}
	for _, c := range cols {
		if c.required && c.end() > t.minLength {
			t.minLength = c.end()
		}
	}
	return t
}

var threePhaseColumns = []column{
	req(FieldManufacturerID, 18, 3, kindDecimalID),
	req(FieldTime, 21, 3, kindClock),
	req(FieldDate, 24, 3, kindDate),
	req(FieldVoltageR, 27, 2, kindFixed).scale(1),
	req(FieldVoltageY, 29, 2, kindFixed).scale(1),
	req(FieldVoltageB, 31, 2, kindFixed).scale(1),
	req(FieldCurrentR, 33, 2, kindFixed).scale(2),
	req(FieldCurrentY, 35, 2, kindFixed).scale(2),
	req(FieldCurrentB, 37, 2, kindFixed).scale(2),
	req(FieldKWh, 43, 4, kindFixed).scale(2),
	req(FieldKVAh, 55, 4, kindFixed).scale(2),
	req(FieldMaxDemand, 59, 2, kindFixed).scale(2),
	opt(FieldMake, 66, 3, kindText),
	opt(FieldPhase, 69, 1, kindInt),
	opt(FieldMultiplicationFactor, 70, 2, kindFixed).scale(2),
}

var solarExportColumns = []column{
	opt(FieldExportKWh, 43, 4, kindFixed).scale(2),
}

func hpColumns(digits int) []column {
	return []column{
		req(FieldManufacturerID, 23, 4, kindPaddedID).padded(digits),
		req(FieldTime, 31, 3, kindClock),
		req(FieldDate, 34, 3, kindDate),
		req(FieldVoltageR, 38, 2, kindFixed).scale(1),
		req(FieldVoltageY, 40, 2, kindFixed).scale(1),
		req(FieldVoltageB, 42, 2, kindFixed).scale(1),
		req(FieldCurrentR, 44, 2, kindFixed).scale(2),
		req(FieldCurrentY, 46, 2, kindFixed).scale(2),
		req(FieldCurrentB, 48, 2, kindFixed).scale(2),
		// The firmware reads kWh at 49 and kVAh at 53 but guards them
		// with length > 57 and > 61, which fits neither layout. Settle
		// against a field capture.
		req(FieldKWh, 50, 4, kindFixed).scale(2),
		req(FieldKVAh, 54, 4, kindFixed).scale(2),
	}
}

var irThreePhaseColumns = []column{
	req(FieldManufacturerID, 6, 4, kindDecimalID),
	req(FieldDate, 10, 3, kindDate),
	req(FieldTime, 13, 2, kindClock),
	req(FieldKWh, 15, 4, kindFixed).scale(3),
	req(FieldKVArhLag, 19, 4, kindFixed).scale(3),
	req(FieldKVArhLead, 23, 4, kindFixed).scale(3),
	req(FieldKVAh, 27, 4, kindFixed).scale(3),
	req(FieldPowerFactor, 31, 1, kindFixed).scale(2),
	req(FieldMaxDemand, 32, 2, kindFixed).scale(3),
	req(FieldTamperCount, 39, 2, kindInt),
	req(FieldTamperStatus, 41, 2, kindInt),
}

// 1-phase responses are 30-byte ASCII frames opening with the echoed
// command; the payload starts at column 16 of its frame. Offsets are for
// a complete record, failed fragments are missing from the record.
var singlePhaseColumns = []column{
	req(FieldSerial, 16, 8, kindText).inFrame(0, meter.SinglePhaseCode(0)),
	req(FieldManufacturerID, 46, 16, kindText).inFrame(30, meter.SinglePhaseCode(1)),
	req(FieldKWh, 76, 9, kindASCIIDecimal).inFrame(60, meter.SinglePhaseCode(2)),
}

var tables = map[meter.Dialect]*table{
	meter.IRDA1Phase:      newTable(1, singlePhaseColumns, nil),
	meter.IRDA3Phase:      newTable(0, threePhaseColumns, nil),
	meter.IRDA3PhaseHP14:  newTable(3, hpColumns(8), nil),
	meter.IRDA3PhaseHP13:  newTable(3, hpColumns(7), nil),
	meter.IRDA3PhaseSolar: newTable(0, threePhaseColumns, solarExportColumns),
	meter.IR1Phase:        newTable(1, singlePhaseColumns, nil),
	meter.IR3Phase:        newTable(3, irThreePhaseColumns, nil),
}
