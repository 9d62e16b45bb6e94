package decode

import (
	"encoding/json"
	"math/bits"

	"github.com/shaunagostinho/meterlink/internal/meter"
)

// Field names one decodable quantity.
type Field int

const (
	FieldSerial Field = iota
	FieldManufacturerID
	FieldTime
	FieldDate
	FieldMake
	FieldPhase
	FieldMultiplicationFactor
	FieldMDResetCount

	FieldKWh
	FieldKVAh
	FieldKVArh
	FieldKVArhLag
	FieldKVArhLead
	FieldKVA
	FieldPowerFactor
	FieldMaxDemand
	FieldMDTime
	FieldMDDate
	FieldExportKWh

	FieldVoltageR
	FieldVoltageY
	FieldVoltageB
	FieldCurrentR
	FieldCurrentY
	FieldCurrentB
	FieldFrequency
	FieldTamperCount
	FieldTamperStatus

	numFields
)

var fieldNames = [numFields]string{
	"serial", "manufacturer_id", "time", "date", "make", "phase", "multiplication_factor", "md_reset_count",
	"kwh", "kvah", "kvarh", "kvarh_lag", "kvarh_lead", "kva", "power_factor", "max_demand", "md_time", "md_date", "export_kwh",
	"voltage_r", "voltage_y", "voltage_b", "current_r", "current_y", "current_b", "frequency", "tamper_count", "tamper_status",
}

func (f Field) String() string {
	if f < 0 || f >= numFields {
		return "unknown"
	}
	return fieldNames[f]
}

// AllFields lists every field in display order.
func AllFields() []Field {
	out := make([]Field, numFields)
	for i := range out {
		out[i] = Field(i)
	}
	return out
}

// FieldSet records which fields were actually decoded, so a measured zero
// can be told apart from a field the dialect does not carry.
type FieldSet uint64

func (s FieldSet) Has(f Field) bool { return s&(1<<uint(f)) != 0 }

func (s *FieldSet) Add(f Field) { *s |= 1 << uint(f) }

func (s FieldSet) Len() int { return bits.OnesCount64(uint64(s)) }

// Fields returns the members in display order.
func (s FieldSet) Fields() []Field {
	var out []Field
	for f := Field(0); f < numFields; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

func (s FieldSet) MarshalJSON() ([]byte, error) {
	names := make([]string, 0, s.Len())
	for _, f := range s.Fields() {
		names = append(names, f.String())
	}
	return json.Marshal(names)
}

func (s *FieldSet) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return err
	}
	*s = 0
	for _, n := range names {
		for f := Field(0); f < numFields; f++ {
			if fieldNames[f] == n {
				s.Add(f)
			}
		}
	}
	return nil
}

type Identity struct {
	SerialNumber         string  `json:"serialNumber,omitempty"`
	ManufacturerID       string  `json:"manufacturerId,omitempty"`
	Time                 string  `json:"time,omitempty"` // hh:mm[:ss]
	Date                 string  `json:"date,omitempty"` // dd:mm:yy
	Make                 string  `json:"make,omitempty"`
	Phase                int     `json:"phase"`
	MultiplicationFactor float64 `json:"multiplicationFactor"`
	MDResetCount         int     `json:"mdResetCount"`
}

type EnergyReading struct {
	KWh         float64 `json:"kwh"`
	KVAh        float64 `json:"kvah"`
	KVArh       float64 `json:"kvarh"`
	KVArhLag    float64 `json:"kvarhLag"`
	KVArhLead   float64 `json:"kvarhLead"`
	KVA         float64 `json:"kva"`
	PowerFactor float64 `json:"powerFactor"`
	MaxDemand   float64 `json:"maxDemand"`
	MDTime      string  `json:"mdTime,omitempty"`
	MDDate      string  `json:"mdDate,omitempty"`
	ExportKWh   float64 `json:"exportKwh"`
}

type ElectricalReading struct {
	VoltageR     float64 `json:"voltageR"` // V
	VoltageY     float64 `json:"voltageY"`
	VoltageB     float64 `json:"voltageB"`
	CurrentR     float64 `json:"currentR"` // A
	CurrentY     float64 `json:"currentY"`
	CurrentB     float64 `json:"currentB"`
	Frequency    float64 `json:"frequency"` // Hz
	TamperCount  int     `json:"tamperCount"`
	TamperStatus int     `json:"tamperStatus"`
}

// ParsedRecord is the typed result of decoding one RawRecord. Fields the
// dialect does not carry keep their zero value and are absent from Present.
type ParsedRecord struct {
	Dialect    meter.Dialect     `json:"dialect"`
	Identity   Identity          `json:"identity"`
	Energy     EnergyReading     `json:"energy"`
	Electrical ElectricalReading `json:"electrical"`
	Valid      bool              `json:"valid"`
	Present    FieldSet          `json:"present"`
}

// Has reports whether f was decoded.
func (p *ParsedRecord) Has(f Field) bool { return p.Present.Has(f) }

// Value returns the decoded value of f, or false if it is absent.
func (p *ParsedRecord) Value(f Field) (any, bool) {
	if !p.Present.Has(f) {
		return nil, false
	}
	return p.value(f), true
}

// Values returns every present field keyed by its name.
func (p *ParsedRecord) Values() map[string]any {
	out := make(map[string]any, p.Present.Len())
	for _, f := range p.Present.Fields() {
		out[f.String()] = p.value(f)
	}
	return out
}

func (p *ParsedRecord) value(f Field) any {
	switch f {
	case FieldSerial:
		return p.Identity.SerialNumber
	case FieldManufacturerID:
		return p.Identity.ManufacturerID
	case FieldTime:
		return p.Identity.Time
	case FieldDate:
		return p.Identity.Date
	case FieldMake:
		return p.Identity.Make
	case FieldPhase:
		return p.Identity.Phase
	case FieldMultiplicationFactor:
		return p.Identity.MultiplicationFactor
	case FieldMDResetCount:
		return p.Identity.MDResetCount
	case FieldKWh:
		return p.Energy.KWh
	case FieldKVAh:
		return p.Energy.KVAh
	case FieldKVArh:
		return p.Energy.KVArh
	case FieldKVArhLag:
		return p.Energy.KVArhLag
	case FieldKVArhLead:
		return p.Energy.KVArhLead
	case FieldKVA:
		return p.Energy.KVA
	case FieldPowerFactor:
		return p.Energy.PowerFactor
	case FieldMaxDemand:
		return p.Energy.MaxDemand
	case FieldMDTime:
		return p.Energy.MDTime
	case FieldMDDate:
		return p.Energy.MDDate
	case FieldExportKWh:
		return p.Energy.ExportKWh
	case FieldVoltageR:
		return p.Electrical.VoltageR
	case FieldVoltageY:
		return p.Electrical.VoltageY
	case FieldVoltageB:
		return p.Electrical.VoltageB
	case FieldCurrentR:
		return p.Electrical.CurrentR
	case FieldCurrentY:
		return p.Electrical.CurrentY
	case FieldCurrentB:
		return p.Electrical.CurrentB
	case FieldFrequency:
		return p.Electrical.Frequency
	case FieldTamperCount:
		return p.Electrical.TamperCount
	case FieldTamperStatus:
		return p.Electrical.TamperStatus
	}
	return nil
}
