// Package decode turns raw meter responses into typed readings using a
// fixed offset table per dialect.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/shaunagostinho/meterlink/internal/meter"
)

// ErrShortRecord is returned when a record is shorter than its dialect's
// minimum length. No fields are decoded in that case.
var ErrShortRecord = errors.New("decode: record too short")

// MinLength is the smallest record the dialect's decoder accepts: the end
// of its furthest required field.
func MinLength(d meter.Dialect) (int, error) {
	t, ok := tables[d]
	if !ok {
		return 0, fmt.Errorf("decode: %w: %s", meter.ErrUnsupportedDialect, d)
	}
	return t.minLength, nil
}

// Parse decodes raw using its dialect's offset table. Every extraction is
// bounds-checked; optional fields that do not fit, malformed BCD and
// 1-phase fields whose command echo is missing are left absent without
// failing the record.
func Parse(raw meter.RawRecord) (ParsedRecord, error) {
	out := ParsedRecord{Dialect: raw.Dialect}
	t, ok := tables[raw.Dialect]
	if !ok {
		return out, fmt.Errorf("decode: %w: %s", meter.ErrUnsupportedDialect, raw.Dialect)
	}

	base := raw.Base()
	if len(base) < t.minLength {
		return out, fmt.Errorf("%w: %s has %d bytes, need %d", ErrShortRecord, raw.Dialect, len(base), t.minLength)
	}

	extract(&out, base, t.columns)
	if t.export != nil {
		if exp, ok := raw.Export(); ok {
			extract(&out, exp, t.export)
		}
	}
	if t.phase > 0 {
		out.Identity.Phase = t.phase
		out.Present.Add(FieldPhase)
	}
	out.Valid = true
	return out, nil
}

func extract(p *ParsedRecord, data []byte, cols []column) {
	for _, c := range cols {
		off, end := c.off, c.end()
		if c.code != "" {
			at := bytes.Index(data, []byte(c.code))
			if at < 0 {
				continue
			}
			off, end = off+at-c.frame, end+at-c.frame
		}
		if len(data) < end {
			continue
		}
		if decodeColumn(p, data[off:end], c) {
			p.Present.Add(c.field)
		}
	}
}

func decodeColumn(p *ParsedRecord, b []byte, c column) bool {
	switch c.kind {
	case kindFixed:
		if dst := p.floatField(c.field); dst != nil {
			*dst = Fixed(b, c.decimals)
			return true
		}
	case kindInt:
		if dst := p.intField(c.field); dst != nil {
			*dst = int(Uint(b))
			return true
		}
	case kindDecimalID:
		return p.setString(c.field, strconv.FormatUint(Uint(b), 10))
	case kindPaddedID:
		return p.setString(c.field, PaddedID(b, c.pad))
	case kindClock:
		var sec byte
		if len(b) > 2 {
			sec = b[2]
		}
		if s, ok := Clock(b[0], b[1], sec); ok {
			return p.setString(c.field, s)
		}
	case kindDate:
		if s, ok := Date(b[0], b[1], b[2]); ok {
			return p.setString(c.field, s)
		}
	case kindText:
		if s := Text(b); s != "" {
			return p.setString(c.field, s)
		}
	case kindASCIIDecimal:
		if v, ok := Decimal(b); ok {
			if dst := p.floatField(c.field); dst != nil {
				*dst = v
				return true
			}
		}
	}
	return false
}

func (p *ParsedRecord) setString(f Field, v string) bool {
	dst := p.stringField(f)
	if dst == nil {
		return false
	}
	*dst = v
	return true
}

func (p *ParsedRecord) floatField(f Field) *float64 {
	switch f {
	case FieldMultiplicationFactor:
		return &p.Identity.MultiplicationFactor
	case FieldKWh:
		return &p.Energy.KWh
	case FieldKVAh:
		return &p.Energy.KVAh
	case FieldKVArh:
		return &p.Energy.KVArh
	case FieldKVArhLag:
		return &p.Energy.KVArhLag
	case FieldKVArhLead:
		return &p.Energy.KVArhLead
	case FieldKVA:
		return &p.Energy.KVA
	case FieldPowerFactor:
		return &p.Energy.PowerFactor
	case FieldMaxDemand:
		return &p.Energy.MaxDemand
	case FieldExportKWh:
		return &p.Energy.ExportKWh
	case FieldVoltageR:
		return &p.Electrical.VoltageR
	case FieldVoltageY:
		return &p.Electrical.VoltageY
	case FieldVoltageB:
		return &p.Electrical.VoltageB
	case FieldCurrentR:
		return &p.Electrical.CurrentR
	case FieldCurrentY:
		return &p.Electrical.CurrentY
	case FieldCurrentB:
		return &p.Electrical.CurrentB
	case FieldFrequency:
		return &p.Electrical.Frequency
	}
	return nil
}

func (p *ParsedRecord) intField(f Field) *int {
	switch f {
	case FieldPhase:
		return &p.Identity.Phase
	case FieldMDResetCount:
		return &p.Identity.MDResetCount
	case FieldTamperCount:
		return &p.Electrical.TamperCount
	case FieldTamperStatus:
		return &p.Electrical.TamperStatus
	}
	return nil
}

func (p *ParsedRecord) stringField(f Field) *string {
	switch f {
	case FieldSerial:
		return &p.Identity.SerialNumber
	case FieldManufacturerID:
		return &p.Identity.ManufacturerID
	case FieldTime:
		return &p.Identity.Time
	case FieldDate:
		return &p.Identity.Date
	case FieldMake:
		return &p.Identity.Make
	case FieldMDTime:
		return &p.Energy.MDTime
	case FieldMDDate:
		return &p.Energy.MDDate
	}
	return nil
}
