package meter

import (
	"bytes"
	"fmt"

	"github.com/sigurn/crc16"
)

// ExportDelimiter separates the solar export response from the base reading.
const ExportDelimiter = "\n** EXPORT DATA **\n"

var crcTable = crc16.MakeTable(crc16.CRC16_ARC)

// RawRecord is the unparsed result of one exchange. Data is owned by the
// caller and is not modified after the driver returns it.
type RawRecord struct {
	Dialect Dialect `json:"dialect"`
	Data    []byte  `json:"data"`
	Valid   bool    `json:"valid"`
}

func (r RawRecord) Len() int { return len(r.Data) }

// Base returns the reading without any export section.
func (r RawRecord) Base() []byte {
	if r.Dialect != IRDA3PhaseSolar {
		return r.Data
	}
	if i := bytes.Index(r.Data, []byte(ExportDelimiter)); i >= 0 {
		return r.Data[:i]
	}
	return r.Data
}

// Export returns the solar export section, if the record carries one.
func (r RawRecord) Export() ([]byte, bool) {
	if r.Dialect != IRDA3PhaseSolar {
		return nil, false
	}
	i := bytes.Index(r.Data, []byte(ExportDelimiter))
	if i < 0 {
		return nil, false
	}
	return r.Data[i+len(ExportDelimiter):], true
}

// Fingerprint is the CRC-16/ARC of the record bytes as four hex digits.
// It tags reports and history rows so identical readings can be spotted.
func (r RawRecord) Fingerprint() string {
	return fmt.Sprintf("%04X", crc16.Checksum(r.Data, crcTable))
}
