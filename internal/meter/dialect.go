package meter

import (
	"errors"
	"fmt"
	"strings"
)

// Dialect selects a meter protocol: its command sequence, transport and
// decoder offset table.
type Dialect int

const (
	DialectUnknown Dialect = iota
	IRDA1Phase
	IRDA3Phase
	IRDA3PhaseHP14
	IRDA3PhaseHP13
	IRDA3PhaseSolar
	IR1Phase
	IR3Phase
)

// Transport identifies which optical head a dialect talks through.
type Transport int

const (
	TransportIRDA Transport = iota
	TransportIR
)

func (t Transport) String() string {
	if t == TransportIR {
		return "ir"
	}
	return "irda"
}

// ErrUnsupportedDialect is returned for dialect tags outside the closed set.
var ErrUnsupportedDialect = errors.New("meter: unsupported dialect")

var dialectNames = map[Dialect]string{
	IRDA1Phase:      "irda-1ph",
	IRDA3Phase:      "irda-3ph",
	IRDA3PhaseHP14:  "irda-3ph-hp14",
	IRDA3PhaseHP13:  "irda-3ph-hp13",
	IRDA3PhaseSolar: "irda-3ph-solar",
	IR1Phase:        "ir-1ph",
	IR3Phase:        "ir-3ph",
}

var dialectDescriptions = map[Dialect]string{
	IRDA1Phase:      "1-phase meter over IRDA (ASCII command set)",
	IRDA3Phase:      "3-phase meter over IRDA",
	IRDA3PhaseHP14:  "3-phase HP meter over IRDA, 14-digit serial",
	IRDA3PhaseHP13:  "3-phase HP meter over IRDA, 13-digit serial",
	IRDA3PhaseSolar: "3-phase solar meter over IRDA with export register",
	IR1Phase:        "1-phase meter over plain IR (ASCII command set)",
	IR3Phase:        "3-phase meter over plain IR",
}

// Dialects lists every supported dialect in catalogue order.
func Dialects() []Dialect {
	return []Dialect{IRDA1Phase, IRDA3Phase, IRDA3PhaseHP14, IRDA3PhaseHP13, IRDA3PhaseSolar, IR1Phase, IR3Phase}
}

func (d Dialect) String() string {
	if n, ok := dialectNames[d]; ok {
		return n
	}
	return fmt.Sprintf("dialect(%d)", int(d))
}

// Description is a human-readable summary for listings.
func (d Dialect) Description() string {
	return dialectDescriptions[d]
}

// Valid reports whether d is one of the supported dialects.
func (d Dialect) Valid() bool {
	_, ok := dialectNames[d]
	return ok
}

// Phases returns the phase count a dialect's meters report (1 or 3).
func (d Dialect) Phases() int {
	switch d {
	case IRDA1Phase, IR1Phase:
		return 1
	case DialectUnknown:
		return 0
	}
	return 3
}

// ParseDialect maps a stable dialect name back to its tag.
func ParseDialect(s string) (Dialect, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for d, n := range dialectNames {
		if n == key {
			return d, nil
		}
	}
	return DialectUnknown, fmt.Errorf("%w: %q", ErrUnsupportedDialect, s)
}

func (d Dialect) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Dialect) UnmarshalText(b []byte) error {
	v, err := ParseDialect(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
