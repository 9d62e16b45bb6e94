package reader

import (
	"encoding/hex"
	"time"

	"github.com/shaunagostinho/meterlink/internal/decode"
	"github.com/shaunagostinho/meterlink/internal/meter"
)

// Frame is the JSON shape of a result as pushed to websocket clients and
// returned by the HTTP API.
type Frame struct {
	ID          string               `json:"id"`
	Dialect     meter.Dialect        `json:"dialect"`
	Time        time.Time            `json:"time"`
	DurationMs  int64                `json:"durationMs"`
	OK          bool                 `json:"ok"`
	Error       string               `json:"error,omitempty"`
	Bytes       int                  `json:"bytes"`
	Fingerprint string               `json:"fingerprint,omitempty"`
	RawHex      string               `json:"rawHex,omitempty"`
	Parsed      *decode.ParsedRecord `json:"parsed,omitempty"`
	Values      map[string]any       `json:"values,omitempty"`
}

// Frame converts a result for transmission.
func (r *Result) Frame() Frame {
	f := Frame{
		ID:         r.ID,
		Dialect:    r.Dialect,
		Time:       r.StartedAt,
		DurationMs: r.Duration.Milliseconds(),
		OK:         r.OK(),
		Bytes:      r.Raw.Len(),
		Parsed:     r.Parsed,
	}
	if r.Err != nil {
		f.Error = r.Err.Error()
	}
	if r.Raw.Len() > 0 {
		f.Fingerprint = r.Raw.Fingerprint()
		f.RawHex = hex.EncodeToString(r.Raw.Data)
	}
	if r.Parsed != nil {
		f.Values = r.Parsed.Values()
	}
	return f
}
