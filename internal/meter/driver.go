package meter

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/meterlink/internal/transport"
)

// ErrTimeout is returned when a step did not receive its minimum byte count
// within the read timeout.
var ErrTimeout = errors.New("meter: timed out waiting for response")

// Driver executes dialect exchange sequences over the two optical heads.
//
// A Driver is not reentrant: one Read at a time. The Reader service in
// front of it enforces that; direct callers serialize themselves.
type Driver struct {
	irda   transport.Channel
	ir     transport.Channel
	timing Timing
	log    *logrus.Entry
}

// NewDriver creates a driver. Either channel may be nil if that head is not
// fitted; dialects that need it then fail with transport.ErrNotConnected.
func NewDriver(irda, ir transport.Channel, timing Timing) *Driver {
	return &Driver{
		irda:   irda,
		ir:     ir,
		timing: timing,
		log:    logrus.WithField("component", "meter"),
	}
}

// Timing returns the delays the driver was built with.
func (d *Driver) Timing() Timing { return d.timing }

func (d *Driver) channel(t Transport) (transport.Channel, error) {
	ch := d.irda
	if t == TransportIR {
		ch = d.ir
	}
	if ch == nil {
		return nil, fmt.Errorf("meter: %s head: %w", t, transport.ErrNotConnected)
	}
	return ch, nil
}

// Init runs the IRDA power-up sequence: 2400 baud, hold, 9600 baud,
// settle, enable the transceiver.
func (d *Driver) Init() error {
	ch, err := d.channel(TransportIRDA)
	if err != nil {
		return err
	}
	d.log.Info("initializing IRDA interface")
	if err := ch.SetBaud(Baud2400); err != nil {
		return fmt.Errorf("meter: irda init: %w", err)
	}
	sleep(d.timing.InitHold)
	if err := ch.SetBaud(Baud9600); err != nil {
		return fmt.Errorf("meter: irda init: %w", err)
	}
	sleep(d.timing.InitSettle)
	if err := ch.SetEnabled(true); err != nil {
		return fmt.Errorf("meter: irda init: %w", err)
	}
	d.log.Info("IRDA interface initialized")
	return nil
}

// Read runs one full exchange for dialect and returns the raw record.
// A nil error means the record is valid. On failure the returned record
// carries the dialect, Valid=false and no data.
func (d *Driver) Read(dialect Dialect) (RawRecord, error) {
	rec := RawRecord{Dialect: dialect}

	entry, err := Lookup(dialect)
	if err != nil {
		return rec, err
	}
	ch, err := d.channel(entry.Transport)
	if err != nil {
		return rec, err
	}

	d.log.WithField("dialect", dialect).Info("starting meter read")
	start := time.Now()
	d.clearBuffers()

	if err := d.setBaud(ch, entry.Baud); err != nil {
		return rec, err
	}
	if entry.Transport == TransportIRDA {
		// The transceiver's enable line is held off for the whole exchange
		// and restored afterwards, failure included.
		if err := ch.SetEnabled(false); err != nil {
			d.log.WithError(err).Warn("failed to disable IRDA")
		}
		defer func() {
			if err := ch.SetEnabled(true); err != nil {
				d.log.WithError(err).Warn("failed to re-enable IRDA")
			}
		}()
	}

	var data []byte
	switch entry.Sequence {
	case SeqMulti:
		data, err = d.runMulti(ch, entry)
	case SeqHandshake, SeqSolar:
		data, err = d.runHandshake(ch, entry)
	case SeqDirect:
		data, err = d.runDirect(ch, entry)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedDialect, dialect)
	}

	log := d.log.WithFields(logrus.Fields{"dialect": dialect, "elapsed": time.Since(start).Round(time.Millisecond)})
	if err != nil {
		log.WithError(err).Warn("meter read failed")
		return rec, err
	}
	rec.Data = data
	rec.Valid = true
	log.WithField("bytes", len(data)).Info("meter read successful")
	return rec, nil
}

// runMulti sends every command once. Fragments that time out are dropped,
// not retried; the read succeeds if anything arrived at all.
func (d *Driver) runMulti(ch transport.Channel, e Entry) ([]byte, error) {
	var out []byte
	for i, cmd := range e.Commands {
		if err := d.send(ch, cmd, e.PaceBytes); err != nil {
			d.log.WithError(err).Warnf("command %d not sent", i+1)
			continue
		}
		sleep(d.timing.Settle)
		pkt, err := d.readPacket(ch, e.Mins[i])
		if err != nil {
			d.log.WithError(err).Debugf("packet %d missing", i+1)
			continue
		}
		d.log.Debugf("received packet %d (%d bytes)", i+1, len(pkt))
		out = append(out, pkt...)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("meter: %s: no fragment received: %w", e.Dialect, ErrTimeout)
	}
	return out, nil
}

// runHandshake handles the two-step dialects and the solar export step.
func (d *Driver) runHandshake(ch transport.Channel, e Entry) ([]byte, error) {
	resp, err := d.exchange(ch, e.Commands[0], e.Mins[0], e.PaceBytes)
	if err != nil {
		return nil, fmt.Errorf("meter: %s handshake: %w", e.Dialect, err)
	}
	d.log.Debugf("handshake ok (%d bytes)", len(resp))

	next := Splice(e.Template, resp, e.Splice)
	sleep(d.timing.InterMessage)

	out, err := d.exchange(ch, next, e.Mins[1], e.PaceBytes)
	if err != nil {
		return nil, fmt.Errorf("meter: %s data: %w", e.Dialect, err)
	}

	if e.Sequence == SeqSolar {
		// The firmware sends the export request as the bare second
		// message with byte 6 set to 0x01, unspliced and with no delay.
		// Here it gets the same splice and pause as the data request.
		export := Splice(e.Export, resp, e.Splice)
		sleep(d.timing.InterMessage)
		pkt, err := d.exchange(ch, export, e.Mins[2], e.PaceBytes)
		if err != nil {
			// Export is best effort; the base reading stands on its own.
			d.log.WithError(err).Warn("solar export read failed")
			return out, nil
		}
		out = append(out, ExportDelimiter...)
		out = append(out, pkt...)
	}
	return out, nil
}

func (d *Driver) runDirect(ch transport.Channel, e Entry) ([]byte, error) {
	if err := d.send(ch, e.Commands[0], e.PaceBytes); err != nil {
		return nil, fmt.Errorf("meter: %s: %w", e.Dialect, err)
	}
	sleep(d.timing.IRSettle)
	pkt, err := d.readPacket(ch, e.Mins[0])
	if err != nil {
		return nil, fmt.Errorf("meter: %s: %w", e.Dialect, err)
	}
	return pkt, nil
}

func (d *Driver) exchange(ch transport.Channel, cmd []byte, want int, pace bool) ([]byte, error) {
	if err := d.send(ch, cmd, pace); err != nil {
		return nil, err
	}
	return d.readPacket(ch, want)
}

// send writes cmd and waits for it to leave the transmitter. Paced sends
// write one byte at a time with a short gap, as the plain IR heads need.
func (d *Driver) send(ch transport.Channel, cmd []byte, pace bool) error {
	if pace {
		for _, b := range cmd {
			if _, err := ch.Write([]byte{b}); err != nil {
				return fmt.Errorf("write: %w", err)
			}
			sleep(d.timing.IRByteGap)
		}
	} else {
		n, err := ch.Write(cmd)
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		if n != len(cmd) {
			return fmt.Errorf("write: short write %d/%d", n, len(cmd))
		}
	}
	if err := ch.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// readPacket accumulates bytes until want have arrived or the read timeout
// elapses. It never reads past want so trailing bytes stay buffered.
func (d *Driver) readPacket(ch transport.Channel, want int) ([]byte, error) {
	buf := make([]byte, 0, want)
	deadline := time.Now().Add(d.timing.ReadTimeout)
	for len(buf) < want {
		for len(buf) < want && ch.Available() > 0 {
			b, err := ch.ReadByte()
			if err != nil {
				break
			}
			buf = append(buf, b)
		}
		if len(buf) >= want || !time.Now().Before(deadline) {
			break
		}
		if d.timing.PollInterval > 0 {
			time.Sleep(d.timing.PollInterval)
		} else {
			time.Sleep(50 * time.Microsecond)
		}
	}
	if len(buf) < want {
		return buf, fmt.Errorf("%w: got %d of %d bytes", ErrTimeout, len(buf), want)
	}
	return buf, nil
}

func (d *Driver) setBaud(ch transport.Channel, baud int) error {
	if err := ch.SetBaud(baud); err != nil {
		return fmt.Errorf("meter: %s baud %d: %w", ch.Name(), baud, err)
	}
	sleep(d.timing.BaudSettle)
	return nil
}

// clearBuffers drains residual bytes from both heads.
func (d *Driver) clearBuffers() {
	for _, ch := range []transport.Channel{d.irda, d.ir} {
		if ch == nil {
			continue
		}
		if n := transport.Drain(ch); n > 0 {
			d.log.Debugf("discarded %d stale bytes on %s", n, ch.Name())
		}
	}
}

// Probe checks that a command can be written on the given head. It does
// not wait for a reply.
func (d *Driver) Probe(t Transport) error {
	ch, err := d.channel(t)
	if err != nil {
		return err
	}
	d.log.Infof("testing %s connection", t)
	if err := d.setBaud(ch, Baud2400); err != nil {
		return err
	}
	if t == TransportIR {
		return d.send(ch, cmdIR3ph, true)
	}
	if err := ch.SetEnabled(false); err != nil {
		return fmt.Errorf("meter: irda probe: %w", err)
	}
	defer ch.SetEnabled(true)
	return d.send(ch, []byte(singlePhaseCommands[0]+"\r\n"), false)
}
