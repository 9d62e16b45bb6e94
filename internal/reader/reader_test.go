package reader

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/meterlink/internal/decode"
	"github.com/shaunagostinho/meterlink/internal/meter"
	"github.com/shaunagostinho/meterlink/internal/report"
)

type fakeDriver struct {
	raw     meter.RawRecord
	err     error
	entered chan struct{}
	block   chan struct{}
}

func (f *fakeDriver) Read(d meter.Dialect) (meter.RawRecord, error) {
	if f.block != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.block
	}
	r := f.raw
	r.Dialect = d
	return r, f.err
}

func demoReader(t *testing.T, sink report.Sink) *Reader {
	t.Helper()
	irda, ir := meter.NewDemoChannels()
	d := meter.NewDriver(irda, ir, meter.Timing{ReadTimeout: 20 * time.Millisecond})
	return New(d, sink, report.DefaultFormatter())
}

func TestReadMeterParsed(t *testing.T) {
	var c report.Collector
	r := demoReader(t, &c)

	res, err := r.ReadMeter(Request{Dialect: meter.IRDA3Phase, Parse: true})
	require.NoError(t, err)
	require.True(t, res.OK())
	require.NotEmpty(t, res.ID)
	require.NotNil(t, res.Parsed)
	require.True(t, res.Parsed.Has(decode.FieldVoltageR))

	lines := c.Lines()
	require.Contains(t, lines, "=== ENERGY DATA ===")
	require.Equal(t, "DATA RECEIVED: irda-3ph.", lines[len(lines)-1])
}

func TestReadMeterRawOnly(t *testing.T) {
	var c report.Collector
	r := demoReader(t, &c)

	res, err := r.ReadMeter(Request{Dialect: meter.IR3Phase})
	require.NoError(t, err)
	require.Nil(t, res.Parsed)
	require.Equal(t, 50, res.Raw.Len())

	lines := c.Lines()
	require.Equal(t, "=== RAW DATA (HEX) ===", lines[0])
	require.NotContains(t, lines, "=== ENERGY DATA ===")
}

func TestReadMeterRequestSink(t *testing.T) {
	var def, per report.Collector
	r := demoReader(t, &def)

	_, err := r.ReadMeter(Request{Dialect: meter.IR1Phase, Parse: true, Sink: &per})
	require.NoError(t, err)
	require.Equal(t, def.Lines(), per.Lines())
	require.NotEmpty(t, per.Lines())
}

func TestReadMeterDriverFailure(t *testing.T) {
	var c report.Collector
	drv := &fakeDriver{err: meter.ErrTimeout}
	r := New(drv, &c, report.DefaultFormatter())

	var got []*Result
	r.AddRecorder(RecorderFunc(func(res *Result) { got = append(got, res) }))

	res, err := r.ReadMeter(Request{Dialect: meter.IRDA1Phase, Parse: true})
	require.ErrorIs(t, err, meter.ErrTimeout)
	require.False(t, res.OK())
	require.Nil(t, res.Parsed)
	require.Len(t, got, 1, "failed reads are recorded too")
	require.Equal(t, []string{"ERROR: irda-1ph read failed: " + meter.ErrTimeout.Error()}, c.Lines())
}

func TestReadMeterDecodeFailure(t *testing.T) {
	drv := &fakeDriver{raw: meter.RawRecord{Data: make([]byte, 10), Valid: true}}
	r := New(drv, nil, report.DefaultFormatter())

	res, err := r.ReadMeter(Request{Dialect: meter.IR3Phase, Parse: true})
	require.ErrorIs(t, err, decode.ErrShortRecord)
	require.Equal(t, 10, res.Raw.Len())
}

func TestTryReadMeterBusy(t *testing.T) {
	drv := &fakeDriver{
		raw:     meter.RawRecord{Data: []byte{1}, Valid: true},
		entered: make(chan struct{}, 1),
		block:   make(chan struct{}),
	}
	r := New(drv, nil, report.Formatter{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = r.ReadMeter(Request{Dialect: meter.IR3Phase})
	}()
	<-drv.entered

	_, err := r.TryReadMeter(Request{Dialect: meter.IR3Phase})
	require.ErrorIs(t, err, ErrBusy)

	close(drv.block)
	wg.Wait()

	_, err = r.TryReadMeter(Request{Dialect: meter.IR3Phase})
	require.NoError(t, err)
}

func TestExclusiveBlocksReads(t *testing.T) {
	r := New(&fakeDriver{}, nil, report.Formatter{})

	err := r.Exclusive(func() error {
		_, err := r.TryReadMeter(Request{Dialect: meter.IR3Phase})
		require.ErrorIs(t, err, ErrBusy)
		return errors.New("init failed")
	})
	require.EqualError(t, err, "init failed")

	_, err = r.TryReadMeter(Request{Dialect: meter.IR3Phase})
	require.NoError(t, err)
}

func TestFrameJSON(t *testing.T) {
	r := demoReader(t, nil)
	res, err := r.ReadMeter(Request{Dialect: meter.IRDA3PhaseHP14, Parse: true})
	require.NoError(t, err)

	b, err := json.Marshal(res.Frame())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	require.Equal(t, "irda-3ph-hp14", m["dialect"])
	require.Equal(t, true, m["ok"])
	require.Equal(t, float64(71), m["bytes"])
	require.Contains(t, m["values"], "manufacturer_id")
}
