package meter

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/meterlink/internal/transport"
)

var fastTiming = Timing{ReadTimeout: 20 * time.Millisecond}

// scripted answers each frame with the next reply in order. A nil reply
// means the meter stays silent for that frame.
func scripted(replies ...[]byte) transport.Responder {
	i := 0
	return func(frame []byte) []byte {
		if i >= len(replies) {
			return nil
		}
		r := replies[i]
		i++
		return r
	}
}

func filled(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestThreePhaseSplicesHandshake(t *testing.T) {
	hs := make([]byte, 30)
	copy(hs[22:25], []byte{0x01, 0x02, 0x03})
	data := make([]byte, 79)
	data[27], data[28] = 0x08, 0x98

	irda := transport.NewMock("irda", scripted(hs, data))
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(IRDA3Phase)
	require.NoError(t, err)
	require.True(t, rec.Valid)
	require.Equal(t, data, rec.Data)

	frames := irda.Frames()
	require.Len(t, frames, 2)
	require.Equal(t, cmd3phHandshake, frames[0])
	require.Equal(t, []byte{0x01, 0x02, 0x03}, frames[1][2:5])
	require.Equal(t, cmd3phData[5:], frames[1][5:], "only the window may change")
	require.Equal(t, []int{Baud9600}, irda.Bauds())
}

func TestHPSplicesEightBytes(t *testing.T) {
	hs := filled(45)
	irda := transport.NewMock("irda", scripted(hs, make([]byte, 71)))
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(IRDA3PhaseHP13)
	require.NoError(t, err)
	require.Len(t, rec.Data, 71)

	frames := irda.Frames()
	require.Len(t, frames, 2)
	require.Equal(t, hs[32:40], frames[1][2:10])
	require.Equal(t, byte(0x10), frames[1][10])
}

func TestHandshakeTimeoutAborts(t *testing.T) {
	irda := transport.NewMock("irda", scripted(make([]byte, 12)))
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(IRDA3Phase)
	require.ErrorIs(t, err, ErrTimeout)
	require.False(t, rec.Valid)
	require.Empty(t, rec.Data)
	require.Len(t, irda.Frames(), 1, "data command must not be sent after a failed handshake")
}

func TestDataTimeoutInvalidatesRecord(t *testing.T) {
	irda := transport.NewMock("irda", scripted(make([]byte, 30), make([]byte, 40)))
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(IRDA3Phase)
	require.ErrorIs(t, err, ErrTimeout)
	require.False(t, rec.Valid)
	require.Nil(t, rec.Data)
}

func TestSinglePhaseAllFragmentsFail(t *testing.T) {
	irda := transport.NewMock("irda", nil)
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(IRDA1Phase)
	require.ErrorIs(t, err, ErrTimeout)
	require.False(t, rec.Valid)
	require.Empty(t, rec.Data)
	require.Len(t, irda.Frames(), 5, "every command is attempted once")
	require.Equal(t, []bool{false, true}, irda.LineTrail())
}

func TestSinglePhaseKeepsReceivedFragments(t *testing.T) {
	a := bytes.Repeat([]byte{'a'}, 30)
	c := bytes.Repeat([]byte{'c'}, 30)
	irda := transport.NewMock("irda", scripted(a, nil, c, nil, nil))
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(IRDA1Phase)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, a...), c...), rec.Data)
	require.Equal(t, []byte(":00413BC4\r\n"), irda.Frames()[0])
}

func TestSolarExportFailureKeepsBase(t *testing.T) {
	base := filled(79)
	irda := transport.NewMock("irda", scripted(make([]byte, 30), base, nil))
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(IRDA3PhaseSolar)
	require.NoError(t, err)
	require.True(t, rec.Valid)
	require.Equal(t, base, rec.Data)
	require.False(t, bytes.Contains(rec.Data, []byte(ExportDelimiter)))
	_, ok := rec.Export()
	require.False(t, ok)
	require.Len(t, irda.Frames(), 3)
}

func TestSolarAppendsExport(t *testing.T) {
	hs := make([]byte, 30)
	copy(hs[22:25], []byte{0xAA, 0xBB, 0xCC})
	base := filled(79)
	exp := bytes.Repeat([]byte{0x42}, 79)
	irda := transport.NewMock("irda", scripted(hs, base, exp))
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(IRDA3PhaseSolar)
	require.NoError(t, err)
	require.Equal(t, base, rec.Base())
	got, ok := rec.Export()
	require.True(t, ok)
	require.Equal(t, exp, got)

	frames := irda.Frames()
	require.Equal(t, byte(0x01), frames[2][6], "export flag")
	require.Equal(t, []byte{0xAA, 0xBB, 0xCC}, frames[2][2:5])
}

func TestIRDAEnableLineRestoredOnFailure(t *testing.T) {
	irda := transport.NewMock("irda", nil)
	d := NewDriver(irda, nil, fastTiming)

	_, err := d.Read(IRDA3PhaseHP14)
	require.Error(t, err)
	require.Equal(t, []bool{false, true}, irda.LineTrail())
	require.True(t, irda.Enabled())
}

func TestIRSinglePhaseUsesIRHead(t *testing.T) {
	irda := transport.NewMock("irda", nil)
	ir := transport.NewMock("ir", scripted(filled(30), filled(30), filled(30), filled(30), filled(30)))
	d := NewDriver(irda, ir, fastTiming)

	rec, err := d.Read(IR1Phase)
	require.NoError(t, err)
	require.Len(t, rec.Data, 150)
	require.Empty(t, irda.Frames())
	require.Len(t, ir.Frames(), 5)
	require.Empty(t, ir.LineTrail(), "plain IR has no enable line")
	require.Equal(t, []int{Baud2400}, ir.Bauds())
}

func TestIRThreePhaseDirect(t *testing.T) {
	ir := transport.NewMock("ir", scripted(filled(50)))
	d := NewDriver(nil, ir, fastTiming)

	rec, err := d.Read(IR3Phase)
	require.NoError(t, err)
	require.Len(t, rec.Data, 50)
	require.Equal(t, [][]byte{cmdIR3ph}, ir.Frames())
}

func TestIRThreePhaseShortResponse(t *testing.T) {
	ir := transport.NewMock("ir", scripted(filled(49)))
	d := NewDriver(nil, ir, fastTiming)

	rec, err := d.Read(IR3Phase)
	require.ErrorIs(t, err, ErrTimeout)
	require.False(t, rec.Valid)
}

func TestReadDrainsStaleBytes(t *testing.T) {
	ir := transport.NewMock("ir", scripted(filled(50)))
	ir.Inject([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	irda := transport.NewMock("irda", nil)
	irda.Inject([]byte{0x01})
	d := NewDriver(irda, ir, fastTiming)

	rec, err := d.Read(IR3Phase)
	require.NoError(t, err)
	require.Equal(t, filled(50), rec.Data)
	require.Equal(t, 0, irda.Available())
}

func TestReadLeavesTrailingBytesBuffered(t *testing.T) {
	ir := transport.NewMock("ir", scripted(filled(55)))
	d := NewDriver(nil, ir, fastTiming)

	rec, err := d.Read(IR3Phase)
	require.NoError(t, err)
	require.Len(t, rec.Data, 50)
	require.Equal(t, 5, ir.Available())
}

func TestUnsupportedDialect(t *testing.T) {
	irda := transport.NewMock("irda", nil)
	d := NewDriver(irda, nil, fastTiming)

	rec, err := d.Read(Dialect(99))
	require.ErrorIs(t, err, ErrUnsupportedDialect)
	require.False(t, rec.Valid)
	require.Empty(t, irda.Frames())
	require.Empty(t, irda.Bauds(), "no transport activity for unknown dialects")
}

func TestMissingHead(t *testing.T) {
	d := NewDriver(transport.NewMock("irda", nil), nil, fastTiming)
	_, err := d.Read(IR3Phase)
	require.ErrorIs(t, err, transport.ErrNotConnected)
}

func TestInitSequence(t *testing.T) {
	irda := transport.NewMock("irda", nil)
	d := NewDriver(irda, nil, fastTiming)

	require.NoError(t, d.Init())
	require.Equal(t, []int{Baud2400, Baud9600}, irda.Bauds())
	require.Equal(t, []bool{true}, irda.LineTrail())
}

func TestProbe(t *testing.T) {
	irda := transport.NewMock("irda", nil)
	ir := transport.NewMock("ir", nil)
	d := NewDriver(irda, ir, fastTiming)

	require.NoError(t, d.Probe(TransportIRDA))
	require.Equal(t, [][]byte{[]byte(":00413BC4\r\n")}, irda.Frames())
	require.Equal(t, []bool{false, true}, irda.LineTrail())

	require.NoError(t, d.Probe(TransportIR))
	require.Equal(t, [][]byte{cmdIR3ph}, ir.Frames())
}

func TestSimulatorAnswersEveryDialect(t *testing.T) {
	irda, ir := NewDemoChannels()
	d := NewDriver(irda, ir, fastTiming)

	for _, dialect := range Dialects() {
		t.Run(dialect.String(), func(t *testing.T) {
			rec, err := d.Read(dialect)
			require.NoError(t, err)
			require.True(t, rec.Valid)
			e, err := Lookup(dialect)
			require.NoError(t, err)
			require.GreaterOrEqual(t, rec.Len(), e.Mins[len(e.Mins)-1])
		})
	}
}

func TestSimulatorSolarCarriesExport(t *testing.T) {
	irda, ir := NewDemoChannels()
	d := NewDriver(irda, ir, fastTiming)

	rec, err := d.Read(IRDA3PhaseSolar)
	require.NoError(t, err)
	exp, ok := rec.Export()
	require.True(t, ok)
	require.Len(t, exp, 79)
	require.Len(t, rec.Base(), 79)
}
