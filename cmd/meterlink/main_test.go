package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shaunagostinho/meterlink/internal/decode"
	"github.com/shaunagostinho/meterlink/internal/meter"
	"github.com/shaunagostinho/meterlink/internal/reader"
	"github.com/shaunagostinho/meterlink/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// fastConfig writes a config using the simulator on both heads with every
// delay cut to a millisecond.
func fastConfig(t *testing.T) (path, historyPath string) {
	t.Helper()
	dir := t.TempDir()
	historyPath = filepath.Join(dir, "history.db")
	body := fmt.Sprintf(`
irda: {type: demo}
ir: {type: demo}
meter: {dialect: ir-3ph, parse: true, hex_dump: true, stats: true}
timing:
  read_timeout_ms: 50
  settle_ms: 1
  inter_message_ms: 1
  ir_settle_ms: 1
  ir_byte_gap_ms: 1
  baud_settle_ms: 1
  init_hold_ms: 1
  init_settle_ms: 1
logging: {level: error}
history: {enabled: true, path: %q}
csv: {enabled: false}
`, historyPath)
	path = filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path, historyPath
}

func TestDialectsCommand(t *testing.T) {
	out, err := execute(t, "dialects")
	require.NoError(t, err)
	for _, d := range meter.Dialects() {
		require.Contains(t, out, d.String())
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "meterlink dev"))
}

func TestReadCommandDemo(t *testing.T) {
	cfg, historyPath := fastConfig(t)

	out, err := execute(t, "--config", cfg, "read")
	require.NoError(t, err)
	require.Contains(t, out, "=== METER INFORMATION ===")
	require.Contains(t, out, "DATA RECEIVED: ir-3ph.")

	h, err := store.Open(historyPath)
	require.NoError(t, err)
	defer h.Close()
	n, err := h.Count()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReadCommandJSON(t *testing.T) {
	cfg, _ := fastConfig(t)

	out, err := execute(t, "--config", cfg, "read", "--dialect", "irda-3ph", "--json")
	require.NoError(t, err)

	var f reader.Frame
	require.NoError(t, json.Unmarshal([]byte(out), &f))
	require.True(t, f.OK)
	require.Equal(t, meter.IRDA3Phase, f.Dialect)
	require.Contains(t, f.Values, "voltage_r")
}

func TestReadCommandRaw(t *testing.T) {
	cfg, _ := fastConfig(t)

	out, err := execute(t, "--config", cfg, "read", "--raw", "-d", "irda-1ph")
	require.NoError(t, err)
	require.Contains(t, out, "=== RAW DATA (HEX) ===")
	require.NotContains(t, out, "=== METER INFORMATION ===")
}

func TestReadCommandDisabledHead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ir: {type: disabled}\nlogging: {level: error}\nhistory: {enabled: false}\n"), 0644))

	_, err := execute(t, "--config", path, "read", "--dialect", "ir-3ph")
	require.ErrorContains(t, err, "ir head is disabled")
}

func TestReadCommandUnknownDialect(t *testing.T) {
	cfg, _ := fastConfig(t)
	_, err := execute(t, "--config", cfg, "read", "--dialect", "gas")
	require.ErrorIs(t, err, meter.ErrUnsupportedDialect)
}

func captureIR3(t *testing.T) []byte {
	t.Helper()
	irda, ir := meter.NewDemoChannels()
	drv := meter.NewDriver(irda, ir, meter.Timing{ReadTimeout: 20 * time.Millisecond})
	raw, err := drv.Read(meter.IR3Phase)
	require.NoError(t, err)
	return raw.Data
}

func TestDecodeCommand(t *testing.T) {
	data := captureIR3(t)
	spaced := strings.Join(strings.SplitAfter(hex.EncodeToString(data), "00"), " ")

	out, err := execute(t, "decode", "--dialect", "ir-3ph", spaced)
	require.NoError(t, err)
	require.Contains(t, out, "=== ENERGY DATA ===")
	require.Contains(t, out, "=== DATA STATISTICS ===")
}

func TestDecodeCommandFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capture.hex")
	require.NoError(t, os.WriteFile(path, []byte(hex.EncodeToString(captureIR3(t))+"\n"), 0644))

	out, err := execute(t, "decode", "-d", "ir-3ph", "--file", path, "--json")
	require.NoError(t, err)

	var p decode.ParsedRecord
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	require.True(t, p.Valid)
	require.True(t, p.Has(decode.FieldKWh))
}

func TestDecodeCommandErrors(t *testing.T) {
	_, err := execute(t, "decode", "--dialect", "ir-3ph", "0102")
	require.ErrorIs(t, err, decode.ErrShortRecord)

	_, err = execute(t, "decode", "--dialect", "ir-3ph", "zz")
	require.ErrorContains(t, err, "bad hex")

	_, err = execute(t, "decode", "0102")
	require.Error(t, err)
}

func TestParseHex(t *testing.T) {
	b, err := parseHex("0x0A:0b 0C\r\n")
	require.NoError(t, err)
	require.Equal(t, []byte{0x0a, 0x0b, 0x0c}, b)
}

func TestProbeCommandDemo(t *testing.T) {
	cfg, _ := fastConfig(t)
	out, err := execute(t, "--config", cfg, "probe")
	require.NoError(t, err)
	require.Contains(t, out, "irda  OK")
	require.Contains(t, out, "ir    OK")

	_, err = execute(t, "--config", cfg, "probe", "usb")
	require.Error(t, err)
}

type flakyConn struct {
	fails int
	calls int
}

func (c *flakyConn) Connect() error {
	c.calls++
	if c.calls <= c.fails {
		return errors.New("no such port")
	}
	return nil
}

func (c *flakyConn) Close() error { return nil }

func TestConnectWithRetry(t *testing.T) {
	ok := connectWithRetry(context.Background(), "irda", &flakyConn{}, 3)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := &flakyConn{fails: 100}
	require.False(t, connectWithRetry(ctx, "irda", c, 3))
	require.Zero(t, c.calls)
}

func TestBuildHeadUnknownType(t *testing.T) {
	bad := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("irda: {type: bluetooth}\nlogging: {level: error}\n"), 0644))
	_, err := execute(t, "--config", bad, "probe", "irda")
	require.ErrorContains(t, err, `unknown head type "bluetooth"`)
}
