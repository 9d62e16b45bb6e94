package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/meterlink/internal/decode"
	"github.com/shaunagostinho/meterlink/internal/reader"
)

// Logger records every meter reading to CSV files with automatic rotation.
type Logger struct {
	mu      sync.Mutex
	dir     string
	enabled bool
	log     *logrus.Entry

	file   *os.File
	writer *csv.Writer
	path   string
	rows   int
}

// Config holds logger configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path    string `yaml:"path" toml:"path" json:"path"`
}

const (
	maxRowsPerFile = 10_000
)

var fixedColumns = []string{
	"timestamp", "id", "dialect", "ok", "error", "bytes", "duration_ms", "fingerprint",
}

// csvHeader is the fixed columns followed by one column per decoded field.
var csvHeader = func() []string {
	h := append([]string(nil), fixedColumns...)
	for _, f := range decode.AllFields() {
		h = append(h, f.String())
	}
	return h
}()

// New creates a new Logger.
func New(cfg Config) *Logger {
	if cfg.Path == "" {
		cfg.Path = "/var/log/meterlink"
	}
	return &Logger{
		dir:     cfg.Path,
		enabled: cfg.Enabled,
		log:     logrus.WithField("component", "csv"),
	}
}

// SetEnabled allows toggling logging at runtime.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on && l.file != nil {
		l.closeFile()
	}
}

// IsEnabled returns whether logging is active.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Path returns the file currently written to, empty if none is open.
func (l *Logger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// Record writes one reading. Failed reads are logged too, with the error.
func (l *Logger) Record(res *reader.Result) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if l.writer == nil || l.rows >= maxRowsPerFile {
		if err := l.rotateFile(res.StartedAt); err != nil {
			l.log.WithError(err).Warn("rotate failed")
			return
		}
	}

	if err := l.writer.Write(buildRow(res)); err != nil {
		l.log.WithError(err).Warn("write failed")
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	filename := fmt.Sprintf("readings_%s.csv", now.Format("2006-01-02_150405.000"))
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.path = path
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	l.log.Infof("opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	l.path = ""
}

// buildRow leaves absent fields blank so a measured zero stays visible.
func buildRow(res *reader.Result) []string {
	row := make([]string, len(csvHeader))

	row[0] = res.StartedAt.Format(time.RFC3339Nano)
	row[1] = res.ID
	row[2] = res.Dialect.String()
	row[3] = boolStr(res.OK())
	if res.Err != nil {
		row[4] = res.Err.Error()
	}
	row[5] = strconv.Itoa(res.Raw.Len())
	row[6] = strconv.FormatInt(res.Duration.Milliseconds(), 10)
	if res.Raw.Len() > 0 {
		row[7] = res.Raw.Fingerprint()
	}

	if p := res.Parsed; p != nil {
		for i, f := range decode.AllFields() {
			if v, ok := p.Value(f); ok {
				row[len(fixedColumns)+i] = formatValue(v)
			}
		}
	}
	return row
}

func formatValue(v any) string {
	switch x := v.(type) {
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case string:
		return x
	}
	return fmt.Sprint(v)
}

func boolStr(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
