package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/shaunagostinho/meterlink/internal/logger"
	"github.com/shaunagostinho/meterlink/internal/meter"
	"github.com/shaunagostinho/meterlink/internal/transport"
)

// DefaultConfigPath is used when no -config flag is given.
const DefaultConfigPath = "/etc/meterlink/config.yaml"

// Config holds all meterlink configuration.
type Config struct {
	mu sync.RWMutex

	// Optical heads
	IRDA HeadConfig `yaml:"irda" toml:"irda" json:"irda"`
	IR   HeadConfig `yaml:"ir" toml:"ir" json:"ir"`

	// Read defaults
	Meter MeterConfig `yaml:"meter" toml:"meter" json:"meter"`

	Timing TimingConfig `yaml:"timing" toml:"timing" json:"timing"`

	Server ServerConfig `yaml:"server" toml:"server" json:"server"`

	// Process log level and format
	Logging logger.LogConfig `yaml:"logging" toml:"logging" json:"logging"`

	History HistoryConfig `yaml:"history" toml:"history" json:"history"`
	CSV     logger.Config `yaml:"csv" toml:"csv" json:"csv"`

	path string // file path for save/load
}

// HeadConfig describes one optical head.
type HeadConfig struct {
	Type       string `yaml:"type" toml:"type" json:"type"`                     // "serial", "demo" or "disabled"
	PortPath   string `yaml:"port_path" toml:"port_path" json:"portPath"`       // e.g. /dev/ttyIRDA
	EnableLine bool   `yaml:"enable_line" toml:"enable_line" json:"enableLine"` // transceiver enable wired to RTS
}

// Serial returns the transport settings for this head.
func (h HeadConfig) Serial(name string) transport.SerialConfig {
	return transport.SerialConfig{Name: name, PortPath: h.PortPath, BaudRate: meter.Baud9600, EnableLine: h.EnableLine}
}

type MeterConfig struct {
	Dialect     string `yaml:"dialect" toml:"dialect" json:"dialect"` // default dialect for reads without one
	Parse       bool   `yaml:"parse" toml:"parse" json:"parse"`
	HexDump     bool   `yaml:"hex_dump" toml:"hex_dump" json:"hexDump"`
	Stats       bool   `yaml:"stats" toml:"stats" json:"stats"`
	PollSeconds int    `yaml:"poll_seconds" toml:"poll_seconds" json:"pollSeconds"` // 0 reads on request only
}

// TimingConfig mirrors meter.Timing in milliseconds. Zero keeps the default.
type TimingConfig struct {
	ReadTimeoutMs  int `yaml:"read_timeout_ms" toml:"read_timeout_ms" json:"readTimeoutMs"`
	SettleMs       int `yaml:"settle_ms" toml:"settle_ms" json:"settleMs"`
	InterMessageMs int `yaml:"inter_message_ms" toml:"inter_message_ms" json:"interMessageMs"`
	IRSettleMs     int `yaml:"ir_settle_ms" toml:"ir_settle_ms" json:"irSettleMs"`
	IRByteGapMs    int `yaml:"ir_byte_gap_ms" toml:"ir_byte_gap_ms" json:"irByteGapMs"`
	BaudSettleMs   int `yaml:"baud_settle_ms" toml:"baud_settle_ms" json:"baudSettleMs"`
	InitHoldMs     int `yaml:"init_hold_ms" toml:"init_hold_ms" json:"initHoldMs"`
	InitSettleMs   int `yaml:"init_settle_ms" toml:"init_settle_ms" json:"initSettleMs"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" toml:"listen_addr" json:"listenAddr"`
}

type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled" toml:"enabled" json:"enabled"`
	Path          string `yaml:"path" toml:"path" json:"path"`
	RetentionDays int    `yaml:"retention_days" toml:"retention_days" json:"retentionDays"` // 0 keeps everything
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	t := meter.DefaultTiming()
	return &Config{
		IRDA: HeadConfig{
			Type:       "demo",
			PortPath:   "/dev/ttyIRDA",
			EnableLine: true,
		},
		IR: HeadConfig{
			Type:     "demo",
			PortPath: "/dev/ttyIR",
		},
		Meter: MeterConfig{
			Dialect: meter.IRDA3Phase.String(),
			Parse:   true,
			HexDump: true,
			Stats:   true,
		},
		Timing: TimingConfig{
			ReadTimeoutMs:  int(t.ReadTimeout / time.Millisecond),
			SettleMs:       int(t.Settle / time.Millisecond),
			InterMessageMs: int(t.InterMessage / time.Millisecond),
			IRSettleMs:     int(t.IRSettle / time.Millisecond),
			IRByteGapMs:    int(t.IRByteGap / time.Millisecond),
			BaudSettleMs:   int(t.BaudSettle / time.Millisecond),
			InitHoldMs:     int(t.InitHold / time.Millisecond),
			InitSettleMs:   int(t.InitSettle / time.Millisecond),
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
		Logging: logger.LogConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          "/var/lib/meterlink/history.db",
			RetentionDays: 365,
		},
		CSV: logger.Config{
			Enabled: false,
			Path:    "/var/log/meterlink",
		},
	}
}

// MeterTiming converts the timing section, keeping defaults for zero values.
func (t TimingConfig) MeterTiming() meter.Timing {
	out := meter.DefaultTiming()
	set := func(dst *time.Duration, ms int) {
		if ms > 0 {
			*dst = time.Duration(ms) * time.Millisecond
		}
	}
	set(&out.ReadTimeout, t.ReadTimeoutMs)
	set(&out.Settle, t.SettleMs)
	set(&out.InterMessage, t.InterMessageMs)
	set(&out.IRSettle, t.IRSettleMs)
	set(&out.IRByteGap, t.IRByteGapMs)
	set(&out.BaudSettle, t.BaudSettleMs)
	set(&out.InitHold, t.InitHoldMs)
	set(&out.InitSettle, t.InitSettleMs)
	return out
}

// DefaultDialect parses the configured default dialect.
func (c *Config) DefaultDialect() (meter.Dialect, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return meter.ParseDialect(c.Meter.Dialect)
}

// Path returns the file the config is loaded from and saved to.
func (c *Config) Path() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.path
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// LoadConfig reads config from a YAML or TOML file (by extension), then
// applies .env and environment variable overrides. Falls back to defaults if
// the file is not found.
func LoadConfig(path string) *Config {
	log := logrus.WithField("component", "config")
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Infof("no config at %s, using defaults", path)
	} else if err := cfg.decode(path, data); err != nil {
		log.WithError(err).Warnf("error parsing %s, using defaults", path)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Infof("loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

func (c *Config) decode(path string, data []byte) error {
	if isTOML(path) {
		return toml.Unmarshal(data, c)
	}
	return yaml.Unmarshal(data, c)
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	logrus.WithField("component", "config").Infof("loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.Trim(strings.TrimSpace(val), `"'`)
		// Real env takes precedence
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config values.
// Supported: METER_IRDA_PORT, METER_IR_PORT, METER_TIMEOUT_MS, METER_DIALECT,
// LISTEN_ADDR, LOG_LEVEL, LOG_FORMAT, HISTORY_PATH, CSV_ENABLED, CSV_PATH
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("METER_IRDA_PORT"); v != "" {
		c.IRDA.PortPath = v
		c.IRDA.Type = "serial"
	}
	if v := os.Getenv("METER_IR_PORT"); v != "" {
		c.IR.PortPath = v
		c.IR.Type = "serial"
	}
	if v := os.Getenv("METER_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Timing.ReadTimeoutMs = n
		}
	}
	if v := os.Getenv("METER_DIALECT"); v != "" {
		c.Meter.Dialect = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("CSV_ENABLED"); v != "" {
		c.CSV.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("CSV_PATH"); v != "" {
		c.CSV.Path = v
	}
}

// Save writes the config to its file, in TOML when the path ends in .toml.
func (c *Config) Save() error {
	c.mu.Lock()
	if c.path == "" {
		c.path = DefaultConfigPath
	}
	path := c.path
	c.mu.Unlock()

	c.mu.RLock()
	defer c.mu.RUnlock()

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("config: encode toml: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return fmt.Errorf("config: encode yaml: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	var next Config
	if err := json.Unmarshal(merged, &next); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	if _, err := meter.ParseDialect(next.Meter.Dialect); err != nil {
		return fmt.Errorf("meter.dialect: %w", err)
	}
	c.IRDA, c.IR, c.Meter, c.Timing = next.IRDA, next.IR, next.Meter, next.Timing
	c.Server, c.Logging, c.History, c.CSV = next.Server, next.Logging, next.History, next.CSV
	return nil
}

// deepMerge recursively merges src into dst. For nested maps, values are
// merged rather than replaced. For all other types, src overwrites dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
