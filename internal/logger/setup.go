package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogConfig selects the process-wide log level and output format.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level" json:"level"`    // trace, debug, info, warn, error
	Format string `yaml:"format" toml:"format" json:"format"` // text or json
}

// Setup configures the standard logrus logger.
func Setup(cfg LogConfig, out io.Writer) error {
	if out == nil {
		out = os.Stderr
	}
	logrus.SetOutput(out)

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	logrus.SetLevel(lvl)

	switch strings.ToLower(cfg.Format) {
	case "", "text":
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("logger: unknown format %q", cfg.Format)
	}
	return nil
}
