package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaunagostinho/meterlink/internal/logger"
	"github.com/shaunagostinho/meterlink/internal/meter"
	"github.com/shaunagostinho/meterlink/internal/reader"
	"github.com/shaunagostinho/meterlink/internal/report"
	"github.com/shaunagostinho/meterlink/internal/server"
	"github.com/shaunagostinho/meterlink/internal/store"
	"github.com/shaunagostinho/meterlink/internal/transport"
)

// connectable is satisfied by serial heads.
type connectable interface {
	Connect() error
	Close() error
}

// head is one configured optical head. conn is nil for simulated or
// disabled heads, which need no connecting.
type head struct {
	name string
	ch   transport.Channel
	conn connectable
}

func (h head) close() {
	if h.ch != nil {
		h.ch.Close()
	}
}

// buildHeads creates both heads from config. Simulated heads share one
// simulator so a meter answers on either port.
func buildHeads(cfg *server.Config) (irda, ir head, err error) {
	var simIRDA, simIR *transport.Mock
	if cfg.IRDA.Type == "demo" || cfg.IR.Type == "demo" {
		simIRDA, simIR = meter.NewDemoChannels()
	}
	if irda, err = buildHead("irda", cfg.IRDA, simIRDA); err != nil {
		return head{}, head{}, err
	}
	if ir, err = buildHead("ir", cfg.IR, simIR); err != nil {
		return head{}, head{}, err
	}
	return irda, ir, nil
}

func buildHead(name string, hc server.HeadConfig, sim *transport.Mock) (head, error) {
	switch hc.Type {
	case "demo":
		return head{name: name, ch: sim}, nil
	case "serial":
		s := transport.NewSerial(hc.Serial(name))
		return head{name: name, ch: s, conn: s}, nil
	case "", "disabled":
		return head{name: name}, nil
	}
	return head{}, fmt.Errorf("%s: unknown head type %q", name, hc.Type)
}

func formatter(cfg *server.Config) report.Formatter {
	return report.Formatter{HexDump: cfg.Meter.HexDump, Stats: cfg.Meter.Stats}
}

// attachRecorders registers the history store and CSV log on rd when they
// are enabled. The returned func closes them.
func attachRecorders(rd *reader.Reader, cfg *server.Config) (*store.History, func(), error) {
	var (
		hist    *store.History
		closers []func()
	)
	if cfg.History.Enabled {
		h, err := store.Open(cfg.History.Path)
		if err != nil {
			return nil, nil, err
		}
		rd.AddRecorder(h)
		hist = h
		closers = append(closers, func() { h.Close() })
	}
	if cfg.CSV.Enabled {
		l := logger.New(cfg.CSV)
		rd.AddRecorder(l)
		closers = append(closers, l.Close)
	}
	return hist, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely. It reports whether the
// connection was made before ctx ended.
func connectWithRetry(ctx context.Context, name string, c connectable, maxAttempts int) bool {
	log := logrus.WithField("component", name)
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		err := c.Connect()
		if err == nil {
			log.Infof("connected (attempt %d)", attempt+1)
			return true
		}

		attempt++
		if attempt <= maxAttempts {
			log.WithError(err).Warnf("connect attempt %d/%d failed (retry in %v)", attempt, maxAttempts, delay)
		} else {
			log.WithError(err).Warnf("connect attempt %d failed (retry in %v)", attempt, delay)
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
