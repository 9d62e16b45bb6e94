package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shaunagostinho/meterlink/internal/meter"
	"github.com/shaunagostinho/meterlink/internal/reader"
	"github.com/shaunagostinho/meterlink/internal/report"
	"github.com/shaunagostinho/meterlink/internal/server"
	"github.com/shaunagostinho/meterlink/web"
)

type serveFlags struct {
	listenAddr string
}

func newServeCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve readings over HTTP and WebSocket",
		Long: `Run the meter link service. Readings are requested with POST /api/read,
broadcast to every WebSocket client on /ws and, when enabled, stored in the
history database and the CSV log.

Serial heads are connected in the background with exponential backoff, so
the service starts even while a head is unplugged.`,
		Example: `  # Serve with the config file
  meterlink serve --config /etc/meterlink/config.yaml

  # Try it out without hardware
  meterlink serve --demo --listen :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), root, flags)
		},
	}
	cmd.Flags().StringVar(&flags.listenAddr, "listen", "", "Override listen address (e.g. :8080)")
	return cmd
}

func runServe(parent context.Context, root *rootFlags, flags *serveFlags) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	if flags.listenAddr != "" {
		cfg.Server.ListenAddr = flags.listenAddr
	}
	log := logrus.WithField("component", "main")
	log.Info("meterlink starting")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	irda, ir, err := buildHeads(cfg)
	if err != nil {
		return err
	}
	defer irda.close()
	defer ir.close()

	drv := meter.NewDriver(irda.ch, ir.ch, cfg.Timing.MeterTiming())
	rd := reader.New(drv, report.NewLogSink(), formatter(cfg))

	hist, closeRecorders, err := attachRecorders(rd, cfg)
	if err != nil {
		return err
	}
	defer closeRecorders()

	initIRDA := func() {
		if err := rd.Exclusive(drv.Init); err != nil {
			log.WithError(err).Warn("irda init failed")
		}
	}
	for _, h := range []head{irda, ir} {
		if h.conn == nil {
			continue
		}
		go func(h head) {
			if connectWithRetry(ctx, h.name, h.conn, 10) && h.name == "irda" {
				initIRDA()
			}
		}(h)
	}
	if irda.ch != nil && irda.conn == nil {
		initIRDA()
	}

	srv := server.New(cfg, rd, hist, web.FS)
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server exited")
		return err
	}
	log.Info("stopped")
	return nil
}
