package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/meterlink/internal/meter"
)

func newProbeCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:       "probe [irda|ir]...",
		Short:     "Check that commands can be written on the optical heads",
		ValidArgs: []string{"irda", "ir"},
		Args:      cobra.OnlyValidArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"irda", "ir"}
			}

			irda, ir, err := buildHeads(cfg)
			if err != nil {
				return err
			}
			defer irda.close()
			defer ir.close()
			drv := meter.NewDriver(irda.ch, ir.ch, cfg.Timing.MeterTiming())

			failed := 0
			for _, name := range args {
				h, t := irda, meter.TransportIRDA
				if name == "ir" {
					h, t = ir, meter.TransportIR
				}
				err := probeHead(drv, h, t)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%-5s FAIL  %v\n", name, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-5s OK\n", name)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d heads failed", failed, len(args))
			}
			return nil
		},
	}
}

func probeHead(drv *meter.Driver, h head, t meter.Transport) error {
	if h.conn != nil {
		if err := h.conn.Connect(); err != nil {
			return err
		}
	}
	return drv.Probe(t)
}
