package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaunagostinho/meterlink/internal/logger"
	"github.com/shaunagostinho/meterlink/internal/server"
)

var (
	version = "dev"
	commit  = "unknown"
)

type rootFlags struct {
	configPath string
	demo       bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "meterlink",
		Short: "Optical-port reader for electricity meters",
		Long: `meterlink talks to electricity meters through an IRDA or plain IR optical
head, runs the dialect's command exchange, decodes the binary or ASCII
response and reports it on the console, over HTTP and over WebSocket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", server.DefaultConfigPath, "Path to config file (.yaml or .toml)")
	root.PersistentFlags().BoolVar(&flags.demo, "demo", false, "Use the built-in meter simulator on both heads")

	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newReadCmd(flags))
	root.AddCommand(newProbeCmd(flags))
	root.AddCommand(newDialectsCmd())
	root.AddCommand(newDecodeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// loadConfig loads the config file, applies --demo and sets up logging.
func loadConfig(flags *rootFlags) (*server.Config, error) {
	cfg := server.LoadConfig(flags.configPath)
	if flags.demo {
		cfg.IRDA.Type = "demo"
		cfg.IR.Type = "demo"
	}
	if err := logger.Setup(cfg.Logging, nil); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "meterlink %s (%s)\n", version, commit)
		},
	}
}
