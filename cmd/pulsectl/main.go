package main

import (
	"fmt"
	"os"

	"github.com/danmuck/pulsewire/internal/logging"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulsectl",
		Short: "Control plane for coverage agents",
		Long: `pulsectl runs a coverage controller or connects to one as an agent.

The controller answers agent hellos with a runtime configuration and serves
health and metrics over HTTP. The handshake command opens a control
connection and prints the configuration it receives.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.ConfigureRuntime()
		},
	}

	rootCmd.AddCommand(
		controllerCmd(),
		handshakeCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pulsectl: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
