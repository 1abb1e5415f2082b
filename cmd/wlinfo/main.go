package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wlinfo: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:   "wlinfo",
		Short: "Inspect the globals a Wayland compositor advertises",
		Long: `wlinfo connects to a compositor socket, performs the registry
handshake and reports the announced globals.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			flags.configureLogging()
		},
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "TOML config file")
	root.PersistentFlags().StringVar(&flags.socket, "socket", "", "compositor socket path (overrides config and environment)")
	root.PersistentFlags().StringSliceVar(&flags.protocols, "protocol", nil, "protocol XML document (repeatable)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "trace|wire|debug|info|warn|error")

	root.AddCommand(
		listCmd(&flags),
		watchCmd(&flags),
		configCmd(),
	)
	return root
}
