package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "commlinkctl",
		Short: "Serve and exercise framed light commands over TCP",
		Long: `commlinkctl runs a TCP light command service and a client for it.

The service frames every command as magic bytes, a function id and a fixed
parameter block, acknowledges each command by echoing it, and exposes its
transport state on an optional HTTP status address.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		sendCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "commlinkctl: %v\n", err)
		os.Exit(1)
	}
}
