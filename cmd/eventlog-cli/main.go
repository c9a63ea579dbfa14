// Command eventlog-cli exercises the public client facade: append,
// read, subscribe, and projection administration.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "eventlog-cli",
		Short:         "Command-line client for the event log",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "eventlogclient.yaml", "path to config file")

	rootCmd.AddCommand(
		appendCmd(),
		readCmd(),
		subscribeCmd(),
		projectionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
