package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rtctl",
		Short: "Operator CLI for the bazaar realtime broker",
		Long: `rtctl mints development tokens, pushes broadcasts through the gateway and
reads broker statistics.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("server", envOr("RTCTL_SERVER", "http://localhost:8080"), "Broker base URL")

	rootCmd.AddCommand(
		newTokenCmd(),
		newBroadcastCmd(),
		newStatsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
