// Package cmd defines the CLI for the sitesearch executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates the root command and attaches subcommands.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sitesearch",
		Short: "Crawls a bounded slice of the web and serves keyword search over it.",
		Long: `sitesearch crawls outward from a set of seed URLs with a pool of workers,
builds a keyword index of the pages it visits, and answers keyword and
phrase searches over HTTP once enough pages are indexed.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sitesearch: %v\n", err)
		os.Exit(1)
	}
}
