// Command localhost is the outer process bootstrap for the webserv-style
// HTTP server implemented in internal/server: flag/config parsing, signal
// handling and logging setup that spec.md deliberately keeps out of the
// core event loop (spec.md §4's "outer process bootstrap" exclusion).
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// version is overwritten at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "localhost",
		Short: "A single-process, readiness-driven HTTP/1.1 origin server",
	}
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

func parseLogLevel(s string) logrus.Level {
	level, err := logrus.ParseLevel(s)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}
