// Package cmd provides the CLI commands for Aegis.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aegisrun/aegis/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis - defense-in-depth LLM agent orchestration runtime",
	Long: `Aegis runs one or more LLM agents against a shared tool registry,
gating every tool call through a human verification gate, a bash
blocklist, an SSRF-hardened web_fetch, and path-confined file access,
with every decision recorded to a tamper-evident audit log.

Configuration:
  Config is loaded from aegis.yaml in the current directory,
  $HOME/.aegis/, or /etc/aegis/.

  Environment variables can override config values with the AEGIS_ prefix.
  Example: AEGIS_RUNTIME_OPERATOR=alice

Commands:
  run       Run an agent to completion on a task
  validate  Load and validate an agent config file without starting a session
  version   Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./aegis.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
