// Package cmd provides the CLI commands for Toolgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolgate/toolgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Toolgate - governance gateway for LLM tool calls",
	Long: `Toolgate is a governance gateway between an LLM tool-calling client
and backend business APIs.

Every tool call passes through exposure filtering, policy evaluation,
rate limiting, idempotency replay, and audit logging before it reaches
the backend.

Quick start:
  1. Create a config file: toolgate.yaml
  2. Run: toolgate start

Configuration:
  Config is loaded from toolgate.yaml in the current directory,
  $HOME/.toolgate/, or /etc/toolgate/.

  Environment variables can override config values with the TOOLGATE_ prefix.
  Example: TOOLGATE_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the gateway server
  hash-key    Generate an argon2id hash for an API key
  version     Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./toolgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
