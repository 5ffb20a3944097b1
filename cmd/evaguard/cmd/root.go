// Package cmd provides the CLI commands for evaguard.
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/evaguard/evaguard/internal/config"
)

var cfgFile string
var stateFilePath string

var rootCmd = &cobra.Command{
	Use:   "evaguard",
	Short: "evaguard - message compliance engine",
	Long: `evaguard checks messages against an ordered set of regex rules and
reports whether each message is allowed, which rules it violated and
whether the violation is enforced.

Quick start:
  1. Run: evaguard check "how do I bake bread?"
  2. Run: evaguard serve

Configuration:
  Config is loaded from evaguard.yaml in the current directory,
  $HOME/.evaguard/, or /etc/evaguard/.

  Environment variables can override config values with the EVAGUARD_ prefix.
  Example: EVAGUARD_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the HTTP API
  stdio       Serve JSON-RPC over stdin/stdout
  check       Check a single message
  rules       Manage the persisted rule set
  stop        Stop the running server
  reset       Remove persisted state
  hash-key    Hash an API key for auth.api_keys
  version     Print version information`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// exitError carries a process exit code out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *exitError
		if errors.As(err, &exitErr) {
			if exitErr.msg != "" {
				fmt.Fprintln(os.Stderr, exitErr.msg)
			}
			os.Exit(exitErr.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./evaguard.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFilePath, "state", "", "path to the rule state file (default: ./evaguard-state.json)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
