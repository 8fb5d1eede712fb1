package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "warden - runtime control policy governance engine",
	Long: `Warden evaluates proposed runtime changes against declarative control
policies and keeps an immutable audit trail of every decision.

It provides:
  - Deterministic policy evaluation (guards, limits, gates, mutations)
  - Versioned policy store with compare-and-swap activation
  - Byte-exact replay and what-if simulation of past decisions
  - Two-person approval workflow for high-authority changes
  - Canary rollouts with automatic rollback on SLO breach`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
}
