package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"vantage-hq/warden/pkg/cli"
	"vantage-hq/warden/pkg/config"
	"vantage-hq/warden/pkg/decision"
	"vantage-hq/warden/pkg/engine"
	"vantage-hq/warden/pkg/replay"
	"vantage-hq/warden/pkg/store"
)

var replayCmd = &cobra.Command{
	Use:   "replay <record-id>",
	Short: "Replay a recorded decision",
	Long: `Re-evaluate a recorded decision against the exact policy versions it
was made with and verify the outcome reproduces byte for byte.

The command reads the policy and decision databases named in the
configuration; it does not need a running daemon.

Examples:
  warden replay 6e7f1a2b-... --config /etc/warden/warden.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	replayer, closeStores, err := openReplayer()
	if err != nil {
		return &cli.CommandError{Command: "replay", Err: err}
	}
	defer closeStores()

	result, err := replayer.Replay(cmd.Context(), args[0])
	if err != nil {
		return &cli.CommandError{Command: "replay", Err: err}
	}

	fmt.Fprintln(cmd.OutOrStdout(), "reproduced")
	return cli.PrintJSON(cmd.OutOrStdout(), result)
}

// openReplayer opens the configured stores read-only-in-spirit and
// wires a replayer over them. The returned func closes both stores.
func openReplayer() (*replay.Replayer, func(), error) {
	cfg, err := config.LoadWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Policies.Backend != "sqlite" || !cfg.Decisions.DecisionsEnabled() || cfg.Decisions.Backend != "sqlite" {
		return nil, nil, fmt.Errorf("replay requires sqlite policy and decision backends")
	}

	policies, err := store.NewSQLiteStore(cfg.Policies.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	decisions, err := decision.NewSQLiteStorage(&decision.SQLiteConfig{Path: cfg.Decisions.SQLitePath})
	if err != nil {
		policies.Close()
		return nil, nil, err
	}

	closeStores := func() {
		decisions.Close()
		policies.Close()
	}
	return replay.New(policies, decisions, engine.New(nil)), closeStores, nil
}
